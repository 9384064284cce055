package auth

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
)

// IdentityResolver derives the rate limiting identity of a request. The
// X-Forwarded-For header is only consulted when the direct peer is one of
// the trusted proxies; otherwise it is attacker controlled and ignored.
type IdentityResolver struct {
	trusted []netip.Prefix
}

// NewIdentityResolver accepts CIDRs or bare addresses.
func NewIdentityResolver(trustedProxies []string) (*IdentityResolver, error) {
	ir := &IdentityResolver{}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			ir.trusted = append(ir.trusted, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		ir.trusted = append(ir.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return ir, nil
}

func (ir *IdentityResolver) isTrusted(addr netip.Addr) bool {
	for _, p := range ir.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolve returns the client address for r. Behind trusted proxies it walks
// X-Forwarded-For from the right and returns the first hop that is not a
// trusted proxy, which is the address our own proxy saw.
func (ir *IdentityResolver) Resolve(r *http.Request) string {
	peer, ok := parseRemoteAddr(r.RemoteAddr)
	if !ok {
		return r.RemoteAddr
	}
	if len(ir.trusted) == 0 || !ir.isTrusted(peer) {
		return peer.String()
	}

	var hops []string
	for _, h := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(h, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		addr = addr.Unmap()
		if !ir.isTrusted(addr) {
			return addr.String()
		}
	}
	return peer.String()
}

func parseRemoteAddr(remote string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap(), true
	}
	if addr, err := netip.ParseAddr(remote); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}
