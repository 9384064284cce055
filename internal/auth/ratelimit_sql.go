package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/MediSynth-io/showcase/internal/database"
	"github.com/MediSynth-io/showcase/internal/models"
)

// SQLLimiter keeps the fixed-window counters in the login_attempts table so
// several server instances share one count per identity. Each check is one
// upsert statement, which the database serialises per row.
type SQLLimiter struct {
	db     *database.DB
	window time.Duration
	max    int
	now    func() time.Time
}

func NewSQLLimiter(db *database.DB, window time.Duration, maxAttempts int) *SQLLimiter {
	return &SQLLimiter{db: db, window: window, max: maxAttempts, now: time.Now}
}

const upsertAttemptSQL = `
INSERT INTO login_attempts (client_key, window_start, attempt_count) VALUES (?, ?, 1)
ON CONFLICT (client_key) DO UPDATE SET
	attempt_count = CASE WHEN login_attempts.window_start <= ? THEN 1 ELSE login_attempts.attempt_count + 1 END,
	window_start = CASE WHEN login_attempts.window_start <= ? THEN excluded.window_start ELSE login_attempts.window_start END
RETURNING window_start, attempt_count`

func (l *SQLLimiter) Check(ctx context.Context, identity string) (Decision, error) {
	now := l.now()
	staleBefore := now.Add(-l.window).UnixMilli()

	var (
		start int64
		count int
	)
	err := l.db.QueryRowContext(ctx, l.db.Rebind(upsertAttemptSQL),
		identity, now.UnixMilli(), staleBefore, staleBefore,
	).Scan(&start, &count)
	if err != nil {
		return Decision{}, fmt.Errorf("record login attempt: %w", err)
	}

	return Decision{
		Allowed: count <= l.max,
		Count:   count,
		ResetAt: models.FromUnixMilli(start).Add(l.window),
	}, nil
}

func (l *SQLLimiter) Sweep(ctx context.Context) (int64, error) {
	staleBefore := l.now().Add(-l.window).UnixMilli()
	res, err := l.db.ExecContext(ctx, l.db.Rebind("DELETE FROM login_attempts WHERE window_start <= ?"), staleBefore)
	if err != nil {
		return 0, fmt.Errorf("sweep login attempts: %w", err)
	}
	return res.RowsAffected()
}
