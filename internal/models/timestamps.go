package models

import "time"

// UnixMilli and FromUnixMilli convert between the database representation
// of timestamps and time.Time.
func UnixMilli(t time.Time) int64 {
	return t.UnixMilli()
}

func FromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
