package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// AbsDuration returns the absolute distance between two timestamps.
func AbsDuration(a, b time.Time) time.Duration {
	if b.Before(a) {
		a, b = b, a
	}
	return b.Sub(a)
}

// ClockTime renders t as "HH:MM UTC".
func ClockTime(t time.Time) string {
	return t.UTC().Format("15:04") + " UTC"
}
