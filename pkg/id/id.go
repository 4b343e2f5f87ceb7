// Package id provides opaque entity identifiers and monotonic timestamps.
//
// Identifiers are UUIDv4 strings. Callers treat them as opaque; nothing in the
// system parses an id beyond equality comparison.
package id

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// New returns a fresh opaque identifier.
func New() string {
	return uuid.New().String()
}

// Valid reports whether s parses as an identifier.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

var (
	clockMu  sync.Mutex
	lastUnix int64
)

// NowMillis returns the current time in milliseconds since the epoch.
// Successive calls never go backwards, even across wall-clock adjustments:
// when the clock reads at or before the last returned value, the result is
// last+1.
func NowMillis() int64 {
	clockMu.Lock()
	defer clockMu.Unlock()
	now := time.Now().UnixMilli()
	if now <= lastUnix {
		now = lastUnix + 1
	}
	lastUnix = now
	return now
}

// Millis converts a time.Time to milliseconds since the epoch.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts milliseconds since the epoch to a UTC time.Time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
