package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultInterval is the poll interval used when CHECK_INTERVAL_MS is
// absent, non-numeric or not positive.
const DefaultInterval = 60 * time.Second

// Duration parses a Go duration setting such as "30s". Empty or zero
// yields def; negative or malformed values are an error naming key.
func Duration(key, raw string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", key, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}

// IntervalFromMillis parses CHECK_INTERVAL_MS. ok is false when the value
// is not a positive integer, in which case DefaultInterval is returned.
func IntervalFromMillis(raw string) (d time.Duration, ok bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return DefaultInterval, false
	}
	return time.Duration(n) * time.Millisecond, true
}

// Location resolves watch.timezone; empty means the host's local zone.
func Location(name string) (*time.Location, error) {
	v := strings.TrimSpace(name)
	if v == "" {
		return time.Local, nil
	}
	return time.LoadLocation(v)
}
