// Package timespec parses the --since and --until flags of board inspection.
package timespec

import (
	"fmt"
	"time"
)

// Range is a window of unix-millisecond timestamps. A zero bound is open.
type Range struct {
	SinceMs int64
	UntilMs int64
}

// Contains reports whether ms falls within the range. Since is inclusive,
// until exclusive.
func (r Range) Contains(ms int64) bool {
	if r.SinceMs > 0 && ms < r.SinceMs {
		return false
	}
	if r.UntilMs > 0 && ms >= r.UntilMs {
		return false
	}
	return true
}

// Open reports whether neither bound is set.
func (r Range) Open() bool {
	return r.SinceMs == 0 && r.UntilMs == 0
}

// Parse converts a time specification into unix milliseconds relative to
// time.Now. See ParseAt.
func Parse(spec string) (int64, error) {
	return ParseAt(spec, time.Now())
}

// ParseAt converts a time specification into unix milliseconds.
//   - Go durations ("90s", "1h30m") count back from now
//   - RFC3339 timestamps ("2026-10-14T09:00:00Z") are absolute
//   - "now" is now
func ParseAt(spec string, now time.Time) (int64, error) {
	switch spec {
	case "":
		return 0, fmt.Errorf("empty time specification")
	case "now":
		return now.UnixMilli(), nil
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative duration: %s", spec)
		}
		return now.Add(-d).UnixMilli(), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2026-10-14T09:00:00Z')", spec)
}

// ParseRange parses the --since and --until flags. Empty flags leave that
// bound open; since must precede until when both are given.
func ParseRange(since, until string) (Range, error) {
	return ParseRangeAt(since, until, time.Now())
}

// ParseRangeAt is ParseRange with an explicit now.
func ParseRangeAt(since, until string, now time.Time) (Range, error) {
	var r Range
	var err error

	if since != "" {
		if r.SinceMs, err = ParseAt(since, now); err != nil {
			return Range{}, fmt.Errorf("invalid --since: %w", err)
		}
	}

	if until != "" {
		if r.UntilMs, err = ParseAt(until, now); err != nil {
			return Range{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if r.SinceMs > 0 && r.UntilMs > 0 && r.SinceMs >= r.UntilMs {
		return Range{}, fmt.Errorf("--since must be before --until")
	}

	return r, nil
}
