package tsdb

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Time bounds accept several shapes: an RFC 3339 timestamp, a Unix
// timestamp in milliseconds, a relative expression ("now" or
// "now-<N><unit>" with unit in s/m/h/d), or the sentinel "0" meaning
// the earliest available time.

var relativeTimeRE = regexp.MustCompile(`^now(?:-([0-9]+)([smhd]))?$`)

// ParseTime resolves one time expression against the given reference
// instant.
func ParseTime(expr string, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	if expr == "0" {
		return time.Unix(0, 0).UTC(), nil
	}

	if m := relativeTimeRE.FindStringSubmatch(expr); m != nil {
		if m[1] == "" {
			return now, nil
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("bad relative time %q: %w", expr, err)
		}
		var unit time.Duration
		switch m[2] {
		case "s":
			unit = time.Second
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		}
		return now.Add(-time.Duration(n) * unit), nil
	}

	if isAllDigits(expr) {
		ms, err := strconv.ParseInt(expr, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad unix-millisecond timestamp %q: %w", expr, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	}

	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unrecognized time expression %q", expr)
}

// ParseTimeRange resolves a start/end pair and rejects inverted
// ranges. Both expressions are resolved against the same reference
// instant so "now"-relative pairs stay consistent.
func ParseTimeRange(start, end string, now time.Time) (time.Time, time.Time, error) {
	s, err := ParseTime(start, now)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad start time: %w", err)
	}
	e, err := ParseTime(end, now)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad end time: %w", err)
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("end time %s precedes start time %s", e, s)
	}
	return s, e, nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
