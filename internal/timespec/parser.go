// Package timespec parses the --since/--until values accepted by the record
// commands into Unix millisecond bounds.
package timespec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Parse parses spec relative to the current time. See ParseAt.
func Parse(spec string) (int64, error) {
	return ParseAt(spec, time.Now())
}

// ParseAt parses a time specification into a Unix timestamp in milliseconds.
// Accepted forms:
//   - RFC3339 timestamps: "2025-10-29T13:00:00Z"
//   - dates, midnight UTC: "2025-10-29"
//   - Go durations, meaning that long before now: "1h", "1h30m"
//   - day and week counts before now: "3d", "2w"
func ParseAt(spec string, now time.Time) (int64, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}
	if t, err := time.Parse(dateLayout, spec); err == nil {
		return t.UnixMilli(), nil
	}

	if d, ok := parseDays(spec); ok {
		return now.Add(-d).UnixMilli(), nil
	}
	if d, err := time.ParseDuration(spec); err == nil && d >= 0 {
		return now.Add(-d).UnixMilli(), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use a duration like '1h30m' or '3d', a date like '2025-10-29' or RFC3339)", spec)
}

// parseDays handles the "<n>d" and "<n>w" forms that time.ParseDuration
// does not know.
func parseDays(spec string) (time.Duration, bool) {
	unit := spec[len(spec)-1]
	if unit != 'd' && unit != 'w' {
		return 0, false
	}
	n, err := strconv.Atoi(spec[:len(spec)-1])
	if err != nil || n < 0 {
		return 0, false
	}
	days := n
	if unit == 'w' {
		days *= 7
	}
	return time.Duration(days) * 24 * time.Hour, true
}

// ParseRange parses --since and --until. A zero bound means "open" on that
// side. Both set requires since < until.
func ParseRange(since, until string) (sinceMs, untilMs int64, err error) {
	now := time.Now()

	if since != "" {
		if sinceMs, err = ParseAt(since, now); err != nil {
			return 0, 0, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if untilMs, err = ParseAt(until, now); err != nil {
			return 0, 0, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if sinceMs > 0 && untilMs > 0 && sinceMs >= untilMs {
		return 0, 0, fmt.Errorf("--since must be before --until")
	}
	return sinceMs, untilMs, nil
}
