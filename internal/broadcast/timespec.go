// Package broadcast schedules admin broadcasts and delivers them to a resolved
// audience at the requested time.
package broadcast

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	relativePattern = regexp.MustCompile(`^\+?(\d+)([smh])$`)
	unitPattern     = regexp.MustCompile(`^\+?\d+[A-Za-z]+$`)
)

var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime converts a relative token ("10s", "+5m", "2h") or an absolute
// date-time into an instant strictly after now. Absolute values without a zone
// are read as UTC.
func ParseTime(raw string, now time.Time) (time.Time, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return time.Time{}, fmt.Errorf("%w: empty time", ErrInvalidTimeFormat)
	}

	at, err := parseInstant(token, now)
	if err != nil {
		return time.Time{}, err
	}

	if !at.After(now) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrTimeNotInFuture, at.UTC().Format(time.RFC3339))
	}

	return at, nil
}

func parseInstant(token string, now time.Time) (time.Time, error) {
	if m := relativePattern.FindStringSubmatch(token); m != nil {
		amount, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, token)
		}

		unit := unitDuration(m[2])
		if amount > math.MaxInt64/int64(unit) {
			return time.Time{}, fmt.Errorf("%w: %q is too far ahead", ErrInvalidTimeFormat, token)
		}

		return now.Add(time.Duration(amount) * unit), nil
	}

	if unitPattern.MatchString(token) {
		return time.Time{}, fmt.Errorf("%w: unknown unit in %q (use s, m or h)", ErrInvalidTimeFormat, token)
	}

	for _, layout := range absoluteLayouts {
		if at, err := time.ParseInLocation(layout, token, time.UTC); err == nil {
			return at, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, token)
}

func unitDuration(unit string) time.Duration {
	switch unit {
	case "s":
		return time.Second
	case "m":
		return time.Minute
	default:
		return time.Hour
	}
}
