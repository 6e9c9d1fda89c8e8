package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var durationUnits = map[string]time.Duration{
	"w": 7 * 24 * time.Hour,
	"d": 24 * time.Hour,
	"h": time.Hour,
	"m": time.Minute,
	"s": time.Second,
	"":  time.Second,
}

var durationPattern = regexp.MustCompile(`^\s*(\d+)\s*([wdhms]?)\s*$`)

// ParseAge converts an age of the form nnnX to a duration, where X is one
// of w, d, h, m or s. Without a unit the value is in seconds.
func ParseAge(text string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, fmt.Errorf("invalid duration: %q", text)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q: %w", text, err)
	}
	unit := durationUnits[m[2]]
	if n > int64(1<<63-1)/int64(unit) {
		return 0, fmt.Errorf("invalid duration: %q: out of range", text)
	}
	return time.Duration(n) * unit, nil
}

// Cutoff returns the instant age before now.
func Cutoff(now time.Time, age time.Duration) time.Time {
	return now.Add(-age)
}
