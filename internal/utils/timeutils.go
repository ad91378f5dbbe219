package utils

import (
	"fmt"
	"strconv"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// ParseFlexibleTime accepts RFC3339 strings as well as epoch seconds or
// milliseconds. Values above 1e12 are treated as milliseconds.
func ParseFlexibleTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if epoch, err := strconv.ParseInt(value, 10, 64); err == nil {
		if epoch > 1_000_000_000_000 {
			return time.UnixMilli(epoch).UTC(), nil
		}
		return time.Unix(epoch, 0).UTC(), nil
	}
	return ParseRFC3339(value)
}

// DurationMinutes converts a pair of timestamps into minute duration.
func DurationMinutes(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return end.Sub(start).Minutes()
}
