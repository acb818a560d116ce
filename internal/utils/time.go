package utils

import "time"

// TimestampLayout is the fixed-width UTC layout used for persisted timestamps.
// Fixed width keeps lexical and chronological order identical in text columns.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// NowUTC returns current time in UTC timezone.
// Used throughout the codebase for consistent timestamp handling.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// FormatTimestamp renders t in TimestampLayout after converting it to UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a value written by FormatTimestamp.
// RFC3339 input is accepted as well for rows written by external tools.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err == nil {
		return t, nil
	}
	t, rfcErr := time.Parse(time.RFC3339Nano, s)
	if rfcErr != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
