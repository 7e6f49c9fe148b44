package util

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DayLayout is the calendar-date layout used in config, CSV files and HTTP queries.
const DayLayout = "2006-01-02"

// ErrInvalidDateFormat is returned when a provider date string cannot be decoded.
var ErrInvalidDateFormat = errors.New("invalid date format")

// DecodeMSDate decodes a provider date such as "/Date(1536303600000-0700)/" into a
// calendar day in the local time zone.
func DecodeMSDate(raw string) (time.Time, error) {
	return DecodeMSDateIn(raw, time.Local)
}

// DecodeMSDateIn decodes a provider date into a calendar day in loc.
// The result is midnight UTC of that day so that dates compare by value.
func DecodeMSDateIn(raw string, loc *time.Location) (time.Time, error) {
	millis, err := parseMSMillis(raw)
	if err != nil {
		return time.Time{}, err
	}
	return DateFromMillisIn(millis, loc), nil
}

// DecodeMSValue decodes a loosely typed value; anything but a string is rejected.
func DecodeMSValue(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: expected string, got %T", ErrInvalidDateFormat, v)
	}
	return DecodeMSDate(s)
}

// parseMSMillis extracts the signed epoch millis between the first "(" and the first ")".
// A leading sign belongs to the epoch, not the zone separator.
func parseMSMillis(raw string) (int64, error) {
	open := strings.IndexByte(raw, '(')
	closing := strings.IndexByte(raw, ')')
	if open < 0 || closing < 0 || closing <= open+1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDateFormat, raw)
	}
	inner := raw[open+1 : closing]

	negative := false
	switch inner[0] {
	case '-':
		negative = true
		inner = inner[1:]
	case '+':
		inner = inner[1:]
	}
	if i := strings.IndexAny(inner, "-+"); i >= 0 {
		inner = inner[:i]
	}
	if inner == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDateFormat, raw)
	}
	for _, r := range inner {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDateFormat, raw)
		}
	}
	millis, err := strconv.ParseInt(inner, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidDateFormat, raw, err)
	}
	if negative {
		millis = -millis
	}
	return millis, nil
}

// EncodeMSDate renders millis in the provider format. offset is appended verbatim ("-0700", "").
func EncodeMSDate(millis int64, offset string) string {
	return fmt.Sprintf("/Date(%d%s)/", millis, offset)
}

// DateFromMillis returns the local calendar day of an epoch in milliseconds.
func DateFromMillis(millis int64) time.Time {
	return DateFromMillisIn(millis, time.Local)
}

// DateFromMillisIn returns the calendar day of millis as seen in loc.
func DateFromMillisIn(millis int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return Day(time.UnixMilli(millis).In(loc))
}

// Day drops the time of day, keeping the calendar date of t in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole calendar days from `from` to `to` (negative if to is earlier).
func DaysBetween(from, to time.Time) int {
	return int(Day(to).Sub(Day(from)).Hours() / 24)
}

// ParseDay parses a YYYY-MM-DD string into a calendar day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return t, nil
}

// DayToMillis converts a YYYY-MM-DD string to epoch millis at local midnight.
func DayToMillis(s string) (int64, error) {
	d, err := ParseDay(s)
	if err != nil {
		return 0, err
	}
	local := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.Local)
	return local.UnixMilli(), nil
}

// FormatDay renders a calendar day as YYYY-MM-DD; the zero time renders empty.
func FormatDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DayLayout)
}
