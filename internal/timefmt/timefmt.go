package timefmt

import (
	"errors"
	"fmt"
	"time"
)

// Layouts used on the wire and on disk
const (
	Canonical = "2006-01-02T15:04:05"
	Legacy    = "2006-01-02 15:04:05"
	DateOnly  = "20060102"
	FileStamp = "2006-01-02_15-04-05"
	IDStamp   = "20060102150405"
)

// ErrMalformed is returned when a datetime matches none of the accepted layouts
var ErrMalformed = errors.New("timefmt: malformed datetime")

// inputLayouts is tried in order; canonical first
var inputLayouts = []string{Canonical, Legacy}

// Parse parses s as a wall-clock datetime in the local time zone.
// Both the canonical and the legacy layout are accepted.
func Parse(s string) (time.Time, error) {
	return ParseIn(s, time.Local)
}

// ParseIn parses s in the given location, trying each accepted layout in order
func ParseIn(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range inputLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q (expected YYYY-MM-DDTHH:MM:SS)", ErrMalformed, s)
}

// Normalize rewrites a canonical or legacy datetime into the canonical layout
func Normalize(s string) (string, error) {
	t, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Format(t), nil
}

// Format renders t in the canonical layout
func Format(t time.Time) string {
	return t.Format(Canonical)
}

// ParseDate parses a YYYYMMDD service date
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateOnly, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (expected YYYYMMDD)", ErrMalformed, s)
	}
	return t, nil
}
