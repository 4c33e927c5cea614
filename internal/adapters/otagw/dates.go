package otagw

import (
	"fmt"
	"strings"
	"time"
)

const (
	wireDate = "02.01.2006"
	isoDate  = "2006-01-02"
)

// FormatDate renders a calendar date the way requests carry it (dd.mm.yyyy).
func FormatDate(t time.Time) string { return t.UTC().Format(wireDate) }

// ParseDate accepts dd.mm.yyyy or yyyy-mm-dd (an ISO timestamp is cut to its date)
// and returns midnight UTC of that day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.ParseInLocation(wireDate, s, time.UTC); err == nil {
		return t, nil
	}
	if len(s) > len(isoDate) && s[4] == '-' {
		s = s[:len(isoDate)]
	}
	t, err := time.ParseInLocation(isoDate, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	}
	return t, nil
}
