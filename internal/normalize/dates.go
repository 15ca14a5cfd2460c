package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Accepted absolute layouts, tried in order. Sites mix ISO timestamps with
// dotted and slashed forms, with or without a clock time.
var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006.01.02 15:04",
	"2006.01.02",
	"2006/01/02 15:04",
	"2006/01/02",
}

var (
	// MM.DD or MM/DD with an optional parenthesized weekday and optional
	// HH:MM, e.g. "08.01", "8/1(금) 14:00".
	monthDayPattern = regexp.MustCompile(
		`^(\d{1,2})[./](\d{1,2})(?:\([^)]*\))?(?:\s+(\d{1,2}):(\d{2}))?$`)

	// Korean long form: "8월 1일 14시 00분", time part optional.
	koreanPattern = regexp.MustCompile(
		`^(\d{1,2})월\s*(\d{1,2})일(?:\s*(\d{1,2})시\s*(\d{1,2})분)?$`)
)

// ParseOpenDate parses a sale-open date string against the accepted format
// list. Month/day-only forms are resolved against now's year; if the
// resolved date would already be more than a day in the past it rolls
// forward one year, so a January announcement seen in December lands in
// the coming January. Unparseable input returns ok=false, which callers
// treat as the "undetermined" sentinel rather than a record failure.
func ParseOpenDate(raw string, now time.Time) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range absoluteLayouts {
		if ts, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return ts, true
		}
	}

	if m := monthDayPattern.FindStringSubmatch(s); m != nil {
		return resolveMonthDay(m[1], m[2], m[3], m[4], now)
	}
	if m := koreanPattern.FindStringSubmatch(s); m != nil {
		return resolveMonthDay(m[1], m[2], m[3], m[4], now)
	}
	return time.Time{}, false
}

func resolveMonthDay(monthStr, dayStr, hourStr, minStr string, now time.Time) (time.Time, bool) {
	month, _ := strconv.Atoi(monthStr)
	day, _ := strconv.Atoi(dayStr)
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	hour, minute := 0, 0
	if hourStr != "" {
		hour, _ = strconv.Atoi(hourStr)
		minute, _ = strconv.Atoi(minStr)
		if hour > 23 || minute > 59 {
			return time.Time{}, false
		}
	}

	ts := time.Date(now.Year(), time.Month(month), day, hour, minute, 0, 0, now.Location())
	if ts.Before(now.Add(-24 * time.Hour)) {
		ts = ts.AddDate(1, 0, 0)
	}
	return ts, true
}
