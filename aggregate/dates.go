// Package aggregate derives dashboard statistics from the published
// completions, views and knowby row-sets. Every function is pure: it reads
// the rows it is given and never touches the store.
//
// Dates in the CSVs are DD/MM/YYYY. Rows whose date is blank or malformed
// are skipped, never reported as errors.
package aggregate

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the layout of every date column.
const DateLayout = "02/01/2006"

// ParseDate parses a DD/MM/YYYY value as a local calendar date.
// Single-digit day and month are accepted.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	day, err1 := strconv.Atoi(parts[0])
	month, err2 := strconv.Atoi(parts[1])
	year, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	if month < 1 || month > 12 || day < 1 || year < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local)
	if t.Day() != day {
		// 31/02 and friends normalise into the next month.
		return time.Time{}, false
	}
	return t, true
}

// FormatDate renders t as DD/MM/YYYY.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the Monday starting t's week.
func startOfWeek(t time.Time) time.Time {
	d := startOfDay(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// CompletionRate returns completions/views as a percentage rounded to two
// decimals, or nil when there are no views.
func CompletionRate(completions, views int) *float64 {
	if views <= 0 {
		return nil
	}
	r := math.Round(float64(completions)/float64(views)*100*100) / 100
	return &r
}
