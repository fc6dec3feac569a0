package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/hazyhaar/knowdash/csvrows"
)

// Bucket counts completions and views whose date falls in [Start, End).
type Bucket struct {
	Label       string    `json:"label"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Completions int       `json:"completions"`
	Views       int       `json:"views"`
	Rate        *float64  `json:"rate"`
}

// Interval selects the bucket width for Buckets.
type Interval string

const (
	Day   Interval = "day"
	Week  Interval = "week"
	Month Interval = "month"
)

// ParseInterval validates s. An empty string selects Day.
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case "":
		return Day, nil
	case Day, Week, Month:
		return Interval(s), nil
	}
	return "", fmt.Errorf("aggregate: unknown interval %q", s)
}

type span struct {
	label      string
	start, end time.Time
}

func fill(spans []span, completions, views csvrows.RowSet) []Bucket {
	out := make([]Bucket, len(spans))
	for i, sp := range spans {
		out[i] = Bucket{Label: sp.label, Start: sp.start, End: sp.end}
	}
	tally := func(rows csvrows.RowSet, add func(*Bucket)) {
		for _, r := range rows {
			d, ok := ParseDate(r.Get("date"))
			if !ok {
				continue
			}
			// spans are sorted and contiguous
			i := sort.Search(len(out), func(i int) bool { return out[i].End.After(d) })
			if i < len(out) && !d.Before(out[i].Start) {
				add(&out[i])
			}
		}
	}
	tally(completions, func(b *Bucket) { b.Completions++ })
	tally(views, func(b *Bucket) { b.Views++ })
	for i := range out {
		out[i].Rate = CompletionRate(out[i].Completions, out[i].Views)
	}
	return out
}

func days(start, end time.Time) []span {
	var spans []span
	for d := startOfDay(start); !d.After(end); d = d.AddDate(0, 0, 1) {
		spans = append(spans, span{label: FormatDate(d), start: d, end: d.AddDate(0, 0, 1)})
	}
	return spans
}

// Daily buckets rows per calendar day from start through end inclusive.
func Daily(completions, views csvrows.RowSet, start, end time.Time) []Bucket {
	return fill(days(start, end), completions, views)
}

// Buckets builds the insights chart: the last 7 days for Day, Monday-based
// weeks over the last quarter for Week, calendar months over the last year
// for Month. The final bucket always contains now.
func Buckets(completions, views csvrows.RowSet, iv Interval, now time.Time) []Bucket {
	var spans []span
	switch iv {
	case Week:
		for w := startOfWeek(now.AddDate(0, -3, 0)); !w.After(now); w = w.AddDate(0, 0, 7) {
			_, n := w.ISOWeek()
			spans = append(spans, span{label: fmt.Sprintf("Wk %d", n), start: w, end: w.AddDate(0, 0, 7)})
		}
	case Month:
		for m := startOfMonth(now.AddDate(-1, 0, 0)); !m.After(now); m = m.AddDate(0, 1, 0) {
			spans = append(spans, span{label: m.Format("Jan 2006"), start: m, end: m.AddDate(0, 1, 0)})
		}
	default:
		for d := startOfDay(now.AddDate(0, 0, -6)); !d.After(now); d = d.AddDate(0, 0, 1) {
			spans = append(spans, span{label: d.Format("Jan 2"), start: d, end: d.AddDate(0, 0, 1)})
		}
	}
	return fill(spans, completions, views)
}

// MonthTotal is one row of the all-time monthly usage chart.
type MonthTotal struct {
	Month       string `json:"month"` // yyyy-MM
	Completions int    `json:"completions"`
	Views       int    `json:"views"`
}

// Monthly counts every dated row by calendar month, oldest first.
func Monthly(completions, views csvrows.RowSet) []MonthTotal {
	byMonth := make(map[string]*MonthTotal)
	get := func(key string) *MonthTotal {
		m, ok := byMonth[key]
		if !ok {
			m = &MonthTotal{Month: key}
			byMonth[key] = m
		}
		return m
	}
	for _, r := range completions {
		if d, ok := ParseDate(r.Get("date")); ok {
			get(d.Format("2006-01")).Completions++
		}
	}
	for _, r := range views {
		if d, ok := ParseDate(r.Get("date")); ok {
			get(d.Format("2006-01")).Views++
		}
	}
	out := make([]MonthTotal, 0, len(byMonth))
	for _, m := range byMonth {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// Totals sums completions and views across rows.
type Totals struct {
	Completions int      `json:"completions"`
	Views       int      `json:"views"`
	Rate        *float64 `json:"rate"`
}

// Total counts every row regardless of date.
func Total(completions, views csvrows.RowSet) Totals {
	return Totals{
		Completions: len(completions),
		Views:       len(views),
		Rate:        CompletionRate(len(completions), len(views)),
	}
}

// SumBuckets totals a bucket series.
func SumBuckets(bs []Bucket) Totals {
	var t Totals
	for _, b := range bs {
		t.Completions += b.Completions
		t.Views += b.Views
	}
	t.Rate = CompletionRate(t.Completions, t.Views)
	return t
}
