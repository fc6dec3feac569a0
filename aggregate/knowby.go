package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/hazyhaar/knowdash/csvrows"
)

// KnowbyNames returns the sorted distinct non-empty knowby_name values
// across both row-sets.
func KnowbyNames(completions, views csvrows.RowSet) []string {
	seen := make(map[string]struct{})
	for _, rs := range []csvrows.RowSet{completions, views} {
		for _, r := range rs {
			if n := r.Get("knowby_name"); n != "" {
				seen[n] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Filter keeps rows whose knowby_name is in names. No names keeps every row.
func Filter(rows csvrows.RowSet, names []string) csvrows.RowSet {
	if len(names) == 0 {
		return rows
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := csvrows.RowSet{}
	for _, r := range rows {
		if want[r.Get("knowby_name")] {
			out = append(out, r)
		}
	}
	return out
}

// MonthCompare compares this month to date with the same days of last month.
type MonthCompare struct {
	Current  int `json:"current"`
	Previous int `json:"previous"`
	// Change is the whole-number percent change, nil without previous data.
	Change *int `json:"change"`
}

// MonthOverMonth counts rows dated on or before now's day-of-month in now's
// month and in the month before it.
func MonthOverMonth(rows csvrows.RowSet, now time.Time) MonthCompare {
	cur := startOfMonth(now)
	prev := cur.AddDate(0, -1, 0)
	cutoff := now.Day()

	var mc MonthCompare
	for _, r := range rows {
		d, ok := ParseDate(r.Get("date"))
		if !ok || d.Day() > cutoff {
			continue
		}
		switch {
		case d.Year() == cur.Year() && d.Month() == cur.Month():
			mc.Current++
		case d.Year() == prev.Year() && d.Month() == prev.Month():
			mc.Previous++
		}
	}
	if mc.Previous > 0 {
		c := int(math.Round(float64(mc.Current-mc.Previous) / float64(mc.Previous) * 100))
		mc.Change = &c
	}
	return mc
}

// Top describes the most completed knowby.
type Top struct {
	Name    string   `json:"name"`
	Daily   []Bucket `json:"daily"`
	Monthly []Bucket `json:"monthly"`
	// DailyTotals and MonthlyTotals sum the two series.
	DailyTotals   Totals `json:"daily_totals"`
	MonthlyTotals Totals `json:"monthly_totals"`
}

// TopKnowby finds the knowby with the most completions overall (ties go to
// the one seen first) and buckets its activity over the 10 days and the 12
// calendar months ending at end. Name is empty when there are no completions.
func TopKnowby(completions, views csvrows.RowSet, end time.Time) Top {
	counts := make(map[string]int)
	var order []string
	for _, r := range completions {
		n := r.Get("knowby_name")
		if n == "" {
			continue
		}
		if _, ok := counts[n]; !ok {
			order = append(order, n)
		}
		counts[n]++
	}
	var top Top
	best := 0
	for _, n := range order {
		if counts[n] > best {
			top.Name, best = n, counts[n]
		}
	}
	if top.Name == "" {
		return top
	}

	c := Filter(completions, []string{top.Name})
	v := Filter(views, []string{top.Name})
	top.Daily = Daily(c, v, end.AddDate(0, 0, -9), end)

	var months []span
	first := startOfMonth(end).AddDate(0, -11, 0)
	for i := range 12 {
		m := first.AddDate(0, i, 0)
		months = append(months, span{label: m.Format("Jan 2006"), start: m, end: m.AddDate(0, 1, 0)})
	}
	top.Monthly = fill(months, c, v)
	top.DailyTotals = SumBuckets(top.Daily)
	top.MonthlyTotals = SumBuckets(top.Monthly)
	return top
}
