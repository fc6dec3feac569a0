package aggregate

import (
	"testing"
	"time"

	"github.com/hazyhaar/knowdash/csvrows"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func dated(name string, dates ...string) csvrows.RowSet {
	rows := csvrows.RowSet{}
	for _, d := range dates {
		rows = append(rows, csvrows.Row{"knowby_name": name, "date": d})
	}
	return rows
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"01/02/2024", day(2024, 2, 1), true},
		{"1/2/2024", day(2024, 2, 1), true},
		{" 29/02/2024 ", day(2024, 2, 29), true},
		{"31/02/2024", time.Time{}, false},
		{"13/13/2024", time.Time{}, false},
		{"2024-02-01", time.Time{}, false},
		{"", time.Time{}, false},
		{"aa/bb/cccc", time.Time{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseDate(tc.in)
		if ok != tc.ok || !got.Equal(tc.want) {
			t.Errorf("ParseDate(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestCompletionRate(t *testing.T) {
	if CompletionRate(3, 0) != nil {
		t.Error("zero views should give nil rate")
	}
	if r := CompletionRate(1, 3); r == nil || *r != 33.33 {
		t.Errorf("1/3: got %v", r)
	}
	if r := CompletionRate(2, 2); *r != 100 {
		t.Errorf("2/2: got %v", *r)
	}
}

func TestDaily(t *testing.T) {
	completions := dated("A", "01/03/2024", "03/03/2024", "03/03/2024", "bad", "")
	views := dated("A", "03/03/2024", "03/03/2024", "03/03/2024", "28/02/2024", "04/03/2024")

	got := Daily(completions, views, day(2024, 3, 1), day(2024, 3, 3).Add(15*time.Hour))
	if len(got) != 3 {
		t.Fatalf("buckets: got %d, want 3", len(got))
	}
	if got[0].Label != "01/03/2024" || got[0].Completions != 1 || got[0].Views != 0 {
		t.Errorf("day 1: %+v", got[0])
	}
	if got[0].Rate != nil {
		t.Errorf("day 1 rate: want nil, got %v", *got[0].Rate)
	}
	if got[2].Completions != 2 || got[2].Views != 3 {
		t.Errorf("day 3: %+v", got[2])
	}
	if *got[2].Rate != 66.67 {
		t.Errorf("day 3 rate: got %v", *got[2].Rate)
	}
	tot := SumBuckets(got)
	if tot.Completions != 3 || tot.Views != 3 {
		t.Errorf("totals: %+v", tot)
	}
}

func TestBuckets(t *testing.T) {
	now := day(2024, 6, 12).Add(10 * time.Hour) // Wednesday
	views := dated("A", "12/06/2024", "06/06/2024", "05/06/2024", "10/06/2024", "15/06/2023")

	d := Buckets(nil, views, Day, now)
	if len(d) != 7 {
		t.Fatalf("day buckets: got %d", len(d))
	}
	if d[0].Label != "Jun 6" || d[6].Label != "Jun 12" {
		t.Errorf("day labels: %s .. %s", d[0].Label, d[6].Label)
	}
	if d[0].Views != 1 || d[6].Views != 1 {
		t.Errorf("day counts: %+v", d)
	}

	w := Buckets(nil, views, Week, now)
	last := w[len(w)-1]
	if !last.Start.Equal(day(2024, 6, 10)) {
		t.Errorf("last week start: got %v, want Monday 10 June", last.Start)
	}
	if last.Views != 2 {
		t.Errorf("last week views: got %d, want 2", last.Views)
	}
	if w[0].Start.Weekday() != time.Monday {
		t.Errorf("weeks must start on Monday, got %v", w[0].Start.Weekday())
	}

	m := Buckets(nil, views, Month, now)
	if len(m) != 13 {
		t.Fatalf("month buckets: got %d, want 13", len(m))
	}
	if m[0].Label != "Jun 2023" || m[0].Views != 1 {
		t.Errorf("first month: %+v", m[0])
	}
	if m[12].Views != 4 {
		t.Errorf("current month views: got %d", m[12].Views)
	}
}

func TestParseInterval(t *testing.T) {
	if iv, err := ParseInterval(""); err != nil || iv != Day {
		t.Errorf("empty: %v %v", iv, err)
	}
	if _, err := ParseInterval("year"); err == nil {
		t.Error("expected error for year")
	}
}

func TestMonthly(t *testing.T) {
	completions := dated("A", "05/02/2024", "20/01/2024")
	views := dated("A", "01/01/2024", "02/01/2024", "31/12/2023", "nope")
	got := Monthly(completions, views)
	want := []MonthTotal{
		{Month: "2023-12", Views: 1},
		{Month: "2024-01", Completions: 1, Views: 2},
		{Month: "2024-02", Completions: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d]: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMonthOverMonth(t *testing.T) {
	now := day(2024, 3, 10)
	views := dated("A",
		"01/03/2024", "10/03/2024", "11/03/2024", // 2 current, one past the cutoff day
		"05/02/2024", "25/02/2024", // 1 previous
		"05/03/2023",
	)
	mc := MonthOverMonth(views, now)
	if mc.Current != 2 || mc.Previous != 1 {
		t.Fatalf("counts: %+v", mc)
	}
	if mc.Change == nil || *mc.Change != 100 {
		t.Errorf("change: got %v", mc.Change)
	}

	jan := MonthOverMonth(dated("A", "03/12/2023", "02/01/2024"), day(2024, 1, 5))
	if jan.Previous != 1 || jan.Current != 1 || *jan.Change != 0 {
		t.Errorf("january wraps to december: %+v", jan)
	}

	none := MonthOverMonth(dated("A", "02/03/2024"), now)
	if none.Change != nil {
		t.Error("change should be nil without previous data")
	}
}

func TestTopKnowby(t *testing.T) {
	end := day(2024, 3, 10)
	completions := append(dated("B", "09/03/2024", "01/01/2023"), dated("A", "10/03/2024", "15/01/2024")...)
	completions = append(completions, dated("A", "01/03/2024")...)
	views := append(dated("A", "10/03/2024", "10/03/2024", "01/03/2024"), dated("B", "09/03/2024")...)

	top := TopKnowby(completions, views, end)
	if top.Name != "A" {
		t.Fatalf("name: got %q", top.Name)
	}
	if len(top.Daily) != 10 || top.Daily[9].Label != "10/03/2024" {
		t.Fatalf("daily: %+v", top.Daily)
	}
	if top.DailyTotals.Completions != 2 || top.DailyTotals.Views != 3 {
		t.Errorf("daily totals: %+v", top.DailyTotals)
	}
	if len(top.Monthly) != 12 || top.Monthly[11].Label != "Mar 2024" {
		t.Fatalf("monthly: %+v", top.Monthly)
	}
	if top.MonthlyTotals.Completions != 3 {
		t.Errorf("monthly completions: got %d", top.MonthlyTotals.Completions)
	}

	tie := TopKnowby(append(dated("X", "01/01/2024"), dated("Y", "01/01/2024")...), nil, end)
	if tie.Name != "X" {
		t.Errorf("tie should go to first seen, got %q", tie.Name)
	}
	if empty := TopKnowby(nil, views, end); empty.Name != "" || empty.Daily != nil {
		t.Errorf("no completions: %+v", empty)
	}
}

func TestKnowbyNamesAndFilter(t *testing.T) {
	c := append(dated("Safety", "01/01/2024"), dated("", "01/01/2024")...)
	v := append(dated("Onboarding", "01/01/2024"), dated("Safety", "02/01/2024")...)

	names := KnowbyNames(c, v)
	if len(names) != 2 || names[0] != "Onboarding" || names[1] != "Safety" {
		t.Errorf("names: %v", names)
	}
	if got := Filter(v, []string{"Safety"}); len(got) != 1 || got[0].Get("date") != "02/01/2024" {
		t.Errorf("filter: %v", got)
	}
	if got := Filter(v, nil); len(got) != 2 {
		t.Errorf("no names should keep all rows, got %d", len(got))
	}
}

func TestSummarize(t *testing.T) {
	now := day(2024, 3, 31).Add(9 * time.Hour)
	since := day(2024, 3, 1)

	published := csvrows.RowSet{
		// new, viewed recently
		{"knowby_id": "k1", "created_at": "05/03/2024", "created_by_member_id": "m1", "last_viewed": "30/03/2024"},
		// old, never viewed, completed recently: used
		{"knowby_id": "k2", "created_at": "01/01/2023", "last_viewed": ""},
		// old, viewed long ago: unused, last interaction 30 days before 01/03
		{"knowby_id": "k3", "created_at": "01/01/2023", "last_viewed": "31/01/2024"},
		// nothing at all: unused
		{"knowby_id": "k4", "created_at": "garbage"},
		// created on the window start by the same member
		{"knowby_id": "k5", "created_at": "01/03/2024", "created_by_member_id": "m1", "last_viewed": "01/03/2024"},
	}
	completions := csvrows.RowSet{
		{"knowby_id": "k2", "member_id": "m7", "date": "15/03/2024"},
		{"knowby_id": "k2", "member_id": "m8", "date": "16/03/2024"},
		{"knowby_id": "k2", "member_id": "m7", "date": "17/03/2024"},
		{"knowby_id": "k3", "member_id": "m9", "date": "01/01/2024"},
	}

	s := Summarize(published, completions, now)
	if !s.Since.Equal(since) {
		t.Errorf("since: got %v, want %v", s.Since, since)
	}
	if s.ActiveMembers != 2 {
		t.Errorf("active members: got %d, want 2", s.ActiveMembers)
	}
	if s.NewKnowbys != 2 {
		t.Errorf("new knowbys: got %d, want 2", s.NewKnowbys)
	}
	if s.RecentlyViewed != 2 {
		t.Errorf("recently viewed: got %d, want 2", s.RecentlyViewed)
	}
	if s.Unused != 2 {
		t.Errorf("unused: got %d, want 2", s.Unused)
	}

	if n := len(s.Trends.NewKnowbys); n != 31 {
		t.Fatalf("trend length: got %d, want 31", n)
	}
	if s.Trends.NewKnowbys[0] != 1 || s.Trends.NewKnowbys[4] != 1 {
		t.Errorf("new knowby trend: %v", s.Trends.NewKnowbys)
	}
	if s.Trends.ActiveMembers[0] != 1 || s.Trends.ActiveMembers[4] != 1 {
		t.Errorf("active member trend: %v", s.Trends.ActiveMembers)
	}
	if s.Trends.RecentlyViewed[29] != 1 {
		t.Errorf("recently viewed trend: %v", s.Trends.RecentlyViewed)
	}
	// k3's last interaction (31/01) is exactly 30 days before 01/03.
	if s.Trends.BecameUnused[0] != 1 {
		t.Errorf("became unused trend: %v", s.Trends.BecameUnused)
	}
}
