package aggregate

import (
	"time"

	"github.com/hazyhaar/knowdash/csvrows"
)

// SummaryWindow is the look-back of the summary tiles.
const SummaryWindow = 30

// Summary holds the four knowby tiles and their daily trends.
type Summary struct {
	Since          time.Time `json:"since"`
	ActiveMembers  int       `json:"active_members"`
	NewKnowbys     int       `json:"new_knowbys"`
	RecentlyViewed int       `json:"recently_viewed"`
	Unused         int       `json:"unused"`
	Trends         Trends    `json:"trends"`
}

// Trends has one entry per day from Since through today.
type Trends struct {
	ActiveMembers  []int `json:"active_members"`
	NewKnowbys     []int `json:"new_knowbys"`
	RecentlyViewed []int `json:"recently_viewed"`
	// BecameUnused counts, for each day, the knowbys whose last interaction
	// was exactly SummaryWindow days earlier.
	BecameUnused []int `json:"became_unused"`
}

// Summarize computes the tiles from the published knowby list and the
// completions. The last interaction of a knowby is the later of its
// last_viewed date and its most recent completion.
func Summarize(published, completions csvrows.RowSet, now time.Time) Summary {
	today := startOfDay(now)
	since := today.AddDate(0, 0, -SummaryWindow)
	inWindow := func(d time.Time) bool { return !d.Before(since) }

	s := Summary{Since: since}

	members := make(map[string]struct{})
	lastCompletion := make(map[string]time.Time)
	for _, r := range completions {
		d, ok := ParseDate(r.Get("date"))
		if !ok {
			continue
		}
		if id := r.Trimmed("knowby_id"); id != "" && d.After(lastCompletion[id]) {
			lastCompletion[id] = d
		}
		if id := r.Trimmed("member_id"); id != "" && inWindow(d) {
			members[id] = struct{}{}
		}
	}
	s.ActiveMembers = len(members)

	dayIndex := func(d time.Time) int {
		return int(startOfDay(d).Sub(since).Hours()/24 + 0.5)
	}
	n := dayIndex(today) + 1
	s.Trends = Trends{
		ActiveMembers:  make([]int, n),
		NewKnowbys:     make([]int, n),
		RecentlyViewed: make([]int, n),
		BecameUnused:   make([]int, n),
	}
	creators := make([]map[string]struct{}, n)
	lastInteraction := make(map[string]time.Time)

	for _, r := range published {
		created, hasCreated := ParseDate(r.Get("created_at"))
		viewed, hasViewed := ParseDate(r.Get("last_viewed"))

		if hasCreated && inWindow(created) && !created.After(today) {
			s.NewKnowbys++
			i := dayIndex(created)
			s.Trends.NewKnowbys[i]++
			if m := r.Trimmed("created_by_member_id"); m != "" {
				if creators[i] == nil {
					creators[i] = make(map[string]struct{})
				}
				creators[i][m] = struct{}{}
			}
		}
		if hasViewed && inWindow(viewed) && !viewed.After(today) {
			s.RecentlyViewed++
			s.Trends.RecentlyViewed[dayIndex(viewed)]++
		}

		last, hasLast := viewed, hasViewed
		if c, ok := lastCompletion[r.Trimmed("knowby_id")]; ok && (!hasLast || c.After(last)) {
			last, hasLast = c, true
		}
		if !hasLast || last.Before(since) {
			s.Unused++
		}
		if hasLast {
			lastInteraction[r.Trimmed("knowby_id")] = last
		}
	}

	for i, set := range creators {
		s.Trends.ActiveMembers[i] = len(set)
	}
	for i := range n {
		cut := since.AddDate(0, 0, i-SummaryWindow)
		for _, last := range lastInteraction {
			if last.Equal(cut) {
				s.Trends.BecameUnused[i]++
			}
		}
	}
	return s
}
