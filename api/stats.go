package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/knowdash/aggregate"
)

// dailyView is the payload of /api/stats/daily.
type dailyView struct {
	Days   []aggregate.Bucket `json:"days"`
	Totals aggregate.Totals   `json:"totals"`
}

// monthlyView is the payload of /api/stats/monthly.
type monthlyView struct {
	Months []aggregate.MonthTotal `json:"months"`
	Totals aggregate.Totals       `json:"totals"`
}

// monthView is the payload of /api/stats/month.
type monthView struct {
	Completions aggregate.MonthCompare `json:"completions"`
	Views       aggregate.MonthCompare `json:"views"`
}

// insightsView is the payload of /api/stats/insights.
type insightsView struct {
	Interval aggregate.Interval `json:"interval"`
	Knowbys  []string           `json:"knowbys"`
	Buckets  []aggregate.Bucket `json:"buckets"`
	Totals   aggregate.Totals   `json:"totals"`
}

// endDate reads ?end=dd/MM/yyyy, defaulting to today.
func (s *Server) endDate(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("end")
	if v == "" {
		return s.cfg.Now(), nil
	}
	d, ok := aggregate.ParseDate(v)
	if !ok {
		return time.Time{}, fmt.Errorf("end: want a date formatted %s", aggregate.DateLayout)
	}
	return d, nil
}

func (s *Server) daily(days int, end time.Time) dailyView {
	snap := s.cfg.Store.Current()
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, end.Location())
	b := aggregate.Daily(snap.Completions, snap.Views, end.AddDate(0, 0, -(days-1)), end)
	return dailyView{Days: b, Totals: aggregate.SumBuckets(b)}
}

// GET /api/stats/daily?end=dd/MM/yyyy&days=7
func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	end, err := s.endDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	days, err := queryInt(r, "days", 7, 1, 366)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.daily(days, end))
}

// GET /api/stats/monthly
func (s *Server) handleMonthly(w http.ResponseWriter, _ *http.Request) {
	snap := s.cfg.Store.Current()
	writeJSON(w, http.StatusOK, monthlyView{
		Months: aggregate.Monthly(snap.Completions, snap.Views),
		Totals: aggregate.Total(snap.Completions, snap.Views),
	})
}

// GET /api/stats/month
func (s *Server) handleMonthOverMonth(w http.ResponseWriter, _ *http.Request) {
	snap := s.cfg.Store.Current()
	now := s.cfg.Now()
	writeJSON(w, http.StatusOK, monthView{
		Completions: aggregate.MonthOverMonth(snap.Completions, now),
		Views:       aggregate.MonthOverMonth(snap.Views, now),
	})
}

func (s *Server) insights(iv aggregate.Interval, knowbys []string) insightsView {
	snap := s.cfg.Store.Current()
	c := aggregate.Filter(snap.Completions, knowbys)
	v := aggregate.Filter(snap.Views, knowbys)
	b := aggregate.Buckets(c, v, iv, s.cfg.Now())
	if knowbys == nil {
		knowbys = []string{}
	}
	return insightsView{Interval: iv, Knowbys: knowbys, Buckets: b, Totals: aggregate.SumBuckets(b)}
}

// GET /api/stats/insights?interval=day|week|month&knowby=A&knowby=B
func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	iv, err := aggregate.ParseInterval(r.URL.Query().Get("interval"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.insights(iv, r.URL.Query()["knowby"]))
}

// GET /api/stats/top?end=dd/MM/yyyy
func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	end, err := s.endDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap := s.cfg.Store.Current()
	writeJSON(w, http.StatusOK, aggregate.TopKnowby(snap.Completions, snap.Views, end))
}

var errSummaryUnavailable = errors.New("published knowby list unavailable")

func (s *Server) summary(ctx context.Context) (aggregate.Summary, error) {
	snap := s.cfg.Store.Current()
	published, err := s.cfg.Store.LoadPublished(ctx, snap.Source)
	if err != nil {
		s.log.Warn("api: load published", "source", snap.Source, "error", err)
		return aggregate.Summary{}, fmt.Errorf("%w: %v", errSummaryUnavailable, err)
	}
	return aggregate.Summarize(published, snap.Completions, s.cfg.Now()), nil
}

// GET /api/stats/summary
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.summary(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GET /api/knowbys
func (s *Server) handleKnowbys(w http.ResponseWriter, _ *http.Request) {
	snap := s.cfg.Store.Current()
	writeJSON(w, http.StatusOK, map[string]any{"knowbys": aggregate.KnowbyNames(snap.Completions, snap.Views)})
}
