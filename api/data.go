package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/knowdash/csvrows"
	"github.com/hazyhaar/knowdash/datastore"
	"github.com/hazyhaar/knowdash/observability"
)

// snapshotView is the wire form of a datastore.Snapshot.
type snapshotView struct {
	Source           datastore.Source `json:"source"`
	Status           datastore.Status `json:"status"`
	Error            string           `json:"error,omitempty"`
	LastUpdated      *time.Time       `json:"last_updated"`
	CompletionsCount int              `json:"completions_count"`
	ViewsCount       int              `json:"views_count"`
	Completions      csvrows.RowSet   `json:"completions,omitempty"`
	Views            csvrows.RowSet   `json:"views,omitempty"`
}

func newSnapshotView(snap datastore.Snapshot, withRows bool) snapshotView {
	v := snapshotView{
		Source:           snap.Source,
		Status:           snap.Status,
		LastUpdated:      snap.LastUpdated,
		CompletionsCount: len(snap.Completions),
		ViewsCount:       len(snap.Views),
	}
	if snap.Err != nil {
		v.Error = snap.Err.Error()
	}
	if withRows {
		v.Completions = snap.Completions
		v.Views = snap.Views
	}
	return v
}

// GET /api/data[?rows=false]
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	withRows := r.URL.Query().Get("rows") != "false"
	writeJSON(w, http.StatusOK, newSnapshotView(s.cfg.Store.Current(), withRows))
}

// GET /api/events streams a snapshot summary (without rows) on every change.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	select {
	case <-s.streamsDone:
		writeError(w, http.StatusServiceUnavailable, errors.New("server shutting down"))
		return
	default:
	}
	ch, cancel := s.cfg.Store.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	send := func(snap datastore.Snapshot) bool {
		data, err := json.Marshal(newSnapshotView(snap, false))
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if !send(s.cfg.Store.Current()) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.streamsDone:
			return
		case snap, ok := <-ch:
			if !ok || !send(snap) {
				return
			}
		}
	}
}

// GET /api/endpoints
func (s *Server) handleEndpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Store.Endpoints())
}

type sourceRequest struct {
	Source string `json:"source"`
}

// POST /api/source {"source": "sample"|"real"}
func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if code, err := decodeJSON(r, &req); err != nil {
		writeError(w, code, err)
		return
	}
	snap, err := s.switchSource(r.Context(), req.Source)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, newSnapshotView(snap, false))
}

// POST /api/reload
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	snap, err := s.reload(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, newSnapshotView(snap, false))
}

func (s *Server) switchSource(ctx context.Context, name string) (datastore.Snapshot, error) {
	src, err := datastore.ParseSource(name)
	if err != nil {
		return datastore.Snapshot{}, err
	}
	if err := s.cfg.Store.SwitchSource(src); err != nil {
		return datastore.Snapshot{}, err
	}
	s.logRun(ctx, observability.RunEvent{
		Kind:    observability.KindSource,
		Outcome: "requested",
		Message: "Switched data source to " + string(src),
	})
	return s.cfg.Store.Current(), nil
}

func (s *Server) reload(ctx context.Context) (datastore.Snapshot, error) {
	if err := s.cfg.Store.Reload(); err != nil {
		return datastore.Snapshot{}, err
	}
	snap := s.cfg.Store.Current()
	s.logRun(ctx, observability.RunEvent{
		Kind:    observability.KindReload,
		Outcome: "requested",
		Message: "Reload of " + string(snap.Source) + " data requested",
	})
	return snap, nil
}

// GET /api/runs?kind=&limit=
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50, 1, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind := r.URL.Query().Get("kind")
	switch kind {
	case "", observability.KindScraper, observability.KindHeaders, observability.KindReload, observability.KindSource:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("kind: unknown %q", kind))
		return
	}
	events, err := s.cfg.Runs.Recent(r.Context(), kind, limit)
	if err != nil {
		s.log.Error("api: list runs", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": events})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, datastore.ErrUnknownSource):
		return http.StatusBadRequest
	case errors.Is(err, datastore.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
