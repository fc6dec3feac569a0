// Package observability records collaborator runs (scraper, header capture,
// data reloads) in SQLite so the dashboard can show recent activity.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/knowdash/dbopen"
	"github.com/hazyhaar/knowdash/idgen"
)

// Event kinds.
const (
	KindScraper = "scraper"
	KindHeaders = "headers"
	KindReload  = "reload"
	KindSource  = "source"
)

// RunEvent is one recorded run.
type RunEvent struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	Outcome   string        `json:"outcome"`
	Message   string        `json:"message"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// EventLogger writes run events and prunes old ones.
type EventLogger struct {
	db    *sql.DB
	log   *slog.Logger
	newID idgen.Generator
	now   func() time.Time
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets the ID generator. Default: "run_" + UUIDv7.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithLogger sets the slog logger used to report write failures.
func WithLogger(log *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.log = log }
}

// NewEventLogger creates a logger over db, which must already carry Schema.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		log:   slog.Default(),
		newID: idgen.Prefixed("run_", idgen.Default),
		now:   time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records ev and returns its ID. Failures are logged, never
// returned: a broken run log must not fail the run it describes.
func (l *EventLogger) LogEvent(ctx context.Context, ev RunEvent) string {
	if ev.ID == "" {
		ev.ID = l.newID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now()
	}
	_, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO run_events (event_id, kind, outcome, message, details, duration_ms, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		ev.ID, ev.Kind, ev.Outcome, ev.Message, ev.Details,
		ev.Duration.Milliseconds(), ev.CreatedAt.UnixMilli())
	if err != nil {
		l.log.Error("observability: event log failed", "error", err, "kind", ev.Kind)
	}
	return ev.ID
}

// Recent returns up to limit events, newest first. An empty kind matches all.
func (l *EventLogger) Recent(ctx context.Context, kind string, limit int) ([]RunEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, kind, outcome, message, details, duration_ms, created_at
		FROM run_events
		WHERE ? = '' OR kind = ?
		ORDER BY created_at DESC, event_id DESC
		LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: recent: %w", err)
	}
	defer rows.Close()

	out := []RunEvent{}
	for rows.Next() {
		var ev RunEvent
		var durMS, created int64
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Outcome, &ev.Message, &ev.Details, &durMS, &created); err != nil {
			return nil, fmt.Errorf("observability: scan: %w", err)
		}
		ev.Duration = time.Duration(durMS) * time.Millisecond
		ev.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than retention and returns how many went.
// A zero retention keeps everything.
func (l *EventLogger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := l.now().Add(-retention).UnixMilli()
	res, err := dbopen.Exec(ctx, l.db, `DELETE FROM run_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// RunCleanup prunes every interval until ctx ends.
func (l *EventLogger) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := l.Cleanup(ctx, retention)
			if err != nil {
				l.log.Warn("observability: cleanup", "error", err)
			} else if n > 0 {
				l.log.Info("observability: pruned run events", "deleted", n)
			}
		}
	}
}
