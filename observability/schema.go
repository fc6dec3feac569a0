package observability

import (
	"database/sql"
	"fmt"
)

// Schema is the DDL for the run log.
const Schema = `
CREATE TABLE IF NOT EXISTS run_events (
    event_id    TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    message     TEXT NOT NULL DEFAULT '',
    details     TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_created ON run_events(created_at);
CREATE INDEX IF NOT EXISTS idx_run_events_kind ON run_events(kind, created_at);
`

// Init applies Schema to db.
func Init(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("observability: init schema: %w", err)
	}
	return nil
}
