package sqltrace

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/knowdash/kit"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func openTraced(t *testing.T, slow time.Duration) (*sql.DB, *syncBuffer) {
	t.Helper()
	var buf syncBuffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	db := sql.OpenDB(NewConnector(":memory:", Options{Logger: log, Slow: slow}))
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db, &buf
}

func TestTrace_LogsStatements(t *testing.T) {
	db, buf := openTraced(t, time.Hour)
	ctx := kit.WithTraceID(context.Background(), "req_abc")

	if _, err := db.ExecContext(ctx, "CREATE TABLE t (\n  id INTEGER PRIMARY KEY,\n  v TEXT\n)"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", "x"); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n); err != nil || n != 1 {
		t.Fatalf("count: %d, %v", n, err)
	}

	out := buf.String()
	for _, want := range []string{
		`op=Exec query="CREATE TABLE t ( id INTEGER PRIMARY KEY, v TEXT )"`,
		`op=Query query="SELECT COUNT(*) FROM t"`,
		"trace_id=req_abc",
		"level=DEBUG",
		"component=sql",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestTrace_ErrorLevel(t *testing.T) {
	db, buf := openTraced(t, time.Hour)
	if _, err := db.Exec("INSERT INTO missing VALUES (1)"); err == nil {
		t.Fatal("expected error")
	}
	if out := buf.String(); !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "no such table") {
		t.Errorf("expected an error record:\n%s", out)
	}
}

func TestTrace_SlowAndPragma(t *testing.T) {
	db, buf := openTraced(t, time.Nanosecond)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "PRAGMA") {
		t.Errorf("fast PRAGMA should not be logged:\n%s", buf.String())
	}
	if _, err := db.Exec("CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "level=WARN") {
		t.Errorf("statement over the slow threshold should warn:\n%s", buf.String())
	}
}
