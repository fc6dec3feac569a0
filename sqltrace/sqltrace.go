// Package sqltrace wraps the modernc.org/sqlite driver so that every Exec and
// Query is logged through slog with the request's trace ID. Levels adapt to
// the outcome: Debug normally, Warn past the slow threshold, Error on failure.
//
//	db := sql.OpenDB(sqltrace.NewConnector("data/knowdash.db", sqltrace.Options{Logger: log}))
package sqltrace

import (
	"context"
	"database/sql/driver"
	"log/slog"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"

	"github.com/hazyhaar/knowdash/kit"
)

// pragmaQuiet hides fast, successful PRAGMA statements.
const pragmaQuiet = 10 * time.Millisecond

// Options configures tracing.
type Options struct {
	// Logger receives the records. Default: slog.Default().
	Logger *slog.Logger
	// Slow raises a statement to Warn. Default: 100ms.
	Slow time.Duration
}

// Connector opens traced connections to one DSN. Use it with sql.OpenDB.
type Connector struct {
	dsn string
	drv *Driver
}

// NewConnector returns a Connector for dsn.
func NewConnector(dsn string, opts Options) *Connector {
	return &Connector{dsn: dsn, drv: NewDriver(opts)}
}

// Connect implements driver.Connector.
func (c *Connector) Connect(context.Context) (driver.Conn, error) {
	return c.drv.Open(c.dsn)
}

// Driver implements driver.Connector.
func (c *Connector) Driver() driver.Driver { return c.drv }

// Driver is a traced sqlite driver.
type Driver struct {
	base driver.Driver
	log  *slog.Logger
	slow time.Duration
}

// NewDriver wraps a fresh sqlite driver.
func NewDriver(opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Slow <= 0 {
		opts.Slow = 100 * time.Millisecond
	}
	return &Driver{base: &sqlite.Driver{}, log: opts.Logger.With("component", "sql"), slow: opts.Slow}
}

// Open implements driver.Driver.
func (d *Driver) Open(name string) (driver.Conn, error) {
	c, err := d.base.Open(name)
	if err != nil {
		return nil, err
	}
	return &conn{Conn: c, d: d}, nil
}

type conn struct {
	driver.Conn
	d *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var st driver.Stmt
	var err error
	if pc, ok := c.Conn.(driver.ConnPrepareContext); ok {
		st, err = pc.PrepareContext(ctx, query)
	} else {
		st, err = c.Conn.Prepare(query)
	}
	if err != nil {
		c.d.record(ctx, "Prepare", query, 0, err)
		return nil, err
	}
	return &stmt{Stmt: st, query: query, d: c.d}, nil
}

func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if bc, ok := c.Conn.(driver.ConnBeginTx); ok {
		return bc.BeginTx(ctx, opts)
	}
	return c.Conn.Begin()
}

func (c *conn) Ping(ctx context.Context) error {
	if p, ok := c.Conn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

type stmt struct {
	driver.Stmt
	query string
	d     *Driver
}

func (s *stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	var res driver.Result
	var err error
	if ec, ok := s.Stmt.(driver.StmtExecContext); ok {
		res, err = ec.ExecContext(ctx, args)
	} else {
		res, err = s.Stmt.Exec(values(args))
	}
	s.d.record(ctx, "Exec", s.query, time.Since(start), err)
	return res, err
}

func (s *stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	var rows driver.Rows
	var err error
	if qc, ok := s.Stmt.(driver.StmtQueryContext); ok {
		rows, err = qc.QueryContext(ctx, args)
	} else {
		rows, err = s.Stmt.Query(values(args))
	}
	s.d.record(ctx, "Query", s.query, time.Since(start), err)
	return rows, err
}

func (d *Driver) record(ctx context.Context, op, query string, dur time.Duration, err error) {
	if err == nil && dur < pragmaQuiet && strings.HasPrefix(strings.TrimSpace(query), "PRAGMA ") {
		return
	}
	level := slog.LevelDebug
	switch {
	case err != nil:
		level = slog.LevelError
	case dur >= d.slow:
		level = slog.LevelWarn
	}
	if !d.log.Enabled(ctx, level) {
		return
	}
	attrs := []slog.Attr{
		slog.String("op", op),
		slog.String("query", compact(query)),
		slog.Duration("duration", dur),
	}
	if id := kit.GetTraceID(ctx); id != "" {
		attrs = append(attrs, slog.String("trace_id", id))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	d.log.LogAttrs(ctx, level, "sqltrace: statement", attrs...)
}

// compact folds whitespace so multi-line DDL logs on one line.
func compact(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

func values(named []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(named))
	for i, nv := range named {
		out[i] = nv.Value
	}
	return out
}
