// Package api is the HTTP and MCP surface of knowdash. It reads the shared
// data store, computes statistics on demand and starts the two external
// collaborators (header capture, scraper).
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/knowdash/csvrows"
	"github.com/hazyhaar/knowdash/datastore"
	"github.com/hazyhaar/knowdash/headers"
	"github.com/hazyhaar/knowdash/observability"
	"github.com/hazyhaar/knowdash/scraper"
	"github.com/hazyhaar/knowdash/shield"
)

// DataStore is the part of *datastore.Store the API uses.
type DataStore interface {
	Current() datastore.Snapshot
	SwitchSource(datastore.Source) error
	Reload() error
	Endpoints() datastore.Endpoints
	Subscribe() (<-chan datastore.Snapshot, func())
	LoadPublished(ctx context.Context, src datastore.Source) (csvrows.RowSet, error)
}

// HeaderCapturer runs a header capture.
type HeaderCapturer interface {
	Capture(ctx context.Context) (headers.Result, error)
}

// ScraperRunner runs the scraper unless one is already running.
type ScraperRunner interface {
	TryRun(ctx context.Context) (scraper.Result, error)
}

// RunLog records and lists collaborator runs.
type RunLog interface {
	LogEvent(ctx context.Context, ev observability.RunEvent) string
	Recent(ctx context.Context, kind string, limit int) ([]observability.RunEvent, error)
}

// Config configures a Server. Only Store is required; routes for a nil
// collaborator are not mounted.
type Config struct {
	Store   DataStore
	Headers HeaderCapturer
	Scraper ScraperRunner
	Runs    RunLog

	// AuthUser and AuthPasswordHash (bcrypt) protect the collaborator
	// routes. Empty AuthUser leaves them open.
	AuthUser         string
	AuthPasswordHash string

	// MaxBodyBytes caps request bodies. Default: 64 KiB.
	MaxBodyBytes int64
	// MCP, when set, is served over streamable HTTP at /mcp.
	MCP *mcp.Server

	Logger *slog.Logger
	Now    func() time.Time
}

func (c *Config) defaults() {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 64 << 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Server serves the API.
type Server struct {
	cfg Config
	log *slog.Logger

	streamsDone chan struct{}
	closeOnce   sync.Once
}

// New creates a Server.
func New(cfg Config) *Server {
	cfg.defaults()
	return &Server{
		cfg:         cfg,
		log:         cfg.Logger.With("component", "api"),
		streamsDone: make(chan struct{}),
	}
}

// CloseStreams ends every open /api/events stream and refuses new ones.
// http.Server.Shutdown does not cancel in-flight requests, so register it
// with RegisterOnShutdown.
func (s *Server) CloseStreams() {
	s.closeOnce.Do(func() { close(s.streamsDone) })
}

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(s.log, s.cfg.MaxBodyBytes) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/data", s.handleData)
		r.Get("/events", s.handleEvents)
		r.Get("/endpoints", s.handleEndpoints)
		r.Post("/source", s.handleSource)
		r.Post("/reload", s.handleReload)
		r.Get("/knowbys", s.handleKnowbys)

		r.Route("/stats", func(r chi.Router) {
			r.Get("/daily", s.handleDaily)
			r.Get("/monthly", s.handleMonthly)
			r.Get("/month", s.handleMonthOverMonth)
			r.Get("/insights", s.handleInsights)
			r.Get("/top", s.handleTop)
			r.Get("/summary", s.handleSummary)
		})

		r.Group(func(r chi.Router) {
			r.Use(shield.BasicAuth("knowdash", s.cfg.AuthUser, s.cfg.AuthPasswordHash))
			if s.cfg.Headers != nil {
				r.Post("/extract-headers", s.handleExtractHeaders)
			}
			if s.cfg.Scraper != nil {
				r.Post("/run-scraper", s.handleRunScraper)
			}
			if s.cfg.Runs != nil {
				r.Get("/runs", s.handleRuns)
			}
		})
	})

	if s.cfg.MCP != nil {
		srv := s.cfg.MCP
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
	}
	return r
}

func (s *Server) logRun(ctx context.Context, ev observability.RunEvent) {
	if s.cfg.Runs == nil {
		return
	}
	s.cfg.Runs.LogEvent(context.WithoutCancel(ctx), ev)
}
