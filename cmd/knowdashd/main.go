// Command knowdashd serves the knowdash analytics API.
//
// Usage:
//
//	knowdashd -config knowdash.yaml        # HTTP API (and /mcp when enabled)
//	knowdashd -config knowdash.yaml -mcp   # MCP over stdio
//	knowdashd -hash-password < pw.txt      # print a bcrypt hash for server.auth
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/knowdash/api"
	"github.com/hazyhaar/knowdash/datastore"
	"github.com/hazyhaar/knowdash/dbopen"
	"github.com/hazyhaar/knowdash/fetch"
	"github.com/hazyhaar/knowdash/headers"
	"github.com/hazyhaar/knowdash/internal/config"
	"github.com/hazyhaar/knowdash/observability"
	"github.com/hazyhaar/knowdash/prefs"
	"github.com/hazyhaar/knowdash/scraper"
	"github.com/hazyhaar/knowdash/shield"
	"github.com/hazyhaar/knowdash/watch"
)

const version = "0.1.0"

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to knowdash.yaml (defaults apply without one)")
	addr := flag.String("addr", "", "listen address, overrides server.addr")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides log_level)")
	stdio := flag.Bool("mcp", false, "serve MCP over stdio instead of HTTP")
	hashPassword := flag.Bool("hash-password", false, "read a password from stdin and print its bcrypt hash")
	flag.Parse()

	if *hashPassword {
		if err := printHash(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "knowdashd:", err)
			os.Exit(1)
		}
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "knowdashd:", err)
			os.Exit(1)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *stdio); err != nil {
		logger.Error("knowdashd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, stdio bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	dbOpts := []dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema)}
	if cfg.Database.Trace {
		dbOpts = append(dbOpts, dbopen.WithTrace(logger, cfg.Database.SlowQuery))
	}
	db, err := dbopen.Open(cfg.Database.Path, dbOpts...)
	if err != nil {
		return err
	}
	defer db.Close()

	pref, err := openPrefs(cfg, db)
	if err != nil {
		return err
	}
	runs := observability.NewEventLogger(db, observability.WithLogger(logger))

	fetcher := fetch.New(fetch.Config{BaseURL: cfg.Data.BaseURL, BaseDir: cfg.Data.BaseDir})
	toggle := make(chan datastore.Source)
	store, err := datastore.New(datastore.Config{
		Endpoints:     cfg.Data.Endpoints,
		Retriever:     fetcher,
		Prefs:         pref,
		DefaultSource: datastore.Source(cfg.Data.DefaultSource),
		Toggle:        toggle,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Start(ctx); err != nil {
		return err
	}

	var mcpSrv *mcp.Server
	if cfg.Server.MCP || stdio {
		mcpSrv = mcp.NewServer(&mcp.Implementation{Name: "knowdash", Version: version}, nil)
	}
	apiCfg := api.Config{
		Store: store,
		Headers: headers.New(headers.Config{
			LoginURL:    cfg.Headers.LoginURL,
			Headless:    cfg.Headers.Headless,
			RemoteURL:   cfg.Headers.Remote,
			WaitTimeout: cfg.Headers.WaitTimeout,
			KeysPath:    cfg.Headers.KeysPath,
			Logger:      logger,
		}),
		Scraper: scraper.New(scraper.Config{
			Command: cfg.Scraper.Command,
			Dir:     cfg.Scraper.Dir,
			Timeout: cfg.Scraper.Timeout,
			Env:     cfg.Scraper.Env,
			Logger:  logger,
		}),
		Runs:             runs,
		AuthUser:         cfg.Server.Auth.User,
		AuthPasswordHash: cfg.Server.Auth.PasswordHash,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		Logger:           logger,
	}
	if cfg.Server.MCP && !stdio {
		apiCfg.MCP = mcpSrv
	}
	srv := api.New(apiCfg)
	if mcpSrv != nil {
		srv.RegisterMCP(mcpSrv)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runs.RunCleanup(ctx, cfg.Runs.CleanupInterval, cfg.Runs.Retention)
		return nil
	})
	g.Go(func() error {
		logChanges(ctx, logger, store)
		return nil
	})
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	g.Go(func() error {
		toggleOnSignal(ctx, logger, usr1, store.Source, toggle)
		return nil
	})
	if cfg.Data.Watch {
		w, err := newWatcher(store, fetcher, cfg, logger)
		if err != nil {
			return err
		}
		if w != nil {
			g.Go(func() error {
				w.OnChange(ctx, store.Reload)
				return nil
			})
		}
	}

	if stdio {
		g.Go(func() error {
			defer cancel()
			logger.Info("knowdashd: serving MCP on stdio")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				return fmt.Errorf("mcp stdio: %w", err)
			}
			return nil
		})
	} else {
		g.Go(func() error { return serveHTTP(ctx, logger, cfg.Server.Addr, srv.Handler(), srv.CloseStreams) })
	}
	return g.Wait()
}

func openPrefs(cfg *config.Config, db *sql.DB) (datastore.PreferenceStore, error) {
	if cfg.Database.Prefs == "memory" {
		return prefs.NewMemory(), nil
	}
	return prefs.NewSQLite(db)
}

// newWatcher watches the endpoint files that live on disk. It returns
// nil when every location is served over HTTP.
func newWatcher(store *datastore.Store, fetcher *fetch.Fetcher, cfg *config.Config, logger *slog.Logger) (*watch.Watcher, error) {
	var files []string
	for _, ep := range store.Endpoints() {
		for _, loc := range []string{ep.Completions, ep.Views} {
			if p, ok := fetcher.Path(loc); ok {
				files = append(files, p)
			}
		}
	}
	if len(files) == 0 {
		logger.Warn("knowdashd: data.watch set but no endpoint is a local file")
		return nil, nil
	}
	return watch.New(files, watch.Options{Debounce: cfg.Data.WatchDebounce, Logger: logger})
}

// logChanges logs status transitions of the store.
func logChanges(ctx context.Context, logger *slog.Logger, store *datastore.Store) {
	ch, unsubscribe := store.Subscribe()
	defer unsubscribe()
	var last datastore.Status
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if snap.Status == last {
				continue
			}
			last = snap.Status
			attrs := []any{"source", snap.Source, "status", snap.Status,
				"completions", len(snap.Completions), "views", len(snap.Views)}
			if snap.Err != nil {
				attrs = append(attrs, "error", snap.Err)
			}
			logger.Info("knowdashd: data status", attrs...)
		}
	}
}

// toggleOnSignal flips between sample and real each time sig fires, sending
// the new source through the store's toggle channel.
func toggleOnSignal(ctx context.Context, logger *slog.Logger, sig <-chan os.Signal, current func() datastore.Source, out chan<- datastore.Source) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			next := datastore.SourceReal
			if current() == datastore.SourceReal {
				next = datastore.SourceSample
			}
			logger.Info("knowdashd: toggle requested", "to", next)
			select {
			case out <- next:
			case <-ctx.Done():
				return
			}
		}
	}
}

// serveHTTP serves h until ctx is done, then shuts down gracefully.
// onShutdown hooks run when shutdown starts; long-lived streams must end there
// or Shutdown waits for its deadline.
func serveHTTP(ctx context.Context, logger *slog.Logger, addr string, h http.Handler, onShutdown ...func()) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	return serve(ctx, logger, ln, h, onShutdown...)
}

func serve(ctx context.Context, logger *slog.Logger, ln net.Listener, h http.Handler, onShutdown ...func()) error {
	hs := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	for _, f := range onShutdown {
		hs.RegisterOnShutdown(f)
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("knowdashd: listening", "addr", ln.Addr().String())
		errCh <- hs.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http: %w", err)
	case <-ctx.Done():
	}

	logger.Info("knowdashd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func printHash(r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return errors.New("empty password")
	}
	hash, err := shield.HashPassword(pw)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}
