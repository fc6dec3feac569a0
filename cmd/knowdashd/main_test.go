package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/knowdash/api"
	"github.com/hazyhaar/knowdash/datastore"
	"github.com/hazyhaar/knowdash/fetch"
	"github.com/hazyhaar/knowdash/internal/config"
)

func TestPrintHash(t *testing.T) {
	var out bytes.Buffer
	if err := printHash(strings.NewReader("hunter2\n"), &out); err != nil {
		t.Fatal(err)
	}
	hash := strings.TrimSpace(out.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")); err != nil {
		t.Errorf("hash does not match: %v", err)
	}
	if err := printHash(strings.NewReader("\n"), io.Discard); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestNewWatcher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	for _, name := range []string{"completions.csv", "views.csv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("date\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := config.Default()
	cfg.Data.BaseDir = dir

	newStore := func(f *fetch.Fetcher) *datastore.Store {
		st, err := datastore.New(datastore.Config{Retriever: f, Logger: logger})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { st.Close() })
		return st
	}

	local := fetch.New(fetch.Config{BaseDir: dir})
	w, err := newWatcher(newStore(local), local, cfg, logger)
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	if w == nil {
		t.Fatal("expected a watcher for local files")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.OnChange(ctx, func() error { return nil })

	remote := fetch.New(fetch.Config{BaseURL: "http://localhost:3000"})
	w, err = newWatcher(newStore(remote), remote, cfg, logger)
	if err != nil || w != nil {
		t.Errorf("remote: got %v, %v; want nil watcher", w, err)
	}
}

func TestServe_ShutdownWithOpenEventStream(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	for _, name := range []string{"completions.csv", "views.csv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("date\n01/01/2024\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	store, err := datastore.New(datastore.Config{
		Retriever: fetch.New(fetch.Config{BaseDir: dir}),
		Logger:    logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	srv := api.New(api.Config{Store: store, Logger: logger})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- serve(ctx, logger, ln, srv.Handler(), srv.CloseStreams) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/events")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil || line != "event: snapshot\n" {
		t.Fatalf("first line: got %q, %v", line, err)
	}

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(shutdownTimeout / 2):
		t.Fatal("shutdown blocked on the open event stream")
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("shutdown took %v", d)
	}
}

func TestToggleOnSignal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := datastore.New(datastore.Config{
		Retriever: fetch.New(fetch.Config{BaseDir: t.TempDir()}),
		Logger:    logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	out := make(chan datastore.Source)
	done := make(chan struct{})
	go func() {
		defer close(done)
		toggleOnSignal(ctx, logger, sig, store.Source, out)
	}()

	for _, want := range []datastore.Source{datastore.SourceReal, datastore.SourceSample} {
		sig <- syscall.SIGUSR1
		select {
		case got := <-out:
			if got != want {
				t.Fatalf("toggle: got %q, want %q", got, want)
			}
			if err := store.SwitchSource(got); err != nil {
				t.Fatal(err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no toggle sent")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("toggleOnSignal did not stop")
	}
}
