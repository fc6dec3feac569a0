// Package datastore is the single authoritative holder of the parsed
// completions and views row-sets for the selected data source.
//
// Every consumer reads from one Store instead of fetching and parsing on its
// own. Completions and views are always fetched together and published as a
// pair. At most one fetch is current: starting a new one (SwitchSource or
// Reload) cancels the previous one, and a superseded fetch never mutates
// published state, even if it completes successfully.
//
// Typical usage:
//
//	st, err := datastore.New(datastore.Config{Retriever: fetch.New(fetch.Config{})})
//	st.Start(ctx)
//	defer st.Close()
//	snap := st.Current()
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/knowdash/csvrows"
	"github.com/hazyhaar/knowdash/fetch"
)

// PreferenceKey is the single durable key holding the last chosen source.
const PreferenceKey = "data_mode"

// PreferenceStore is durable key/value storage for the chosen source.
type PreferenceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Config configures a Store.
type Config struct {
	// Endpoints maps sources to locations. Default: DefaultEndpoints().
	Endpoints Endpoints
	// Retriever fetches the text at a location. Required.
	Retriever fetch.Retriever
	// Prefs persists the chosen source. Nil = not persisted.
	Prefs PreferenceStore
	// DefaultSource is used when no valid preference is stored. Default: sample.
	DefaultSource Source
	// Toggle lets code without a reference to the store request a switch.
	// Invalid values are logged and ignored.
	Toggle <-chan Source
	// Logger. Default: slog.Default().
	Logger *slog.Logger
	// Now is the clock used for timestamps. Default: time.Now.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.Endpoints == nil {
		c.Endpoints = DefaultEndpoints()
	}
	if !c.DefaultSource.Valid() {
		c.DefaultSource = SourceSample
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Store holds the published row-sets, the per-source cache and the status.
// It is safe for concurrent use.
type Store struct {
	cfg Config
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// persistMu orders preference writes so the stored value ends up
	// matching the active source.
	persistMu sync.Mutex

	mu          sync.Mutex
	source      Source
	completions csvrows.RowSet
	views       csvrows.RowSet
	status      Status
	err         error
	lastUpdated time.Time
	cache       map[Source]cacheEntry
	gen         uint64
	inflight    context.CancelFunc
	subs        map[int]chan Snapshot
	nextSub     int
	started     bool
	closed      bool
}

// New creates a Store. Call Start to load the initial source.
func New(cfg Config) (*Store, error) {
	cfg.defaults()
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("datastore: Retriever is required")
	}
	if err := cfg.Endpoints.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		cfg:         cfg,
		log:         cfg.Logger.With("component", "datastore"),
		ctx:         ctx,
		cancel:      cancel,
		source:      cfg.DefaultSource,
		completions: csvrows.RowSet{},
		views:       csvrows.RowSet{},
		status:      StatusLoading,
		cache:       make(map[Source]cacheEntry, 2),
		subs:        make(map[int]chan Snapshot),
	}, nil
}

// Start resolves the initial source (stored preference, else the configured
// default), begins fetching it and starts consuming the toggle channel.
// The toggle consumer stops when ctx is cancelled or the store is closed.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("datastore: already started")
	}
	s.started = true
	if s.cfg.Toggle != nil {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	initial := s.cfg.DefaultSource
	if s.cfg.Prefs != nil {
		v, ok, err := s.cfg.Prefs.Get(ctx, PreferenceKey)
		switch {
		case err != nil:
			s.log.Warn("datastore: read preference", "error", err)
		case ok:
			if src, err := ParseSource(v); err == nil {
				initial = src
			} else {
				s.log.Warn("datastore: ignoring stored preference", "value", v)
			}
		}
	}

	if s.cfg.Toggle != nil {
		go s.consumeToggles(ctx)
	}

	s.log.Info("datastore: starting", "source", initial)
	return s.SwitchSource(initial)
}

// Close cancels any in-flight fetch, stops the toggle consumer, closes all
// subscriptions and waits for background work to finish.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	if s.inflight != nil {
		s.inflight()
		s.inflight = nil
	}
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

// Current returns the published state. It never blocks on I/O.
func (s *Store) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Source returns the active source.
func (s *Store) Source() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Endpoints returns the static location table.
func (s *Store) Endpoints() Endpoints {
	out := make(Endpoints, len(s.cfg.Endpoints))
	for k, v := range s.cfg.Endpoints {
		out[k] = v
	}
	return out
}

// CachedAt reports when the cache entry for src was last filled.
func (s *Store) CachedAt(src Source) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[src]
	return e.fetchedAt, ok
}

// SwitchSource makes next the active source. When next has a cache entry its
// row-sets are published immediately with status refreshing; otherwise the
// published row-sets are cleared and the status is loading. Either way a
// fetch runs in the background and supersedes any fetch still in flight.
func (s *Store) SwitchSource(next Source) error {
	if !next.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSource, string(next))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	prev := s.source
	s.source = next
	if cached, ok := s.cache[next]; ok {
		s.completions = cached.completions
		s.views = cached.views
		s.status = StatusRefreshing
	} else {
		s.completions = csvrows.RowSet{}
		s.views = csvrows.RowSet{}
		s.status = StatusLoading
	}
	s.beginFetchLocked(next)
	s.broadcastLocked()
	s.mu.Unlock()

	if prev != next {
		s.log.Info("datastore: source switched", "from", prev, "to", next)
	}
	s.persist(next)
	return nil
}

// Reload re-fetches the active source. The status becomes refreshing when
// data for the active source is already available, else loading.
func (s *Store) Reload() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	src := s.source
	_, cached := s.cache[src]
	if s.status == StatusReady || cached {
		s.status = StatusRefreshing
	} else {
		s.status = StatusLoading
	}
	s.beginFetchLocked(src)
	s.broadcastLocked()
	s.mu.Unlock()

	s.log.Debug("datastore: reload", "source", src)
	return nil
}

// beginFetchLocked cancels the current fetch and starts a new one for src.
func (s *Store) beginFetchLocked(src Source) {
	if s.inflight != nil {
		s.inflight()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(s.ctx)
	s.inflight = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runFetch(ctx, gen, src)
	}()
}

func (s *Store) runFetch(ctx context.Context, gen uint64, src Source) {
	start := time.Now()
	completions, views, err := s.fetchPair(ctx, src)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		s.log.Debug("datastore: discarding superseded fetch", "source", src)
		return
	}
	s.inflight = nil

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.err = err
		s.status = StatusError
		s.log.Warn("datastore: fetch failed", "source", src, "error", err)
		s.broadcastLocked()
		return
	}

	now := s.cfg.Now()
	s.cache[src] = cacheEntry{completions: completions, views: views, fetchedAt: now}
	s.completions = completions
	s.views = views
	s.err = nil
	s.status = StatusReady
	s.lastUpdated = now
	s.log.Info("datastore: fetch complete",
		"source", src,
		"completions", len(completions),
		"views", len(views),
		"duration_ms", time.Since(start).Milliseconds())
	s.broadcastLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Source:      s.source,
		Completions: s.completions,
		Views:       s.views,
		Status:      s.status,
		Err:         s.err,
	}
	if !s.lastUpdated.IsZero() {
		t := s.lastUpdated
		snap.LastUpdated = &t
	}
	return snap
}

// persist stores src if it is still the active source. Writes are serialised,
// so a switch that lost the race cannot overwrite a newer one.
func (s *Store) persist(src Source) {
	if s.cfg.Prefs == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.mu.Lock()
	current := s.source
	s.mu.Unlock()
	if current != src {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := s.cfg.Prefs.Set(ctx, PreferenceKey, string(src)); err != nil {
		s.log.Warn("datastore: persist preference", "source", src, "error", err)
	}
}

func (s *Store) consumeToggles(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case src, ok := <-s.cfg.Toggle:
			if !ok {
				return
			}
			if err := s.SwitchSource(src); err != nil {
				s.log.Warn("datastore: toggle ignored", "value", string(src), "error", err)
			}
		}
	}
}
