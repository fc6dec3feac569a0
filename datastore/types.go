package datastore

import (
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/knowdash/csvrows"
)

// Source names one of the two data origins.
type Source string

const (
	SourceSample Source = "sample"
	SourceReal   Source = "real"
)

// ErrUnknownSource is returned for anything other than "sample" or "real".
var ErrUnknownSource = errors.New("datastore: unknown source")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("datastore: store is closed")

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	return s == SourceSample || s == SourceReal
}

// ParseSource validates a source name.
func ParseSource(v string) (Source, error) {
	s := Source(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, v)
	}
	return s, nil
}

// Endpoint is the pair of locations a source's row-sets are fetched from.
type Endpoint struct {
	Completions string `json:"completions" yaml:"completions"`
	Views       string `json:"views" yaml:"views"`
	// Published is the knowby metadata export. Optional; only the summary
	// statistics read it.
	Published string `json:"published,omitempty" yaml:"published"`
}

// Endpoints maps each source to its locations. It is static configuration.
type Endpoints map[Source]Endpoint

// DefaultEndpoints returns the stock locations served next to the dashboard.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		SourceSample: {Completions: "/completions.csv", Views: "/views.csv", Published: "/scraperpublished.csv"},
		SourceReal:   {Completions: "/scrapercompletions.csv", Views: "/scraperviews.csv", Published: "/scraperpublished.csv"},
	}
}

// Validate checks that both sources are configured with both locations.
func (e Endpoints) Validate() error {
	for _, s := range []Source{SourceSample, SourceReal} {
		ep, ok := e[s]
		if !ok {
			return fmt.Errorf("datastore: endpoints: missing source %q", s)
		}
		if ep.Completions == "" || ep.Views == "" {
			return fmt.Errorf("datastore: endpoints: source %q needs completions and views", s)
		}
	}
	return nil
}

// Status is the store-wide lifecycle flag.
type Status string

const (
	StatusLoading    Status = "loading"
	StatusReady      Status = "ready"
	StatusRefreshing Status = "refreshing"
	StatusError      Status = "error"
)

// Snapshot is a consistent read of the published state. The row-sets are
// shared with the store and must be treated as read-only.
type Snapshot struct {
	Source      Source
	Completions csvrows.RowSet
	Views       csvrows.RowSet
	Status      Status
	Err         error
	LastUpdated *time.Time
}

type cacheEntry struct {
	completions csvrows.RowSet
	views       csvrows.RowSet
	fetchedAt   time.Time
}
