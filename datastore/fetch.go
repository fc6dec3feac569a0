package datastore

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/knowdash/csvrows"
)

// fetchPair retrieves and parses both row-sets of src concurrently. The pair
// is returned only when both succeed; the first failure aborts the other
// retrieval through the shared context.
func (s *Store) fetchPair(ctx context.Context, src Source) (csvrows.RowSet, csvrows.RowSet, error) {
	ep, ok := s.cfg.Endpoints[src]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownSource, string(src))
	}

	var completions, views csvrows.RowSet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.load(gctx, ep.Completions)
		if err != nil {
			return fmt.Errorf("datastore: completions: %w", err)
		}
		completions = rows
		return nil
	})
	g.Go(func() error {
		rows, err := s.load(gctx, ep.Views)
		if err != nil {
			return fmt.Errorf("datastore: views: %w", err)
		}
		views = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return completions, views, nil
}

func (s *Store) load(ctx context.Context, location string) (csvrows.RowSet, error) {
	text, err := s.cfg.Retriever.Retrieve(ctx, location)
	if err != nil {
		return nil, err
	}
	return csvrows.Parse(text)
}

// LoadPublished fetches and parses the published-knowby export of src.
// It does not touch published state or the cache.
func (s *Store) LoadPublished(ctx context.Context, src Source) (csvrows.RowSet, error) {
	ep, ok := s.cfg.Endpoints[src]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, string(src))
	}
	if ep.Published == "" {
		return nil, fmt.Errorf("datastore: source %q has no published location", src)
	}
	return s.load(ctx, ep.Published)
}
