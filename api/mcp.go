package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/knowdash/aggregate"
	"github.com/hazyhaar/knowdash/kit"
)

type snapshotArgs struct {
	Rows bool `json:"rows"`
}

type sourceArgs struct {
	Source string `json:"source"`
}

type insightsArgs struct {
	Interval string   `json:"interval"`
	Knowbys  []string `json:"knowbys"`
}

type dailyArgs struct {
	Days int    `json:"days"`
	End  string `json:"end"`
}

type runsArgs struct {
	Kind  string `json:"kind"`
	Limit int    `json:"limit"`
}

// RegisterMCP adds the knowdash tools to srv. Collaborator tools are only
// registered when the collaborator is configured.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	mw := func(name string) kit.Middleware { return kit.Logging(s.log, name) }

	kit.RegisterMCPTool[snapshotArgs](srv, &mcp.Tool{
		Name:        "knowdash_snapshot",
		Description: "Current data source, load status and row counts. Set rows to include the parsed rows.",
		InputSchema: kit.InputSchema(map[string]any{
			"rows": map[string]any{"type": "boolean", "description": "Include completions and views rows"},
		}),
	}, mw("snapshot")(func(_ context.Context, req any) (any, error) {
		return newSnapshotView(s.cfg.Store.Current(), req.(snapshotArgs).Rows), nil
	}))

	kit.RegisterMCPTool[sourceArgs](srv, &mcp.Tool{
		Name:        "knowdash_switch_source",
		Description: "Switch the dashboard between the sample and real data sources.",
		InputSchema: kit.InputSchema(map[string]any{
			"source": map[string]any{"type": "string", "enum": []string{"sample", "real"}},
		}, "source"),
	}, mw("switch_source")(func(ctx context.Context, req any) (any, error) {
		snap, err := s.switchSource(ctx, req.(sourceArgs).Source)
		if err != nil {
			return nil, err
		}
		return newSnapshotView(snap, false), nil
	}))

	kit.RegisterMCPTool[struct{}](srv, &mcp.Tool{
		Name:        "knowdash_reload",
		Description: "Re-fetch the active data source in the background.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}, mw("reload")(func(ctx context.Context, _ any) (any, error) {
		snap, err := s.reload(ctx)
		if err != nil {
			return nil, err
		}
		return newSnapshotView(snap, false), nil
	}))

	kit.RegisterMCPTool[dailyArgs](srv, &mcp.Tool{
		Name:        "knowdash_daily",
		Description: "Completions, views and completion rate per day, ending at end (dd/MM/yyyy, default today).",
		InputSchema: kit.InputSchema(map[string]any{
			"days": map[string]any{"type": "integer", "minimum": 1, "maximum": 366},
			"end":  map[string]any{"type": "string"},
		}),
	}, mw("daily")(func(_ context.Context, req any) (any, error) {
		a := req.(dailyArgs)
		if a.Days == 0 {
			a.Days = 7
		}
		if a.Days < 1 || a.Days > 366 {
			return nil, errors.New("days: want 1 to 366")
		}
		end := s.cfg.Now()
		if a.End != "" {
			d, ok := aggregate.ParseDate(a.End)
			if !ok {
				return nil, fmt.Errorf("end: want a date formatted %s", aggregate.DateLayout)
			}
			end = d
		}
		return s.daily(a.Days, end), nil
	}))

	kit.RegisterMCPTool[insightsArgs](srv, &mcp.Tool{
		Name:        "knowdash_insights",
		Description: "Usage buckets by day, week or month, optionally restricted to some knowbys.",
		InputSchema: kit.InputSchema(map[string]any{
			"interval": map[string]any{"type": "string", "enum": []string{"day", "week", "month"}},
			"knowbys":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}),
	}, mw("insights")(func(_ context.Context, req any) (any, error) {
		a := req.(insightsArgs)
		iv, err := aggregate.ParseInterval(a.Interval)
		if err != nil {
			return nil, err
		}
		return s.insights(iv, a.Knowbys), nil
	}))

	kit.RegisterMCPTool[struct{}](srv, &mcp.Tool{
		Name:        "knowdash_summary",
		Description: "Active members, new knowbys, recently viewed and unused knowbys over the last 30 days.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}, mw("summary")(func(ctx context.Context, _ any) (any, error) {
		return s.summary(ctx)
	}))

	if s.cfg.Runs != nil {
		kit.RegisterMCPTool[runsArgs](srv, &mcp.Tool{
			Name:        "knowdash_runs",
			Description: "Recent scraper, header capture, reload and source events, newest first.",
			InputSchema: kit.InputSchema(map[string]any{
				"kind":  map[string]any{"type": "string", "enum": []string{"scraper", "headers", "reload", "source"}},
				"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 500},
			}),
		}, mw("runs")(func(ctx context.Context, req any) (any, error) {
			a := req.(runsArgs)
			if a.Limit <= 0 || a.Limit > 500 {
				a.Limit = 50
			}
			events, err := s.cfg.Runs.Recent(ctx, a.Kind, a.Limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"runs": events}, nil
		}))
	}

	if s.cfg.Scraper != nil {
		kit.RegisterMCPTool[struct{}](srv, &mcp.Tool{
			Name:        "knowdash_run_scraper",
			Description: "Run the external scraper and reload the data when it succeeds.",
			InputSchema: kit.InputSchema(map[string]any{}),
		}, mw("run_scraper")(func(ctx context.Context, _ any) (any, error) {
			_, out := s.runScraper(ctx)
			if !out.Success {
				return nil, errors.New(out.Message)
			}
			return out, nil
		}))
	}
}
