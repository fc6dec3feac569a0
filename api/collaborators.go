package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hazyhaar/knowdash/headers"
	"github.com/hazyhaar/knowdash/observability"
	"github.com/hazyhaar/knowdash/scraper"
)

// headersResponse is the payload of /api/extract-headers.
type headersResponse struct {
	Success     bool             `json:"success"`
	Message     string           `json:"message,omitempty"`
	Error       string           `json:"error,omitempty"`
	Details     string           `json:"details,omitempty"`
	Headers     *headers.Headers `json:"headers,omitempty"`
	LastUpdated *time.Time       `json:"lastUpdated,omitempty"`
}

// scraperResponse is the payload of /api/run-scraper.
type scraperResponse struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Outcome  scraper.Outcome `json:"outcome,omitempty"`
	ExitCode int             `json:"exit_code"`
	Reloaded bool            `json:"reloaded"`
}

// extractHeaders runs a capture and maps the outcome to a status code and
// payload. The capture outlives a disconnecting client.
func (s *Server) extractHeaders(ctx context.Context) (int, headersResponse) {
	start := time.Now()
	res, err := s.cfg.Headers.Capture(context.WithoutCancel(ctx))
	ev := observability.RunEvent{Kind: observability.KindHeaders, Duration: time.Since(start)}

	var code int
	var out headersResponse
	switch {
	case err == nil:
		code = http.StatusOK
		out = headersResponse{
			Success:     true,
			Message:     "Headers extracted and saved successfully",
			Headers:     &res.Headers,
			LastUpdated: &res.LastUpdated,
		}
		ev.Outcome, ev.Message = "success", out.Message
	case errors.Is(err, headers.ErrBusy):
		return http.StatusConflict, headersResponse{Error: "Header capture already in progress"}
	case errors.Is(err, headers.ErrNoHeaders):
		code = http.StatusInternalServerError
		out = headersResponse{
			Error:   "Failed to capture headers",
			Details: "No authentication headers were detected. Please make sure you are logged into Knowby.",
		}
		ev.Outcome, ev.Message, ev.Details = "no_headers", out.Error, out.Details
	default:
		code = http.StatusInternalServerError
		out = headersResponse{Error: "Failed to extract headers", Details: err.Error()}
		ev.Outcome, ev.Message, ev.Details = "failed", out.Error, out.Details
	}
	s.logRun(ctx, ev)
	return code, out
}

// POST /api/extract-headers
func (s *Server) handleExtractHeaders(w http.ResponseWriter, r *http.Request) {
	code, out := s.extractHeaders(r.Context())
	writeJSON(w, code, out)
}

// runScraper runs the scraper and, when it succeeds, reloads the store so
// the new export is picked up.
func (s *Server) runScraper(ctx context.Context) (int, scraperResponse) {
	res, err := s.cfg.Scraper.TryRun(context.WithoutCancel(ctx))
	if errors.Is(err, scraper.ErrBusy) {
		return http.StatusConflict, scraperResponse{Message: "Scraper is already running", ExitCode: -1}
	}

	out := scraperResponse{
		Success:  res.OK(),
		Message:  res.Message,
		Outcome:  res.Outcome,
		ExitCode: res.ExitCode,
	}
	code := http.StatusOK
	switch res.Outcome {
	case scraper.Success:
		if err := s.cfg.Store.Reload(); err != nil {
			s.log.Warn("api: reload after scrape", "error", err)
		} else {
			out.Reloaded = true
		}
	case scraper.TimedOut:
		code = http.StatusRequestTimeout
	default:
		code = http.StatusInternalServerError
	}

	ev := observability.RunEvent{
		Kind:     observability.KindScraper,
		Outcome:  string(res.Outcome),
		Message:  res.Message,
		Duration: res.Duration,
	}
	if res.Err != nil {
		ev.Details = res.Err.Error()
	}
	s.logRun(ctx, ev)
	return code, out
}

// POST /api/run-scraper
func (s *Server) handleRunScraper(w http.ResponseWriter, r *http.Request) {
	code, out := s.runScraper(r.Context())
	writeJSON(w, code, out)
}
