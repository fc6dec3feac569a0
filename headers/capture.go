// Package headers captures the Knowby authentication headers by watching the
// network traffic of a real browser while a user logs in, then writes them
// to the keys file read by the scraper.
package headers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

var (
	// ErrNoHeaders is returned when no request carried all three headers
	// before the wait timed out.
	ErrNoHeaders = errors.New("headers: no authentication headers were detected")
	// ErrBusy is returned when a capture is already running.
	ErrBusy = errors.New("headers: capture already in progress")
)

// Header names watched on outgoing requests, lower case.
const (
	HeaderAuthorization = "authorization"
	HeaderMemberID      = "x-member-id"
	HeaderOrgID         = "x-organisation-id"
)

// Headers holds one complete set of captured values.
type Headers struct {
	Authorization  string `json:"AUTHORIZATION"`
	MemberID       string `json:"X_MEMBER_ID"`
	OrganisationID string `json:"X_ORGANISATION_ID"`
}

// Result is a successful capture.
type Result struct {
	Headers     Headers   `json:"headers"`
	LastUpdated time.Time `json:"lastUpdated"`
	KeysPath    string    `json:"keys_path,omitempty"`
}

// Config configures a Capturer.
type Config struct {
	// LoginURL is opened for the user. Default: https://knowby.pro/.
	LoginURL string
	// Headless hides the window. Default false: a person has to log in.
	Headless bool
	// RemoteURL is the DevTools WebSocket URL of an existing browser.
	// Empty = launch a local Chrome.
	RemoteURL string
	// NavigateTimeout bounds the initial page load. Default: 30s.
	NavigateTimeout time.Duration
	// SettleDelay is waited after the page loads. Default: 2s.
	SettleDelay time.Duration
	// PollInterval paces the "still waiting" log line. Default: 1s.
	PollInterval time.Duration
	// WaitTimeout bounds the wait for the headers. Default: 5m.
	WaitTimeout time.Duration
	// KeysPath is the file written on success. Default: python-scripts/keys.py.
	KeysPath string
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.LoginURL == "" {
		c.LoginURL = "https://knowby.pro/"
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	} else if c.SettleDelay == 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 5 * time.Minute
	}
	if c.KeysPath == "" {
		c.KeysPath = "python-scripts/keys.py"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Capturer runs header captures, one at a time.
type Capturer struct {
	cfg Config
	log *slog.Logger
	mu  sync.Mutex
	now func() time.Time
}

// New creates a Capturer.
func New(cfg Config) *Capturer {
	cfg.defaults()
	return &Capturer{cfg: cfg, log: cfg.Logger.With("component", "headers"), now: time.Now}
}

// Capture opens the login page and waits for a request carrying all three
// headers. The browser is always closed before Capture returns.
func (c *Capturer) Capture(ctx context.Context) (Result, error) {
	if !c.mu.TryLock() {
		return Result{}, ErrBusy
	}
	defer c.mu.Unlock()

	c.log.Info("headers: starting capture", "url", c.cfg.LoginURL)
	s, err := launch(c.cfg, c.log)
	if err != nil {
		return Result{}, err
	}
	defer s.close()

	page, err := stealth.Page(s.browser)
	if err != nil {
		return Result{}, fmt.Errorf("headers: open page: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.WaitTimeout)
	defer cancel()

	col := newCollector()
	wait := page.Context(waitCtx).EachEvent(func(e *proto.NetworkRequestWillBeSent) bool {
		h := make(map[string]string, len(e.Request.Headers))
		for k, v := range e.Request.Headers {
			h[k] = v.Str()
		}
		return col.observe(h)
	})
	go wait()

	navCtx, navCancel := context.WithTimeout(waitCtx, c.cfg.NavigateTimeout)
	err = page.Context(navCtx).Navigate(c.cfg.LoginURL)
	if err == nil {
		if err := page.Context(navCtx).WaitLoad(); err != nil {
			c.log.Warn("headers: wait load", "error", err)
		}
	}
	navCancel()
	if err != nil && !col.done() {
		return Result{}, fmt.Errorf("headers: navigate %s: %w", c.cfg.LoginURL, err)
	}

	h, err := c.await(waitCtx, col)
	if err != nil {
		return Result{}, err
	}

	if err := WriteKeys(c.cfg.KeysPath, h); err != nil {
		return Result{}, err
	}
	c.log.Info("headers: captured", "member_id", h.MemberID, "keys_path", c.cfg.KeysPath)
	return Result{Headers: h, LastUpdated: c.now().UTC(), KeysPath: c.cfg.KeysPath}, nil
}

// await waits out the settle delay, then until the collector has a match or
// ctx ends. A timeout reports ErrNoHeaders; a caller cancel reports ctx.Err().
func (c *Capturer) await(ctx context.Context, col *collector) (Headers, error) {
	settle := time.NewTimer(c.cfg.SettleDelay)
	defer settle.Stop()
	select {
	case <-ctx.Done():
	case <-settle.C:
	}

	tick := time.NewTicker(c.cfg.PollInterval)
	defer tick.Stop()
	start := time.Now()
	for {
		select {
		case <-col.found:
			return col.result(), nil
		case <-ctx.Done():
			if col.done() {
				return col.result(), nil
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Headers{}, ErrNoHeaders
			}
			return Headers{}, fmt.Errorf("headers: %w", ctx.Err())
		case <-tick.C:
			c.log.Debug("headers: waiting for login", "elapsed", time.Since(start).Round(time.Second))
		}
	}
}

// collector keeps the first request whose headers hold all three values.
type collector struct {
	once  sync.Once
	found chan struct{}
	h     Headers
}

func newCollector() *collector {
	return &collector{found: make(chan struct{})}
}

// observe records h if it is the first complete match and reports whether
// the collector is done.
func (c *collector) observe(h map[string]string) bool {
	m, ok := Match(h)
	if !ok {
		return c.done()
	}
	c.once.Do(func() {
		c.h = m
		close(c.found)
	})
	return true
}

func (c *collector) done() bool {
	select {
	case <-c.found:
		return true
	default:
		return false
	}
}

func (c *collector) result() Headers {
	<-c.found
	return c.h
}

// Match extracts the three headers from a request header map, matching names
// case-insensitively. It reports false unless all three are non-empty.
func Match(h map[string]string) (Headers, bool) {
	var out Headers
	for k, v := range h {
		switch strings.ToLower(k) {
		case HeaderAuthorization:
			out.Authorization = v
		case HeaderMemberID:
			out.MemberID = v
		case HeaderOrgID:
			out.OrganisationID = v
		}
	}
	ok := out.Authorization != "" && out.MemberID != "" && out.OrganisationID != ""
	return out, ok
}
