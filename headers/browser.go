package headers

import (
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// session is one browser process (or remote connection) owned by a capture.
type session struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
}

func launch(cfg Config, log *slog.Logger) (*session, error) {
	s := &session{}

	wsURL := cfg.RemoteURL
	if wsURL != "" {
		log.Info("headers: connecting to remote browser", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("headers: launch: %w", err)
		}
		wsURL = u
		s.lnch = l
		log.Info("headers: launched local chrome", "headless", cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		s.close()
		return nil, fmt.Errorf("headers: connect: %w", err)
	}
	s.browser = b
	return s, nil
}

func (s *session) close() {
	if s.browser != nil {
		s.browser.Close()
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
		s.lnch = nil
	}
}
