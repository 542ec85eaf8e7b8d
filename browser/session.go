package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/sisstools/fsefetch/config"
	"github.com/sisstools/fsefetch/models"
)

// Session owns exactly one browser automation handle and one active page.
//
// The attached flag distinguishes a borrowed browser (reached over the
// remote-debugging port; Stop must leave the process running) from an owned
// one (launched by this session; Stop closes the whole browser). A session
// survives any number of patient runs and is recreated by Restart when the
// liveness probe fails.
type Session struct {
	cfg   config.BrowserConfig
	log   *slog.Logger
	reg   Registry
	procs ProcessController

	target   models.ConnectionTarget
	browser  *rod.Browser
	page     *rod.Page
	cancel   context.CancelFunc // releases an attached handle without killing the browser
	attached bool

	// Seams for the attach protocol, swapped out in tests.
	probeFn     func(port int) bool
	handshakeFn func(port int) error
	adoptFn     func(ctx context.Context) error
}

// NewSession wires the session controller with its platform capabilities.
func NewSession(cfg config.BrowserConfig, reg Registry, procs ProcessController, log *slog.Logger) *Session {
	s := &Session{cfg: cfg, log: log, reg: reg, procs: procs}
	s.probeFn = probeEndpoint
	s.handshakeFn = s.handshake
	s.adoptFn = s.adoptTab
	return s
}

// Start acquires a browser session in the configured mode.
func (s *Session) Start(ctx context.Context) error {
	s.target = Resolve(s.reg, s.cfg.Channel, s.cfg.DebugPort)

	var err error
	if s.cfg.AttachCDP {
		err = s.startAttached(ctx)
	} else {
		err = s.startOwned(ctx)
	}
	if err != nil {
		return err
	}

	s.localizeHeaders()
	s.log.Info("browser session ready",
		"attached", s.attached,
		"process", s.target.ProcessName,
	)
	return nil
}

// Stop closes only what this session opened: the tab for an attached
// session, the whole browser for an owned one. Individual close errors are
// swallowed so one failing resource does not block releasing the rest; the
// top-level handle is always released last.
func (s *Session) Stop() {
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			s.log.Debug("closing session tab", "error", err)
		}
		s.page = nil
	}
	if s.browser != nil {
		if s.attached {
			// Drop the CDP connection; the borrowed browser keeps running.
			if s.cancel != nil {
				s.cancel()
			}
		} else {
			if err := s.browser.Close(); err != nil {
				s.log.Debug("closing browser", "error", err)
			}
		}
		s.browser = nil
	}
	s.cancel = nil
	s.attached = false
	s.log.Info("browser session stopped")
}

// Restart tears the session down and starts it again. The profile
// directory is preserved, so authentication state on disk survives.
func (s *Session) Restart(ctx context.Context) error {
	s.log.Warn("restarting browser session")
	s.Stop()
	return s.Start(ctx)
}

// IsAlive is a cheap liveness probe on the active page.
func (s *Session) IsAlive() bool {
	if s.page == nil {
		return false
	}
	_, err := s.page.Timeout(5 * time.Second).Info()
	return err == nil
}

// Page returns the session's active page.
func (s *Session) Page() *rod.Page {
	return s.page
}

// Attached reports whether the session borrowed an existing browser.
func (s *Session) Attached() bool {
	return s.attached
}

// Target returns the connection target resolved at the last Start.
func (s *Session) Target() models.ConnectionTarget {
	return s.target
}

// localizeHeaders pins the portal's expected locale on the session tab.
func (s *Session) localizeHeaders() {
	if s.page == nil {
		return
	}
	_ = proto.NetworkSetExtraHTTPHeaders{
		Headers: proto.NetworkHeaders{
			"Accept-Language": gson.New("it-IT,it;q=0.9,en;q=0.5"),
		},
	}.Call(s.page)
}
