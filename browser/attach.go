package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/sisstools/fsefetch/models"
)

// attachAction is the recovery branch chosen for one attach attempt.
type attachAction int

const (
	actionHandshake    attachAction = iota // endpoint answers: connect directly
	actionRelaunch                         // browser up without debugging, override active: recycle it
	actionGuidance                         // browser up without debugging, no override: operator must act
	actionLaunch                           // browser down: start it with the debug flag
	actionNoExecutable                     // nothing to launch
)

// planAttach maps the observed endpoint/process/override state to a
// recovery branch. Each branch enters its bounded wait loop at most once.
func planAttach(portOpen, procRunning, overrideActive bool, exePath string) attachAction {
	switch {
	case portOpen:
		return actionHandshake
	case procRunning && !overrideActive:
		return actionGuidance
	case exePath == "":
		return actionNoExecutable
	case procRunning:
		return actionRelaunch
	default:
		return actionLaunch
	}
}

// startAttached connects to the remote-debugging endpoint of an existing
// browser profile, recovering from stale sessions, disabled debugging, and
// a browser that is not running at all.
func (s *Session) startAttached(ctx context.Context) error {
	port := s.target.Port
	action := planAttach(
		s.probeFn(port),
		s.procs.Running(s.target.ProcessName),
		s.reg.DebugOverrideActive(s.target.ExecutablePath),
		s.target.ExecutablePath,
	)

	switch action {
	case actionHandshake:
		err := s.handshakeFn(port)
		if err == nil {
			return s.adoptFn(ctx)
		}
		s.log.Warn("handshake failed on responding port, recycling browser",
			"port", port, "error", err)
		// A stale or conflicting session holds the port. Terminate every
		// instance, relaunch with debugging, and try the handshake once more.
		if s.target.ExecutablePath == "" {
			return errNoExecutable()
		}
		if err := s.recycleWithDebug(ctx, port); err != nil {
			return err
		}
		if err := s.handshakeFn(port); err != nil {
			return models.NewProcError(models.ErrCodeConnection,
				fmt.Sprintf("handshake still failing on port %d after browser recycle", port), err)
		}
		return s.adoptFn(ctx)

	case actionRelaunch:
		if err := s.recycleWithDebug(ctx, port); err != nil {
			return err
		}
		if err := s.handshakeFn(port); err != nil {
			return models.NewProcError(models.ErrCodeConnection,
				fmt.Sprintf("handshake failed on port %d after relaunch", port), err)
		}
		return s.adoptFn(ctx)

	case actionGuidance:
		return models.NewProcError(models.ErrCodeConnection,
			fmt.Sprintf("%s is running without remote debugging on port %d",
				s.target.ProcessName, port), nil).
			WithHint("close every browser window and retry, or enable the debug launch override in the settings so it can be restarted automatically")

	case actionLaunch:
		if err := s.launchWithDebug(ctx, port); err != nil {
			return err
		}
		if err := s.handshakeFn(port); err != nil {
			return models.NewProcError(models.ErrCodeConnection,
				fmt.Sprintf("handshake failed on port %d after launch", port), err)
		}
		return s.adoptFn(ctx)

	default:
		return errNoExecutable()
	}
}

func errNoExecutable() error {
	return models.NewProcError(models.ErrCodeConnection,
		"no browser executable could be resolved", nil).
		WithHint("install Edge or Chrome, or set FSE_BROWSER_BIN, or disable attach mode to use the bundled engine")
}

// recycleWithDebug force-terminates every instance of the target browser
// and relaunches it with debugging enabled.
func (s *Session) recycleWithDebug(ctx context.Context, port int) error {
	if err := s.procs.KillAll(s.target.ProcessName); err != nil {
		return models.NewProcError(models.ErrCodeConnection,
			"failed to terminate "+s.target.ProcessName, err)
	}
	return s.launchWithDebug(ctx, port)
}

// launchWithDebug starts the target browser with the remote-debugging flag
// and polls the endpoint until available (bounded wait, entered once).
func (s *Session) launchWithDebug(ctx context.Context, port int) error {
	args := DebugArgs(s.target.ProcessName, port)
	if args == nil {
		return models.NewProcError(models.ErrCodeConnection,
			s.target.ProcessName+" does not support remote-debugging attach", nil).
			WithHint("pick a Chromium-family browser or disable attach mode")
	}
	s.log.Info("launching browser with remote debugging",
		"exe", s.target.ExecutablePath, "port", port)
	if err := s.procs.Start(s.target.ExecutablePath, args...); err != nil {
		return models.NewProcError(models.ErrCodeConnection,
			"failed to start "+s.target.ProcessName, err)
	}
	if !s.waitEndpoint(ctx, port) {
		return models.NewProcError(models.ErrCodeConnection,
			fmt.Sprintf("debugging endpoint on port %d did not come up within %s",
				port, s.cfg.AttachTimeout), nil)
	}
	return nil
}

// waitEndpoint polls the liveness probe at the configured interval until
// the endpoint responds or the attach timeout elapses.
func (s *Session) waitEndpoint(ctx context.Context, port int) bool {
	deadline := time.Now().Add(s.cfg.AttachTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.cfg.PollInterval):
		}
		if s.probeFn(port) {
			return true
		}
	}
	return false
}

// handshake resolves the websocket debugger URL and connects the CDP
// client. The connection gets its own cancelable context so Stop can
// release the handle without killing the borrowed browser.
func (s *Session) handshake(port int) error {
	wsURL, err := websocketDebuggerURL(port)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithCancel(context.Background())
	browser := rod.New().ControlURL(wsURL).Context(cctx)
	if err := browser.Connect(); err != nil {
		cancel()
		return err
	}
	s.browser = browser
	s.cancel = cancel
	return nil
}

// adoptTab opens this session's own tab inside the borrowed browser's
// first browsing context, inheriting its authentication cookies.
func (s *Session) adoptTab(ctx context.Context) error {
	existing, err := s.browser.Pages()
	if err != nil {
		return models.NewProcError(models.ErrCodeConnection,
			"failed to list pages on attached browser", err)
	}
	page, err := s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return models.NewProcError(models.ErrCodeConnection,
			"failed to open tab on attached browser", err)
	}
	s.page = page.Context(ctx)
	s.attached = true
	s.log.Info("attached to existing browser",
		"port", s.target.Port, "existingTabs", len(existing))
	return nil
}

// probeEndpoint is the cheap liveness check: the HTTP version-info
// endpoint first, a raw socket dial as fallback.
func probeEndpoint(port int) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/json/version", port))
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return true
		}
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// websocketDebuggerURL fetches the CDP entry point from /json/version.
func websocketDebuggerURL(port int) (string, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/json/version", port))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("parsing /json/version: %w", err)
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("no webSocketDebuggerUrl on port %d", port)
	}
	return info.WebSocketDebuggerURL, nil
}
