package browser

import (
	"context"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/sisstools/fsefetch/models"
)

// startOwned launches a fresh browser on an isolated profile. When the
// resolved system browser cannot be driven (version mismatch, missing
// binary), the bundled engine takes over, installing itself on first use.
func (s *Session) startOwned(ctx context.Context) error {
	bin := s.cfg.Bin
	if bin == "" {
		bin = s.target.ExecutablePath
	}

	controlURL, err := s.newLauncher(bin).Launch()
	if err != nil {
		s.log.Warn("system browser launch failed, falling back to bundled engine",
			"bin", bin, "error", err)
		bundled := launcher.NewBrowser()
		bundledBin, getErr := bundled.Get() // one-time fetch when missing
		if getErr != nil {
			return models.NewProcError(models.ErrCodeConnection,
				"bundled browser engine unavailable", getErr).
				WithHint("check network access or set FSE_BROWSER_BIN to an installed browser")
		}
		controlURL, err = s.newLauncher(bundledBin).Launch()
		if err != nil {
			return models.NewProcError(models.ErrCodeConnection,
				"failed to launch bundled browser engine", err)
		}
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return models.NewProcError(models.ErrCodeConnection,
			"failed to connect to launched browser", err)
	}
	s.browser = browser
	s.attached = false

	var page *rod.Page
	if s.cfg.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		_ = browser.Close()
		s.browser = nil
		return models.NewProcError(models.ErrCodeConnection,
			"failed to open automation tab", err)
	}
	s.page = page.Context(ctx)
	return nil
}

// newLauncher builds the launch configuration shared by the system and
// bundled paths. The profile directory is stable across restarts so the
// portal authentication state on disk survives.
func (s *Session) newLauncher(bin string) *launcher.Launcher {
	l := launcher.New().
		Headless(s.cfg.Headless).
		UserDataDir(s.cfg.UserDataDir)

	if bin != "" {
		l = l.Bin(bin)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("no-default-browser-check"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-popup-blocking"))
	return l
}
