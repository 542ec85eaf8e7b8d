package portal

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/sisstools/fsefetch/config"
	"github.com/sisstools/fsefetch/models"
)

// Navigator drives the portal SPA to the results table. The portal is
// client-rendered and can be in several states depending on how it was
// reached, so every step is gated on element presence instead of assuming
// a fixed click sequence.
type Navigator struct {
	cfg  config.PortalConfig
	log  *slog.Logger
	host string
}

// NewNavigator builds a navigator for the configured portal.
func NewNavigator(cfg config.PortalConfig, log *slog.Logger) *Navigator {
	host := ""
	if u, err := url.Parse(cfg.BaseURL); err == nil {
		host = u.Host
	}
	return &Navigator{cfg: cfg, log: log, host: host}
}

// Open navigates to a deep link. When the landing URL is an
// identity-provider redirect, it waits for the session to come back and
// re-issues the navigation once.
func (n *Navigator) Open(ctx context.Context, page *rod.Page, link string) error {
	if err := page.Timeout(n.cfg.PageTimeout).Navigate(link); err != nil {
		return models.NewProcError(models.ErrCodeNavigation, "failed to open "+link, err)
	}
	n.waitSettled(page)

	if n.sessionExpired(page) {
		n.log.Warn("session expired, waiting for re-login")
		if err := n.WaitForApp(ctx, page, n.cfg.ReloginWait); err != nil {
			return err
		}
		if err := page.Timeout(n.cfg.PageTimeout).Navigate(link); err != nil {
			return models.NewProcError(models.ErrCodeNavigation, "failed to re-open "+link, err)
		}
		n.waitSettled(page)
	}
	return nil
}

// ToResults walks the minimal interaction sequence from the current page
// state to the target results section. Idempotent with respect to the
// starting state.
func (n *Navigator) ToResults(ctx context.Context, page *rod.Page, codiceFiscale string) error {
	return n.toResults(ctx, page, codiceFiscale, true)
}

func (n *Navigator) toResults(ctx context.Context, page *rod.Page, codiceFiscale string, mayRetry bool) error {
	n.waitOverlayGone(page)

	if el, ok := n.visible(page, n.cfg.SearchInput); ok && codiceFiscale != "" {
		if err := el.SelectAllText(); err == nil {
			if err := el.Input(codiceFiscale); err != nil {
				return models.NewProcError(models.ErrCodeNavigation,
					"failed to fill patient search input", err)
			}
		}
		n.waitOverlayGone(page)
		if btn, ok := n.visible(page, n.cfg.SearchButton); ok {
			n.clickAndSettle(page, btn)
		}
	}

	if btn, ok := n.visible(page, n.cfg.EnterRecordButton); ok {
		n.clickAndSettle(page, btn)
	}

	tab, ok := n.findSectionTab(page)
	if !ok {
		return models.NewProcError(models.ErrCodeNavigation,
			"section tab not found: "+n.cfg.SectionName, nil)
	}
	n.clickAndSettle(page, tab)

	if n.sessionExpired(page) {
		if !mayRetry {
			return models.NewProcError(models.ErrCodeNavigation,
				"session expired again after re-login", nil)
		}
		if err := n.WaitForApp(ctx, page, n.cfg.ReloginWait); err != nil {
			return err
		}
		return n.toResults(ctx, page, codiceFiscale, false)
	}
	return nil
}

// WaitForApp blocks until the page URL returns to the application domain,
// polling at the configured cadence up to the given bound. Used both for
// the initial manual login and for mid-run session-expiry recovery.
func (n *Navigator) WaitForApp(ctx context.Context, page *rod.Page, bound time.Duration) error {
	deadline := time.Now().Add(bound)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return models.NewProcError(models.ErrCodeInterrupted,
				"interrupted while waiting for login", ctx.Err())
		case <-time.After(n.cfg.URLPollInterval):
		}
		if n.onApp(page) {
			n.log.Info("portal session active", "url", pageURL(page))
			n.waitOverlayGone(page)
			return nil
		}
	}
	return models.NewProcError(models.ErrCodeLoginWait,
		"login was not completed within "+bound.String(), nil)
}

// findSectionTab locates the target section by exact tab text, falling
// back to a partial match.
func (n *Navigator) findSectionTab(page *rod.Page) (*rod.Element, bool) {
	const tabSelector = "a, button, [role=tab], .mat-tab-label, li"
	name := regexp.QuoteMeta(n.cfg.SectionName)

	p := page.Timeout(n.cfg.PageTimeout)
	if has, el, err := p.HasR(tabSelector, `^\s*`+name+`\s*$`); err == nil && has {
		return el, true
	}
	if has, el, err := p.HasR(tabSelector, name); err == nil && has {
		return el, true
	}
	return nil, false
}

// clickAndSettle registers the idle waiter before clicking so in-flight
// requests triggered by the click are captured.
func (n *Navigator) clickAndSettle(page *rod.Page, el *rod.Element) {
	p := page.Timeout(n.cfg.PageTimeout)
	wait := p.WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		n.log.Debug("click failed", "error", err)
		return
	}
	wait()
	n.waitOverlayGone(page)
}

// waitSettled waits for the DOM to stop mutating after a navigation.
func (n *Navigator) waitSettled(page *rod.Page) {
	if err := page.Timeout(n.cfg.PageTimeout).WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		n.log.Debug("DOM did not stabilize", "error", err)
	}
}

// waitOverlayGone waits for the loading overlay to disappear. Absence of
// the overlay element is not an error.
func (n *Navigator) waitOverlayGone(page *rod.Page) {
	if n.cfg.OverlaySelector == "" {
		return
	}
	has, el, err := page.Has(n.cfg.OverlaySelector)
	if err != nil || !has {
		return
	}
	if err := el.Timeout(n.cfg.PageTimeout).WaitInvisible(); err != nil {
		n.log.Debug("overlay did not clear", "error", err)
	}
}

// visible is a boolean presence probe: the element exists right now and is
// visible. It never raises; absence is an ordinary answer.
func (n *Navigator) visible(page *rod.Page, selector string) (*rod.Element, bool) {
	if selector == "" {
		return nil, false
	}
	has, el, err := page.Has(selector)
	if err != nil || !has {
		return nil, false
	}
	if v, err := el.Visible(); err != nil || !v {
		return nil, false
	}
	return el, true
}

// sessionExpired reports whether the current URL points at the identity
// provider instead of the application.
func (n *Navigator) sessionExpired(page *rod.Page) bool {
	return !n.onApp(page)
}

func (n *Navigator) onApp(page *rod.Page) bool {
	u := pageURL(page)
	if u == "" {
		return false
	}
	lower := strings.ToLower(u)
	for _, pat := range n.cfg.SSOPatterns {
		if strings.Contains(lower, strings.ToLower(pat)) {
			return false
		}
	}
	return n.host == "" || strings.Contains(lower, strings.ToLower(n.host))
}

func pageURL(page *rod.Page) string {
	info, err := page.Timeout(5 * time.Second).Info()
	if err != nil {
		return ""
	}
	return info.URL
}
