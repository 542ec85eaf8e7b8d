package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Mail    MailConfig
	Browser BrowserConfig
	Portal  PortalConfig
	Paths   PathsConfig
	Run     RunConfig
	Log     LogConfig
}

// MailConfig controls the IMAP mailbox collaborator.
type MailConfig struct {
	Host   string // default: "mail-crs-lombardia.fastweb360.it"
	Port   int    // default: 993
	UseSSL bool   // default: true
	User   string
	Pass   string

	// SenderFilter and SubjectFilter are matched case-insensitively against
	// decoded headers; non-matching mail is ignored.
	SenderFilter  string // default: "mail crs lombardia"
	SubjectFilter string // default: "nuovo documento per"

	// MaxEmails caps how many notification mails one run consumes.
	// 0 means unlimited.
	MaxEmails int // default: 0

	// DeleteAfterProcessing removes fully processed mail from the server.
	DeleteAfterProcessing bool // default: false
}

// BrowserConfig controls session acquisition.
type BrowserConfig struct {
	// Headless controls whether an owned browser runs headless. The portal
	// requires a visible window for the manual smart-card login, so the
	// default is false.
	Headless bool // default: false

	// Channel is the preferred browser family: "msedge", "chrome",
	// "firefox", or "chromium" for the bundled engine.
	Channel string // default: "msedge"

	// AttachCDP switches session acquisition to attach mode: connect to an
	// already-running browser over the remote-debugging port to reuse its
	// authenticated session.
	AttachCDP bool // default: false

	// DebugPort is the remote-debugging port probed in attach mode.
	DebugPort int // default: 9222

	// UserDataDir is the persistent profile for owned sessions, so the
	// authentication state on disk survives a restart().
	UserDataDir string // default: <data>/browser_data

	// Bin overrides the resolved browser executable.
	Bin string

	// Stealth masks the usual automation fingerprints on owned sessions.
	Stealth bool // default: true

	// AttachTimeout bounds each endpoint wait loop of the attach protocol;
	// PollInterval is the probe cadence inside those loops.
	AttachTimeout time.Duration // default: 15s
	PollInterval  time.Duration // default: 500ms
}

// PortalConfig controls navigation and scraping of the FSE portal.
type PortalConfig struct {
	BaseURL     string // default: "https://operatorisiss.servizirl.it/opefseie/"
	SectionName string // default: "Referti"

	PageTimeout     time.Duration // default: 30s
	DownloadTimeout time.Duration // default: 60s

	// LoginWait bounds the initial manual-login phase; ReloginWait bounds
	// mid-run session-expiry recovery. URLPollInterval is the cadence of
	// the login polling loop.
	LoginWait       time.Duration // default: 5m
	ReloginWait     time.Duration // default: 60s
	URLPollInterval time.Duration // default: 2s

	// SSOPatterns mark a post-navigation URL as an identity-provider
	// redirect (expired session).
	SSOPatterns []string // default: ["login", "idpc", "sso", "siss-auth"]

	// Selector overrides for the presence-gated navigation steps. Each is
	// validated as a CSS selector at load time.
	OverlaySelector   string // default: ".loading-overlay, .spinner-overlay, mat-spinner"
	SearchInput       string // default: "input[name=codiceFiscale], input[placeholder*='Codice Fiscale' i]"
	SearchButton      string // default: "button[type=submit], button.search-btn"
	EnterRecordButton string // default: "button.enter-fse, a.enter-fse"

	// ConsentButtonText is the label of the optional confirmation dialog
	// shown before certain document types download.
	ConsentButtonText string // default: "Accetta"
}

// PathsConfig controls on-disk locations. All directories are created by
// Load.
type PathsConfig struct {
	DownloadDir string // default: ./downloads
	LogDir      string // default: ./logs
	DataDir     string // default: ./data
}

// RunConfig controls batch processing behavior.
type RunConfig struct {
	// AllowedTypes is the document-type allow-list. Empty means all types
	// except the fixed policy exclusions.
	AllowedTypes []string

	// PatientInterval is the politeness delay enforced between patients.
	PatientInterval time.Duration // default: 2s

	// EnteCacheTTL bounds reuse of scanned facility picklists.
	EnteCacheTTL time.Duration // default: 1h
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "text"
}

// Load reads settings from an env file (when present) plus environment
// variables with sane defaults, validates selector overrides, and creates
// the configured directories.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("loading %s: %w", envFile, err)
			}
		}
	}

	cfg := &Config{
		Mail: MailConfig{
			Host:                  envOr("FSE_IMAP_HOST", "mail-crs-lombardia.fastweb360.it"),
			Port:                  envIntOr("FSE_IMAP_PORT", 993),
			UseSSL:                envBoolOr("FSE_IMAP_SSL", true),
			User:                  os.Getenv("FSE_EMAIL_USER"),
			Pass:                  os.Getenv("FSE_EMAIL_PASS"),
			SenderFilter:          envOr("FSE_MAIL_SENDER", "mail crs lombardia"),
			SubjectFilter:         envOr("FSE_MAIL_SUBJECT", "nuovo documento per"),
			MaxEmails:             envIntOr("FSE_MAX_EMAILS", 0),
			DeleteAfterProcessing: envBoolOr("FSE_DELETE_PROCESSED", false),
		},
		Browser: BrowserConfig{
			Headless:      envBoolOr("FSE_HEADLESS", false),
			Channel:       envOr("FSE_BROWSER", "msedge"),
			AttachCDP:     envBoolOr("FSE_ATTACH_CDP", false),
			DebugPort:     envIntOr("FSE_CDP_PORT", 9222),
			UserDataDir:   envOr("FSE_BROWSER_DATA_DIR", "./data/browser_data"),
			Bin:           os.Getenv("FSE_BROWSER_BIN"),
			Stealth:       envBoolOr("FSE_STEALTH", true),
			AttachTimeout: envDurationOr("FSE_ATTACH_TIMEOUT", 15*time.Second),
			PollInterval:  envDurationOr("FSE_ATTACH_POLL", 500*time.Millisecond),
		},
		Portal: PortalConfig{
			BaseURL:         envOr("FSE_BASE_URL", "https://operatorisiss.servizirl.it/opefseie/"),
			SectionName:     envOr("FSE_SECTION", "Referti"),
			PageTimeout:     envDurationOr("FSE_PAGE_TIMEOUT", 30*time.Second),
			DownloadTimeout: envDurationOr("FSE_DOWNLOAD_TIMEOUT", 60*time.Second),
			LoginWait:       envDurationOr("FSE_LOGIN_WAIT", 5*time.Minute),
			ReloginWait:     envDurationOr("FSE_RELOGIN_WAIT", 60*time.Second),
			URLPollInterval: envDurationOr("FSE_URL_POLL", 2*time.Second),
			SSOPatterns: envSliceOr("FSE_SSO_PATTERNS", []string{
				"login", "idpc", "sso", "siss-auth",
			}),
			OverlaySelector:   envOr("FSE_SEL_OVERLAY", ".loading-overlay, .spinner-overlay, mat-spinner"),
			SearchInput:       envOr("FSE_SEL_SEARCH_INPUT", "input[name=codiceFiscale], input[placeholder*='Codice Fiscale' i]"),
			SearchButton:      envOr("FSE_SEL_SEARCH_BUTTON", "button[type=submit], button.search-btn"),
			EnterRecordButton: envOr("FSE_SEL_ENTER_RECORD", "button.enter-fse, a.enter-fse"),
			ConsentButtonText: envOr("FSE_CONSENT_TEXT", "Accetta"),
		},
		Paths: PathsConfig{
			DownloadDir: envOr("FSE_DOWNLOAD_DIR", "./downloads"),
			LogDir:      envOr("FSE_LOG_DIR", "./logs"),
			DataDir:     envOr("FSE_DATA_DIR", "./data"),
		},
		Run: RunConfig{
			AllowedTypes:    envSliceOr("FSE_ALLOWED_TYPES", nil),
			PatientInterval: envDurationOr("FSE_PATIENT_INTERVAL", 2*time.Second),
			EnteCacheTTL:    envDurationOr("FSE_ENTE_CACHE_TTL", time.Hour),
		},
		Log: LogConfig{
			Level:  envOr("FSE_LOG_LEVEL", "info"),
			Format: envOr("FSE_LOG_FORMAT", "text"),
		},
	}

	if err := cfg.validateSelectors(); err != nil {
		return nil, err
	}
	if err := cfg.createDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateSelectors rejects malformed CSS selector overrides at startup
// instead of deep inside a navigation step.
func (c *Config) validateSelectors() error {
	selectors := map[string]string{
		"FSE_SEL_OVERLAY":       c.Portal.OverlaySelector,
		"FSE_SEL_SEARCH_INPUT":  c.Portal.SearchInput,
		"FSE_SEL_SEARCH_BUTTON": c.Portal.SearchButton,
		"FSE_SEL_ENTER_RECORD":  c.Portal.EnterRecordButton,
	}
	for key, sel := range selectors {
		if sel == "" {
			continue
		}
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return fmt.Errorf("%s: invalid selector %q: %w", key, sel, err)
		}
	}
	return nil
}

func (c *Config) createDirectories() error {
	dirs := []string{
		c.Paths.DownloadDir,
		c.Paths.LogDir,
		c.Paths.DataDir,
		c.Browser.UserDataDir,
		filepath.Join(c.Paths.DownloadDir, "tmp"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}

// TempDownloadDir is where captured files land before the final rename.
func (c *Config) TempDownloadDir() string {
	return filepath.Join(c.Paths.DownloadDir, "tmp")
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
