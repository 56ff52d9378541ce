// Package config loads the guard configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/guregu/null.v3"
)

// Default screen geometry used when neither the environment nor xrandr
// provide one.
const (
	DefaultScreenWidth  = 1920
	DefaultScreenHeight = 1080
)

// Config holds all guard configuration.
type Config struct {
	Browser BrowserConfig
	Guard   GuardConfig
	Screen  ScreenConfig
	Log     LogConfig
	Tracing TracingConfig

	Display string `envconfig:"DISPLAY" default:":99"`
}

// BrowserConfig describes how the browser process is launched.
type BrowserConfig struct {
	ExecutablePath   string `envconfig:"CHROME_PATH" default:"/usr/bin/chromium"`
	InitURL          string `envconfig:"CHROME_INIT_URL" default:"chrome://newtab/"`
	Flags            string `envconfig:"CHROME_FLAGS"`
	Headless         bool   `envconfig:"CHROME_HEADLESS" default:"false"`
	DebuggingPort    int    `envconfig:"CHROME_DEBUGGING_PORT" default:"9222"`
	DebuggingAddress string `envconfig:"CHROME_DEBUGGING_ADDRESS" default:"0.0.0.0"`
	ControlHost      string `envconfig:"CHROME_CONTROL_HOST" default:"localhost"`
	UserDataDir      string `envconfig:"CHROME_USER_DATA_DIR" default:"/tmp/chromium_user_data"`
	LogFile          string `envconfig:"CHROME_LOG_FILE" default:"/tmp/chromium_detailed.log"`
	OutputLog        string `envconfig:"CHROME_OUTPUT_LOG" default:"/tmp/chromium_output.log"`
	ExtensionDir     string `envconfig:"CHROME_EXTENSION_DIR"`
	JSHeapMB         int    `envconfig:"CHROME_JS_HEAP_MB" default:"512"`
}

// GuardConfig tunes the supervision loop.
type GuardConfig struct {
	CheckInterval   time.Duration `envconfig:"GUARD_CHECK_INTERVAL" default:"1s"`
	RetryCount      int           `envconfig:"GUARD_RETRY_COUNT" default:"6"`
	ProbeAttempts   int           `envconfig:"GUARD_PROBE_ATTEMPTS" default:"5"`
	ProbeTimeout    time.Duration `envconfig:"GUARD_PROBE_TIMEOUT" default:"5s"`
	HTTPTimeout     time.Duration `envconfig:"GUARD_HTTP_TIMEOUT" default:"5s"`
	CommandTimeout  time.Duration `envconfig:"GUARD_COMMAND_TIMEOUT" default:"3s"`
	TerminateGrace  time.Duration `envconfig:"GUARD_TERMINATE_GRACE" default:"2s"`
	RecoveryBackoff time.Duration `envconfig:"GUARD_RECOVERY_INTERVAL" default:"5s"`
	DefaultTabURL   string        `envconfig:"GUARD_DEFAULT_TAB_URL" default:"chrome://newtab/"`
	MaxConnFaults   int           `envconfig:"GUARD_MAX_CONN_FAULTS" default:"3"`
}

// ScreenConfig overrides the detected screen geometry. Both values must be
// set together.
type ScreenConfig struct {
	Width  null.Int `envconfig:"SCREEN_WIDTH"`
	Height null.Int `envconfig:"SCREEN_HEIGHT"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level          string `envconfig:"LOG_LEVEL" default:"info"`
	CategoryFilter string `envconfig:"LOG_CATEGORY_FILTER"`
}

// TracingConfig selects where guard spans are exported. Tracing is off
// when Endpoint is empty.
type TracingConfig struct {
	Endpoint string `envconfig:"TRACING_ENDPOINT"`
	Proto    string `envconfig:"TRACING_PROTO" default:"http"`
	Insecure bool   `envconfig:"TRACING_INSECURE" default:"false"`
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return t.Endpoint != ""
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the guard cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Browser.ExecutablePath == "" {
		errs = append(errs, errors.New("browser executable path is empty"))
	}
	if p := c.Browser.DebuggingPort; p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("invalid debugging port %d", p))
	}
	if c.Guard.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid check interval %s", c.Guard.CheckInterval))
	}
	if c.Guard.RetryCount < 1 {
		errs = append(errs, fmt.Errorf("invalid retry count %d: at least one launch attempt is needed", c.Guard.RetryCount))
	}
	if c.Guard.ProbeAttempts < 1 {
		errs = append(errs, fmt.Errorf("invalid probe attempts %d", c.Guard.ProbeAttempts))
	}
	if c.Guard.CommandTimeout <= 0 || c.Guard.ProbeTimeout <= 0 || c.Guard.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.Screen.Width.Valid != c.Screen.Height.Valid {
		errs = append(errs, errors.New("SCREEN_WIDTH and SCREEN_HEIGHT must be set together"))
	}
	if c.Screen.Width.Valid && (c.Screen.Width.Int64 <= 0 || c.Screen.Height.Int64 <= 0) {
		errs = append(errs, fmt.Errorf("invalid screen size %dx%d", c.Screen.Width.Int64, c.Screen.Height.Int64))
	}
	if c.Tracing.Enabled() && !strings.EqualFold(c.Tracing.Proto, "http") {
		errs = append(errs, fmt.Errorf("unsupported tracing protocol %q", c.Tracing.Proto))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ControlURL returns the base URL of the browser's HTTP control endpoint.
func (c *Config) ControlURL() string {
	return fmt.Sprintf("http://%s:%d", c.Browser.ControlHost, c.Browser.DebuggingPort)
}

// ExtraFlags splits the CHROME_FLAGS value into individual arguments.
func (b BrowserConfig) ExtraFlags() []string {
	return strings.Fields(b.Flags)
}

// ScreenSize returns the configured screen geometry, if any.
func (s ScreenConfig) ScreenSize() (width, height int, ok bool) {
	if !s.Width.Valid || !s.Height.Valid {
		return 0, 0, false
	}
	return int(s.Width.Int64), int(s.Height.Int64), true
}
