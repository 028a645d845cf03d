package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultFileName = "worktrack.yaml"
	EnvPrefix       = "WORKTRACK"
)

// Event source identifiers accepted by capture.event_source.
const (
	EventSourceNative    = "native"
	EventSourceStdin     = "stdin"
	EventSourceSynthetic = "synthetic"
	EventSourceNone      = "none"
)

// Config captures the user-adjustable knobs for tracking and sync.
type Config struct {
	Paths    PathsConfig    `yaml:"paths" mapstructure:"paths"`
	Remote   RemoteConfig   `yaml:"remote" mapstructure:"remote"`
	Identity IdentityConfig `yaml:"identity" mapstructure:"identity"`
	Capture  CaptureConfig  `yaml:"capture" mapstructure:"capture"`
	Sync     SyncConfig     `yaml:"sync" mapstructure:"sync"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`

	// Source indicates where the configuration originated (defaults or a file path).
	Source string `yaml:"-" mapstructure:"-"`
}

// PathsConfig controls filesystem locations.
type PathsConfig struct {
	// QueueDir is the root of the offline record queue.
	QueueDir string `yaml:"queue_dir" mapstructure:"queue_dir"`
	// StateDir holds per-run manifests and capture logs.
	StateDir string `yaml:"state_dir" mapstructure:"state_dir"`
}

// RemoteConfig points at the work diary API.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// IdentityConfig identifies the tracked user.
type IdentityConfig struct {
	UserID int64 `yaml:"user_id" mapstructure:"user_id"`
}

// CaptureConfig controls screenshot cadence, encoding and input handling.
type CaptureConfig struct {
	Interval          time.Duration `yaml:"interval" mapstructure:"interval"`
	MouseMoveThrottle time.Duration `yaml:"mouse_move_throttle" mapstructure:"mouse_move_throttle"`
	StopOnEscape      bool          `yaml:"stop_on_escape" mapstructure:"stop_on_escape"`
	ImageWidth        int           `yaml:"image_width" mapstructure:"image_width"`
	ImageHeight       int           `yaml:"image_height" mapstructure:"image_height"`
	ThumbWidth        int           `yaml:"thumb_width" mapstructure:"thumb_width"`
	ThumbHeight       int           `yaml:"thumb_height" mapstructure:"thumb_height"`
	JPEGQuality       int           `yaml:"jpeg_quality" mapstructure:"jpeg_quality"`
	// ScreenshotCommand overrides the platform capture backend. "synthetic"
	// selects a generated test pattern.
	ScreenshotCommand string `yaml:"screenshot_command" mapstructure:"screenshot_command"`
	// EventSource is native, stdin, synthetic or none.
	EventSource string `yaml:"event_source" mapstructure:"event_source"`
}

// SyncConfig tunes background reconciliation.
type SyncConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval" mapstructure:"reconcile_interval"`
	StabilityWindow   time.Duration `yaml:"stability_window" mapstructure:"stability_window"`
	BackoffInitial    time.Duration `yaml:"backoff_initial" mapstructure:"backoff_initial"`
	BackoffMax        time.Duration `yaml:"backoff_max" mapstructure:"backoff_max"`
}

// ServerConfig configures the bundled reference backend.
type ServerConfig struct {
	Addr   string `yaml:"addr" mapstructure:"addr"`
	DBPath string `yaml:"db_path" mapstructure:"db_path"`
}

// LoggingConfig defines log verbosity and formatting.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns the baseline configuration used when no overrides are supplied.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			QueueDir: "screenshots",
			StateDir: ".worktrack",
		},
		Remote: RemoteConfig{
			BaseURL: "http://localhost:5001/api",
			Timeout: 30 * time.Second,
		},
		Capture: CaptureConfig{
			Interval:          5 * time.Minute,
			MouseMoveThrottle: 100 * time.Millisecond,
			StopOnEscape:      true,
			ImageWidth:        1200,
			ImageHeight:       800,
			ThumbWidth:        300,
			ThumbHeight:       200,
			JPEGQuality:       60,
			EventSource:       EventSourceNative,
		},
		Sync: SyncConfig{
			ReconcileInterval: time.Minute,
			StabilityWindow:   2 * time.Second,
			BackoffInitial:    5 * time.Second,
			BackoffMax:        5 * time.Minute,
		},
		Server: ServerConfig{
			Addr:   ":5001",
			DBPath: "worktrack.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Source: "<defaults>",
	}
}

// Load reads configuration from disk if present, otherwise returning defaults.
// When path is empty, the loader attempts to read ./worktrack.yaml but tolerates
// a missing file. Environment variables prefixed WORKTRACK_ override file values,
// e.g. WORKTRACK_REMOTE_BASE_URL.
func Load(path string) (Config, error) {
	cfg := Default()

	candidate := strings.TrimSpace(path)
	explicit := candidate != ""
	if !explicit {
		candidate = DefaultFileName
	}

	v := newViper(cfg)
	if _, err := os.Stat(candidate); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("open config file %q: %w", candidate, err)
		}
		if explicit {
			return cfg, fmt.Errorf("config file %q not found", candidate)
		}
	} else {
		v.SetConfigFile(candidate)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config file %q: %w", candidate, err)
		}
		cfg.Source = candidate
	}

	source := cfg.Source
	if err := v.UnmarshalExact(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.Source = source
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newViper registers every known key with its default so that environment
// overrides apply even when the file omits a section.
func newViper(defaults Config) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	set := map[string]any{
		"paths.queue_dir":             defaults.Paths.QueueDir,
		"paths.state_dir":             defaults.Paths.StateDir,
		"remote.base_url":             defaults.Remote.BaseURL,
		"remote.timeout":              defaults.Remote.Timeout,
		"identity.user_id":            defaults.Identity.UserID,
		"capture.interval":            defaults.Capture.Interval,
		"capture.mouse_move_throttle": defaults.Capture.MouseMoveThrottle,
		"capture.stop_on_escape":      defaults.Capture.StopOnEscape,
		"capture.image_width":         defaults.Capture.ImageWidth,
		"capture.image_height":        defaults.Capture.ImageHeight,
		"capture.thumb_width":         defaults.Capture.ThumbWidth,
		"capture.thumb_height":        defaults.Capture.ThumbHeight,
		"capture.jpeg_quality":        defaults.Capture.JPEGQuality,
		"capture.screenshot_command":  defaults.Capture.ScreenshotCommand,
		"capture.event_source":        defaults.Capture.EventSource,
		"sync.reconcile_interval":     defaults.Sync.ReconcileInterval,
		"sync.stability_window":       defaults.Sync.StabilityWindow,
		"sync.backoff_initial":        defaults.Sync.BackoffInitial,
		"sync.backoff_max":            defaults.Sync.BackoffMax,
		"server.addr":                 defaults.Server.Addr,
		"server.db_path":              defaults.Server.DBPath,
		"logging.level":               defaults.Logging.Level,
		"logging.format":              defaults.Logging.Format,
	}
	for key, value := range set {
		v.SetDefault(key, value)
	}
	return v
}

// Validate ensures essential configuration values are present and sensible.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Paths.QueueDir) == "" {
		return errors.New("paths.queue_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must not be empty")
	}

	if _, err := NormalizeLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := NormalizeFormat(c.Logging.Format); err != nil {
		return err
	}

	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("remote.base_url %q must be an absolute http(s) URL", c.Remote.BaseURL)
	}
	if c.Remote.Timeout <= 0 {
		return errors.New("remote.timeout must be positive")
	}
	if c.Identity.UserID < 0 {
		return errors.New("identity.user_id must not be negative")
	}

	if c.Capture.Interval <= 0 {
		return errors.New("capture.interval must be positive")
	}
	if c.Capture.MouseMoveThrottle < 0 {
		return errors.New("capture.mouse_move_throttle must not be negative")
	}
	if c.Capture.ImageWidth <= 0 || c.Capture.ImageHeight <= 0 {
		return errors.New("capture.image_width and capture.image_height must be positive")
	}
	if c.Capture.ThumbWidth <= 0 || c.Capture.ThumbHeight <= 0 {
		return errors.New("capture.thumb_width and capture.thumb_height must be positive")
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("capture.jpeg_quality %d must be between 1 and 100", c.Capture.JPEGQuality)
	}
	if _, err := NormalizeEventSource(c.Capture.EventSource); err != nil {
		return err
	}

	if c.Sync.ReconcileInterval <= 0 {
		return errors.New("sync.reconcile_interval must be positive")
	}
	if c.Sync.StabilityWindow < 0 {
		return errors.New("sync.stability_window must not be negative")
	}
	if c.Sync.BackoffInitial <= 0 {
		return errors.New("sync.backoff_initial must be positive")
	}
	if c.Sync.BackoffMax < c.Sync.BackoffInitial {
		return errors.New("sync.backoff_max must not be smaller than sync.backoff_initial")
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr must not be empty")
	}
	if strings.TrimSpace(c.Server.DBPath) == "" {
		return errors.New("server.db_path must not be empty")
	}
	return nil
}

func (c *Config) normalize() {
	c.Paths.QueueDir = filepath.Clean(strings.TrimSpace(c.Paths.QueueDir))
	c.Paths.StateDir = filepath.Clean(strings.TrimSpace(c.Paths.StateDir))
	c.Remote.BaseURL = strings.TrimRight(strings.TrimSpace(c.Remote.BaseURL), "/")
	c.Capture.ScreenshotCommand = strings.TrimSpace(c.Capture.ScreenshotCommand)

	defaults := Default()

	if c.Paths.QueueDir == "." || c.Paths.QueueDir == "" {
		c.Paths.QueueDir = defaults.Paths.QueueDir
	}
	if c.Paths.StateDir == "." || c.Paths.StateDir == "" {
		c.Paths.StateDir = defaults.Paths.StateDir
	}
	if level, err := NormalizeLogLevel(c.Logging.Level); err == nil {
		c.Logging.Level = level
	}
	if format, err := NormalizeFormat(c.Logging.Format); err == nil {
		c.Logging.Format = format
	}
	if source, err := NormalizeEventSource(c.Capture.EventSource); err == nil {
		c.Capture.EventSource = source
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = defaults.Remote.Timeout
	}
	if c.Capture.Interval == 0 {
		c.Capture.Interval = defaults.Capture.Interval
	}
	if c.Sync.ReconcileInterval == 0 {
		c.Sync.ReconcileInterval = defaults.Sync.ReconcileInterval
	}
}

// NormalizeLogLevel validates and lowercases known logging levels.
func NormalizeLogLevel(level string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return "info", nil
	case "debug":
		return "debug", nil
	case "warn", "warning":
		return "warn", nil
	case "error":
		return "error", nil
	default:
		return "", fmt.Errorf("unsupported log level %q", level)
	}
}

// NormalizeFormat validates and canonicalizes logging format identifiers.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return "json", nil
	case "console", "text":
		return "console", nil
	default:
		return "", fmt.Errorf("unsupported log format %q", format)
	}
}

// NormalizeEventSource validates capture.event_source.
func NormalizeEventSource(source string) (string, error) {
	switch s := strings.ToLower(strings.TrimSpace(source)); s {
	case "":
		return EventSourceNative, nil
	case EventSourceNative, EventSourceStdin, EventSourceSynthetic, EventSourceNone:
		return s, nil
	case "-":
		return EventSourceStdin, nil
	default:
		return "", fmt.Errorf("unsupported capture.event_source %q", source)
	}
}
