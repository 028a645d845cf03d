package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	defer os.Chdir(cwd)

	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir temp dir: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.QueueDir != "screenshots" {
		t.Fatalf("expected default queue dir, got %q", cfg.Paths.QueueDir)
	}
	if cfg.Source != "<defaults>" {
		t.Fatalf("expected default source marker, got %q", cfg.Source)
	}
	if cfg.Capture.Interval != 5*time.Minute {
		t.Fatalf("unexpected default capture interval: %s", cfg.Capture.Interval)
	}
	if cfg.Sync.StabilityWindow != 2*time.Second {
		t.Fatalf("unexpected default stability window: %s", cfg.Sync.StabilityWindow)
	}
	if cfg.Capture.JPEGQuality != 60 || cfg.Capture.ThumbWidth != 300 {
		t.Fatalf("unexpected default encoding settings: %+v", cfg.Capture)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "worktrack.yaml")
	content := `paths:
  queue_dir: queue
  state_dir: state
remote:
  base_url: https://diary.example.com/api/
  timeout: 10s
identity:
  user_id: 42
capture:
  interval: 90s
  mouse_move_throttle: 250ms
  stop_on_escape: false
  jpeg_quality: 80
  screenshot_command: synthetic
  event_source: "-"
sync:
  reconcile_interval: 2m
  backoff_initial: 1s
  backoff_max: 30s
logging:
  level: DEBUG
  format: console
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Paths.QueueDir != "queue" || cfg.Paths.StateDir != "state" {
		t.Fatalf("unexpected paths: %+v", cfg.Paths)
	}
	if cfg.Remote.BaseURL != "https://diary.example.com/api" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Remote.BaseURL)
	}
	if cfg.Remote.Timeout != 10*time.Second {
		t.Fatalf("unexpected timeout: %s", cfg.Remote.Timeout)
	}
	if cfg.Identity.UserID != 42 {
		t.Fatalf("unexpected user id: %d", cfg.Identity.UserID)
	}
	if cfg.Capture.Interval != 90*time.Second || cfg.Capture.MouseMoveThrottle != 250*time.Millisecond {
		t.Fatalf("unexpected capture durations: %+v", cfg.Capture)
	}
	if cfg.Capture.StopOnEscape {
		t.Fatalf("expected stop_on_escape disabled")
	}
	if cfg.Capture.JPEGQuality != 80 || cfg.Capture.ImageWidth != 1200 {
		t.Fatalf("expected file value and default to combine: %+v", cfg.Capture)
	}
	if cfg.Capture.EventSource != EventSourceStdin {
		t.Fatalf("expected '-' to mean stdin, got %q", cfg.Capture.EventSource)
	}
	if cfg.Sync.ReconcileInterval != 2*time.Minute || cfg.Sync.BackoffMax != 30*time.Second {
		t.Fatalf("unexpected sync settings: %+v", cfg.Sync)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}
	if cfg.Source != cfgPath {
		t.Fatalf("expected source to equal path, got %q", cfg.Source)
	}
}

func TestLoadTOML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "worktrack.toml")
	content := "[capture]\ninterval = \"30s\"\n\n[server]\naddr = \":8080\"\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Capture.Interval != 30*time.Second || cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected toml values: %+v %+v", cfg.Capture, cfg.Server)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "worktrack.yaml")
	if err := os.WriteFile(cfgPath, []byte("identity:\n  user_id: 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("WORKTRACK_IDENTITY_USER_ID", "7")
	t.Setenv("WORKTRACK_REMOTE_BASE_URL", "http://10.0.0.5:9000")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Identity.UserID != 7 {
		t.Fatalf("expected env user id, got %d", cfg.Identity.UserID)
	}
	if cfg.Remote.BaseURL != "http://10.0.0.5:9000" {
		t.Fatalf("expected env base url, got %q", cfg.Remote.BaseURL)
	}
}

func TestUnknownKeyReturnsError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "worktrack.yaml")
	content := "capture:\n  unsupported: true\n"

	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected error for unsupported key")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"relative base url": func(c *Config) { c.Remote.BaseURL = "localhost:5001" },
		"zero interval":     func(c *Config) { c.Capture.Interval = 0 },
		"quality":           func(c *Config) { c.Capture.JPEGQuality = 0 },
		"backoff order":     func(c *Config) { c.Sync.BackoffMax = time.Second },
		"event source":      func(c *Config) { c.Capture.EventSource = "mouse" },
		"log level":         func(c *Config) { c.Logging.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestMarshalRoundTripsThroughLoad(t *testing.T) {
	cfg := Default()
	cfg.Identity.UserID = 9
	cfg.Capture.Interval = 45 * time.Second

	data, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), "interval: 45s") {
		t.Fatalf("expected human-readable duration, got:\n%s", data)
	}

	path := filepath.Join(t.TempDir(), "worktrack.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load marshalled config: %v", err)
	}
	if loaded.Identity.UserID != 9 || loaded.Capture.Interval != 45*time.Second {
		t.Fatalf("unexpected reloaded config: %+v", loaded)
	}
}
