package runmanifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/offlinefirst/worktrack/pkg/config"
)

// SchemaVersion captures the manifest version for compatibility checks.
const SchemaVersion = 1

// Run lifecycle states.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StatePaused    = "paused"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Layout represents the absolute filesystem locations for a run.
type Layout struct {
	Root           string
	ManifestPath   string
	CaptureLogPath string
}

// Paths holds the relative locations stored in the manifest for portability.
type Paths struct {
	Root       string `json:"root"`
	Manifest   string `json:"manifest"`
	CaptureLog string `json:"capture_log"`
	QueueDir   string `json:"queue_dir"`
}

// Settings records the effective tracking settings for the run.
type Settings struct {
	UserID            int64  `json:"user_id"`
	RemoteURL         string `json:"remote_url"`
	CaptureInterval   string `json:"capture_interval"`
	ReconcileInterval string `json:"reconcile_interval"`
	StabilityWindow   string `json:"stability_window"`
	EventSource       string `json:"event_source"`
	ScreenshotCommand string `json:"screenshot_command,omitempty"`
	StopOnEscape      bool   `json:"stop_on_escape"`
}

// Counters summarise what happened to records produced during the run.
type Counters struct {
	Cycles        int64 `json:"cycles"`
	SkippedCycles int64 `json:"skipped_cycles"`
	PausedTicks   int64 `json:"paused_ticks"`
	Submitted     int64 `json:"submitted"`
	Synced        int64 `json:"synced"`
	Queued        int64 `json:"queued"`
	Failed        int64 `json:"failed"`
	Reconciled    int64 `json:"reconciled"`
}

// Status summarises the lifecycle of a tracking run.
type Status struct {
	State       string                    `json:"state"`
	Summary     string                    `json:"summary,omitempty"`
	StartedAt   *time.Time                `json:"started_at,omitempty"`
	EndedAt     *time.Time                `json:"ended_at,omitempty"`
	Termination string                    `json:"termination,omitempty"`
	Controller  []ControllerTimelineEntry `json:"controller_timeline,omitempty"`
	Counters    Counters                  `json:"counters"`
	Subsystems  []SubsystemStatus         `json:"subsystems,omitempty"`
}

// ControllerTimelineEntry records controller state transitions for diagnostics.
type ControllerTimelineEntry struct {
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SubsystemStatus captures availability details for the screenshot and input backends.
type SubsystemStatus struct {
	Name       string `json:"name"`
	Available  bool   `json:"available"`
	Provider   string `json:"provider,omitempty"`
	Permission string `json:"permission,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Manifest is the durable metadata describing a tracking run.
type Manifest struct {
	SchemaVersion int       `json:"schema_version"`
	RunID         string    `json:"run_id"`
	CreatedAt     time.Time `json:"created_at"`
	Hostname      string    `json:"hostname"`
	AppVersion    string    `json:"app_version"`
	ConfigSource  string    `json:"config_source"`
	Settings      Settings  `json:"settings"`
	Paths         Paths     `json:"paths"`
	Status        Status    `json:"status"`
}

// Options captures the knobs for creating a new manifest.
type Options struct {
	RunID      string
	CreatedAt  time.Time
	Hostname   string
	AppVersion string
	Config     config.Config
	Layout     Layout
}

// New constructs a manifest using the supplied options.
func New(opts Options) Manifest {
	cfg := opts.Config
	paths := opts.Layout.RelativePaths()
	paths.QueueDir = cfg.Paths.QueueDir
	return Manifest{
		SchemaVersion: SchemaVersion,
		RunID:         opts.RunID,
		CreatedAt:     opts.CreatedAt.UTC(),
		Hostname:      opts.Hostname,
		AppVersion:    opts.AppVersion,
		ConfigSource:  cfg.Source,
		Settings: Settings{
			UserID:            cfg.Identity.UserID,
			RemoteURL:         cfg.Remote.BaseURL,
			CaptureInterval:   cfg.Capture.Interval.String(),
			ReconcileInterval: cfg.Sync.ReconcileInterval.String(),
			StabilityWindow:   cfg.Sync.StabilityWindow.String(),
			EventSource:       cfg.Capture.EventSource,
			ScreenshotCommand: cfg.Capture.ScreenshotCommand,
			StopOnEscape:      cfg.Capture.StopOnEscape,
		},
		Paths:  paths,
		Status: Status{State: StatePending},
	}
}

// BuildLayout creates an absolute filesystem layout for a run.
func BuildLayout(runsDir, runID string) Layout {
	root := filepath.Join(runsDir, runID)
	return Layout{
		Root:           root,
		ManifestPath:   filepath.Join(root, "manifest.json"),
		CaptureLogPath: filepath.Join(root, "capture.log"),
	}
}

// RunsDir returns the directory holding every run under stateDir.
func RunsDir(stateDir string) string {
	return filepath.Join(stateDir, "runs")
}

// RelativePaths exposes the manifest-friendly relative paths for the layout.
func (l Layout) RelativePaths() Paths {
	return Paths{
		Root:       ".",
		Manifest:   filepath.Base(l.ManifestPath),
		CaptureLog: filepath.Base(l.CaptureLogPath),
	}
}

// EnsureFilesystem prepares the directory tree for a run layout.
func EnsureFilesystem(layout Layout) error {
	if err := os.MkdirAll(layout.Root, 0o755); err != nil {
		return fmt.Errorf("create run root: %w", err)
	}
	file, err := os.OpenFile(layout.CaptureLogPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("initialise capture log: %w", err)
	}
	return file.Close()
}

// Save writes the manifest JSON next to path and renames it into place.
func Save(man Manifest, path string) error {
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Load reads a manifest JSON file from disk.
func Load(path string) (Manifest, error) {
	var man Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return man, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &man); err != nil {
		return man, fmt.Errorf("decode manifest: %w", err)
	}
	return man, nil
}

// ResolveRunID derives a sortable run identifier from the timestamp with a
// random suffix, retrying on the unlikely event of a collision.
func ResolveRunID(runsDir string, now time.Time) (string, error) {
	if strings.TrimSpace(runsDir) == "" {
		return "", errors.New("runs directory must not be empty")
	}

	base := now.UTC().Format("20060102_150405")
	for attempt := 0; attempt < 8; attempt++ {
		candidate := base + "_" + uuid.NewString()[:8]
		_, err := os.Stat(filepath.Join(runsDir, candidate))
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("inspect runs directory: %w", err)
		}
	}
	return "", fmt.Errorf("could not allocate a unique run id under %s", runsDir)
}

// Session guards a manifest that is updated while a run is in progress.
type Session struct {
	mu     sync.Mutex
	man    Manifest
	layout Layout
}

// NewSession wraps man and persists it immediately.
func NewSession(man Manifest, layout Layout) (*Session, error) {
	s := &Session{man: man, layout: layout}
	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Layout returns the run's filesystem layout.
func (s *Session) Layout() Layout { return s.layout }

// Manifest returns a copy of the current manifest.
func (s *Session) Manifest() Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	man := s.man
	man.Status.Controller = append([]ControllerTimelineEntry(nil), s.man.Status.Controller...)
	man.Status.Subsystems = append([]SubsystemStatus(nil), s.man.Status.Subsystems...)
	return man
}

// Transition appends a timeline entry and updates the run state.
func (s *Session) Transition(state, reason string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at = at.UTC()
	if state == StateRunning && s.man.Status.StartedAt == nil {
		s.man.Status.StartedAt = &at
	}
	s.man.Status.State = state
	s.man.Status.Controller = append(s.man.Status.Controller, ControllerTimelineEntry{State: state, Reason: reason, Timestamp: at})
}

// SetSubsystems replaces the recorded backend availability.
func (s *Session) SetSubsystems(subsystems ...SubsystemStatus) {
	s.mu.Lock()
	s.man.Status.Subsystems = append([]SubsystemStatus(nil), subsystems...)
	s.mu.Unlock()
}

// SetCounters replaces the submission counters.
func (s *Session) SetCounters(c Counters) {
	s.mu.Lock()
	s.man.Status.Counters = c
	s.mu.Unlock()
}

// Finish records the terminal state.
func (s *Session) Finish(state, termination, summary string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at = at.UTC()
	s.man.Status.State = state
	s.man.Status.EndedAt = &at
	s.man.Status.Termination = termination
	s.man.Status.Summary = summary
}

// Save persists the current manifest.
func (s *Session) Save() error {
	return Save(s.Manifest(), s.layout.ManifestPath)
}
