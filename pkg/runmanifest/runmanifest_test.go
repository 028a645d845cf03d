package runmanifest

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/offlinefirst/worktrack/pkg/config"
)

func TestBuildLayoutAndRelativePaths(t *testing.T) {
	layout := BuildLayout(RunsDir("/tmp/state"), "20240512_093000_ab12cd34")

	if layout.Root != filepath.Join("/tmp/state", "runs", "20240512_093000_ab12cd34") {
		t.Fatalf("unexpected root: %s", layout.Root)
	}

	rel := layout.RelativePaths()
	if rel.Root != "." {
		t.Fatalf("expected relative root '.', got %q", rel.Root)
	}
	if rel.Manifest != "manifest.json" || rel.CaptureLog != "capture.log" {
		t.Fatalf("unexpected relative paths: %+v", rel)
	}
}

func TestEnsureFilesystemCreatesRunDirectory(t *testing.T) {
	layout := BuildLayout(t.TempDir(), "run")

	if err := EnsureFilesystem(layout); err != nil {
		t.Fatalf("EnsureFilesystem failed: %v", err)
	}
	info, err := os.Stat(layout.Root)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected run directory at %s: %v", layout.Root, err)
	}
	if _, err := os.Stat(layout.CaptureLogPath); err != nil {
		t.Fatalf("expected capture log file: %v", err)
	}
}

func TestNewManifest(t *testing.T) {
	cfg := config.Default()
	cfg.Source = "worktrack.yaml"
	cfg.Identity.UserID = 12
	layout := BuildLayout("/tmp/runs", "run")
	now := time.Date(2024, 5, 12, 9, 30, 0, 0, time.FixedZone("X", 3600))

	man := New(Options{
		RunID:      "run",
		CreatedAt:  now,
		Hostname:   "host",
		AppVersion: "test",
		Config:     cfg,
		Layout:     layout,
	})

	if man.SchemaVersion != SchemaVersion {
		t.Fatalf("unexpected schema version: %d", man.SchemaVersion)
	}
	if man.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected CreatedAt in UTC, got %s", man.CreatedAt.Location())
	}
	if man.Settings.UserID != 12 || man.Settings.RemoteURL != cfg.Remote.BaseURL {
		t.Fatalf("unexpected settings: %+v", man.Settings)
	}
	if man.Settings.CaptureInterval != "5m0s" {
		t.Fatalf("unexpected capture interval: %s", man.Settings.CaptureInterval)
	}
	if man.Paths.QueueDir != cfg.Paths.QueueDir {
		t.Fatalf("unexpected queue dir: %s", man.Paths.QueueDir)
	}
	if man.Status.State != StatePending {
		t.Fatalf("unexpected initial state %q", man.Status.State)
	}
}

func TestSessionPersistsTimelineAndCounters(t *testing.T) {
	layout := BuildLayout(t.TempDir(), "run")
	if err := EnsureFilesystem(layout); err != nil {
		t.Fatalf("ensure filesystem: %v", err)
	}
	start := time.Date(2024, 5, 12, 9, 30, 0, 0, time.UTC)

	session, err := NewSession(New(Options{RunID: "run", CreatedAt: start, Config: config.Default(), Layout: layout}), layout)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	session.Transition(StateRunning, "start", start)
	session.Transition(StatePaused, "user", start.Add(time.Minute))
	session.Transition(StateRunning, "resume", start.Add(2*time.Minute))
	session.SetSubsystems(SubsystemStatus{Name: "screenshots", Available: true, Provider: "command"})
	session.SetCounters(Counters{Cycles: 3, Submitted: 3, Synced: 2, Queued: 1})
	session.Finish(StateCompleted, "escape", "3 cycles", start.Add(5*time.Minute))
	if err := session.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(layout.ManifestPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Status.State != StateCompleted || loaded.Status.Termination != "escape" {
		t.Fatalf("unexpected status: %+v", loaded.Status)
	}
	if loaded.Status.StartedAt == nil || !loaded.Status.StartedAt.Equal(start) {
		t.Fatalf("expected first running transition to set StartedAt, got %v", loaded.Status.StartedAt)
	}
	if len(loaded.Status.Controller) != 3 {
		t.Fatalf("expected three timeline entries, got %d", len(loaded.Status.Controller))
	}
	if loaded.Status.Counters.Queued != 1 || loaded.Status.Counters.Synced != 2 {
		t.Fatalf("unexpected counters: %+v", loaded.Status.Counters)
	}
	if len(loaded.Status.Subsystems) != 1 {
		t.Fatalf("expected subsystem entry")
	}
	if _, err := os.Stat(layout.ManifestPath + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp manifest to be renamed away")
	}
}

func TestResolveRunID(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 12, 9, 30, 0, 0, time.UTC)

	first, err := ResolveRunID(dir, now)
	if err != nil {
		t.Fatalf("ResolveRunID failed: %v", err)
	}
	if !strings.HasPrefix(first, "20240512_093000_") {
		t.Fatalf("unexpected run id %s", first)
	}
	second, err := ResolveRunID(dir, now)
	if err != nil {
		t.Fatalf("ResolveRunID failed: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct run ids, got %s twice", first)
	}
}

func TestResolveRunIDEmptyRunsDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("path validation differs on windows")
	}
	if _, err := ResolveRunID(" ", time.Now()); err == nil {
		t.Fatalf("expected error for empty runs dir")
	}
}
