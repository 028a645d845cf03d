package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/offlinefirst/worktrack/pkg/config"
)

func TestJSONLoggerWritesUTCTimeAndComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Options{Level: "info", Format: "json", Output: buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	Component(logger, "sync").Info("record saved locally", "path", "/tmp/x.json")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["component"] != "sync" || line["msg"] != "record saved locally" {
		t.Fatalf("unexpected fields: %v", line)
	}
	ts, _ := line["time"].(string)
	if _, err := time.Parse(time.RFC3339, ts); err != nil || !strings.HasSuffix(ts, "Z") {
		t.Fatalf("expected RFC3339 UTC time, got %q", ts)
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := FromConfig(config.LoggingConfig{Level: "warn", Format: "console"}, buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	if _, err := New(Options{Level: "verbose"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
