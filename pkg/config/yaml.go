package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Marshal renders the resolved configuration as YAML that Load accepts.
func Marshal(c Config) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := yaml.NewEncoder(buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Durations are written as "5m0s" rather than nanosecond integers.

func (r RemoteConfig) MarshalYAML() (any, error) {
	return struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	}{r.BaseURL, r.Timeout.String()}, nil
}

func (c CaptureConfig) MarshalYAML() (any, error) {
	return struct {
		Interval          string `yaml:"interval"`
		MouseMoveThrottle string `yaml:"mouse_move_throttle"`
		StopOnEscape      bool   `yaml:"stop_on_escape"`
		ImageWidth        int    `yaml:"image_width"`
		ImageHeight       int    `yaml:"image_height"`
		ThumbWidth        int    `yaml:"thumb_width"`
		ThumbHeight       int    `yaml:"thumb_height"`
		JPEGQuality       int    `yaml:"jpeg_quality"`
		ScreenshotCommand string `yaml:"screenshot_command"`
		EventSource       string `yaml:"event_source"`
	}{
		Interval:          c.Interval.String(),
		MouseMoveThrottle: c.MouseMoveThrottle.String(),
		StopOnEscape:      c.StopOnEscape,
		ImageWidth:        c.ImageWidth,
		ImageHeight:       c.ImageHeight,
		ThumbWidth:        c.ThumbWidth,
		ThumbHeight:       c.ThumbHeight,
		JPEGQuality:       c.JPEGQuality,
		ScreenshotCommand: c.ScreenshotCommand,
		EventSource:       c.EventSource,
	}, nil
}

func (s SyncConfig) MarshalYAML() (any, error) {
	return struct {
		ReconcileInterval string `yaml:"reconcile_interval"`
		StabilityWindow   string `yaml:"stability_window"`
		BackoffInitial    string `yaml:"backoff_initial"`
		BackoffMax        string `yaml:"backoff_max"`
	}{
		s.ReconcileInterval.String(),
		s.StabilityWindow.String(),
		s.BackoffInitial.String(),
		s.BackoffMax.String(),
	}, nil
}
