// Package permissions reports whether the host will let worktrack capture the
// screen and observe global input. Probes never trigger OS prompts; they read
// environment overrides and platform hints only.
package permissions

import (
	"os"
	"runtime"
	"strings"
)

// Status is the coarse outcome of a probe.
type Status string

const (
	StatusUnknown        Status = "unknown"
	StatusGranted        Status = "granted"
	StatusDenied         Status = "denied"
	StatusPromptRequired Status = "prompt"
	StatusUnavailable    Status = "unavailable"
	StatusNotApplicable  Status = "not_applicable"
)

// Surface names a capability the tracker depends on.
type Surface string

const (
	// ScreenRecording gates screenshot capture.
	ScreenRecording Surface = "screen_recording"
	// InputMonitoring gates the native keyboard and mouse hook.
	InputMonitoring Surface = "input_monitoring"
)

// EnvVar is the override consulted before platform defaults, e.g.
// WORKTRACK_SCREEN_RECORDING=granted.
func (s Surface) EnvVar() string {
	return "WORKTRACK_" + strings.ToUpper(string(s))
}

func (s Surface) label() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// Result is what a probe found.
type Result struct {
	Surface  Surface
	Status   Status
	Message  string
	Guidance string
}

// Usable reports whether capture may proceed, possibly after a prompt.
func (r Result) Usable() bool {
	return r.Status == StatusGranted || r.Status == StatusPromptRequired || r.Status == StatusNotApplicable
}

// String returns the status for manifests and doctor output.
func (r Result) String() string {
	if r.Status == "" {
		return string(StatusUnknown)
	}
	return string(r.Status)
}

// LookupEnvFunc resolves environment variables; nil means os.LookupEnv.
type LookupEnvFunc func(string) (string, bool)

var goos = runtime.GOOS

// Probe inspects one surface.
func Probe(s Surface, lookup LookupEnvFunc) Result {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if value, ok := lookup(s.EnvVar()); ok {
		return fromOverride(s, value)
	}
	res := Result{Surface: s}
	switch s {
	case ScreenRecording:
		res.Status, res.Message, res.Guidance = screenDefault(lookup)
	case InputMonitoring:
		if goos == "darwin" {
			res.Status = StatusPromptRequired
			res.Message = "macOS asks for Input Monitoring on first use"
			res.Guidance = "System Settings > Privacy & Security > Input Monitoring"
		} else {
			res.Status = StatusNotApplicable
			res.Message = "no native hook on " + goos + "; input arrives over stdin"
		}
	default:
		res.Status = StatusUnknown
		res.Message = "unrecognised surface " + string(s)
	}
	return res
}

// ProbeAll inspects every surface in a stable order.
func ProbeAll(lookup LookupEnvFunc) []Result {
	return []Result{Probe(ScreenRecording, lookup), Probe(InputMonitoring, lookup)}
}

func screenDefault(lookup LookupEnvFunc) (Status, string, string) {
	switch goos {
	case "darwin":
		return StatusPromptRequired, "macOS asks for Screen Recording on first capture",
			"System Settings > Privacy & Security > Screen Recording"
	case "linux":
		if _, ok := lookup("WAYLAND_DISPLAY"); ok {
			return StatusPromptRequired, "wayland compositors may ask before each capture", ""
		}
		if _, ok := lookup("DISPLAY"); ok {
			return StatusGranted, "x11 display available", ""
		}
		return StatusUnavailable, "no display server detected", "set DISPLAY or configure capture.screenshot_command"
	}
	return StatusUnavailable, "screen capture unsupported on " + goos, "configure capture.screenshot_command"
}

func fromOverride(s Surface, value string) Result {
	res := Result{Surface: s, Message: s.label() + " set by " + s.EnvVar()}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "granted", "allow", "allowed", "yes", "true":
		res.Status = StatusGranted
	case "denied", "no", "false", "blocked":
		res.Status = StatusDenied
		res.Guidance = "grant access in system settings or unset " + s.EnvVar()
	case "prompt", "ask":
		res.Status = StatusPromptRequired
	case "unavailable", "unsupported":
		res.Status = StatusUnavailable
	default:
		res.Status = StatusUnknown
		res.Message = s.label() + " override " + value + " not understood"
	}
	return res
}
