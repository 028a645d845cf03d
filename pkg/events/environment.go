package events

import (
	"runtime"

	"github.com/offlinefirst/worktrack/pkg/permissions"
)

// Environment summarises input hook support.
type Environment struct {
	Provider   string
	Available  bool
	Permission string
	Message    string
	Guidance   string
}

const (
	providerQuartz = "quartz_event_tap"
	providerJSONL  = "jsonl_stdin"
)

// DetectEnvironment reports whether a native input hook can be used.
func DetectEnvironment() Environment {
	probe := permissions.Probe(permissions.InputMonitoring, nil)
	env := Environment{
		Provider:   providerJSONL,
		Permission: probe.String(),
		Message:    probe.Message,
		Guidance:   probe.Guidance,
	}
	if runtime.GOOS != "darwin" {
		env.Guidance = "run an input helper and pipe JSON lines with --events -"
		return env
	}
	env.Provider = providerQuartz
	env.Available = probe.Status != permissions.StatusDenied
	if !env.Available {
		env.Provider = providerJSONL
	}
	return env
}
