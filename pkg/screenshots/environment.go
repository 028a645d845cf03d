package screenshots

import (
	"runtime"

	"github.com/offlinefirst/worktrack/pkg/permissions"
)

// Environment describes screenshot capture availability.
type Environment struct {
	Provider   string
	Available  bool
	Permission string
	Message    string
	Guidance   string
}

const (
	providerScreencapture = "screencapture"
	providerCommand       = "command"
	providerNone          = "none"
)

// DetectEnvironment reports screenshot backend support and permissions.
// A configured command always takes precedence over the platform backend.
func DetectEnvironment(command string) Environment {
	screenRecording := permissions.Probe(permissions.ScreenRecording, nil)
	env := Environment{
		Provider:   providerNone,
		Permission: screenRecording.String(),
		Message:    screenRecording.Message,
		Guidance:   screenRecording.Guidance,
	}

	if command != "" {
		env.Provider = providerCommand
		env.Available = true
		if command == SyntheticCommand {
			env.Message = "synthetic test pattern"
		} else if _, err := NewCommandProvider(command, nil); err != nil {
			env.Available = false
			env.Message = err.Error()
		}
		return env
	}

	switch runtime.GOOS {
	case "darwin":
		env.Provider = providerScreencapture
		_, err := nativeProvider(nil)
		env.Available = err == nil && screenRecording.Status != permissions.StatusDenied
		if err != nil {
			env.Message = err.Error()
		}
	default:
		if _, err := nativeProvider(nil); err == nil {
			env.Provider = providerCommand
			env.Available = true
		} else if env.Message == "" {
			env.Message = err.Error()
		}
	}

	if !env.Available {
		env.Provider = providerNone
	}
	return env
}
