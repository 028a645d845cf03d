//go:build !darwin

package screenshots

import (
	"fmt"
	"os"
	"time"
)

// knownCommands are tried in order when no capture command is configured.
var knownCommands = []struct {
	needsEnv string
	command  string
}{
	{"WAYLAND_DISPLAY", "grim -t png -"},
	{"DISPLAY", "import -silent -window root png:-"},
	{"DISPLAY", "maim --format=png"},
}

func nativeProvider(clock func() time.Time) (CaptureProvider, error) {
	for _, known := range knownCommands {
		if os.Getenv(known.needsEnv) == "" {
			continue
		}
		if provider, err := NewCommandProvider(known.command, clock); err == nil {
			return provider, nil
		}
	}
	return nil, fmt.Errorf("%w: set capture.screenshot_command (or %q) on this platform", ErrNoDisplay, SyntheticCommand)
}
