//go:build darwin

package screenshots

import (
	"fmt"
	"time"
)

// screencaptureCommand writes a silent full-screen PNG to stdout. macOS
// returns a desktop-only frame rather than an error until Screen Recording
// is granted, which permissions.Probe reports separately.
const screencaptureCommand = "/usr/sbin/screencapture -x -t png /dev/stdout"

func nativeProvider(clock func() time.Time) (CaptureProvider, error) {
	provider, err := NewCommandProvider(screencaptureCommand, clock)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDisplay, err)
	}
	return provider, nil
}
