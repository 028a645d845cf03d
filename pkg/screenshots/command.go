package screenshots

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os/exec"
	"strings"
	"time"
)

// CommandProvider runs an external program that writes one image to stdout.
type CommandProvider struct {
	argv  []string
	clock func() time.Time
}

// NewCommandProvider splits command on whitespace and checks the binary exists.
func NewCommandProvider(command string, clock func() time.Time) (*CommandProvider, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("screenshot command must not be empty")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("screenshot command %q: %w", argv[0], err)
	}
	if clock == nil {
		clock = time.Now
	}
	return &CommandProvider{argv: argv, clock: clock}, nil
}

// Grab runs the command and returns its output.
func (p *CommandProvider) Grab(ctx context.Context) (FrameCapture, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "permission") || strings.Contains(lower, "not authorized"):
			return FrameCapture{}, newPermissionError(msg)
		case strings.Contains(lower, "display") || strings.Contains(lower, "compositor"):
			return FrameCapture{}, fmt.Errorf("%w: %s", ErrNoDisplay, msg)
		case msg != "":
			return FrameCapture{}, fmt.Errorf("run %s: %w: %s", p.argv[0], err, msg)
		default:
			return FrameCapture{}, fmt.Errorf("run %s: %w", p.argv[0], err)
		}
	}
	if stdout.Len() == 0 {
		return FrameCapture{}, fmt.Errorf("%s produced no image data", p.argv[0])
	}

	meta := Metadata{CapturedAt: p.clock().UTC(), Backend: "command:" + p.argv[0], Scale: 1}
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(stdout.Bytes())); err == nil {
		meta.Width, meta.Height, meta.PixelFormat = cfg.Width, cfg.Height, format
	}
	return FrameCapture{Data: stdout.Bytes(), Metadata: meta}, nil
}
