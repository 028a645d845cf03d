package screenshots

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"strings"
	"time"
)

// CaptureProvider produces one screen frame per call.
type CaptureProvider interface {
	Grab(context.Context) (FrameCapture, error)
}

// FrameCapture bundles encoded image bytes with metadata.
type FrameCapture struct {
	Data     []byte
	Metadata Metadata
}

// Metadata describes a captured frame.
type Metadata struct {
	CapturedAt  time.Time `json:"captured_at"`
	Backend     string    `json:"backend"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	PixelFormat string    `json:"pixel_format,omitempty"`
	Scale       float64   `json:"scale,omitempty"`
}

// ProviderOptions select a capture backend.
type ProviderOptions struct {
	// Command is an external capture command writing an image to stdout.
	// The special value "synthetic" selects the generated test pattern.
	Command string
	Clock   func() time.Time
}

// SyntheticCommand selects SyntheticProvider through ProviderOptions.Command.
const SyntheticCommand = "synthetic"

// NewProvider returns the configured provider, or the platform default.
func NewProvider(opts ProviderOptions) (CaptureProvider, error) {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	command := strings.TrimSpace(opts.Command)
	switch {
	case command == SyntheticCommand:
		return NewSyntheticProvider(0, clock), nil
	case command != "":
		return NewCommandProvider(command, clock)
	default:
		return nativeProvider(clock)
	}
}

// SyntheticProvider renders a gradient frame so capture can run headless.
type SyntheticProvider struct {
	rng   *rand.Rand
	clock func() time.Time
}

// NewSyntheticProvider returns a provider seeded with seed.
func NewSyntheticProvider(seed uint64, clock func() time.Time) *SyntheticProvider {
	if clock == nil {
		clock = time.Now
	}
	return &SyntheticProvider{rng: rand.New(rand.NewPCG(seed, seed+1)), clock: clock}
}

// Grab renders one frame.
func (p *SyntheticProvider) Grab(ctx context.Context) (FrameCapture, error) {
	if err := ctx.Err(); err != nil {
		return FrameCapture{}, err
	}
	const width, height = 640, 400
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	hue := uint8(p.rng.IntN(200) + 40)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: hue, G: uint8(x % 255), B: uint8(y % 255), A: 255})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return FrameCapture{}, err
	}
	return FrameCapture{
		Data: buf.Bytes(),
		Metadata: Metadata{
			CapturedAt:  p.clock().UTC(),
			Backend:     "synthetic",
			Width:       width,
			Height:      height,
			PixelFormat: "RGBA",
			Scale:       1,
		},
	}, nil
}

// ProviderFunc adapts a function to CaptureProvider.
type ProviderFunc func(context.Context) (FrameCapture, error)

// Grab calls f.
func (f ProviderFunc) Grab(ctx context.Context) (FrameCapture, error) {
	if f == nil {
		return FrameCapture{}, errors.New("nil capture provider")
	}
	return f(ctx)
}
