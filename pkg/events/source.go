package events

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// EventSource emits input events until ctx is cancelled or input ends.
type EventSource interface {
	Stream(ctx context.Context, emit func(Event) error) error
}

// EventSourceFunc adapts a function literal to the EventSource interface.
type EventSourceFunc func(ctx context.Context, emit func(Event) error) error

// Stream calls the underlying function.
func (f EventSourceFunc) Stream(ctx context.Context, emit func(Event) error) error {
	return f(ctx, emit)
}

// maxLineBytes bounds a single JSONL event line.
const maxLineBytes = 64 << 10

// JSONLSource decodes one JSON event per line, typically from a helper
// process that owns the OS input hook and pipes into stdin.
type JSONLSource struct {
	r       io.Reader
	clock   func() time.Time
	skipped atomic.Int64
}

// NewJSONLSource reads events from r.
func NewJSONLSource(r io.Reader, clock func() time.Time) *JSONLSource {
	if clock == nil {
		clock = time.Now
	}
	return &JSONLSource{r: r, clock: clock}
}

// Stream reads until EOF. Malformed lines and unknown event types are
// skipped; a blocked read only observes ctx once the next line arrives.
func (s *JSONLSource) Stream(ctx context.Context, emit func(Event) error) error {
	if s.r == nil {
		return errors.New("jsonl source has no reader")
	}
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			s.skipped.Add(1)
			continue
		}
		switch ev.Type {
		case TypeMove, TypeClick, TypeKeyDown:
		default:
			s.skipped.Add(1)
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = s.clock().UTC()
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	return nil
}

// Skipped reports how many lines could not be used.
func (s *JSONLSource) Skipped() int64 {
	return s.skipped.Load()
}

// SyntheticOptions configure a SyntheticSource.
type SyntheticOptions struct {
	// Interval between events; zero emits without waiting.
	Interval time.Duration
	// Count stops the stream after that many events; zero runs until cancelled.
	Count int
	Seed  uint64
	Clock func() time.Time
}

// SyntheticSource emits a reproducible mix of moves, clicks and key presses
// for demos and tests.
type SyntheticSource struct {
	opts SyntheticOptions
}

// NewSyntheticSource constructs a synthetic source.
func NewSyntheticSource(opts SyntheticOptions) *SyntheticSource {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &SyntheticSource{opts: opts}
}

// Stream emits events until Count is reached or ctx is cancelled.
func (s *SyntheticSource) Stream(ctx context.Context, emit func(Event) error) error {
	rng := rand.New(rand.NewPCG(s.opts.Seed, s.opts.Seed^0x9e3779b97f4a7c15))
	var timer *time.Timer
	if s.opts.Interval > 0 {
		timer = time.NewTimer(s.opts.Interval)
		defer timer.Stop()
	}

	x, y := 640.0, 400.0
	for i := 0; s.opts.Count == 0 || i < s.opts.Count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if timer != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				timer.Reset(s.opts.Interval)
			}
		}

		ev := Event{Timestamp: s.opts.Clock().UTC()}
		switch roll := rng.IntN(10); {
		case roll < 5:
			x += float64(rng.IntN(41) - 20)
			y += float64(rng.IntN(41) - 20)
			ev.Type, ev.X, ev.Y = TypeMove, x, y
		case roll < 7:
			ev.Type, ev.X, ev.Y, ev.Button = TypeClick, x, y, "left"
		default:
			code := 16 + rng.IntN(10)
			ev.Type, ev.Keycode = TypeKeyDown, code
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}
