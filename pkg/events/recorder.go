package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultMoveThrottle limits how often pointer moves are forwarded.
const DefaultMoveThrottle = 100 * time.Millisecond

// Counts are the keyboard and mouse totals for one capture interval.
type Counts struct {
	Keyboard int `json:"keyboard"`
	Mouse    int `json:"mouse"`
}

// Options controls recorder behaviour.
type Options struct {
	MoveThrottle time.Duration
	Clock        func() time.Time
	// Forward receives every counted event and throttled moves.
	Forward func(Event)
}

// Recorder counts input events between capture cycles.
type Recorder struct {
	throttle time.Duration
	clock    func() time.Time
	forward  func(Event)

	mu       sync.Mutex
	counts   Counts
	lastMove time.Time
}

// NewRecorder validates options and constructs a recorder.
func NewRecorder(opts Options) (*Recorder, error) {
	if opts.MoveThrottle < 0 {
		return nil, errors.New("move throttle must not be negative")
	}
	throttle := opts.MoveThrottle
	if throttle == 0 {
		throttle = DefaultMoveThrottle
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Recorder{throttle: throttle, clock: clock, forward: opts.Forward}, nil
}

// OnEvent counts keydown and click events. Moves are never counted and are
// forwarded at most once per throttle window.
func (r *Recorder) OnEvent(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.clock()
	}

	r.mu.Lock()
	switch ev.Type {
	case TypeKeyDown:
		r.counts.Keyboard++
	case TypeClick:
		r.counts.Mouse++
	case TypeMove:
		if !r.lastMove.IsZero() && ev.Timestamp.Sub(r.lastMove) < r.throttle {
			r.mu.Unlock()
			return
		}
		r.lastMove = ev.Timestamp
	default:
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if r.forward != nil {
		r.forward(ev)
	}
}

// SnapshotAndReset returns the current counts and zeroes them atomically.
func (r *Recorder) SnapshotAndReset() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.counts
	r.counts = Counts{}
	return snap
}

// Restore adds counts back after a snapshot could not be handed off.
func (r *Recorder) Restore(c Counts) {
	if c.Keyboard < 0 || c.Mouse < 0 {
		return
	}
	r.mu.Lock()
	r.counts.Keyboard += c.Keyboard
	r.counts.Mouse += c.Mouse
	r.mu.Unlock()
}

// Peek returns the counts without resetting them.
func (r *Recorder) Peek() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts
}

// Run feeds events from source into the recorder until the source ends or
// ctx is cancelled.
func (r *Recorder) Run(ctx context.Context, source EventSource) error {
	if source == nil {
		return errors.New("event source must be provided")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := source.Stream(ctx, func(ev Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.OnEvent(ev)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("stream events: %w", err)
	}
	return nil
}
