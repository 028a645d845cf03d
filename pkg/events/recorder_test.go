package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNewRecorderValidation(t *testing.T) {
	if _, err := NewRecorder(Options{MoveThrottle: -time.Second}); err == nil {
		t.Fatalf("expected error for negative throttle")
	}
	r, err := NewRecorder(Options{})
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	if r.throttle != DefaultMoveThrottle {
		t.Fatalf("expected default throttle, got %v", r.throttle)
	}
}

func TestRecorderCountsKeysAndClicksOnly(t *testing.T) {
	var forwarded []Event
	r, err := NewRecorder(Options{Forward: func(ev Event) { forwarded = append(forwarded, ev) }})
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	r.OnEvent(Event{Type: TypeKeyDown, Keycode: 30, Timestamp: base})
	r.OnEvent(Event{Type: TypeKeyDown, Keycode: 31, Timestamp: base})
	r.OnEvent(Event{Type: TypeClick, Button: "left", Timestamp: base})
	r.OnEvent(Event{Type: TypeMove, X: 1, Y: 1, Timestamp: base})
	r.OnEvent(Event{Type: "scroll", Timestamp: base})

	counts := r.Peek()
	if counts.Keyboard != 2 || counts.Mouse != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	if len(forwarded) != 4 {
		t.Fatalf("expected 4 forwarded events, got %d", len(forwarded))
	}
}

func TestRecorderThrottlesMoves(t *testing.T) {
	moves := 0
	r, err := NewRecorder(Options{
		MoveThrottle: 100 * time.Millisecond,
		Forward: func(ev Event) {
			if ev.Type == TypeMove {
				moves++
			}
		},
	})
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		r.OnEvent(Event{Type: TypeMove, Timestamp: base.Add(time.Duration(i) * 20 * time.Millisecond)})
	}
	// Forwarded at 0ms and 100ms only.
	if moves != 2 {
		t.Fatalf("expected 2 forwarded moves, got %d", moves)
	}
	if c := r.Peek(); c.Keyboard != 0 || c.Mouse != 0 {
		t.Fatalf("moves must not be counted: %+v", c)
	}
}

func TestSnapshotAndResetIsAtomic(t *testing.T) {
	r, err := NewRecorder(Options{})
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	const writers, perWriter = 8, 500
	var total Counts
	var mu sync.Mutex
	var wg sync.WaitGroup
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			snap := r.SnapshotAndReset()
			mu.Lock()
			total.Keyboard += snap.Keyboard
			total.Mouse += snap.Mouse
			mu.Unlock()
		}
	}()

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				r.OnEvent(Event{Type: TypeKeyDown})
				r.OnEvent(Event{Type: TypeClick})
			}
		}()
	}
	wg.Wait()
	close(done)

	final := r.SnapshotAndReset()
	mu.Lock()
	defer mu.Unlock()
	total.Keyboard += final.Keyboard
	total.Mouse += final.Mouse
	if total.Keyboard != writers*perWriter || total.Mouse != writers*perWriter {
		t.Fatalf("lost events: %+v", total)
	}
}

func TestRestoreAddsCountsBack(t *testing.T) {
	r, err := NewRecorder(Options{})
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	r.OnEvent(Event{Type: TypeKeyDown})
	snap := r.SnapshotAndReset()
	r.OnEvent(Event{Type: TypeClick})

	r.Restore(snap)
	r.Restore(Counts{Keyboard: -5})

	if c := r.Peek(); c.Keyboard != 1 || c.Mouse != 1 {
		t.Fatalf("unexpected counts after restore %+v", c)
	}
}

func TestRecorderRunRespectsCancellation(t *testing.T) {
	r, err := NewRecorder(Options{})
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := NewSyntheticSource(SyntheticOptions{Interval: time.Second})
	if err := r.Run(ctx, src); err == nil {
		t.Fatalf("expected run to respect cancellation")
	}
}

func TestIsEscape(t *testing.T) {
	cases := map[string]struct {
		ev   Event
		want bool
	}{
		"named":        {Event{Type: TypeKeyDown, Key: "Escape"}, true},
		"short":        {Event{Type: TypeKeyDown, Key: "esc"}, true},
		"uiohook code": {Event{Type: TypeKeyDown, Keycode: 1}, true},
		"other key":    {Event{Type: TypeKeyDown, Key: "a", Keycode: 1}, false},
		"click":        {Event{Type: TypeClick, Keycode: 1}, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := tc.ev.IsEscape(); got != tc.want {
				t.Fatalf("IsEscape = %t, want %t", got, tc.want)
			}
		})
	}
}
