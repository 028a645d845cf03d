package events

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestJSONLSourceFeedsRecorder(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"keydown","keycode":30}`,
		``,
		`{"type":"click","x":10,"y":20,"button":"left"}`,
		`not json`,
		`{"type":"wheel"}`,
		`{"type":"move","x":11,"y":21}`,
		`{"type":"keydown","key":"Escape"}`,
	}, "\n")

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	src := NewJSONLSource(strings.NewReader(input), func() time.Time { return base })

	var escapes int
	r, err := NewRecorder(Options{Forward: func(ev Event) {
		if ev.Timestamp.IsZero() {
			t.Errorf("expected timestamp to be filled")
		}
		if ev.IsEscape() {
			escapes++
		}
	}})
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	if err := r.Run(context.Background(), src); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c := r.Peek(); c.Keyboard != 2 || c.Mouse != 1 {
		t.Fatalf("unexpected counts %+v", c)
	}
	if src.Skipped() != 2 {
		t.Fatalf("expected 2 skipped lines, got %d", src.Skipped())
	}
	if escapes != 1 {
		t.Fatalf("expected one escape, got %d", escapes)
	}
}

func TestSyntheticSourceIsReproducible(t *testing.T) {
	collect := func() []Event {
		var out []Event
		src := NewSyntheticSource(SyntheticOptions{Count: 50, Seed: 42})
		err := src.Stream(context.Background(), func(ev Event) error {
			out = append(out, ev)
			return nil
		})
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		return out
	}
	a, b := collect(), collect()
	if len(a) != 50 || len(b) != 50 {
		t.Fatalf("expected 50 events, got %d and %d", len(a), len(b))
	}
	kinds := map[Type]int{}
	for i := range a {
		if a[i].Type != b[i].Type || a[i].X != b[i].X || a[i].Keycode != b[i].Keycode {
			t.Fatalf("event %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
		kinds[a[i].Type]++
	}
	if kinds[TypeMove] == 0 || kinds[TypeClick] == 0 || kinds[TypeKeyDown] == 0 {
		t.Fatalf("expected a mix of event types, got %v", kinds)
	}
}
