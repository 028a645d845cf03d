package watch

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/offlinefirst/worktrack/pkg/capture"
	"github.com/offlinefirst/worktrack/pkg/events"
	"github.com/offlinefirst/worktrack/pkg/syncengine"
	"github.com/offlinefirst/worktrack/pkg/taskctx"
	"github.com/offlinefirst/worktrack/pkg/tracker"
)

func trackingStatus() tracker.Status {
	return tracker.Status{
		IsTracking: true,
		CurrentTask: taskctx.Current{
			UserID:      2,
			ProjectID:   1,
			ProjectName: "Docs",
			Task:        taskctx.Node{ID: 3, Name: "Write", EstHours: 1},
		},
		Counts:   events.Counts{Keyboard: 4, Mouse: 7},
		ActHours: 1.25,
	}
}

func TestNewPollsStatus(t *testing.T) {
	m := New(Options{Status: trackingStatus})
	if !m.status.IsTracking {
		t.Fatal("expected initial status from poll")
	}
	view := m.View()
	for _, want := range []string{"tracking", "Docs (#1)", "Write (#3)", "1.25h"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestIdleViewWithoutTask(t *testing.T) {
	m := New(Options{})
	view := m.View()
	if !strings.Contains(view, "idle") || !strings.Contains(view, "none selected") {
		t.Fatalf("unexpected idle view:\n%s", view)
	}
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyCtrlC},
	} {
		m := New(Options{})
		updated, cmd := m.Update(key)
		if cmd == nil {
			t.Fatalf("expected quit command for %q", key.String())
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("expected QuitMsg for %q", key.String())
		}
		if updated.(Model).View() != "" {
			t.Fatalf("expected empty view after quit")
		}
	}
}

func TestPauseKey(t *testing.T) {
	m := New(Options{})
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")}); cmd != nil {
		t.Fatal("expected no command without a toggle")
	}

	toggled := 0
	m = New(Options{TogglePause: func() { toggled++ }})
	if !strings.Contains(m.View(), "p pause/resume") {
		t.Fatalf("expected pause hint:\n%s", m.View())
	}
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	if cmd == nil {
		t.Fatal("expected toggle command")
	}
	cmd()
	if toggled != 1 {
		t.Fatalf("expected one toggle, got %d", toggled)
	}
}

func TestEventsUpdatePointerAndKey(t *testing.T) {
	ch := make(chan events.Event, 1)
	m := New(Options{Feeds: Feeds{Events: ch}})

	updated, cmd := m.Update(eventMsg(events.Event{Type: events.TypeMove, X: 120, Y: 45}))
	if cmd == nil {
		t.Fatal("expected the event reader to be rescheduled")
	}
	updated, _ = updated.(Model).Update(eventMsg(events.Event{Type: events.TypeKeyDown, Key: "a"}))
	view := updated.(Model).View()
	if !strings.Contains(view, "120,45") {
		t.Fatalf("expected pointer position in view:\n%s", view)
	}
	if !strings.Contains(view, "last key") {
		t.Fatalf("expected last key in view:\n%s", view)
	}

	ch <- events.Event{Type: events.TypeClick, X: 1, Y: 2}
	msg := cmd()
	if ev, ok := msg.(eventMsg); !ok || ev.X != 1 {
		t.Fatalf("expected event from feed, got %#v", msg)
	}
}

func TestErrorsAreCapped(t *testing.T) {
	m := New(Options{})
	var model tea.Model = m
	for i := 0; i < maxErrors+3; i++ {
		model, _ = model.Update(errorMsg(tracker.TrackingError{Type: tracker.ErrorCapture, Message: "boom", At: time.Now()}))
	}
	if got := len(model.(Model).errors); got != maxErrors {
		t.Fatalf("expected %d errors, got %d", maxErrors, got)
	}
}

func TestCaptureOutcomes(t *testing.T) {
	m := New(Options{})
	updated, _ := m.Update(captureMsg(capture.Outcome{
		At:     time.Now(),
		Stage:  capture.StageDone,
		Counts: events.Counts{Keyboard: 3, Mouse: 5},
		Result: syncengine.SubmitResult{SavedLocally: true},
	}))
	view := updated.(Model).View()
	if !strings.Contains(view, "queued") || !strings.Contains(view, "k=3 m=5") {
		t.Fatalf("unexpected capture line:\n%s", view)
	}

	updated, _ = updated.(Model).Update(captureMsg(capture.Outcome{At: time.Now(), Stage: capture.StageCapture, Err: errors.New("no display")}))
	model := updated.(Model)
	if model.captures != 2 {
		t.Fatalf("expected 2 captures, got %d", model.captures)
	}
	if !strings.Contains(model.View(), "failed at capture") {
		t.Fatalf("expected failure line:\n%s", model.View())
	}
}

func TestStatusFeedAndTick(t *testing.T) {
	polls := 0
	m := New(Options{Status: func() tracker.Status {
		polls++
		return tracker.Status{}
	}})
	updated, _ := m.Update(statusMsg(trackingStatus()))
	if !updated.(Model).status.IsTracking {
		t.Fatal("expected status message to replace state")
	}
	updated, cmd := updated.(Model).Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("expected tick to reschedule")
	}
	if updated.(Model).status.IsTracking || polls != 2 {
		t.Fatalf("expected poll on tick, polls=%d", polls)
	}
}

func TestClosedFeed(t *testing.T) {
	ch := make(chan tracker.TrackingError)
	close(ch)
	if _, ok := waitError(ch)().(feedClosed); !ok {
		t.Fatal("expected feedClosed for a closed channel")
	}
	if waitError(nil) != nil {
		t.Fatal("expected no reader for a nil channel")
	}
}

func TestSubscribeAttachesToBus(t *testing.T) {
	b := tracker.NewBus()
	defer b.Close()
	feeds, release := Subscribe(b)
	if b.Events.Subscribers() != 1 || b.Captures.Subscribers() != 1 {
		t.Fatal("expected one subscriber per topic")
	}
	b.Errors.Publish(tracker.TrackingError{Type: tracker.ErrorSync, Message: "x"})
	select {
	case e := <-feeds.Errors:
		if e.Type != tracker.ErrorSync {
			t.Fatalf("unexpected error %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no error delivered")
	}
	release()
	if b.Status.Subscribers() != 0 {
		t.Fatal("expected subscribers released")
	}
}
