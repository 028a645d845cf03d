package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/offlinefirst/worktrack/pkg/events"
	"github.com/offlinefirst/worktrack/pkg/record"
	"github.com/offlinefirst/worktrack/pkg/screenshots"
	"github.com/offlinefirst/worktrack/pkg/syncengine"
	"github.com/offlinefirst/worktrack/pkg/taskctx"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	records []record.Record
	ctxErrs []error
	err     error
	delay   time.Duration
}

func (f *fakeSubmitter) Submit(ctx context.Context, rec record.Record) (syncengine.SubmitResult, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.err != nil {
		return syncengine.SubmitResult{SyncState: record.StateFailed}, f.err
	}
	return syncengine.SubmitResult{Success: true, SyncState: record.StateSynced}, nil
}

func (f *fakeSubmitter) submitted() []record.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]record.Record(nil), f.records...)
}

type harness struct {
	trigger   *Trigger
	recorder  *events.Recorder
	store     *taskctx.Store
	submitter *fakeSubmitter
	log       *bytes.Buffer
}

func newHarness(t *testing.T, provider screenshots.CaptureProvider, mutate func(*Options)) harness {
	t.Helper()
	recorder, err := events.NewRecorder(events.Options{})
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	store := taskctx.NewStore()
	store.Set(taskctx.Context{UserID: 3, Selection: taskctx.Selection{
		Project: taskctx.Node{ID: 1, Name: "Apollo"},
		Task:    taskctx.Node{ID: 2, Name: "Design"},
	}})
	submitter := &fakeSubmitter{}
	logBuf := &bytes.Buffer{}
	base := time.Date(2024, 5, 1, 14, 23, 5, 0, time.UTC)
	opts := Options{
		Interval:   time.Hour,
		Provider:   provider,
		Recorder:   recorder,
		Context:    store,
		Submitter:  submitter,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:      func() time.Time { return base },
		CaptureLog: logBuf,
	}
	if mutate != nil {
		mutate(&opts)
	}
	trigger, err := NewTrigger(opts)
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	return harness{trigger: trigger, recorder: recorder, store: store, submitter: submitter, log: logBuf}
}

func press(r *events.Recorder, keys, clicks int) {
	for i := 0; i < keys; i++ {
		r.OnEvent(events.Event{Type: events.TypeKeyDown, Key: "a"})
	}
	for i := 0; i < clicks; i++ {
		r.OnEvent(events.Event{Type: events.TypeClick, Button: "left"})
	}
}

func TestTakeScreenshotSubmitsSnapshot(t *testing.T) {
	h := newHarness(t, screenshots.NewSyntheticProvider(7, nil), nil)
	press(h.recorder, 4, 2)

	res, err := h.trigger.TakeScreenshot(context.Background())
	if err != nil {
		t.Fatalf("take screenshot: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	recs := h.submitter.submitted()
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.ProjectID != 1 || rec.TaskID != 2 || rec.UserID != 3 || rec.TaskName != "Design" {
		t.Fatalf("unexpected attribution %+v", rec)
	}
	if rec.KeyboardCount != 4 || rec.MouseCount != 2 {
		t.Fatalf("unexpected counters keyboard=%d mouse=%d", rec.KeyboardCount, rec.MouseCount)
	}
	if rec.Image == "" || rec.Thumbnail == "" || rec.IdempotencyKey == "" {
		t.Fatalf("expected image, thumbnail and key to be set")
	}
	if got := h.recorder.Peek(); got != (events.Counts{}) {
		t.Fatalf("expected counters reset, got %+v", got)
	}
	if !strings.Contains(h.log.String(), "subsystem=screenshots task=2 keyboard=4 mouse=2 state=Synced") {
		t.Fatalf("unexpected capture log %q", h.log.String())
	}
}

func TestCaptureFailureLeavesCountersUntouched(t *testing.T) {
	var outcomes []Outcome
	failing := screenshots.ProviderFunc(func(context.Context) (screenshots.FrameCapture, error) {
		return screenshots.FrameCapture{}, screenshots.ErrNoDisplay
	})
	h := newHarness(t, failing, func(o *Options) {
		o.OnResult = func(out Outcome) { outcomes = append(outcomes, out) }
	})
	press(h.recorder, 3, 1)

	_, err := h.trigger.TakeScreenshot(context.Background())
	if !errors.Is(err, screenshots.ErrNoDisplay) {
		t.Fatalf("expected ErrNoDisplay, got %v", err)
	}
	if len(h.submitter.submitted()) != 0 {
		t.Fatalf("expected no submission")
	}
	if got := h.recorder.Peek(); got.Keyboard != 3 || got.Mouse != 1 {
		t.Fatalf("expected counters preserved, got %+v", got)
	}
	if len(outcomes) != 1 || outcomes[0].Stage != StageCapture {
		t.Fatalf("expected capture-stage outcome, got %+v", outcomes)
	}
}

func TestHandoffFailureRestoresCounters(t *testing.T) {
	h := newHarness(t, screenshots.NewSyntheticProvider(1, nil), nil)
	h.submitter.err = errors.New("Server: down, Local: disk full")
	press(h.recorder, 5, 0)

	if _, err := h.trigger.TakeScreenshot(context.Background()); err == nil {
		t.Fatalf("expected handoff error")
	}
	press(h.recorder, 1, 1)
	if got := h.recorder.Peek(); got.Keyboard != 6 || got.Mouse != 1 {
		t.Fatalf("expected restored counts to roll forward, got %+v", got)
	}
}

func TestTakeScreenshotRequiresContext(t *testing.T) {
	h := newHarness(t, screenshots.NewSyntheticProvider(1, nil), nil)
	h.store.Clear()
	if _, err := h.trigger.TakeScreenshot(context.Background()); !errors.Is(err, ErrNoTaskContext) {
		t.Fatalf("expected ErrNoTaskContext, got %v", err)
	}
}

func TestOverlappingCycleIsSkipped(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	synthetic := screenshots.NewSyntheticProvider(1, nil)
	blocking := screenshots.ProviderFunc(func(ctx context.Context) (screenshots.FrameCapture, error) {
		close(started)
		<-release
		return synthetic.Grab(ctx)
	})
	h := newHarness(t, blocking, nil)

	done := make(chan error, 1)
	go func() {
		_, err := h.trigger.TakeScreenshot(context.Background())
		done <- err
	}()
	<-started

	if _, err := h.trigger.TakeScreenshot(context.Background()); !errors.Is(err, ErrCycleInFlight) {
		t.Fatalf("expected ErrCycleInFlight, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if ran, skipped := h.trigger.Cycles(); ran != 1 || skipped != 1 {
		t.Fatalf("expected 1 ran / 1 skipped, got %d/%d", ran, skipped)
	}
	if !strings.Contains(h.log.String(), "skipped") {
		t.Fatalf("expected skip to be logged, got %q", h.log.String())
	}
}

func TestStartRunsOnScheduleAndStopWaits(t *testing.T) {
	results := make(chan Outcome, 16)
	h := newHarness(t, screenshots.NewSyntheticProvider(1, nil), func(o *Options) {
		o.Interval = 10 * time.Millisecond
		o.OnResult = func(out Outcome) {
			select {
			case results <- out:
			default:
			}
		}
	})
	h.submitter.delay = 20 * time.Millisecond

	if err := h.trigger.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.trigger.Start(context.Background()); err == nil {
		t.Fatalf("expected second start to fail")
	}

	select {
	case out := <-results:
		if out.Err != nil {
			t.Fatalf("cycle error: %v", out.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a scheduled cycle")
	}

	h.trigger.Stop()
	if h.trigger.Running() {
		t.Fatalf("expected trigger to be stopped")
	}
	count := len(h.submitter.submitted())
	time.Sleep(50 * time.Millisecond)
	if len(h.submitter.submitted()) != count {
		t.Fatalf("expected no submissions after stop")
	}

	h.submitter.mu.Lock()
	defer h.submitter.mu.Unlock()
	for i, err := range h.submitter.ctxErrs {
		if err != nil {
			t.Fatalf("submission %d saw cancelled context: %v", i, err)
		}
	}
}

func TestPausedControllerSkipsTicks(t *testing.T) {
	controller := NewController()
	controller.Pause()
	h := newHarness(t, screenshots.NewSyntheticProvider(1, nil), func(o *Options) {
		o.Interval = 5 * time.Millisecond
		o.Controller = controller
	})
	if err := h.trigger.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	h.trigger.Stop()
	if n := len(h.submitter.submitted()); n != 0 {
		t.Fatalf("expected no submissions while paused, got %d", n)
	}
	if controller.Ignored() == 0 {
		t.Fatal("expected ignored ticks to be counted")
	}
}

func TestNewTriggerValidation(t *testing.T) {
	if _, err := NewTrigger(Options{}); err == nil {
		t.Fatalf("expected error for empty options")
	}
	h := newHarness(t, screenshots.NewSyntheticProvider(1, nil), func(o *Options) { o.Interval = 0 })
	if h.trigger.Interval() != DefaultInterval {
		t.Fatalf("expected default interval, got %s", h.trigger.Interval())
	}
}
