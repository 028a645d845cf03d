// Package tracker is the host-facing API: it starts and stops tracking,
// attributes time to the selected task and fans notifications out on a Bus.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/offlinefirst/worktrack/pkg/capture"
	"github.com/offlinefirst/worktrack/pkg/events"
	"github.com/offlinefirst/worktrack/pkg/record"
	"github.com/offlinefirst/worktrack/pkg/screenshots"
	"github.com/offlinefirst/worktrack/pkg/syncengine"
	"github.com/offlinefirst/worktrack/pkg/taskctx"
)

// ErrAlreadyTracking is returned by StartTracking when a session is active.
var ErrAlreadyTracking = errors.New("tracking already started")

// SyncEngine is the subset of syncengine.Engine the tracker needs.
type SyncEngine interface {
	Submit(context.Context, record.Record) (syncengine.SubmitResult, error)
	SaveActHours(context.Context, record.ActHoursRecord) (syncengine.ActHoursResult, error)
	LoadActHours() (map[int64]record.ActHoursEntry, error)
}

// Options wires the tracker's collaborators.
type Options struct {
	Engine   SyncEngine
	Provider screenshots.CaptureProvider
	Encoder  *screenshots.Encoder
	// Source feeds global input events. Nil disables input counting.
	Source       events.EventSource
	Context      *taskctx.Store
	Interval     time.Duration
	MoveThrottle time.Duration
	StopOnEscape bool
	Logger       *slog.Logger
	Clock        func() time.Time
	CaptureLog   io.Writer
	Bus          *Bus
}

// Tracker owns one tracking session at a time.
type Tracker struct {
	engine       SyncEngine
	source       events.EventSource
	tasks        *taskctx.Store
	stopOnEscape bool
	logger       *slog.Logger
	clock        func() time.Time
	bus          *Bus

	recorder   *events.Recorder
	trigger    *capture.Trigger
	controller *capture.Controller

	mu           sync.Mutex
	tracking     bool
	paused       bool
	startedAt    time.Time
	segmentStart time.Time
	segmentTask  taskctx.Current
	hours        map[int64]float64
	exceeded     map[int64]bool
	cancel       context.CancelFunc
	inputDone    chan struct{}
	done         chan struct{}
}

// New validates options and assembles the recorder and capture trigger.
func New(opts Options) (*Tracker, error) {
	switch {
	case opts.Engine == nil:
		return nil, errors.New("sync engine must be provided")
	case opts.Logger == nil:
		return nil, errors.New("logger must be provided")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	tasks := opts.Context
	if tasks == nil {
		tasks = taskctx.NewStore()
	}
	b := opts.Bus
	if b == nil {
		b = NewBus()
	}

	t := &Tracker{
		engine:       opts.Engine,
		source:       opts.Source,
		tasks:        tasks,
		stopOnEscape: opts.StopOnEscape,
		logger:       opts.Logger,
		clock:        clock,
		bus:          b,
		controller:   capture.NewController(),
		hours:        make(map[int64]float64),
		exceeded:     make(map[int64]bool),
		done:         closedChan(),
	}

	recorder, err := events.NewRecorder(events.Options{
		MoveThrottle: opts.MoveThrottle,
		Clock:        clock,
		Forward:      t.forward,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise activity recorder: %w", err)
	}
	t.recorder = recorder

	trigger, err := capture.NewTrigger(capture.Options{
		Interval:   opts.Interval,
		Provider:   opts.Provider,
		Encoder:    opts.Encoder,
		Recorder:   recorder,
		Context:    tasks,
		Submitter:  opts.Engine,
		Controller: t.controller,
		Logger:     opts.Logger,
		Clock:      clock,
		CaptureLog: opts.CaptureLog,
		OnResult:   t.onCapture,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise capture trigger: %w", err)
	}
	t.trigger = trigger
	return t, nil
}

// Bus returns the notification bus.
func (t *Tracker) Bus() *Bus { return t.bus }

// Recorder exposes the activity recorder, e.g. for hosts that push events directly.
func (t *Tracker) Recorder() *events.Recorder { return t.recorder }

// Trigger exposes the capture trigger for diagnostics.
func (t *Tracker) Trigger() *capture.Trigger { return t.trigger }

// PausedTicks counts scheduled captures dropped while paused in the
// current or most recent session.
func (t *Tracker) PausedTicks() int64 { return t.controller.Ignored() }

// Done is closed when the current session ends.
func (t *Tracker) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// StartTracking sets the tracking context, restores stored act-hours and
// starts input counting and periodic capture. A zero tc keeps the context
// already in the store.
func (t *Tracker) StartTracking(ctx context.Context, tc taskctx.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tracking {
		return ErrAlreadyTracking
	}
	if tc != (taskctx.Context{}) {
		t.tasks.Set(tc)
	}
	current := t.tasks.Current()
	if !current.Valid() {
		return capture.ErrNoTaskContext
	}

	if stored, err := t.engine.LoadActHours(); err != nil {
		t.logger.Warn("load act hours failed", "error", err)
		t.publishError(ErrorActHours, err)
	} else {
		for id, entry := range stored {
			t.hours[id] = entry.ActHours
			t.exceeded[id] = entry.IsExceeded
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.recorder.SnapshotAndReset()
	t.controller.Reset()
	if err := t.trigger.Start(runCtx); err != nil {
		cancel()
		return err
	}

	now := t.clock()
	t.tracking = true
	t.paused = false
	t.startedAt = now
	t.segmentStart = now
	t.segmentTask = current
	t.cancel = cancel
	t.done = make(chan struct{})
	t.inputDone = nil
	if t.source != nil {
		t.inputDone = make(chan struct{})
		go t.runInput(runCtx, t.inputDone)
	}

	t.logger.Info("tracking started", "project_id", current.ProjectID, "task_id", current.Task.ID, "level", current.Level.String())
	t.publishStatusLocked()
	return nil
}

// StopTracking ends the session, persists elapsed hours and clears the
// tracking context. Stopping an idle tracker is a no-op.
func (t *Tracker) StopTracking(ctx context.Context) error {
	t.mu.Lock()
	if !t.tracking {
		t.mu.Unlock()
		return nil
	}
	t.tracking = false
	wasPaused := t.paused
	t.paused = false
	seg := t.closeSegmentLocked()
	cancel := t.cancel
	t.cancel = nil
	inputDone := t.inputDone
	done := t.done
	t.mu.Unlock()

	t.controller.Stop()
	t.trigger.Stop()
	cancel()
	if inputDone != nil {
		<-inputDone
	}

	var err error
	if !wasPaused {
		_, err = t.saveSegment(ctx, seg)
	}
	t.tasks.Clear()

	t.mu.Lock()
	close(done)
	t.publishStatusLocked()
	t.mu.Unlock()
	t.logger.Info("tracking stopped")
	return err
}

// Pause stops attributing time and ignores capture ticks until Resume.
func (t *Tracker) Pause(ctx context.Context) error {
	t.mu.Lock()
	if !t.tracking || t.paused {
		t.mu.Unlock()
		return nil
	}
	t.paused = true
	seg := t.closeSegmentLocked()
	t.controller.Pause()
	t.publishStatusLocked()
	t.mu.Unlock()

	_, err := t.saveSegment(ctx, seg)
	return err
}

// Resume restarts time attribution after Pause.
func (t *Tracker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.tracking || !t.paused {
		return
	}
	t.paused = false
	t.segmentStart = t.clock()
	t.segmentTask = t.tasks.Current()
	t.controller.Resume()
	t.publishStatusLocked()
}

// SetTrackingContext changes the tracked selection. While tracking, time
// spent so far is attributed to the previous task first.
func (t *Tracker) SetTrackingContext(ctx context.Context, tc taskctx.Context) error {
	t.mu.Lock()
	var seg segment
	flush := t.tracking && !t.paused
	if flush {
		seg = t.closeSegmentLocked()
	}
	t.tasks.Set(tc)
	t.segmentTask = t.tasks.Current()
	t.publishStatusLocked()
	t.mu.Unlock()

	if !flush {
		return nil
	}
	_, err := t.saveSegment(ctx, seg)
	return err
}

// Status reports the current tracking state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

// TakeScreenshot runs one capture cycle now.
func (t *Tracker) TakeScreenshot(ctx context.Context) (syncengine.SubmitResult, error) {
	return t.trigger.TakeScreenshot(ctx)
}

// SaveActHours pushes rec through the sync engine and remembers it.
func (t *Tracker) SaveActHours(ctx context.Context, rec record.ActHoursRecord) (syncengine.ActHoursResult, error) {
	res, err := t.engine.SaveActHours(ctx, rec)
	if err != nil {
		t.publishError(ErrorActHours, err)
		return res, err
	}
	t.mu.Lock()
	t.hours[rec.TaskID] = rec.ActHours
	if rec.IsExceeded != nil {
		t.exceeded[rec.TaskID] = *rec.IsExceeded
	}
	t.mu.Unlock()
	return res, nil
}

// LoadActHours reads stored hours for every task and caches them.
func (t *Tracker) LoadActHours() (map[int64]record.ActHoursEntry, error) {
	stored, err := t.engine.LoadActHours()
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	for id, entry := range stored {
		t.hours[id] = entry.ActHours
		t.exceeded[id] = entry.IsExceeded
	}
	t.mu.Unlock()
	return stored, nil
}

// ActHours returns the cached hours for a task.
func (t *Tracker) ActHours(taskID int64) (record.ActHoursEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hours, ok := t.hours[taskID]
	if !ok {
		return record.ActHoursEntry{}, fmt.Errorf("task %d: %w", taskID, record.ErrNoActHours)
	}
	return record.ActHoursEntry{ActHours: hours, IsExceeded: t.exceeded[taskID]}, nil
}

type segment struct {
	task    taskctx.Current
	elapsed time.Duration
}

func (t *Tracker) closeSegmentLocked() segment {
	now := t.clock()
	seg := segment{task: t.segmentTask, elapsed: now.Sub(t.segmentStart)}
	t.segmentStart = now
	return seg
}

// saveSegment adds the segment to the task's running total and persists it.
func (t *Tracker) saveSegment(ctx context.Context, seg segment) (syncengine.ActHoursResult, error) {
	if !seg.task.Valid() || seg.elapsed <= 0 {
		return syncengine.ActHoursResult{}, nil
	}
	id := seg.task.Task.ID

	t.mu.Lock()
	t.hours[id] += seg.elapsed.Hours()
	act := t.hours[id]
	rec := record.ActHoursRecord{TaskID: id, ProjectID: seg.task.ProjectID, ActHours: act}
	if seg.task.Task.EstHours > 0 {
		exceeded := record.Exceeded(act, seg.task.Task.EstHours)
		t.exceeded[id] = exceeded
		rec.IsExceeded = record.Bool(exceeded)
	}
	t.mu.Unlock()

	res, err := t.engine.SaveActHours(ctx, rec)
	if err != nil {
		t.logger.Error("save act hours failed", "task_id", id, "error", err)
		t.publishError(ErrorActHours, err)
		return res, err
	}
	t.logger.Debug("act hours saved", "task_id", id, "act_hours", act, "synced", res.Synced)
	return res, nil
}

func (t *Tracker) runInput(ctx context.Context, done chan struct{}) {
	defer close(done)
	source := events.EventSourceFunc(func(ctx context.Context, emit func(events.Event) error) error {
		return t.source.Stream(ctx, func(ev events.Event) error {
			if t.isPaused() {
				return nil
			}
			return emit(ev)
		})
	})
	err := t.recorder.Run(ctx, source)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	t.logger.Warn("input source stopped", "error", err)
	t.publishError(ErrorInput, err)
}

func (t *Tracker) isPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *Tracker) forward(ev events.Event) {
	t.bus.Events.Publish(ev)
	if t.stopOnEscape && ev.IsEscape() {
		t.logger.Info("escape pressed, stopping tracking")
		go func() {
			if err := t.StopTracking(context.Background()); err != nil {
				t.logger.Warn("stop tracking after escape", "error", err)
			}
		}()
	}
}

func (t *Tracker) onCapture(out capture.Outcome) {
	t.bus.Captures.Publish(out)
	if out.Err == nil {
		return
	}
	kind := ErrorCapture
	switch out.Stage {
	case capture.StageSync:
		kind = ErrorSync
	case capture.StageContext:
		kind = ErrorContext
	}
	t.publishError(kind, out.Err)
}

func (t *Tracker) publishError(kind string, err error) {
	t.bus.Errors.Publish(TrackingError{Type: kind, Message: err.Error(), At: t.clock().UTC()})
}

func (t *Tracker) statusLocked() Status {
	current := t.tasks.Current()
	st := Status{
		IsTracking:  t.tracking,
		Paused:      t.paused,
		CurrentTask: current,
		Counts:      t.recorder.Peek(),
	}
	if t.tracking {
		st.StartedAt = t.startedAt
	}
	if current.Task.ID != 0 {
		st.ActHours = t.hours[current.Task.ID]
		if t.tracking && !t.paused && t.segmentTask.Task.ID == current.Task.ID {
			st.ActHours += t.clock().Sub(t.segmentStart).Hours()
		}
		st.IsExceeded = record.Exceeded(st.ActHours, current.Task.EstHours) || t.exceeded[current.Task.ID]
	}
	return st
}

func (t *Tracker) publishStatusLocked() {
	t.bus.Status.Publish(t.statusLocked())
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
