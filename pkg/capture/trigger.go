package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/offlinefirst/worktrack/pkg/events"
	"github.com/offlinefirst/worktrack/pkg/record"
	"github.com/offlinefirst/worktrack/pkg/screenshots"
	"github.com/offlinefirst/worktrack/pkg/syncengine"
	"github.com/offlinefirst/worktrack/pkg/taskctx"
)

// DefaultInterval is the capture cadence when none is configured.
const DefaultInterval = 5 * time.Minute

var (
	// ErrCycleInFlight is returned when a capture is requested while another is running.
	ErrCycleInFlight = errors.New("capture cycle already in flight")
	// ErrNoTaskContext is returned when no project, task and user are selected.
	ErrNoTaskContext = errors.New("no tracking context set")
)

// Stage identifies where a capture cycle stopped.
type Stage string

const (
	StageContext Stage = "context"
	StageCapture Stage = "capture"
	StageEncode  Stage = "encode"
	StageSync    Stage = "sync"
	StageDone    Stage = "done"
)

// Submitter accepts finished records.
type Submitter interface {
	Submit(context.Context, record.Record) (syncengine.SubmitResult, error)
}

// Options controls a Trigger.
type Options struct {
	Interval   time.Duration
	Provider   screenshots.CaptureProvider
	Encoder    *screenshots.Encoder
	Recorder   *events.Recorder
	Context    *taskctx.Store
	Submitter  Submitter
	Controller *Controller
	Logger     *slog.Logger
	Clock      func() time.Time
	// CaptureLog receives one line per cycle when set.
	CaptureLog io.Writer
	// OnResult is called after every cycle, including failed ones.
	OnResult func(Outcome)
}

// Outcome describes a single capture cycle.
type Outcome struct {
	At     time.Time
	Stage  Stage
	TaskID int64
	Counts events.Counts
	Result syncengine.SubmitResult
	Err    error
}

// Trigger periodically captures a screenshot, snapshots the activity
// counters and hands the resulting record to the submitter.
type Trigger struct {
	interval   time.Duration
	provider   screenshots.CaptureProvider
	encoder    *screenshots.Encoder
	recorder   *events.Recorder
	tasks      *taskctx.Store
	submitter  Submitter
	controller *Controller
	logger     *slog.Logger
	clock      func() time.Time
	onResult   func(Outcome)

	logMu      sync.Mutex
	captureLog io.Writer

	inFlight atomic.Bool
	cycles   atomic.Int64
	skipped  atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTrigger validates options and constructs a Trigger.
func NewTrigger(opts Options) (*Trigger, error) {
	switch {
	case opts.Provider == nil:
		return nil, errors.New("capture provider must be provided")
	case opts.Recorder == nil:
		return nil, errors.New("activity recorder must be provided")
	case opts.Context == nil:
		return nil, errors.New("task context store must be provided")
	case opts.Submitter == nil:
		return nil, errors.New("submitter must be provided")
	case opts.Logger == nil:
		return nil, errors.New("logger must be provided")
	}
	if opts.Interval < 0 {
		return nil, fmt.Errorf("capture interval must be positive, got %s", opts.Interval)
	}
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	encoder := opts.Encoder
	if encoder == nil {
		var err error
		if encoder, err = screenshots.NewEncoder(screenshots.EncoderOptions{}); err != nil {
			return nil, err
		}
	}
	controller := opts.Controller
	if controller == nil {
		controller = NewController()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Trigger{
		interval:   interval,
		provider:   opts.Provider,
		encoder:    encoder,
		recorder:   opts.Recorder,
		tasks:      opts.Context,
		submitter:  opts.Submitter,
		controller: controller,
		logger:     opts.Logger,
		clock:      clock,
		onResult:   opts.OnResult,
		captureLog: opts.CaptureLog,
	}, nil
}

// Interval returns the configured cadence.
func (t *Trigger) Interval() time.Duration { return t.interval }

// Cycles reports how many cycles ran and how many ticks were skipped.
func (t *Trigger) Cycles() (ran, skipped int64) {
	return t.cycles.Load(), t.skipped.Load()
}

// Start begins the periodic schedule. It returns immediately.
func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return errors.New("capture trigger already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.loop(runCtx)
	t.logger.Info("capture trigger started", "interval", t.interval)
	return nil
}

// Stop cancels the schedule and waits for an in-flight cycle to finish.
func (t *Trigger) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	t.wg.Wait()
	t.logger.Info("capture trigger stopped")
}

// Running reports whether the schedule is active.
func (t *Trigger) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *Trigger) loop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := t.controller.Admit(); err != nil {
			if errors.Is(err, ErrStopping) {
				return
			}
			t.logger.Debug("capture tick ignored", "reason", err)
			continue
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			_, _ = t.TakeScreenshot(ctx)
		}()
	}
}

// TakeScreenshot runs one capture cycle immediately. The submission is
// detached from ctx cancellation so a started handoff always completes.
func (t *Trigger) TakeScreenshot(ctx context.Context) (syncengine.SubmitResult, error) {
	if !t.inFlight.CompareAndSwap(false, true) {
		t.skipped.Add(1)
		t.logger.Warn("capture cycle skipped", "reason", "previous cycle still running")
		t.writeLog(t.clock(), "skipped (previous cycle in flight)")
		return syncengine.SubmitResult{}, ErrCycleInFlight
	}
	defer t.inFlight.Store(false)
	t.cycles.Add(1)

	out := t.cycle(ctx)
	if out.Err != nil {
		t.logger.Error("capture cycle failed", "stage", out.Stage, "task_id", out.TaskID, "error", out.Err)
		t.writeLog(out.At, "stage=%s error=%v", out.Stage, out.Err)
	} else {
		t.logger.Info("capture cycle complete",
			"task_id", out.TaskID,
			"keyboard", out.Counts.Keyboard,
			"mouse", out.Counts.Mouse,
			"sync_state", out.Result.SyncState,
		)
		t.writeLog(out.At, "task=%d keyboard=%d mouse=%d state=%s", out.TaskID, out.Counts.Keyboard, out.Counts.Mouse, out.Result.SyncState)
	}
	if t.onResult != nil {
		t.onResult(out)
	}
	return out.Result, out.Err
}

func (t *Trigger) cycle(ctx context.Context) Outcome {
	screenshotAt := t.clock()
	out := Outcome{At: screenshotAt}

	current := t.tasks.Current()
	out.TaskID = current.Task.ID
	if !current.Valid() {
		out.Stage, out.Err = StageContext, ErrNoTaskContext
		return out
	}

	frame, err := t.provider.Grab(ctx)
	if err != nil {
		out.Stage, out.Err = StageCapture, fmt.Errorf("grab screenshot: %w", err)
		return out
	}
	encoded, err := t.encoder.Encode(frame)
	if err != nil {
		out.Stage, out.Err = StageEncode, err
		return out
	}

	counts := t.recorder.SnapshotAndReset()
	out.Counts = counts
	rec := record.New(record.Options{
		ProjectID:     current.ProjectID,
		ProjectName:   current.ProjectName,
		TaskID:        current.Task.ID,
		TaskName:      current.Task.Name,
		UserID:        current.UserID,
		ScreenshotAt:  screenshotAt,
		CalculatedAt:  t.clock(),
		KeyboardCount: counts.Keyboard,
		MouseCount:    counts.Mouse,
		Image:         encoded.Image,
		Thumbnail:     encoded.Thumbnail,
	})

	res, err := t.submitter.Submit(context.WithoutCancel(ctx), rec)
	out.Result = res
	if err != nil {
		t.recorder.Restore(counts)
		out.Stage, out.Err = StageSync, err
		return out
	}
	out.Stage = StageDone
	return out
}

func (t *Trigger) writeLog(ts time.Time, message string, args ...any) {
	t.logMu.Lock()
	defer t.logMu.Unlock()
	writeCaptureLog(t.captureLog, ts, "screenshots", message, args...)
}

func writeCaptureLog(w io.Writer, timestamp time.Time, subsystem, message string, args ...any) {
	if w == nil {
		return
	}
	formatted := message
	if len(args) > 0 {
		formatted = fmt.Sprintf(message, args...)
	}
	line := fmt.Sprintf("[%s] subsystem=%s %s\n", timestamp.UTC().Format(time.RFC3339), subsystem, formatted)
	_, _ = io.WriteString(w, line)
}
