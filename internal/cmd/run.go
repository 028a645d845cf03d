package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/offlinefirst/worktrack/internal/buildinfo"
	"github.com/offlinefirst/worktrack/internal/style"
	"github.com/offlinefirst/worktrack/pkg/config"
	"github.com/offlinefirst/worktrack/pkg/events"
	"github.com/offlinefirst/worktrack/pkg/logging"
	"github.com/offlinefirst/worktrack/pkg/runmanifest"
	"github.com/offlinefirst/worktrack/pkg/screenshots"
	"github.com/offlinefirst/worktrack/pkg/taskctx"
	"github.com/offlinefirst/worktrack/pkg/tracker"
	"github.com/offlinefirst/worktrack/pkg/watch"
)

// Termination causes recorded in the run manifest.
const (
	terminationInterrupted = "interrupted"
	terminationDuration    = "duration_elapsed"
	terminationStopped     = "tracker_stopped"
	terminationQuit        = "watch_quit"
)

type runOptions struct {
	task        taskFlags
	duration    time.Duration
	watch       bool
	planOnly    bool
	eventSource string
}

func (rc *RootCommand) newRunCommand() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Track activity and capture screenshots for a task until interrupted",
		Long: `Start a tracking session for the selected task.

Input events are counted, a screenshot is captured every capture.interval and
each snapshot is sent to the remote API, falling back to the local queue when
the remote is unreachable. Queued records are reconciled in the background.

Examples:
  worktrack run --project-id 1 --task-id 3 --task-name "Write docs" --est-hours 4
  worktrack run --project-id 1 --task-id 3 --node subtask:12:Review --watch
  input-helper | worktrack run --project-id 1 --task-id 3 --events -`,
		Args: cobra.NoArgs,
		RunE: rc.withApp(func(cmd *cobra.Command, _ []string, app *AppContext) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTracking(ctx, app, opts, rc.stdin, cmd.OutOrStdout())
		}),
	}
	opts.task.register(cmd)
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop automatically after this long (0 runs until interrupted)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Show the live terminal view")
	cmd.Flags().BoolVar(&opts.planOnly, "plan-only", false, "Print the resolved configuration without starting")
	cmd.Flags().StringVar(&opts.eventSource, "events", "", "Override capture.event_source (native, stdin or -, synthetic, none)")
	return cmd
}

func runTracking(ctx context.Context, app *AppContext, opts runOptions, stdin io.Reader, stdout io.Writer) error {
	if app == nil {
		return fmt.Errorf("application context unavailable")
	}
	cfg := app.Config
	if opts.eventSource != "" {
		source, err := config.NormalizeEventSource(opts.eventSource)
		if err != nil {
			return err
		}
		cfg.Capture.EventSource = source
	}

	tc, err := opts.task.context(cfg)
	if err != nil {
		return err
	}

	app.Logger.Info("run command invoked", "plan_only", opts.planOnly, "state_dir", cfg.Paths.StateDir, "config_source", cfg.Source)
	if opts.planOnly {
		printRunPlan(cfg, tc, stdout)
		return nil
	}

	runsDir := runmanifest.RunsDir(cfg.Paths.StateDir)
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return fmt.Errorf("ensure runs directory: %w", err)
	}
	runID, err := runmanifest.ResolveRunID(runsDir, timeNow())
	if err != nil {
		return fmt.Errorf("resolve run id: %w", err)
	}
	layout := runmanifest.BuildLayout(runsDir, runID)
	if err := runmanifest.EnsureFilesystem(layout); err != nil {
		return fmt.Errorf("prepare run filesystem: %w", err)
	}

	host, err := hostname()
	if err != nil {
		host = "unknown"
	}
	session, err := runmanifest.NewSession(runmanifest.New(runmanifest.Options{
		RunID:      runID,
		CreatedAt:  timeNow(),
		Hostname:   host,
		AppVersion: buildinfo.Version(),
		Config:     cfg,
		Layout:     layout,
	}), layout)
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	logger := app.Logger.With("run_id", runID)

	fail := func(err error) error {
		session.Finish(runmanifest.StateFailed, "error", err.Error(), timeNow())
		if saveErr := session.Save(); saveErr != nil {
			return fmt.Errorf("%v (additionally failed to persist manifest: %w)", err, saveErr)
		}
		return err
	}

	captureLog, err := os.OpenFile(layout.CaptureLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fail(fmt.Errorf("open capture log: %w", err))
	}
	defer captureLog.Close()

	svc, err := newServices(app)
	if err != nil {
		return fail(err)
	}
	session.SetSubsystems(detectSubsystems(cfg)...)

	provider, err := screenshots.NewProvider(screenshots.ProviderOptions{Command: cfg.Capture.ScreenshotCommand, Clock: timeNow})
	if err != nil {
		return fail(fmt.Errorf("initialise screenshot provider: %w", err))
	}
	encoder, err := newEncoder(cfg.Capture)
	if err != nil {
		return fail(err)
	}
	source, err := newEventSource(cfg.Capture.EventSource, stdin)
	if err != nil {
		return fail(err)
	}

	tr, err := tracker.New(tracker.Options{
		Engine:       svc.engine,
		Provider:     provider,
		Encoder:      encoder,
		Source:       source,
		Interval:     cfg.Capture.Interval,
		MoveThrottle: cfg.Capture.MouseMoveThrottle,
		StopOnEscape: cfg.Capture.StopOnEscape,
		Logger:       logging.Component(logger, "tracker"),
		Clock:        timeNow,
		CaptureLog:   captureLog,
	})
	if err != nil {
		return fail(err)
	}
	defer tr.Bus().Close()

	// Pause and resume transitions land in the manifest timeline.
	statusCh, unsubscribe := tr.Bus().Status.Subscribe(16)
	defer unsubscribe()
	var timeline sync.WaitGroup
	timeline.Add(1)
	go func() {
		defer timeline.Done()
		recordTimeline(session, statusCh)
	}()

	engineCtx, stopEngine := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := svc.engine.Run(engineCtx); err != nil {
			logger.Warn("reconcile loop stopped", "error", err)
		}
	}()
	defer func() {
		stopEngine()
		<-engineDone
	}()

	if err := tr.StartTracking(ctx, tc); err != nil {
		return fail(fmt.Errorf("start tracking: %w", err))
	}
	session.Transition(runmanifest.StateRunning, "tracking started", timeNow())
	if err := session.Save(); err != nil {
		logger.Warn("update manifest", "error", err)
	}

	termination := waitForEnd(ctx, tr, opts)

	stopErr := tr.StopTracking(context.Background())
	unsubscribe()
	timeline.Wait()

	ran, skipped := tr.Trigger().Cycles()
	stats := svc.engine.Stats()
	session.SetCounters(runmanifest.Counters{
		Cycles:        ran,
		SkippedCycles: skipped,
		PausedTicks:   tr.PausedTicks(),
		Submitted:     stats.Submitted,
		Synced:        stats.Synced,
		Queued:        stats.Queued,
		Failed:        stats.Failed,
		Reconciled:    stats.Reconciled,
	})
	state := runmanifest.StateCompleted
	summary := fmt.Sprintf("tracking finished (%s)", termination)
	if stopErr != nil {
		state = runmanifest.StateFailed
		summary = stopErr.Error()
		logger.Error("stop tracking", "error", stopErr)
	}
	session.Finish(state, termination, summary, timeNow())
	if err := session.Save(); err != nil {
		return fmt.Errorf("finalise manifest: %w", err)
	}

	printRunSummary(stdout, session.Manifest(), layout)
	if stopErr != nil {
		return fmt.Errorf("stop tracking: %w", stopErr)
	}
	return nil
}

// waitForEnd blocks until the session should end and reports why.
func waitForEnd(ctx context.Context, tr *tracker.Tracker, opts runOptions) string {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.duration > 0 {
		var cancelTimeout context.CancelFunc
		waitCtx, cancelTimeout = context.WithTimeout(waitCtx, opts.duration)
		defer cancelTimeout()
	}

	stopped := make(chan struct{})
	go func() {
		select {
		case <-tr.Done():
			close(stopped)
			cancel()
		case <-waitCtx.Done():
		}
	}()

	if opts.watch {
		feeds, release := watch.Subscribe(tr.Bus())
		defer release()
		model := watch.New(watch.Options{
			Feeds:  feeds,
			Status: tr.Status,
			Title:  "worktrack run",
			TogglePause: func() {
				if tr.Status().Paused {
					tr.Resume()
					return
				}
				_ = tr.Pause(context.Background())
			},
		})
		if err := watch.Run(waitCtx, model); err != nil {
			return terminationQuit
		}
		if waitCtx.Err() == nil {
			return terminationQuit
		}
	} else {
		<-waitCtx.Done()
	}

	select {
	case <-stopped:
		return terminationStopped
	default:
	}
	if ctx.Err() != nil {
		return terminationInterrupted
	}
	return terminationDuration
}

func recordTimeline(session *runmanifest.Session, statuses <-chan tracker.Status) {
	paused := false
	for st := range statuses {
		if !st.IsTracking || st.Paused == paused {
			continue
		}
		paused = st.Paused
		if paused {
			session.Transition(runmanifest.StatePaused, "paused", timeNow())
		} else {
			session.Transition(runmanifest.StateRunning, "resumed", timeNow())
		}
		_ = session.Save()
	}
}

func detectSubsystems(cfg config.Config) []runmanifest.SubsystemStatus {
	shots := screenshots.DetectEnvironment(cfg.Capture.ScreenshotCommand)
	input := runmanifest.SubsystemStatus{Name: "events", Available: true, Provider: cfg.Capture.EventSource}
	if cfg.Capture.EventSource == config.EventSourceNative {
		env := events.DetectEnvironment()
		input = runmanifest.SubsystemStatus{
			Name:       "events",
			Available:  env.Available,
			Provider:   env.Provider,
			Permission: env.Permission,
			Message:    env.Message,
		}
	}
	return []runmanifest.SubsystemStatus{
		{
			Name:       "screenshots",
			Available:  shots.Available,
			Provider:   shots.Provider,
			Permission: shots.Permission,
			Message:    shots.Message,
		},
		input,
	}
}

func printRunPlan(cfg config.Config, tc taskctx.Context, stdout io.Writer) {
	current := tc.Selection
	node, level := current.Resolve()
	fmt.Fprintln(stdout, style.Title.Render(fmt.Sprintf("Resolved configuration (source: %s)", cfg.Source)))
	fmt.Fprintln(stdout, style.KV("user", tc.UserID))
	fmt.Fprintln(stdout, style.KV("project", current.Project.ID))
	fmt.Fprintln(stdout, style.KV("tracking", fmt.Sprintf("%s #%d %s", level, node.ID, node.Name)))
	fmt.Fprintln(stdout, style.KV("remote", cfg.Remote.BaseURL))
	fmt.Fprintln(stdout, style.KV("queue", cfg.Paths.QueueDir))
	fmt.Fprintln(stdout, style.KV("interval", cfg.Capture.Interval))
	fmt.Fprintln(stdout, style.KV("events", cfg.Capture.EventSource))
	fmt.Fprintln(stdout, style.KV("reconcile", cfg.Sync.ReconcileInterval))
}

func printRunSummary(stdout io.Writer, man runmanifest.Manifest, layout runmanifest.Layout) {
	st := man.Status
	fmt.Fprintln(stdout, style.Title.Render("Run "+man.RunID))
	fmt.Fprintln(stdout, style.KV("state", style.Badge(st.State)))
	fmt.Fprintln(stdout, style.KV("ended by", st.Termination))
	fmt.Fprintln(stdout, style.KV("manifest", layout.ManifestPath))
	fmt.Fprintln(stdout, style.KV("capture log", layout.CaptureLogPath))
	c := st.Counters
	fmt.Fprintln(stdout, style.KV("cycles", fmt.Sprintf("%d ran, %d skipped, %d paused", c.Cycles, c.SkippedCycles, c.PausedTicks)))
	fmt.Fprintln(stdout, style.KV("records", fmt.Sprintf("%d submitted, %d synced, %d queued, %d failed", c.Submitted, c.Synced, c.Queued, c.Failed)))
	fmt.Fprintln(stdout, style.KV("reconciled", c.Reconciled))
	for _, sub := range st.Subsystems {
		state := "available"
		if !sub.Available {
			state = "unavailable"
		}
		line := fmt.Sprintf("%s %s", style.Badge(state), sub.Provider)
		if sub.Message != "" {
			line += " " + style.Dim.Render("("+sub.Message+")")
		}
		fmt.Fprintln(stdout, style.KV(sub.Name, line))
	}
	if len(st.Controller) > 0 {
		fmt.Fprintln(stdout, style.Dim.Render("Controller timeline:"))
		for _, entry := range st.Controller {
			line := fmt.Sprintf("  - %s -> %s", entry.Timestamp.Format(time.RFC3339), entry.State)
			if entry.Reason != "" {
				line += fmt.Sprintf(" (%s)", entry.Reason)
			}
			fmt.Fprintln(stdout, line)
		}
	}
}
