package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/offlinefirst/worktrack/internal/style"
	"github.com/offlinefirst/worktrack/pkg/record"
	"github.com/offlinefirst/worktrack/pkg/syncengine"
)

func (rc *RootCommand) newSyncCommand() *cobra.Command {
	var loop bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload queued records and act-hours to the remote API",
		Args:  cobra.NoArgs,
		RunE: rc.withApp(func(cmd *cobra.Command, _ []string, app *AppContext) error {
			svc, err := newServices(app)
			if err != nil {
				return err
			}
			if loop {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				app.Logger.Info("reconcile loop started", "interval", app.Config.Sync.ReconcileInterval.String())
				return svc.engine.Run(ctx)
			}
			return reconcileOnce(cmd.Context(), svc.engine, cmd.OutOrStdout())
		}),
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "Keep reconciling with backoff until interrupted")
	return cmd
}

func reconcileOnce(ctx context.Context, engine *syncengine.Engine, stdout io.Writer) error {
	report, err := engine.Reconcile(ctx)
	if errors.Is(err, syncengine.ErrReconcileBusy) {
		fmt.Fprintln(stdout, style.Warn.Render("another reconcile pass is running"))
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	fmt.Fprintln(stdout, style.KV("processed", report.Processed))
	fmt.Fprintln(stdout, style.KV("succeeded", report.Succeeded))
	fmt.Fprintln(stdout, style.KV("failed", report.Failed))
	if report.Quarantined > 0 {
		fmt.Fprintln(stdout, style.KV("moved aside", report.Quarantined))
	}
	fmt.Fprintln(stdout, style.KV("skipped", report.Skipped))
	fmt.Fprintln(stdout, style.KV("act hours", fmt.Sprintf("%d synced, %d failed", report.ActHoursSynced, report.ActHoursFailed)))
	if report.HasFailures() {
		return fmt.Errorf("reconcile left %d record(s) and %d act-hours snapshot(s) queued", report.Failed-report.Quarantined, report.ActHoursFailed)
	}
	return nil
}

func (rc *RootCommand) newQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the local offline queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued records and act-hours snapshots",
		Args:  cobra.NoArgs,
		RunE: rc.withApp(func(cmd *cobra.Command, _ []string, app *AppContext) error {
			svc, err := newServices(app)
			if err != nil {
				return err
			}
			return listQueue(svc, cmd.OutOrStdout())
		}),
	})
	return cmd
}

func listQueue(svc *services, stdout io.Writer) error {
	entries, err := svc.queue.Scan()
	if err != nil {
		return err
	}
	root := svc.queue.Root()
	fmt.Fprintln(stdout, style.Title.Render(fmt.Sprintf("%d queued record(s) in %s", len(entries), root)))
	for _, entry := range entries {
		rel, err := filepath.Rel(root, entry.Path)
		if err != nil {
			rel = entry.Path
		}
		state := "pending"
		if entry.Fresh {
			state = "settling"
		}
		line := fmt.Sprintf("%s %s %s", style.Badge(state), rel, style.Dim.Render(fmt.Sprintf("%d bytes", entry.Size)))
		if queued, err := svc.queue.Read(entry.Path); err == nil && queued.LastError != "" {
			line += " " + style.Dim.Render("last error: "+queued.LastError)
		} else if err != nil {
			line += " " + style.Error.Render(err.Error())
		}
		fmt.Fprintln(stdout, line)
	}

	latest, err := svc.queue.LatestActHours()
	if err != nil {
		return err
	}
	if len(latest) == 0 {
		return nil
	}
	fmt.Fprintln(stdout, style.Title.Render("act hours"))
	ids := make([]int64, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintln(stdout, actHoursLine(latest[id].Record))
	}
	return nil
}

func actHoursLine(rec record.ActHoursRecord) string {
	state := "synced"
	if !rec.IsSynced {
		state = "localonly"
	}
	line := fmt.Sprintf("%s task %d: %.2fh", style.Badge(state), rec.TaskID, rec.ActHours)
	if rec.IsExceeded != nil && *rec.IsExceeded {
		line += " " + style.Error.Render("exceeded")
	}
	return line
}

func (rc *RootCommand) newActHoursCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acthours",
		Short: "Save or load accumulated hours per task",
	}

	var (
		taskID    int64
		projectID int64
		hours     float64
		exceeded  string
	)
	save := &cobra.Command{
		Use:   "save",
		Short: "Push actual hours for a task, keeping a local copy",
		Args:  cobra.NoArgs,
		RunE: rc.withApp(func(cmd *cobra.Command, _ []string, app *AppContext) error {
			rec := record.ActHoursRecord{TaskID: taskID, ProjectID: projectID, ActHours: hours}
			switch exceeded {
			case "":
			case "true":
				rec.IsExceeded = record.Bool(true)
			case "false":
				rec.IsExceeded = record.Bool(false)
			default:
				return fmt.Errorf("--exceeded must be true or false, got %q", exceeded)
			}
			svc, err := newServices(app)
			if err != nil {
				return err
			}
			res, err := svc.engine.SaveActHours(cmd.Context(), rec)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Synced {
				fmt.Fprintln(out, style.KV("remote", style.Badge("synced")))
			} else {
				fmt.Fprintln(out, style.KV("remote", style.Badge("failed")+" "+style.Dim.Render(res.ServerError)))
			}
			if res.SavedLocally {
				fmt.Fprintln(out, style.KV("local copy", res.LocalPath))
			}
			return nil
		}),
	}
	save.Flags().Int64Var(&taskID, "task-id", 0, "Task id")
	save.Flags().Int64Var(&projectID, "project-id", 0, "Project id")
	save.Flags().Float64Var(&hours, "hours", 0, "Accumulated actual hours")
	save.Flags().StringVar(&exceeded, "exceeded", "", "Set the exceeded flag (true or false); omitted leaves it unchanged")

	load := &cobra.Command{
		Use:   "load",
		Short: "Print the latest stored hours for every task",
		Args:  cobra.NoArgs,
		RunE: rc.withApp(func(cmd *cobra.Command, _ []string, app *AppContext) error {
			svc, err := newServices(app)
			if err != nil {
				return err
			}
			stored, err := svc.engine.LoadActHours()
			if err != nil {
				return err
			}
			ids := make([]int64, 0, len(stored))
			for id := range stored {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, style.Dim.Render("no act hours recorded"))
				return nil
			}
			for _, id := range ids {
				entry := stored[id]
				line := fmt.Sprintf("task %d: %.2fh", id, entry.ActHours)
				if entry.IsExceeded {
					line += " " + style.Error.Render("exceeded")
				}
				fmt.Fprintln(out, line)
			}
			return nil
		}),
	}

	cmd.AddCommand(save, load)
	return cmd
}
