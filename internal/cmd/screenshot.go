package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/offlinefirst/worktrack/internal/style"
	"github.com/offlinefirst/worktrack/pkg/logging"
	"github.com/offlinefirst/worktrack/pkg/screenshots"
	"github.com/offlinefirst/worktrack/pkg/taskctx"
	"github.com/offlinefirst/worktrack/pkg/tracker"
)

func (rc *RootCommand) newScreenshotCommand() *cobra.Command {
	var task taskFlags
	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Capture and submit a single snapshot for a task",
		Args:  cobra.NoArgs,
		RunE: rc.withApp(func(cmd *cobra.Command, _ []string, app *AppContext) error {
			return takeScreenshot(cmd.Context(), app, task, cmd.OutOrStdout())
		}),
	}
	task.register(cmd)
	return cmd
}

func takeScreenshot(ctx context.Context, app *AppContext, task taskFlags, stdout io.Writer) error {
	cfg := app.Config
	tc, err := task.context(cfg)
	if err != nil {
		return err
	}
	svc, err := newServices(app)
	if err != nil {
		return err
	}
	provider, err := screenshots.NewProvider(screenshots.ProviderOptions{Command: cfg.Capture.ScreenshotCommand, Clock: timeNow})
	if err != nil {
		return fmt.Errorf("initialise screenshot provider: %w", err)
	}
	encoder, err := newEncoder(cfg.Capture)
	if err != nil {
		return err
	}

	store := taskctx.NewStore()
	store.Set(tc)
	tr, err := tracker.New(tracker.Options{
		Engine:   svc.engine,
		Provider: provider,
		Encoder:  encoder,
		Context:  store,
		Interval: cfg.Capture.Interval,
		Logger:   logging.Component(app.Logger, "screenshot"),
		Clock:    timeNow,
	})
	if err != nil {
		return err
	}
	defer tr.Bus().Close()

	res, err := tr.TakeScreenshot(ctx)
	if err != nil {
		return fmt.Errorf("take screenshot: %w", err)
	}
	switch {
	case res.SavedLocally:
		fmt.Fprintln(stdout, style.KV("result", style.Badge("queued")))
		fmt.Fprintln(stdout, style.KV("path", res.LocalPath))
		fmt.Fprintln(stdout, style.KV("server", style.Dim.Render(res.ServerError)))
	case res.Duplicate:
		fmt.Fprintln(stdout, style.KV("result", style.Badge("synced")+" "+style.Dim.Render("(duplicate)")))
		fmt.Fprintln(stdout, style.KV("inserted id", res.InsertedID))
	default:
		fmt.Fprintln(stdout, style.KV("result", style.Badge("synced")))
		fmt.Fprintln(stdout, style.KV("inserted id", res.InsertedID))
	}
	return nil
}
