package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/offlinefirst/worktrack/internal/style"
	"github.com/offlinefirst/worktrack/pkg/config"
	"github.com/offlinefirst/worktrack/pkg/events"
	"github.com/offlinefirst/worktrack/pkg/permissions"
	"github.com/offlinefirst/worktrack/pkg/queue"
	"github.com/offlinefirst/worktrack/pkg/screenshots"
)

// doctorPingTimeout bounds the remote reachability probe.
const doctorPingTimeout = 3 * time.Second

type doctorCheck struct {
	name     string
	ok       bool
	detail   string
	guidance string
	// advisory checks are reported but do not fail the command.
	advisory bool
}

func (rc *RootCommand) newDoctorCommand() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check permissions, capture backends, queue storage and the remote API",
		Args:  cobra.NoArgs,
		RunE: rc.withApp(func(cmd *cobra.Command, _ []string, app *AppContext) error {
			checks := runDoctor(cmd.Context(), app.Config, offline)
			return printDoctor(cmd.OutOrStdout(), checks)
		}),
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the remote reachability probe")
	return cmd
}

func runDoctor(ctx context.Context, cfg config.Config, offline bool) []doctorCheck {
	var checks []doctorCheck

	if err := cfg.Validate(); err != nil {
		checks = append(checks, doctorCheck{name: "config", detail: err.Error()})
	} else {
		checks = append(checks, doctorCheck{name: "config", ok: true, detail: "source: " + cfg.Source})
	}

	for _, probe := range permissions.ProbeAll(nil) {
		check := permissionCheck(probe)
		switch probe.Surface {
		case permissions.ScreenRecording:
			check.advisory = check.advisory || cfg.Capture.ScreenshotCommand != ""
		case permissions.InputMonitoring:
			check.advisory = check.advisory || cfg.Capture.EventSource != config.EventSourceNative
		}
		checks = append(checks, check)
	}

	shots := screenshots.DetectEnvironment(cfg.Capture.ScreenshotCommand)
	checks = append(checks, doctorCheck{
		name:     "screenshots (" + shots.Provider + ")",
		ok:       shots.Available,
		detail:   shots.Message,
		guidance: shots.Guidance,
	})

	if cfg.Capture.EventSource == config.EventSourceNative {
		input := events.DetectEnvironment()
		checks = append(checks, doctorCheck{
			name:     "input hook (" + input.Provider + ")",
			ok:       input.Available,
			detail:   input.Message,
			guidance: input.Guidance,
		})
	} else {
		checks = append(checks, doctorCheck{name: "input events (" + cfg.Capture.EventSource + ")", ok: true})
	}

	checks = append(checks, queueCheck(cfg))

	if offline {
		return checks
	}
	checks = append(checks, remoteCheck(ctx, cfg))
	return checks
}

func permissionCheck(probe permissions.Result) doctorCheck {
	return doctorCheck{
		name:     strings.ReplaceAll(string(probe.Surface), "_", " ") + " permission",
		ok:       probe.Status == permissions.StatusGranted || probe.Status == permissions.StatusNotApplicable,
		detail:   probe.String() + ": " + probe.Message,
		guidance: probe.Guidance,
		advisory: probe.Status == permissions.StatusPromptRequired,
	}
}

func queueCheck(cfg config.Config) doctorCheck {
	check := doctorCheck{name: "queue directory"}
	q, err := queue.New(queue.Options{Root: cfg.Paths.QueueDir, StabilityWindow: cfg.Sync.StabilityWindow, Clock: timeNow})
	if err != nil {
		check.detail = err.Error()
		return check
	}
	if err := os.MkdirAll(q.Root(), 0o755); err != nil {
		check.detail = err.Error()
		return check
	}
	probe, err := os.CreateTemp(q.Root(), ".doctor-*")
	if err != nil {
		check.detail = fmt.Sprintf("%s is not writable: %v", q.Root(), err)
		return check
	}
	probe.Close()
	_ = os.Remove(probe.Name())

	entries, err := q.Scan()
	if err != nil {
		check.detail = err.Error()
		return check
	}
	check.ok = true
	check.detail = fmt.Sprintf("%s (%d queued)", filepath.Clean(q.Root()), len(entries))
	return check
}

func remoteCheck(ctx context.Context, cfg config.Config) doctorCheck {
	check := doctorCheck{
		name:     "remote API",
		advisory: true,
		guidance: "records queue locally until the API is reachable",
	}
	app := &AppContext{Config: cfg}
	client, err := newRemoteClient(app)
	if err != nil {
		check.detail = err.Error()
		return check
	}
	pingCtx, cancel := context.WithTimeout(ctx, doctorPingTimeout)
	defer cancel()
	code, err := client.Ping(pingCtx)
	if err != nil {
		check.detail = err.Error()
		return check
	}
	check.ok = true
	check.guidance = ""
	check.detail = fmt.Sprintf("%s answered HTTP %d", client.BaseURL(), code)
	return check
}

func printDoctor(stdout io.Writer, checks []doctorCheck) error {
	fmt.Fprintln(stdout, style.Title.Render("worktrack doctor"))
	failed := 0
	for _, c := range checks {
		fmt.Fprintln(stdout, style.Check(c.name, c.ok, c.detail))
		if !c.ok && c.guidance != "" {
			fmt.Fprintln(stdout, "    "+style.Dim.Render(c.guidance))
		}
		if !c.ok && !c.advisory {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
