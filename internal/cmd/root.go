package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/offlinefirst/worktrack/internal/buildinfo"
	"github.com/offlinefirst/worktrack/pkg/config"
	"github.com/offlinefirst/worktrack/pkg/logging"
)

// AppContext exposes lazily initialised configuration and logging facilities.
type AppContext struct {
	Config config.Config
	Logger *slog.Logger
}

// RootCommand owns the cobra tree and the shared application context.
type RootCommand struct {
	cmd        *cobra.Command
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	appCtx     *AppContext
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCommand constructs the CLI with every subcommand registered.
func NewRootCommand() *RootCommand {
	rc := &RootCommand{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	root := &cobra.Command{
		Use:           "worktrack",
		Short:         "Offline-first activity and screenshot tracker",
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&rc.configPath, "config", "", "Path to config file (default: ./worktrack.yaml if present)")
	root.PersistentFlags().StringVar(&rc.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&rc.logFormat, "log-format", "", "Override log output format (json, console)")

	root.AddCommand(
		rc.newRunCommand(),
		rc.newScreenshotCommand(),
		rc.newSyncCommand(),
		rc.newQueueCommand(),
		rc.newActHoursCommand(),
		rc.newServeCommand(),
		rc.newDoctorCommand(),
		rc.newConfigCommand(),
		rc.newVersionCommand(),
	)
	rc.cmd = root
	return rc
}

// SetIO redirects the command streams, mainly for tests.
func (rc *RootCommand) SetIO(stdin io.Reader, stdout, stderr io.Writer) {
	rc.stdin = stdin
	rc.stdout = stdout
	rc.stderr = stderr
}

// Execute parses args and runs the selected subcommand.
func (rc *RootCommand) Execute(args []string) error {
	rc.cmd.SetIn(rc.stdin)
	rc.cmd.SetOut(rc.stdout)
	rc.cmd.SetErr(rc.stderr)
	rc.cmd.SetArgs(args)
	if err := rc.cmd.Execute(); err != nil {
		fmt.Fprintln(rc.stderr, "Error:", err)
		return err
	}
	return nil
}

func (rc *RootCommand) ensureAppContext() (*AppContext, error) {
	if rc.appCtx != nil {
		return rc.appCtx, nil
	}

	cfg, err := config.Load(rc.configPath)
	if err != nil {
		return nil, err
	}

	if rc.logLevel != "" {
		lvl, err := config.NormalizeLogLevel(rc.logLevel)
		if err != nil {
			return nil, err
		}
		cfg.Logging.Level = lvl
	}
	if rc.logFormat != "" {
		format, err := config.NormalizeFormat(rc.logFormat)
		if err != nil {
			return nil, err
		}
		cfg.Logging.Format = format
	}

	logger, err := logging.FromConfig(cfg.Logging, rc.stderr)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded", "source", cfg.Source, "queue_dir", cfg.Paths.QueueDir, "state_dir", cfg.Paths.StateDir)

	rc.appCtx = &AppContext{Config: cfg, Logger: logger}
	return rc.appCtx, nil
}

// withApp adapts a handler that needs the loaded configuration to cobra's RunE.
func (rc *RootCommand) withApp(run func(cmd *cobra.Command, args []string, app *AppContext) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := rc.ensureAppContext()
		if err != nil {
			return err
		}
		return run(cmd, args, app)
	}
}

func versionString() string {
	return fmt.Sprintf("%s (go%s/%s)", buildinfo.Version(), runtimeVersion(), runtimeGOOS())
}

// runtimeVersion is extracted for testability.
var runtimeVersion = func() string { return strings.TrimPrefix(runtime.Version(), "go") }

// runtimeGOOS is extracted for testability.
var runtimeGOOS = func() string { return runtime.GOOS }
