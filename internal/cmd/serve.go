package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/offlinefirst/worktrack/pkg/backend"
	"github.com/offlinefirst/worktrack/pkg/logging"
	"github.com/offlinefirst/worktrack/pkg/remote"
)

func (rc *RootCommand) newServeCommand() *cobra.Command {
	var (
		addr   string
		dbPath string
		seeds  []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bundled work-diary API backed by SQLite",
		Long: `Serve the work-diary API locally.

Examples:
  worktrack serve
  worktrack serve --addr :8080 --db /tmp/diary.db --task 3:1:Write:4`,
		Args: cobra.NoArgs,
		RunE: rc.withApp(func(cmd *cobra.Command, _ []string, app *AppContext) error {
			cfg := app.Config.Server
			if addr != "" {
				cfg.Addr = addr
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveBackend(ctx, app, cfg.Addr, cfg.DBPath, seeds)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default: server.db_path)")
	cmd.Flags().StringArrayVar(&seeds, "task", nil, "Seed a task as id:project_id[:name[:est_hours]]")
	return cmd
}

func serveBackend(ctx context.Context, app *AppContext, addr, dbPath string, seeds []string) error {
	if app.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := backend.OpenStore(dbPath, timeNow)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, raw := range seeds {
		task, err := parseSeedTask(raw)
		if err != nil {
			return err
		}
		if _, err := store.UpsertTask(ctx, task); err != nil {
			return fmt.Errorf("seed task %d: %w", task.ID, err)
		}
		app.Logger.Info("task seeded", "task_id", task.ID, "project_id", task.ProjectID)
	}

	srv, err := backend.NewServer(backend.Options{
		Store:  store,
		Logger: logging.Component(app.Logger, "backend"),
		Clock:  timeNow,
	})
	if err != nil {
		return err
	}
	app.Logger.Info("serving work diary API", "addr", addr, "db", dbPath, "base_path", backend.DefaultBasePath)
	return srv.ListenAndServe(ctx, addr)
}

func parseSeedTask(raw string) (remote.Task, error) {
	parts := strings.SplitN(raw, ":", 4)
	if len(parts) < 2 {
		return remote.Task{}, fmt.Errorf("invalid --task %q: want id:project_id[:name[:est_hours]]", raw)
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return remote.Task{}, fmt.Errorf("invalid --task %q: id must be a positive integer", raw)
	}
	projectID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || projectID <= 0 {
		return remote.Task{}, fmt.Errorf("invalid --task %q: project id must be a positive integer", raw)
	}
	task := remote.Task{ID: id, ProjectID: projectID}
	if len(parts) > 2 {
		task.Name = parts[2]
	}
	if len(parts) > 3 {
		est, err := strconv.ParseFloat(parts[3], 64)
		if err != nil || est < 0 {
			return remote.Task{}, fmt.Errorf("invalid --task %q: est_hours must be a non-negative number", raw)
		}
		task.EstHours = est
	}
	return task, nil
}
