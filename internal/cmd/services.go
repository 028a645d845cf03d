package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/offlinefirst/worktrack/internal/buildinfo"
	"github.com/offlinefirst/worktrack/pkg/config"
	"github.com/offlinefirst/worktrack/pkg/events"
	"github.com/offlinefirst/worktrack/pkg/logging"
	"github.com/offlinefirst/worktrack/pkg/queue"
	"github.com/offlinefirst/worktrack/pkg/remote"
	"github.com/offlinefirst/worktrack/pkg/screenshots"
	"github.com/offlinefirst/worktrack/pkg/syncengine"
	"github.com/offlinefirst/worktrack/pkg/taskctx"
)

var (
	timeNow  = time.Now
	hostname = os.Hostname
)

// syntheticEventInterval paces the demo input source.
const syntheticEventInterval = 250 * time.Millisecond

// services are the long-lived collaborators shared by several commands.
type services struct {
	queue  *queue.Queue
	remote *remote.Client
	engine *syncengine.Engine
}

func newServices(app *AppContext) (*services, error) {
	cfg := app.Config
	q, err := queue.New(queue.Options{
		Root:            cfg.Paths.QueueDir,
		StabilityWindow: cfg.Sync.StabilityWindow,
		Clock:           timeNow,
	})
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	client, err := newRemoteClient(app)
	if err != nil {
		return nil, err
	}
	engine, err := syncengine.New(syncengine.Options{
		Remote:            client,
		Queue:             q,
		Logger:            logging.Component(app.Logger, "sync"),
		Clock:             timeNow,
		ReconcileInterval: cfg.Sync.ReconcileInterval,
		BackoffInitial:    cfg.Sync.BackoffInitial,
		BackoffMax:        cfg.Sync.BackoffMax,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise sync engine: %w", err)
	}
	return &services{queue: q, remote: client, engine: engine}, nil
}

func newRemoteClient(app *AppContext) (*remote.Client, error) {
	return remote.New(remote.Options{
		BaseURL:   app.Config.Remote.BaseURL,
		Timeout:   app.Config.Remote.Timeout,
		UserAgent: "worktrack/" + buildinfo.Version(),
	})
}

func newEncoder(cfg config.CaptureConfig) (*screenshots.Encoder, error) {
	return screenshots.NewEncoder(screenshots.EncoderOptions{
		Width:       cfg.ImageWidth,
		Height:      cfg.ImageHeight,
		ThumbWidth:  cfg.ThumbWidth,
		ThumbHeight: cfg.ThumbHeight,
		Quality:     cfg.JPEGQuality,
	})
}

// newEventSource resolves capture.event_source. A nil source disables input
// counting. Native hooks that cannot start are an error rather than a silent
// downgrade.
func newEventSource(source string, stdin io.Reader) (events.EventSource, error) {
	switch source {
	case config.EventSourceNone:
		return nil, nil
	case config.EventSourceStdin:
		return events.NewJSONLSource(stdin, timeNow), nil
	case config.EventSourceSynthetic:
		return events.NewSyntheticSource(events.SyntheticOptions{
			Interval: syntheticEventInterval,
			Seed:     uint64(timeNow().UnixNano()),
			Clock:    timeNow,
		}), nil
	case config.EventSourceNative, "":
		src, err := events.NativeSource(timeNow)
		if err != nil {
			return nil, fmt.Errorf("native input hook unavailable (set capture.event_source to stdin, synthetic or none): %w", err)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unsupported event source %q", source)
	}
}

// taskFlags collects the tracking context from the command line.
type taskFlags struct {
	userID      int64
	projectID   int64
	projectName string
	taskID      int64
	taskName    string
	estHours    float64
	nodes       []string
}

func (f *taskFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.userID, "user-id", 0, "User id (default: identity.user_id)")
	cmd.Flags().Int64Var(&f.projectID, "project-id", 0, "Project id")
	cmd.Flags().StringVar(&f.projectName, "project-name", "", "Project display name")
	cmd.Flags().Int64Var(&f.taskID, "task-id", 0, "Task id")
	cmd.Flags().StringVar(&f.taskName, "task-name", "", "Task display name")
	cmd.Flags().Float64Var(&f.estHours, "est-hours", 0, "Estimated hours for the task")
	cmd.Flags().StringArrayVar(&f.nodes, "node", nil, "Deeper selection as level:id[:name[:est_hours]] (subtask, action, subaction)")
}

func (f *taskFlags) context(cfg config.Config) (taskctx.Context, error) {
	userID := f.userID
	if userID == 0 {
		userID = cfg.Identity.UserID
	}
	if userID == 0 {
		return taskctx.Context{}, errors.New("user id required: pass --user-id or set identity.user_id")
	}
	if f.projectID == 0 || f.taskID == 0 {
		return taskctx.Context{}, errors.New("--project-id and --task-id are required")
	}

	var sel taskctx.Selection
	sel.Select(taskctx.LevelProject, taskctx.Node{ID: f.projectID, Name: f.projectName})
	sel.Select(taskctx.LevelTask, taskctx.Node{ID: f.taskID, Name: f.taskName, EstHours: f.estHours})
	type selected struct {
		level taskctx.Level
		node  taskctx.Node
	}
	var deeper []selected
	for _, raw := range f.nodes {
		level, node, err := parseNode(raw)
		if err != nil {
			return taskctx.Context{}, err
		}
		deeper = append(deeper, selected{level, node})
	}
	// Selecting a level clears the ones below it.
	sort.SliceStable(deeper, func(i, j int) bool { return deeper[i].level < deeper[j].level })
	for _, d := range deeper {
		sel.Select(d.level, d.node)
	}
	return taskctx.Context{UserID: userID, Selection: sel}, nil
}

func parseNode(raw string) (taskctx.Level, taskctx.Node, error) {
	parts := strings.SplitN(raw, ":", 4)
	if len(parts) < 2 {
		return 0, taskctx.Node{}, fmt.Errorf("invalid --node %q: want level:id[:name[:est_hours]]", raw)
	}
	level, err := taskctx.ParseLevel(parts[0])
	if err != nil {
		return 0, taskctx.Node{}, err
	}
	if level <= taskctx.LevelTask {
		return 0, taskctx.Node{}, fmt.Errorf("invalid --node %q: use --project-id/--task-id for %s", raw, level)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, taskctx.Node{}, fmt.Errorf("invalid --node %q: id must be a positive integer", raw)
	}
	node := taskctx.Node{ID: id}
	if len(parts) > 2 {
		node.Name = parts[2]
	}
	if len(parts) > 3 {
		est, err := strconv.ParseFloat(parts[3], 64)
		if err != nil || est < 0 {
			return 0, taskctx.Node{}, fmt.Errorf("invalid --node %q: est_hours must be a non-negative number", raw)
		}
		node.EstHours = est
	}
	return level, node, nil
}
