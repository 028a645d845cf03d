// Package watch is a terminal view of a running tracker, fed by the tracker
// bus and a periodic status poll.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/offlinefirst/worktrack/internal/style"
	"github.com/offlinefirst/worktrack/pkg/capture"
	"github.com/offlinefirst/worktrack/pkg/events"
	"github.com/offlinefirst/worktrack/pkg/tracker"
)

const (
	// DefaultRefresh is how often the status poll runs.
	DefaultRefresh = time.Second
	maxErrors      = 5
	feedBuffer     = 64
)

// Feeds are the bus subscriptions the view reads from. A nil channel is
// never read.
type Feeds struct {
	Events   <-chan events.Event
	Status   <-chan tracker.Status
	Errors   <-chan tracker.TrackingError
	Captures <-chan capture.Outcome
}

// Subscribe attaches to every topic on b. The returned func releases them.
func Subscribe(b *tracker.Bus) (Feeds, func()) {
	ev, unEv := b.Events.Subscribe(feedBuffer)
	st, unSt := b.Status.Subscribe(feedBuffer)
	er, unEr := b.Errors.Subscribe(feedBuffer)
	ca, unCa := b.Captures.Subscribe(feedBuffer)
	return Feeds{Events: ev, Status: st, Errors: er, Captures: ca}, func() {
		unEv()
		unSt()
		unEr()
		unCa()
	}
}

// Options configure a Model.
type Options struct {
	Feeds Feeds
	// Status is polled every Refresh for live counters and hours.
	Status  func() tracker.Status
	Refresh time.Duration
	Title   string
	// TogglePause is bound to the p key when set.
	TogglePause func()
}

type (
	eventMsg   events.Event
	statusMsg  tracker.Status
	errorMsg   tracker.TrackingError
	captureMsg capture.Outcome
	tickMsg    time.Time
	feedClosed struct{}
)

// Model is the bubbletea model for the live view.
type Model struct {
	feeds   Feeds
	poll    func() tracker.Status
	refresh time.Duration
	title   string
	toggle  func()

	status      tracker.Status
	pointer     *events.Event
	lastKey     *events.Event
	lastCapture *capture.Outcome
	errors      []tracker.TrackingError
	captures    int
	width       int
	quitting    bool
}

// New builds a Model.
func New(opts Options) Model {
	refresh := opts.Refresh
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	title := opts.Title
	if title == "" {
		title = "worktrack"
	}
	m := Model{feeds: opts.Feeds, poll: opts.Status, refresh: refresh, title: title, toggle: opts.TogglePause}
	if m.poll != nil {
		m.status = m.poll()
	}
	return m
}

// Init starts the feed readers and the status poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitEvent(m.feeds.Events),
		waitStatus(m.feeds.Status),
		waitError(m.feeds.Errors),
		waitCapture(m.feeds.Captures),
		m.tick(),
	)
}

// Update applies one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "p":
			if m.toggle == nil {
				return m, nil
			}
			toggle := m.toggle
			return m, func() tea.Msg {
				toggle()
				return nil
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case eventMsg:
		ev := events.Event(msg)
		switch ev.Type {
		case events.TypeMove, events.TypeClick:
			m.pointer = &ev
		case events.TypeKeyDown:
			m.lastKey = &ev
		}
		return m, waitEvent(m.feeds.Events)

	case statusMsg:
		m.status = tracker.Status(msg)
		return m, waitStatus(m.feeds.Status)

	case errorMsg:
		m.errors = append(m.errors, tracker.TrackingError(msg))
		if len(m.errors) > maxErrors {
			m.errors = m.errors[len(m.errors)-maxErrors:]
		}
		return m, waitError(m.feeds.Errors)

	case captureMsg:
		out := capture.Outcome(msg)
		m.lastCapture = &out
		m.captures++
		return m, waitCapture(m.feeds.Captures)

	case tickMsg:
		if m.poll != nil {
			m.status = m.poll()
		}
		return m, m.tick()
	}
	return m, nil
}

// View renders the current state.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(style.Title.Render(m.title))
	b.WriteString("\n\n")

	st := m.status
	state := "idle"
	switch {
	case st.IsTracking && st.Paused:
		state = "paused"
	case st.IsTracking:
		state = "tracking"
	}
	rows := []string{style.KV("status", style.Badge(state))}
	if st.CurrentTask.Valid() {
		task := st.CurrentTask
		rows = append(rows,
			style.KV("project", fmt.Sprintf("%s (#%d)", task.ProjectName, task.ProjectID)),
			style.KV("task", fmt.Sprintf("%s (#%d)", task.Task.Name, task.Task.ID)),
		)
	} else {
		rows = append(rows, style.KV("task", style.Dim.Render("none selected")))
	}
	if !st.StartedAt.IsZero() {
		rows = append(rows, style.KV("started", st.StartedAt.Local().Format("15:04:05")))
	}
	hours := fmt.Sprintf("%.2fh", st.ActHours)
	if st.IsExceeded {
		hours += " " + style.Error.Render("exceeded")
	}
	rows = append(rows,
		style.KV("hours", hours),
		style.KV("keyboard", st.Counts.Keyboard),
		style.KV("mouse", st.Counts.Mouse),
	)
	if m.pointer != nil {
		rows = append(rows, style.KV("pointer", fmt.Sprintf("%.0f,%.0f", m.pointer.X, m.pointer.Y)))
	}
	if m.lastKey != nil {
		rows = append(rows, style.KV("last key", keyLabel(*m.lastKey)))
	}
	rows = append(rows, style.KV("captures", m.captures))
	if m.lastCapture != nil {
		rows = append(rows, style.KV("last", captureLine(*m.lastCapture)))
	}
	b.WriteString(style.Panel.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")

	if len(m.errors) > 0 {
		b.WriteString("\n")
		for _, e := range m.errors {
			b.WriteString(style.Error.Render(e.Type))
			b.WriteString(" ")
			b.WriteString(style.Dim.Render(e.At.Local().Format("15:04:05")))
			b.WriteString(" ")
			b.WriteString(e.Message)
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
	help := "q quit"
	if m.toggle != nil {
		help = "p pause/resume · " + help
	}
	b.WriteString(style.Dim.Render(help))
	b.WriteString("\n")
	return b.String()
}

// Run drives m until the user quits or ctx is cancelled.
func Run(ctx context.Context, m Model, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(m, opts...).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func captureLine(out capture.Outcome) string {
	at := out.At.Local().Format("15:04:05")
	if out.Err != nil {
		return style.Error.Render("failed at "+string(out.Stage)) + " " + style.Dim.Render(at)
	}
	where := "synced"
	switch {
	case out.Result.SavedLocally:
		where = "queued"
	case out.Result.Duplicate:
		where = "duplicate"
	}
	return fmt.Sprintf("%s %s k=%d m=%d", style.Badge(where), style.Dim.Render(at), out.Counts.Keyboard, out.Counts.Mouse)
}

func keyLabel(ev events.Event) string {
	if ev.Key != "" {
		return ev.Key
	}
	return fmt.Sprintf("keycode %d", ev.Keycode)
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitEvent(ch <-chan events.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return feedClosed{}
		}
		return eventMsg(v)
	}
}

func waitStatus(ch <-chan tracker.Status) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return feedClosed{}
		}
		return statusMsg(v)
	}
}

func waitError(ch <-chan tracker.TrackingError) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return feedClosed{}
		}
		return errorMsg(v)
	}
}

func waitCapture(ch <-chan capture.Outcome) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return feedClosed{}
		}
		return captureMsg(v)
	}
}
