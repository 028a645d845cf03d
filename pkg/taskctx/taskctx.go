// Package taskctx holds the project/task hierarchy pointer that decides which
// task captured activity is attributed to.
package taskctx

import (
	"fmt"
	"sync"
)

// Level identifies a depth in the selection hierarchy.
type Level int

const (
	LevelProject Level = iota
	LevelTask
	LevelSubtask
	LevelAction
	LevelSubaction
)

var levelNames = [...]string{"project", "task", "subtask", "action", "subaction"}

func (l Level) String() string {
	if l < LevelProject || l > LevelSubaction {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel maps a level name onto a Level.
func ParseLevel(name string) (Level, error) {
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("unknown selection level %q", name)
}

// Node is one selected entry in the hierarchy.
type Node struct {
	ID       int64   `json:"id" yaml:"id"`
	Name     string  `json:"name,omitempty" yaml:"name,omitempty"`
	EstHours float64 `json:"estHours,omitempty" yaml:"est_hours,omitempty"`
}

// Empty reports whether the node is unset.
func (n Node) Empty() bool { return n.ID == 0 }

// Selection is the hierarchical pointer project → task → subtask → action → subaction.
type Selection struct {
	Project   Node `json:"project"`
	Task      Node `json:"task"`
	Subtask   Node `json:"subtask"`
	Action    Node `json:"action"`
	Subaction Node `json:"subaction"`
}

// Context is what the host supplies when tracking starts.
type Context struct {
	UserID    int64
	Selection Selection
}

// Current is the resolved unit that records are attributed to.
type Current struct {
	UserID      int64
	ProjectID   int64
	ProjectName string
	Task        Node
	Level       Level
}

// Valid reports whether the resolved task can be used for submission.
func (c Current) Valid() bool {
	return c.UserID != 0 && c.ProjectID != 0 && c.Task.ID != 0
}

// Select sets the node at level and clears every level below it.
func (s *Selection) Select(level Level, node Node) {
	switch level {
	case LevelProject:
		*s = Selection{Project: node}
	case LevelTask:
		s.Task, s.Subtask, s.Action, s.Subaction = node, Node{}, Node{}, Node{}
	case LevelSubtask:
		s.Subtask, s.Action, s.Subaction = node, Node{}, Node{}
	case LevelAction:
		s.Action, s.Subaction = node, Node{}
	case LevelSubaction:
		s.Subaction = node
	}
}

// Resolve returns the deepest populated task-level node.
func (s Selection) Resolve() (Node, Level) {
	switch {
	case !s.Subaction.Empty():
		return s.Subaction, LevelSubaction
	case !s.Action.Empty():
		return s.Action, LevelAction
	case !s.Subtask.Empty():
		return s.Subtask, LevelSubtask
	default:
		return s.Task, LevelTask
	}
}

// Store holds the active tracking context for the lifetime of a session.
type Store struct {
	mu  sync.RWMutex
	ctx Context
	set bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Set replaces the tracking context.
func (s *Store) Set(ctx Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.set = true
	s.mu.Unlock()
}

// Select updates one level of the hierarchy, invalidating descendants.
func (s *Store) Select(level Level, node Node) {
	s.mu.Lock()
	s.ctx.Selection.Select(level, node)
	s.set = true
	s.mu.Unlock()
}

// Clear drops the context when tracking stops.
func (s *Store) Clear() {
	s.mu.Lock()
	s.ctx = Context{}
	s.set = false
	s.mu.Unlock()
}

// Context returns a copy of the stored context.
func (s *Store) Context() (Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx, s.set
}

// Current resolves the tracked unit from the stored context.
func (s *Store) Current() Current {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	node, level := ctx.Selection.Resolve()
	return Current{
		UserID:      ctx.UserID,
		ProjectID:   ctx.Selection.Project.ID,
		ProjectName: ctx.Selection.Project.Name,
		Task:        node,
		Level:       level,
	}
}
