package capture

import (
	"errors"
	"sync"
)

// State is the scheduling state shared by the tracker and its trigger.
type State string

const (
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
)

// Errors returned by Controller.Admit for ticks that must not capture.
var (
	ErrPaused   = errors.New("capture paused")
	ErrStopping = errors.New("capture stopping")
)

// Controller gates scheduled capture cycles. Manual captures bypass it.
type Controller struct {
	mu      sync.Mutex
	state   State
	ignored int64
}

// NewController constructs a controller in the running state.
func NewController() *Controller {
	return &Controller{state: StateRunning}
}

// Pause makes scheduled ticks no-ops. It reports whether the state changed.
func (c *Controller) Pause() bool {
	return c.transition(StateRunning, StatePaused)
}

// Resume re-admits scheduled ticks after Pause.
func (c *Controller) Resume() bool {
	return c.transition(StatePaused, StateRunning)
}

// Stop rejects every further tick until Reset.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.state = StateStopping
	c.mu.Unlock()
}

// Reset returns to running for a new session and clears the ignored count.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.state = StateRunning
	c.ignored = 0
	c.mu.Unlock()
}

// Admit decides whether a scheduled tick may start a cycle.
func (c *Controller) Admit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StatePaused:
		c.ignored++
		return ErrPaused
	case StateStopping:
		return ErrStopping
	}
	return nil
}

// State reports the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ignored counts ticks dropped while paused since the last Reset.
func (c *Controller) Ignored() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ignored
}

func (c *Controller) transition(from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return false
	}
	c.state = to
	return true
}
