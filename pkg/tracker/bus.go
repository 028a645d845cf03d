package tracker

import (
	"time"

	"github.com/offlinefirst/worktrack/pkg/bus"
	"github.com/offlinefirst/worktrack/pkg/capture"
	"github.com/offlinefirst/worktrack/pkg/events"
	"github.com/offlinefirst/worktrack/pkg/taskctx"
)

// Error categories published on the Errors topic.
const (
	ErrorCapture  = "capture"
	ErrorSync     = "sync"
	ErrorInput    = "input"
	ErrorContext  = "context"
	ErrorActHours = "acthours"
)

// TrackingError is a transient, user-visible failure.
type TrackingError struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Status is a point-in-time view of the tracker.
type Status struct {
	IsTracking  bool            `json:"isTracking"`
	Paused      bool            `json:"paused"`
	CurrentTask taskctx.Current `json:"currentTask"`
	StartedAt   time.Time       `json:"startedAt,omitempty"`
	Counts      events.Counts   `json:"counts"`
	ActHours    float64         `json:"actHours"`
	IsExceeded  bool            `json:"isExceeded"`
}

// Bus carries the notifications a host or view may subscribe to.
type Bus struct {
	Events   *bus.Topic[events.Event]
	Status   *bus.Topic[Status]
	Errors   *bus.Topic[TrackingError]
	Captures *bus.Topic[capture.Outcome]
}

// NewBus returns a bus with empty topics.
func NewBus() *Bus {
	return &Bus{
		Events:   bus.NewTopic[events.Event](),
		Status:   bus.NewTopic[Status](),
		Errors:   bus.NewTopic[TrackingError](),
		Captures: bus.NewTopic[capture.Outcome](),
	}
}

// Close closes every topic.
func (b *Bus) Close() {
	b.Events.Close()
	b.Status.Close()
	b.Errors.Close()
	b.Captures.Close()
}
