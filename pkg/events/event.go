package events

import (
	"strings"
	"time"
)

// Type is the kind of input event.
type Type string

const (
	TypeMove    Type = "move"
	TypeClick   Type = "click"
	TypeKeyDown Type = "keydown"
)

// escapeKeycode is the libuiohook scan code for Escape, which is what the
// external input helpers emit.
const escapeKeycode = 1

// Modifiers records which modifier keys were held.
type Modifiers struct {
	Ctrl  bool `json:"ctrl,omitempty"`
	Alt   bool `json:"alt,omitempty"`
	Shift bool `json:"shift,omitempty"`
	Meta  bool `json:"meta,omitempty"`
}

// Event is one global input event.
type Event struct {
	Type      Type      `json:"type"`
	X         float64   `json:"x,omitempty"`
	Y         float64   `json:"y,omitempty"`
	Button    string    `json:"button,omitempty"`
	Keycode   int       `json:"keycode,omitempty"`
	Key       string    `json:"key,omitempty"`
	Modifiers Modifiers `json:"modifiers"`
	Timestamp time.Time `json:"timestamp"`
}

// IsEscape reports whether the event is an Escape key press.
func (e Event) IsEscape() bool {
	if e.Type != TypeKeyDown {
		return false
	}
	switch strings.ToLower(e.Key) {
	case "escape", "esc":
		return true
	case "":
		return e.Keycode == escapeKeycode
	}
	return false
}

// Counted reports whether the event increments an activity counter.
func (e Event) Counted() bool {
	return e.Type == TypeKeyDown || e.Type == TypeClick
}
