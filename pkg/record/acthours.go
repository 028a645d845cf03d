package record

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ActHoursRecord is the accumulated actual hours for one task.
type ActHoursRecord struct {
	TaskID    int64   `json:"taskID"`
	ProjectID int64   `json:"projectID"`
	ActHours  float64 `json:"actHours"`
	// IsExceeded is optional on updates; nil leaves the remote value unchanged.
	IsExceeded     *bool      `json:"isExceeded,omitempty"`
	IsSynced       bool       `json:"isSynced"`
	LastUpdated    time.Time  `json:"lastUpdated"`
	LastServerSync *time.Time `json:"lastServerSync,omitempty"`
}

// ActHoursEntry is the per-task value restored on startup.
type ActHoursEntry struct {
	ActHours   float64 `json:"actHours"`
	IsExceeded bool    `json:"isExceeded"`
}

// Validate checks the identifiers and hours.
func (a ActHoursRecord) Validate() error {
	if a.TaskID == 0 || a.ProjectID == 0 {
		return fmt.Errorf("%w: act hours require taskID and projectID", ErrInvalidRecord)
	}
	if a.ActHours < 0 || math.IsNaN(a.ActHours) || math.IsInf(a.ActHours, 0) {
		return fmt.Errorf("%w: act hours %v out of range", ErrInvalidRecord, a.ActHours)
	}
	return nil
}

// SyncState maps IsSynced onto the shared state enum.
func (a ActHoursRecord) SyncState() SyncState {
	if a.IsSynced {
		return StateSynced
	}
	return StateLocalOnly
}

// Entry reduces the record to what the tracker needs on restart.
func (a ActHoursRecord) Entry() ActHoursEntry {
	exceeded := false
	if a.IsExceeded != nil {
		exceeded = *a.IsExceeded
	}
	return ActHoursEntry{ActHours: a.ActHours, IsExceeded: exceeded}
}

// Exceeded reports whether actual hours passed a positive estimate.
func Exceeded(actHours, estHours float64) bool {
	return estHours > 0 && actHours > estHours
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

// ErrNoActHours is returned when no local act-hours exist for a task.
var ErrNoActHours = errors.New("no act hours recorded")
