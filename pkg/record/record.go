// Package record defines the activity snapshot that flows from the capture
// trigger through the sync engine, together with its wire and on-disk forms.
package record

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SyncState tracks where a Record currently lives. It is internal
// bookkeeping and never sent to the remote API.
type SyncState string

const (
	StatePending   SyncState = "Pending"
	StateSynced    SyncState = "Synced"
	StateLocalOnly SyncState = "LocalOnly"
	// StateFailed means neither the remote nor the local queue accepted it.
	StateFailed SyncState = "Failed"
)

// Display defaults applied when names are missing.
const (
	DefaultProjectName = "Unknown Project"
	DefaultTaskName    = "Unknown Task"
)

// ErrInvalidRecord is returned when a Record is not submittable.
var ErrInvalidRecord = errors.New("invalid record")

// keyNamespace scopes idempotency keys generated by this module.
var keyNamespace = uuid.MustParse("6f1c7d52-3a0e-4b8e-9d57-0c2f5e8a41b3")

// Record is one activity and screenshot snapshot.
type Record struct {
	ProjectID   int64
	ProjectName string
	TaskID      int64
	TaskName    string
	UserID      int64

	ScreenshotTimestamp time.Time
	CalcTimestamp       time.Time

	KeyboardCount int
	MouseCount    int

	// Image and Thumbnail hold base64-encoded JPEG data.
	Image     string
	Thumbnail string

	ActiveFlag  bool
	DeletedFlag bool

	IdempotencyKey string
	SyncState      SyncState
}

// Options describe a new Record.
type Options struct {
	ProjectID     int64
	ProjectName   string
	TaskID        int64
	TaskName      string
	UserID        int64
	ScreenshotAt  time.Time
	CalculatedAt  time.Time
	KeyboardCount int
	MouseCount    int
	Image         string
	Thumbnail     string
}

// New builds a pending, active Record and assigns its idempotency key.
func New(opts Options) Record {
	rec := Record{
		ProjectID:           opts.ProjectID,
		ProjectName:         opts.ProjectName,
		TaskID:              opts.TaskID,
		TaskName:            opts.TaskName,
		UserID:              opts.UserID,
		ScreenshotTimestamp: opts.ScreenshotAt.UTC(),
		CalcTimestamp:       opts.CalculatedAt.UTC(),
		KeyboardCount:       opts.KeyboardCount,
		MouseCount:          opts.MouseCount,
		Image:               opts.Image,
		Thumbnail:           opts.Thumbnail,
		ActiveFlag:          true,
		SyncState:           StatePending,
	}
	rec.EnsureKey()
	return rec
}

// Validate reports whether the Record can be submitted.
func (r Record) Validate() error {
	var missing []string
	if r.ProjectID == 0 {
		missing = append(missing, "projectID")
	}
	if r.UserID == 0 {
		missing = append(missing, "userID")
	}
	if r.TaskID == 0 {
		missing = append(missing, "taskID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", ErrInvalidRecord, missing)
	}
	if r.KeyboardCount < 0 || r.MouseCount < 0 {
		return fmt.Errorf("%w: negative counters (keyboard=%d mouse=%d)", ErrInvalidRecord, r.KeyboardCount, r.MouseCount)
	}
	return nil
}

// EnsureKey assigns the deterministic idempotency key if none is set.
func (r *Record) EnsureKey() {
	if r.IdempotencyKey != "" {
		return
	}
	r.IdempotencyKey = Key(r.ProjectID, r.TaskID, r.UserID, r.ScreenshotTimestamp)
}

// Key derives a stable UUIDv5 from the fields identifying one capture.
func Key(projectID, taskID, userID int64, screenshotAt time.Time) string {
	name := strconv.FormatInt(projectID, 10) + "|" +
		strconv.FormatInt(taskID, 10) + "|" +
		strconv.FormatInt(userID, 10) + "|" +
		screenshotAt.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}
