package record

import (
	"time"
)

// Counter is the structured value embedded for keyboardJSON and mouseJSON.
type Counter struct {
	Count int `json:"count"`
}

// Payload is the JSON body accepted by POST /workdiary.
type Payload struct {
	ProjectID           int64     `json:"projectID"`
	ProjectName         string    `json:"projectName"`
	TaskName            string    `json:"taskName"`
	UserID              int64     `json:"userID"`
	TaskID              int64     `json:"taskID"`
	ScreenshotTimestamp time.Time `json:"screenshotTimeStamp"`
	CalcTimestamp       time.Time `json:"calcTimeStamp"`
	KeyboardJSON        Counter   `json:"keyboardJSON"`
	MouseJSON           Counter   `json:"mouseJSON"`
	ImageURL            string    `json:"imageURL"`
	ThumbnailURL        string    `json:"thumbnailURL,omitempty"`
	ActiveFlag          int       `json:"activeFlag"`
	DeletedFlag         int       `json:"deletedFlag"`
	IdempotencyKey      string    `json:"idempotencyKey,omitempty"`
}

// Payload converts the Record to its wire form. SyncState is dropped.
func (r Record) Payload() Payload {
	projectName := r.ProjectName
	if projectName == "" {
		projectName = DefaultProjectName
	}
	taskName := r.TaskName
	if taskName == "" {
		taskName = DefaultTaskName
	}
	return Payload{
		ProjectID:           r.ProjectID,
		ProjectName:         projectName,
		TaskName:            taskName,
		UserID:              r.UserID,
		TaskID:              r.TaskID,
		ScreenshotTimestamp: r.ScreenshotTimestamp.UTC(),
		CalcTimestamp:       r.CalcTimestamp.UTC(),
		KeyboardJSON:        Counter{Count: r.KeyboardCount},
		MouseJSON:           Counter{Count: r.MouseCount},
		ImageURL:            r.Image,
		ThumbnailURL:        r.Thumbnail,
		ActiveFlag:          boolFlag(r.ActiveFlag),
		DeletedFlag:         boolFlag(r.DeletedFlag),
		IdempotencyKey:      r.IdempotencyKey,
	}
}

// QueuedRecord is the structure persisted to the local queue.
type QueuedRecord struct {
	Payload
	SyncState SyncState `json:"syncState"`
	QueuedAt  time.Time `json:"queuedAt"`
	LastError string    `json:"lastError,omitempty"`
}

// Queued wraps the Record for local persistence.
func (r Record) Queued(queuedAt time.Time, lastErr string) QueuedRecord {
	return QueuedRecord{
		Payload:   r.Payload(),
		SyncState: StateLocalOnly,
		QueuedAt:  queuedAt.UTC(),
		LastError: lastErr,
	}
}

// Record restores the in-memory Record from a queued file.
func (q QueuedRecord) Record() Record {
	state := q.SyncState
	if state == "" {
		state = StateLocalOnly
	}
	rec := Record{
		ProjectID:           q.ProjectID,
		ProjectName:         q.ProjectName,
		TaskID:              q.TaskID,
		TaskName:            q.TaskName,
		UserID:              q.UserID,
		ScreenshotTimestamp: q.ScreenshotTimestamp,
		CalcTimestamp:       q.CalcTimestamp,
		KeyboardCount:       q.KeyboardJSON.Count,
		MouseCount:          q.MouseJSON.Count,
		Image:               q.ImageURL,
		Thumbnail:           q.ThumbnailURL,
		ActiveFlag:          q.ActiveFlag != 0,
		DeletedFlag:         q.DeletedFlag != 0,
		IdempotencyKey:      q.IdempotencyKey,
		SyncState:           state,
	}
	// Files written before keys existed get one derived from their content.
	rec.EnsureKey()
	return rec
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}
