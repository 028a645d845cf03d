package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/offlinefirst/worktrack/pkg/remote"
)

// ErrNotFound is returned when a task or entry does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          INTEGER PRIMARY KEY,
	project_id  INTEGER NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	est_hours   REAL NOT NULL DEFAULT 0,
	act_hours   REAL NOT NULL DEFAULT 0,
	is_exceeded INTEGER NOT NULL DEFAULT 0,
	updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS workdiary (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id            INTEGER NOT NULL,
	project_name          TEXT NOT NULL,
	user_id               INTEGER NOT NULL,
	task_id               INTEGER NOT NULL,
	task_name             TEXT NOT NULL,
	screenshot_timestamp  TIMESTAMP NOT NULL,
	calc_timestamp        TIMESTAMP NOT NULL,
	keyboard_json         TEXT NOT NULL,
	mouse_json            TEXT NOT NULL,
	image_url             TEXT NOT NULL DEFAULT '',
	thumbnail_url         TEXT NOT NULL DEFAULT '',
	active_flag           INTEGER NOT NULL DEFAULT 1,
	active_mins           INTEGER NOT NULL DEFAULT 0,
	deleted_flag          INTEGER NOT NULL DEFAULT 0,
	idempotency_key       TEXT UNIQUE,
	created_at            TIMESTAMP NOT NULL,
	modified_at           TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workdiary_task ON workdiary(task_id, screenshot_timestamp);
`

// Entry is one stored work-diary row.
type Entry struct {
	ID                  int64           `json:"id"`
	ProjectID           int64           `json:"projectID"`
	ProjectName         string          `json:"projectName"`
	UserID              int64           `json:"userID"`
	TaskID              int64           `json:"taskID"`
	TaskName            string          `json:"taskName"`
	ScreenshotTimestamp time.Time       `json:"screenshotTimeStamp"`
	CalcTimestamp       time.Time       `json:"calcTimeStamp"`
	KeyboardJSON        json.RawMessage `json:"keyboardJSON"`
	MouseJSON           json.RawMessage `json:"mouseJSON"`
	ImageURL            string          `json:"-"`
	ThumbnailURL        string          `json:"-"`
	ImageBytes          int             `json:"imageBytes"`
	ThumbnailBytes      int             `json:"thumbnailBytes"`
	ActiveFlag          int             `json:"activeFlag"`
	ActiveMins          int             `json:"activeMins"`
	DeletedFlag         int             `json:"deletedFlag"`
	IdempotencyKey      string          `json:"idempotencyKey,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	ModifiedAt          time.Time       `json:"modifiedAT"`
}

// Store persists tasks and work-diary entries in SQLite.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenStore opens (creating if needed) the database at path and applies the schema.
func OpenStore(path string, clock func() time.Time) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// :memory: databases exist per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: db, clock: clock}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertEntry stores e. When e carries an idempotency key that already
// exists, the original row id is returned with duplicate set.
func (s *Store) InsertEntry(ctx context.Context, e Entry) (id int64, duplicate bool, err error) {
	now := s.clock().UTC()
	var key sql.NullString
	if e.IdempotencyKey != "" {
		key = sql.NullString{String: e.IdempotencyKey, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO workdiary
	(project_id, project_name, user_id, task_id, task_name, screenshot_timestamp, calc_timestamp,
	 keyboard_json, mouse_json, image_url, thumbnail_url, active_flag, active_mins, deleted_flag,
	 idempotency_key, created_at, modified_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(idempotency_key) DO NOTHING`,
		e.ProjectID, e.ProjectName, e.UserID, e.TaskID, e.TaskName,
		e.ScreenshotTimestamp.UTC(), e.CalcTimestamp.UTC(),
		string(e.KeyboardJSON), string(e.MouseJSON), e.ImageURL, e.ThumbnailURL,
		e.ActiveFlag, e.ActiveMins, e.DeletedFlag, key, now, now,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert workdiary entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		id, err = res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("insert workdiary entry: %w", err)
		}
		return id, false, nil
	}

	err = s.db.QueryRowContext(ctx, `SELECT id FROM workdiary WHERE idempotency_key = ?`, key).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("lookup duplicate entry: %w", err)
	}
	return id, true, nil
}

// ListEntries returns entries ordered by screenshot time. Zero filters match everything.
func (s *Store) ListEntries(ctx context.Context, taskID, userID int64) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, project_id, project_name, user_id, task_id, task_name, screenshot_timestamp, calc_timestamp,
       keyboard_json, mouse_json, image_url, thumbnail_url, active_flag, active_mins, deleted_flag,
       COALESCE(idempotency_key, ''), created_at, modified_at
FROM workdiary
WHERE (? = 0 OR task_id = ?) AND (? = 0 OR user_id = ?)
ORDER BY screenshot_timestamp, id`, taskID, taskID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list workdiary: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var keyboard, mouse string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.ProjectName, &e.UserID, &e.TaskID, &e.TaskName,
			&e.ScreenshotTimestamp, &e.CalcTimestamp, &keyboard, &mouse, &e.ImageURL, &e.ThumbnailURL,
			&e.ActiveFlag, &e.ActiveMins, &e.DeletedFlag, &e.IdempotencyKey, &e.CreatedAt, &e.ModifiedAt); err != nil {
			return nil, fmt.Errorf("scan workdiary: %w", err)
		}
		e.KeyboardJSON = json.RawMessage(keyboard)
		e.MouseJSON = json.RawMessage(mouse)
		e.ImageBytes = len(e.ImageURL)
		e.ThumbnailBytes = len(e.ThumbnailURL)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEntries reports how many rows exist for a task (all tasks when zero).
func (s *Store) CountEntries(ctx context.Context, taskID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workdiary WHERE (? = 0 OR task_id = ?)`, taskID, taskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count workdiary: %w", err)
	}
	return n, nil
}

// UpsertTask creates or replaces the task definition, keeping recorded hours.
func (s *Store) UpsertTask(ctx context.Context, t remote.Task) (remote.Task, error) {
	if t.ID == 0 {
		return remote.Task{}, errors.New("task id must not be zero")
	}
	now := s.clock().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (id, project_id, name, est_hours, act_hours, is_exceeded, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET project_id = excluded.project_id, name = excluded.name,
	est_hours = excluded.est_hours, updated_at = excluded.updated_at`,
		t.ID, t.ProjectID, t.Name, t.EstHours, t.ActHours, t.IsExceeded, now)
	if err != nil {
		return remote.Task{}, fmt.Errorf("upsert task: %w", err)
	}
	return s.GetTask(ctx, t.ID)
}

// GetTask loads one task.
func (s *Store) GetTask(ctx context.Context, id int64) (remote.Task, error) {
	var t remote.Task
	err := s.db.QueryRowContext(ctx, `
SELECT id, project_id, name, est_hours, act_hours, is_exceeded, updated_at FROM tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.ProjectID, &t.Name, &t.EstHours, &t.ActHours, &t.IsExceeded, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return remote.Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return remote.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateActHours sets actual hours and, when non-nil, the exceeded flag.
func (s *Store) UpdateActHours(ctx context.Context, id int64, actHours float64, isExceeded *bool) (remote.Task, error) {
	now := s.clock().UTC()
	var res sql.Result
	var err error
	if isExceeded != nil {
		res, err = s.db.ExecContext(ctx, `UPDATE tasks SET act_hours = ?, is_exceeded = ?, updated_at = ? WHERE id = ?`, actHours, *isExceeded, now, id)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE tasks SET act_hours = ?, updated_at = ? WHERE id = ?`, actHours, now, id)
	}
	if err != nil {
		return remote.Task{}, fmt.Errorf("update act hours: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return remote.Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return s.GetTask(ctx, id)
}
