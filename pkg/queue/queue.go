// Package queue persists records that could not be delivered, using a
// project/task/date/hour directory tree so files stay human browsable.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/offlinefirst/worktrack/pkg/record"
)

const (
	recordPrefix   = "screenshot_"
	actHoursPrefix = "acthours_"
	fileSuffix     = ".json"
	tmpSuffix      = ".tmp"
	corruptSuffix  = ".corrupt"
	lockFileName   = ".reconcile.lock"
)

// DefaultStabilityWindow is how old a file must be before reconcile picks it up.
const DefaultStabilityWindow = 2 * time.Second

var hourDirPattern = regexp.MustCompile(`^\d{2}-\d{2}$`)

var (
	// ErrCorrupt is returned by Read when a queued file cannot be decoded.
	ErrCorrupt = errors.New("corrupt queue file")
	// ErrLocked is returned by Lock when another process holds the reconcile lock.
	ErrLocked = errors.New("queue is locked by another reconciler")
	// ErrSuperseded is returned by MarkActHoursSynced when a newer snapshot
	// for the task was written after the one being marked.
	ErrSuperseded = errors.New("act hours snapshot superseded")
)

// Options configure a Queue.
type Options struct {
	Root            string
	StabilityWindow time.Duration
	Clock           func() time.Time
}

// Queue is the on-disk store for undelivered records and act-hours snapshots.
type Queue struct {
	root      string
	stability time.Duration
	clock     func() time.Time
}

// Entry describes one queued record file found by Scan.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
	// Fresh is set when the file is younger than the stability window.
	Fresh bool
}

// ActHoursFile pairs a decoded act-hours snapshot with its location.
type ActHoursFile struct {
	Path   string
	Record record.ActHoursRecord
}

// New validates options and returns a Queue rooted at opts.Root.
func New(opts Options) (*Queue, error) {
	root := strings.TrimSpace(opts.Root)
	if root == "" {
		return nil, errors.New("queue root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve queue root: %w", err)
	}
	stability := opts.StabilityWindow
	if stability < 0 {
		return nil, errors.New("stability window must not be negative")
	}
	if stability == 0 {
		stability = DefaultStabilityWindow
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Queue{root: abs, stability: stability, clock: clock}, nil
}

// Root returns the absolute queue directory.
func (q *Queue) Root() string {
	return q.root
}

// HourBucket names the hour directory for t, e.g. 14:23 → "14-15", 23:05 → "23-24".
func HourBucket(t time.Time) string {
	h := t.Hour()
	return fmt.Sprintf("%02d-%02d", h, h+1)
}

func (q *Queue) taskDir(projectID, taskID int64) string {
	return filepath.Join(q.root, fmt.Sprintf("project_%d", projectID), fmt.Sprintf("task_%d", taskID))
}

// RecordDir returns the directory a record queued at now is written to.
func (q *Queue) RecordDir(projectID, taskID int64, now time.Time) string {
	return filepath.Join(q.taskDir(projectID, taskID), now.Format("2006-01-02"), HourBucket(now))
}

// Write persists rec under the current date and hour bucket.
func (q *Queue) Write(rec record.QueuedRecord) (string, error) {
	now := q.clock()
	dir := q.RecordDir(rec.ProjectID, rec.TaskID, now)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal queued record: %w", err)
	}
	path, err := writeUnique(dir, recordPrefix, now, data)
	if err != nil {
		return "", fmt.Errorf("write queued record: %w", err)
	}
	return path, nil
}

// Scan lists queued record files in path order. Temporary files, files
// outside an hour bucket and non-record files are ignored.
func (q *Queue) Scan() ([]Entry, error) {
	cutoff := q.clock().Add(-q.stability)
	var entries []Entry
	err := filepath.WalkDir(q.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				if path == q.root {
					return fs.SkipAll
				}
				return nil
			}
			return err
		}
		if d.IsDir() || !isRecordFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		entries = append(entries, Entry{
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Fresh:   info.ModTime().After(cutoff),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan queue: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func isRecordFile(path string) bool {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, recordPrefix) || !strings.HasSuffix(name, fileSuffix) {
		return false
	}
	return hourDirPattern.MatchString(filepath.Base(filepath.Dir(path)))
}

// Read decodes a queued record file.
func (q *Queue) Read(path string) (record.QueuedRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record.QueuedRecord{}, fmt.Errorf("read queued record: %w", err)
	}
	var rec record.QueuedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return record.QueuedRecord{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, filepath.Base(path), err)
	}
	return rec, nil
}

// Remove deletes a delivered file and prunes empty directories up to the root.
func (q *Queue) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove queued record: %w", err)
	}
	q.prune(filepath.Dir(path))
	return nil
}

// Quarantine renames a file that can never be delivered so Scan no longer
// returns it. The new path is returned.
func (q *Queue) Quarantine(path string) (string, error) {
	moved := path + corruptSuffix
	if err := os.Rename(path, moved); err != nil {
		return "", fmt.Errorf("quarantine queued record: %w", err)
	}
	return moved, nil
}

func (q *Queue) prune(dir string) {
	for {
		rel, err := filepath.Rel(q.root, dir)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return
		}
		// os.Remove refuses non-empty directories.
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// WriteActHours stores a snapshot in the task directory and drops older
// snapshots for the same task. A snapshot without IsExceeded inherits the
// flag from the one it replaces.
func (q *Queue) WriteActHours(rec record.ActHoursRecord) (string, error) {
	now := q.clock()
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = now.UTC()
	}
	dir := q.taskDir(rec.ProjectID, rec.TaskID)
	if rec.IsExceeded == nil {
		if prev, ok := latestInDir(dir); ok && prev.IsExceeded != nil {
			rec.IsExceeded = record.Bool(*prev.IsExceeded)
		}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal act hours: %w", err)
	}
	path, err := writeUnique(dir, actHoursPrefix, now, data)
	if err != nil {
		return "", fmt.Errorf("write act hours: %w", err)
	}

	names, err := actHoursNames(dir)
	if err == nil {
		for _, name := range names {
			if name < filepath.Base(path) {
				_ = os.Remove(filepath.Join(dir, name))
			}
		}
	}
	return path, nil
}

// MarkActHoursSynced flags the snapshot at path as delivered, rewriting it in
// place. It returns ErrSuperseded when path is no longer the newest snapshot
// for its task, leaving both files untouched.
func (q *Queue) MarkActHoursSynced(path string, at time.Time) error {
	dir := filepath.Dir(path)
	names, err := actHoursNames(dir)
	if err != nil {
		return err
	}
	if len(names) == 0 || names[len(names)-1] != filepath.Base(path) {
		return ErrSuperseded
	}
	rec, err := readActHours(path)
	if err != nil {
		return err
	}
	rec.IsSynced = true
	rec.LastServerSync = &at
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal act hours: %w", err)
	}
	tmpPath := path + tmpSuffix
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write act hours: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write act hours: %w", err)
	}
	return nil
}

func latestInDir(dir string) (record.ActHoursRecord, bool) {
	names, err := actHoursNames(dir)
	if err != nil {
		return record.ActHoursRecord{}, false
	}
	for i := len(names) - 1; i >= 0; i-- {
		if rec, err := readActHours(filepath.Join(dir, names[i])); err == nil {
			return rec, true
		}
	}
	return record.ActHoursRecord{}, false
}

// LatestActHours returns the most recent decodable snapshot for every task.
func (q *Queue) LatestActHours() (map[int64]ActHoursFile, error) {
	taskDirs, err := filepath.Glob(filepath.Join(q.root, "project_*", "task_*"))
	if err != nil {
		return nil, fmt.Errorf("list task directories: %w", err)
	}
	latest := make(map[int64]ActHoursFile)
	for _, dir := range taskDirs {
		names, err := actHoursNames(dir)
		if err != nil {
			return nil, err
		}
		// Newest first; unix-millisecond names sort lexicographically.
		for i := len(names) - 1; i >= 0; i-- {
			path := filepath.Join(dir, names[i])
			rec, err := readActHours(path)
			if err != nil {
				continue
			}
			if prev, ok := latest[rec.TaskID]; !ok || filepath.Base(prev.Path) < names[i] {
				latest[rec.TaskID] = ActHoursFile{Path: path, Record: rec}
			}
			break
		}
	}
	return latest, nil
}

// UnsyncedActHours returns latest snapshots that have not reached the server.
func (q *Queue) UnsyncedActHours() ([]ActHoursFile, error) {
	latest, err := q.LatestActHours()
	if err != nil {
		return nil, err
	}
	var out []ActHoursFile
	for _, f := range latest {
		if !f.Record.IsSynced {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func actHoursNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read task directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, actHoursPrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func readActHours(path string) (record.ActHoursRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record.ActHoursRecord{}, err
	}
	var rec record.ActHoursRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return record.ActHoursRecord{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, filepath.Base(path), err)
	}
	return rec, nil
}

// Lock takes the cross-process reconcile lock. The returned func releases it.
func (q *Queue) Lock() (func() error, error) {
	if err := os.MkdirAll(q.root, 0o755); err != nil {
		return nil, fmt.Errorf("ensure queue root: %w", err)
	}
	lock := flock.New(filepath.Join(q.root, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire reconcile lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return lock.Unlock, nil
}

// writeUnique writes data to {dir}/{prefix}{unixms}.json via a temp file,
// bumping the millisecond suffix until the name is free.
func writeUnique(dir, prefix string, now time.Time, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure directory: %w", err)
	}
	ms := now.UnixMilli()
	for {
		path := filepath.Join(dir, prefix+strconv.FormatInt(ms, 10)+fileSuffix)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			tmpPath := path + tmpSuffix
			if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
				return "", err
			}
			if err := os.Rename(tmpPath, path); err != nil {
				os.Remove(tmpPath)
				return "", err
			}
			return path, nil
		} else if err != nil {
			return "", err
		}
		ms++
	}
}
