// Package syncengine delivers activity records to the remote API, falls back
// to the local queue when delivery fails, and reconciles the queue later.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/offlinefirst/worktrack/pkg/queue"
	"github.com/offlinefirst/worktrack/pkg/record"
	"github.com/offlinefirst/worktrack/pkg/remote"
)

// ErrReconcileBusy is returned when another reconcile pass holds the queue.
var ErrReconcileBusy = errors.New("reconcile already in progress")

// Defaults for the background reconcile loop.
const (
	DefaultReconcileInterval = time.Minute
	DefaultBackoffInitial    = 5 * time.Second
	DefaultBackoffMax        = 5 * time.Minute
)

// RemoteAPI is the subset of the remote client the engine depends on.
type RemoteAPI interface {
	SubmitRecord(ctx context.Context, payload record.Payload) (remote.InsertResult, error)
	PatchTask(ctx context.Context, taskID int64, update remote.TaskUpdate) (remote.Task, error)
}

// Options configure an Engine.
type Options struct {
	Remote            RemoteAPI
	Queue             *queue.Queue
	Logger            *slog.Logger
	Clock             func() time.Time
	ReconcileInterval time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	Sleeper           func(context.Context, time.Duration) error
}

// Engine owns the submit/fallback/reconcile life cycle.
type Engine struct {
	remote   RemoteAPI
	queue    *queue.Queue
	logger   *slog.Logger
	clock    func() time.Time
	interval time.Duration
	initial  time.Duration
	ceiling  time.Duration
	sleeper  func(context.Context, time.Duration) error

	reconcileMu sync.Mutex
	// actHoursMu orders act-hours PATCHes and snapshot writes.
	actHoursMu sync.Mutex

	submitted   atomic.Int64
	synced      atomic.Int64
	queued      atomic.Int64
	failed      atomic.Int64
	reconciled  atomic.Int64
	lastFailure atomic.Value
}

// SubmitResult reports where a record ended up. Success is set once the
// record is durable, remotely or in the local queue; SyncState tells which.
type SubmitResult struct {
	Success      bool             `json:"success"`
	SavedLocally bool             `json:"savedLocally"`
	LocalPath    string           `json:"localPath,omitempty"`
	InsertedID   int64            `json:"insertedId,omitempty"`
	Duplicate    bool             `json:"duplicate,omitempty"`
	ServerError  string           `json:"serverError,omitempty"`
	SyncState    record.SyncState `json:"syncState"`
}

// ReconcileReport summarises one reconcile pass. Quarantined is the subset
// of Failed that was moved aside as unusable.
type ReconcileReport struct {
	Processed      int `json:"processed"`
	Succeeded      int `json:"succeeded"`
	Failed         int `json:"failed"`
	Quarantined    int `json:"quarantined"`
	Skipped        int `json:"skipped"`
	ActHoursSynced int `json:"actHoursSynced"`
	ActHoursFailed int `json:"actHoursFailed"`
}

// HasFailures reports whether any file or act-hours snapshot is still
// queued for retry. Quarantined files are not retried and do not count.
func (r ReconcileReport) HasFailures() bool {
	return r.Failed > r.Quarantined || r.ActHoursFailed > 0
}

// ActHoursResult reports where an act-hours update ended up. Success is set
// when the hours were stored somewhere; Synced only when the remote took them.
type ActHoursResult struct {
	Success      bool   `json:"success"`
	Synced       bool   `json:"synced"`
	SavedLocally bool   `json:"savedLocally"`
	LocalPath    string `json:"localPath,omitempty"`
	ServerError  string `json:"serverError,omitempty"`
}

// Stats are cumulative counters for the life of the engine.
type Stats struct {
	Submitted   int64
	Synced      int64
	Queued      int64
	Failed      int64
	Reconciled  int64
	LastFailure string
}

// FallbackError is returned when both the remote and the local queue fail.
type FallbackError struct {
	Server error
	Local  error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("Server: %v, Local: %v", e.Server, e.Local)
}

func (e *FallbackError) Unwrap() []error {
	return []error{e.Server, e.Local}
}

// New validates options and constructs an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Remote == nil {
		return nil, errors.New("remote client must be provided")
	}
	if opts.Queue == nil {
		return nil, errors.New("queue must be provided")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger must be provided")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := opts.ReconcileInterval
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	initial := opts.BackoffInitial
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	ceiling := opts.BackoffMax
	if ceiling <= 0 {
		ceiling = DefaultBackoffMax
	}
	if ceiling < initial {
		return nil, errors.New("backoff max must be greater than or equal to backoff initial")
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = defaultSleeper
	}
	return &Engine{
		remote:   opts.Remote,
		queue:    opts.Queue,
		logger:   opts.Logger,
		clock:    clock,
		interval: interval,
		initial:  initial,
		ceiling:  ceiling,
		sleeper:  sleeper,
	}, nil
}

// Submit sends rec to the remote API, falling back to the local queue.
// Invalid records are rejected before any I/O.
func (e *Engine) Submit(ctx context.Context, rec record.Record) (SubmitResult, error) {
	if err := rec.Validate(); err != nil {
		return SubmitResult{SyncState: rec.SyncState}, err
	}
	rec.EnsureKey()
	e.submitted.Add(1)

	res, serverErr := e.remote.SubmitRecord(ctx, rec.Payload())
	if serverErr == nil {
		e.synced.Add(1)
		e.logger.Debug("record synced", "task_id", rec.TaskID, "inserted_id", res.InsertedID, "duplicate", res.Duplicate)
		return SubmitResult{
			Success:    true,
			InsertedID: res.InsertedID,
			Duplicate:  res.Duplicate,
			SyncState:  record.StateSynced,
		}, nil
	}

	e.logger.Warn("remote submission failed, saving locally", "task_id", rec.TaskID, "error", serverErr)
	path, localErr := e.queue.Write(rec.Queued(e.clock(), serverErr.Error()))
	if localErr != nil {
		e.failed.Add(1)
		err := &FallbackError{Server: serverErr, Local: localErr}
		e.lastFailure.Store(err.Error())
		e.logger.Error("record lost: local fallback failed", "task_id", rec.TaskID, "error", err)
		return SubmitResult{ServerError: serverErr.Error(), SyncState: record.StateFailed}, err
	}
	e.queued.Add(1)
	e.logger.Info("record saved locally", "path", path)
	return SubmitResult{
		Success:      true,
		SavedLocally: true,
		LocalPath:    path,
		ServerError:  serverErr.Error(),
		SyncState:    record.StateLocalOnly,
	}, nil
}

// Reconcile uploads every stable queued record, deleting each one the
// remote accepts. Failures are retained and the pass continues.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileReport, error) {
	if !e.reconcileMu.TryLock() {
		return ReconcileReport{}, ErrReconcileBusy
	}
	defer e.reconcileMu.Unlock()

	unlock, err := e.queue.Lock()
	if err != nil {
		if errors.Is(err, queue.ErrLocked) {
			return ReconcileReport{}, ErrReconcileBusy
		}
		return ReconcileReport{}, err
	}
	defer func() {
		if err := unlock(); err != nil {
			e.logger.Warn("release reconcile lock", "error", err)
		}
	}()

	entries, err := e.queue.Scan()
	if err != nil {
		return ReconcileReport{}, err
	}

	var report ReconcileReport
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if entry.Fresh {
			report.Skipped++
			continue
		}
		report.Processed++
		switch e.reconcileFile(ctx, entry.Path) {
		case fileUploaded:
			report.Succeeded++
		case fileQuarantined:
			report.Failed++
			report.Quarantined++
		default:
			report.Failed++
		}
	}

	report.ActHoursSynced, report.ActHoursFailed = e.reconcileActHours(ctx)
	e.reconciled.Add(int64(report.Succeeded))

	if report.Processed > 0 || report.ActHoursSynced > 0 || report.ActHoursFailed > 0 {
		e.logger.Info("reconcile complete",
			"processed", report.Processed,
			"succeeded", report.Succeeded,
			"failed", report.Failed,
			"quarantined", report.Quarantined,
			"skipped", report.Skipped,
			"act_hours_synced", report.ActHoursSynced,
		)
	}
	return report, nil
}

type fileOutcome int

const (
	fileRetained fileOutcome = iota
	fileUploaded
	fileQuarantined
)

func (e *Engine) reconcileFile(ctx context.Context, path string) fileOutcome {
	queued, err := e.queue.Read(path)
	if err != nil {
		if errors.Is(err, queue.ErrCorrupt) {
			return e.quarantine(path, err)
		}
		e.logger.Warn("queued record unreadable, retaining", "path", path, "error", err)
		return fileRetained
	}
	rec := queued.Record()
	if err := rec.Validate(); err != nil {
		return e.quarantine(path, err)
	}
	res, err := e.remote.SubmitRecord(ctx, rec.Payload())
	if err != nil {
		e.logger.Warn("queued record upload failed", "path", path, "error", err)
		return fileRetained
	}
	// A removal failure leaves the file for the next pass, which the
	// idempotency key turns into a duplicate acknowledgement.
	if err := e.queue.Remove(path); err != nil {
		e.logger.Warn("delete uploaded record", "path", path, "error", err)
	}
	e.logger.Debug("queued record uploaded", "path", path, "inserted_id", res.InsertedID, "duplicate", res.Duplicate)
	return fileUploaded
}

// quarantine moves a file that can never upload out of the scan set so it
// stops holding the loop in backoff. It stays on disk for inspection.
func (e *Engine) quarantine(path string, cause error) fileOutcome {
	moved, err := e.queue.Quarantine(path)
	if err != nil {
		e.logger.Warn("queued record unusable, retaining", "path", path, "error", cause, "quarantine_error", err)
		return fileRetained
	}
	e.logger.Error("queued record unusable, moved aside", "path", moved, "error", cause)
	return fileQuarantined
}

func (e *Engine) reconcileActHours(ctx context.Context) (synced, failed int) {
	files, err := e.queue.UnsyncedActHours()
	if err != nil {
		e.logger.Warn("list unsynced act hours", "error", err)
		return 0, 0
	}
	for _, f := range files {
		if ctx.Err() != nil {
			return synced, failed
		}
		if e.resyncActHours(ctx, f) {
			synced++
		} else {
			failed++
		}
	}
	return synced, failed
}

// resyncActHours pushes one unsynced snapshot and flags that same file as
// synced. A snapshot superseded by a newer save is left alone; the newer
// file carries its own sync state.
func (e *Engine) resyncActHours(ctx context.Context, f queue.ActHoursFile) bool {
	e.actHoursMu.Lock()
	defer e.actHoursMu.Unlock()

	rec := f.Record
	if _, err := e.remote.PatchTask(ctx, rec.TaskID, taskUpdate(rec)); err != nil {
		e.logger.Warn("act hours re-sync failed", "task_id", rec.TaskID, "error", err)
		return false
	}
	err := e.queue.MarkActHoursSynced(f.Path, e.clock().UTC())
	switch {
	case errors.Is(err, queue.ErrSuperseded):
		e.logger.Debug("act hours superseded during re-sync", "task_id", rec.TaskID, "path", f.Path)
	case err != nil:
		e.logger.Warn("mark act hours synced", "task_id", rec.TaskID, "error", err)
	}
	return true
}

// SaveActHours pushes accumulated hours to the remote task and always keeps
// a local snapshot tagged with whether the push succeeded.
func (e *Engine) SaveActHours(ctx context.Context, rec record.ActHoursRecord) (ActHoursResult, error) {
	if err := rec.Validate(); err != nil {
		return ActHoursResult{}, err
	}
	e.actHoursMu.Lock()
	defer e.actHoursMu.Unlock()

	now := e.clock().UTC()
	rec.LastUpdated = now

	var result ActHoursResult
	_, serverErr := e.remote.PatchTask(ctx, rec.TaskID, taskUpdate(rec))
	if serverErr == nil {
		result.Success = true
		result.Synced = true
		rec.IsSynced = true
		rec.LastServerSync = &now
	} else {
		rec.IsSynced = false
		result.ServerError = serverErr.Error()
		e.logger.Warn("act hours update failed, saving locally", "task_id", rec.TaskID, "error", serverErr)
	}

	path, localErr := e.queue.WriteActHours(rec)
	if localErr != nil {
		if serverErr != nil {
			return result, &FallbackError{Server: serverErr, Local: localErr}
		}
		e.logger.Warn("act hours local copy failed", "task_id", rec.TaskID, "error", localErr)
		return result, nil
	}
	result.Success = true
	result.SavedLocally = true
	result.LocalPath = path
	return result, nil
}

// LoadActHours returns the latest stored hours for every task.
func (e *Engine) LoadActHours() (map[int64]record.ActHoursEntry, error) {
	latest, err := e.queue.LatestActHours()
	if err != nil {
		return nil, fmt.Errorf("load act hours: %w", err)
	}
	out := make(map[int64]record.ActHoursEntry, len(latest))
	for taskID, f := range latest {
		out[taskID] = f.Record.Entry()
	}
	return out, nil
}

// Run reconciles until ctx is cancelled. A pass with failures backs off
// exponentially up to the configured maximum; a clean pass resets to the
// regular interval.
func (e *Engine) Run(ctx context.Context) error {
	var backoff time.Duration
	for {
		report, err := e.Reconcile(ctx)
		delay := e.interval
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrReconcileBusy):
			e.logger.Debug("reconcile skipped, another pass is running")
		case err != nil || report.HasFailures():
			if err != nil {
				e.logger.Warn("reconcile pass failed", "error", err)
			}
			backoff = e.nextBackoff(backoff)
			delay = backoff
			e.logger.Info("reconcile backing off", "delay", delay.String())
		default:
			backoff = 0
		}

		if err := e.sleeper(ctx, delay); err != nil {
			return nil
		}
	}
}

func (e *Engine) nextBackoff(current time.Duration) time.Duration {
	if current <= 0 {
		return e.initial
	}
	next := current * 2
	if next > e.ceiling {
		next = e.ceiling
	}
	return next
}

// Stats returns cumulative submission counters.
func (e *Engine) Stats() Stats {
	last, _ := e.lastFailure.Load().(string)
	return Stats{
		Submitted:   e.submitted.Load(),
		Synced:      e.synced.Load(),
		Queued:      e.queued.Load(),
		Failed:      e.failed.Load(),
		Reconciled:  e.reconciled.Load(),
		LastFailure: last,
	}
}

// Queue exposes the backing queue for inspection commands.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

func taskUpdate(rec record.ActHoursRecord) remote.TaskUpdate {
	return remote.TaskUpdate{
		TaskID:     rec.TaskID,
		ProjectID:  rec.ProjectID,
		ActHours:   rec.ActHours,
		IsExceeded: rec.IsExceeded,
	}
}

func defaultSleeper(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
