// Package backend is a self-contained implementation of the work-diary API
// used for local development, demos and end-to-end tests of the sync engine.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/offlinefirst/worktrack/pkg/record"
	"github.com/offlinefirst/worktrack/pkg/remote"
)

const (
	// DefaultBasePath prefixes every route.
	DefaultBasePath = "/api"
	// DefaultMaxBodyBytes matches the 50MB JSON limit screenshots need.
	DefaultMaxBodyBytes = 50 << 20
)

// Options configures a Server.
type Options struct {
	Store        *Store
	Logger       *slog.Logger
	Clock        func() time.Time
	BasePath     string
	MaxBodyBytes int64
}

// Server serves the work-diary API over gin.
type Server struct {
	store  *Store
	logger *slog.Logger
	clock  func() time.Time
	router *gin.Engine
}

// NewServer wires routes onto a fresh gin engine.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("store must be provided")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger must be provided")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	base := opts.BasePath
	if base == "" {
		base = DefaultBasePath
	}
	limit := opts.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger), bodyLimit(limit))

	s := &Server{store: opts.Store, logger: opts.Logger, clock: clock, router: router}

	api := router.Group(base)
	{
		api.POST("/workdiary", s.handleCreateEntry)
		api.GET("/workdiary", s.handleListEntries)
		api.POST("/tasks", s.handleCreateTask)
		api.GET("/tasks/:id", s.handleGetTask)
		api.PATCH("/tasks/:id", s.handlePatchTask)
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	return s, nil
}

// Handler exposes the router for http.Server or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("backend listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown backend: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type entryRequest struct {
	ProjectID           int64           `json:"projectID"`
	ProjectName         string          `json:"projectName"`
	UserID              int64           `json:"userID"`
	TaskID              int64           `json:"taskID"`
	TaskName            string          `json:"taskName"`
	ScreenshotTimestamp string          `json:"screenshotTimeStamp"`
	CalcTimestamp       string          `json:"calcTimeStamp"`
	KeyboardJSON        json.RawMessage `json:"keyboardJSON"`
	MouseJSON           json.RawMessage `json:"mouseJSON"`
	ImageURL            string          `json:"imageURL"`
	ThumbnailURL        string          `json:"thumbnailURL"`
	ActiveFlag          *int            `json:"activeFlag"`
	DeletedFlag         *int            `json:"deletedFlag"`
	ActiveMins          int             `json:"activeMins"`
	IdempotencyKey      string          `json:"idempotencyKey"`
}

func (s *Server) handleCreateEntry(c *gin.Context) {
	var req entryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON body: " + err.Error()})
		return
	}
	if req.ProjectID == 0 || req.UserID == 0 || req.TaskID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing required fields"})
		return
	}

	now := s.clock().UTC()
	screenshotAt, err := parseTimestamp(req.ScreenshotTimestamp, now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid screenshotTimeStamp"})
		return
	}
	calcAt, err := parseTimestamp(req.CalcTimestamp, now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid calcTimeStamp"})
		return
	}

	entry := Entry{
		ProjectID:           req.ProjectID,
		ProjectName:         orDefault(req.ProjectName, record.DefaultProjectName),
		UserID:              req.UserID,
		TaskID:              req.TaskID,
		TaskName:            orDefault(req.TaskName, record.DefaultTaskName),
		ScreenshotTimestamp: screenshotAt,
		CalcTimestamp:       calcAt,
		KeyboardJSON:        counterJSON(req.KeyboardJSON),
		MouseJSON:           counterJSON(req.MouseJSON),
		ImageURL:            req.ImageURL,
		ThumbnailURL:        req.ThumbnailURL,
		ActiveFlag:          1,
		ActiveMins:          req.ActiveMins,
		IdempotencyKey:      strings.TrimSpace(req.IdempotencyKey),
	}
	if req.ActiveFlag != nil {
		entry.ActiveFlag = *req.ActiveFlag
	}
	if req.DeletedFlag != nil {
		entry.DeletedFlag = *req.DeletedFlag
	}
	if entry.IdempotencyKey == "" {
		entry.IdempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}

	id, duplicate, err := s.store.InsertEntry(c.Request.Context(), entry)
	if err != nil {
		s.logger.Error("insert workdiary entry", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if duplicate {
		s.logger.Info("duplicate workdiary entry ignored", "id", id, "idempotency_key", entry.IdempotencyKey)
	}
	c.JSON(http.StatusOK, remote.InsertResult{Success: true, InsertedID: id, Duplicate: duplicate})
}

func (s *Server) handleListEntries(c *gin.Context) {
	taskID, err := optionalID(c.Query("taskID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid taskID"})
		return
	}
	userID, err := optionalID(c.Query("userID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid userID"})
		return
	}
	entries, err := s.store.ListEntries(c.Request.Context(), taskID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(entries), "entries": entries})
}

type taskRequest struct {
	ID        int64   `json:"id"`
	ProjectID int64   `json:"projectID"`
	Name      string  `json:"name"`
	EstHours  float64 `json:"estHours"`
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON body: " + err.Error()})
		return
	}
	if req.ID == 0 || req.ProjectID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing required fields"})
		return
	}
	if req.EstHours < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "estHours must not be negative"})
		return
	}
	task, err := s.store.UpsertTask(c.Request.Context(), remote.Task{ID: req.ID, ProjectID: req.ProjectID, Name: req.Name, EstHours: req.EstHours})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "task": task})
}

func (s *Server) handleGetTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	task, err := s.store.GetTask(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task": task})
}

type patchTaskRequest struct {
	ActHours   *float64 `json:"actHours"`
	IsExceeded *bool    `json:"isExceeded"`
}

func (s *Server) handlePatchTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req patchTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON body: " + err.Error()})
		return
	}
	if req.ActHours == nil || *req.ActHours < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "actHours must be a non-negative number"})
		return
	}
	task, err := s.store.UpdateActHours(c.Request.Context(), id, *req.ActHours, req.IsExceeded)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task": task})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid task id"})
		return 0, false
	}
	return id, true
}

func optionalID(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func parseTimestamp(raw string, fallback time.Time) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// counterJSON accepts a counter object or a JSON-encoded string of one.
func counterJSON(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`)
	}
	var inner string
	if err := json.Unmarshal(trimmed, &inner); err == nil {
		if json.Valid([]byte(inner)) {
			return json.RawMessage(inner)
		}
		return json.RawMessage(`{}`)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return json.RawMessage(`{}`)
	}
	return compact.Bytes()
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
