// Package remote is the HTTP client for the work-diary API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/offlinefirst/worktrack/pkg/record"
)

// DefaultTimeout bounds a single request when no client is supplied.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 4 << 10

// ErrTaskNotFound is returned when PATCH /tasks/{id} reports 404.
var ErrTaskNotFound = errors.New("task not found")

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, body)
}

// Options configure a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
}

// Client talks to the work-diary API.
type Client struct {
	base      *url.URL
	http      *http.Client
	userAgent string
}

// InsertResult is the response to POST /workdiary.
type InsertResult struct {
	Success    bool   `json:"success"`
	InsertedID int64  `json:"insertedId"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TaskUpdate is the body of PATCH /tasks/{id}.
type TaskUpdate struct {
	TaskID     int64   `json:"taskID"`
	ProjectID  int64   `json:"projectID"`
	ActHours   float64 `json:"actHours"`
	IsExceeded *bool   `json:"isExceeded,omitempty"`
}

// Task is the server view of a task after an update.
type Task struct {
	ID         int64     `json:"id"`
	ProjectID  int64     `json:"projectID"`
	Name       string    `json:"name,omitempty"`
	EstHours   float64   `json:"estHours"`
	ActHours   float64   `json:"actHours"`
	IsExceeded bool      `json:"isExceeded"`
	UpdatedAt  time.Time `json:"updatedAt,omitempty"`
}

type taskEnvelope struct {
	Success bool   `json:"success"`
	Task    Task   `json:"task"`
	Error   string `json:"error,omitempty"`
}

// New validates options and constructs a Client.
func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, errors.New("remote base url must not be empty")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote base url %q must use http or https", raw)
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Client{base: base, http: client, userAgent: opts.UserAgent}, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Ping issues a GET against the API root. Any HTTP response counts as
// reachable; the status code is returned for display.
func (c *Client) Ping(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", c.base.Path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode, nil
}

// SubmitRecord posts one payload to /workdiary.
func (c *Client) SubmitRecord(ctx context.Context, payload record.Payload) (InsertResult, error) {
	headers := map[string]string{}
	if payload.IdempotencyKey != "" {
		headers["Idempotency-Key"] = payload.IdempotencyKey
	}

	var result InsertResult
	if _, err := c.do(ctx, http.MethodPost, "workdiary", payload, headers, &result); err != nil {
		return InsertResult{}, err
	}
	// Any 2xx is accepted even when the body omits the success flag.
	result.Success = true
	return result, nil
}

// PatchTask updates actual hours for a task.
func (c *Client) PatchTask(ctx context.Context, taskID int64, update TaskUpdate) (Task, error) {
	if taskID == 0 {
		return Task{}, errors.New("task id must not be zero")
	}
	var env taskEnvelope
	_, err := c.do(ctx, http.MethodPatch, "tasks/"+strconv.FormatInt(taskID, 10), update, nil, &env)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return Task{}, fmt.Errorf("%w: %d", ErrTaskNotFound, taskID)
		}
		return Task{}, err
	}
	return env.Task, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, endpoint.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
