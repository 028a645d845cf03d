package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/offlinefirst/worktrack/pkg/record"
)

func testPayload() record.Payload {
	at := time.Date(2024, 5, 1, 14, 23, 0, 0, time.UTC)
	return record.New(record.Options{ProjectID: 7, TaskID: 42, UserID: 1, ScreenshotAt: at, CalculatedAt: at}).Payload()
}

func TestNewValidatesBaseURL(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
	if _, err := New(Options{BaseURL: "ftp://example.com"}); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	client, err := New(Options{BaseURL: "http://localhost:3000/api/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.BaseURL() != "http://localhost:3000/api" {
		t.Fatalf("unexpected base url %q", client.BaseURL())
	}
}

func TestSubmitRecordSendsPayloadAndKey(t *testing.T) {
	payload := testPayload()
	var gotKey string
	var got record.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/workdiary" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"insertedId":99}`))
	}))
	defer srv.Close()

	client, err := New(Options{BaseURL: srv.URL + "/api"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	res, err := client.SubmitRecord(context.Background(), payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Success || res.InsertedID != 99 {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotKey != payload.IdempotencyKey {
		t.Fatalf("expected idempotency header %q, got %q", payload.IdempotencyKey, gotKey)
	}
	if got.TaskID != 42 || got.KeyboardJSON.Count != 0 {
		t.Fatalf("unexpected payload on server: %+v", got)
	}
}

func TestSubmitRecordReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := New(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.SubmitRecord(context.Background(), testPayload())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", statusErr.StatusCode)
	}
}

func TestSubmitRecordNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := New(Options{BaseURL: url, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.SubmitRecord(context.Background(), testPayload()); err == nil {
		t.Fatalf("expected network error")
	}
}

func TestPatchTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.URL.Path == "/tasks/404" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success":false,"error":"Task not found"}`))
			return
		}
		var update TaskUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			t.Errorf("decode: %v", err)
		}
		exceeded := update.IsExceeded != nil && *update.IsExceeded
		_ = json.NewEncoder(w).Encode(taskEnvelope{Success: true, Task: Task{ID: update.TaskID, ActHours: update.ActHours, IsExceeded: exceeded}})
	}))
	defer srv.Close()

	client, err := New(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	task, err := client.PatchTask(context.Background(), 5, TaskUpdate{TaskID: 5, ProjectID: 7, ActHours: 2.5, IsExceeded: record.Bool(true)})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if task.ActHours != 2.5 || !task.IsExceeded {
		t.Fatalf("unexpected task %+v", task)
	}

	if _, err := client.PatchTask(context.Background(), 404, TaskUpdate{TaskID: 404, ProjectID: 7}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestPingReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	client, err := New(Options{BaseURL: srv.URL + "/api"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	code, err := client.Ping(context.Background())
	if err != nil || code != http.StatusNotFound {
		t.Fatalf("expected reachable 404, got %d %v", code, err)
	}

	srv.Close()
	if _, err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error once the server is gone")
	}
}
