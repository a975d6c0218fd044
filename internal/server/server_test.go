package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dygy/midi-scribe/internal/pipeline"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	s, err := New(Config{Port: 0, Pipeline: pipeline.DefaultConfig()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestIndexRenders(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "midi-scribe") {
		t.Error("index page missing expected content")
	}
}

func TestStatusUnknownJob(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/not-a-job", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestUploadWithoutFile(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("url="))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUploadRejectsBadURL(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("url=https://example.com/video"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "YouTube") {
		t.Errorf("error body = %s", rec.Body.String())
	}
}

func TestJobViewTransitions(t *testing.T) {
	s := testServer(t)
	job, err := s.jobs.Create("input.wav", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = job })

	v := job.View()
	if v.Status != StatusPending {
		t.Errorf("new job status = %s, want pending", v.Status)
	}

	job.setStatus(StatusProcessing)
	if job.View().Status != StatusProcessing {
		t.Error("setStatus not reflected in view")
	}

	if s.jobs.Get(job.ID) != job {
		t.Error("Get did not return the created job")
	}
	if s.jobs.Get("other") != nil {
		t.Error("Get returned a job for an unknown ID")
	}
}
