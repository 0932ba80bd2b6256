package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteProblem(t *testing.T) {
	w := httptest.NewRecorder()

	WriteProblem(w, Problem{
		Type:     ProblemTypeNotFound,
		Title:    "Not Found",
		Status:   http.StatusNotFound,
		Detail:   "session xyz not found",
		Instance: "/api/v1/dispatch/sessions/xyz",
	})

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content-type = %q, want %q", ct, "application/problem+json")
	}

	var p Problem
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if p.Type != ProblemTypeNotFound {
		t.Errorf("type = %q, want %q", p.Type, ProblemTypeNotFound)
	}
	if p.Status != 404 {
		t.Errorf("status = %d, want 404", p.Status)
	}
	if p.Detail != "session xyz not found" {
		t.Errorf("detail = %q, want %q", p.Detail, "session xyz not found")
	}
}

func TestNotFound(t *testing.T) {
	w := httptest.NewRecorder()
	NotFound(w, "missing", "/test")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}

	var p Problem
	json.NewDecoder(w.Body).Decode(&p)
	if p.Type != ProblemTypeNotFound {
		t.Errorf("type = %q, want %q", p.Type, ProblemTypeNotFound)
	}
}

func TestBadRequest(t *testing.T) {
	w := httptest.NewRecorder()
	BadRequest(w, "cidr is required", "/api/v1/scan/networks")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var p Problem
	json.NewDecoder(w.Body).Decode(&p)
	if p.Detail != "cidr is required" {
		t.Errorf("detail = %q, want %q", p.Detail, "cidr is required")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	v, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if got := v.GetInt("scan.concurrency"); got != 10 {
		t.Errorf("scan.concurrency = %d, want 10", got)
	}
	if got := v.GetInt("scan.retries"); got != 3 {
		t.Errorf("scan.retries = %d, want 3", got)
	}
	if got := v.GetString("scan.bulk.binary"); got != "fping" {
		t.Errorf("scan.bulk.binary = %q, want %q", got, "fping")
	}
	if got := v.GetDuration("dispatch.connect_timeout").Seconds(); got != 30 {
		t.Errorf("dispatch.connect_timeout = %vs, want 30s", got)
	}
	if got := v.GetDuration("scan.timeout").Milliseconds(); got != 1500 {
		t.Errorf("scan.timeout = %vms, want 1500ms", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/muster.yaml"); err == nil {
		t.Fatal("LoadConfig() expected error for missing file, got nil")
	}
}
