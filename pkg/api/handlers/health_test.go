package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeSource struct {
	err    error
	status map[string]any
}

func (f *fakeSource) Ready() error { return f.err }
func (f *fakeSource) Status() any  { return f.status }

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestLiveness_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler("zcopy", nil)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.Liveness(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	resp := decode(t, w)
	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", resp.Status)
	}

	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}
	if data["service"] != "zcopy" {
		t.Errorf("Expected service 'zcopy', got '%v'", data["service"])
	}
	for _, key := range []string{"started_at", "uptime", "uptime_sec"} {
		if _, ok := data[key]; !ok {
			t.Errorf("Expected %q in liveness data", key)
		}
	}
}

func TestReadiness_NoSource_Returns503(t *testing.T) {
	handler := NewHealthHandler("zcopy", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	resp := decode(t, w)
	if resp.Status != "unhealthy" {
		t.Errorf("Expected status 'unhealthy', got '%s'", resp.Status)
	}
	if resp.Error != "endpoint not initialized" {
		t.Errorf("Expected error 'endpoint not initialized', got '%s'", resp.Error)
	}
}

func TestReadiness_NotReady_Returns503WithStatus(t *testing.T) {
	source := &fakeSource{
		err:    errors.New("client is Connecting"),
		status: map[string]any{"state": "Connecting"},
	}
	handler := NewHealthHandler("zcopy", source)
	w := httptest.NewRecorder()

	handler.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	resp := decode(t, w)
	if resp.Error != "client is Connecting" {
		t.Errorf("Expected readiness error, got '%s'", resp.Error)
	}
	data, ok := resp.Data.(map[string]any)
	if !ok || data["state"] != "Connecting" {
		t.Errorf("Expected status snapshot in data, got %v", resp.Data)
	}
}

func TestReadiness_Ready_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler("zcopy", &fakeSource{status: map[string]any{"state": "Connected"}})
	w := httptest.NewRecorder()

	handler.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if resp := decode(t, w); resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", resp.Status)
	}
}

func TestStatus(t *testing.T) {
	t.Run("reports snapshot even when not ready", func(t *testing.T) {
		source := &fakeSource{
			err:    errors.New("producer closed"),
			status: map[string]any{"role": "producer"},
		}
		handler := NewHealthHandler("zcopy", source)
		w := httptest.NewRecorder()

		handler.Status(w, httptest.NewRequest("GET", "/status", nil))

		if w.Code != http.StatusOK {
			t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
		}
		resp := decode(t, w)
		if resp.Status != "ok" {
			t.Errorf("Expected status 'ok', got '%s'", resp.Status)
		}
		data, ok := resp.Data.(map[string]any)
		if !ok || data["role"] != "producer" {
			t.Errorf("Expected role in data, got %v", resp.Data)
		}
	})

	t.Run("no source", func(t *testing.T) {
		handler := NewHealthHandler("zcopy", nil)
		w := httptest.NewRecorder()

		handler.Status(w, httptest.NewRequest("GET", "/status", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
		}
	})
}
