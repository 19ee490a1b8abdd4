package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

func TestLogger(t *testing.T) {
	// Create a buffer to capture log output
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	// Create a test handler
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Wrap with logger middleware
	loggedHandler := Logger(logger)(handler)

	// Create a test request
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Execute the request
	loggedHandler.ServeHTTP(rec, req)

	// Check response
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	// Parse log output
	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	// Verify log fields
	if logEntry["method"] != "GET" {
		t.Errorf("expected method GET, got %v", logEntry["method"])
	}
	if logEntry["path"] != "/test" {
		t.Errorf("expected path /test, got %v", logEntry["path"])
	}
	if logEntry["status"] != float64(200) {
		t.Errorf("expected status 200, got %v", logEntry["status"])
	}
	if logEntry["message"] != "request completed" {
		t.Errorf("expected message 'request completed', got %v", logEntry["message"])
	}
}

func TestLoggerWithErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Not Found"))
	})

	loggedHandler := Logger(logger)(handler)

	req := httptest.NewRequest(http.MethodGet, "/notfound", nil)
	rec := httptest.NewRecorder()

	loggedHandler.ServeHTTP(rec, req)

	var logEntry map[string]interface{}
	json.Unmarshal(buf.Bytes(), &logEntry)

	if logEntry["status"] != float64(404) {
		t.Errorf("expected status 404, got %v", logEntry["status"])
	}
}

type recordedRequest struct {
	route  string
	status int
}

type fakeRecorder struct {
	requests []recordedRequest
}

func (f *fakeRecorder) RecordHTTPRequest(route string, statusCode int, _ time.Duration) {
	f.requests = append(f.requests, recordedRequest{route, statusCode})
}

func TestLoggerIncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	handler := chimiddleware.RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if id, _ := logEntry["request_id"].(string); id == "" {
		t.Errorf("expected request_id, got %v", logEntry["request_id"])
	}
	if logEntry["status"] != float64(200) {
		t.Errorf("expected implicit status 200, got %v", logEntry["status"])
	}
	if logEntry["level"] != "info" {
		t.Errorf("expected level info, got %v", logEntry["level"])
	}
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	rec := &fakeRecorder{}
	r := chi.NewRouter()
	r.Use(Metrics(rec))
	r.Get("/api/agents/{agentId}/session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/agents/a1/session", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if len(rec.requests) != 2 {
		t.Fatalf("expected 2 recorded requests, got %d", len(rec.requests))
	}
	if rec.requests[0] != (recordedRequest{"/api/agents/{agentId}/session", http.StatusTeapot}) {
		t.Errorf("unexpected first request %+v", rec.requests[0])
	}
	if rec.requests[1] != (recordedRequest{"unmatched", http.StatusNotFound}) {
		t.Errorf("unexpected second request %+v", rec.requests[1])
	}
}
