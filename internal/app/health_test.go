package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/grid"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
)

// pingStore overrides Ping on a working store.
type pingStore struct {
	store.Store
	pingFn func(context.Context) error
}

func (p pingStore) Ping(ctx context.Context) error {
	if p.pingFn != nil {
		return p.pingFn(ctx)
	}
	return nil
}

func newHealthServer(pingFn func(context.Context) error, checks map[string]Check) *HTTPServer {
	mem := store.NewMemoryStore()
	svc := New(Deps{
		Engine: grid.New(mem),
		Store:  pingStore{Store: mem, pingFn: pingFn},
		Checks: checks,
	})
	return NewHTTPServer(svc, "*")
}

func TestHealthEndpoint(t *testing.T) {
	server := newHealthServer(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	server := newHealthServer(nil, map[string]Check{
		"redis": func(context.Context) error { return nil },
	})

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if response["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", response["status"])
	}
	checks, ok := response["checks"].(map[string]any)
	if !ok {
		t.Fatalf("expected checks object, got %v", response["checks"])
	}
	for _, name := range []string{"database", "redis"} {
		check, _ := checks[name].(map[string]any)
		if check["status"] != "ok" {
			t.Errorf("expected %s status=ok, got %v", name, checks[name])
		}
	}
}

func TestReadyEndpoint_DatabaseDown(t *testing.T) {
	server := newHealthServer(func(context.Context) error {
		return errors.New("connection refused")
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if response["ok"] != false || response["status"] != "not_ready" {
		t.Errorf("unexpected response %v", response)
	}
	checks := response["checks"].(map[string]any)
	db := checks["database"].(map[string]any)
	if db["status"] != "error" || db["error"] != "connection refused" {
		t.Errorf("unexpected database check %v", db)
	}
}

func TestReadyEndpoint_ExtraCheckFails(t *testing.T) {
	server := newHealthServer(nil, map[string]Check{
		"search": func(context.Context) error { return errors.New("meilisearch unhealthy") },
	})

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newHealthServer(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct == "application/json" {
		t.Errorf("metrics should not be served as JSON, got %q", ct)
	}
}
