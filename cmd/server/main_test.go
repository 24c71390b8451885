package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── mock pinger ─────────────────────────────────────────────────────────────

type testPinger struct {
	pingErr error
}

func (p *testPinger) Ping(_ context.Context) error { return p.pingErr }

// ─── health handler tests ───────────────────────────────────────────────────

func serveHealth(t *testing.T, checks ...healthCheck) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	healthHandler(checks...)(w, req)
	return w
}

func TestHealthHandler_AllOK(t *testing.T) {
	w := serveHealth(t,
		healthCheck{name: "cache", pinger: &testPinger{}},
		healthCheck{name: "database", pinger: &testPinger{}},
	)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["cache"])
	assert.Equal(t, "ok", services["database"])
}

func TestHealthHandler_CacheOnly(t *testing.T) {
	w := serveHealth(t, healthCheck{name: "cache", pinger: &testPinger{}})

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	services := body["data"].(map[string]any)["services"].(map[string]any)
	assert.Len(t, services, 1, "optional dependencies are not reported when disabled")
}

func TestHealthHandler_DatabaseDegraded(t *testing.T) {
	w := serveHealth(t,
		healthCheck{name: "cache", pinger: &testPinger{}},
		healthCheck{name: "database", pinger: &testPinger{pingErr: errors.New("connection refused")}},
	)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "DEGRADED", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "ok", details["cache"])
	assert.Equal(t, "degraded", details["database"])
}

func TestHealthHandler_CacheDegraded(t *testing.T) {
	w := serveHealth(t, healthCheck{name: "cache", pinger: &testPinger{pingErr: errors.New("redis down")}})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthHandler_EventsDegraded(t *testing.T) {
	w := serveHealth(t,
		healthCheck{name: "cache", pinger: &testPinger{}},
		healthCheck{name: "events", pinger: &testPinger{pingErr: errors.New("nats: connection closed")}},
	)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ─── run() config validation tests ──────────────────────────────────────────

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("STATION_API_BASE_URL", "http://localhost:8000/api/v1/stations")
	t.Setenv("STATION_USERNAME", "ubnt")
	t.Setenv("STATION_PASSWORD", "ubnt")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("NATS_URL", "")
}

func TestRun_FailsOnMissingConfig(t *testing.T) {
	for _, key := range []string{
		"REDIS_URL", "STATION_API_BASE_URL", "STATION_USERNAME", "STATION_PASSWORD",
	} {
		t.Setenv(key, "")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidStationURL(t *testing.T) {
	setValidEnv(t)
	t.Setenv("STATION_API_BASE_URL", "ftp://station")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidRedisURL(t *testing.T) {
	setValidEnv(t)
	t.Setenv("REDIS_URL", "not-a-valid-url")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create redis cache")
}

func TestRun_FailsOnUnreachableRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that dials the network")
	}
	setValidEnv(t)
	t.Setenv("REDIS_URL", "redis://127.0.0.1:1")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}

// ─── constants ──────────────────────────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
