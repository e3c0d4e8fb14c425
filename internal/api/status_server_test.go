package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/annel0/tilesync/internal/client"
	"github.com/annel0/tilesync/internal/world"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	st client.Status
}

func (f *fakeSource) Status() client.Status { return f.st }

func newTestServer(t *testing.T, st client.Status) *StatusServer {
	t.Helper()
	s, err := NewStatusServer(Config{
		Addr:     "127.0.0.1:0",
		Source:   &fakeSource{st: st},
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestNewStatusServerRequiresSource(t *testing.T) {
	_, err := NewStatusServer(Config{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, client.Status{State: client.StateRunning.String()})
	w := get(t, s.Handler(), "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])

	s = newTestServer(t, client.Status{State: client.StateClosed.String(), LastError: "disconnected: EOF"})
	w = get(t, s.Handler(), "/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "down", body["status"])
	assert.Equal(t, "disconnected: EOF", body["error"])
}

func TestStatusSnapshot(t *testing.T) {
	st := client.Status{
		SessionID:   "s-1",
		Username:    "alice",
		State:       client.StateRunning.String(),
		WorldWidth:  16,
		WorldHeight: 16,
		Clients:     []string{"bob"},
		Cache:       world.CacheStats{Capacity: 1024},
	}
	s := newTestServer(t, st)

	w := get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "s-1", resp.Session.SessionID)
	assert.Equal(t, "alice", resp.Session.Username)
	assert.Equal(t, []string{"bob"}, resp.Session.Clients)
	assert.Equal(t, 1024, resp.Session.Cache.Capacity)
	assert.NotEmpty(t, resp.Process.Uptime)
	assert.Positive(t, resp.Process.Goroutines)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, client.Status{State: client.StateRunning.String()})
	get(t, s.Handler(), "/health")

	w := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tilesync_http_request_duration_seconds")
}

func TestStartStop(t *testing.T) {
	s := newTestServer(t, client.Status{State: client.StateRunning.String()})
	require.NoError(t, s.Start())

	resp, err := http.Get(fmt.Sprintf("http://%s/health", s.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
