package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	return New(Config{
		Log:       zerolog.Nop(),
		Port:      0,
		StartedAt: time.Now(),
	})
}

func TestHealthReportsOk(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStopEnqueuesShutdownRequest(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/stop", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case req := <-s.Shutdown:
		assert.Equal(t, Nothing, req.Action)
	default:
		t.Fatal("expected a shutdown request to be enqueued")
	}
}

func TestRestartRequestsRestartAction(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/restart", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	got := <-s.Shutdown
	assert.Equal(t, Restart, got.Action)
}

func TestSecondShutdownWhileOneInFlightIsRejected(t *testing.T) {
	s := testServer(t)
	s.Shutdown <- ShutdownRequest{Action: Nothing}

	req := httptest.NewRequest(http.MethodPost, "/api/stop", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
