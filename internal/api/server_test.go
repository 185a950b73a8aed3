package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fuzztriage/issue-harvester/internal/progress"
)

func TestServerEndpoints(t *testing.T) {
	tracker := progress.NewTracker("run-1")
	tracker.Update(0, 3, 1, 10, "42000001")
	server := NewServer(0, tracker, zap.NewNop())

	t.Run("healthz", func(t *testing.T) {
		rr := httptest.NewRecorder()
		server.httpServer.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	})

	t.Run("status", func(t *testing.T) {
		rr := httptest.NewRecorder()
		server.httpServer.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

		var status progress.RunStatus
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
		require.Equal(t, "run-1", status.RunID)
		require.Equal(t, 3, status.Processed)
		require.Equal(t, 1, status.Failed)
		require.Len(t, status.Workers, 1)
	})

	t.Run("metrics", func(t *testing.T) {
		rr := httptest.NewRecorder()
		server.httpServer.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		require.Contains(t, rr.Body.String(), "go_goroutines")
	})
}
