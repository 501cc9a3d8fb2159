package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	t.Parallel()

	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.TaskSubmitted(ctx, "app")
		m.TaskFinished(ctx, "success", time.Second)
		m.TaskRequeued(ctx)
		m.PollError(ctx)
	})
}

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.TaskSubmitted(context.Background(), "app")
		m.TaskFinished(context.Background(), "failed", 2*time.Second)
	})
}

func TestHTTPMiddlewarePassesThrough(t *testing.T) {
	t.Parallel()

	h := HTTPMiddleware("rhqueue")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestTransportRoundTrips(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := &http.Client{Transport: Transport(nil)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
