package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCounter int

func (f fixedCounter) Len() int { return int(f) }

// mockAuthMiddleware creates a test auth middleware
func mockAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func scrape(t *testing.T, api *MetricsAPI, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	api.Router.ServeHTTP(w, req)
	return w
}

func TestMetricsExposition(t *testing.T) {
	api, err := NewMetricsAPI(Opts{Transports: fixedCounter(3)})
	require.NoError(t, err)

	api.SessionCreated()
	api.SessionCreated()
	api.SessionTerminated()
	api.TransportRecreated()
	api.DroppedWrite()
	api.Request(http.MethodPost, OutcomeOK)
	api.ObserveEngine("tools/call", 20*time.Millisecond)

	w := scrape(t, api, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")

	body := w.Body.String()
	assert.Contains(t, body, "mcpedge_transports 3")
	assert.Contains(t, body, "mcpedge_sessions_created_total 2")
	assert.Contains(t, body, "mcpedge_sessions_terminated_total 1")
	assert.Contains(t, body, "mcpedge_transports_recreated_total 1")
	assert.Contains(t, body, "mcpedge_transport_dropped_writes_total 1")
	assert.Contains(t, body, `mcpedge_requests_total{http_method="POST",outcome="ok"} 1`)
	assert.Contains(t, body, `mcpedge_engine_duration_seconds_count{method="tools/call"} 1`)
}

func TestLabelsAreBounded(t *testing.T) {
	api, err := NewMetricsAPI(Opts{})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		api.Request(fmt.Sprintf("VERB%d", i), OutcomeClientError)
		api.ObserveEngine(fmt.Sprintf("custom/method-%d", i), time.Millisecond)
	}
	api.Request(http.MethodPost, OutcomeOK)
	api.ObserveEngine("tools/call", time.Millisecond)

	require.Equal(t, 2, testutil.CollectAndCount(api.requests))
	require.Equal(t, 2, testutil.CollectAndCount(api.engineDuration))

	body := scrape(t, api, nil).Body.String()
	assert.Contains(t, body, `mcpedge_requests_total{http_method="other",outcome="client_error"} 100`)
	assert.Contains(t, body, `mcpedge_engine_duration_seconds_count{method="other"} 100`)
	assert.NotContains(t, body, "VERB")
	assert.NotContains(t, body, "custom/method")
}

func TestMetricsAuth(t *testing.T) {
	api, err := NewMetricsAPI(Opts{AuthMiddleware: mockAuthMiddleware})
	require.NoError(t, err)

	require.Equal(t, http.StatusUnauthorized, scrape(t, api, nil).Code)
	require.Equal(t, http.StatusOK, scrape(t, api, http.Header{"Authorization": {"Bearer x"}}).Code)
}

func TestNilMetricsAPI(t *testing.T) {
	var api *MetricsAPI
	require.NotPanics(t, func() {
		api.SessionCreated()
		api.SessionTerminated()
		api.TransportRecreated()
		api.DroppedWrite()
		api.Request(http.MethodGet, OutcomeOK)
		api.ObserveEngine("ping", time.Second)
	})
}
