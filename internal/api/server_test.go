package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/metrics"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/progress/sinks"
)

func newTestServer(t *testing.T, source ProgressSource) *httptest.Server {
	t.Helper()
	srv := NewServer(metrics.New(), source, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestHealthAndReadyProbes(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, sinks.NewMemorySink())

	var health map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &health))
	require.Equal(t, "ok", health["status"])

	var ready map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/readyz", &ready))
	require.Equal(t, "ready", ready["status"])
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, sinks.NewMemorySink())

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, sinks.NewMemorySink())

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
