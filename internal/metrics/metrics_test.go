package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsAreExposedAtScrapeEndpoint(t *testing.T) {
	reg, m := NewRegistry()
	m.DispatcherAccepted.Inc()
	m.SamplerTicks.Add(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "gatewayd_dispatcher_connections_accepted_total 1")
	require.Contains(t, body, "gatewayd_sampler_ticks_total 3")
}
