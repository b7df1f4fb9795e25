package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllMetrics(t *testing.T) {
	m := New()

	require.NotNil(t, m.Registry)
	assert.NotNil(t, m.PassesTotal)
	assert.NotNil(t, m.PassDuration)
	assert.NotNil(t, m.VehiclesEmitted)
	assert.NotNil(t, m.VehiclesSkipped)
	assert.NotNil(t, m.MissingTrips)
	assert.NotNil(t, m.StopUpdates)
	assert.NotNil(t, m.FeedFetchDuration)
}

func TestCountersAccumulate(t *testing.T) {
	m := New()

	m.VehiclesEmitted.WithLabelValues("stlouis").Inc()
	m.VehiclesEmitted.WithLabelValues("stlouis").Inc()
	m.VehiclesSkipped.WithLabelValues("stlouis", "incomplete").Inc()
	m.MissingTrips.WithLabelValues("stlouis").Set(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.VehiclesEmitted.WithLabelValues("stlouis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VehiclesSkipped.WithLabelValues("stlouis", "incomplete")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.MissingTrips.WithLabelValues("stlouis")))
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.PassesTotal.WithLabelValues("stlouis", "vehicles", "ok").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "reconciler_passes_total"))
}

func TestShutdownWithoutCollectorIsSafe(t *testing.T) {
	m := New()
	m.Shutdown()
}

func TestStartDBStatsCollectorNilDB(t *testing.T) {
	m := New()
	m.StartDBStatsCollector(nil, time.Second)
	m.Shutdown()
}
