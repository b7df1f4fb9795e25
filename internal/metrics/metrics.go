// Package metrics provides Prometheus metrics for the reconciler.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Registry is the Prometheus registry for this metrics instance
	Registry *prometheus.Registry

	// Reconciliation pass metrics
	PassesTotal  *prometheus.CounterVec
	PassDuration *prometheus.HistogramVec

	// Vehicle reconciliation metrics
	VehiclesEmitted *prometheus.CounterVec
	VehiclesSkipped *prometheus.CounterVec

	// Missing-trip and stop-update metrics
	MissingTrips *prometheus.GaugeVec
	StopUpdates  *prometheus.CounterVec

	// Feed fetch metrics
	FeedFetchDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	// logger for error reporting
	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool

	// cancel stops the DB stats collector goroutine
	cancel context.CancelFunc

	// wg tracks the DB stats collector goroutine for graceful shutdown
	wg sync.WaitGroup
}

// New creates and registers all application metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	passesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_passes_total",
			Help: "Total number of reconciliation passes",
		},
		[]string{"agency", "kind", "outcome"},
	)

	passDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconciler_pass_duration_seconds",
			Help:    "Reconciliation pass latency distribution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agency", "kind"},
	)

	vehiclesEmitted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_vehicles_emitted_total",
			Help: "Vehicle features emitted into snapshots",
		},
		[]string{"agency"},
	)

	vehiclesSkipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_vehicles_skipped_total",
			Help: "Vehicle entities dropped during reconciliation",
		},
		[]string{"agency", "reason"},
	)

	missingTrips := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconciler_missing_trips",
			Help: "Scheduled trips with no reporting vehicle in the last pass",
		},
		[]string{"agency"},
	)

	stopUpdates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_stop_updates_total",
			Help: "Stop delay records emitted into snapshots",
		},
		[]string{"agency"},
	)

	feedFetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconciler_feed_fetch_duration_seconds",
			Help:    "GTFS-RT feed fetch latency distribution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agency", "feed"},
	)

	dbConnectionsOpen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_db_connections_open",
		Help: "Number of open database connections",
	})

	dbConnectionsInUse := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_db_connections_in_use",
		Help: "Number of database connections currently in use",
	})

	dbConnectionsIdle := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_db_connections_idle",
		Help: "Number of idle database connections",
	})

	dbWaitSecondsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_db_wait_seconds_total",
		Help: "Total time blocked waiting for a database connection",
	})

	registry.MustRegister(
		passesTotal,
		passDuration,
		vehiclesEmitted,
		vehiclesSkipped,
		missingTrips,
		stopUpdates,
		feedFetchDuration,
		dbConnectionsOpen,
		dbConnectionsInUse,
		dbConnectionsIdle,
		dbWaitSecondsTotal,
	)

	return &Metrics{
		Registry:           registry,
		PassesTotal:        passesTotal,
		PassDuration:       passDuration,
		VehiclesEmitted:    vehiclesEmitted,
		VehiclesSkipped:    vehiclesSkipped,
		MissingTrips:       missingTrips,
		StopUpdates:        stopUpdates,
		FeedFetchDuration:  feedFetchDuration,
		DBConnectionsOpen:  dbConnectionsOpen,
		DBConnectionsInUse: dbConnectionsInUse,
		DBConnectionsIdle:  dbConnectionsIdle,
		DBWaitSecondsTotal: dbWaitSecondsTotal,
		logger:             logger,
	}
}

// Handler returns an http.Handler serving this registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// StartDBStatsCollector launches a goroutine that periodically copies
// sql.DBStats into the DB gauges. Calling it more than once is a no-op.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil || !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
				m.DBConnectionsInUse.Set(float64(stats.InUse))
				m.DBConnectionsIdle.Set(float64(stats.Idle))
				m.DBWaitSecondsTotal.Add(stats.WaitDuration.Seconds())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the DB stats collector and waits for it to exit.
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
