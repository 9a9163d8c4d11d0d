// Package metrics exposes the engine's Prometheus instrumentation: queue
// depths, dispatch and execution counters, storage buffer occupancy, and
// HTTP retry counts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the engine registers. A fresh registry per
// Metrics value keeps tests independent.
type Metrics struct {
	registry *prometheus.Registry

	ScanPages       prometheus.Counter
	ScanMarkets     prometheus.Counter
	ScanCycles      prometheus.Counter
	StorageBuffered prometheus.Gauge
	StorageInserted prometheus.Counter
	StorageErrors   prometheus.Counter
	PriceRecorded   prometheus.Counter
	Dispatched      *prometheus.CounterVec
	Executions      *prometheus.CounterVec
	OrdersPending   prometheus.Gauge
	OrderVolume     *prometheus.CounterVec
	HTTPRetries     *prometheus.CounterVec
}

// New builds and registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ScanPages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanengine_scan_pages_total",
			Help: "Feed pages fetched by the scan stage.",
		}),
		ScanMarkets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanengine_scan_markets_total",
			Help: "Markets converted and handed downstream.",
		}),
		ScanCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanengine_scan_cycles_total",
			Help: "Completed scan cycles.",
		}),
		StorageBuffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanengine_storage_buffered",
			Help: "Markets currently buffered by the storage stage.",
		}),
		StorageInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanengine_storage_inserted_total",
			Help: "Market rows inserted by the storage stage.",
		}),
		StorageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanengine_storage_errors_total",
			Help: "Records lost to failed storage batches.",
		}),
		PriceRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanengine_price_recorded_total",
			Help: "MarketPrice rows recorded by the price stage.",
		}),
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanengine_dispatched_total",
			Help: "Tasks dispatched, by strategy.",
		}, []string{"strategy"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanengine_executions_total",
			Help: "Strategy executions, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		OrdersPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanengine_orders_pending",
			Help: "Orders waiting in the order queue.",
		}),
		OrderVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanengine_order_volume_total",
			Help: "Filled order volume, by strategy.",
		}, []string{"strategy"}),
		HTTPRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanengine_http_retries_total",
			Help: "HTTP attempts beyond the first, by client.",
		}, []string{"client"}),
	}

	reg.MustRegister(
		m.ScanPages, m.ScanMarkets, m.ScanCycles,
		m.StorageBuffered, m.StorageInserted, m.StorageErrors,
		m.PriceRecorded, m.Dispatched, m.Executions,
		m.OrdersPending, m.OrderVolume, m.HTTPRetries,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
