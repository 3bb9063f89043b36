package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline counters. Long backfills and enrichment
// runs can take hours, so stages optionally expose these over HTTP
// while they run.
type Metrics struct {
	registry *prometheus.Registry

	MonthsTotal     *prometheus.CounterVec
	RowsTotal       *prometheus.CounterVec
	UsersCollected  prometheus.Counter
	LookupsTotal    *prometheus.CounterVec
	ActiveLookups   prometheus.Gauge
	LookupDurations prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		MonthsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topusers_months_total",
			Help: "Monthly collection windows by final status.",
		}, []string{"status"}),
		RowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topusers_sacct_rows_total",
			Help: "Accounting rows seen, by whether they were summed or skipped.",
		}, []string{"result"}),
		UsersCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topusers_users_collected_total",
			Help: "Distinct user entries written to monthly usage files.",
		}),
		LookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topusers_directory_lookups_total",
			Help: "Identity directory lookups by final status.",
		}, []string{"status"}),
		ActiveLookups: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "topusers_active_lookups",
			Help: "Identity lookups currently in flight.",
		}),
		LookupDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "topusers_directory_lookup_duration_seconds",
			Help:    "Duration of individual identity directory lookups.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.MonthsTotal,
		m.RowsTotal,
		m.UsersCollected,
		m.LookupsTotal,
		m.ActiveLookups,
		m.LookupDurations,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
