package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "blackbox"

var (
	eventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Total number of events persisted, partitioned by level.",
		},
		[]string{"level"},
	)

	ingestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_seconds",
			Help:      "Latency of ingest (persist, detect and correlate) in seconds.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	ingestFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failures_total",
			Help:      "Total number of ingest requests that failed after validation.",
		},
	)

	incidentsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_opened_total",
			Help:      "Total number of incidents opened by burst detection, partitioned by severity.",
		},
		[]string{"severity"},
	)

	incidentsResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_resolved_total",
			Help:      "Total number of manual incident resolutions.",
		},
	)

	correlationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlations_total",
			Help:      "Total number of correlation edges created, counted once per matched rule.",
		},
		[]string{"rule"},
	)
)

// Register attaches blackbox collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsIngestedTotal,
		ingestDurationSeconds,
		ingestFailuresTotal,
		incidentsOpenedTotal,
		incidentsResolvedTotal,
		correlationsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIngest records an ingest outcome. level is empty on failure.
func ObserveIngest(duration time.Duration, level string, failed bool) {
	if duration < 0 {
		duration = 0
	}
	ingestDurationSeconds.Observe(duration.Seconds())
	if failed {
		ingestFailuresTotal.Inc()
		return
	}
	eventsIngestedTotal.WithLabelValues(level).Inc()
}

// Recorder receives engine outcomes. The engine holds one so tests can swap
// in a fake without touching the global registry.
type Recorder interface {
	IncidentOpened(severity string)
	IncidentResolved()
	Correlated(rules []string)
}

// Prometheus is the Recorder backed by the package collectors.
type Prometheus struct{}

func (Prometheus) IncidentOpened(severity string) {
	incidentsOpenedTotal.WithLabelValues(severity).Inc()
}

func (Prometheus) IncidentResolved() { incidentsResolvedTotal.Inc() }

func (Prometheus) Correlated(rules []string) {
	for _, rule := range rules {
		correlationsTotal.WithLabelValues(rule).Inc()
	}
}

// Noop discards everything.
type Noop struct{}

func (Noop) IncidentOpened(string) {}
func (Noop) IncidentResolved()     {}
func (Noop) Correlated([]string)   {}
