package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes recorded by Metrics
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// Metrics holds the orchestrator's prometheus collectors
type Metrics struct {
	Fetches       *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	Batches       prometheus.Counter
	MemoryAlloc   prometheus.Gauge
}

// NewMetrics registers the collectors on reg under namespace. A nil reg
// creates collectors that are not registered anywhere.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dataset_fetches_total",
				Help:      "Total number of dataset fetches by outcome",
			},
			[]string{"outcome"},
		),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dataset_fetch_duration_seconds",
			Help:      "Duration of a dataset fetch including filter application",
			Buckets:   prometheus.DefBuckets,
		}),
		Batches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_processed_total",
			Help:      "Total number of fetch batches processed",
		}),
		MemoryAlloc: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_alloc_megabytes",
			Help:      "Heap allocation sampled after the last batch",
		}),
	}
}

func (m *Metrics) observeFetch(outcome string, seconds float64) {
	if m == nil {
		return
	}

	m.Fetches.WithLabelValues(outcome).Inc()
	m.FetchDuration.Observe(seconds)
}

func (m *Metrics) observeBatch(allocMB float64) {
	if m == nil {
		return
	}

	m.Batches.Inc()
	m.MemoryAlloc.Set(allocMB)
}
