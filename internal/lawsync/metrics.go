package lawsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "rootlaws"

type Metrics struct {
	SyncRuns     *prometheus.CounterVec
	FilesFetched prometheus.Counter
	Applies      *prometheus.CounterVec
	Mismatches   prometheus.Counter
}

// NewMetrics registers the sync counters on reg. A nil reg yields working but
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Upstream sync attempts per language by outcome",
		}, []string{"language", "outcome"}),
		FilesFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "files_fetched_total",
			Help:      "Rules files stored after a successful fetch",
		}),
		Applies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "apply",
			Name:      "runs_total",
			Help:      "YAML reconciliation runs by outcome",
		}, []string{"outcome"}),
		Mismatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "apply",
			Name:      "mismatches_total",
			Help:      "Structural mismatches reported by YAML reconciliation",
		}),
	}
}
