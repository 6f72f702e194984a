package pool

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks pool activity with prometheus counters. Grounded on the
// metric-per-subsystem style in nabbar-golib/monitor: one small struct of
// pre-registered collectors passed in by the owner rather than relying on
// prometheus's default global registry.
type Metrics struct {
	acquired  prometheus.Counter
	released  prometheus.Counter
	destroyed prometheus.Counter
	timeouts  prometheus.Counter
}

// NewMetrics builds a Metrics registered under namespace/subsystem (e.g.
// "bolt", "pool"). Register the returned collectors with a
// prometheus.Registerer of the caller's choosing.
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		acquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "acquired_total",
			Help: "Total number of connections successfully acquired from the pool.",
		}),
		released: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "released_total",
			Help: "Total number of connections returned to the pool for reuse.",
		}),
		destroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "destroyed_total",
			Help: "Total number of connections destroyed instead of reused (broken, expired, or purged).",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "acquire_timeouts_total",
			Help: "Total number of Acquire calls that failed because the acquisition timeout elapsed.",
		}),
	}
}

// Collectors returns every collector owned by m, for bulk registration:
// reg.MustRegister(m.Collectors()...).
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.acquired, m.released, m.destroyed, m.timeouts}
}
