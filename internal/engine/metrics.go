package engine

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for check cycles.
type Metrics struct {
	cycles        *prometheus.CounterVec
	candidates    *prometheus.CounterVec
	generations   *prometheus.CounterVec
	publishes     *prometheus.CounterVec
	cycleDuration prometheus.Histogram
}

// MustNewMetrics registers the engine collectors with reg, reusing
// collectors that are already registered. Any other registration error
// panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		cycles: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mentionbot",
			Subsystem: "engine",
			Name:      "cycles_total",
			Help:      "Check cycles run, by trigger and result.",
		}, []string{"trigger", "result"})),
		candidates: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mentionbot",
			Subsystem: "engine",
			Name:      "candidates_total",
			Help:      "Notification events considered, by outcome.",
		}, []string{"outcome"})),
		generations: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mentionbot",
			Subsystem: "engine",
			Name:      "generations_total",
			Help:      "Replies generated, by backend.",
		}, []string{"backend"})),
		publishes: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mentionbot",
			Subsystem: "engine",
			Name:      "publishes_total",
			Help:      "Publish attempts, by result.",
		}, []string{"result"})),
		cycleDuration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mentionbot",
			Subsystem: "engine",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a check cycle.",
			Buckets:   prometheus.DefBuckets,
		})),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) observeCycle(trigger Trigger, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(string(trigger), result).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) incCandidate(outcome string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(outcome).Inc()
}

func (m *Metrics) incGeneration(backend string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(backend).Inc()
}

func (m *Metrics) incPublish(result string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result).Inc()
}
