package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors reporting orchestrator activity.
type Metrics struct {
	containersRunning prometheus.Gauge
	spawnsTotal       *prometheus.CounterVec
	outputsTotal      prometheus.Counter
	delegationsTotal  *prometheus.CounterVec
	queueDepth        prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level instance bound to the global
// registry, created once to avoid duplicate-registration panics when a
// second orchestrator is built in the same process.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics builds collectors against the given registerer. Pass a fresh
// registry in tests. Registration errors other than AlreadyRegistered panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	containersRunning := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "burrow",
		Subsystem: "orchestrator",
		Name:      "containers_running",
		Help:      "Number of agent containers currently running.",
	})
	spawnsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "burrow",
		Subsystem: "orchestrator",
		Name:      "container_spawns_total",
		Help:      "Total container spawns by agent role.",
	}, []string{"role"})
	outputsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "burrow",
		Subsystem: "orchestrator",
		Name:      "streamed_outputs_total",
		Help:      "Total marker-framed outputs received from containers.",
	})
	delegationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "burrow",
		Subsystem: "orchestrator",
		Name:      "delegations_total",
		Help:      "Total delegation attempts by outcome.",
	}, []string{"outcome"})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "burrow",
		Subsystem: "orchestrator",
		Name:      "queue_pending",
		Help:      "Number of container tasks waiting for a concurrency slot.",
	})

	for _, collector := range []prometheus.Collector{
		containersRunning, spawnsTotal, outputsTotal, delegationsTotal, queueDepth,
	} {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case containersRunning:
					containersRunning = already.ExistingCollector.(prometheus.Gauge)
				case spawnsTotal:
					spawnsTotal = already.ExistingCollector.(*prometheus.CounterVec)
				case outputsTotal:
					outputsTotal = already.ExistingCollector.(prometheus.Counter)
				case delegationsTotal:
					delegationsTotal = already.ExistingCollector.(*prometheus.CounterVec)
				case queueDepth:
					queueDepth = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		containersRunning: containersRunning,
		spawnsTotal:       spawnsTotal,
		outputsTotal:      outputsTotal,
		delegationsTotal:  delegationsTotal,
		queueDepth:        queueDepth,
	}
}

func (m *Metrics) ContainerStarted(role string) {
	if m == nil {
		return
	}
	m.containersRunning.Inc()
	m.spawnsTotal.WithLabelValues(role).Inc()
}

func (m *Metrics) ContainerExited() {
	if m == nil {
		return
	}
	m.containersRunning.Dec()
}

func (m *Metrics) OutputStreamed() {
	if m == nil {
		return
	}
	m.outputsTotal.Inc()
}

func (m *Metrics) Delegation(outcome string) {
	if m == nil {
		return
	}
	m.delegationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}
