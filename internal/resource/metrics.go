package resource

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "graylogic_mbus"

// Metrics exports resource lifecycle counters to Prometheus. It is a
// Notifier; chain it into the registry's notifier.
type Metrics struct {
	created  *prometheus.CounterVec
	finished *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "resources_created_total",
			Help:      "Temporary resources created, by type.",
		}, []string{"type"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "resources_finished_total",
			Help:      "Temporary resources that reached a terminal status.",
		}, []string{"type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "resource_duration_seconds",
			Help:      "Time from creation to terminal status.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"type", "status"}),
	}

	for _, c := range []prometheus.Collector{m.created, m.finished, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Notify updates counters from a resource event.
func (m *Metrics) Notify(e Event) {
	switch e.Kind {
	case EventCreated:
		m.created.WithLabelValues(e.ResourceType).Inc()
	case EventFinished:
		status := string(e.Status)
		m.finished.WithLabelValues(e.ResourceType, status).Inc()
		if !e.CompletedAt.IsZero() {
			m.duration.WithLabelValues(e.ResourceType, status).
				Observe(e.CompletedAt.Sub(e.CreatedAt).Seconds())
		}
	}
}

// statusCounter is the part of Registry the gauge collector needs.
type statusCounter interface {
	CountByStatus() map[Status]int
}

type registryCollector struct {
	desc   *prometheus.Desc
	source statusCounter
}

// NewRegistryCollector returns a collector reporting how many resources a
// registry currently holds per status.
func NewRegistryCollector(source statusCounter) prometheus.Collector {
	return &registryCollector{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "resources"),
			"Temporary resources currently held, by status.",
			[]string{"status"}, nil,
		),
		source: source,
	}
}

func (c *registryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *registryCollector) Collect(ch chan<- prometheus.Metric) {
	for status, n := range c.source.CountByStatus() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), string(status))
	}
}
