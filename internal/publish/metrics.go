package publish

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts publish outcomes on a private registry. It implements
// writer.Observer.
type Metrics struct {
	Registry *prometheus.Registry

	processed prometheus.Counter
	written   *prometheus.CounterVec
	failures  *prometheus.CounterVec
	skipped   *prometheus.CounterVec
	duration  prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphsite",
			Name:      "resources_processed_total",
			Help:      "Resources whose data file was written.",
		}),
		written: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphsite",
			Name:      "written_total",
			Help:      "Files written, by artifact (data, page, dump, overview).",
		}, []string{"artifact"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphsite",
			Name:      "failures_total",
			Help:      "Artifacts that could not be written, by artifact.",
		}, []string{"artifact"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphsite",
			Name:      "skipped_total",
			Help:      "Resources skipped, by reason (unmappable, filtered).",
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "graphsite",
			Name:      "publish_duration_seconds",
			Help:      "Wall time of a publish run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	m.Registry.MustRegister(m.processed, m.written, m.failures, m.skipped, m.duration)
	return m
}

func (m *Metrics) Processed()              { m.processed.Inc() }
func (m *Metrics) Written(artifact string) { m.written.WithLabelValues(artifact).Inc() }
func (m *Metrics) Skipped(reason string)   { m.skipped.WithLabelValues(reason).Inc() }
func (m *Metrics) Failed(artifact string)  { m.failures.WithLabelValues(artifact).Inc() }

func (m *Metrics) observeRun(d time.Duration) { m.duration.Observe(d.Seconds()) }

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
