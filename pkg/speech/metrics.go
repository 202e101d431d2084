package speech

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all Prometheus metrics related to the speech handler.
type Metrics struct {
	Requests    *prometheus.CounterVec
	Rejected    *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	QueueDepth  prometheus.Gauge
	Busy        prometheus.Gauge
}

// NewMetrics creates the handler metrics and registers them on registry.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robospeech_requests_total",
			Help: "Total number of finished speech jobs by kind and outcome",
		}, []string{"kind", "outcome"}),

		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robospeech_rejected_total",
			Help: "Total number of requests rejected before running, by reason",
		}, []string{"reason"}),

		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "robospeech_job_duration_seconds",
			Help:    "Duration of speech jobs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"kind"}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "robospeech_queue_depth",
			Help: "Number of jobs waiting in the queue",
		}),

		Busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "robospeech_busy",
			Help: "1 while a job is running, 0 when idle",
		}),
	}

	if registry != nil {
		if err := registry.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register speech metrics: %w", err)
		}
	}
	return m, nil
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.Requests.Describe(ch)
	m.Rejected.Describe(ch)
	m.JobDuration.Describe(ch)
	m.QueueDepth.Describe(ch)
	m.Busy.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.Requests.Collect(ch)
	m.Rejected.Collect(ch)
	m.JobDuration.Collect(ch)
	m.QueueDepth.Collect(ch)
	m.Busy.Collect(ch)
}

func (m *Metrics) observe(r Result) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !r.OK() {
		outcome = "error"
		if r.Error == ErrCancelled.Error() {
			outcome = "cancelled"
		}
	}
	m.Requests.WithLabelValues(string(r.Kind), outcome).Inc()
	if d := r.Duration(); d > 0 {
		m.JobDuration.WithLabelValues(string(r.Kind)).Observe(d.Seconds())
	}
}

func (m *Metrics) reject(reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) setQueue(depth int, busy bool) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
	if busy {
		m.Busy.Set(1)
	} else {
		m.Busy.Set(0)
	}
}
