package callbacks

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"k8s.io/examples/AI/trainloop/pkg/graph"
	"k8s.io/examples/AI/trainloop/pkg/runner"
)

// Metrics exports loop progress to prometheus.
type Metrics struct {
	runner.BaseCallback

	mode string

	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	outputs      *prometheus.GaugeVec

	stepStarted time.Time
	now         func() time.Time
}

func NewMetrics(reg prometheus.Registerer, mode runner.Mode) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		mode: mode.String(),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainloop",
			Name:      "steps_total",
			Help:      "Loop steps executed.",
		}, []string{"mode"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trainloop",
			Name:      "step_duration_seconds",
			Help:      "Wall time from before_step to after_step.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"mode"}),
		outputs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trainloop",
			Name:      "output",
			Help:      "Last value of each scalar step output.",
		}, []string{"mode", "name"}),
		now: time.Now,
	}
}

func (m *Metrics) BeforeStep(ctx context.Context, sess *graph.Session) error {
	m.stepStarted = m.now()
	return nil
}

func (m *Metrics) AfterStep(ctx context.Context, sess *graph.Session, outputs runner.Outputs, saver runner.Saver, summary runner.SummaryWriter, feeds graph.Feeds) (map[string]string, error) {
	m.steps.WithLabelValues(m.mode).Inc()
	m.stepDuration.WithLabelValues(m.mode).Observe(m.now().Sub(m.stepStarted).Seconds())
	for name := range outputs {
		if v, ok := outputs.Scalar(name); ok {
			m.outputs.WithLabelValues(m.mode, name).Set(float64(v))
		}
	}
	return nil, nil
}
