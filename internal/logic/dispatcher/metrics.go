package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSubmitted      = "submitted"
	outcomeExhausted      = "exhausted"
	outcomeResolveFailed  = "resolve_failed"
	outcomeAssembleFailed = "assemble_failed"
	outcomeCanceled       = "canceled"
)

// Metrics 所有方法对 nil 接收者安全
type Metrics struct {
	attempts *prometheus.CounterVec
	calls    *prometheus.CounterVec
	accepted prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "attempts_total",
			Help:      "Broadcast attempts by result and error kind.",
		}, []string{"result", "kind"}),
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "calls_total",
			Help:      "Dispatch calls by outcome.",
		}, []string{"outcome"}),
		accepted: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dispatcher",
			Name:      "accepted_attempts",
			Help:      "Accepted broadcast attempts per dispatch call.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
	}
}

func (m *Metrics) observeAttempt(kind ErrorKind, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.attempts.WithLabelValues("accepted", "").Inc()
		return
	}
	m.attempts.WithLabelValues("failed", kind.String()).Inc()
}

func (m *Metrics) observeCall(outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeAccepted(n int) {
	if m == nil {
		return
	}
	m.accepted.Observe(float64(n))
}
