package kernel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
)

// Metrics holds the dispatcher collectors. A nil *Metrics records nothing.
type Metrics struct {
	dispatched    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	forwards      *prometheus.CounterVec
	unprocessable *prometheus.CounterVec
}

// NewMetrics registers the dispatcher collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshbroker",
			Subsystem: "kernel",
			Name:      "dispatched_total",
			Help:      "Envelopes dispatched, by action, context and outcome.",
		}, []string{"action", "context", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "meshbroker",
			Subsystem: "kernel",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent validating and handling an envelope.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"action"}),
		forwards: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshbroker",
			Subsystem: "kernel",
			Name:      "forwarded_total",
			Help:      "Frames forwarded to peer sessions, by action.",
		}, []string{"action"}),
		unprocessable: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshbroker",
			Subsystem: "kernel",
			Name:      "unprocessable_total",
			Help:      "Frames that were not a JSON object.",
		}, []string{"context"}),
	}
}

func (m *Metrics) observe(action string, c envelope.Context, res *Response, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case res.Ack:
		outcome = "ack"
	case res.Failed:
		outcome = "failed"
	}
	label := actionLabel(action)
	m.dispatched.WithLabelValues(label, c.String(), outcome).Inc()
	m.duration.WithLabelValues(label).Observe(elapsed.Seconds())
}

func (m *Metrics) forwarded(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.forwards.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) observeUnprocessable(c envelope.Context) {
	if m == nil {
		return
	}
	m.unprocessable.WithLabelValues(c.String()).Inc()
}

// actionLabel keeps label cardinality bounded to the known verbs.
func actionLabel(action string) string {
	switch action {
	case envelope.ActionPing, envelope.ActionRegister, envelope.ActionSession,
		envelope.ActionJoin, envelope.ActionLeave, envelope.ActionSubscribe,
		envelope.ActionUnsubscribe, envelope.ActionIsSubscribed, envelope.ActionBroadcast,
		envelope.ActionPublish, envelope.ActionSend, envelope.ActionAck:
		return action
	case "":
		return "none"
	default:
		return "unimplemented"
	}
}
