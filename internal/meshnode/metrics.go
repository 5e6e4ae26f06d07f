package meshnode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/registry"
)

// Metrics holds the node collectors. A nil *Metrics records nothing.
type Metrics struct {
	connections *prometheus.CounterVec
	active      *prometheus.GaugeVec
	frames      *prometheus.CounterVec
}

// NewMetrics registers the node collectors on reg. Registry sizes are read
// from state at scrape time.
func NewMetrics(reg prometheus.Registerer, state *registry.State) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		connections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshbroker",
			Subsystem: "node",
			Name:      "connections_total",
			Help:      "Accepted connections, by kind.",
		}, []string{"kind"}),
		active: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meshbroker",
			Subsystem: "node",
			Name:      "connections_active",
			Help:      "Open accepted connections, by kind.",
		}, []string{"kind"}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshbroker",
			Subsystem: "node",
			Name:      "frames_received_total",
			Help:      "Frames read from client sockets.",
		}, []string{"kind"}),
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "meshbroker",
		Subsystem: "registry",
		Name:      "sessions",
		Help:      "Peer sessions in the registry.",
	}, func() float64 {
		sessions, _, _ := state.Counts()
		return float64(sessions)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "meshbroker",
		Subsystem: "registry",
		Name:      "clients",
		Help:      "Local and mirrored clients in the registry.",
	}, func() float64 {
		_, clients, _ := state.Counts()
		return float64(clients)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "meshbroker",
		Subsystem: "registry",
		Name:      "subscriptions",
		Help:      "Subscription rows in the registry.",
	}, func() float64 {
		_, _, subscriptions := state.Counts()
		return float64(subscriptions)
	})
	return m
}

func (m *Metrics) connectionOpened(kind string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(kind).Inc()
	m.active.WithLabelValues(kind).Inc()
}

func (m *Metrics) connectionClosed(kind string) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(kind).Dec()
}

func (m *Metrics) frameReceived(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}
