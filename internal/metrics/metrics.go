package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mesh_relay"

// Drop reasons.
const (
	ReasonPeerNotFound = "peer_not_found"
	ReasonMalformed    = "malformed"
	ReasonNotJoined    = "not_joined"
	ReasonRateLimited  = "rate_limited"
	ReasonQueueFull    = "queue_full"
)

type Relay struct {
	registry    *prometheus.Registry
	connections prometheus.Gauge
	members     prometheus.Gauge
	forwarded   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
}

// NewRelay registers the relay collectors on a private registry. rooms is
// sampled at scrape time.
func NewRelay(rooms func() int) *Relay {
	m := &Relay{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open signaling connections",
		}),
		members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members",
			Help:      "Members registered across all rooms",
		}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwarded_total",
			Help:      "Signaling messages delivered to a member queue",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Signaling messages dropped by the relay",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		m.connections,
		m.members,
		m.forwarded,
		m.dropped,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member",
		}, func() float64 {
			if rooms == nil {
				return 0
			}
			return float64(rooms())
		}),
	)

	return m
}

func (m *Relay) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Relay) ConnectionOpened() { m.connections.Inc() }
func (m *Relay) ConnectionClosed() { m.connections.Dec() }
func (m *Relay) MemberJoined()     { m.members.Inc() }
func (m *Relay) MemberLeft()       { m.members.Dec() }

func (m *Relay) Forwarded(msgType string) {
	m.forwarded.WithLabelValues(msgType).Inc()
}

func (m *Relay) Dropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}
