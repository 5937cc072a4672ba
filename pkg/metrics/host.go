// Package metrics records rudp host metrics with prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Host records host metrics. It implements rudp.Metrics.
type Host struct {
	Datagrams  *prometheus.CounterVec
	Bytes      *prometheus.CounterVec
	PeerEvents *prometheus.CounterVec
	Peers      prometheus.Gauge
	RTT        prometheus.Summary
}

// NewHost constructs Host metrics named after service and registers them
// with reg.
func NewHost(reg prometheus.Registerer, service string) *Host {
	f := promauto.With(reg)
	return &Host{
		Datagrams: f.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_datagrams_total",
			Help: "The total number of datagrams by direction",
		}, []string{"direction"}),
		Bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_bytes_total",
			Help: "The total number of datagram bytes by direction",
		}, []string{"direction"}),
		PeerEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_peer_events_total",
			Help: "The total number of peer events by type",
		}, []string{"event"}),
		Peers: f.NewGauge(prometheus.GaugeOpts{
			Name: service + "_connected_peers",
			Help: "The number of connected peers",
		}),
		RTT: f.NewSummary(prometheus.SummaryOpts{
			Name:       service + "_round_trip_seconds",
			Help:       "Smoothed peer round trip times",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
	}
}

// DatagramSent records an outgoing datagram of n bytes.
func (m *Host) DatagramSent(n int) {
	m.Datagrams.WithLabelValues("out").Inc()
	m.Bytes.WithLabelValues("out").Add(float64(n))
}

// DatagramReceived records an incoming datagram of n bytes.
func (m *Host) DatagramReceived(n int) {
	m.Datagrams.WithLabelValues("in").Inc()
	m.Bytes.WithLabelValues("in").Add(float64(n))
}

// PeerEvent counts an event of the given kind.
func (m *Host) PeerEvent(kind string) {
	m.PeerEvents.WithLabelValues(kind).Inc()
}

// RoundTrip observes a round trip time sample.
func (m *Host) RoundTrip(rtt time.Duration) {
	m.RTT.Observe(rtt.Seconds())
}

// SetPeers sets the connected peers gauge.
func (m *Host) SetPeers(n int) {
	m.Peers.Set(float64(n))
}
