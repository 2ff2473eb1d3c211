package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PeersWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_peers_waiting",
			Help: "Hosts registered and waiting for a guest",
		},
	)
	RoomsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_rooms_active",
			Help: "Paired peers currently relaying",
		},
	)
	Pairings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_pairings_total",
			Help: "Total host/guest pairings",
		},
	)
	JoinFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_join_failures_total",
			Help: "Joins refused by the hub",
		},
		[]string{"reason"},
	)
	FramesForwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_frames_forwarded_total",
			Help: "Peer frames written to the other side of a room",
		},
	)
)

func init() {
	prometheus.MustRegister(PeersWaiting)
	prometheus.MustRegister(RoomsActive)
	prometheus.MustRegister(Pairings)
	prometheus.MustRegister(JoinFailures)
	prometheus.MustRegister(FramesForwarded)
}
