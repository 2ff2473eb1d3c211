package session

import "github.com/prometheus/client_golang/prometheus"

var (
	RoundsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rps_rounds_finished_total",
			Help: "Rounds that reached a result, by variant and outcome",
		},
		[]string{"variant", "outcome"},
	)
	LedgerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rps_ledger_failures_total",
			Help: "Failed ledger writes, by operation and reason",
		},
		[]string{"op", "reason"},
	)
	ProtocolViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rps_protocol_violations_total",
			Help: "Peer messages dropped as malformed or out of sequence",
		},
		[]string{"kind"},
	)
	TimeoutsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rps_deadlines_expired_total",
			Help: "Deadlines that expired, by the phase they guarded",
		},
		[]string{"phase"},
	)
)

func init() {
	prometheus.MustRegister(RoundsFinished, LedgerFailures, ProtocolViolations, TimeoutsFired)
}
