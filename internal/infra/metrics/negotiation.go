package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		sessionsOpenedTotal,
		sessionsTerminalTotal,
		messagesTotal,
		transitionsRejectedTotal,
		versionConflictsTotal,
		rateLimitedTotal,
		cartHandoffsTotal,
	)
}

var (
	sessionsOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bargain_sessions_opened_total",
			Help: "Total number of negotiation sessions opened.",
		},
	)

	sessionsTerminalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bargain_sessions_terminal_total",
			Help: "Sessions that reached a terminal state, by status.",
		},
		[]string{"status"}, // 'accepted', 'rejected', 'closed'
	)

	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bargain_messages_total",
			Help: "Accepted negotiation messages, by kind.",
		},
		[]string{"kind"},
	)

	transitionsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bargain_transitions_rejected_total",
			Help: "Messages the negotiation engine refused.",
		},
	)

	versionConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bargain_version_conflicts_total",
			Help: "CAS writes lost to a concurrent transition.",
		},
	)

	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bargain_rate_limited_total",
			Help: "Messages dropped by the per-sender rate limit.",
		},
	)

	cartHandoffsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bargain_cart_handoffs_total",
			Help: "Accepted-price handoffs to the cart sink, by outcome.",
		},
		[]string{"outcome"}, // 'ok', 'retry_queued'
	)
)

func IncSessionOpened()                { sessionsOpenedTotal.Inc() }
func IncSessionTerminal(status string) { sessionsTerminalTotal.WithLabelValues(status).Inc() }
func IncMessage(kind string)           { messagesTotal.WithLabelValues(kind).Inc() }
func IncTransitionRejected()           { transitionsRejectedTotal.Inc() }
func IncVersionConflict()              { versionConflictsTotal.Inc() }
func IncRateLimited()                  { rateLimitedTotal.Inc() }
func IncCartHandoff(outcome string)    { cartHandoffsTotal.WithLabelValues(outcome).Inc() }
