package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		broadcastEventsTotal,
		broadcastDroppedTotal,
		broadcastErrorsTotal,
		roomSubscribers,
	)
}

var (
	broadcastEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bargain_broadcast_events_total",
			Help: "Events delivered to room subscribers.",
		},
	)

	broadcastDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bargain_broadcast_dropped_total",
			Help: "Events dropped because a subscriber lagged (best-effort fanout).",
		},
	)

	broadcastErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bargain_broadcast_errors_total",
			Help: "Publish calls that failed outright.",
		},
	)

	roomSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bargain_room_subscribers",
			Help: "Currently joined room connections.",
		},
	)
)

func AddBroadcastDelivered(n int) { broadcastEventsTotal.Add(float64(n)) }
func AddBroadcastDropped(n int)   { broadcastDroppedTotal.Add(float64(n)) }
func IncBroadcastError()          { broadcastErrorsTotal.Inc() }
func IncRoomSubscribers()         { roomSubscribers.Inc() }
func DecRoomSubscribers()         { roomSubscribers.Dec() }
