package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolConns) }

var dbPoolConns = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "bargain_db_pool_connections",
		Help: "Session-store pgx pool connections by state.",
	},
	[]string{"state"}, // 'total', 'idle', 'in_use'
)

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolConns.WithLabelValues("total").Set(float64(total))
	dbPoolConns.WithLabelValues("idle").Set(float64(idle))
	dbPoolConns.WithLabelValues("in_use").Set(float64(inUse))
}
