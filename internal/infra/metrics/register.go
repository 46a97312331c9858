package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once
	collectors   []prometheus.Collector
)

// register queues collectors from each file's init; nothing touches the
// default registry until MustRegister runs.
func register(cs ...prometheus.Collector) {
	collectors = append(collectors, cs...)
}

// MustRegister installs every queued collector exactly once. Call it from
// main before the /metrics endpoint is mounted.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(collectors...)
	})
}
