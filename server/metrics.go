package server

import (
	"net/http"

	"github.com/s1s5/diskcache-server/metric"
)

// Metrics holds the counters and gauges exposed at /-/metrics/.
type Metrics struct {
	Hits    metric.Counter
	Misses  metric.Counter
	Len     metric.Gauge
	Volume  metric.Gauge
	Handler http.Handler
}

// NewMetrics builds a Metrics from the given collector. If c also
// implements metric.HandlerProvider (the prometheus collector does),
// that handler serves /-/metrics/; otherwise the endpoint reports that
// metrics aren't available.
func NewMetrics(c metric.Collector) *Metrics {
	m := &Metrics{
		Hits:   c.NewCounter("cache_hits", "The total number of cache GET hits."),
		Misses: c.NewCounter("cache_misses", "The total number of cache GET misses."),
		Len:    c.NewGauge("cache_len", "The current number of entries in the cache."),
		Volume: c.NewGauge("cache_volume", "The current number of bytes stored in the cache."),
	}

	if hp, ok := c.(metric.HandlerProvider); ok {
		m.Handler = hp.Handler()
	} else {
		m.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not available", http.StatusNotImplemented)
		})
	}

	return m
}
