// Package prometheus wires diskcache-server's metrics onto
// client_golang/promauto, and wraps the cache's HTTP handlers with
// slok/go-http-metrics so every endpoint gets request duration and
// in-flight histograms for free.
package prometheus

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpmetrics "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	middlewarestd "github.com/slok/go-http-metrics/middleware/std"

	"github.com/s1s5/diskcache-server/metric"
)

// durationBuckets is the buckets used for Prometheus histograms in
// seconds.
var durationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

// NewCollector returns a prometheus-backed metric.Collector with its own
// registry, rather than registering against the global default
// registerer: diskcache-server's engine is constructed once at boot, but
// tests build many independent engines in the same process, and a
// private registry per collector keeps them from colliding on duplicate
// metric names.
func NewCollector() metric.Collector {
	reg := prometheus.NewRegistry()
	return &collector{
		reg:     reg,
		factory: promauto.With(reg),
	}
}

type collector struct {
	reg     *prometheus.Registry
	factory promauto.Factory
}

func (c *collector) NewCounter(name, help string) metric.Counter {
	return c.factory.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
}

func (c *collector) NewGauge(name, help string) metric.Gauge {
	return c.factory.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
}

// Handler implements the optional metric.HandlerProvider interface,
// letting the HTTP facade serve exactly the metrics this collector
// registered (and nothing from some other engine instance sharing the
// process).
// Compression is disabled here because the facade's /-/metrics/ handler
// gzips the response itself.
func (c *collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{DisableCompression: true})
}

var (
	mdlwOnce sync.Once
	mdlw     middleware.Middleware
)

// Middleware returns HTTP middleware that records per-endpoint request
// duration and in-flight counts for every request, labeled by handlerName.
// The underlying recorder registers on the default registerer once per
// process and is shared by every handler and facade.
func Middleware(handlerName string, h http.Handler) http.Handler {
	mdlwOnce.Do(func() {
		mdlw = middleware.New(middleware.Config{
			Recorder: httpmetrics.NewRecorder(httpmetrics.Config{
				DurationBuckets: durationBuckets,
			}),
		})
	})
	return middlewarestd.Handler(handlerName, mdlw, h)
}
