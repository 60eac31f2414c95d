// Package metric defines the small counter/gauge interface the engine
// and HTTP facade report through, and a Prometheus-backed
// implementation of it.
package metric

import "net/http"

// Counter is a standard metric counter.
type Counter interface {
	Inc()
	Add(value float64)
}

// Gauge is a standard metric gauge.
type Gauge interface {
	Set(value float64)
}

type noop struct{}

func (c *noop) Inc()              {}
func (c *noop) Set(v float64)     {}
func (c *noop) Add(value float64) {}

// NoOpCounter is a Counter that does nothing, for callers that don't
// care about metrics.
func NoOpCounter() Counter { return &noop{} }

// NoOpGauge is a Gauge that does nothing.
func NoOpGauge() Gauge { return &noop{} }

// Collector is an interface for creating metrics, so the prometheus
// dependency stays confined to the prometheus subpackage.
type Collector interface {
	NewCounter(name, help string) Counter
	NewGauge(name, help string) Gauge
}

// HandlerProvider is optionally implemented by a Collector that can also
// serve its own metrics over HTTP (e.g. the prometheus subpackage). The
// facade falls back to a stub when a Collector doesn't implement it.
type HandlerProvider interface {
	Handler() http.Handler
}
