// Package server is the HTTP facade: it maps verbs and paths onto
// engine.Engine operations, and owns nothing about storage itself.
package server

import (
	"net"
	"net/http"
	"strings"

	"github.com/s1s5/diskcache-server/cache"
	"github.com/s1s5/diskcache-server/config"
	"github.com/s1s5/diskcache-server/engine"
	httpmetrics "github.com/s1s5/diskcache-server/metric/prometheus"
)

// reservedPrefix is the URL prefix management endpoints live under;
// clients may never use it as (or as part of) a data key.
const reservedPrefix = "/-/"

// Facade is the HTTP entry point for diskcache-server.
type Facade struct {
	eng          *engine.Engine
	cfg          *config.Config
	metrics      *Metrics
	accessLogger cache.Logger
	errorLogger  cache.Logger
}

// New returns a Facade ready to be mounted with Handler().
func New(cfg *config.Config, eng *engine.Engine, metrics *Metrics) *Facade {
	return &Facade{
		eng:          eng,
		cfg:          cfg,
		metrics:      metrics,
		accessLogger: cfg.AccessLogger,
		errorLogger:  cfg.ErrorLogger,
	}
}

// Handler builds the complete mux, with every route wrapped in the
// per-endpoint Prometheus middleware.
func (f *Facade) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/-/flushall/", httpmetrics.Middleware("flushall", http.HandlerFunc(f.handleFlushAll)))
	mux.Handle("/-/healthcheck/", httpmetrics.Middleware("healthcheck", http.HandlerFunc(f.handleHealthCheck)))
	mux.Handle("/-/metrics/", httpmetrics.Middleware("metrics", http.HandlerFunc(f.handleMetrics)))
	mux.Handle("/", httpmetrics.Middleware("data", f.dataHandler()))

	return mux
}

// dataHandler bounds PUT body ingestion by RequestTimeout, leaving GET
// and DELETE unwrapped. http.TimeoutHandler buffers the entire response
// body in memory and only flushes it once the handler returns, which is
// fine for PUT's empty-bodied response but would defeat GET's streaming
// reply for values up to value_size_limit.
func (f *Facade) dataHandler() http.Handler {
	plain := http.HandlerFunc(f.handleData)
	if f.cfg.RequestTimeout <= 0 {
		return plain
	}

	timed := http.TimeoutHandler(plain, f.cfg.RequestTimeout, "request timed out")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			timed.ServeHTTP(w, r)
			return
		}
		plain.ServeHTTP(w, r)
	})
}

// handleData implements PUT/GET/DELETE on /{name:path}.
func (f *Facade) handleData(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if strings.HasPrefix(r.URL.Path, reservedPrefix) {
		f.errorResponse(w, r, http.StatusBadRequest, "reserved path prefix")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/")
	if key == "" {
		f.errorResponse(w, r, http.StatusBadRequest, "missing key")
		return
	}

	switch r.Method {
	case http.MethodPut:
		f.handlePut(w, r, key)
	case http.MethodGet:
		f.handleGet(w, r, key)
	case http.MethodDelete:
		f.handleDelete(w, r, key)
	default:
		f.errorResponse(w, r, http.StatusMethodNotAllowed, "method not supported")
	}
}

func (f *Facade) errorResponse(w http.ResponseWriter, r *http.Request, code int, msg string) {
	http.Error(w, msg, code)
	f.logResponse(code, r)
}

func (f *Facade) logResponse(code int, r *http.Request) {
	clientAddress, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		clientAddress = r.RemoteAddr
	}
	f.accessLogger.Printf("%4s %d %15s %s", r.Method, code, clientAddress, r.URL.Path)
}
