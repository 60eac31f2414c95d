package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

func (f *Facade) handleFlushAll(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if r.Method != http.MethodPost {
		f.errorResponse(w, r, http.StatusMethodNotAllowed, "method not supported")
		return
	}

	if err := f.eng.Clear(r.Context()); err != nil {
		f.errorLogger.Printf("flushall: %v", err)
		f.errorResponse(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
	f.logResponse(http.StatusOK, r)
}

func (f *Facade) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	key := "healthcheck-" + uuid.New().String()
	if err := f.eng.HealthCheck(ctx, key, []byte("diskcache-server healthcheck")); err != nil {
		f.errorLogger.Printf("healthcheck: %v", err)
		f.errorResponse(w, r, http.StatusInternalServerError, "healthcheck failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
	f.logResponse(http.StatusOK, r)
}

func (f *Facade) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if vol, err := f.eng.Volume(ctx); err == nil {
		f.metrics.Volume.Set(float64(vol))
	}
	if n, err := f.eng.Len(ctx); err == nil {
		f.metrics.Len.Set(float64(n))
	}

	handler := f.metrics.Handler

	if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		handler.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, gz: gz}, r)
		return
	}

	handler.ServeHTTP(w, r)
}

// gzipResponseWriter wraps an http.ResponseWriter so promhttp.Handler
// (which calls Write directly) ends up writing compressed output.
type gzipResponseWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.gz.Write(b)
}
