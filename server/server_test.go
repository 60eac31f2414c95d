package server_test

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/s1s5/diskcache-server/cache"
	"github.com/s1s5/diskcache-server/config"
	"github.com/s1s5/diskcache-server/engine"
	"github.com/s1s5/diskcache-server/index"
	httpmetrics "github.com/s1s5/diskcache-server/metric/prometheus"
	"github.com/s1s5/diskcache-server/server"
	"github.com/s1s5/diskcache-server/utils/testutils"
)

func newTestServer(t *testing.T, sizeLimit, inlineThreshold int64) *httptest.Server {
	return newTestServerWithValueLimit(t, sizeLimit, inlineThreshold, 1<<20)
}

func newTestServerWithValueLimit(t *testing.T, sizeLimit, inlineThreshold, valueSizeLimit int64) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	cfg, err := config.New(dir, sizeLimit, inlineThreshold, valueSizeLimit, 24*time.Hour, time.Second, 0, 10,
		"least-recently-stored", ":0", "", "none", false)
	if err != nil {
		t.Fatal(err)
	}
	cfg.ErrorLogger = testutils.NewSilentLogger()

	blobs, err := cache.NewFSBlobStore(dir, cfg.InlineThreshold, cfg.ValueSizeLimit)
	if err != nil {
		t.Fatal(err)
	}

	idx, err := index.Open(context.Background(), filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })

	eng := engine.New(cfg, blobs, idx)
	// Each server gets its own prometheus collector, and so its own
	// registry (see metric/prometheus.NewCollector) — safe to construct
	// repeatedly in one test binary without duplicate-registration
	// panics.
	facade := server.New(cfg, eng, server.NewMetrics(httpmetrics.NewCollector()))

	ts := httptest.NewServer(facade.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestBasicRoundTrip(t *testing.T) {
	ts := newTestServer(t, 1<<20, 1<<20)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/data", strings.NewReader("hello world"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT: expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/data")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET: expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello world" {
		t.Fatalf("got body %q", body)
	}

	wantEtag := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if resp.Header.Get("Etag") != wantEtag {
		t.Fatalf("expected Etag %q, got %q", wantEtag, resp.Header.Get("Etag"))
	}
	if resp.Header.Get("Content-Length") != "11" {
		t.Fatalf("expected Content-Length 11, got %q", resp.Header.Get("Content-Length"))
	}
}

func TestConditionalGet(t *testing.T) {
	ts := newTestServer(t, 1<<20, 1<<20)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/data", strings.NewReader("hello world"))
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/data", nil)
	req.Header.Set("If-None-Match", "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", resp.StatusCode)
	}
}

func TestHeaderPassthrough(t *testing.T) {
	ts := newTestServer(t, 1<<20, 1<<20)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/doc", strings.NewReader("body"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("x-set-cache-control", "public, must-revalidate, proxy-revalidate")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT: expected 200, got %d", resp.StatusCode)
	}

	// Setting Accept-Encoding explicitly stops the client transport from
	// transparently decompressing the body and dropping Content-Encoding.
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/doc", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "text/plain" {
		t.Fatalf("expected Content-Type echoed, got %q", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected Content-Encoding echoed, got %q", resp.Header.Get("Content-Encoding"))
	}
	if resp.Header.Get("Cache-Control") != "public, must-revalidate, proxy-revalidate" {
		t.Fatalf("expected Cache-Control echoed, got %q", resp.Header.Get("Cache-Control"))
	}
}

func TestInlineVsFileBoundary(t *testing.T) {
	ts := newTestServer(t, 1<<20, 1) // inline_threshold = 1

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/small", strings.NewReader("x"))
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	big := strings.Repeat("y", 4096)
	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/big", strings.NewReader(big))
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/big", nil)
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE: expected 200, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/big")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestSizeLimitEviction(t *testing.T) {
	ts := newTestServer(t, 3, 1<<20)

	for _, kv := range []struct{ key, val string }{
		{"a", "AA"}, {"b", "BB"}, {"c", "CC"},
	} {
		req, _ := http.NewRequest(http.MethodPut, ts.URL+"/"+kv.key, strings.NewReader(kv.val))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}

	resp, _ := http.Get(ts.URL + "/a")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected oldest entry 'a' to be evicted, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/c")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected newest entry 'c' to survive, got %d", resp.StatusCode)
	}
}

func TestOversizedValueRejected(t *testing.T) {
	ts := newTestServerWithValueLimit(t, 1<<20, 1<<20, 10)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/big", strings.NewReader(strings.Repeat("z", 11)))
	req.ContentLength = 11
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized value, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/big")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for never-stored key, got %d", resp.StatusCode)
	}
}

func TestReservedPrefixRejected(t *testing.T) {
	ts := newTestServer(t, 1<<20, 1<<20)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/-/not-a-real-key", strings.NewReader("x"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for reserved prefix PUT, got %d", resp.StatusCode)
	}
}

func TestFlushAllAndHealthCheck(t *testing.T) {
	ts := newTestServer(t, 1<<20, 1<<20)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/data", strings.NewReader("x"))
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/-/healthcheck/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthcheck: expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/-/flushall/", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("flushall: expected 200, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/data")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after flushall, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpointGzip(t *testing.T) {
	ts := newTestServer(t, 1<<20, 1<<20)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/-/metrics/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip Content-Encoding, got %q", resp.Header.Get("Content-Encoding"))
	}

	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()

	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "cache_hits") {
		t.Fatalf("expected metrics body to mention cache_hits, got %q", body)
	}
}
