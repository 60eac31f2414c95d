package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/s1s5/diskcache-server/cache"
	"github.com/s1s5/diskcache-server/engine"
)

// expireHeader is read on PUT to override default_expire; a value of 0
// is the "never expire" sentinel.
const expireHeader = "x-diskcache-expire"

func (f *Facade) resolveExpire(r *http.Request) (time.Time, error) {
	v := r.Header.Get(expireHeader)
	if v == "" {
		if f.cfg.DefaultExpire <= 0 {
			return time.Time{}, nil
		}
		return time.Now().Add(f.cfg.DefaultExpire), nil
	}

	seconds, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if seconds <= 0 {
		return time.Time{}, nil
	}
	return time.Now().Add(time.Duration(seconds) * time.Second), nil
}

func (f *Facade) handlePut(w http.ResponseWriter, r *http.Request, key string) {
	expire, err := f.resolveExpire(r)
	if err != nil {
		f.errorResponse(w, r, http.StatusBadRequest, "invalid "+expireHeader)
		return
	}

	hdrs := engine.Headers{
		ContentType:     r.Header.Get("Content-Type"),
		ContentEncoding: r.Header.Get("Content-Encoding"),
		CacheControl:    r.Header.Get("x-set-cache-control"),
	}

	declaredLength := r.ContentLength // -1 if unknown

	_, err = f.eng.Put(r.Context(), key, declaredLength, r.Body, hdrs, expire)
	if err != nil {
		switch {
		case errors.Is(err, cache.ErrSizeLimitExceeded):
			f.errorResponse(w, r, http.StatusBadRequest, "size limit exceeded")
		case errors.Is(err, cache.ErrSizeMismatch):
			f.errorResponse(w, r, http.StatusBadRequest, "content-length different")
		case errors.Is(err, engine.ErrInvalidRequest):
			f.errorResponse(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, engine.ErrTimeout):
			f.errorResponse(w, r, http.StatusServiceUnavailable, "request timed out")
		default:
			f.errorLogger.Printf("PUT %s: %v", key, err)
			f.errorResponse(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	f.logResponse(http.StatusOK, r)
}

func (f *Facade) handleGet(w http.ResponseWriter, r *http.Request, key string) {
	res, err := f.eng.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			f.metrics.Misses.Inc()
			f.errorResponse(w, r, http.StatusNotFound, "not found")
			return
		}
		f.errorLogger.Printf("GET %s: %v", key, err)
		f.errorResponse(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	defer res.Body.Close()

	f.metrics.Hits.Inc()

	h := w.Header()
	if res.Headers.ContentType != "" {
		h.Set("Content-Type", res.Headers.ContentType)
	}
	if res.Headers.ContentEncoding != "" {
		h.Set("Content-Encoding", res.Headers.ContentEncoding)
	}
	if res.Headers.CacheControl != "" {
		h.Set("Cache-Control", res.Headers.CacheControl)
	}
	h.Set("Last-Modified", res.StoreTime.UTC().Format(http.TimeFormat))
	h.Set("Etag", res.Digest)
	if !res.ExpireTime.IsZero() {
		h.Set("Expire", res.ExpireTime.UTC().Format(http.TimeFormat))
	}

	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == res.Digest {
		w.WriteHeader(http.StatusNotModified)
		f.logResponse(http.StatusNotModified, r)
		return
	}

	h.Set("Content-Length", strconv.FormatInt(res.Size, 10))
	w.WriteHeader(http.StatusOK)

	buf := make([]byte, cache.ChunkSize)
	if _, err := io.CopyBuffer(w, res.Body, buf); err != nil {
		f.errorLogger.Printf("GET %s: error streaming response: %v", key, err)
		return
	}

	f.logResponse(http.StatusOK, r)
}

func (f *Facade) handleDelete(w http.ResponseWriter, r *http.Request, key string) {
	err := f.eng.Delete(r.Context(), key)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			f.errorResponse(w, r, http.StatusNotFound, "not found")
			return
		}
		f.errorLogger.Printf("DELETE %s: %v", key, err)
		f.errorResponse(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusOK)
	f.logResponse(http.StatusOK, r)
}
