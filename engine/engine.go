// Package engine ties the blob store, the metadata index and the
// eviction policy together into the single-key get/put/delete API the
// HTTP facade serves.
package engine

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/s1s5/diskcache-server/cache"
	"github.com/s1s5/diskcache-server/config"
	"github.com/s1s5/diskcache-server/index"
)

// Headers is the subset of a stored value's headers the engine persists
// and plays back on GET.
type Headers struct {
	ContentType     string
	ContentEncoding string
	CacheControl    string
	Extra           map[string]string
}

// PutResult reports what actually got stored: its size and digest.
type PutResult struct {
	Size   int64
	Digest string
}

// GetResult is a previously stored value ready to be streamed back.
type GetResult struct {
	Body       io.ReadCloser
	Size       int64
	Digest     string
	Headers    Headers
	StoreTime  time.Time
	ExpireTime time.Time
}

// Engine is the cache's core: it has no knowledge of HTTP, only of
// keys, byte streams and expiry.
type Engine struct {
	cfg    *config.Config
	blobs  cache.BlobStore
	idx    *index.Index
	logger cache.Logger
}

// New returns an Engine wired to the given config, blob store and index.
func New(cfg *config.Config, blobs cache.BlobStore, idx *index.Index) *Engine {
	return &Engine{cfg: cfg, blobs: blobs, idx: idx, logger: cfg.ErrorLogger}
}

// Put stores r under key. declaredLength is the request's Content-Length
// if known, or -1 otherwise. expire is the absolute time the entry
// should stop being servable, or the zero Time for "never expire". The
// facade resolves default_expire and the x-diskcache-expire: 0
// convention before calling, so Put itself only ever sees "some
// absolute expiry" or "never".
func (e *Engine) Put(ctx context.Context, key string, declaredLength int64, r io.Reader, hdrs Headers, expire time.Time) (PutResult, error) {
	if key == "" {
		return PutResult{}, ErrInvalidRequest
	}

	if declaredLength >= 0 && e.cfg.ValueSizeLimit > 0 && declaredLength > e.cfg.ValueSizeLimit {
		return PutResult{}, cache.ErrSizeLimitExceeded
	}

	now := time.Now()

	existing, hadExisting, err := e.idx.Lookup(ctx, key, now)
	if err != nil {
		return PutResult{}, err
	}

	res, err := e.blobs.Store(key, declaredLength, r)
	if err != nil {
		if ctx.Err() != nil {
			return PutResult{}, ErrTimeout
		}
		return PutResult{}, err
	}

	entry := index.Entry{
		Key:             key,
		Mode:            res.Mode,
		Inline:          res.Inline,
		Filename:        res.Filename,
		Size:            res.Size,
		Digest:          res.Digest,
		ContentType:     hdrs.ContentType,
		ContentEncoding: hdrs.ContentEncoding,
		CacheControl:    hdrs.CacheControl,
		ExtraHeaders:    hdrs.Extra,
		ExpireTime:      expire,
		StoreTime:       now,
		AccessTime:      now,
	}

	evicted, err := e.idx.Upsert(ctx, entry, e.cfg.SizeLimit, e.cfg.CullLimit, e.cfg.EvictionPolicy)
	if err != nil {
		// The row never made it in; the freshly written blob is orphaned.
		e.unlinkIfFile(res.Mode, res.Filename)
		return PutResult{}, err
	}

	// The old row for this key (if there was one under a different
	// filename) was just overwritten in the index; its file is now
	// orphaned on disk.
	if hadExisting && existing.Mode == cache.File && existing.Filename != res.Filename {
		e.unlinkIfFile(existing.Mode, existing.Filename)
	}

	for _, v := range evicted {
		e.unlinkIfFile(v.Mode, v.Filename)
	}

	return PutResult{Size: res.Size, Digest: res.Digest}, nil
}

// Get returns the value stored under key. The returned Body must be
// closed by the caller.
func (e *Engine) Get(ctx context.Context, key string) (GetResult, error) {
	now := time.Now()

	entry, ok, err := e.idx.Lookup(ctx, key, now)
	if err != nil {
		return GetResult{}, err
	}
	if !ok {
		return GetResult{}, ErrNotFound
	}

	body, err := e.blobs.OpenReader(entry.Mode, entry.Filename, entry.Inline)
	if err != nil {
		return GetResult{}, err
	}

	if err := e.idx.Touch(ctx, key, now); err != nil {
		e.logger.Printf("failed to record access for %q: %v", key, err)
	}

	return GetResult{
		Body:   body,
		Size:   entry.Size,
		Digest: entry.Digest,
		Headers: Headers{
			ContentType:     entry.ContentType,
			ContentEncoding: entry.ContentEncoding,
			CacheControl:    entry.CacheControl,
			Extra:           entry.ExtraHeaders,
		},
		StoreTime:  entry.StoreTime,
		ExpireTime: entry.ExpireTime,
	}, nil
}

// Delete removes key, returning ErrNotFound if it didn't exist.
func (e *Engine) Delete(ctx context.Context, key string) error {
	entry, ok, err := e.idx.Delete(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	e.unlinkIfFile(entry.Mode, entry.Filename)
	return nil
}

// Clear removes every entry in the cache.
func (e *Engine) Clear(ctx context.Context) error {
	all, err := e.idx.Clear(ctx)
	if err != nil {
		return err
	}
	for _, entry := range all {
		e.unlinkIfFile(entry.Mode, entry.Filename)
	}
	return nil
}

// Sweep purges expired entries and unlinks their files. It is called
// periodically by the optional sweeper goroutine (see sweeper package)
// when sweep_interval is configured.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	expired, err := e.idx.PurgeExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	for _, entry := range expired {
		e.unlinkIfFile(entry.Mode, entry.Filename)
	}
	return len(expired), nil
}

// Volume returns the total number of bytes currently cached.
func (e *Engine) Volume(ctx context.Context) (int64, error) {
	return e.idx.Size(ctx)
}

// Len returns the number of entries currently cached.
func (e *Engine) Len(ctx context.Context) (int64, error) {
	return e.idx.Count(ctx)
}

// HealthCheck writes body under key, reads it back and deletes it,
// verifying the full put/get/delete path end to end.
func (e *Engine) HealthCheck(ctx context.Context, key string, body []byte) error {
	if _, err := e.Put(ctx, key, int64(len(body)), bytes.NewReader(body), Headers{}, time.Now().Add(time.Minute)); err != nil {
		return err
	}
	deleted := false
	defer func() {
		if !deleted {
			e.Delete(ctx, key)
		}
	}()

	got, err := e.Get(ctx, key)
	if err != nil {
		return err
	}
	defer got.Body.Close()

	read, err := io.ReadAll(got.Body)
	if err != nil {
		return err
	}
	if string(read) != string(body) {
		return ErrInvalidRequest
	}
	deleted = true
	return e.Delete(ctx, key)
}

func (e *Engine) unlinkIfFile(mode cache.Mode, filename string) {
	if mode != cache.File || filename == "" {
		return
	}
	if err := e.blobs.Unlink(filename); err != nil {
		e.logger.Printf("failed to unlink blob file %q: %v", filename, err)
	}
}
