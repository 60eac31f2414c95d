// Package index is the durable metadata store behind diskcache-server:
// one row per cached key, tracking where its bytes live, when it
// expires, and the access statistics the eviction policies scan over.
// It is backed by SQLite in WAL mode (see sqlite.go) so a crash never
// loses more than the last few uncommitted writes.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/s1s5/diskcache-server/cache"
	"github.com/s1s5/diskcache-server/eviction"
)

// Entry is a materialized row of the entries table.
type Entry struct {
	Key             string
	Mode            cache.Mode
	Inline          []byte
	Filename        string
	Size            int64
	Digest          string
	ContentType     string
	ContentEncoding string
	CacheControl    string
	ExtraHeaders    map[string]string
	ExpireTime      time.Time // zero value means "never expires"
	StoreTime       time.Time
	AccessTime      time.Time
	AccessCount     int64
}

func (e Entry) tagHeaderSet() headerSet {
	return headerSet{
		ContentType:     e.ContentType,
		ContentEncoding: e.ContentEncoding,
		CacheControl:    e.CacheControl,
		Extra:           e.ExtraHeaders,
	}
}

// Index owns the single SQLite connection backing the metadata store.
// Writes are serialized by database/sql's pool (capped at one open
// connection), which keeps the upsert-then-evict transaction simple to
// reason about without a separate in-process lock.
type Index struct {
	db *sql.DB
}

// Open opens (creating if necessary) the index database at path.
func Open(ctx context.Context, path string) (*Index, error) {
	db, err := openSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func scanEntry(row interface{ Scan(...any) error }) (Entry, error) {
	var (
		e        Entry
		mode     int
		tag      []byte
		expireNs int64
		storeNs  int64
		accessNs int64
	)

	if err := row.Scan(&e.Key, &mode, &e.Inline, &e.Filename, &e.Size, &e.Digest,
		&tag, &expireNs, &storeNs, &accessNs, &e.AccessCount); err != nil {
		return Entry{}, err
	}

	e.Mode = cache.Mode(mode)
	e.ExpireTime = fromUnixNano(expireNs)
	e.StoreTime = fromUnixNano(storeNs)
	e.AccessTime = fromUnixNano(accessNs)

	hs, err := decodeTag(tag)
	if err != nil {
		return Entry{}, err
	}
	e.ContentType = hs.ContentType
	e.ContentEncoding = hs.ContentEncoding
	e.CacheControl = hs.CacheControl
	e.ExtraHeaders = hs.Extra

	return e, nil
}

const selectColumns = `key, mode, inline_value, filename, size, digest, tag, expire_time, store_time, access_time, access_count`

// Lookup returns the entry for key, and false if there is no such entry
// (including one that has expired — callers that want expired-but-not-
// yet-swept entries treated as a miss should call Lookup, not query the
// table directly).
func (ix *Index) Lookup(ctx context.Context, key string, now time.Time) (Entry, bool, error) {
	row := ix.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM entries WHERE key = ?`, key)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup %q: %w", key, err)
	}

	if !e.ExpireTime.IsZero() && !e.ExpireTime.After(now) {
		return Entry{}, false, nil
	}

	return e, true, nil
}

// Touch bumps access_time and access_count for key, used after a
// successful GET so the LRU/LFU eviction policies can see it.
func (ix *Index) Touch(ctx context.Context, key string, now time.Time) error {
	_, err := ix.db.ExecContext(ctx,
		`UPDATE entries SET access_time = ?, access_count = access_count + 1 WHERE key = ?`,
		now.UnixNano(), key)
	if err != nil {
		return fmt.Errorf("touch %q: %w", key, err)
	}
	return nil
}

// Upsert inserts or replaces the row for e.Key, then evicts victims
// (per policy) until the index's total size is at or under sizeLimit or
// cullLimit victims have been removed, whichever comes first; an index
// still over budget after cullLimit evictions stays over budget until a
// later mutation. Both the write and the eviction scan happen in one
// transaction. The evicted entries are returned so the caller can unlink
// their backing files — the index itself never touches the blob store.
func (ix *Index) Upsert(ctx context.Context, e Entry, sizeLimit int64, cullLimit int, policy eviction.Policy) ([]Entry, error) {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin upsert txn: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	tag, err := encodeTag(e.tagHeaderSet())
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (key, mode, inline_value, filename, size, digest, tag, expire_time, store_time, access_time, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET
			mode = excluded.mode,
			inline_value = excluded.inline_value,
			filename = excluded.filename,
			size = excluded.size,
			digest = excluded.digest,
			tag = excluded.tag,
			expire_time = excluded.expire_time,
			store_time = excluded.store_time,
			access_time = excluded.access_time,
			access_count = 0
	`, e.Key, int(e.Mode), e.Inline, e.Filename, e.Size, e.Digest, tag,
		unixNano(e.ExpireTime), unixNano(e.StoreTime), unixNano(e.AccessTime))
	if err != nil {
		return nil, fmt.Errorf("upsert %q: %w", e.Key, err)
	}

	// The old row for this key (if any) had a different filename or
	// mode; ON CONFLICT DO UPDATE already overwrote it in the index, but
	// if it was file-mode under a *different* filename than the new
	// entry, that old file is now orphaned. The caller's previous
	// Lookup result (if it did one before calling Upsert) is responsible
	// for unlinking it; Upsert only manages eviction victims below.

	var evicted []Entry
	if sizeLimit > 0 {
		evicted, err = evictLocked(ctx, tx, sizeLimit, cullLimit, policy)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upsert txn: %w", err)
	}
	committed = true

	return evicted, nil
}

func evictLocked(ctx context.Context, tx *sql.Tx, sizeLimit int64, cullLimit int, policy eviction.Policy) ([]Entry, error) {
	var evicted []Entry

	for {
		remaining := cullLimit - len(evicted)
		if remaining <= 0 {
			// Hit the per-mutation victim budget; any leftover
			// over-budget volume is left for the next mutation's sweep.
			return evicted, nil
		}

		var total int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM entries`).Scan(&total); err != nil {
			return nil, fmt.Errorf("sum size: %w", err)
		}
		if total <= sizeLimit {
			return evicted, nil
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT `+selectColumns+` FROM entries ORDER BY `+policy.OrderBy()+` LIMIT ?`, remaining)
		if err != nil {
			return nil, fmt.Errorf("scan for victims: %w", err)
		}

		var victims []Entry
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan victim: %w", err)
			}
			victims = append(victims, e)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		if len(victims) == 0 {
			// Size budget still exceeded but nothing left to evict
			// (e.g. cullLimit outpaced by growth elsewhere); stop so we
			// don't spin forever.
			return evicted, nil
		}

		for _, v := range victims {
			if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, v.Key); err != nil {
				return nil, fmt.Errorf("delete victim %q: %w", v.Key, err)
			}
			evicted = append(evicted, v)
		}
	}
}

// Delete removes the entry for key, returning it (so the caller can
// unlink its file) and whether it existed.
func (ix *Index) Delete(ctx context.Context, key string) (Entry, bool, error) {
	row := ix.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM entries WHERE key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup for delete %q: %w", key, err)
	}

	if _, err := ix.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return Entry{}, false, fmt.Errorf("delete %q: %w", key, err)
	}

	return e, true, nil
}

// Clear removes every entry and returns them all, so the caller can
// unlink every file-mode entry's backing file.
func (ix *Index) Clear(ctx context.Context) ([]Entry, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("scan all for clear: %w", err)
	}

	var all []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		all = append(all, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := ix.db.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return nil, fmt.Errorf("clear entries: %w", err)
	}

	return all, nil
}

// PurgeExpired deletes every entry whose expire_time is non-zero and at
// or before now, returning them so the caller can unlink their files.
// This backs the optional periodic sweeper (SPEC_FULL.md [ENGINE]).
func (ix *Index) PurgeExpired(ctx context.Context, now time.Time) ([]Entry, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM entries WHERE expire_time > 0 AND expire_time <= ?`, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("scan expired: %w", err)
	}

	var expired []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(expired) > 0 {
		if _, err := ix.db.ExecContext(ctx,
			`DELETE FROM entries WHERE expire_time > 0 AND expire_time <= ?`, now.UnixNano()); err != nil {
			return nil, fmt.Errorf("delete expired: %w", err)
		}
	}

	return expired, nil
}

// Size returns the sum of every entry's size, in bytes.
func (ix *Index) Size(ctx context.Context) (int64, error) {
	var total int64
	if err := ix.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM entries`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum size: %w", err)
	}
	return total, nil
}

// Count returns the number of entries currently in the index.
func (ix *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// AllFilenames returns the filename of every file-mode entry, used at
// startup to find orphaned blob files left behind by a crash between a
// file being written and its index row being committed.
func (ix *Index) AllFilenames(ctx context.Context) (map[string]bool, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT filename FROM entries WHERE mode = ?`, int(cache.File))
	if err != nil {
		return nil, fmt.Errorf("scan filenames: %w", err)
	}
	defer rows.Close()

	names := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = true
	}

	return names, rows.Err()
}
