package index_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/s1s5/diskcache-server/cache"
	"github.com/s1s5/diskcache-server/eviction"
	"github.com/s1s5/diskcache-server/index"
)

func openTestIndex(t *testing.T) *index.Index {
	t.Helper()
	ix, err := index.Open(context.Background(), filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestUpsertAndLookup(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	e := index.Entry{
		Key:         "foo",
		Mode:        cache.Inline,
		Inline:      []byte("bar"),
		Size:        3,
		Digest:      "deadbeef",
		ContentType: "text/plain",
		StoreTime:   now,
		AccessTime:  now,
	}

	if _, err := ix.Upsert(ctx, e, 0, 10, eviction.LRS); err != nil {
		t.Fatal(err)
	}

	got, ok, err := ix.Lookup(ctx, "foo", now)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected entry to be found")
	}
	if string(got.Inline) != "bar" || got.ContentType != "text/plain" {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestLookupExpired(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	storeTime := time.Unix(1000, 0)
	expireTime := time.Unix(1010, 0)

	e := index.Entry{
		Key:        "foo",
		Mode:       cache.Inline,
		Inline:     []byte("x"),
		Size:       1,
		StoreTime:  storeTime,
		AccessTime: storeTime,
		ExpireTime: expireTime,
	}
	if _, err := ix.Upsert(ctx, e, 0, 10, eviction.LRS); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := ix.Lookup(ctx, "foo", time.Unix(1005, 0)); err != nil || !ok {
		t.Fatalf("expected entry to still be live, ok=%v err=%v", ok, err)
	}

	if _, ok, err := ix.Lookup(ctx, "foo", time.Unix(1020, 0)); err != nil || ok {
		t.Fatalf("expected entry to be expired, ok=%v err=%v", ok, err)
	}
}

func TestUpsertEvictsOverBudget(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	for i, key := range []string{"a", "b", "c"} {
		now := time.Unix(int64(1000+i), 0)
		e := index.Entry{
			Key:        key,
			Mode:       cache.Inline,
			Inline:     []byte("xxxxxxxxxx"), // 10 bytes
			Size:       10,
			StoreTime:  now,
			AccessTime: now,
		}
		if _, err := ix.Upsert(ctx, e, 20, 1, eviction.LRS); err != nil {
			t.Fatal(err)
		}
	}

	// Budget is 20 bytes, each entry is 10 bytes: only the two most
	// recently stored should survive.
	if _, ok, _ := ix.Lookup(ctx, "a", time.Unix(2000, 0)); ok {
		t.Fatal("expected oldest entry 'a' to have been evicted")
	}
	if _, ok, _ := ix.Lookup(ctx, "c", time.Unix(2000, 0)); !ok {
		t.Fatal("expected newest entry 'c' to still be present")
	}

	size, err := ix.Size(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if size > 20 {
		t.Fatalf("expected size <= 20, got %d", size)
	}
}

func TestDeleteAndClear(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	for _, key := range []string{"a", "b"} {
		e := index.Entry{Key: key, Mode: cache.Inline, Inline: []byte("v"), Size: 1, StoreTime: now, AccessTime: now}
		if _, err := ix.Upsert(ctx, e, 0, 10, eviction.LRS); err != nil {
			t.Fatal(err)
		}
	}

	deleted, ok, err := ix.Delete(ctx, "a")
	if err != nil || !ok || deleted.Key != "a" {
		t.Fatalf("unexpected delete result: ok=%v err=%v entry=%+v", ok, err, deleted)
	}

	if _, ok, _ := ix.Lookup(ctx, "a", now); ok {
		t.Fatal("expected 'a' to be gone")
	}

	all, err := ix.Clear(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Key != "b" {
		t.Fatalf("expected Clear to return the remaining 'b' entry, got %+v", all)
	}

	count, err := ix.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected empty index after Clear, got count=%d", count)
	}
}

func TestTouchUpdatesAccessStats(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	e := index.Entry{Key: "a", Mode: cache.Inline, Inline: []byte("v"), Size: 1, StoreTime: now, AccessTime: now}
	if _, err := ix.Upsert(ctx, e, 0, 10, eviction.LRS); err != nil {
		t.Fatal(err)
	}

	later := time.Unix(2000, 0)
	if err := ix.Touch(ctx, "a", later); err != nil {
		t.Fatal(err)
	}

	got, ok, err := ix.Lookup(ctx, "a", later)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.AccessCount != 1 {
		t.Fatalf("expected access_count 1, got %d", got.AccessCount)
	}
	if !got.AccessTime.Equal(later) {
		t.Fatalf("expected access_time %v, got %v", later, got.AccessTime)
	}
}

func TestUpsertRoundTripsExtraHeaders(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	extra := map[string]string{"x-custom-one": "a", "x-custom-two": "b"}
	e := index.Entry{
		Key:          "foo",
		Mode:         cache.Inline,
		Inline:       []byte("v"),
		Size:         1,
		StoreTime:    now,
		AccessTime:   now,
		ExtraHeaders: extra,
	}
	if _, err := ix.Upsert(ctx, e, 0, 10, eviction.LRS); err != nil {
		t.Fatal(err)
	}

	got, ok, err := ix.Lookup(ctx, "foo", now)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(extra, got.ExtraHeaders); diff != "" {
		t.Fatalf("extra headers did not round trip (-want +got):\n%s", diff)
	}
}

func TestPurgeExpired(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	live := index.Entry{Key: "live", Mode: cache.Inline, Inline: []byte("v"), Size: 1, StoreTime: now, AccessTime: now}
	expired := index.Entry{
		Key: "expired", Mode: cache.Inline, Inline: []byte("v"), Size: 1,
		StoreTime: now, AccessTime: now, ExpireTime: time.Unix(1001, 0),
	}
	for _, e := range []index.Entry{live, expired} {
		if _, err := ix.Upsert(ctx, e, 0, 10, eviction.LRS); err != nil {
			t.Fatal(err)
		}
	}

	purged, err := ix.PurgeExpired(ctx, time.Unix(2000, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(purged) != 1 || purged[0].Key != "expired" {
		t.Fatalf("unexpected purge result: %+v", purged)
	}

	count, err := ix.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", count)
	}
}
