package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/s1s5/diskcache-server/utils/tempfile"
)

// FSBlobStore is the filesystem-backed BlobStore. Values small enough to
// fit under the configured inline threshold are returned to the caller
// as plain []byte (for the index to embed in its own row); everything
// else is written to a file, hash-sharded two hex levels deep, as
// described below.
type FSBlobStore struct {
	dir             string
	inlineThreshold int64
	valueSizeLimit  int64
	tfc             *tempfile.Creator
}

// NewFSBlobStore returns a blob store rooted at dir/blobs. The directory
// is created if it doesn't already exist.
func NewFSBlobStore(dir string, inlineThreshold, valueSizeLimit int64) (*FSBlobStore, error) {
	blobsDir := filepath.Join(dir, "blobs")
	if err := os.MkdirAll(blobsDir, 0775); err != nil {
		return nil, fmt.Errorf("failed to create blob directory %q: %w", blobsDir, err)
	}

	return &FSBlobStore{
		dir:             dir,
		inlineThreshold: inlineThreshold,
		valueSizeLimit:  valueSizeLimit,
		tfc:             tempfile.NewCreator(),
	}, nil
}

func (s *FSBlobStore) blobsDir() string {
	return filepath.Join(s.dir, "blobs")
}

// shardBase returns the shard directory (two hex levels of sha256(key))
// and the unprefixed hex digest, without any unique suffix.
func shardBase(key string) (shardDir, digest string) {
	sum := sha256.Sum256([]byte(key))
	digest = hex.EncodeToString(sum[:])
	return filepath.Join(digest[0:2], digest[2:4]), digest
}

// Store implements BlobStore.
func (s *FSBlobStore) Store(key string, declaredLength int64, r io.Reader) (StoreResult, error) {
	if declaredLength >= 0 && declaredLength < s.inlineThreshold {
		return s.storeInline(declaredLength, r)
	}
	return s.storeFile(key, declaredLength, r)
}

func (s *FSBlobStore) storeInline(declaredLength int64, r io.Reader) (StoreResult, error) {
	hasher := sha256.New()
	buf := bytes.NewBuffer(make([]byte, 0, declaredLength))

	n, err := s.copyChunked(io.MultiWriter(buf, hasher), r)
	if err != nil {
		return StoreResult{}, err
	}
	if n != declaredLength {
		return StoreResult{}, ErrSizeMismatch
	}

	b := buf.Bytes()
	return StoreResult{
		Size:   n,
		Mode:   Inline,
		Inline: b,
		Digest: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func (s *FSBlobStore) storeFile(key string, declaredLength int64, r io.Reader) (StoreResult, error) {
	shardDir, digest := shardBase(key)
	fullShardDir := filepath.Join(s.blobsDir(), shardDir)
	if err := os.MkdirAll(fullShardDir, 0775); err != nil {
		return StoreResult{}, fmt.Errorf("failed to create shard directory %q: %w", fullShardDir, err)
	}

	base := filepath.Join(fullShardDir, digest)
	f, suffix, err := s.tfc.Create(base)
	if err != nil {
		return StoreResult{}, fmt.Errorf("failed to create blob file: %w", err)
	}

	filename := filepath.Join(shardDir, digest+"-"+suffix)

	hasher := sha256.New()
	n, copyErr := s.copyChunked(io.MultiWriter(f, hasher), r)

	if copyErr == nil && declaredLength >= 0 && n != declaredLength {
		copyErr = ErrSizeMismatch
	}

	if copyErr != nil {
		f.Close()
		os.Remove(f.Name())
		return StoreResult{}, copyErr
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return StoreResult{}, fmt.Errorf("failed to sync blob file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return StoreResult{}, fmt.Errorf("failed to close blob file: %w", err)
	}

	return StoreResult{
		Size:     n,
		Mode:     File,
		Filename: filename,
		Digest:   hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// copyChunked copies r into w in ChunkSize pieces, enforcing
// valueSizeLimit as it goes so an oversized upload is rejected without
// ever buffering the whole thing.
func (s *FSBlobStore) copyChunked(w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	var total int64

	for {
		nr, er := r.Read(buf)
		if nr > 0 {
			total += int64(nr)
			if s.valueSizeLimit > 0 && total > s.valueSizeLimit {
				return total, ErrSizeLimitExceeded
			}

			nw, ew := w.Write(buf[:nr])
			if ew != nil {
				return total, ew
			}
			if nw != nr {
				return total, io.ErrShortWrite
			}
		}
		if er != nil {
			if errors.Is(er, io.EOF) {
				return total, nil
			}
			return total, er
		}
	}
}

// OpenReader implements BlobStore.
func (s *FSBlobStore) OpenReader(mode Mode, filename string, inline []byte) (io.ReadCloser, error) {
	if mode == Inline {
		return io.NopCloser(bytes.NewReader(inline)), nil
	}

	f, err := os.Open(filepath.Join(s.blobsDir(), filename))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Unlink implements BlobStore.
func (s *FSBlobStore) Unlink(filename string) error {
	if filename == "" {
		return nil
	}
	err := os.Remove(filepath.Join(s.blobsDir(), filename))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PurgeUnreferenced walks the blob directory and deletes every file whose
// path (relative to the blob root) is not a key of known. This is the
// boot-time consistency pass: a file can be left behind if the process
// crashed between writing it and committing the index row that
// references it.
func (s *FSBlobStore) PurgeUnreferenced(known map[string]bool) error {
	root := s.blobsDir()

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if !known[rel] {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return rmErr
			}
		}
		return nil
	})
}
