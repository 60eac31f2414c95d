package cache

import (
	"errors"
	"io"
)

// Mode records how a stored value's bytes are made available again.
type Mode int

const (
	// Inline means the value's bytes are held in the index row itself.
	Inline Mode = iota
	// File means the value's bytes live in a file under the blob store's
	// directory, named by StoreResult.Filename.
	File
)

func (m Mode) String() string {
	if m == Inline {
		return "inline"
	}
	return "file"
}

// ErrSizeLimitExceeded is returned by Store when the number of bytes read
// from the request body exceeds the configured value_size_limit, whether
// or not a declared length was given.
var ErrSizeLimitExceeded = errors.New("value exceeds configured value_size_limit")

// ErrSizeMismatch is returned by Store when a declared length was given
// and the number of bytes actually read does not match it.
var ErrSizeMismatch = errors.New("actual size does not match declared content-length")

// StoreResult describes a value that has been committed to the blob
// store, ready to be recorded in the index.
type StoreResult struct {
	Size     int64
	Mode     Mode
	Filename string // relative to the store's directory; empty when Mode == Inline
	Inline   []byte // populated only when Mode == Inline
	Digest   string // hex-encoded sha256 of the stored bytes
}

// BlobStore persists and retrieves the raw bytes behind cache entries. It
// is unaware of keys' TTLs, headers or eviction order — callers combine it
// with the index to build those semantics.
type BlobStore interface {
	// Store reads all of r, and either buffers it in memory (when
	// declaredLength is known and below the inline threshold) or writes
	// it to a uniquely-named file under the store's directory. A
	// declaredLength < 0 means the length is unknown ahead of time, in
	// which case the value is always written to a file.
	Store(key string, declaredLength int64, r io.Reader) (StoreResult, error)

	// OpenReader returns a stream over a previously stored value. For
	// Mode == Inline, inline is read back directly; for Mode == File,
	// filename is opened relative to the store's directory.
	OpenReader(mode Mode, filename string, inline []byte) (io.ReadCloser, error)

	// Unlink removes a previously stored file-mode value. It is a no-op
	// (not an error) if the file is already gone.
	Unlink(filename string) error
}
