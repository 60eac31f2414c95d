package index

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// headerSetVersion is a one-byte tag prefixed onto every encoded
// headerSet so a future format change can be detected and handled
// instead of silently misread.
const headerSetVersion = 1

// headerSet is the subset of a stored value's HTTP headers that the
// cache preserves and plays back verbatim on GET. The well-known fields
// get their own column-like struct fields; any further header pairs the
// engine is given ride along in Extra. The HTTP facade leaves Extra
// empty.
type headerSet struct {
	ContentType     string
	ContentEncoding string
	CacheControl    string
	Extra           map[string]string
}

// encodeTag serializes a headerSet for storage in the entries.tag
// column.
func encodeTag(hs headerSet) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(headerSetVersion)

	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(hs); err != nil {
		return nil, fmt.Errorf("encode header set: %w", err)
	}

	return buf.Bytes(), nil
}

// decodeTag is the inverse of encodeTag. An empty tag decodes to the
// zero headerSet, since older or manually-inserted rows may have none.
func decodeTag(b []byte) (headerSet, error) {
	if len(b) == 0 {
		return headerSet{}, nil
	}

	version := b[0]
	if version != headerSetVersion {
		return headerSet{}, fmt.Errorf("unsupported header set tag version %d", version)
	}

	var hs headerSet
	dec := gob.NewDecoder(bytes.NewReader(b[1:]))
	if err := dec.Decode(&hs); err != nil {
		return headerSet{}, fmt.Errorf("decode header set: %w", err)
	}

	return hs, nil
}
