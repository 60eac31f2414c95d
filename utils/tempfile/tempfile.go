// Package tempfile creates uniquely-named files for the blob store, using
// a fast non-cryptographic generator to pick the "unique suffix" appended
// to hash-sharded blob filenames.
package tempfile

import (
	"errors"
	"os"
	"strconv"
	"sync"
	"time"
)

// Creator maintains the state of a pseudo-random number generator used to
// name blob files.
type Creator struct {
	mu   sync.Mutex
	idum uint32 // Pseudo-random number generator state.
}

// NewCreator returns a new Creator.
func NewCreator() *Creator {
	return &Creator{idum: uint32(time.Now().UnixNano())}
}

// Fast "quick and dirty" linear congruential (pseudo-random) number
// generator from Numerical Recipes. Excerpt here:
// https://www.unf.edu/~cwinton/html/cop4300/s09/class.notes/LCGinfo.pdf
// This is the same algorithm as used in the old ioutil.TempFile go standard
// library function.
func (c *Creator) ranqd1() string {
	c.mu.Lock()
	c.idum = c.idum*1664525 + 1013904223
	r := c.idum
	c.mu.Unlock()
	return strconv.Itoa(int(1e9 + r%1e9))[1:]
}

const createFlags = os.O_RDWR | os.O_CREATE | os.O_EXCL

// FileMode is the permission bits new blob files are created with.
const FileMode = 0664

var errNoTempfile = errors.New("failed to create a uniquely named file after 10000 attempts")

// Create attempts to create a file named "<base>-<random suffix>", retrying
// with a fresh suffix on a name collision. It returns the opened file, the
// suffix used (callers persist this in the index so the file can be found
// again), and an error if every attempt failed.
func (c *Creator) Create(base string) (f *os.File, suffix string, err error) {
	for i := 0; i < 10000; i++ {
		suffix = c.ranqd1()
		name := base + "-" + suffix

		f, err = os.OpenFile(name, createFlags, FileMode)
		if err == nil {
			return f, suffix, nil
		}
		if os.IsExist(err) {
			continue // suffix collision, try again
		}

		return nil, "", err
	}

	return nil, "", errNoTempfile
}
