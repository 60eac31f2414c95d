// Package eviction describes the ordering used to pick victims when the
// cache engine needs to cull entries to stay within its size budget.
package eviction

import (
	"fmt"
	"strings"
)

// Policy selects which column orders the victim scan in scan_for_victims.
type Policy int

const (
	// LRS evicts the entry that was stored least recently.
	LRS Policy = iota
	// LRU evicts the entry that was read least recently.
	LRU
	// LFU evicts the entry that was read least often, ties broken by
	// access time.
	LFU
)

func (p Policy) String() string {
	switch p {
	case LRS:
		return "least-recently-stored"
	case LRU:
		return "least-recently-used"
	case LFU:
		return "least-frequently-used"
	default:
		return "unknown"
	}
}

// ParsePolicy accepts both the long policy names and the short enum names
// ("LRS", "LRU", "LFU"), case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "least-recently-stored", "lrs", "":
		return LRS, nil
	case "least-recently-used", "lru":
		return LRU, nil
	case "least-frequently-used", "lfu":
		return LFU, nil
	default:
		return LRS, fmt.Errorf("unknown eviction policy %q, must be one of least-recently-stored, least-recently-used, least-frequently-used", s)
	}
}

// OrderBy returns the SQL ORDER BY clause (ascending, oldest/least-used
// first) that scan_for_victims uses to pick the next candidate. Ties are
// always broken by rowid (oldest insertion first).
func (p Policy) OrderBy() string {
	switch p {
	case LRU:
		return "access_time ASC, rowid ASC"
	case LFU:
		return "access_count ASC, access_time ASC, rowid ASC"
	default: // LRS
		return "store_time ASC, rowid ASC"
	}
}
