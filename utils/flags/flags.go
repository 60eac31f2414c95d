// Package flags declares diskcache-server's command line flags and the
// environment variables each one falls back to.
package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

// GetCliFlags returns the slice of cli.Flag's that diskcache-server
// accepts.
func GetCliFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "dir",
			Value:   "/tmp",
			Usage:   "Root directory for the metadata index and blob files.",
			EnvVars: []string{"CACHE_DIRECTORY"},
		},
		&cli.Int64Flag{
			Name:    "size_limit",
			Value:   8 << 30,
			Usage:   "Global byte budget for the cache. Entries are evicted to stay at or under this size.",
			EnvVars: []string{"CACHE_SIZE_LIMIT"},
		},
		&cli.Int64Flag{
			Name:    "inline_threshold",
			Value:   32 << 10,
			Usage:   "Values smaller than this are stored inline in the index instead of as a file.",
			EnvVars: []string{"CACHE_INLINE_THRESHOLD"},
		},
		&cli.Int64Flag{
			Name:    "value_size_limit",
			Value:   300 << 20,
			Usage:   "Per-value size ceiling. PUTs larger than this are rejected.",
			EnvVars: []string{"VALUE_SIZE_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "default_expire",
			Value:   24 * time.Hour,
			Usage:   "TTL applied to a PUT that doesn't set x-diskcache-expire. 0 means never expire.",
			EnvVars: []string{"DEFAULT_EXPIRE"},
		},
		&cli.StringFlag{
			Name:    "eviction_policy",
			Value:   "least-recently-stored",
			Usage:   "Eviction ordering: least-recently-stored, least-recently-used, or least-frequently-used.",
			EnvVars: []string{"EVICTION_POLICY"},
		},
		&cli.IntFlag{
			Name:    "cull_limit",
			Value:   10,
			Usage:   "Maximum number of entries evicted per mutating request.",
			EnvVars: []string{"CACHE_CULL_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "request_timeout",
			Value:   180 * time.Second,
			Usage:   "Per-request timeout bounding PUT body ingestion.",
			EnvVars: []string{"REQUEST_TIMEOUT"},
		},
		&cli.DurationFlag{
			Name:        "sweep_interval",
			Value:       0,
			Usage:       "If positive, how often a background sweeper purges expired entries.",
			DefaultText: "0s, ie disabled",
			EnvVars:     []string{"CACHE_SWEEP_INTERVAL"},
		},
		&cli.StringFlag{
			Name:    "http_address",
			Value:   ":8080",
			Usage:   "Address the HTTP server listens on.",
			EnvVars: []string{"CACHE_HTTP_ADDRESS"},
		},
		&cli.StringFlag{
			Name:        "profile_address",
			Value:       "",
			Usage:       "If set and DEBUG is true, serve /debug/pprof/* from this address.",
			DefaultText: "disabled",
			EnvVars:     []string{"CACHE_PROFILE_ADDRESS"},
		},
		&cli.StringFlag{
			Name:    "access_log_level",
			Value:   "all",
			Usage:   "\"all\" logs every request, \"none\" disables access logging.",
			EnvVars: []string{"CACHE_ACCESS_LOG_LEVEL"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Value:   false,
			Usage:   "Enables the profiling endpoint.",
			EnvVars: []string{"DEBUG"},
		},
	}
}
