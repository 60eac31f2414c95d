package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/s1s5/diskcache-server/eviction"

	"github.com/urfave/cli/v2"
)

// LogFlags is the flag set every *log.Logger in diskcache-server is
// constructed with: calendar date, time, and UTC instead of local time,
// so log lines from different hosts line up.
const LogFlags = log.Ldate | log.Ltime | log.LUTC

// Config holds the top-level configuration for diskcache-server.
type Config struct {
	Dir              string
	SizeLimit        int64
	InlineThreshold  int64
	ValueSizeLimit   int64
	DefaultExpire    time.Duration
	CullLimit        int
	EvictionPolicy   eviction.Policy
	RequestTimeout   time.Duration
	SweepInterval    time.Duration
	HTTPAddress      string
	ProfileAddress   string
	AccessLogLevel   string
	Debug            bool

	// Fields derived from the above.
	AccessLogger *log.Logger
	ErrorLogger  *log.Logger
}

// New returns a validated Config with the specified values, and an error if
// there were any problems with the validation.
func New(dir string, sizeLimit, inlineThreshold, valueSizeLimit int64,
	defaultExpire, requestTimeout, sweepInterval time.Duration,
	cullLimit int, evictionPolicy string,
	httpAddress, profileAddress, accessLogLevel string, debug bool) (*Config, error) {

	policy, err := eviction.ParsePolicy(evictionPolicy)
	if err != nil {
		return nil, err
	}

	c := &Config{
		Dir:             dir,
		SizeLimit:       sizeLimit,
		InlineThreshold: inlineThreshold,
		ValueSizeLimit:  valueSizeLimit,
		DefaultExpire:   defaultExpire,
		CullLimit:       cullLimit,
		EvictionPolicy:  policy,
		RequestTimeout:  requestTimeout,
		SweepInterval:   sweepInterval,
		HTTPAddress:     httpAddress,
		ProfileAddress:  profileAddress,
		AccessLogLevel:  accessLogLevel,
		Debug:           debug,
	}

	if err := validateConfig(c); err != nil {
		return nil, err
	}

	c.AccessLogger = log.New(os.Stdout, "", LogFlags)
	c.ErrorLogger = log.New(os.Stderr, "", LogFlags)
	if c.AccessLogLevel == "none" {
		c.AccessLogger.SetOutput(io.Discard)
	}

	return c, nil
}

func validateConfig(c *Config) error {
	if c.Dir == "" {
		return errors.New("the 'dir' flag/env (CACHE_DIRECTORY) is required")
	}

	dir, err := filepath.Abs(c.Dir)
	if err != nil {
		return fmt.Errorf("failed to resolve 'dir' %q: %w", c.Dir, err)
	}
	c.Dir = dir

	if c.SizeLimit <= 0 {
		return errors.New("'size_limit' (CACHE_SIZE_LIMIT) must be a positive integer")
	}

	if c.ValueSizeLimit <= 0 || c.ValueSizeLimit > math.MaxInt64 {
		return errors.New("'value_size_limit' (VALUE_SIZE_LIMIT) must be a positive integer")
	}

	if c.InlineThreshold < 0 {
		return errors.New("'inline_threshold' must not be negative")
	}

	if c.CullLimit <= 0 {
		return errors.New("'cull_limit' must be a positive integer")
	}

	if c.DefaultExpire < 0 {
		return errors.New("'default_expire' (DEFAULT_EXPIRE) must not be negative")
	}

	if c.RequestTimeout <= 0 {
		return errors.New("'request_timeout' (REQUEST_TIMEOUT) must be a positive duration")
	}

	switch c.AccessLogLevel {
	case "none", "all", "":
	default:
		return errors.New("'access_log_level' must be set to either \"none\" or \"all\"")
	}

	return nil
}

// Get builds a Config from CLI flags/environment variables (see
// utils/flags) and wires up its derived fields (loggers).
func Get(ctx *cli.Context) (*Config, error) {
	cfg, err := New(
		ctx.String("dir"),
		ctx.Int64("size_limit"),
		ctx.Int64("inline_threshold"),
		ctx.Int64("value_size_limit"),
		ctx.Duration("default_expire"),
		ctx.Duration("request_timeout"),
		ctx.Duration("sweep_interval"),
		ctx.Int("cull_limit"),
		ctx.String("eviction_policy"),
		ctx.String("http_address"),
		ctx.String("profile_address"),
		ctx.String("access_log_level"),
		ctx.Bool("debug"),
	)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}
