// Package config assembles the engine's ambient runtime settings: the
// demo server's listen address, the fetch engine's default timeout and
// retry count, the outgoing User-Agent, and an optional Redis URL that
// switches the poll subsystem over to a durable Asynq-backed driver.
// Settings are built from functional options layered over environment
// fallback, read with github.com/gobuffalo/envy the way the teacher's
// own configuration reads HTMLEX_*-style variables.
package config

import (
	"strconv"
	"time"

	"github.com/gobuffalo/envy"
)

// Options holds every ambient setting the demo server and engine need
// that isn't carried on a per-element attribute.
type Options struct {
	ListenAddr     string
	DefaultTimeout time.Duration
	DefaultRetry   int
	UserAgent      string
	RedisURL       string
	LogFile        string
	DevMode        bool
}

// Option mutates an Options being built by Load.
type Option func(*Options)

// WithListenAddr overrides the demo server's listen address.
func WithListenAddr(addr string) Option {
	return func(o *Options) { o.ListenAddr = addr }
}

// WithDefaultTimeout overrides DefaultTimeout, which cmd/htmlexd uses as
// its shared http.Client's Timeout: it caps every request attempt,
// whether or not the binding sets its own timeout attribute.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *Options) { o.DefaultTimeout = d }
}

// WithDefaultRetry overrides DefaultRetry. Nothing in the engine reads
// it; a binding's retry count comes only from its own retry attribute.
func WithDefaultRetry(n int) Option {
	return func(o *Options) { o.DefaultRetry = n }
}

// WithUserAgent overrides UserAgent. The fetch engine does not read it
// and sends no User-Agent header of its own.
func WithUserAgent(ua string) Option {
	return func(o *Options) { o.UserAgent = ua }
}

// WithRedisURL sets the Redis connection string used by the Asynq
// poll driver. Empty disables it.
func WithRedisURL(url string) Option {
	return func(o *Options) { o.RedisURL = url }
}

// WithDevMode relaxes the secure middleware's framing/HSTS restrictions.
func WithDevMode(dev bool) Option {
	return func(o *Options) { o.DevMode = dev }
}

// Load builds Options from HTMLEX_*-prefixed environment variables
// (via envy, which also loads a .env file if present) and then applies
// opts on top, so explicit options always win over the environment.
func Load(opts ...Option) *Options {
	envy.Reload()
	o := &Options{
		ListenAddr:     envy.Get("HTMLEX_LISTEN_ADDR", ":8080"),
		DefaultTimeout: envDuration("HTMLEX_DEFAULT_TIMEOUT_MS", 10*time.Second),
		DefaultRetry:   envInt("HTMLEX_DEFAULT_RETRY", 0),
		UserAgent:      envy.Get("HTMLEX_USER_AGENT", "htmlex-go/1.0"),
		RedisURL:       envy.Get("HTMLEX_REDIS_URL", ""),
		LogFile:        envy.Get("HTMLEX_LOG_FILE", ""),
		DevMode:        envBool("HTMLEX_DEV_MODE", false),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func envInt(key string, fallback int) int {
	v := envy.Get(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	ms := envInt(key, -1)
	if ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func envBool(key string, fallback bool) bool {
	v := envy.Get(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
