// Package config carries the driver's configuration surface: the options
// listed in the protocol spec plus the sanitization rules the connection
// pool depends on. It follows nabbar-golib/config's split between a plain
// struct (Config) and optional file/env loading via viper.
package config

import (
	"crypto/tls"
	"math"
	"time"
)

// Resolver resolves a user-supplied seed address into zero or more logical
// addresses, e.g. for DNS round-robin entries or custom service discovery.
// It is the capability interface spec.md §4.4 calls the "host-name resolver".
type Resolver func(host string) ([]string, error)

// Config holds every option the core cares about. Zero value is meaningful:
// Sanitize fills in defaults.
type Config struct {
	// MaxConnectionLifetime bounds how long a pooled connection may live
	// before it is no longer considered valid. Negative means unbounded.
	MaxConnectionLifetime time.Duration

	// MaxConnectionPoolSize bounds the number of connections held per
	// server address. Negative means unbounded.
	MaxConnectionPoolSize int

	// ConnectionAcquisitionTimeout bounds how long a caller waits for a
	// pooled connection when the pool is at capacity.
	ConnectionAcquisitionTimeout time.Duration

	// ConnectionTimeout bounds the TCP/TLS dial. Non-positive disables the
	// timeout (dial blocks until the OS gives up or succeeds).
	ConnectionTimeout time.Duration

	// MaxTransactionRetryTime bounds how long run_read/run_write will keep
	// retrying a managed transaction function.
	MaxTransactionRetryTime time.Duration

	// UserAgent is sent in the INIT/HELLO handshake message.
	UserAgent string

	// DisableLosslessIntegers, when true, makes the codec decode every
	// integer as float64, with values outside the safe-integer range
	// becoming +/-Inf; when false, integers decode as int64.
	DisableLosslessIntegers bool

	// Resolver is consulted before DNS resolution when refreshing routing
	// from the seed address.
	Resolver Resolver

	// TLSConfig is treated as an opaque caller-owned value: this module does
	// not build or validate trust material, it only dials with it when the
	// target URL scheme requests TLS.
	TLSConfig *tls.Config

	// PreferSeedRouter seeds the load balancer's initial router-preference
	// flag; normally left false and flipped internally after a minority-
	// partition refresh (writers.len()==0).
	PreferSeedRouter bool

	// Auth carries the HELLO/INIT authentication token (e.g.
	// {"scheme": "basic", "principal": ..., "credentials": ...}), sent
	// verbatim as the auth map on every new connection.
	Auth map[string]any
}

// Option mutates a Config during construction.
type Option func(*Config)

// Default returns a Config with every field at its documented default.
func Default() *Config {
	return &Config{
		MaxConnectionLifetime:        1 * time.Hour,
		MaxConnectionPoolSize:        100,
		ConnectionAcquisitionTimeout: 60 * time.Second,
		ConnectionTimeout:            5 * time.Second,
		MaxTransactionRetryTime:      30 * time.Second,
		UserAgent:                    "bolt-go/1.0",
	}
}

// New builds a Config from Default() with opts applied and sanitized.
func New(opts ...Option) *Config {
	c := Default()
	for _, o := range opts {
		o(c)
	}
	c.Sanitize()
	return c
}

func WithMaxConnectionLifetime(d time.Duration) Option {
	return func(c *Config) { c.MaxConnectionLifetime = d }
}

func WithMaxConnectionPoolSize(n int) Option {
	return func(c *Config) { c.MaxConnectionPoolSize = n }
}

func WithConnectionAcquisitionTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectionAcquisitionTimeout = d }
}

func WithConnectionTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectionTimeout = d }
}

func WithMaxTransactionRetryTime(d time.Duration) Option {
	return func(c *Config) { c.MaxTransactionRetryTime = d }
}

func WithUserAgent(ua string) Option {
	return func(c *Config) { c.UserAgent = ua }
}

func WithDisableLosslessIntegers(v bool) Option {
	return func(c *Config) { c.DisableLosslessIntegers = v }
}

func WithResolver(r Resolver) Option {
	return func(c *Config) { c.Resolver = r }
}

func WithTLSConfig(t *tls.Config) Option {
	return func(c *Config) { c.TLSConfig = t }
}

func WithAuth(auth map[string]any) Option {
	return func(c *Config) { c.Auth = auth }
}

// WithBasicAuth is a convenience wrapper around WithAuth for the common
// username/password case.
func WithBasicAuth(username, password string) Option {
	return WithAuth(map[string]any{
		"scheme":      "basic",
		"principal":   username,
		"credentials": password,
	})
}

// unboundedDuration stands in for "no timeout" once negative durations have
// been sanitized: time.Duration is an int64 of nanoseconds, so this is the
// largest representable duration.
const unboundedDuration = time.Duration(math.MaxInt64)

// Sanitize applies the pool's configuration rules from the protocol spec:
// a negative numeric/duration value means "effectively unbounded" and is
// mapped to the largest safe value, and an explicit zero means "use the
// default" and is replaced with Default()'s value for that field -- a
// caller that does WithMaxConnectionPoolSize(0) gets the same pool size as
// a caller who never set the option at all.
func (c *Config) Sanitize() {
	d := Default()

	switch {
	case c.MaxConnectionLifetime < 0:
		c.MaxConnectionLifetime = unboundedDuration
	case c.MaxConnectionLifetime == 0:
		c.MaxConnectionLifetime = d.MaxConnectionLifetime
	}

	switch {
	case c.MaxConnectionPoolSize < 0:
		c.MaxConnectionPoolSize = math.MaxInt32
	case c.MaxConnectionPoolSize == 0:
		c.MaxConnectionPoolSize = d.MaxConnectionPoolSize
	}

	switch {
	case c.ConnectionAcquisitionTimeout < 0:
		c.ConnectionAcquisitionTimeout = unboundedDuration
	case c.ConnectionAcquisitionTimeout == 0:
		c.ConnectionAcquisitionTimeout = d.ConnectionAcquisitionTimeout
	}

	switch {
	case c.MaxTransactionRetryTime < 0:
		c.MaxTransactionRetryTime = unboundedDuration
	case c.MaxTransactionRetryTime == 0:
		c.MaxTransactionRetryTime = d.MaxTransactionRetryTime
	}

	// ConnectionTimeout is special: non-positive disables dial timeout
	// entirely (per spec.md §6), it is not clamped to "unbounded" or
	// defaulted here.
}
