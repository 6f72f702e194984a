// Package bolt is the public facade: it parses a connection URL, wires the
// pool/routing/session layers together per the scheme's topology (direct
// or cluster-routed), and exposes Driver as the one type
// application code constructs directly.
package bolt

import (
	"context"
	"crypto/tls"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cypherbolt/bolt-go/addr"
	"github.com/cypherbolt/bolt-go/config"
	boltErr "github.com/cypherbolt/bolt-go/errors"
	"github.com/cypherbolt/bolt-go/internal/conn"
	"github.com/cypherbolt/bolt-go/logger"
	"github.com/cypherbolt/bolt-go/pool"
	"github.com/cypherbolt/bolt-go/routing"
	"github.com/cypherbolt/bolt-go/session"
)

// defaultPort is the Bolt protocol's IANA-registered default.
const defaultPort = 7687

// topology distinguishes a single-server target from a cluster one; derived
// once from the URL scheme at NewDriver time.
type topology int

const (
	topologyDirect topology = iota
	topologyRouted
)

// scheme captures one recognized URL scheme's topology and TLS posture.
// ssc ("self-signed certificate") skips server name verification, matching
// neo4j-driver's own scheme semantics for bolt+ssc / neo4j+ssc.
type scheme struct {
	topology   topology
	tls        bool
	skipVerify bool
}

var schemes = map[string]scheme{
	"bolt":         {topology: topologyDirect, tls: false},
	"bolt+s":       {topology: topologyDirect, tls: true},
	"bolt+ssc":     {topology: topologyDirect, tls: true, skipVerify: true},
	"bolt+routing": {topology: topologyRouted, tls: false},
	"neo4j":        {topology: topologyRouted, tls: false},
	"neo4j+s":      {topology: topologyRouted, tls: true},
	"neo4j+ssc":    {topology: topologyRouted, tls: true, skipVerify: true},
}

// Driver is the entry point applications hold onto for the lifetime of the
// process: one connection pool, one routing balancer (if clustered), and a
// factory for Sessions.
type Driver struct {
	cfg      *config.Config
	provider session.ConnectionProvider
	pool     *pool.Pool[addr.ServerAddress, *conn.Connection]
	log      logger.Logger
}

// NewDriver parses target (a bolt://, bolt+s://, bolt+routing://, neo4j://,
// etc. URL) and builds a Driver wired per the scheme's topology.
func NewDriver(target string, opts ...config.Option) (*Driver, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, boltErr.New(boltErr.CodeClientError, "invalid connection URL", err)
	}
	sc, ok := schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, boltErr.Newf(boltErr.CodeClientError, "unrecognized connection URL scheme %q", u.Scheme)
	}

	host := u.Hostname()
	portStr := u.Port()
	port := defaultPort
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, boltErr.New(boltErr.CodeClientError, "invalid port in connection URL", err)
		}
		port = p
	}
	seed := addr.New(host, port)

	cfg := config.New(opts...)
	if sc.tls && cfg.TLSConfig == nil {
		cfg.TLSConfig = &tls.Config{ServerName: host, InsecureSkipVerify: sc.skipVerify}
	}

	log := logger.Discard()

	connPool := pool.New(pool.Config[addr.ServerAddress, *conn.Connection]{
		Constructor: func(ctx context.Context, key addr.ServerAddress) (*conn.Connection, error) {
			return conn.Open(ctx, key, conn.DialConfig{
				ConnectTimeout:          cfg.ConnectionTimeout,
				TLSConfig:               cfg.TLSConfig,
				UserAgent:               cfg.UserAgent,
				Auth:                    cfg.Auth,
				DisableLosslessIntegers: cfg.DisableLosslessIntegers,
			})
		},
		Destructor: func(c *conn.Connection) { c.Close() },
		Validator: func(c *conn.Connection) bool {
			return c.IsOpen() && time.Since(c.CreatedAt()) <= cfg.MaxConnectionLifetime
		},
		MaxSize:            int32(clampInt32(cfg.MaxConnectionPoolSize)),
		AcquisitionTimeout: cfg.ConnectionAcquisitionTimeout,
	})

	var provider session.ConnectionProvider
	switch sc.topology {
	case topologyDirect:
		provider = session.NewDirectProvider(seed, connPool)
	case topologyRouted:
		dial := func(ctx context.Context, a addr.ServerAddress) (*conn.Connection, error) {
			return conn.Open(ctx, a, conn.DialConfig{
				ConnectTimeout:          cfg.ConnectionTimeout,
				TLSConfig:               cfg.TLSConfig,
				UserAgent:               cfg.UserAgent,
				Auth:                    cfg.Auth,
				DisableLosslessIntegers: cfg.DisableLosslessIntegers,
			})
		}
		provider = routing.NewBalancer(
			seed,
			"",
			cfg.Resolver,
			routing.NewRoundRobin(),
			routing.DialDiscoverer(dial),
			connPool,
			nil,
			cfg.PreferSeedRouter,
		)
	}

	return &Driver{cfg: cfg, provider: provider, pool: connPool, log: log}, nil
}

// clampInt32 bounds a sanitized (already non-negative) pool size to int32's
// range; config.Sanitize already maps "unbounded" to math.MaxInt32, so this
// only guards against a caller-supplied value above that.
func clampInt32(n int) int {
	const max32 = 1<<31 - 1
	if n > max32 {
		return max32
	}
	return n
}

// SessionConfig configures a Session opened from this Driver.
type SessionConfig struct {
	AccessMode routing.AccessMode
	Database   string
	Bookmarks  []string
}

// NewSession opens a Session against this Driver's provider.
func (d *Driver) NewSession(cfg SessionConfig) *session.Session {
	return session.New(d.provider, session.Config{
		Mode:      cfg.AccessMode,
		Database:  cfg.Database,
		Bookmarks: cfg.Bookmarks,
		Retry: session.RetryConfig{
			MaxRetryTime: d.cfg.MaxTransactionRetryTime,
			InitialDelay: session.DefaultRetryConfig().InitialDelay,
			Multiplier:   session.DefaultRetryConfig().Multiplier,
			Jitter:       session.DefaultRetryConfig().Jitter,
		},
		Logger: d.log,
	})
}

// VerifyConnectivity acquires one Read connection through the provider and
// releases it at once; for a routed Driver the routing table is refreshed
// first only if it is stale. It surfaces whatever error a real application
// query would hit first.
func (d *Driver) VerifyConnectivity(ctx context.Context) error {
	res, err := d.provider.Acquire(ctx, routing.Read)
	if err != nil {
		return err
	}
	res.Release()
	return nil
}

// Close shuts down the underlying connection pool, closing every pooled
// connection.
func (d *Driver) Close() error {
	d.pool.Close()
	return nil
}

// RoutingTable returns the current routing table snapshot, or nil for a
// direct (non-clustered) Driver, or if no refresh has happened yet.
func (d *Driver) RoutingTable() *routing.Table {
	b, ok := d.provider.(*routing.Balancer)
	if !ok {
		return nil
	}
	return b.Table()
}
