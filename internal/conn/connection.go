// Package conn implements Connection: one live protocol session over a
// single TCP/TLS channel, exposing typed request methods built on top of
// the protocol engine's FIFO correlation and failure-recovery machinery.
package conn

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cypherbolt/bolt-go/addr"
	boltErr "github.com/cypherbolt/bolt-go/errors"
	"github.com/cypherbolt/bolt-go/internal/proto"
	"github.com/cypherbolt/bolt-go/internal/transport"
)

// Connection is one negotiated, authenticated Bolt session. The zero value
// is not usable; construct with Open.
type Connection struct {
	id        string
	address   addr.ServerAddress
	createdAt time.Time

	ch     *transport.Channel
	engine *proto.Engine

	protocolVersion uint32
	serverInfo      proto.ServerInfo

	broken int32 // atomic bool; 0=open, 1=broken

	readMu sync.Mutex // not taken by any method; ReadOne runs in initialize, then only in readLoop
}

// preferredVersions lists the protocol versions this driver proposes, newest
// first, matching the handshake's preference-order contract.
var preferredVersions = []uint32{4, 3, 2, 1}

// Open dials address, performs the version handshake, and runs the
// INIT/HELLO exchange, blocking until the connection is either ready to use
// or definitively failed.
func Open(ctx context.Context, address addr.ServerAddress, cfg DialConfig) (*Connection, error) {
	ch, err := transport.Dial(ctx, address, cfg.TLSConfig, cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	version, err := proto.Handshake(ch, preferredVersions)
	if err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.MarkHandshakeComplete(); err != nil {
		ch.Close()
		return nil, boltErr.New(boltErr.CodeServiceUnavailable, "failed to flush buffered writes after handshake", err)
	}

	useAckFailure := version < 3
	engine := proto.NewEngine(ch, cfg.DisableLosslessIntegers, useAckFailure)

	c := &Connection{
		id:              uuid.NewString(),
		address:         address,
		createdAt:       time.Now(),
		ch:              ch,
		engine:          engine,
		protocolVersion: version,
	}

	if err := c.initialize(cfg.UserAgent, cfg.Auth); err != nil {
		ch.Close()
		return nil, err
	}

	go c.readLoop()

	return c, nil
}

// DialConfig carries the subset of config.Config that Open needs, kept
// separate so internal/conn does not import the public config package; the
// driver facade copies the fields across.
type DialConfig struct {
	ConnectTimeout          time.Duration
	TLSConfig               *tls.Config
	UserAgent               string
	Auth                    map[string]any
	DisableLosslessIntegers bool
}

func (c *Connection) initialize(userAgent string, auth map[string]any) error {
	obs := proto.NewInitObserver(c.protocolVersion, c.engine.SetByteArraySupport, c.markBroken)
	if err := c.engine.Send(proto.NewHello(userAgent, auth), obs); err != nil {
		return err
	}
	if err := c.engine.Flush(); err != nil {
		return err
	}
	if err := c.engine.ReadOne(); err != nil {
		return err
	}
	<-obs.Done()
	info, err := obs.Result()
	if err != nil {
		return err
	}
	c.serverInfo = info
	return nil
}

// readLoop drains response messages for the lifetime of the connection,
// dispatching them through the engine's FIFO queue. It exits (and marks the
// connection broken) the first time ReadOne returns an error.
func (c *Connection) readLoop() {
	for {
		if err := c.engine.ReadOne(); err != nil {
			c.markBroken()
			return
		}
	}
}

func (c *Connection) markBroken() {
	atomic.StoreInt32(&c.broken, 1)
}

// ID returns the connection's unique identifier (not the server-reported
// connection_id, which is recorded in ServerInfo).
func (c *Connection) ID() string { return c.id }

// Address returns the server this connection is attached to.
func (c *Connection) Address() addr.ServerAddress { return c.address }

// CreatedAt returns when the connection was opened, used by the pool's
// max-lifetime validation.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// ServerInfo returns the metadata learned during the INIT/HELLO exchange.
func (c *Connection) ServerInfo() proto.ServerInfo { return c.serverInfo }

// ProtocolVersion returns the negotiated Bolt protocol version.
func (c *Connection) ProtocolVersion() uint32 { return c.protocolVersion }

// IsOpen reports whether the connection is still usable: neither broken by
// a fatal protocol error nor explicitly closed.
func (c *Connection) IsOpen() bool {
	return atomic.LoadInt32(&c.broken) == 0 && c.engine.Fatal() == nil
}

// Close closes the underlying channel. Safe to call more than once.
func (c *Connection) Close() error {
	c.markBroken()
	return c.ch.Close()
}

// RunObserver is the application-facing continuation for Run/Begin/Commit/
// Rollback/Route: it receives zero or more records (only meaningful
// for Run) followed by exactly one terminal event.
type RunObserver = interfaceObserver

// interfaceObserver adapts the engine's low-level Observer to named fields
// so callers can construct one with a struct literal instead of a type
// satisfying three methods by hand.
type interfaceObserver struct {
	Next      func(record any)
	Completed func(meta map[string]any)
	Failed    func(err error)
}

func (o interfaceObserver) OnNext(record any) {
	if o.Next != nil {
		o.Next(record)
	}
}
func (o interfaceObserver) OnCompleted(meta map[string]any) {
	if o.Completed != nil {
		o.Completed(meta)
	}
}
func (o interfaceObserver) OnError(err error) {
	if o.Failed != nil {
		o.Failed(err)
	}
}

// Run sends a RUN request with the given query, parameters, and metadata
// (bookmarks, mode, database, tx_timeout), without flushing.
func (c *Connection) Run(query string, params, meta map[string]any, obs RunObserver) error {
	return c.engine.Send(proto.NewRun(query, params, meta), obs)
}

// PullAll sends a PULL_ALL request, without flushing.
func (c *Connection) PullAll(obs RunObserver) error {
	return c.engine.Send(proto.NewPullAll(), obs)
}

// DiscardAll sends a DISCARD_ALL request, without flushing.
func (c *Connection) DiscardAll(obs RunObserver) error {
	return c.engine.Send(proto.NewDiscardAll(), obs)
}

// Begin sends a BEGIN request opening an explicit transaction, without
// flushing.
func (c *Connection) Begin(meta map[string]any, obs RunObserver) error {
	return c.engine.Send(proto.NewBegin(meta), obs)
}

// Commit sends a COMMIT request, without flushing.
func (c *Connection) Commit(obs RunObserver) error {
	return c.engine.Send(proto.NewCommit(), obs)
}

// Rollback sends a ROLLBACK request, without flushing.
func (c *Connection) Rollback(obs RunObserver) error {
	return c.engine.Send(proto.NewRollback(), obs)
}

// Route sends a ROUTE request used by the routing layer's rediscovery, so
// the cluster routing table can be refreshed over an existing connection
// instead of opening a dedicated one.
func (c *Connection) Route(routingContext map[string]any, bookmarks []any, database string, obs RunObserver) error {
	return c.engine.Send(proto.NewRoute(routingContext, bookmarks, database), obs)
}

// Flush writes every buffered request to the wire; callers pipeline several
// Send-style calls (e.g. Run then PullAll) before a single Flush.
func (c *Connection) Flush() error {
	return c.engine.Flush()
}
