package session

import (
	"context"

	"github.com/cypherbolt/bolt-go/addr"
	"github.com/cypherbolt/bolt-go/internal/conn"
	"github.com/cypherbolt/bolt-go/pool"
	"github.com/cypherbolt/bolt-go/routing"
)

// ConnectionProvider is the capability interface a Session depends on to
// get a connection for a given access mode and to react to routing-class
// failures. routing.Balancer satisfies this interface directly; DirectProvider
// below is the non-clustered counterpart the design notes call for.
type ConnectionProvider interface {
	Acquire(ctx context.Context, mode routing.AccessMode) (*pool.Resource[*conn.Connection], error)
	Forget(address addr.ServerAddress)
	ForgetWriter(address addr.ServerAddress)
}

// DirectProvider always returns connections to a single fixed address: the
// "direct" connection-provider variant the design notes require alongside
// the load-balanced one, used for a plain bolt:// target with no cluster
// routing.
type DirectProvider struct {
	address addr.ServerAddress
	pool    *pool.Pool[addr.ServerAddress, *conn.Connection]
}

// NewDirectProvider constructs a DirectProvider bound to address.
func NewDirectProvider(address addr.ServerAddress, p *pool.Pool[addr.ServerAddress, *conn.Connection]) *DirectProvider {
	return &DirectProvider{address: address, pool: p}
}

// Acquire ignores mode: a direct connection has no read/write distinction,
// every request goes to the one configured server.
func (d *DirectProvider) Acquire(ctx context.Context, _ routing.AccessMode) (*pool.Resource[*conn.Connection], error) {
	return d.pool.Acquire(ctx, d.address)
}

// Forget is a no-op: there is no routing table to update for a direct
// target, and a connection that is no longer open is destroyed rather than
// re-pooled when the session's holder releases it.
func (d *DirectProvider) Forget(addr.ServerAddress) {}

// ForgetWriter is a no-op for the same reason as Forget.
func (d *DirectProvider) ForgetWriter(addr.ServerAddress) {}
