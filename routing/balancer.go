package routing

import (
	"context"
	"net"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/cypherbolt/bolt-go/addr"
	"github.com/cypherbolt/bolt-go/config"
	boltErr "github.com/cypherbolt/bolt-go/errors"
	"github.com/cypherbolt/bolt-go/internal/conn"
	"github.com/cypherbolt/bolt-go/pool"
)

// DialFunc opens a single, unpooled connection to address -- used for the
// rediscovery ROUTE call, which per the spec's design notes runs over a
// dedicated single-connection provider rather than the shared pool.
type DialFunc func(ctx context.Context, address addr.ServerAddress) (*conn.Connection, error)

// DiscoverFunc runs one rediscovery attempt against router and returns the
// parsed table, classified per the rediscovery error table (see
// classifyRediscoveryError / IsNoTableFromRouter). Factored out from a raw
// DialFunc so the refresh algorithm itself can be tested without a real
// connection.
type DiscoverFunc func(ctx context.Context, router addr.ServerAddress, routingContext map[string]any, database string) (*Table, error)

// DialDiscoverer builds a DiscoverFunc that opens a fresh single connection
// with dial, runs DiscoverOverConnection over it, and always closes it
// afterward -- the production wiring used by the driver facade.
func DialDiscoverer(dial DialFunc) DiscoverFunc {
	return func(ctx context.Context, router addr.ServerAddress, routingContext map[string]any, database string) (*Table, error) {
		c, err := dial(ctx, router)
		if err != nil {
			return nil, errNoTableFromRouter
		}
		defer c.Close()
		return DiscoverOverConnection(ctx, c, routingContext, nil, database)
	}
}

// Balancer is the load-balanced connection provider: it owns the routing
// table, refreshes it on demand, and hands out pooled connections chosen
// by a Strategy. Concurrent refreshes for the same Balancer are
// deduplicated with golang.org/x/sync/singleflight so a thundering herd of
// Acquire calls against a stale table triggers exactly one rediscovery
// round.
type Balancer struct {
	seed     addr.ServerAddress
	database string

	table            atomic.Pointer[Table]
	preferSeedRouter atomic.Bool

	resolver config.Resolver
	strategy Strategy
	discover DiscoverFunc
	pool     *pool.Pool[addr.ServerAddress, *conn.Connection]

	routingContext map[string]any

	sf singleflight.Group
}

// NewBalancer constructs a Balancer seeded from address. preferSeedRouter
// seeds the initial router-preference flag (normally false; a caller
// restoring state after a restart may pass true).
func NewBalancer(
	seed addr.ServerAddress,
	database string,
	resolver config.Resolver,
	strategy Strategy,
	discover DiscoverFunc,
	p *pool.Pool[addr.ServerAddress, *conn.Connection],
	routingContext map[string]any,
	preferSeedRouter bool,
) *Balancer {
	b := &Balancer{
		seed:           seed,
		database:       database,
		resolver:       resolver,
		strategy:       strategy,
		discover:       discover,
		pool:           p,
		routingContext: routingContext,
	}
	if preferSeedRouter {
		b.preferSeedRouter.Store(true)
	}
	return b
}

// Acquire returns a pooled connection suitable for mode, refreshing the
// routing table first if it is stale or missing the servers mode needs.
func (b *Balancer) Acquire(ctx context.Context, mode AccessMode) (*pool.Resource[*conn.Connection], error) {
	t := b.table.Load()
	if t.IsStale(mode, nowMillis()) {
		refreshed, err := b.refreshDeduped(ctx)
		if err != nil {
			return nil, err
		}
		t = refreshed
	}

	candidates := t.ServersFor(mode)
	if len(candidates) == 0 {
		return nil, boltErr.New(boltErr.CodeSessionExpired, "no servers available for the requested access mode after refresh")
	}

	var (
		chosen addr.ServerAddress
		err    error
	)
	if mode == Write {
		chosen, err = b.strategy.SelectWriter(candidates)
	} else {
		chosen, err = b.strategy.SelectReader(candidates)
	}
	if err != nil {
		return nil, err
	}

	return b.pool.Acquire(ctx, chosen)
}

// Forget removes address from every role list in the current table and
// purges its pool entry, used on ServiceUnavailable-class failures.
func (b *Balancer) Forget(address addr.ServerAddress) {
	old := b.table.Load()
	b.table.Store(old.withoutFromAll(address))
	b.pool.Purge(address)
}

// ForgetWriter removes address only from the writer list (NotALeader-class
// failures): the address may still be a perfectly good router or reader,
// so its pool entry is not purged.
func (b *Balancer) ForgetWriter(address addr.ServerAddress) {
	old := b.table.Load()
	b.table.Store(old.withoutFromWriters(address))
}

// Table returns the current routing table snapshot, or nil if none has
// been discovered yet.
func (b *Balancer) Table() *Table {
	return b.table.Load()
}

func (b *Balancer) refreshDeduped(ctx context.Context) (*Table, error) {
	v, err, _ := b.sf.Do("refresh", func() (any, error) {
		return b.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table), nil
}

// refresh implements the Acquire(mode) refresh algorithm: try routers in
// seed-first or known-routers-first order depending on preferSeedRouter,
// flip the heuristic on a writerless result, purge pool entries for
// addresses that dropped out of the new table, and install it.
func (b *Balancer) refresh(ctx context.Context) (*Table, error) {
	old := b.table.Load()

	attempted := make(map[addr.ServerAddress]bool)
	preferSeed := b.preferSeedRouter.Load()

	var knownRouters []addr.ServerAddress
	if old != nil {
		knownRouters = old.Routers
	}

	var candidateGroups [][]addr.ServerAddress
	seedCandidates, resolveErr := b.resolveSeedCandidates(attempted)
	if preferSeed {
		candidateGroups = [][]addr.ServerAddress{seedCandidates, knownRouters}
	} else {
		candidateGroups = [][]addr.ServerAddress{knownRouters, seedCandidates}
	}

	var lastResolveErr error
	if resolveErr != nil {
		lastResolveErr = resolveErr
	}

	var newTable *Table
	for _, group := range candidateGroups {
		for _, router := range group {
			if attempted[router] {
				continue
			}
			attempted[router] = true

			t, err := b.discoverFrom(ctx, router)
			if err == nil {
				newTable = t
				break
			}
			if !IsNoTableFromRouter(err) {
				return nil, err
			}
		}
		if newTable != nil {
			break
		}
	}

	if newTable == nil {
		if lastResolveErr != nil {
			return nil, boltErr.New(boltErr.CodeServiceUnavailable, "unable to resolve the seed address and no known router responded", lastResolveErr)
		}
		return nil, boltErr.New(boltErr.CodeServiceUnavailable, "unable to retrieve routing information from any known router")
	}

	if len(newTable.Writers) == 0 {
		b.preferSeedRouter.Store(true)
	}

	for _, a := range purgedAddresses(old, newTable) {
		b.pool.Purge(a)
	}

	b.table.Store(newTable)
	return newTable, nil
}

func (b *Balancer) discoverFrom(ctx context.Context, router addr.ServerAddress) (*Table, error) {
	return b.discover(ctx, router, b.routingContext, b.database)
}

// resolveSeedCandidates asks the user resolver (if any) for logical host
// names, DNS-resolves each, and flattens/dedupes the result, skipping
// anything already attempted this refresh round.
func (b *Balancer) resolveSeedCandidates(attempted map[addr.ServerAddress]bool) ([]addr.ServerAddress, error) {
	hosts := []string{b.seed.Host}
	if b.resolver != nil {
		resolved, err := b.resolver(b.seed.Host)
		if err != nil {
			return nil, err
		}
		if len(resolved) > 0 {
			hosts = resolved
		}
	}

	var out []addr.ServerAddress
	seen := make(map[addr.ServerAddress]bool)
	for _, h := range hosts {
		ips, err := net.LookupHost(h)
		if err != nil {
			// Best-effort: an unresolvable logical host is skipped rather
			// than failing the whole refresh, since other hosts/routers
			// may still work.
			continue
		}
		for _, ip := range ips {
			a := addr.New(ip, b.seed.Port)
			if attempted[a] || seen[a] {
				continue
			}
			seen[a] = true
			out = append(out, a)
		}
	}
	return out, nil
}

func purgedAddresses(old, new *Table) []addr.ServerAddress {
	if old == nil {
		return nil
	}
	present := make(map[addr.ServerAddress]bool)
	for _, a := range combinedAddresses(new) {
		present[a] = true
	}
	var out []addr.ServerAddress
	seen := make(map[addr.ServerAddress]bool)
	for _, a := range combinedAddresses(old) {
		if !present[a] && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

func combinedAddresses(t *Table) []addr.ServerAddress {
	if t == nil {
		return nil
	}
	out := make([]addr.ServerAddress, 0, len(t.Routers)+len(t.Readers)+len(t.Writers))
	out = append(out, t.Routers...)
	out = append(out, t.Readers...)
	out = append(out, t.Writers...)
	return out
}
