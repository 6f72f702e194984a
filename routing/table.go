// Package routing implements the cluster routing table, the rediscovery
// protocol that refreshes it, and the load-balancer connection provider
// built on top of it. The table itself is an immutable snapshot swapped in
// by pointer, grounded on nabbar-golib/database's hot-swap of its active
// connection handle via atomic.Value (here a generics-typed
// atomic.Pointer[Table], so readers never block on a writer rebuilding the
// table).
package routing

import (
	"math"
	"time"

	"github.com/cypherbolt/bolt-go/addr"
)

// NumericMax is the sentinel expiration used when a table should be treated
// as never expiring naturally (TTL absent, negative, or the arithmetic to
// compute an absolute expiry overflowed).
const NumericMax = int64(math.MaxInt64)

// AccessMode selects which server list a Table lookup draws from.
type AccessMode int

const (
	// Write is the zero value, so an unset access mode means Write.
	Write AccessMode = iota
	Read
)

// Table is an immutable snapshot of one cluster's routing information.
// Replace, never mutate: the load balancer swaps in a new *Table rather
// than editing fields of the current one, so any goroutine holding a
// reference sees a consistent view.
type Table struct {
	Routers        []addr.ServerAddress
	Readers        []addr.ServerAddress
	Writers        []addr.ServerAddress
	ExpirationTime int64 // unix millis; compare against a caller-supplied "now"
}

// IsStale reports whether the table has passed its expiration or is missing
// entries mode needs (an empty reader list is always stale for Read; an
// empty writer list is stale for Write but is a normal, valid state the
// minority-partition heuristic reacts to rather than an error).
func (t *Table) IsStale(mode AccessMode, nowMillis int64) bool {
	if t == nil {
		return true
	}
	if t.ExpirationTime <= nowMillis {
		return true
	}
	switch mode {
	case Read:
		return len(t.Readers) == 0
	case Write:
		return len(t.Writers) == 0
	default:
		return true
	}
}

// ServersFor returns the address list a selection strategy should choose
// from for mode.
func (t *Table) ServersFor(mode AccessMode) []addr.ServerAddress {
	if mode == Write {
		return t.Writers
	}
	return t.Readers
}

// withoutFromAll returns a copy of t with target removed from every role
// list, used by Forget. A nil receiver returns nil.
func (t *Table) withoutFromAll(target addr.ServerAddress) *Table {
	if t == nil {
		return nil
	}
	return &Table{
		Routers:        removeAddr(t.Routers, target),
		Readers:        removeAddr(t.Readers, target),
		Writers:        removeAddr(t.Writers, target),
		ExpirationTime: t.ExpirationTime,
	}
}

// withoutFromWriters returns a copy of t with target removed only from
// Writers, used by ForgetWriter (NotALeader-class errors: the address may
// still be a perfectly good router or reader).
func (t *Table) withoutFromWriters(target addr.ServerAddress) *Table {
	if t == nil {
		return nil
	}
	return &Table{
		Routers:        t.Routers,
		Readers:        t.Readers,
		Writers:        removeAddr(t.Writers, target),
		ExpirationTime: t.ExpirationTime,
	}
}

func removeAddr(list []addr.ServerAddress, target addr.ServerAddress) []addr.ServerAddress {
	out := make([]addr.ServerAddress, 0, len(list))
	for _, a := range list {
		if a != target {
			out = append(out, a)
		}
	}
	return out
}

// expirationFromTTL implements the TTL parsing rule: expiration_time =
// min(now + ttl*1000, NumericMax); a negative TTL, or arithmetic overflow,
// collapses to NumericMax so the table never expires naturally rather than
// expiring immediately or wrapping negative.
func expirationFromTTL(nowMillis int64, ttlSeconds int64) int64 {
	if ttlSeconds < 0 {
		return NumericMax
	}
	const maxMillisFromSeconds = math.MaxInt64 / 1000
	if ttlSeconds > maxMillisFromSeconds {
		return NumericMax
	}
	ttlMillis := ttlSeconds * 1000
	if nowMillis > NumericMax-ttlMillis {
		return NumericMax
	}
	return nowMillis + ttlMillis
}

// nowMillis returns the wall-clock time in unix milliseconds, so the table's
// expiry compares against time.Now.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
