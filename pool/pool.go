// Package pool implements the per-address connection pool: a keyed
// collection of resources (one underlying puddle.Pool per server address),
// with acquisition-timeout and lifetime/health validation layered on top.
//
// The keying and per-key lazy-creation discipline is grounded on
// nabbar-golib/cache's keyed-entry map (a mutex-guarded map[K]*entry built
// lazily on first access); the resource lifecycle itself (construct,
// acquire, validate-on-acquire, destroy) is delegated to jackc/puddle/v2,
// the same generic resource pool pgx builds its connection pool on.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/puddle/v2"

	boltErr "github.com/cypherbolt/bolt-go/errors"
)

// defaultMaxSize is used when a Config's MaxSize is left at its zero value,
// mirroring config.Config's "zero means use the default" convention rather
// than treating an unset size as unbounded.
const defaultMaxSize = 100

// Constructor creates a new resource for key. Returning an error fails the
// acquire that triggered construction.
type Constructor[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Destructor releases a resource's underlying handle (e.g. closing a
// connection). It must not panic.
type Destructor[V any] func(value V)

// Validator reports whether a resource already sitting in the pool is still
// fit to hand out -- e.g. the spec's "open AND not broken AND within
// max_connection_lifetime" check. Invalid resources are destroyed and a
// fresh one is constructed in their place.
type Validator[V any] func(value V) bool

// Config configures a Pool.
type Config[K comparable, V any] struct {
	Constructor Constructor[K, V]
	Destructor  Destructor[V]
	Validator   Validator[V]

	// MaxSize bounds the number of resources held per key. Negative means
	// unbounded (matches config.Config's negative-means-unbounded
	// convention once sanitized to math.MaxInt32); zero means "use the
	// default" (100), matching config.Config's zero-means-default
	// convention rather than silently going unbounded.
	MaxSize int32

	// AcquisitionTimeout bounds how long Acquire waits for a resource
	// before returning a ServiceUnavailable error. <=0 means no timeout
	// beyond the caller's context.
	AcquisitionTimeout time.Duration

	// Metrics, if non-nil, is updated on every acquire/release/purge.
	Metrics *Metrics
}

// Pool is a keyed collection of per-key resource pools.
type Pool[K comparable, V any] struct {
	cfg Config[K, V]

	mu    sync.Mutex
	byKey map[K]*puddle.Pool[V]
}

// New constructs a Pool. The per-key puddle.Pool instances are created
// lazily on first Acquire for that key.
func New[K comparable, V any](cfg Config[K, V]) *Pool[K, V] {
	return &Pool[K, V]{cfg: cfg, byKey: make(map[K]*puddle.Pool[V])}
}

// Resource is a handle on one acquired value; callers must call exactly one
// of Release or Destroy when done with it.
type Resource[V any] struct {
	res *puddle.Resource[V]
	key any
	p   *Metrics
}

// Value returns the underlying resource value.
func (r *Resource[V]) Value() V { return r.res.Value() }

// CreatedAt returns when the resource was constructed.
func (r *Resource[V]) CreatedAt() time.Time { return r.res.CreationTime() }

// Release returns the resource to its pool for reuse.
func (r *Resource[V]) Release() {
	r.res.Release()
	if r.p != nil {
		r.p.released.Inc()
	}
}

// Destroy discards the resource instead of returning it to the pool (used
// when the caller knows the underlying connection is broken).
func (r *Resource[V]) Destroy() {
	r.res.Destroy()
	if r.p != nil {
		r.p.destroyed.Inc()
	}
}

func (p *Pool[K, V]) poolFor(key K) *puddle.Pool[V] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pp, ok := p.byKey[key]; ok {
		return pp
	}

	maxSize := p.cfg.MaxSize
	switch {
	case maxSize < 0:
		maxSize = 1<<31 - 1
	case maxSize == 0:
		maxSize = defaultMaxSize
	}

	pp, err := puddle.NewPool(&puddle.Config[V]{
		Constructor: func(ctx context.Context) (V, error) {
			return p.cfg.Constructor(ctx, key)
		},
		Destructor: func(v V) {
			if p.cfg.Destructor != nil {
				p.cfg.Destructor(v)
			}
		},
		MaxSize: maxSize,
	})
	if err != nil {
		// puddle.NewPool only errors on a nil Constructor or non-positive
		// MaxSize, both of which are programmer errors in this package's
		// own wiring, not a runtime condition callers need to recover
		// from -- every call site above guarantees both are set.
		panic(err)
	}

	p.byKey[key] = pp
	return pp
}

// Acquire returns a resource for key, constructing one if the pool for that
// key has spare capacity and no idle resource passes Validate. Blocks until
// one is available, the configured AcquisitionTimeout elapses, or ctx is
// canceled.
func (p *Pool[K, V]) Acquire(ctx context.Context, key K) (*Resource[V], error) {
	pp := p.poolFor(key)

	acquireCtx := ctx
	var cancel context.CancelFunc
	timeoutImposed := p.cfg.AcquisitionTimeout > 0
	if timeoutImposed {
		acquireCtx, cancel = context.WithTimeout(ctx, p.cfg.AcquisitionTimeout)
		defer cancel()
	}

	for {
		res, err := pp.Acquire(acquireCtx)
		if err != nil {
			// Only a deadline this pool itself imposed is reported as a
			// pool-acquisition timeout; a caller-canceled/caller-deadlined
			// ctx, or a genuine Constructor (dial) failure, is passed
			// through with its own message instead of being misreported.
			if timeoutImposed && errors.Is(err, context.DeadlineExceeded) {
				if p.cfg.Metrics != nil {
					p.cfg.Metrics.timeouts.Inc()
				}
				return nil, boltErr.Newf(boltErr.CodeServiceUnavailable,
					"acquisition timed out after %dms", p.cfg.AcquisitionTimeout.Milliseconds())
			}
			return nil, err
		}

		if p.cfg.Validator != nil && !p.cfg.Validator(res.Value()) {
			res.Destroy()
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.destroyed.Inc()
			}
			continue
		}

		if p.cfg.Metrics != nil {
			p.cfg.Metrics.acquired.Inc()
		}
		return &Resource[V]{res: res, key: key, p: p.cfg.Metrics}, nil
	}
}

// Purge destroys every idle resource for key, used when a server is
// permanently removed from the routing table (Forget).
func (p *Pool[K, V]) Purge(key K) {
	p.mu.Lock()
	pp, ok := p.byKey[key]
	p.mu.Unlock()
	if !ok {
		return
	}
	for _, res := range pp.AcquireAllIdle() {
		res.Destroy()
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.destroyed.Inc()
		}
	}
}

// Close shuts down every per-key pool, destroying all resources.
func (p *Pool[K, V]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pp := range p.byKey {
		pp.Close()
	}
	p.byKey = make(map[K]*puddle.Pool[V])
}

// Len reports the total resources (idle + acquired) held for key.
func (p *Pool[K, V]) Len(key K) int {
	p.mu.Lock()
	pp, ok := p.byKey[key]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	return int(pp.Stat().TotalResources())
}
