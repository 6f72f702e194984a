package session

import (
	"context"
	"sync"

	"github.com/cypherbolt/bolt-go/internal/conn"
	"github.com/cypherbolt/bolt-go/pool"
	"github.com/cypherbolt/bolt-go/routing"
)

// ConnectionHolder is a ref-counted handle on a single lazily-acquired
// connection, so that several result cursors opened within one session
// share the same underlying connection instead of each grabbing their own
// from the pool. This breaks the session<->connection cyclic-reference
// concern from the design notes: the holder only ever hands out the raw
// *conn.Connection, never the pool.Resource itself, so callers cannot
// accidentally Release a shared resource out from under another cursor.
type ConnectionHolder struct {
	provider ConnectionProvider
	mode     routing.AccessMode

	mu       sync.Mutex
	resource *pool.Resource[*conn.Connection]
	refCount int
}

// NewConnectionHolder constructs a holder that acquires lazily for mode.
func NewConnectionHolder(provider ConnectionProvider, mode routing.AccessMode) *ConnectionHolder {
	return &ConnectionHolder{provider: provider, mode: mode}
}

// Acquire increments the ref count, acquiring a connection from the
// provider on the first call. Every successful Acquire must be matched by
// exactly one Release.
func (h *ConnectionHolder) Acquire(ctx context.Context) (*conn.Connection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.resource == nil {
		res, err := h.provider.Acquire(ctx, h.mode)
		if err != nil {
			return nil, err
		}
		h.resource = res
	}
	h.refCount++
	return h.resource.Value(), nil
}

// Current returns the currently held connection without changing the ref
// count, or nil if none is held.
func (h *ConnectionHolder) Current() *conn.Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resource == nil {
		return nil
	}
	return h.resource.Value()
}

// Release decrements the ref count; once it reaches zero the underlying
// connection is returned to the pool (or destroyed, if it is no longer
// open).
func (h *ConnectionHolder) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.resource == nil {
		return
	}
	h.refCount--
	if h.refCount > 0 {
		return
	}

	res := h.resource
	h.resource = nil
	if res.Value().IsOpen() {
		res.Release()
	} else {
		res.Destroy()
	}
}

// Close forcibly drops the held connection regardless of ref count, used
// when a session is closed with cursors still technically open.
func (h *ConnectionHolder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resource == nil {
		return
	}
	res := h.resource
	h.resource = nil
	h.refCount = 0
	if res.Value().IsOpen() {
		res.Release()
	} else {
		res.Destroy()
	}
}
