// Package ring implements a rotating index over a slice, the sole source of
// ordering policy for round-robin server selection.
//
// This resolves the two open questions the protocol specification flags
// about the duplicated legacy implementation: the index wraps modulo the
// CURRENT length (the later, bug-free semantics -- the legacy
// RoundRobinArray.hop used length-1, an off-by-one), and on removal the
// index is clamped to the new length rather than left dangling.
package ring

import "sync"

// Index is a concurrency-safe rotating index. It holds no data of its own;
// callers pass the current slice to Next each time, so Index composes with
// any immutable-snapshot slice (e.g. a routing table's reader/writer list)
// without the ring needing to own or mutate that slice.
type Index struct {
	mu  sync.Mutex
	pos int
}

// NextIndex returns the next index in [0, length) and advances the
// rotation, clamping the stored position to the current length first (so
// shrinking the underlying slice between calls never produces an
// out-of-range index).
func (i *Index) NextIndex(length int) (int, bool) {
	if length <= 0 {
		return 0, false
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pos >= length {
		i.pos = i.pos % length
	}
	v := i.pos
	i.pos = (i.pos + 1) % length
	return v, true
}

// Reset clears the rotation back to position 0.
func (i *Index) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pos = 0
}
