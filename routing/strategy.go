package routing

import (
	boltErr "github.com/cypherbolt/bolt-go/errors"

	"github.com/cypherbolt/bolt-go/addr"
	"github.com/cypherbolt/bolt-go/internal/ring"
)

// Strategy picks one address out of a non-empty candidate list. Readers and
// writers use independent rotation state so exhausting one doesn't bias
// the other.
type Strategy interface {
	SelectReader(readers []addr.ServerAddress) (addr.ServerAddress, error)
	SelectWriter(writers []addr.ServerAddress) (addr.ServerAddress, error)
}

// RoundRobin is the default Strategy: each call advances an independent
// rotating index per role, built on internal/ring.Index so the wrap-on-
// removal and modulus-by-current-length semantics match the rest of the
// driver's rotation policy.
type RoundRobin struct {
	readerIdx ring.Index
	writerIdx ring.Index
}

// NewRoundRobin constructs a fresh RoundRobin strategy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (rr *RoundRobin) SelectReader(readers []addr.ServerAddress) (addr.ServerAddress, error) {
	return selectFrom(&rr.readerIdx, readers)
}

func (rr *RoundRobin) SelectWriter(writers []addr.ServerAddress) (addr.ServerAddress, error) {
	return selectFrom(&rr.writerIdx, writers)
}

func selectFrom(idx *ring.Index, candidates []addr.ServerAddress) (addr.ServerAddress, error) {
	i, ok := idx.NextIndex(len(candidates))
	if !ok {
		return addr.ServerAddress{}, boltErr.New(boltErr.CodeSessionExpired, "no servers available for the requested access mode")
	}
	return candidates[i], nil
}
