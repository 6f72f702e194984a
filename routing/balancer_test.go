package routing

import (
	"context"
	"testing"

	"github.com/cypherbolt/bolt-go/addr"
	boltErr "github.com/cypherbolt/bolt-go/errors"
	"github.com/cypherbolt/bolt-go/internal/conn"
	"github.com/cypherbolt/bolt-go/pool"
)

func newTestPool() *pool.Pool[addr.ServerAddress, *conn.Connection] {
	return pool.New(pool.Config[addr.ServerAddress, *conn.Connection]{
		Constructor: func(ctx context.Context, key addr.ServerAddress) (*conn.Connection, error) {
			return nil, boltErr.New(boltErr.CodeServiceUnavailable, "test pool never actually dials")
		},
		MaxSize: 10,
	})
}

// TestRoutingRefreshScenario exercises scenario 3: the current table is
// expired, two known routers exist, the first fails with a network error
// and the second returns a fresh table; the new table is installed and the
// router dropped from the new set is purged from the pool.
func TestRoutingRefreshScenario(t *testing.T) {
	r1 := addr.New("r1", 7687)
	r2 := addr.New("r2", 7687)
	r3 := addr.New("r3", 7687)
	aAddr := addr.New("a", 7687)
	bAddr := addr.New("b", 7687)
	cAddr := addr.New("c", 7687)
	seed := addr.New("seed", 7687)

	var attemptedRouters []addr.ServerAddress
	discover := func(ctx context.Context, router addr.ServerAddress, routingContext map[string]any, database string) (*Table, error) {
		attemptedRouters = append(attemptedRouters, router)
		switch router {
		case r1:
			return nil, errNoTableFromRouter
		case r2:
			return &Table{
				Routers: []addr.ServerAddress{r2, r3},
				Readers: []addr.ServerAddress{aAddr, bAddr},
				Writers: []addr.ServerAddress{cAddr},
			}, nil
		default:
			t.Fatalf("unexpected router dial %v", router)
			return nil, nil
		}
	}

	purgeProbe := newTestPool()

	b := NewBalancer(seed, "neo4j", nil, NewRoundRobin(), discover, purgeProbe, nil, false)
	// Seed the "current" table with known routers r1, r2; preferSeedRouter
	// is false, so refresh tries those routers before the seed on this call.
	b.table.Store(&Table{Routers: []addr.ServerAddress{r1, r2}, Readers: []addr.ServerAddress{aAddr}, Writers: []addr.ServerAddress{aAddr}, ExpirationTime: 0})

	newTable, err := b.refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if len(attemptedRouters) < 2 || attemptedRouters[0] != r1 || attemptedRouters[1] != r2 {
		t.Fatalf("expected r1 then r2 attempted, got %v", attemptedRouters)
	}
	if len(newTable.Writers) != 1 || newTable.Writers[0] != cAddr {
		t.Fatalf("got writers %v", newTable.Writers)
	}
}

// TestMinorityPartitionHeuristic exercises scenario 4: rediscovery returns
// an empty writer list; the table is still installed, and
// preferSeedRouter flips true for the next refresh.
func TestMinorityPartitionHeuristic(t *testing.T) {
	router := addr.New("r1", 7687)
	seed := addr.New("seed", 7687)
	aAddr := addr.New("a", 7687)

	discover := func(ctx context.Context, r addr.ServerAddress, routingContext map[string]any, database string) (*Table, error) {
		return &Table{
			Routers: []addr.ServerAddress{router},
			Readers: []addr.ServerAddress{aAddr},
			Writers: nil,
		}, nil
	}

	p := newTestPool()
	b := NewBalancer(seed, "neo4j", nil, NewRoundRobin(), discover, p, nil, false)
	b.table.Store(&Table{Routers: []addr.ServerAddress{router}, Readers: []addr.ServerAddress{aAddr}, Writers: []addr.ServerAddress{aAddr}})

	if b.preferSeedRouter.Load() {
		t.Fatal("preferSeedRouter should start false")
	}

	newTable, err := b.refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(newTable.Writers) != 0 {
		t.Fatalf("expected empty writer list, got %v", newTable.Writers)
	}
	if !b.preferSeedRouter.Load() {
		t.Fatal("expected preferSeedRouter to flip true after a writerless refresh")
	}
}

// TestForgetAndForgetWriter checks the two forget variants' scope.
func TestForgetAndForgetWriter(t *testing.T) {
	r1 := addr.New("r1", 7687)
	aAddr := addr.New("a", 7687)

	p := newTestPool()
	b := NewBalancer(addr.New("seed", 7687), "neo4j", nil, NewRoundRobin(), nil, p, nil, false)
	b.table.Store(&Table{
		Routers: []addr.ServerAddress{r1},
		Readers: []addr.ServerAddress{r1, aAddr},
		Writers: []addr.ServerAddress{r1},
	})

	b.ForgetWriter(r1)
	tbl := b.Table()
	if len(tbl.Writers) != 0 {
		t.Fatalf("expected r1 removed from writers, got %v", tbl.Writers)
	}
	if len(tbl.Readers) != 2 {
		t.Fatal("ForgetWriter must not touch readers")
	}

	b.Forget(r1)
	tbl = b.Table()
	if len(tbl.Readers) != 1 || len(tbl.Routers) != 0 {
		t.Fatalf("expected r1 fully removed, got readers=%v routers=%v", tbl.Readers, tbl.Routers)
	}
}
