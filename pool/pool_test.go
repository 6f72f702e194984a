package pool_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cypherbolt/bolt-go/pool"
)

type fakeConn struct {
	id     int32
	broken bool
}

func TestAcquireReleaseReusesResource(t *testing.T) {
	var nextID int32
	p := pool.New(pool.Config[string, *fakeConn]{
		Constructor: func(ctx context.Context, key string) (*fakeConn, error) {
			return &fakeConn{id: atomic.AddInt32(&nextID, 1)}, nil
		},
		MaxSize: 2,
	})
	defer p.Close()

	r1, err := p.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	firstID := r1.Value().id
	r1.Release()

	r2, err := p.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	defer r2.Release()

	if r2.Value().id != firstID {
		t.Fatalf("expected the released resource to be reused, got new id %d want %d", r2.Value().id, firstID)
	}
}

// TestAcquisitionTimeout exercises the acquisition-timeout scenario: a
// single-capacity pool with its one resource held forever must fail a
// second Acquire once the configured timeout elapses, with a retryable
// ServiceUnavailable error.
func TestAcquisitionTimeout(t *testing.T) {
	p := pool.New(pool.Config[string, *fakeConn]{
		Constructor: func(ctx context.Context, key string) (*fakeConn, error) {
			return &fakeConn{}, nil
		},
		MaxSize:            1,
		AcquisitionTimeout: 50 * time.Millisecond,
	})
	defer p.Close()

	held, err := p.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	start := time.Now()
	_, err = p.Acquire(context.Background(), "a")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected the second acquire to time out")
	}
	if elapsed > time.Second {
		t.Fatalf("acquire took too long: %v", elapsed)
	}
}

// TestAcquireConstructorFailurePassesThrough ensures a dial/Constructor
// error is surfaced with its own message, not misreported as a pool
// acquisition timeout.
func TestAcquireConstructorFailurePassesThrough(t *testing.T) {
	p := pool.New(pool.Config[string, *fakeConn]{
		Constructor: func(ctx context.Context, key string) (*fakeConn, error) {
			return nil, errors.New("connection refused")
		},
		MaxSize:            1,
		AcquisitionTimeout: time.Second,
	})
	defer p.Close()

	_, err := p.Acquire(context.Background(), "a")
	if err == nil {
		t.Fatal("expected the constructor error to propagate")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected the constructor's own message, got %v", err)
	}
	if strings.Contains(err.Error(), "timed out") {
		t.Fatalf("constructor failure must not be misreported as a timeout, got %v", err)
	}
}

func TestValidatorDestroysInvalidResource(t *testing.T) {
	var constructed int32
	p := pool.New(pool.Config[string, *fakeConn]{
		Constructor: func(ctx context.Context, key string) (*fakeConn, error) {
			atomic.AddInt32(&constructed, 1)
			return &fakeConn{}, nil
		},
		Validator: func(c *fakeConn) bool { return !c.broken },
		MaxSize:   2,
	})
	defer p.Close()

	r1, err := p.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	r1.Value().broken = true
	r1.Release()

	r2, err := p.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	defer r2.Release()

	if atomic.LoadInt32(&constructed) != 2 {
		t.Fatalf("expected the broken resource to be destroyed and a fresh one constructed, got %d constructions",
			constructed)
	}
}

func TestPurgeDestroysIdleResources(t *testing.T) {
	p := pool.New(pool.Config[string, *fakeConn]{
		Constructor: func(ctx context.Context, key string) (*fakeConn, error) {
			return &fakeConn{}, nil
		},
		MaxSize: 2,
	})
	defer p.Close()

	r, err := p.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	r.Release()

	if p.Len("a") != 1 {
		t.Fatalf("expected 1 idle resource, got %d", p.Len("a"))
	}

	p.Purge("a")

	if p.Len("a") != 0 {
		t.Fatalf("expected purge to destroy the idle resource, got len %d", p.Len("a"))
	}
}
