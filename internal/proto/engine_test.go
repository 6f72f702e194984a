package proto_test

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/cypherbolt/bolt-go/addr"
	boltErr "github.com/cypherbolt/bolt-go/errors"
	"github.com/cypherbolt/bolt-go/internal/chunk"
	"github.com/cypherbolt/bolt-go/internal/codec"
	"github.com/cypherbolt/bolt-go/internal/proto"
	"github.com/cypherbolt/bolt-go/internal/transport"
)

// recObserver records every event delivered to it, for assertion.
type recObserver struct {
	records   []any
	completed map[string]any
	err       error
	done      chan struct{}
}

func newRecObserver() *recObserver {
	return &recObserver{done: make(chan struct{})}
}

func (o *recObserver) OnNext(record any) { o.records = append(o.records, record) }
func (o *recObserver) OnCompleted(meta map[string]any) {
	o.completed = meta
	close(o.done)
}
func (o *recObserver) OnError(err error) {
	o.err = err
	close(o.done)
}

func encodeMessage(t *testing.T, s codec.Structure) []byte {
	t.Helper()
	var buf bytes.Buffer
	cw := chunk.NewWriter(&buf)
	p := codec.NewPacker(cw)
	if err := p.Pack(s); err != nil {
		t.Fatalf("pack: %v", err)
	}
	cw.MessageBoundary()
	if err := cw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return buf.Bytes()
}

// TestFailureRecoveryScenario exercises scenario 2 from the protocol
// engine's design: RUN("INVALID") followed by PULL. The server answers with
// FAILURE then IGNORED; the RUN observer sees the real SyntaxError, the
// PULL observer sees the *same* cached error (not a synthetic "ignored"
// one), and the engine autonomously clears the failure with RESET before
// the connection is handed back for reuse.
func TestFailureRecoveryScenario(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	failureMsg := encodeMessage(t, codec.Structure{
		Signature: proto.SigFailure,
		Fields: []any{map[string]any{
			"code":    "Neo.ClientError.Statement.SyntaxError",
			"message": "Invalid input 'INVALID'",
		}},
	})
	ignoredMsg := encodeMessage(t, codec.Structure{Signature: proto.SigIgnored})
	resetSuccessMsg := encodeMessage(t, codec.Structure{
		Signature: proto.SigSuccess,
		Fields:    []any{map[string]any{}},
	})

	serverErrCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverErrCh <- err
			return
		}
		defer conn.Close()

		if _, err := conn.Write(failureMsg); err != nil {
			serverErrCh <- err
			return
		}
		if _, err := conn.Write(ignoredMsg); err != nil {
			serverErrCh <- err
			return
		}

		// Block until the client's RESET arrives, then acknowledge it.
		buf := make([]byte, 256)
		if _, err := conn.Read(buf); err != nil {
			serverErrCh <- err
			return
		}
		if _, err := conn.Write(resetSuccessMsg); err != nil {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	a := addr.New("127.0.0.1", tcpAddr.Port)

	ch, err := transport.Dial(context.Background(), a, nil, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ch.Close()
	if err := ch.MarkHandshakeComplete(); err != nil {
		t.Fatalf("mark handshake complete: %v", err)
	}

	engine := proto.NewEngine(ch, false, false)

	runObs := newRecObserver()
	pullObs := newRecObserver()

	if err := engine.Send(proto.NewRun("INVALID", nil, nil), runObs); err != nil {
		t.Fatalf("send run: %v", err)
	}
	if err := engine.Send(proto.NewPullAll(), pullObs); err != nil {
		t.Fatalf("send pull: %v", err)
	}
	if err := engine.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// FAILURE -> RUN observer, triggers RESET.
	if err := engine.ReadOne(); err != nil {
		t.Fatalf("read failure: %v", err)
	}
	// IGNORED -> PULL observer.
	if err := engine.ReadOne(); err != nil {
		t.Fatalf("read ignored: %v", err)
	}
	// SUCCESS -> recovery observer (clears recovering internally).
	if err := engine.ReadOne(); err != nil {
		t.Fatalf("read reset success: %v", err)
	}

	select {
	case err := <-serverErrCh:
		if err != nil {
			t.Fatalf("server: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server")
	}

	<-runObs.done
	<-pullObs.done

	runErr := boltErr.Get(runObs.err)
	if runErr == nil {
		t.Fatalf("expected run observer to receive a classified Error, got %v", runObs.err)
	}
	if runErr.Code() != boltErr.CodeClientError {
		t.Fatalf("expected ClientError for a syntax error, got %v", runErr.Code())
	}

	pullErr := boltErr.Get(pullObs.err)
	if pullErr == nil {
		t.Fatalf("expected pull observer to receive a classified Error, got %v", pullObs.err)
	}
	if pullErr.Error() != runErr.Error() {
		t.Fatalf("expected the pull observer to see the same cached failure, got %q want %q",
			pullErr.Error(), runErr.Error())
	}
}
