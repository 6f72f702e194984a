package conn_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/cypherbolt/bolt-go/addr"
	"github.com/cypherbolt/bolt-go/internal/chunk"
	"github.com/cypherbolt/bolt-go/internal/codec"
	"github.com/cypherbolt/bolt-go/internal/conn"
	"github.com/cypherbolt/bolt-go/internal/proto"
)

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

// fakeServer accepts exactly one connection, answers the 20-byte handshake
// with version 4, then answers HELLO with SUCCESS{server, connection_id}.
func fakeServer(t *testing.T, ln net.Listener, extra func(conn net.Conn)) {
	t.Helper()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		handshake := make([]byte, 20)
		if _, err := readFull(c, handshake); err != nil {
			return
		}
		resp := make([]byte, 4)
		binary.BigEndian.PutUint32(resp, 4)
		if _, err := c.Write(resp); err != nil {
			return
		}

		helloSuccess := encodeMessage(t, codec.Structure{
			Signature: proto.SigSuccess,
			Fields: []any{map[string]any{
				"server":        "Neo4j/5.1.0",
				"connection_id": "bolt-123",
			}},
		})
		if _, err := c.Write(helloSuccess); err != nil {
			return
		}

		if extra != nil {
			extra(c)
		}
	}()
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestOpenPerformsHandshakeAndHello(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	fakeServer(t, ln, nil)

	tcpAddr := ln.Addr().(*net.TCPAddr)
	a := addr.New("127.0.0.1", tcpAddr.Port)

	c, err := conn.Open(context.Background(), a, conn.DialConfig{
		ConnectTimeout: time.Second,
		UserAgent:      "bolt-go-test/1.0",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	if c.ProtocolVersion() != 4 {
		t.Fatalf("got protocol version %d", c.ProtocolVersion())
	}
	if c.ServerInfo().Agent != "Neo4j/5.1.0" {
		t.Fatalf("got server agent %q", c.ServerInfo().Agent)
	}
	if c.ServerInfo().ConnectionID != "bolt-123" {
		t.Fatalf("got connection id %q", c.ServerInfo().ConnectionID)
	}
	if !c.IsOpen() {
		t.Fatal("expected connection to be open after a successful hello")
	}
	if c.Address() != a {
		t.Fatalf("got address %v want %v", c.Address(), a)
	}
}

func TestRunPullRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	recordMsg := encodeMessage(t, codec.Structure{
		Signature: proto.SigRecord,
		Fields:    []any{[]any{int64(1)}},
	})
	runSuccess := encodeMessage(t, codec.Structure{
		Signature: proto.SigSuccess,
		Fields:    []any{map[string]any{"fields": []any{"n"}}},
	})
	pullSuccess := encodeMessage(t, codec.Structure{
		Signature: proto.SigSuccess,
		Fields:    []any{map[string]any{"has_more": false}},
	})

	fakeServer(t, ln, func(c net.Conn) {
		if _, err := c.Write(runSuccess); err != nil {
			return
		}
		if _, err := c.Write(recordMsg); err != nil {
			return
		}
		c.Write(pullSuccess)
		time.Sleep(200 * time.Millisecond)
	})

	tcpAddr := ln.Addr().(*net.TCPAddr)
	a := addr.New("127.0.0.1", tcpAddr.Port)

	c, err := conn.Open(context.Background(), a, conn.DialConfig{
		ConnectTimeout: time.Second,
		UserAgent:      "bolt-go-test/1.0",
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	runDone := make(chan struct{})
	pullDone := make(chan struct{})
	var records []any

	runObs := conn.RunObserver{
		Completed: func(map[string]any) { close(runDone) },
		Failed:    func(error) { close(runDone) },
	}
	pullObs := conn.RunObserver{
		Next:      func(r any) { records = append(records, r) },
		Completed: func(map[string]any) { close(pullDone) },
		Failed:    func(error) { close(pullDone) },
	}

	if err := c.Run("RETURN 1 AS n", nil, nil, runObs); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := c.PullAll(pullObs); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for run completion")
	}
	select {
	case <-pullDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pull completion")
	}

	if len(records) != 1 {
		t.Fatalf("got %d records", len(records))
	}
}
