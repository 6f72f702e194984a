package transport_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cypherbolt/bolt-go/addr"
	"github.com/cypherbolt/bolt-go/internal/transport"
)

func TestWriteBuffersUntilHandshakeComplete(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		n, _ := conn.Read(buf)
		serverDone <- buf[:n]
	}()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	a := addr.New("127.0.0.1", tcpAddr.Port)

	ch, err := transport.Dial(context.Background(), a, nil, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ch.Close()

	n, err := ch.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}

	select {
	case got := <-serverDone:
		t.Fatalf("expected no bytes before handshake completes, got %q", got)
	case <-time.After(100 * time.Millisecond):
	}

	if err := ch.MarkHandshakeComplete(); err != nil {
		t.Fatalf("mark complete: %v", err)
	}

	select {
	case got := <-serverDone:
		if string(got) != "hello" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for buffered write to flush")
	}
}
