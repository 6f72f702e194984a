// Package transport implements the Channel: an async-capable TCP/TLS byte
// transport that buffers outbound writes until the handshake completes,
// grounded on the connection-buffering discipline in Atsika-aznet's Conn
// (wmu-guarded write buffer, a dedicated flush path serialized by its own
// lock) adapted here to a plain net.Conn instead of a Noise-encrypted one.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/cypherbolt/bolt-go/addr"
	boltErr "github.com/cypherbolt/bolt-go/errors"
)

// Channel owns one net.Conn (plain TCP or TLS) and buffers writes issued
// before the handshake completes, so nothing written through Write reaches
// the wire ahead of the version handshake; conn.Open runs the handshake
// synchronously and calls MarkHandshakeComplete before sending any request.
type Channel struct {
	conn net.Conn
	addr addr.ServerAddress

	// wmu guards pending and handshakeDone. Held only for buffer
	// manipulation, never across a network call.
	wmu           sync.Mutex
	handshakeDone bool
	pending       bytes.Buffer
}

// Dial opens a TCP connection to address, optionally upgrading to TLS when
// tlsConfig is non-nil. connectTimeout <= 0 disables the dial deadline
// entirely, per the protocol spec's connection_timeout_ms semantics.
func Dial(ctx context.Context, address addr.ServerAddress, tlsConfig *tls.Config, connectTimeout time.Duration) (*Channel, error) {
	dialer := &net.Dialer{}
	if connectTimeout > 0 {
		dialer.Timeout = connectTimeout
	}

	var (
		conn net.Conn
		err  error
	)
	if tlsConfig != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", address.String(), tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address.String())
	}
	if err != nil {
		return nil, boltErr.New(boltErr.CodeServiceUnavailable, "dial "+address.String()+" failed", err)
	}

	return &Channel{conn: conn, addr: address}, nil
}

// Address returns the remote server address this channel is connected to.
func (c *Channel) Address() addr.ServerAddress { return c.addr }

// MarkHandshakeComplete releases any writes buffered before the handshake
// finished, flushing them to the underlying connection in the order they
// were queued.
func (c *Channel) MarkHandshakeComplete() error {
	c.wmu.Lock()
	c.handshakeDone = true
	buffered := c.pending.Bytes()
	var toFlush []byte
	if len(buffered) > 0 {
		toFlush = append([]byte(nil), buffered...)
		c.pending.Reset()
	}
	c.wmu.Unlock()

	if toFlush == nil {
		return nil
	}
	_, err := c.conn.Write(toFlush)
	return err
}

// Write implements io.Writer. Before the handshake completes, writes are
// buffered in memory rather than sent, since the wire format before the
// handshake response is strictly the magic preamble and the 4 version
// proposals -- application
// messages must not be interleaved with it.
func (c *Channel) Write(p []byte) (int, error) {
	c.wmu.Lock()
	done := c.handshakeDone
	if !done {
		n, err := c.pending.Write(p)
		c.wmu.Unlock()
		return n, err
	}
	c.wmu.Unlock()

	return c.conn.Write(p)
}

// WriteHandshake sends raw handshake bytes directly to the connection,
// bypassing the pending-write buffer (the handshake writer is the only
// caller allowed to write before MarkHandshakeComplete).
func (c *Channel) WriteHandshake(p []byte) error {
	_, err := c.conn.Write(p)
	return err
}

// Read implements io.Reader, delegating directly to the underlying
// connection; reads are never buffered here (the chunk.Reader above this
// layer owns read-side buffering).
func (c *Channel) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// SetDeadline proxies to the underlying connection. The protocol engine does
// not call it, so reads in its loop have no deadline.
func (c *Channel) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}
