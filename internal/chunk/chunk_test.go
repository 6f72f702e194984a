package chunk_test

import (
	"bytes"
	"testing"

	"github.com/cypherbolt/bolt-go/internal/chunk"
)

func TestWriterTerminatesOnMessageBoundary(t *testing.T) {
	var out bytes.Buffer
	w := chunk.NewWriter(&out)
	_, _ = w.Write([]byte("hello"))
	w.MessageBoundary()
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	r := chunk.NewReader(&out)
	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestWriterSplitsLargePayloadAcrossChunks(t *testing.T) {
	var out bytes.Buffer
	w := chunk.NewWriter(&out)
	payload := bytes.Repeat([]byte{0xAB}, chunk.MaxChunkSize+100)
	_, _ = w.Write(payload)
	w.MessageBoundary()
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	r := chunk.NewReader(&out)
	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestFlushIsNoopWhenNothingBuffered(t *testing.T) {
	var out bytes.Buffer
	w := chunk.NewWriter(&out)
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no bytes written, got %d", out.Len())
	}
}

func TestMultipleMessagesInOneFlush(t *testing.T) {
	var out bytes.Buffer
	w := chunk.NewWriter(&out)
	_, _ = w.Write([]byte("one"))
	w.MessageBoundary()
	_, _ = w.Write([]byte("two"))
	w.MessageBoundary()
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	r := chunk.NewReader(&out)
	first, err := r.ReadMessage()
	if err != nil || string(first) != "one" {
		t.Fatalf("first message: %q, err %v", first, err)
	}
	second, err := r.ReadMessage()
	if err != nil || string(second) != "two" {
		t.Fatalf("second message: %q, err %v", second, err)
	}
}
