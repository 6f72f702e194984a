// Package proto implements the protocol engine: the state machine that sits
// between the wire codec/chunker and the connection, correlating requests
// with responses through a FIFO observer queue (the same promised-response
// discipline franz-go's broker connection applies to Kafka requests) and
// running the failure-recovery state machine that keeps one bad query from
// poisoning the rest of the connection's lifetime.
package proto

import (
	"bufio"
	"bytes"
	"sync"

	"github.com/hashicorp/go-multierror"

	boltErr "github.com/cypherbolt/bolt-go/errors"
	"github.com/cypherbolt/bolt-go/internal/chunk"
	"github.com/cypherbolt/bolt-go/internal/codec"
	"github.com/cypherbolt/bolt-go/internal/obsqueue"
	"github.com/cypherbolt/bolt-go/internal/transport"
)

// ignoredSentinel is the synthetic error delivered to an IGNORED response
// that was not itself triggered by a FAILURE seen on this connection (e.g. a
// PULL sent after the user called Reset concurrently).
var ignoredSentinel = boltErr.New(boltErr.CodeClientError, "message ignored by the server")

// Engine owns one connection's read/write framing and request/response
// correlation. Send and Flush are serialized by the engine's own write lock,
// so the recovery RESET sent from the reader loop cannot interleave with a
// caller's write; ReadOne is expected to be driven by a single dedicated
// reader loop.
type Engine struct {
	ch     *transport.Channel
	packer *codec.Packer
	chunkW *chunk.Writer
	chunkR *chunk.Reader

	queue                   *obsqueue.Queue
	useAckFailure           bool // legacy (<v3) connections clear failures with ACK_FAILURE, not RESET
	disableLosslessIntegers bool

	wmu sync.Mutex // serializes Send and Flush

	mu          sync.Mutex
	recovering  bool
	recoveryErr error
	fatal       error
}

// NewEngine wraps ch with the chunker and codec layers and prepares the
// FIFO dispatch queue. useAckFailure selects the legacy failure-clearing
// message for protocol versions that predate RESET's dual purpose.
func NewEngine(ch *transport.Channel, disableLosslessIntegers bool, useAckFailure bool) *Engine {
	cw := chunk.NewWriter(ch)
	cr := chunk.NewReader(bufio.NewReader(ch))
	return &Engine{
		ch:                      ch,
		packer:                  codec.NewPacker(cw),
		chunkW:                  cw,
		chunkR:                  cr,
		queue:                   &obsqueue.Queue{},
		useAckFailure:           useAckFailure,
		disableLosslessIntegers: disableLosslessIntegers,
	}
}

// SetByteArraySupport toggles the packer's byte-array capability; called by
// the init observer once the server's version is known.
func (e *Engine) SetByteArraySupport(ok bool) {
	e.packer.SetByteArraySupport(ok)
}

// Fatal returns the connection-ending error recorded after an unrecognized
// message, if any.
func (e *Engine) Fatal() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatal
}

// Send packs msg as a single logical message (structure + boundary) and
// registers obs as the observer awaiting its response. It does not flush;
// callers pipeline several Send calls before a single Flush so e.g. RUN and
// PULL reach the server in one write.
func (e *Engine) Send(msg codec.Structure, obs obsqueue.Observer) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	if err := e.packer.Pack(msg); err != nil {
		return err
	}
	e.chunkW.MessageBoundary()
	e.queue.Push(obs)
	return nil
}

// Flush writes every buffered chunk to the channel.
func (e *Engine) Flush() error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	return e.chunkW.Flush()
}

// ReadOne reads and dispatches exactly one response message. It blocks on
// the underlying connection's Read. Callers drive this in a loop (typically
// one per connection) until it returns an error, at which point the
// connection is no longer usable.
func (e *Engine) ReadOne() error {
	payload, err := e.chunkR.ReadMessage()
	if err != nil {
		e.broadcastFatal(boltErr.New(boltErr.CodeFatalConnection, "failed to read response", err))
		return err
	}

	u := codec.NewUnpacker(bytes.NewReader(payload), e.disableLosslessIntegers)
	val, err := u.Unpack()
	if err != nil {
		fatalErr := boltErr.New(boltErr.CodeFatalConnection, "failed to decode response", err)
		e.broadcastFatal(fatalErr)
		return fatalErr
	}

	msg, ok := val.(codec.Structure)
	if !ok {
		fatalErr := boltErr.Newf(boltErr.CodeFatalConnection, "expected a structure response, got %T", val)
		e.broadcastFatal(fatalErr)
		return fatalErr
	}

	return e.dispatch(msg)
}

func (e *Engine) dispatch(msg codec.Structure) error {
	switch msg.Signature {
	case SigRecord:
		obs := e.queue.Current()
		if obs != nil {
			var record any
			if len(msg.Fields) > 0 {
				record = msg.Fields[0]
			}
			obs.OnNext(record)
		}
		return nil

	case SigSuccess:
		obs := e.queue.Pop()
		meta := firstMeta(msg.Fields)

		e.mu.Lock()
		wasRecovering := e.recovering
		if wasRecovering {
			e.recovering = false
			e.recoveryErr = nil
		}
		e.mu.Unlock()

		if obs != nil {
			obs.OnCompleted(meta)
		}
		return nil

	case SigFailure:
		obs := e.queue.Pop()
		code, transient, message := classifyFailure(firstMeta(msg.Fields))
		var failErr boltErr.Error
		if code == boltErr.CodeTransientError {
			failErr = boltErr.NewTransient(transient, message)
		} else {
			failErr = boltErr.New(code, message)
		}

		e.mu.Lock()
		e.recovering = true
		e.recoveryErr = failErr
		e.mu.Unlock()

		if obs != nil {
			obs.OnError(failErr)
		}
		return e.sendRecovery()

	case SigIgnored:
		obs := e.queue.Pop()
		e.mu.Lock()
		cached := e.recoveryErr
		e.mu.Unlock()

		if obs != nil {
			if cached != nil {
				obs.OnError(cached)
			} else {
				obs.OnError(ignoredSentinel)
			}
		}
		return nil

	default:
		fatalErr := boltErr.Newf(boltErr.CodeFatalConnection, "unrecognized response signature 0x%02X", msg.Signature)
		e.broadcastFatal(fatalErr)
		return fatalErr
	}
}

// recoveryObserver clears the recovering flag once the RESET/ACK_FAILURE
// round-trip completes; it never surfaces to application code.
type recoveryObserver struct {
	e *Engine
}

func (r *recoveryObserver) OnNext(any) {}
func (r *recoveryObserver) OnCompleted(map[string]any) {
	r.e.mu.Lock()
	r.e.recovering = false
	r.e.recoveryErr = nil
	r.e.mu.Unlock()
}
func (r *recoveryObserver) OnError(err error) {
	r.e.broadcastFatal(boltErr.New(boltErr.CodeFatalConnection, "failed to recover connection after a server failure", err))
}

// sendRecovery issues RESET (or ACK_FAILURE on legacy connections) to clear
// the server-side failure state, and flushes immediately: recovery must not
// wait for the next application Send/Flush pair.
func (e *Engine) sendRecovery() error {
	var msg codec.Structure
	if e.useAckFailure {
		msg = NewAckFailure()
	} else {
		msg = NewReset()
	}
	if err := e.Send(msg, &recoveryObserver{e: e}); err != nil {
		return err
	}
	return e.Flush()
}

// broadcastFatal marks the connection fatally broken and delivers err to
// every observer still waiting, aggregated the way the teacher's cluster
// package aggregates multi-node failures with hashicorp/go-multierror.
func (e *Engine) broadcastFatal(err error) {
	e.mu.Lock()
	if e.fatal == nil {
		e.fatal = err
	}
	e.mu.Unlock()

	pending := e.queue.DrainAll()
	if len(pending) == 0 {
		return
	}
	var agg *multierror.Error
	agg = multierror.Append(agg, err)
	for _, obs := range pending {
		obs.OnError(agg.ErrorOrNil())
	}
}

func firstMeta(fields []any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	m, ok := fields[0].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}

// classifyFailure maps the server's FAILURE metadata (a "code" string like
// "Neo.ClientError.Statement.SyntaxError" and a "message" string) onto the
// driver's CodeError taxonomy.
func classifyFailure(meta map[string]any) (boltErr.CodeError, boltErr.TransientSubclass, string) {
	message, _ := meta["message"].(string)
	code, _ := meta["code"].(string)

	classification, subclass := classifyServerCode(code)
	switch {
	case code == "":
		// leave message as-is
	case message == "":
		message = code
	default:
		// Keep the raw server code visible in the message (routing's
		// rediscovery classification string-matches on codes like
		// "ProcedureNotFound" that have no dedicated CodeError of their
		// own).
		message = code + ": " + message
	}
	return classification, subclass, message
}

// classifyServerCode inspects the dotted server error code
// ("Neo.<Classification>.<Category>.<Title>") and returns the driver's
// CodeError plus, for transient errors, the subclass that decides
// retryability.
func classifyServerCode(code string) (boltErr.CodeError, boltErr.TransientSubclass) {
	switch {
	case containsSegment(code, "ClientError"):
		if containsSegment(code, "DatabaseNotFound") {
			return boltErr.CodeDatabaseNotFound, boltErr.TransientNone
		}
		return boltErr.CodeClientError, boltErr.TransientNone
	case containsSegment(code, "TransientError"):
		switch {
		case containsSegment(code, "Terminated"):
			return boltErr.CodeTransientError, boltErr.TransientTerminated
		case containsSegment(code, "LockClientStopped"):
			return boltErr.CodeTransientError, boltErr.TransientLockClientStopped
		default:
			return boltErr.CodeTransientError, boltErr.TransientNone
		}
	case containsSegment(code, "DatabaseError"):
		return boltErr.CodeFatalConnection, boltErr.TransientNone
	default:
		return boltErr.CodeClientError, boltErr.TransientNone
	}
}

func containsSegment(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
