package proto

import (
	"sync"
)

// ServerInfo captures what the init/hello exchange learns about the remote
// server before any caller is allowed to use the connection.
type ServerInfo struct {
	Agent           string
	ConnectionID    string
	ProtocolVersion uint32
}

// byteArraySupportedSince is the protocol version (encoded the same way the
// handshake negotiates them, major in the low byte) at which the server
// gained byte-array support; servers older than this never understand a
// packed []byte and the packer must be told to reject them instead of
// producing bytes the server will choke on.
const byteArraySupportedSince uint32 = 2

// InitObserver wraps the INIT/HELLO response so that:
//   - on SUCCESS, it records the server's agent string and connection id
//     into ServerInfo, flips byte-array support on the packer according to
//     the negotiated protocol version, and resolves Done with a nil error;
//   - on FAILURE, it marks the connection broken (via the MarkBroken
//     callback) and resolves Done with the failure error instead.
//
// Every later holder of the connection blocks on Done before issuing any
// other request, which is what keeps a half-initialized connection from
// ever being handed out by the pool.
type InitObserver struct {
	protocolVersion  uint32
	setByteArraySupp func(bool)
	markBroken       func()

	mu   sync.Mutex
	done chan struct{}
	info ServerInfo
	err  error
}

// NewInitObserver constructs an InitObserver for a connection negotiated at
// protocolVersion. setByteArraySupport toggles the packer's byte-array
// capability; markBroken is invoked if the init exchange fails.
func NewInitObserver(protocolVersion uint32, setByteArraySupport func(bool), markBroken func()) *InitObserver {
	return &InitObserver{
		protocolVersion:  protocolVersion,
		setByteArraySupp: setByteArraySupport,
		markBroken:       markBroken,
		done:             make(chan struct{}),
	}
}

// Done returns a channel closed once the init exchange has terminated,
// successfully or not.
func (o *InitObserver) Done() <-chan struct{} {
	return o.done
}

// Result returns the resolved ServerInfo and error; only meaningful after
// Done is closed.
func (o *InitObserver) Result() (ServerInfo, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.info, o.err
}

// OnNext is never expected for INIT/HELLO; the server does not stream
// records for it. Ignored rather than panicking, matching the engine's
// tolerance for unexpected-but-harmless protocol deviations.
func (o *InitObserver) OnNext(any) {}

// OnCompleted implements obsqueue.Observer.
func (o *InitObserver) OnCompleted(metadata map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if agent, ok := metadata["server"].(string); ok {
		o.info.Agent = agent
	}
	if cid, ok := metadata["connection_id"].(string); ok {
		o.info.ConnectionID = cid
	}
	o.info.ProtocolVersion = o.protocolVersion

	if o.setByteArraySupp != nil {
		o.setByteArraySupp(o.protocolVersion >= byteArraySupportedSince)
	}
	close(o.done)
}

// OnError implements obsqueue.Observer.
func (o *InitObserver) OnError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.err == nil {
		o.err = err
	}
	if o.markBroken != nil {
		o.markBroken()
	}
	close(o.done)
}
