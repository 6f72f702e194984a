package proto

import "github.com/cypherbolt/bolt-go/internal/codec"

// Request message signatures.
const (
	SigHello      byte = 0x01 // also used for the older INIT message
	SigAckFailure byte = 0x0E
	SigReset      byte = 0x0F
	SigRun        byte = 0x10
	SigDiscardAll byte = 0x2F
	SigPullAll    byte = 0x3F
	SigBegin      byte = 0x11
	SigCommit     byte = 0x12
	SigRollback   byte = 0x13
	SigRoute      byte = 0x66
)

// Response message signatures.
const (
	SigSuccess byte = 0x70
	SigRecord  byte = 0x71
	SigIgnored byte = 0x7E
	SigFailure byte = 0x7F
)

// NewHello builds the INIT/HELLO request: client identifier (user_agent) and
// an auth token map.
func NewHello(userAgent string, auth map[string]any) codec.Structure {
	meta := map[string]any{"user_agent": userAgent}
	for k, v := range auth {
		meta[k] = v
	}
	return codec.Structure{Signature: SigHello, Fields: []any{meta}}
}

// NewRun builds the RUN request: query text, parameters, and metadata (e.g.
// bookmarks, tx metadata, mode).
func NewRun(query string, params map[string]any, meta map[string]any) codec.Structure {
	if params == nil {
		params = map[string]any{}
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return codec.Structure{Signature: SigRun, Fields: []any{query, params, meta}}
}

// NewPullAll builds the PULL_ALL request.
func NewPullAll() codec.Structure {
	return codec.Structure{Signature: SigPullAll, Fields: nil}
}

// NewDiscardAll builds the DISCARD_ALL request.
func NewDiscardAll() codec.Structure {
	return codec.Structure{Signature: SigDiscardAll, Fields: nil}
}

// NewReset builds the RESET request sent by the failure-recovery path.
func NewReset() codec.Structure {
	return codec.Structure{Signature: SigReset, Fields: nil}
}

// NewAckFailure builds the legacy ACK_FAILURE request used by older protocol
// versions instead of RESET to clear a failure.
func NewAckFailure() codec.Structure {
	return codec.Structure{Signature: SigAckFailure, Fields: nil}
}

// NewBegin builds the BEGIN request with transaction metadata (bookmarks,
// mode, database, timeout).
func NewBegin(meta map[string]any) codec.Structure {
	if meta == nil {
		meta = map[string]any{}
	}
	return codec.Structure{Signature: SigBegin, Fields: []any{meta}}
}

// NewCommit builds the COMMIT request.
func NewCommit() codec.Structure {
	return codec.Structure{Signature: SigCommit, Fields: nil}
}

// NewRollback builds the ROLLBACK request.
func NewRollback() codec.Structure {
	return codec.Structure{Signature: SigRollback, Fields: nil}
}

// NewRoute builds the newer ROUTE request: a routing context map, an
// optional bookmark list, and an optional database name.
func NewRoute(routingContext map[string]any, bookmarks []any, database string) codec.Structure {
	if routingContext == nil {
		routingContext = map[string]any{}
	}
	var db any
	if database != "" {
		db = database
	}
	return codec.Structure{Signature: SigRoute, Fields: []any{routingContext, bookmarks, db}}
}
