// Package netx implements a bidirectional, symmetric TCP-RPC runtime: once a
// connection is established and authenticated, either side may invoke
// methods on the other with the same calling convention. The package
// provides the wire framing, session bookkeeping, and request/response
// demultiplexing that a generated dispatch table is wired into; it does not
// itself serialize arguments (see Packer); the transport is a plain net.Conn.
package netx

import "time"

// Wire command identifiers.
const (
	cmdVerify    int32 = 1000 // handshake: service_name/verify_key exchange
	cmdSessionID int32 = 2000 // session id announcement / Mode-1 ack
	cmdInvoke    int32 = 2400 // method invocation
	cmdReply     int32 = 2500 // reply to a method invocation
)

// Tag is the wire-level selector for a remote method.
type Tag int32

// Reserved lifecycle tags. All other positive values are user methods.
const (
	TagClosed     Tag = 2147483645
	TagDisconnect Tag = 2147483646
	TagConnect    Tag = 2147483647
)

// CallType selects the calling convention used for one invocation.
type CallType uint8

const (
	// CallFireAndForget expects no reply; the method's return type must be unit.
	CallFireAndForget CallType = 0
	// CallAcknowledged expects a success/error reply with no payload.
	CallAcknowledged CallType = 1
	// CallValue expects a reply carrying exactly one serialized return value.
	CallValue CallType = 2
)

// Reserved error ids used by the dispatch layer. They are carried in error
// reply envelopes and surface to the remote caller as a CallError.
const (
	errIDDispatchFailure int32 = 1
)

// Default tuning, matching the values a wire-compatible peer implementation
// ships as defaults.
const (
	DefaultRequestOutTime  = 5000 * time.Millisecond
	DefaultSessionSaveTime = 5000 * time.Millisecond

	// requestSweepInterval is how often a Session Manager walks its tokens'
	// pending tables for timeouts and its disconnect queue for expiry.
	requestSweepInterval = 50 * time.Millisecond
	// clientSweepInterval is the client-side equivalent of requestSweepInterval;
	// the client only ever sweeps its own single pending table.
	clientSweepInterval = 500 * time.Millisecond
)
