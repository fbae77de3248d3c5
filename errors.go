package netx

import "fmt"

// ConnectError wraps a failure to establish or authenticate a connection.
type ConnectError struct {
	Msg string
}

func (e *ConnectError) Error() string { return "netx: connect error: " + e.Msg }

// SerialClose indicates an in-flight call's connection went away before a
// reply arrived.
type SerialClose struct {
	Serial int64
}

func (e *SerialClose) Error() string {
	return fmt.Sprintf("netx: serial %d closed", e.Serial)
}

// SerialTimeOut indicates a call's per-call timeout expired before a reply
// arrived. The remote handler, if it eventually completes, is not notified.
type SerialTimeOut struct {
	Serial int64
}

func (e *SerialTimeOut) Error() string {
	return fmt.Sprintf("netx: serial %d timed out", e.Serial)
}

// CallError is the local representation of a remote error(...) Result
// Envelope.
type CallError struct {
	ID  int32
	Msg string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("netx: call error %d: %s", e.ID, e.Msg)
}

// SerialHave indicates a caller attempted to issue a call whose serial
// already has a pending entry. This should not happen with the default
// monotonic serial allocator; registerPending reports it as a guard.
type SerialHave struct {
	Serial int64
}

func (e *SerialHave) Error() string {
	return fmt.Sprintf("netx: serial %d already pending", e.Serial)
}

// TokenDisconnect indicates a server-side call was attempted on a session
// whose transport is not currently bound.
type TokenDisconnect struct {
	SessionID int64
}

func (e *TokenDisconnect) Error() string {
	return fmt.Sprintf("netx: session %d is disconnected", e.SessionID)
}
