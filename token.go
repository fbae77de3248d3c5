package netx

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// Controller is produced by a ControllerFactory for one Token and supplies
// the handler map that Token dispatches into. Building the registry is left
// to a compile-time code-generation step outside this package; NetX only
// specifies the runtime contract here.
type Controller interface {
	Register() (*Registry, error)
}

// ControllerFactory creates a Controller bound to a freshly minted Token.
// The factory is invoked once per Token, at creation time.
type ControllerFactory func(token *Token) (Controller, error)

// Token is the server-side per-peer runtime object: session id, bound
// transport, handler registry, and pending-reply table. A Token survives
// transient disconnects; it is only destroyed by the owning Manager's
// disconnect sweep after the grace window elapses.
type Token struct {
	*peer
	id      int64
	manager *Manager
}

func newToken(id int64, manager *Manager, log *logrus.Entry, requestOutTime time.Duration) *Token {
	return &Token{
		peer:    newPeer(log.WithField("session_id", id), id, nil, requestOutTime),
		id:      id,
		manager: manager,
	}
}

// SessionID returns this Token's session id.
func (t *Token) SessionID() int64 { return t.id }

// IsDisconnected reports whether the Token currently has no bound transport.
func (t *Token) IsDisconnected() bool { return !t.isBound() }

// Run issues a fire-and-forget call (call type 0) to the peer bound to this
// Token.
func (t *Token) Run(tag Tag, args ...[]byte) error {
	_, err := t.peer.call(context.Background(), CallFireAndForget, tag, args)
	return err
}

// Call issues an acknowledged or value-returning call (call type 1 or 2) and
// blocks for a reply, honoring ctx's deadline/cancellation in addition to the
// Manager's own request-timeout sweep.
func (t *Token) Call(ctx context.Context, tt CallType, tag Tag, args ...[]byte) (Envelope, error) {
	return t.peer.call(ctx, tt, tag, args)
}

// bindConn attaches conn as this Token's transport, replacing any previous
// binding.
func (t *Token) bindConn(conn net.Conn, mode int) { t.bind(conn, mode) }

// disconnect detaches the transport without clearing the handler registry or
// pending table, invokes the DISCONNECT lifecycle hook, and tells the owning
// Manager to start this Token's grace-window countdown.
func (t *Token) disconnect() {
	t.unbind()
	t.invokeLifecycle(TagDisconnect)
	if t.manager != nil {
		t.manager.peerDisconnect(t.id)
	}
}

// destroy is invoked exactly once by the Manager's disconnect sweep once the
// grace window has elapsed with no resume. It runs the CLOSED lifecycle hook
// and clears the handler registry and any still-pending calls.
func (t *Token) destroy() {
	t.invokeLifecycle(TagClosed)
	t.setRegistry(nil)
	t.closeAll()
}
