package netx

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// callResult is what completes a pending call's channel: either a decoded
// reply envelope, or the reason it will never arrive.
type callResult struct {
	env Envelope
	err error
}

// pendingCall is one outstanding outbound call's reply slot.
type pendingCall struct {
	serial   int64
	ch       chan callResult
	issuedAt time.Time
	done     bool
}

// peer is the shared core of a server-side Token and a client-side Session.
// It owns the handler registry, the pending-reply table, and the currently
// bound transport, and serializes every mutation to those fields behind mu.
//
// peer intentionally has no knowledge of session ids, session managers, or
// handshake state; those differ between client and server and live in
// token.go / client.go respectively.
type peer struct {
	log       *logrus.Entry
	sessionID int64

	mu      sync.Mutex
	conn    net.Conn
	mode    int
	closed  bool
	reg     *Registry
	pending map[int64]*pendingCall
	queue   []*pendingCall // FIFO in issue order, used by the timeout sweep

	serial int64 // atomic counter, next value to hand out

	requestOutTime time.Duration
	metrics        *Metrics
}

// attachMetrics wires an optional observability sink into this peer's
// pending-call bookkeeping.
func (p *peer) attachMetrics(m *Metrics) { p.metrics = m }

func newPeer(log *logrus.Entry, sessionID int64, reg *Registry, requestOutTime time.Duration) *peer {
	if requestOutTime <= 0 {
		requestOutTime = DefaultRequestOutTime
	}
	return &peer{
		log:            log,
		sessionID:      sessionID,
		reg:            reg,
		pending:        make(map[int64]*pendingCall),
		requestOutTime: requestOutTime,
	}
}

// bind attaches (or rebinds) the transport handle and wire mode. Rebinding
// replaces the previous handle atomically with respect to writers.
func (p *peer) bind(conn net.Conn, mode int) {
	p.mu.Lock()
	p.conn = conn
	p.mode = mode
	p.closed = false
	p.mu.Unlock()
}

// unbind detaches the transport without touching pending calls; used on
// transient disconnect where the session may still be resumed.
func (p *peer) unbind() {
	p.mu.Lock()
	p.conn = nil
	p.mu.Unlock()
}

func (p *peer) isBound() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

func (p *peer) wireMode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// setSessionID updates the session id used in TokenDisconnect errors. The
// server side fixes it once at Token creation; the client side only learns
// its id once the handshake's session announce arrives, so peer allows it to
// be set after construction.
func (p *peer) setSessionID(id int64) {
	p.mu.Lock()
	p.sessionID = id
	p.mu.Unlock()
}

// setRegistry installs or replaces the handler map. Installed once during
// Token/Session init; cleared only on final destruction.
func (p *peer) setRegistry(reg *Registry) {
	p.mu.Lock()
	p.reg = reg
	p.mu.Unlock()
}

func (p *peer) registry() *Registry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reg
}

func (p *peer) nextSerial() int64 {
	return atomic.AddInt64(&p.serial, 1)
}

// registerPending inserts a fresh reply slot for serial. It fails with
// *SerialHave if serial already has a pending entry.
func (p *peer) registerPending(serial int64) (chan callResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[serial]; ok {
		return nil, &SerialHave{Serial: serial}
	}
	pc := &pendingCall{serial: serial, ch: make(chan callResult, 1), issuedAt: time.Now()}
	p.pending[serial] = pc
	p.queue = append(p.queue, pc)
	if p.metrics != nil {
		p.metrics.callsInFlight.Inc()
	}
	return pc.ch, nil
}

// completePending matches an inbound reply frame against its pending slot.
// A serial with no pending entry is logged and dropped.
func (p *peer) completePending(serial int64, env Envelope) {
	p.mu.Lock()
	pc, ok := p.pending[serial]
	if ok {
		delete(p.pending, serial)
		pc.done = true
	}
	p.mu.Unlock()
	if !ok {
		p.log.WithField("serial", serial).Debug("reply for unknown serial, dropping")
		return
	}
	if p.metrics != nil {
		p.metrics.callsInFlight.Dec()
	}
	pc.ch <- callResult{env: env}
}

// writeFrameBody frames body under the peer's negotiated mode and writes it
// to the bound transport. It fails with *TokenDisconnect if nothing is
// bound.
func (p *peer) writeFrameBody(body []byte) error {
	p.mu.Lock()
	conn := p.conn
	mode := p.mode
	sessionID := p.sessionID
	p.mu.Unlock()
	if conn == nil {
		return &TokenDisconnect{SessionID: sessionID}
	}
	return writeFrame(conn, mode, body)
}

// call issues an outbound invocation and, for acknowledged/value-returning
// call types, blocks until a reply, timeout, or teardown resolves it. It does
// not itself attempt to reconnect when unbound; a caller on a disconnected
// Session sees TokenDisconnect immediately and must call Client.Reconnect
// before retrying.
func (p *peer) call(ctx context.Context, tt CallType, tag Tag, args [][]byte) (Envelope, error) {
	serial := p.nextSerial()

	w := newBodyWriter()
	w.writeI32(cmdInvoke).writeU8(uint8(tt)).writeI32(int32(tag)).writeI64(serial).writeU32(uint32(len(args)))
	for _, a := range args {
		w.writeBuffer(a)
	}

	if tt == CallFireAndForget {
		return Envelope{}, p.writeFrameBody(w.bytes())
	}

	ch, err := p.registerPending(serial)
	if err != nil {
		return Envelope{}, err
	}
	if err := p.writeFrameBody(w.bytes()); err != nil {
		p.dropPending(serial)
		return Envelope{}, err
	}

	select {
	case res := <-ch:
		return res.env, res.err
	case <-ctx.Done():
		p.dropPending(serial)
		return Envelope{}, ctx.Err()
	}
}

// dropPending removes a pending entry without delivering a reply, used when
// the caller gives up (context canceled) after already registering.
func (p *peer) dropPending(serial int64) {
	p.mu.Lock()
	pc, ok := p.pending[serial]
	if ok {
		delete(p.pending, serial)
		pc.done = true
	}
	p.mu.Unlock()
	if ok && p.metrics != nil {
		p.metrics.callsInFlight.Dec()
	}
}

// sweepTimeouts walks the pending queue oldest-first, failing any entry
// older than requestOutTime with *SerialTimeOut, and stops at the first
// still-live entry.
func (p *peer) sweepTimeouts() {
	now := time.Now()
	p.mu.Lock()
	i := 0
	for ; i < len(p.queue); i++ {
		pc := p.queue[i]
		if pc.done {
			continue
		}
		if now.Sub(pc.issuedAt) < p.requestOutTime {
			break
		}
		delete(p.pending, pc.serial)
		pc.done = true
		if p.metrics != nil {
			p.metrics.callsInFlight.Dec()
			p.metrics.callTimeouts.Inc()
		}
		pc.ch <- callResult{err: &SerialTimeOut{Serial: pc.serial}}
	}
	// compact the processed prefix
	if i > 0 {
		p.queue = append([]*pendingCall(nil), p.queue[i:]...)
	}
	p.mu.Unlock()
}

// closeAll fails every remaining pending call with *SerialClose and detaches
// the transport.
func (p *peer) closeAll() {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.closed = true
	pending := p.pending
	p.pending = make(map[int64]*pendingCall)
	p.queue = nil
	p.mu.Unlock()

	if p.metrics != nil && len(pending) > 0 {
		p.metrics.callsInFlight.Sub(float64(len(pending)))
	}
	for serial, pc := range pending {
		pc.done = true
		pc.ch <- callResult{err: &SerialClose{Serial: serial}}
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// invokeLifecycle runs the CONNECT/DISCONNECT/CLOSED hook registered for tag,
// if any, through the same dispatch path as a remote invocation.
func (p *peer) invokeLifecycle(tag Tag) {
	if reg := p.registry(); reg != nil {
		reg.invokeLifecycle(tag)
	}
}

// dispatchInvocation runs a single inbound method invocation on a fresh
// goroutine. For acknowledged and value-returning call types it also writes
// the reply frame.
func (p *peer) dispatchInvocation(tt uint8, tag Tag, serial int64, args *bodyReader) {
	go func() {
		reg := p.registry()
		var env Envelope
		if reg == nil {
			env = Error(errIDDispatchFailure, fmt.Sprintf("not found cmd:%d", tag))
		} else {
			env = reg.Dispatch(tt, tag, args)
		}
		if env.IsError && p.metrics != nil {
			p.metrics.dispatchErrors.Inc()
		}
		if CallType(tt) == CallFireAndForget {
			return
		}
		w := newBodyWriter()
		w.writeI32(cmdReply).writeI64(serial)
		env.encode(w)
		if err := p.writeFrameBody(w.bytes()); err != nil {
			p.log.WithField("serial", serial).WithError(err).Debug("failed to write reply")
		}
	}()
}
