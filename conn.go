package netx

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var errConnectionClosed = errors.New("netx: connection closed")

// writeRequest is one outbound frame body queued for a connDriver's
// writeLoop, which serializes every write to the underlying net.Conn the way
// tacplus's conn.wc channel does for its own packets.
type writeRequest struct {
	body []byte
	ec   chan error
}

// driverConn presents a connDriver's serialized writer as a net.Conn so it
// can be bound directly onto a peer via peer.bind. Only Write is actually
// routed through the driver; every other method delegates to the raw
// transport below.
type driverConn struct {
	net.Conn
	wc   chan writeRequest
	done <-chan struct{}
}

func (d *driverConn) Write(b []byte) (int, error) {
	req := writeRequest{body: b, ec: make(chan error, 1)}
	select {
	case d.wc <- req:
	case <-d.done:
		return 0, errConnectionClosed
	}
	select {
	case err := <-req.ec:
		if err != nil {
			return 0, err
		}
		return len(b), nil
	case <-d.done:
		return 0, errConnectionClosed
	}
}

// connDriver is the per-connection actor loop: it reads
// frames off the wire, routes each by its leading cmd field to the bound
// peer, and serializes outbound writes through a single writer goroutine —
// the same readLoop/writeLoop split tacplus's conn.serve uses, generalized
// from TACACS+ packets to netx's cmd-tagged frames. One connDriver runs for
// the lifetime of one net.Conn; a Token or Session may later be rebound to a
// different connDriver after a reconnect.
type connDriver struct {
	nc   net.Conn
	mode int
	log  *logrus.Entry

	target *peer // the Token's or Session's shared core this connection feeds

	wc   chan writeRequest
	done chan struct{}
	once sync.Once
}

// newConnDriver tags every log line this connection emits with a short
// correlation id (the same uuid.New().String()[:8] shape dittofs's test
// helpers use to mint unique identifiers), so interleaved read/write/dispatch
// log lines from concurrent connections can be told apart.
func newConnDriver(nc net.Conn, mode int, target *peer, log *logrus.Entry) *connDriver {
	connID := uuid.New().String()[:8]
	return &connDriver{
		nc:     nc,
		mode:   mode,
		log:    log.WithField("conn_id", connID),
		target: target,
		wc:     make(chan writeRequest),
		done:   make(chan struct{}),
	}
}

// conn returns the net.Conn to bind onto target (via peer.bind): writes
// issued through it are routed onto this driver's writeLoop goroutine so
// concurrent callers (an outbound call and a concurrent reply dispatch)
// never interleave bytes on the wire.
func (d *connDriver) conn() net.Conn {
	return &driverConn{Conn: d.nc, wc: d.wc, done: d.done}
}

func (d *connDriver) close() {
	d.once.Do(func() { close(d.done) })
}

// serve runs the write loop in its own goroutine and the read loop inline,
// blocking until the connection dies, then tears down the raw transport.
// Callers run serve on its own goroutine per accepted/dialed connection.
func (d *connDriver) serve() {
	go d.writeLoop()
	d.readLoop()
	d.close()
	_ = d.nc.Close()
}

func (d *connDriver) writeLoop() {
	for {
		select {
		case req := <-d.wc:
			_, err := d.nc.Write(req.body)
			req.ec <- err
			if err != nil {
				d.close()
				return
			}
		case <-d.done:
			return
		}
	}
}

func (d *connDriver) readLoop() {
	for {
		select {
		case <-d.done:
			return
		default:
		}
		body, err := readFrame(d.nc, d.mode)
		if err != nil {
			if err != io.EOF {
				d.log.WithError(err).Debug("connection read failed")
			}
			return
		}
		if err := d.dispatchFrame(body); err != nil {
			d.log.WithError(err).Debug("protocol violation, closing connection")
			return
		}
	}
}

// dispatchFrame routes one decoded frame body by its leading cmd field:
// 2400 is an inbound invocation, 2500 is an inbound
// reply to one of our own outbound calls. Anything else reaching the
// steady-state loop is a protocol violation and tears the connection down;
// cmd 2000 (session id announce/ack) only ever appears during the handshake
// performed before serve is started.
func (d *connDriver) dispatchFrame(body []byte) error {
	r := newBodyReader(body)
	cmd, err := r.readI32()
	if err != nil {
		return err
	}
	switch cmd {
	case cmdInvoke:
		return d.dispatchInvoke(r)
	case cmdReply:
		return d.dispatchReply(r)
	default:
		return fmt.Errorf("netx: unexpected frame cmd %d", cmd)
	}
}

func (d *connDriver) dispatchInvoke(r *bodyReader) error {
	tt, err := r.readU8()
	if err != nil {
		return err
	}
	tag, err := r.readI32()
	if err != nil {
		return err
	}
	serial, err := r.readI64()
	if err != nil {
		return err
	}
	// r is now positioned at args_count; dispatchInvocation/Invoker reads it.
	d.target.dispatchInvocation(tt, Tag(tag), serial, r)
	return nil
}

func (d *connDriver) dispatchReply(r *bodyReader) error {
	serial, err := r.readI64()
	if err != nil {
		return err
	}
	env, err := decodeEnvelope(r)
	if err != nil {
		return err
	}
	d.target.completePending(serial, env)
	return nil
}
