package netx

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/netx-rpc/netx/internal/transport/noisetransport"
)

// Session is the client-side per-connection runtime object: the same peer
// core a server-side Token wraps, plus the bookkeeping a Client needs to
// reconnect and resume it. Unlike a Token, exactly one
// Session exists per Client for its whole lifetime; reconnecting rebinds the
// same Session onto a fresh connDriver rather than creating a new one.
type Session struct {
	*peer
	client *Client
}

// Run issues a fire-and-forget call (call type 0).
func (s *Session) Run(tag Tag, args ...[]byte) error {
	_, err := s.peer.call(context.Background(), CallFireAndForget, tag, args)
	return err
}

// Call issues an acknowledged or value-returning call and blocks for a
// reply, honoring ctx in addition to the client's own sweep-driven timeout.
func (s *Session) Call(ctx context.Context, tt CallType, tag Tag, args ...[]byte) (Envelope, error) {
	return s.peer.call(ctx, tt, tag, args)
}

// IsConnected reports whether the Session currently has a live transport
// bound.
func (s *Session) IsConnected() bool { return s.isBound() }

// Client dials a netx Server, performs the handshake, and maintains a single
// Session across reconnects, mirroring the single-connection-cache role
// tacplus's Client plays for a multiplexed connection but specialized to
// netx's one-session-per-client model.
type Client struct {
	addr string
	cfg  *clientConfig

	mu      sync.Mutex
	session *Session
	driver  *connDriver

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  chan struct{}
}

// Dial connects to addr, runs the handshake (resuming a previously stored
// session id if the configured SessionStore has one), and starts the
// client's periodic call-timeout sweep. reg is the handler registry used to
// dispatch any inbound invocation the server makes on this connection.
func Dial(addr string, reg *Registry, opts ...ClientOption) (*Client, error) {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Client{
		addr:    addr,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	c.session = &Session{peer: newPeer(cfg.log, cfg.store.GetSessionID(), reg, cfg.requestOutTime), client: c}
	if cfg.metrics != nil {
		c.session.attachMetrics(cfg.metrics)
	}

	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.sweepLoop()
	return c, nil
}

// Session returns the Client's single Session.
func (c *Client) Session() *Session { return c.session }

// connect dials a fresh net.Conn, runs the client handshake, and binds the
// result onto the Client's Session. Called once by Dial and again by
// Reconnect after a transport loss. Any previously bound driver is torn down
// first so a reconnect never orphans the old goroutine and socket.
func (c *Client) connect() error {
	nc, err := net.Dial("tcp", c.addr)
	if err != nil {
		return err
	}
	if c.cfg.noise {
		nconn, err := noisetransport.Client(nc)
		if err != nil {
			_ = nc.Close()
			return err
		}
		if err := nconn.Handshake(); err != nil {
			_ = nc.Close()
			return err
		}
		nc = nconn
	}

	sessionID := c.cfg.store.GetSessionID()
	announce, mode, err := clientHandshake(nc, c.cfg, sessionID, c.cfg.log)
	if err != nil {
		_ = nc.Close()
		return err
	}
	c.cfg.store.StoreSessionID(announce.sessionID)
	c.session.setSessionID(announce.sessionID)

	log := c.cfg.log.WithField("session_id", announce.sessionID)
	driver := newConnDriver(nc, mode, c.session.peer, log)

	c.mu.Lock()
	old := c.driver
	c.driver = driver
	c.mu.Unlock()
	if old != nil {
		old.close()
		_ = old.nc.Close()
	}

	c.session.bind(driver.conn(), mode)
	c.session.invokeLifecycle(TagConnect)

	go func() {
		driver.serve()
		// After a Reconnect the Session is already bound to a newer driver;
		// only the current driver's teardown detaches the transport.
		c.mu.Lock()
		current := c.driver == driver
		c.mu.Unlock()
		if current {
			c.session.unbind()
		}
		c.session.invokeLifecycle(TagDisconnect)
	}()
	return nil
}

// Reconnect tears down any still-bound transport and dials a new one,
// presenting the session id stored by the configured SessionStore so the
// server can resume the same Token if its grace window has not yet elapsed.
func (c *Client) Reconnect() error {
	return c.connect()
}

func (c *Client) sweepLoop() {
	defer close(c.stopped)
	ticker := time.NewTicker(clientSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.session.sweepTimeouts()
		}
	}
}

// Close stops the sweep loop and tears down the current transport. The
// Session's handler registry is left intact; Close does not invoke the
// CLOSED lifecycle hook since that is reserved for server-side grace-window
// expiry of a Token.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.stopped
	c.session.closeAll()
	return nil
}
