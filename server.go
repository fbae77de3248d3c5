package netx

import (
	"net"
	"time"

	"github.com/netx-rpc/netx/internal/transport/noisetransport"
)

// Server listens for incoming connections, runs the handshake on each, and
// wires an accepted connection's frames into the Session Manager it owns. It
// plays the role tacplus's Server/ServerConnHandler pair plays for inbound
// TACACS+ connections, generalized to netx's symmetric RPC frames and to a
// single handshake-then-dispatch path instead of per-session-type handlers.
type Server struct {
	ln  net.Listener
	mgr *Manager
	cfg *serverConfig
}

// Listen opens a TCP listener on addr and wraps it in a Server. factory
// produces the handler registry for each newly created Token.
func Listen(addr string, factory ControllerFactory, opts ...ServerOption) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewServer(ln, factory, opts...), nil
}

// NewServer wraps an already-open net.Listener, useful for TLS listeners or
// tests using an in-memory listener.
func NewServer(ln net.Listener, factory ControllerFactory, opts ...ServerOption) *Server {
	cfg := defaultServerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	mgr := NewManager(factory, cfg.requestOutTime, cfg.sessionSaveTime, cfg.log, WithManagerMetrics(cfg.metrics))
	return &Server{ln: ln, mgr: mgr, cfg: cfg}
}

// Manager returns the Session Manager backing this Server, for callers that
// need to enumerate or inspect live Tokens directly.
func (s *Server) Manager() *Manager { return s.mgr }

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until the listener is closed, handling each on
// its own goroutine. Temporary accept errors are retried with the same
// capped exponential backoff tacplus's Server.Serve uses; any other error
// stops the loop and is returned.
func (s *Server) Serve() error {
	var tempDelay time.Duration
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				s.cfg.log.WithError(err).Debug("accept error, retrying")
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0
		go s.handleConn(nc)
	}
}

// Close stops accepting new connections and stops the Session Manager's
// sweep loop. Already-bound Tokens are left to their own connDriver's
// teardown; it does not forcibly disconnect live sessions.
func (s *Server) Close() error {
	s.mgr.Close()
	return s.ln.Close()
}

func (s *Server) handleConn(nc net.Conn) {
	if s.cfg.noise {
		nconn, err := noisetransport.Server(nc)
		if err != nil {
			s.cfg.log.WithError(err).Debug("noise setup failed")
			_ = nc.Close()
			return
		}
		if err := nconn.Handshake(); err != nil {
			s.cfg.log.WithError(err).Debug("noise handshake failed")
			_ = nc.Close()
			return
		}
		nc = nconn
	}

	token, mode, err := serverHandshake(nc, s.mgr, s.cfg)
	if err != nil {
		s.cfg.log.WithError(err).Debug("handshake failed")
		_ = nc.Close()
		return
	}

	log := s.cfg.log.WithField("session_id", token.SessionID())
	driver := newConnDriver(nc, mode, token.peer, log)
	conn := driver.conn()
	token.bindConn(conn, mode)
	token.invokeLifecycle(TagConnect)

	driver.serve()

	// A resumed Token may already be bound to a newer connection; only the
	// connection still bound detaches it and starts the grace window.
	token.mu.Lock()
	current := token.conn == conn
	token.mu.Unlock()
	if current {
		token.disconnect()
	} else {
		token.invokeLifecycle(TagDisconnect)
	}
}
