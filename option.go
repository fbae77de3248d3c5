package netx

import (
	"time"

	"github.com/sirupsen/logrus"
)

// serverConfig holds a Server's resolved configuration after every
// ServerOption has been applied.
type serverConfig struct {
	serviceName     string
	verifyKey       string
	allowMode1      bool
	requestOutTime  time.Duration
	sessionSaveTime time.Duration
	log             *logrus.Entry
	metrics         *Metrics
	noise           bool
}

func defaultServerConfig() *serverConfig {
	return &serverConfig{
		allowMode1:      true,
		requestOutTime:  DefaultRequestOutTime,
		sessionSaveTime: DefaultSessionSaveTime,
		log:             logrus.NewEntry(logrus.StandardLogger()),
	}
}

// ServerOption configures a Server at construction, mirroring the
// functional-options shape tacplus's ConnConfig fields are set through, but
// split into small composable setters instead of one struct literal.
type ServerOption func(*serverConfig)

// WithServiceName sets the service_name a client's handshake must present.
func WithServiceName(name string) ServerOption {
	return func(c *serverConfig) { c.serviceName = name }
}

// WithVerifyKey sets the shared verify_key a client's handshake must present.
func WithVerifyKey(key string) ServerOption {
	return func(c *serverConfig) { c.verifyKey = key }
}

// WithRequestOutTime overrides the default per-call timeout.
func WithRequestOutTime(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.requestOutTime = d }
}

// WithSessionSaveTime overrides the default disconnect grace window.
func WithSessionSaveTime(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.sessionSaveTime = d }
}

// WithLogger installs a *logrus.Entry used for every log line the Server and
// its Tokens emit. A nil logger (the default) falls back to
// logrus.StandardLogger().
func WithLogger(log *logrus.Entry) ServerOption {
	return func(c *serverConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics attaches a Metrics sink created by NewMetrics.
func WithMetrics(m *Metrics) ServerOption {
	return func(c *serverConfig) { c.metrics = m }
}

// WithMode1Disabled forces every accepted connection onto ModeLegacy framing,
// regardless of what the client's handshake offers. Useful for
// interoperating with a peer implementation that predates Mode 1.
func WithMode1Disabled() ServerOption {
	return func(c *serverConfig) { c.allowMode1 = false }
}

// WithNoiseTransport wraps every accepted net.Conn in a Noise NN session
// (internal/transport/noisetransport) before the netx handshake runs. Both
// ends of a connection must agree on this: a client dialing without
// WithNoiseClientTransport against a server configured this way will hang in
// the Noise handshake reading ordinary netx frames, and vice versa.
func WithNoiseTransport() ServerOption {
	return func(c *serverConfig) { c.noise = true }
}

// clientConfig holds a Client's resolved configuration after every
// ClientOption has been applied.
type clientConfig struct {
	serviceName    string
	verifyKey      string
	requestOutTime time.Duration
	log            *logrus.Entry
	metrics        *Metrics
	store          SessionStore
	noise          bool
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{
		requestOutTime: DefaultRequestOutTime,
		log:            logrus.NewEntry(logrus.StandardLogger()),
		store:          NewMemorySessionStore(),
	}
}

// ClientOption configures a Client at construction.
type ClientOption func(*clientConfig)

// WithClientServiceName sets the service_name presented during the
// handshake.
func WithClientServiceName(name string) ClientOption {
	return func(c *clientConfig) { c.serviceName = name }
}

// WithClientVerifyKey sets the verify_key presented during the handshake.
func WithClientVerifyKey(key string) ClientOption {
	return func(c *clientConfig) { c.verifyKey = key }
}

// WithClientRequestOutTime overrides the default per-call timeout.
func WithClientRequestOutTime(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.requestOutTime = d }
}

// WithClientLogger installs a *logrus.Entry for the Client and its Session.
func WithClientLogger(log *logrus.Entry) ClientOption {
	return func(c *clientConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClientMetrics attaches a Metrics sink created by NewMetrics.
func WithClientMetrics(m *Metrics) ClientOption {
	return func(c *clientConfig) { c.metrics = m }
}

// WithSessionStore installs the persistence hook a Client uses to remember
// its session id across reconnects. The default is an in-memory store, which cannot survive a
// process restart.
func WithSessionStore(store SessionStore) ClientOption {
	return func(c *clientConfig) {
		if store != nil {
			c.store = store
		}
	}
}

// WithNoiseClientTransport wraps the dialed net.Conn in a Noise NN session
// as the initiator before the netx handshake runs. Must be paired with
// WithNoiseTransport on the server.
func WithNoiseClientTransport() ClientOption {
	return func(c *clientConfig) { c.noise = true }
}
