package netx

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the optional observability surface for a Manager/Client,
// grounded on marmos91-dittofs's use of github.com/prometheus/client_golang
// for service-level gauges and counters. Metrics are ambient observability,
// not core framing/session logic; a Manager or Client
// built without a Metrics value behaves identically, just unobserved.
type Metrics struct {
	tokensCreated   prometheus.Counter
	tokensActive    prometheus.Gauge
	tokensExpired   prometheus.Counter
	callsInFlight   prometheus.Gauge
	callTimeouts    prometheus.Counter
	dispatchErrors  prometheus.Counter
	reconnects      prometheus.Counter
}

// NewMetrics registers a fresh set of NetX collectors on reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics
// handler, or a dedicated registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokensCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netx", Subsystem: "server", Name: "tokens_created_total",
			Help: "Total number of server-side Tokens created.",
		}),
		tokensActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netx", Subsystem: "server", Name: "tokens_active",
			Help: "Number of Tokens currently tracked by the Session Manager.",
		}),
		tokensExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netx", Subsystem: "server", Name: "tokens_expired_total",
			Help: "Total number of Tokens removed after their grace window elapsed.",
		}),
		callsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netx", Subsystem: "session", Name: "calls_in_flight",
			Help: "Number of outbound calls awaiting a reply across all sessions.",
		}),
		callTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netx", Subsystem: "session", Name: "call_timeouts_total",
			Help: "Total number of outbound calls that expired before a reply arrived.",
		}),
		dispatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netx", Subsystem: "session", Name: "dispatch_errors_total",
			Help: "Total number of inbound invocations that resulted in an error envelope.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netx", Subsystem: "server", Name: "resumed_sessions_total",
			Help: "Total number of handshakes that resumed an existing session id.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.tokensCreated, m.tokensActive, m.tokensExpired,
		m.callsInFlight, m.callTimeouts, m.dispatchErrors, m.reconnects,
	} {
		if reg != nil {
			reg.MustRegister(c)
		}
	}
	return m
}
