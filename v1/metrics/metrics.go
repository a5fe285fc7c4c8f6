package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label values of the result dimension.
const (
	ResultOK              = "ok"
	ResultCommandError    = "command_error"
	ResultConnectionError = "connection_error"
	ResultSuccess         = "success"
	ResultFailure         = "failure"
	ResultAcquired        = "acquired"
	ResultBusy            = "busy"
	ResultError           = "error"
	ResultReleased        = "released"
	ResultAbsent          = "absent"
)

var (
	// CommandCounter counts executed commands by outcome.
	CommandCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_commands_total",
		Help: "Total number of commands executed through the proxy",
	}, []string{"result"})
	// CommandLatency observes the duration of Execute calls, reconnects included.
	CommandLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_command_duration_seconds",
		Help:    "Latency of commands executed through the proxy",
		Buckets: prometheus.DefBuckets,
	})
	// ReconnectCounter counts reconnect attempts by outcome.
	ReconnectCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_reconnects_total",
		Help: "Total number of reconnect attempts",
	}, []string{"result"})
	// RedispatchCounter counts commands sent again after a reconnect.
	RedispatchCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_redispatch_total",
		Help: "Total number of commands re-dispatched after a reconnect",
	})
	// LockCounter counts lock attempts by outcome.
	LockCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_lock_acquire_total",
		Help: "Total number of lock acquisitions by outcome",
	}, []string{"result"})
	// UnlockCounter counts releases by outcome.
	UnlockCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_lock_release_total",
		Help: "Total number of lock releases by outcome",
	}, []string{"result"})
	// ConnectionGauge reports the number of live store connections.
	ConnectionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_open",
		Help: "Current number of open store connections",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers relay metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(CommandCounter, CommandLatency, ReconnectCounter, RedispatchCounter,
		LockCounter, UnlockCounter, ConnectionGauge)
}
