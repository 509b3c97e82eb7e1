// Package metrics is the Prometheus instrumentation layer for
// registration, call, transaction and reconnect events (spec's
// domain-stack addition, §"Metrics"). It is grounded on the teacher's
// pkg/dialog/metrics.go MetricsCollector shape, with the enabled-toggle
// pattern kept so tests and CLI tools can run with metrics off. sipcore
// reports registration and call events and errors to it;
// TransactionCompleted and ReconnectAttempt are not called from any other
// package in this module.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"sipline.dev/core/internal/obslog"
)

// Config controls whether metrics are collected and the Prometheus
// namespace/subsystem they are registered under.
type Config struct {
	Enabled   bool
	Namespace string
	Subsystem string
	Logger    *obslog.Logger
}

// DefaultConfig matches the teacher's DefaultMetricsConfig defaults,
// renamed to this module's domain.
func DefaultConfig() Config {
	return Config{Enabled: true, Namespace: "sipline", Subsystem: "core"}
}

// Collector is the single metrics surface every package above it reports
// to. A disabled Collector is a safe no-op so callers never need to check
// Config.Enabled themselves.
type Collector struct {
	enabled bool
	log     *obslog.Logger

	registrationsTotal    prometheus.Counter
	registrationsActive   prometheus.Gauge
	registrationDuration  prometheus.Histogram
	registrationState     *prometheus.CounterVec

	callsTotal       prometheus.Counter
	callsActive      prometheus.Gauge
	callDuration     prometheus.Histogram
	callState        *prometheus.CounterVec

	transactionsTotal    prometheus.Counter
	transactionDuration  prometheus.Histogram

	reconnectAttempts *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

// NewCollector builds a Collector registered under cfg's namespace and
// subsystem, or a disabled no-op Collector if cfg.Enabled is false.
func NewCollector(cfg Config) *Collector {
	log := cfg.Logger
	if log == nil {
		log = obslog.New()
	}
	log = log.WithComponent("metrics")

	if !cfg.Enabled {
		return &Collector{enabled: false, log: log}
	}

	ns, sub := cfg.Namespace, cfg.Subsystem
	c := &Collector{enabled: true, log: log}

	c.registrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "registrations_total",
		Help: "Total number of REGISTER attempts started.",
	})
	c.registrationsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, Name: "registrations_active",
		Help: "Number of accounts currently in registrar.StateOk.",
	})
	c.registrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub, Name: "registration_duration_seconds",
		Help:    "Duration of a REGISTER attempt, success or failure.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
	c.registrationState = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "registration_state_transitions_total",
		Help: "Registration state machine transitions, by from/to state.",
	}, []string{"from_state", "to_state"})

	c.callsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "calls_total",
		Help: "Total number of calls started, incoming or outgoing.",
	})
	c.callsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, Name: "calls_active",
		Help: "Number of calls not yet in a terminal state.",
	})
	c.callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub, Name: "call_duration_seconds",
		Help:    "Duration from call start to Ended.",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
	})
	c.callState = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "call_state_transitions_total",
		Help: "Call state machine transitions, by from/to state.",
	}, []string{"from_state", "to_state"})

	c.transactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "transactions_total",
		Help: "Total number of SIP transactions created.",
	})
	c.transactionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub, Name: "transaction_duration_seconds",
		Help:    "Duration of a SIP transaction from creation to termination.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 32},
	})

	c.reconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "reconnect_attempts_total",
		Help: "Reconnect attempts by account, labeled by outcome.",
	}, []string{"account", "outcome"})

	c.errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, Name: "errors_total",
		Help: "Errors observed, by component and reason.",
	}, []string{"component", "reason"})

	return c
}

// RegistrationStarted records one REGISTER attempt beginning.
func (c *Collector) RegistrationStarted() {
	if !c.enabled {
		return
	}
	c.registrationsTotal.Inc()
}

// RegistrationStateChanged records a registrar.RegState transition and
// adjusts the active-registrations gauge.
func (c *Collector) RegistrationStateChanged(from, to string, attemptDuration time.Duration) {
	if !c.enabled {
		return
	}
	c.registrationState.WithLabelValues(from, to).Inc()
	if attemptDuration > 0 {
		c.registrationDuration.Observe(attemptDuration.Seconds())
	}
	switch to {
	case "Ok":
		c.registrationsActive.Inc()
	}
	if from == "Ok" && to != "Ok" {
		c.registrationsActive.Dec()
	}
}

// CallStarted records one call beginning, incoming or outgoing.
func (c *Collector) CallStarted() {
	if !c.enabled {
		return
	}
	c.callsTotal.Inc()
	c.callsActive.Inc()
}

// CallStateChanged records a call-state transition; on reaching a
// terminal state it decrements the active-calls gauge and observes the
// call's total duration if startedAt is non-zero.
func (c *Collector) CallStateChanged(from, to string, terminal bool, startedAt time.Time) {
	if !c.enabled {
		return
	}
	c.callState.WithLabelValues(from, to).Inc()
	if !terminal {
		return
	}
	c.callsActive.Dec()
	if !startedAt.IsZero() {
		c.callDuration.Observe(time.Since(startedAt).Seconds())
	}
}

// TransactionCompleted records one transaction's lifetime.
func (c *Collector) TransactionCompleted(duration time.Duration) {
	if !c.enabled {
		return
	}
	c.transactionsTotal.Inc()
	c.transactionDuration.Observe(duration.Seconds())
}

// ReconnectAttempt records one reconnect attempt's outcome
// ("success", "retry", "exhausted").
func (c *Collector) ReconnectAttempt(account, outcome string) {
	if !c.enabled {
		return
	}
	c.reconnectAttempts.WithLabelValues(account, outcome).Inc()
}

// Error records a failure observed by component, labeled with a short
// reason so cardinality stays bounded (never the raw error string).
func (c *Collector) Error(component, reason string) {
	if !c.enabled {
		return
	}
	c.errorsTotal.WithLabelValues(component, reason).Inc()
	c.log.Warn(context.Background(), "error recorded",
		obslog.String("component", component), obslog.String("reason", reason))
}
