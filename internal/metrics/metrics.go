package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger
	TransactionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momopay",
		Subsystem: "ledger",
		Name:      "transactions_created_total",
		Help:      "Total payment transactions created",
	}, []string{"payment_method"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momopay",
		Subsystem: "ledger",
		Name:      "transitions_total",
		Help:      "Status changes applied, by edge and observing channel",
	}, []string{"from", "to", "source"})

	IllegalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momopay",
		Subsystem: "ledger",
		Name:      "illegal_transitions_total",
		Help:      "Transitions rejected by the state machine",
	}, []string{"source"})

	// Reconciliation engine
	FoldsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momopay",
		Subsystem: "reconcile",
		Name:      "folds_total",
		Help:      "Events folded, by event kind and result kind",
	}, []string{"event", "result"})

	FoldLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "momopay",
		Subsystem: "reconcile",
		Name:      "fold_duration_seconds",
		Help:      "Time spent inside one fold transaction",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"event"})

	// OTP
	OtpAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momopay",
		Subsystem: "otp",
		Name:      "attempts_total",
		Help:      "OTP verification attempts, by outcome",
	}, []string{"outcome"})

	// Gateway
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momopay",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Outbound gateway calls, by operation and result",
	}, []string{"operation", "result"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "momopay",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Outbound gateway call duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"operation"})

	// Side channels
	SMSSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "momopay",
		Subsystem: "sms",
		Name:      "messages_total",
		Help:      "SMS dispatch attempts, by result",
	}, []string{"result"})

	SweepEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "momopay",
		Subsystem: "sweep",
		Name:      "polls_enqueued_total",
		Help:      "Status polls enqueued for stale transactions",
	})
)
