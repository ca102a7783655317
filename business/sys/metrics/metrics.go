// Package metrics declares the prometheus collectors for the worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue
	EnvelopesConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "norsh",
		Subsystem: "queue",
		Name:      "envelopes_consumed_total",
		Help:      "Total envelopes read from the request stream",
	})

	EnvelopesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "norsh",
		Subsystem: "queue",
		Name:      "envelopes_dispatched_total",
		Help:      "Total envelopes dispatched, by response status",
	}, []string{"status"})

	DispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "norsh",
		Subsystem: "queue",
		Name:      "dispatch_failures_total",
		Help:      "Total envelopes that failed before a handler produced a response",
	})

	// Lock
	LockAcquisitions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "norsh",
		Subsystem: "lock",
		Name:      "acquisitions_total",
		Help:      "Total distributed lock acquisitions",
	})

	LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "norsh",
		Subsystem: "lock",
		Name:      "timeouts_total",
		Help:      "Total lock acquisitions that timed out",
	})

	LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "norsh",
		Subsystem: "lock",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for the distributed lock",
		Buckets:   []float64{0.001, 0.005, 0.02, 0.1, 0.5, 1, 5, 30},
	})

	// Ledger
	TransactionsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "norsh",
		Subsystem: "ledger",
		Name:      "transactions_committed_total",
		Help:      "Total transactions appended to a ledger bucket",
	})

	BlocksOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "norsh",
		Subsystem: "ledger",
		Name:      "blocks_opened_total",
		Help:      "Total blocks created",
	})

	BlocksClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "norsh",
		Subsystem: "ledger",
		Name:      "blocks_closed_total",
		Help:      "Total blocks closed",
	})

	BlocksMined = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "norsh",
		Subsystem: "ledger",
		Name:      "blocks_mined_total",
		Help:      "Total blocks verified as mined",
	})
)
