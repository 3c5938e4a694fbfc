package geopulse

import "time"

// Metrics defines the interface for tracking ledger, analyzer and batch activity.
type Metrics interface {
	// RecordQuotaCheck records an admission check and whether it passed.
	RecordQuotaCheck(accountID string, allowed bool, duration time.Duration)

	// RecordCallsSpent records successful imagery calls charged to a ledger.
	RecordCallsSpent(accountID string, calls int)

	// RecordAnalysis records one imagery call for a window ("before" or "after").
	RecordAnalysis(window string, success bool, duration time.Duration)

	// RecordBatch records a finished or aborted batch.
	RecordBatch(outcome string, properties int, duration time.Duration)

	// RecordStorageOperation records the duration and status of a ledger storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordQuotaCheck(accountID string, allowed bool, duration time.Duration)    {}
func (n *NoopMetrics) RecordCallsSpent(accountID string, calls int)                               {}
func (n *NoopMetrics) RecordAnalysis(window string, success bool, duration time.Duration)         {}
func (n *NoopMetrics) RecordBatch(outcome string, properties int, duration time.Duration)         {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                               {}
