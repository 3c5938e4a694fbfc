package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements geopulse.Metrics using Prometheus.
type Metrics struct {
	quotaChecksTotal           *prometheus.CounterVec
	quotaCheckDuration         prometheus.Histogram
	callsSpentTotal            prometheus.Counter
	analysisTotal              *prometheus.CounterVec
	analysisDuration           *prometheus.HistogramVec
	batchesTotal               *prometheus.CounterVec
	batchProperties            prometheus.Histogram
	batchDuration              *prometheus.HistogramVec
	storageOpsDuration         *prometheus.HistogramVec
	storageOpsErrors           *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
// Account IDs are never used as labels.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		quotaChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_checks_total",
			Help:      "Total number of batch admission checks.",
		}, []string{"allowed"}),

		quotaCheckDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quota_check_duration_seconds",
			Help:      "Latency of batch admission checks.",
			Buckets:   prometheus.DefBuckets,
		}),

		callsSpentTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imagery_calls_spent_total",
			Help:      "Total number of successful imagery calls charged to ledgers.",
		}),

		analysisTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total number of analyzer calls.",
		}, []string{"window", "success"}),

		analysisDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Latency of analyzer calls.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"window"}),

		batchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of batches by final state.",
		}, []string{"outcome"}),

		batchProperties: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_properties",
			Help:      "Distribution of batch sizes.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000},
		}),

		batchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of batches.",
			Buckets:   []float64{1, 10, 30, 60, 300, 900, 3600},
		}, []string{"outcome"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of ledger storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of ledger storage operation errors.",
		}, []string{"operation"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordQuotaCheck(_ string, allowed bool, duration time.Duration) {
	m.quotaChecksTotal.WithLabelValues(strconv.FormatBool(allowed)).Inc()
	m.quotaCheckDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordCallsSpent(_ string, calls int) {
	m.callsSpentTotal.Add(float64(calls))
}

func (m *Metrics) RecordAnalysis(window string, success bool, duration time.Duration) {
	m.analysisTotal.WithLabelValues(window, strconv.FormatBool(success)).Inc()
	m.analysisDuration.WithLabelValues(window).Observe(duration.Seconds())
}

func (m *Metrics) RecordBatch(outcome string, properties int, duration time.Duration) {
	m.batchesTotal.WithLabelValues(outcome).Inc()
	m.batchProperties.Observe(float64(properties))
	m.batchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}
