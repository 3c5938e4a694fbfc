package geopulse

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RunState tracks a batch through admission and processing.
type RunState string

const (
	RunStateNotStarted   RunState = "not_started"
	RunStateQuotaChecked RunState = "quota_checked"
	RunStateProcessing   RunState = "processing"
	RunStateCompleted    RunState = "completed"
	RunStateAborted      RunState = "aborted"
)

const (
	windowBefore = "before"
	windowAfter  = "after"

	// CallsPerProperty is the number of imagery calls charged per property
	CallsPerProperty = 2
)

// OrchestratorConfig holds batch orchestrator configuration
type OrchestratorConfig struct {
	// Concurrency is the number of properties analyzed at once (default: 4)
	Concurrency int

	// CallTimeout bounds each analyzer call (default: 60 seconds)
	CallTimeout time.Duration

	// IncrementTimeout bounds the final ledger write (default: 30 seconds)
	IncrementTimeout time.Duration

	// MaxCloudCoveragePercent is passed to every analysis (default: 20)
	MaxCloudCoveragePercent float64

	// ResolutionMeters is passed to every analysis (default: 10)
	ResolutionMeters float64

	// MinBufferMeters is the smallest query radius (default: 50)
	MinBufferMeters float64

	// Clock supplies "now" (default: time.Now in UTC)
	Clock Clock

	// Metrics is used for tracking batch activity (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger
}

// BatchResult is the outcome of one orchestrated run.
type BatchResult struct {
	RunID     string
	AccountID string
	Before    TimeWindow
	After     TimeWindow
	State     RunState

	// Results has exactly one entry per input property, in input order
	Results []PropertyResult

	RequiredCalls int
	SpentCalls    int
	FailedCalls   int

	// Ledger is the account's ledger after the increment, when one was made
	Ledger *Ledger

	StartedAt  time.Time
	FinishedAt time.Time
}

// SucceededCount returns the number of successful properties.
func (b *BatchResult) SucceededCount() int {
	n := 0
	for _, r := range b.Results {
		if r.Succeeded() {
			n++
		}
	}
	return n
}

// FailedCount returns the number of failed properties.
func (b *BatchResult) FailedCount() int {
	return len(b.Results) - b.SucceededCount()
}

// Orchestrator runs quota-gated batches of property analyses.
type Orchestrator struct {
	ledgers  *LedgerManager
	analyzer Analyzer
	config   OrchestratorConfig
}

// NewOrchestrator creates a new orchestrator with the given ledger manager, analyzer and configuration
func NewOrchestrator(ledgers *LedgerManager, analyzer Analyzer, config OrchestratorConfig) (*Orchestrator, error) {
	if ledgers == nil {
		return nil, ErrStorageUnavailable
	}
	if analyzer == nil {
		return nil, ErrAnalyzerRequired
	}

	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 60 * time.Second
	}
	if config.IncrementTimeout <= 0 {
		config.IncrementTimeout = 30 * time.Second
	}
	if config.MaxCloudCoveragePercent <= 0 {
		config.MaxCloudCoveragePercent = 20
	}
	if config.ResolutionMeters <= 0 {
		config.ResolutionMeters = 10
	}
	if config.MinBufferMeters <= 0 {
		config.MinBufferMeters = DefaultPointBufferMeters
	}
	if config.Clock == nil {
		config.Clock = systemClock
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}

	return &Orchestrator{
		ledgers:  ledgers,
		analyzer: analyzer,
		config:   config,
	}, nil
}

// Run admits, processes and charges one batch.
//
// Admission requires two calls per property. When it fails the returned
// error is the ledger's *QuotaError (or a storage error), no imagery calls
// are issued and nothing is charged. Once admitted, every property yields a
// result whatever happens to its calls. The ledger is then charged for the
// calls that returned data. A failed charge is returned as *PersistenceError.
//
// The BatchResult is returned alongside any error so callers can inspect the
// final state.
func (o *Orchestrator) Run(ctx context.Context, accountID string, properties []Property,
	before, after TimeWindow) (*BatchResult, error) {
	if len(properties) == 0 {
		return nil, ErrNoProperties
	}
	if before.IsZero() {
		before = DefaultBeforeWindow()
	}
	if after.IsZero() {
		after = DefaultAfterWindow()
	}

	batch := &BatchResult{
		RunID:         uuid.NewString(),
		AccountID:     accountID,
		Before:        before,
		After:         after,
		State:         RunStateNotStarted,
		RequiredCalls: CallsPerProperty * len(properties),
		StartedAt:     o.config.Clock(),
	}
	log := o.config.Logger
	runField := Field{"run_id", batch.RunID}

	log.Info("batch started",
		runField,
		Field{"account_id", accountID},
		Field{"properties", len(properties)},
		Field{"required_calls", batch.RequiredCalls},
		Field{"before", before.String()},
		Field{"after", after.String()})

	if _, err := o.ledgers.CheckCapacity(ctx, accountID, batch.RequiredCalls); err != nil {
		return o.abort(batch, err)
	}
	batch.State = RunStateQuotaChecked
	log.Debug("batch admitted", runField)

	batch.State = RunStateProcessing
	var callNanos atomic.Int64
	batch.Results = o.process(ctx, properties, before, after, &callNanos)

	for _, r := range batch.Results {
		batch.SpentCalls += r.SuccessfulCalls()
	}
	batch.FailedCalls = batch.RequiredCalls - batch.SpentCalls

	if batch.SpentCalls > 0 {
		incCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.IncrementTimeout)
		ledger, err := o.ledgers.Increment(incCtx, accountID, batch.SpentCalls)
		cancel()
		if err != nil {
			// A ledger lost after admission is still a failed charge.
			var pe *PersistenceError
			if !errors.As(err, &pe) {
				err = &PersistenceError{AccountID: accountID, Op: "increment", Err: err}
			}
			return o.abort(batch, err)
		}
		batch.Ledger = ledger
	}

	batch.State = RunStateCompleted
	batch.FinishedAt = o.config.Clock()
	o.logSummary(batch, time.Duration(callNanos.Load()))
	o.config.Metrics.RecordBatch(string(RunStateCompleted), len(properties), batch.FinishedAt.Sub(batch.StartedAt))
	return batch, nil
}

func (o *Orchestrator) abort(batch *BatchResult, err error) (*BatchResult, error) {
	batch.State = RunStateAborted
	batch.FinishedAt = o.config.Clock()
	o.config.Logger.Error("batch aborted",
		Field{"run_id", batch.RunID},
		Field{"account_id", batch.AccountID},
		Field{"error", err.Error()})
	o.config.Metrics.RecordBatch(string(RunStateAborted), batch.RequiredCalls/CallsPerProperty,
		batch.FinishedAt.Sub(batch.StartedAt))
	return batch, err
}

// process analyzes every property with a bounded pool. Each goroutine owns
// exactly one slot of the result slice.
func (o *Orchestrator) process(ctx context.Context, properties []Property, before, after TimeWindow,
	callNanos *atomic.Int64) []PropertyResult {
	results := make([]PropertyResult, len(properties))

	var g errgroup.Group
	g.SetLimit(o.config.Concurrency)

	for i, p := range properties {
		if ctx.Err() != nil {
			results[i] = cancelledResult(i, p)
			continue
		}
		g.Go(func() error {
			results[i] = o.analyzeProperty(ctx, i, p, before, after, callNanos)
			return nil
		})
	}

	//nolint:errcheck // workers never return errors
	_ = g.Wait()
	return results
}

func (o *Orchestrator) analyzeProperty(ctx context.Context, i int, p Property, before, after TimeWindow,
	callNanos *atomic.Int64) PropertyResult {
	if ctx.Err() != nil {
		return cancelledResult(i, p)
	}

	o.config.Logger.Debug("analyzing property",
		Field{"index", i},
		Field{"latitude", p.Latitude},
		Field{"longitude", p.Longitude},
		Field{"extent_acres", p.ExtentAcres})

	b := o.measure(ctx, windowBefore, o.request(p, before), callNanos)
	a := o.measure(ctx, windowAfter, o.request(p, after), callNanos)

	result := NewPropertyResult(i, p, b, a)
	if !result.Succeeded() {
		o.config.Logger.Warn("property analysis failed",
			Field{"index", i},
			Field{"before_success", b.Successful()},
			Field{"after_success", a.Successful()},
			Field{"detail", result.StatusDetail})
	}
	return result
}

func (o *Orchestrator) request(p Property, w TimeWindow) AnalysisRequest {
	return AnalysisRequest{
		Latitude:                p.Latitude,
		Longitude:               p.Longitude,
		ExtentAcres:             p.ExtentAcres,
		Window:                  w,
		MaxCloudCoveragePercent: o.config.MaxCloudCoveragePercent,
		ResolutionMeters:        o.config.ResolutionMeters,
		MinBufferMeters:         o.config.MinBufferMeters,
	}
}

// measure runs one analyzer call under the per-call timeout. Panics and
// cancellation are folded into the measurement.
func (o *Orchestrator) measure(ctx context.Context, window string, req AnalysisRequest,
	callNanos *atomic.Int64) (m Measurement) {
	if ctx.Err() != nil {
		return FailedMeasurement(CancelledMessage)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.config.CallTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m = FailedMeasurement(fmt.Sprintf("analyzer panic: %v", r))
		}
		if ctx.Err() != nil && !m.Successful() {
			m = FailedMeasurement(CancelledMessage)
		}
		elapsed := time.Since(start)
		callNanos.Add(int64(elapsed))
		o.config.Metrics.RecordAnalysis(window, m.Successful(), elapsed)
	}()

	return o.analyzer.Analyze(callCtx, req)
}

func (o *Orchestrator) logSummary(batch *BatchResult, callTime time.Duration) {
	calls := batch.RequiredCalls
	var rate float64
	var avg time.Duration
	if calls > 0 {
		rate = Round4(float64(batch.SpentCalls) / float64(calls) * 100)
		avg = callTime / time.Duration(calls)
	}
	o.config.Logger.Info("batch completed",
		Field{"run_id", batch.RunID},
		Field{"account_id", batch.AccountID},
		Field{"properties", len(batch.Results)},
		Field{"succeeded", batch.SucceededCount()},
		Field{"failed", batch.FailedCount()},
		Field{"successful_calls", batch.SpentCalls},
		Field{"failed_calls", batch.FailedCalls},
		Field{"success_rate_pct", rate},
		Field{"total_call_time", callTime.String()},
		Field{"avg_call_time", avg.String()})
}

// NewPropertyResult classifies a pair of measurements. Status is Success only
// when both measurements are successful.
func NewPropertyResult(i int, p Property, before, after Measurement) PropertyResult {
	r := PropertyResult{
		Index:    i,
		Property: p,
		Before:   before,
		After:    after,
	}
	if before.Successful() && after.Successful() {
		r.Status = StatusSuccess
		r.StatusDetail = StatusSuccessful
		return r
	}

	r.Status = StatusFailed
	switch {
	case !before.Successful() && before.Error != "":
		r.StatusDetail = before.Error
	case !after.Successful() && after.Error != "":
		r.StatusDetail = after.Error
	default:
		r.StatusDetail = CallFailedMessage
	}
	return r
}

func cancelledResult(i int, p Property) PropertyResult {
	c := FailedMeasurement(CancelledMessage)
	return NewPropertyResult(i, p, c, c)
}
