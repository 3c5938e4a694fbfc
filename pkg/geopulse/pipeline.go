package geopulse

import (
	"context"
	"time"
)

// PipelineConfig holds pipeline configuration
type PipelineConfig struct {
	// EmitTimeout bounds report emission (default: 2 minutes)
	EmitTimeout time.Duration

	// Clock supplies the report's generation time (default: time.Now in UTC)
	Clock Clock

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger
}

// RunOptions holds optional parameters for a batch run
type RunOptions struct {
	Engagement string
}

// RunOption is a functional option for batch runs
type RunOption func(*RunOptions)

// WithEngagement sets the engagement name printed in the HTML report header
func WithEngagement(name string) RunOption {
	return func(o *RunOptions) {
		o.Engagement = name
	}
}

// Outcome is what one full pipeline run produced.
type Outcome struct {
	Batch     *BatchResult
	Report    *Report
	Artifacts *Artifacts
}

// Pipeline wires the orchestrator, classifier and emitter into one call.
type Pipeline struct {
	orchestrator *Orchestrator
	classifier   *Classifier
	emitter      Emitter
	config       PipelineConfig
}

// NewPipeline creates a new pipeline
func NewPipeline(orchestrator *Orchestrator, classifier *Classifier, emitter Emitter, config PipelineConfig) *Pipeline {
	if config.EmitTimeout <= 0 {
		config.EmitTimeout = 2 * time.Minute
	}
	if config.Clock == nil {
		config.Clock = systemClock
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	return &Pipeline{
		orchestrator: orchestrator,
		classifier:   classifier,
		emitter:      emitter,
		config:       config,
	}
}

// RunBatch analyzes properties, charges the account and publishes the reports.
// On admission failure it returns the *QuotaError and writes nothing.
func (p *Pipeline) RunBatch(ctx context.Context, properties []Property, before, after TimeWindow,
	accountID string, opts ...RunOption) (*Artifacts, error) {
	out, err := p.Run(ctx, properties, before, after, accountID, opts...)
	if err != nil {
		return nil, err
	}
	return out.Artifacts, nil
}

// Run is RunBatch returning the full outcome. A batch that was admitted but
// whose ledger charge failed is still reported on, and the *PersistenceError
// is returned together with the outcome.
func (p *Pipeline) Run(ctx context.Context, properties []Property, before, after TimeWindow,
	accountID string, opts ...RunOption) (*Outcome, error) {
	options := &RunOptions{}
	for _, opt := range opts {
		opt(options)
	}

	batch, runErr := p.orchestrator.Run(ctx, accountID, properties, before, after)
	if batch == nil || batch.Results == nil {
		return nil, runErr
	}

	report := &Report{
		RunID:       batch.RunID,
		AccountID:   accountID,
		Engagement:  options.Engagement,
		GeneratedAt: p.config.Clock(),
		Before:      batch.Before,
		After:       batch.After,
		Results:     batch.Results,
		Changes:     p.classifier.ClassifyAll(batch.Results),
	}
	out := &Outcome{Batch: batch, Report: report}

	// Completed work is flushed even when the caller has cancelled.
	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.EmitTimeout)
	defer cancel()

	artifacts, err := p.emitter.Emit(emitCtx, report)
	if err != nil {
		p.config.Logger.Error("report emission failed",
			Field{"run_id", batch.RunID},
			Field{"error", err.Error()})
		return out, err
	}
	out.Artifacts = artifacts

	p.config.Logger.Info("reports published",
		Field{"run_id", batch.RunID},
		Field{"csv", artifacts.CSVPath},
		Field{"xlsx", artifacts.XLSXPath},
		Field{"html", artifacts.HTMLPath})
	return out, runErr
}
