// Package app assembles a ready-to-run geopulse pipeline from a loaded
// configuration: logger, metrics, ledger storage, imagery provider,
// classifier and report emitter.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/geopulse/imagery/sentinelhub"
	"github.com/mihaimyh/geopulse/imagery/synthetic"
	"github.com/mihaimyh/geopulse/pkg/billing"
	billingmetrics "github.com/mihaimyh/geopulse/pkg/billing/metrics/prometheus"
	stripebilling "github.com/mihaimyh/geopulse/pkg/billing/stripe"
	"github.com/mihaimyh/geopulse/pkg/config"
	"github.com/mihaimyh/geopulse/pkg/geopulse"
	zerologadapter "github.com/mihaimyh/geopulse/pkg/geopulse/logger/zerolog"
	promadapter "github.com/mihaimyh/geopulse/pkg/geopulse/metrics/prometheus"
	"github.com/mihaimyh/geopulse/pkg/table"
	"github.com/mihaimyh/geopulse/report"
	firestorestorage "github.com/mihaimyh/geopulse/storage/firestore"
	"github.com/mihaimyh/geopulse/storage/memory"
	postgresstorage "github.com/mihaimyh/geopulse/storage/postgres"
	redisstorage "github.com/mihaimyh/geopulse/storage/redis"
	"github.com/mihaimyh/geopulse/storage/tiered"
)

// MetricsNamespace prefixes every exported Prometheus metric.
const MetricsNamespace = "geopulse"

// Options tunes how the application is assembled
type Options struct {
	// LogOutput receives log lines (default: os.Stderr)
	LogOutput io.Writer

	// Registerer receives the Prometheus collectors (default: a private registry)
	Registerer prometheus.Registerer

	// Analyzer replaces the configured imagery provider when set
	Analyzer geopulse.Analyzer

	// Storage replaces the configured ledger backend when set
	Storage geopulse.Storage

	// Clock overrides "now" for the ledger and the pipeline
	Clock geopulse.Clock
}

// App is a wired geopulse instance.
type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	Logger   geopulse.Logger
	Metrics  geopulse.Metrics
	Ledgers  *geopulse.LedgerManager
	Pipeline *geopulse.Pipeline

	// Billing is nil unless billing.stripe.api_key is set
	Billing *stripebilling.Provider

	closers []func() error
}

// NewZerolog builds the root zerolog logger for a logging configuration.
func NewZerolog(cfg config.LoggingConfig, out io.Writer) (zerolog.Logger, error) {
	if out == nil {
		out = os.Stderr
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// New assembles the application. Close releases the storage clients it opened.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	zl, err := NewZerolog(cfg.Logging, opts.LogOutput)
	if err != nil {
		return nil, err
	}
	logger := zerologadapter.NewLogger(&zl)

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := promadapter.NewMetrics(reg, MetricsNamespace)

	a := &App{Config: cfg, Log: zl, Logger: logger, Metrics: metrics}

	storage := opts.Storage
	if storage == nil {
		if storage, err = a.openStorage(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	a.Ledgers, err = geopulse.NewLedgerManager(storage, geopulse.LedgerConfig{
		DefaultAllowedCalls: cfg.Ledger.DefaultAllowedCalls,
		DefaultValidity:     cfg.Ledger.DefaultValidity(),
		Clock:               opts.Clock,
		Metrics:             metrics,
		Logger:              logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	analyzer := opts.Analyzer
	if analyzer == nil {
		if analyzer, err = a.openAnalyzer(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	p := cfg.Processing
	orchestrator, err := geopulse.NewOrchestrator(a.Ledgers, analyzer, geopulse.OrchestratorConfig{
		Concurrency:             p.Concurrency,
		CallTimeout:             p.CallTimeout,
		IncrementTimeout:        p.IncrementTimeout,
		MaxCloudCoveragePercent: p.MaxCloudCoveragePercent,
		ResolutionMeters:        p.ResolutionMeters,
		MinBufferMeters:         p.MinBufferMeters,
		Clock:                   opts.Clock,
		Metrics:                 metrics,
		Logger:                  logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	classifier, err := geopulse.NewClassifier(cfg.Thresholds)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	emitter, err := report.New(report.Config{OutputDir: cfg.Report.OutputDir, Logger: logger})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Pipeline = geopulse.NewPipeline(orchestrator, classifier, emitter, geopulse.PipelineConfig{
		EmitTimeout: p.EmitTimeout,
		Clock:       opts.Clock,
		Logger:      logger,
	})

	if cfg.Billing.Enabled() {
		if a.Billing, err = a.openBilling(reg); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

// RunFile loads a property table and runs it through the pipeline using the
// configured windows and engagement name.
func (a *App) RunFile(ctx context.Context, path, accountID string) (*geopulse.Outcome, error) {
	properties, err := table.Load(path)
	if err != nil {
		return nil, err
	}
	before, after, err := a.Config.Windows()
	if err != nil {
		return nil, err
	}

	a.Logger.Info("property table loaded",
		geopulse.Field{Key: "path", Value: path},
		geopulse.Field{Key: "properties", Value: len(properties)})

	return a.Pipeline.Run(ctx, properties, before, after, accountID,
		geopulse.WithEngagement(a.Config.Report.Engagement))
}

// Close releases every client opened by New, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openStorage(ctx context.Context) (geopulse.Storage, error) {
	sc := a.Config.Storage

	var storage geopulse.Storage
	switch sc.Backend {
	case config.BackendMemory:
		storage = memory.New()

	case config.BackendPostgres:
		pgConfig := postgresstorage.DefaultConfig()
		pgConfig.ConnectionString = sc.Postgres.DSN
		if sc.Postgres.MaxConns > 0 {
			pgConfig.MaxConns = sc.Postgres.MaxConns
		}
		pg, err := postgresstorage.New(ctx, pgConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		storage = pg

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rs, err := redisstorage.New(client, redisstorage.Config{KeyPrefix: sc.Redis.KeyPrefix})
		if err != nil {
			return nil, err
		}
		storage = rs

	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, sc.Firestore.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		fs, err := firestorestorage.New(client, firestorestorage.Config{LedgersCollection: sc.Firestore.Collection})
		if err != nil {
			return nil, err
		}
		storage = fs

	default:
		return nil, fmt.Errorf("storage backend %q is not supported", sc.Backend)
	}

	if sc.Tiered {
		ts, err := tiered.New(tiered.Config{
			Hot:  memory.New(),
			Cold: storage,
			AsyncErrorHandler: func(err error) {
				a.Logger.Warn("ledger cache refresh failed", geopulse.Field{Key: "error", Value: err.Error()})
			},
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ts.Close)
		storage = ts
	}

	if sc.CircuitBreaker {
		cb := geopulse.NewDefaultCircuitBreaker(5, 30*time.Second, func(state geopulse.CircuitBreakerState) {
			a.Metrics.RecordCircuitBreakerStateChange(string(state))
			a.Logger.Warn("ledger storage circuit breaker changed state",
				geopulse.Field{Key: "state", Value: string(state)})
		})
		storage = geopulse.NewCircuitBreakerStorage(storage, cb)
	}

	a.Logger.Info("ledger storage ready",
		geopulse.Field{Key: "backend", Value: sc.Backend},
		geopulse.Field{Key: "tiered", Value: sc.Tiered},
		geopulse.Field{Key: "circuit_breaker", Value: sc.CircuitBreaker})
	return storage, nil
}

func (a *App) openBilling(reg prometheus.Registerer) (*stripebilling.Provider, error) {
	bc := a.Config.Billing
	plans := make(map[string]billing.Plan, len(bc.Plans))
	for id, p := range bc.Plans {
		name := p.Name
		if name == "" {
			name = id
		}
		plans[id] = billing.Plan{Name: name, Calls: p.Calls, ExtendDays: p.ExtendDays}
	}

	provider, err := stripebilling.NewProvider(stripebilling.Config{
		Config: billing.Config{
			Ledgers: a.Ledgers,
			Plans:   plans,
			Metrics: billingmetrics.NewMetrics(reg, MetricsNamespace),
			Logger:  a.Logger,
		},
		StripeAPIKey:        bc.Stripe.APIKey,
		StripeWebhookSecret: bc.Stripe.WebhookSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe billing: %w", err)
	}
	a.Logger.Info("stripe billing enabled", geopulse.Field{Key: "plans", Value: len(plans)})
	return provider, nil
}

func (a *App) openAnalyzer(ctx context.Context) (geopulse.Analyzer, error) {
	ic := a.Config.Imagery
	switch ic.Provider {
	case config.ProviderSynthetic:
		return synthetic.New(synthetic.Config{FailureRate: ic.SyntheticFailureRate}), nil
	case config.ProviderSentinelHub:
		analyzer, err := sentinelhub.New(ctx, sentinelhub.Config{
			ClientID:          ic.ClientID,
			ClientSecret:      ic.ClientSecret,
			BaseURL:           ic.BaseURL,
			TokenURL:          ic.TokenURL,
			Collection:        ic.Collection,
			RequestsPerSecond: ic.RequestsPerSecond,
			Burst:             ic.Burst,
			HTTPTimeout:       ic.HTTPTimeout,
			Metrics:           a.Metrics,
			Logger:            a.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create sentinelhub analyzer: %w", err)
		}
		return analyzer, nil
	default:
		return nil, fmt.Errorf("imagery provider %q is not supported", ic.Provider)
	}
}
