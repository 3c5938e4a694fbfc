// Package config loads geopulse settings from defaults, an optional YAML file
// and GEOPULSE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// EnvPrefix prefixes every environment override. Nested keys are separated
// by a double underscore: GEOPULSE_IMAGERY__CLIENT_ID sets imagery.client_id.
const EnvPrefix = "GEOPULSE_"

// PathEnvVar names a config file to load instead of the default paths.
const PathEnvVar = "GEOPULSE_CONFIG"

// DefaultPaths are searched in order when no explicit path is given.
var DefaultPaths = []string{
	"geopulse.yaml",
	"geopulse.yml",
	"/etc/geopulse/config.yaml",
}

// Imagery providers.
const (
	ProviderSentinelHub = "sentinelhub"
	ProviderSynthetic   = "synthetic"
)

// Storage backends.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

// Config is the full application configuration.
type Config struct {
	Imagery    ImageryConfig                 `koanf:"imagery"`
	Processing ProcessingConfig              `koanf:"processing"`
	Thresholds geopulse.ClassificationConfig `koanf:"thresholds"`
	Ledger     LedgerConfig                  `koanf:"ledger"`
	Storage    StorageConfig                 `koanf:"storage"`
	Report     ReportConfig                  `koanf:"report"`
	Logging    LoggingConfig                 `koanf:"logging"`
	Server     ServerConfig                  `koanf:"server"`
	Billing    BillingConfig                 `koanf:"billing"`
}

// ImageryConfig selects and configures the imagery provider.
type ImageryConfig struct {
	Provider          string        `koanf:"provider"`
	ClientID          string        `koanf:"client_id"`
	ClientSecret      string        `koanf:"client_secret"`
	BaseURL           string        `koanf:"base_url"`
	TokenURL          string        `koanf:"token_url"`
	Collection        string        `koanf:"collection"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	HTTPTimeout       time.Duration `koanf:"http_timeout"`

	// SyntheticFailureRate only applies to the synthetic provider
	SyntheticFailureRate float64 `koanf:"synthetic_failure_rate"`
}

// ProcessingConfig holds per-batch processing parameters.
type ProcessingConfig struct {
	ResolutionMeters        float64       `koanf:"resolution_meters"`
	MaxCloudCoveragePercent float64       `koanf:"max_cloud_coverage_percent"`
	MinBufferMeters         float64       `koanf:"min_buffer_meters"`
	Concurrency             int           `koanf:"concurrency"`
	CallTimeout             time.Duration `koanf:"call_timeout"`
	IncrementTimeout        time.Duration `koanf:"increment_timeout"`
	EmitTimeout             time.Duration `koanf:"emit_timeout"`

	// Window dates are YYYY-MM-DD; empty uses the built-in windows
	BeforeStart string `koanf:"before_start"`
	BeforeEnd   string `koanf:"before_end"`
	AfterStart  string `koanf:"after_start"`
	AfterEnd    string `koanf:"after_end"`
}

// LedgerConfig holds defaults for newly provisioned accounts.
type LedgerConfig struct {
	DefaultAllowedCalls int `koanf:"default_allowed_calls"`
	DefaultValidityDays int `koanf:"default_validity_days"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Backend        string          `koanf:"backend"`
	CircuitBreaker bool            `koanf:"circuit_breaker"`
	Postgres       PostgresConfig  `koanf:"postgres"`
	Redis          RedisConfig     `koanf:"redis"`
	Firestore      FirestoreConfig `koanf:"firestore"`

	// Tiered puts an in-process read cache in front of a remote backend
	Tiered bool `koanf:"tiered"`
}

type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
}

type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

type FirestoreConfig struct {
	ProjectID  string `koanf:"project_id"`
	Collection string `koanf:"collection"`
}

// ReportConfig configures artifact output.
type ReportConfig struct {
	OutputDir  string `koanf:"output_dir"`
	Engagement string `koanf:"engagement"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ServerConfig configures the usage HTTP API.
type ServerConfig struct {
	Addr         string        `koanf:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// BillingConfig renews ledgers from paid Stripe checkouts. Billing stays off
// while stripe.api_key is empty.
type BillingConfig struct {
	Stripe StripeConfig          `koanf:"stripe"`
	Plans  map[string]PlanConfig `koanf:"plans"`
}

// StripeConfig holds the Stripe credentials.
type StripeConfig struct {
	APIKey        string `koanf:"api_key"`
	WebhookSecret string `koanf:"webhook_secret"`
}

// PlanConfig is what one Stripe price grants, keyed by price ID.
type PlanConfig struct {
	Name       string `koanf:"name"`
	Calls      int    `koanf:"calls"`
	ExtendDays int    `koanf:"extend_days"`
}

// Enabled reports whether Stripe billing is configured.
func (c BillingConfig) Enabled() bool {
	return c.Stripe.APIKey != ""
}

// Default returns the built-in configuration.
func Default() *Config {
	before := geopulse.DefaultBeforeWindow()
	after := geopulse.DefaultAfterWindow()
	return &Config{
		Imagery: ImageryConfig{
			Provider:          ProviderSentinelHub,
			BaseURL:           "https://services.sentinel-hub.com",
			TokenURL:          "https://services.sentinel-hub.com/auth/realms/main/protocol/openid-connect/token",
			Collection:        "sentinel-2-l2a",
			RequestsPerSecond: 5,
			Burst:             1,
			HTTPTimeout:       60 * time.Second,
		},
		Processing: ProcessingConfig{
			ResolutionMeters:        10,
			MaxCloudCoveragePercent: 20,
			MinBufferMeters:         50,
			Concurrency:             4,
			CallTimeout:             60 * time.Second,
			IncrementTimeout:        30 * time.Second,
			EmitTimeout:             2 * time.Minute,
			BeforeStart:             before.StartToken(),
			BeforeEnd:               before.EndToken(),
			AfterStart:              after.StartToken(),
			AfterEnd:                after.EndToken(),
		},
		Thresholds: geopulse.DefaultClassificationConfig(),
		Ledger: LedgerConfig{
			DefaultAllowedCalls: geopulse.DefaultAllowedCalls,
			DefaultValidityDays: 30,
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "geopulse:",
			},
			Firestore: FirestoreConfig{
				Collection: "usage_ledgers",
			},
		},
		Report: ReportConfig{
			OutputDir: "output",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Load builds the configuration. An empty path falls back to $GEOPULSE_CONFIG
// and then DefaultPaths; a missing default file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKey maps GEOPULSE_STORAGE__REDIS__ADDR to storage.redis.addr.
func envKey(s string) string {
	if s == PathEnvVar {
		return ""
	}
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Imagery.Provider {
	case ProviderSentinelHub:
		if c.Imagery.ClientID == "" || c.Imagery.ClientSecret == "" {
			errs = append(errs, errors.New("imagery.client_id and imagery.client_secret are required for sentinelhub"))
		}
	case ProviderSynthetic:
		if c.Imagery.SyntheticFailureRate < 0 || c.Imagery.SyntheticFailureRate > 1 {
			errs = append(errs, errors.New("imagery.synthetic_failure_rate must be between 0 and 1"))
		}
	default:
		errs = append(errs, fmt.Errorf("imagery.provider %q is not supported", c.Imagery.Provider))
	}

	p := c.Processing
	if p.ResolutionMeters <= 0 {
		errs = append(errs, errors.New("processing.resolution_meters must be positive"))
	}
	if p.MaxCloudCoveragePercent < 0 || p.MaxCloudCoveragePercent > 100 {
		errs = append(errs, errors.New("processing.max_cloud_coverage_percent must be between 0 and 100"))
	}
	if p.MinBufferMeters < 0 {
		errs = append(errs, errors.New("processing.min_buffer_meters must be >= 0"))
	}
	if p.Concurrency < 1 {
		errs = append(errs, errors.New("processing.concurrency must be at least 1"))
	}
	if p.CallTimeout <= 0 {
		errs = append(errs, errors.New("processing.call_timeout must be positive"))
	}
	if _, _, err := c.Windows(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("thresholds: %w", err))
	}

	if c.Ledger.DefaultAllowedCalls < 0 {
		errs = append(errs, errors.New("ledger.default_allowed_calls must be >= 0"))
	}
	if c.Ledger.DefaultValidityDays < 1 {
		errs = append(errs, errors.New("ledger.default_validity_days must be at least 1"))
	}

	switch c.Storage.Backend {
	case BackendMemory:
		if c.Storage.Tiered {
			errs = append(errs, errors.New("storage.tiered needs a remote backend"))
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required"))
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required"))
		}
	case BackendFirestore:
		if c.Storage.Firestore.ProjectID == "" {
			errs = append(errs, errors.New("storage.firestore.project_id is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend))
	}

	if c.Report.OutputDir == "" {
		errs = append(errs, errors.New("report.output_dir is required"))
	}

	if c.Billing.Enabled() {
		if c.Billing.Stripe.WebhookSecret == "" {
			errs = append(errs, errors.New("billing.stripe.webhook_secret is required with an api key"))
		}
		if len(c.Billing.Plans) == 0 {
			errs = append(errs, errors.New("billing.plans must name at least one price"))
		}
		for id, plan := range c.Billing.Plans {
			if plan.Calls < 1 || plan.ExtendDays < 1 {
				errs = append(errs, fmt.Errorf("billing.plans.%s must grant calls and extend_days", id))
			}
		}
	}

	return errors.Join(errs...)
}

// Windows parses the configured before and after windows.
func (c *Config) Windows() (before, after geopulse.TimeWindow, err error) {
	p := c.Processing
	if before, err = parseWindow("before", p.BeforeStart, p.BeforeEnd); err != nil {
		return
	}
	after, err = parseWindow("after", p.AfterStart, p.AfterEnd)
	return
}

func parseWindow(name, start, end string) (geopulse.TimeWindow, error) {
	s, err := time.Parse(geopulse.DateLayout, start)
	if err != nil {
		return geopulse.TimeWindow{}, fmt.Errorf("processing.%s_start: %w", name, err)
	}
	e, err := time.Parse(geopulse.DateLayout, end)
	if err != nil {
		return geopulse.TimeWindow{}, fmt.Errorf("processing.%s_end: %w", name, err)
	}
	if e.Before(s) {
		return geopulse.TimeWindow{}, fmt.Errorf("processing.%s window ends before it starts", name)
	}
	return geopulse.TimeWindow{Start: s, End: e}, nil
}

// DefaultValidity returns the ledger validity as a duration.
func (c LedgerConfig) DefaultValidity() time.Duration {
	return time.Duration(c.DefaultValidityDays) * 24 * time.Hour
}
