package sentinelhub

import (
	"net/http"
	"time"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

const (
	DefaultBaseURL    = "https://services.sentinel-hub.com"
	DefaultTokenURL   = "https://services.sentinel-hub.com/auth/realms/main/protocol/openid-connect/token"
	DefaultCollection = "sentinel-2-l2a"

	statisticsPath = "/api/v1/statistics"
)

// DefaultEvalscript computes NDVI, NDBI and NDWI from Sentinel-2 L2A bands.
const DefaultEvalscript = `//VERSION=3
function setup() {
  return {
    input: [{ bands: ["B03", "B04", "B08", "B11", "dataMask"] }],
    output: [
      { id: "indices", bands: 3, sampleType: "FLOAT32" },
      { id: "dataMask", bands: 1 }
    ]
  };
}

function ratio(a, b) {
  return (a + b) === 0 ? 0 : (a - b) / (a + b);
}

function evaluatePixel(s) {
  return {
    indices: [ratio(s.B08, s.B04), ratio(s.B11, s.B08), ratio(s.B03, s.B08)],
    dataMask: [s.dataMask]
  };
}`

// BreakerConfig configures the provider circuit breaker
type BreakerConfig struct {
	// MaxRequests allowed through while half-open (default: 3)
	MaxRequests uint32

	// Interval resets counts while closed (default: 1 minute)
	Interval time.Duration

	// Timeout before an open breaker goes half-open (default: 2 minutes)
	Timeout time.Duration

	// MinRequests before the failure ratio is considered (default: 10)
	MinRequests uint32

	// FailureRatio at or above which the breaker opens (default: 0.6)
	FailureRatio float64
}

// Config holds Sentinel Hub analyzer configuration
type Config struct {
	// ClientID and ClientSecret are the OAuth2 client credentials
	ClientID     string
	ClientSecret string

	// BaseURL is the API host (default: DefaultBaseURL)
	BaseURL string

	// TokenURL is the OAuth2 token endpoint (default: DefaultTokenURL)
	TokenURL string

	// Collection is the data collection queried (default: sentinel-2-l2a)
	Collection string

	// Evalscript computes the three indices plus dataMask (default: DefaultEvalscript)
	Evalscript string

	// RequestsPerSecond paces calls to the provider (default: 5)
	RequestsPerSecond float64

	// Burst is the limiter burst size (default: 1)
	Burst int

	// HTTPTimeout bounds each HTTP exchange (default: 60 seconds)
	HTTPTimeout time.Duration

	// Breaker configures the circuit breaker
	Breaker BreakerConfig

	// HTTPClient replaces the OAuth2 client when set. It must authenticate
	// requests itself.
	HTTPClient *http.Client

	// Metrics is used for circuit breaker state changes (default: NoopMetrics)
	Metrics geopulse.Metrics

	// Logger is used for request/response logging (default: NoopLogger)
	Logger geopulse.Logger
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.Evalscript == "" {
		c.Evalscript = DefaultEvalscript
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 60 * time.Second
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = 3
	}
	if c.Breaker.Interval <= 0 {
		c.Breaker.Interval = time.Minute
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = 2 * time.Minute
	}
	if c.Breaker.MinRequests == 0 {
		c.Breaker.MinRequests = 10
	}
	if c.Breaker.FailureRatio <= 0 {
		c.Breaker.FailureRatio = 0.6
	}
	if c.Metrics == nil {
		c.Metrics = &geopulse.NoopMetrics{}
	}
	if c.Logger == nil {
		c.Logger = &geopulse.NoopLogger{}
	}
}
