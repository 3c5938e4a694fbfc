// Package sentinelhub measures vegetation, built-up and water indices through
// the Sentinel Hub Statistical API.
package sentinelhub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// APIError is a non-2xx response from Sentinel Hub.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Retryable reports whether the failure is on the provider's side.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Analyzer implements geopulse.Analyzer against the Statistical API.
type Analyzer struct {
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[*statsResponse]
	config  Config
}

// New creates a Sentinel Hub analyzer. Without an explicit HTTPClient it
// authenticates with OAuth2 client credentials.
func New(ctx context.Context, config Config) (*Analyzer, error) {
	config.applyDefaults()

	client := config.HTTPClient
	if client == nil {
		if config.ClientID == "" || config.ClientSecret == "" {
			return nil, errors.New("sentinel hub client id and secret are required")
		}
		creds := clientcredentials.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			TokenURL:     config.TokenURL,
		}
		// Token fetches share the request timeout
		base := &http.Client{Timeout: config.HTTPTimeout}
		client = creds.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
		client.Timeout = config.HTTPTimeout
	}

	a := &Analyzer{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		config:  config,
	}
	a.cb = gobreaker.NewCircuitBreaker[*statsResponse](gobreaker.Settings{
		Name:        "sentinel-hub",
		MaxRequests: config.Breaker.MaxRequests,
		Interval:    config.Breaker.Interval,
		Timeout:     config.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.Breaker.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= config.Breaker.FailureRatio
		},
		// Client errors and caller cancellation do not count against the provider
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Retryable()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			config.Logger.Warn("circuit breaker state change",
				geopulse.Field{Key: "breaker", Value: name},
				geopulse.Field{Key: "from", Value: from.String()},
				geopulse.Field{Key: "to", Value: to.String()})
			config.Metrics.RecordCircuitBreakerStateChange(to.String())
		},
	})

	return a, nil
}

// Analyze implements geopulse.Analyzer. Every failure is returned as a
// measurement error.
func (a *Analyzer) Analyze(ctx context.Context, req geopulse.AnalysisRequest) geopulse.Measurement {
	requestID := uuid.NewString()
	log := a.config.Logger
	box := req.BoundingBox()
	width, height := box.PixelDimensions(req.ResolutionMeters)

	log.Info("imagery request",
		geopulse.Field{Key: "request_id", Value: requestID},
		geopulse.Field{Key: "latitude", Value: req.Latitude},
		geopulse.Field{Key: "longitude", Value: req.Longitude},
		geopulse.Field{Key: "bbox", Value: box.String()},
		geopulse.Field{Key: "window", Value: req.Window.String()},
		geopulse.Field{Key: "width", Value: width},
		geopulse.Field{Key: "height", Value: height},
		geopulse.Field{Key: "max_cloud_coverage", Value: req.MaxCloudCoveragePercent})

	start := time.Now()
	m := a.analyze(ctx, req)
	elapsed := time.Since(start)

	if m.Error != "" {
		log.Error("imagery response failed",
			geopulse.Field{Key: "request_id", Value: requestID},
			geopulse.Field{Key: "duration", Value: elapsed.String()},
			geopulse.Field{Key: "error", Value: m.Error})
		return m
	}

	log.Info("imagery response",
		geopulse.Field{Key: "request_id", Value: requestID},
		geopulse.Field{Key: "duration", Value: elapsed.String()},
		geopulse.Field{Key: "ndvi", Value: m.NDVI},
		geopulse.Field{Key: "ndbi", Value: m.NDBI},
		geopulse.Field{Key: "ndwi", Value: m.NDWI})
	return m
}

func (a *Analyzer) analyze(ctx context.Context, req geopulse.AnalysisRequest) geopulse.Measurement {
	if err := a.limiter.Wait(ctx); err != nil {
		return geopulse.FailedMeasurement(contextMessage(ctx, err))
	}

	resp, err := a.cb.Execute(func() (*statsResponse, error) {
		return a.fetch(ctx, req)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return geopulse.FailedMeasurement("sentinel hub unavailable: " + err.Error())
		case ctx.Err() != nil:
			return geopulse.FailedMeasurement(contextMessage(ctx, err))
		default:
			return geopulse.FailedMeasurement(err.Error())
		}
	}

	m, ok := resp.means()
	if !ok {
		if msg := resp.firstIntervalError(); msg != "" {
			return geopulse.FailedMeasurement(msg)
		}
		return geopulse.FailedMeasurement(fmt.Sprintf("%s for period %s to %s",
			geopulse.ErrNoData, req.Window.StartToken(), req.Window.EndToken()))
	}
	return m
}

func (a *Analyzer) fetch(ctx context.Context, req geopulse.AnalysisRequest) (*statsResponse, error) {
	body, err := json.Marshal(newStatsRequest(req, a.config.Collection, a.config.Evalscript))
	if err != nil {
		return nil, fmt.Errorf("encode statistics request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+statisticsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build statistics request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: httpResp.StatusCode, Message: errorMessage(httpResp.StatusCode, raw)}
	}

	var out statsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode statistics response: %w", err)
	}
	return &out, nil
}

// errorMessage prefers the provider's own error message over the status line.
func errorMessage(status int, raw []byte) string {
	var env apiErrorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return fmt.Sprintf("sentinel hub returned %d %s", status, http.StatusText(status))
}

func contextMessage(ctx context.Context, err error) string {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr.Error()
	}
	return err.Error()
}
