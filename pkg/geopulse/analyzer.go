package geopulse

import "context"

// AnalysisRequest describes one imagery measurement for one property.
type AnalysisRequest struct {
	Latitude    float64
	Longitude   float64
	ExtentAcres float64
	Window      TimeWindow

	// MaxCloudCoveragePercent filters out scenes cloudier than this (0-100)
	MaxCloudCoveragePercent float64

	// ResolutionMeters is the pixel size requested from the provider
	ResolutionMeters float64

	// MinBufferMeters is the smallest radius queried around the point
	MinBufferMeters float64
}

// BoundingBox returns the query region for the request.
func (r AnalysisRequest) BoundingBox() BoundingBox {
	return NewBoundingBox(r.Latitude, r.Longitude, r.ExtentAcres, r.MinBufferMeters)
}

// Analyzer measures the three indices for one property and window.
// Implementations never return an error: failures, timeouts and empty
// responses are reported through Measurement.Error with zero indices.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) Measurement
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, req AnalysisRequest) Measurement

// Analyze implements Analyzer.
func (f AnalyzerFunc) Analyze(ctx context.Context, req AnalysisRequest) Measurement {
	return f(ctx, req)
}
