// Package synthetic provides a deterministic offline analyzer for demos and
// tests. The same property and window always produce the same measurement.
package synthetic

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// Config holds synthetic analyzer configuration
type Config struct {
	// FailureRate is the share of calls, between 0 and 1, that report an error
	FailureRate float64

	// Seed varies the generated values between runs of a demo
	Seed uint64
}

// Analyzer implements geopulse.Analyzer without any network access.
type Analyzer struct {
	config Config
}

// New creates a synthetic analyzer.
func New(config Config) *Analyzer {
	config.FailureRate = math.Min(math.Max(config.FailureRate, 0), 1)
	return &Analyzer{config: config}
}

// Analyze implements geopulse.Analyzer
func (a *Analyzer) Analyze(ctx context.Context, req geopulse.AnalysisRequest) geopulse.Measurement {
	if err := ctx.Err(); err != nil {
		return geopulse.FailedMeasurement(err.Error())
	}

	rng := rand.New(rand.NewPCG(a.config.Seed, a.key(req)))
	if rng.Float64() < a.config.FailureRate {
		return geopulse.FailedMeasurement("synthetic provider error")
	}

	return geopulse.Measurement{
		NDVI: round(uniform(rng, 0.1, 0.8)),
		NDBI: round(uniform(rng, -0.3, 0.3)),
		NDWI: round(uniform(rng, -0.5, 0.2)),
	}
}

func (a *Analyzer) key(req geopulse.AnalysisRequest) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range []float64{req.Latitude, req.Longitude, req.ExtentAcres} {
		bits := math.Float64bits(v)
		for i := range buf {
			buf[i] = byte(bits >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	}
	_, _ = h.Write([]byte(req.Window.String()))
	return h.Sum64()
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func round(v float64) float64 {
	r := geopulse.Round4(v)
	if r == 0 {
		// Zero on every index reads as "no data"
		return 0.0001
	}
	return r
}
