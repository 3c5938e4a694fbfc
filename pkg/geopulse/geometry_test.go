package geopulse

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPropertyRadiusMeters(t *testing.T) {
	assert.Equal(t, DefaultPointBufferMeters, PropertyRadiusMeters(0))
	assert.Equal(t, DefaultPointBufferMeters, PropertyRadiusMeters(-3))

	// One acre is a circle of roughly 35.89 m radius
	assert.InDelta(t, 35.89, PropertyRadiusMeters(1), 0.01)
}

func TestNewBoundingBox(t *testing.T) {
	tests := []struct {
		name      string
		acres     float64
		minBuffer float64
		radius    float64
	}{
		{"point uses default buffer", 0, 0, 50},
		{"small parcel lifted to buffer", 1, 50, 50},
		{"large parcel keeps its radius", 100, 50, math.Sqrt(100 * SquareMetersPerAcre / math.Pi)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			box := NewBoundingBox(40.0, -105.0, tt.acres, tt.minBuffer)
			delta := tt.radius / MetersPerDegree

			assert.InDelta(t, -105.0-delta, box.MinLon, 1e-9)
			assert.InDelta(t, 40.0-delta, box.MinLat, 1e-9)
			assert.InDelta(t, -105.0+delta, box.MaxLon, 1e-9)
			assert.InDelta(t, 40.0+delta, box.MaxLat, 1e-9)
			assert.Less(t, box.MinLon, box.MaxLon)
			assert.Less(t, box.MinLat, box.MaxLat)
		})
	}
}

func TestBoundingBox_PixelDimensions(t *testing.T) {
	box := NewBoundingBox(0, 0, 0, 50)
	w, h := box.PixelDimensions(10)
	assert.Equal(t, 10, w)
	assert.Equal(t, 10, h)

	w, h = box.PixelDimensions(0)
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)
}
