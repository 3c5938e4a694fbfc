package geopulse

import (
	"fmt"
	"math"
)

const (
	// SquareMetersPerAcre converts land area in acres to square meters
	SquareMetersPerAcre = 4046.86

	// MetersPerDegree approximates one degree of latitude (and longitude near the equator).
	// Not geodesically exact; fine at property scale.
	MetersPerDegree = 111000.0

	// DefaultPointBufferMeters is the radius used for properties with no land area
	DefaultPointBufferMeters = 50.0
)

// BoundingBox is an axis-aligned WGS84 box in [minLon, minLat, maxLon, maxLat] order.
type BoundingBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// Slice returns the box as [minLon, minLat, maxLon, maxLat].
func (b BoundingBox) Slice() []float64 {
	return []float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%.6f, %.6f, %.6f, %.6f]", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// AcresToSquareMeters converts acres to square meters.
func AcresToSquareMeters(acres float64) float64 {
	return acres * SquareMetersPerAcre
}

// MetersToDegrees converts a distance in meters to approximate degrees.
func MetersToDegrees(meters float64) float64 {
	return meters / MetersPerDegree
}

// PropertyRadiusMeters returns the radius of a circle with the property's area,
// or the default point buffer when the property has no area.
func PropertyRadiusMeters(extentAcres float64) float64 {
	area := AcresToSquareMeters(extentAcres)
	if area > 0 {
		return math.Sqrt(area / math.Pi)
	}
	return DefaultPointBufferMeters
}

// EffectiveRadiusMeters returns the larger of the property radius and minBuffer.
func EffectiveRadiusMeters(extentAcres, minBufferMeters float64) float64 {
	return math.Max(PropertyRadiusMeters(extentAcres), minBufferMeters)
}

// NewBoundingBox builds the query region around a point.
func NewBoundingBox(lat, lon, extentAcres, minBufferMeters float64) BoundingBox {
	delta := MetersToDegrees(EffectiveRadiusMeters(extentAcres, minBufferMeters))
	return BoundingBox{
		MinLon: lon - delta,
		MinLat: lat - delta,
		MaxLon: lon + delta,
		MaxLat: lat + delta,
	}
}

// PixelDimensions returns the raster size in pixels for the box at the given resolution.
func (b BoundingBox) PixelDimensions(resolutionMeters float64) (width, height int) {
	if resolutionMeters <= 0 {
		return 1, 1
	}
	width = int(math.Round((b.MaxLon - b.MinLon) * MetersPerDegree / resolutionMeters))
	height = int(math.Round((b.MaxLat - b.MinLat) * MetersPerDegree / resolutionMeters))
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return width, height
}
