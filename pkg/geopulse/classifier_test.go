package geopulse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func successResult(before, after Measurement) PropertyResult {
	return NewPropertyResult(0, Property{}, before, after)
}

func TestClassifier_Interpretation(t *testing.T) {
	c, err := NewClassifier(DefaultClassificationConfig())
	require.NoError(t, err)

	r := successResult(
		Measurement{NDVI: 0.50, NDBI: 0.10, NDWI: 0.20},
		Measurement{NDVI: 0.30, NDBI: 0.20, NDWI: 0.22},
	)
	set, ok := c.Classify(r)
	require.True(t, ok)
	require.True(t, set.Valid)
	require.Len(t, set.Changes, 3)

	ndvi, _ := set.Get(IndexNDVI)
	assert.Equal(t, -0.2, ndvi.Difference)
	assert.Equal(t, InterpretationDecrease, ndvi.Interpretation)
	assert.Equal(t, "Vegetation loss or degradation", ndvi.Label())
	assert.False(t, ndvi.Significant)

	ndbi, _ := set.Get(IndexNDBI)
	assert.Equal(t, 0.1, ndbi.Difference)
	assert.Equal(t, InterpretationIncrease, ndbi.Interpretation)
	assert.Equal(t, "Construction or development increase", ndbi.Label())

	ndwi, _ := set.Get(IndexNDWI)
	assert.Equal(t, 0.02, ndwi.Difference)
	assert.Equal(t, InterpretationNoChange, ndwi.Interpretation)
	assert.Equal(t, "No significant water change", ndwi.Label())
	assert.False(t, ndwi.Significant)
}

func TestClassifier_ThresholdBoundariesInclusive(t *testing.T) {
	c, err := NewClassifier(DefaultClassificationConfig())
	require.NoError(t, err)

	set, _ := c.Classify(successResult(
		Measurement{NDVI: 0.2, NDBI: 0.2, NDWI: 0.3},
		Measurement{NDVI: 0.3, NDBI: 0.15, NDWI: 0.35},
	))

	ndvi, _ := set.Get(IndexNDVI)
	assert.Equal(t, InterpretationIncrease, ndvi.Interpretation)

	ndbi, _ := set.Get(IndexNDBI)
	assert.Equal(t, InterpretationDecrease, ndbi.Interpretation)

	ndwi, _ := set.Get(IndexNDWI)
	assert.Equal(t, 0.05, ndwi.Difference)
	assert.True(t, ndwi.Significant)
}

func TestClassifier_SignificanceThresholdConfigurable(t *testing.T) {
	cfg := DefaultClassificationConfig()
	cfg.NDVI.SignificanceThreshold = 0.15
	c, err := NewClassifier(cfg)
	require.NoError(t, err)

	set, _ := c.Classify(successResult(
		Measurement{NDVI: 0.5, NDBI: 0.1, NDWI: 0.1},
		Measurement{NDVI: 0.3, NDBI: 0.1, NDWI: 0.1},
	))
	ndvi, _ := set.Get(IndexNDVI)
	assert.True(t, ndvi.Significant)
}

func TestClassifier_FailedResultsNotClassified(t *testing.T) {
	c, err := NewClassifier(DefaultClassificationConfig())
	require.NoError(t, err)

	failed := NewPropertyResult(0, Property{}, Measurement{NDVI: 0.4, NDBI: 0.1, NDWI: 0.1}, FailedMeasurement("timeout"))
	set, ok := c.Classify(failed)
	assert.False(t, ok)
	assert.False(t, set.Valid)
	assert.Empty(t, set.Changes)
}

func TestClassifier_Idempotent(t *testing.T) {
	c, err := NewClassifier(DefaultClassificationConfig())
	require.NoError(t, err)

	results := []PropertyResult{
		successResult(Measurement{NDVI: 0.1, NDBI: 0.2, NDWI: 0.3}, Measurement{NDVI: 0.4, NDBI: 0.1, NDWI: 0.3}),
		NewPropertyResult(1, Property{}, FailedMeasurement("x"), FailedMeasurement("x")),
	}
	assert.Equal(t, c.ClassifyAll(results), c.ClassifyAll(results))
}

func TestClassificationConfig_Validate(t *testing.T) {
	cfg := DefaultClassificationConfig()
	require.NoError(t, cfg.Validate())

	cfg.NDBI.DecreaseThreshold = 0.1
	_, err := NewClassifier(cfg)
	assert.Error(t, err)

	cfg = DefaultClassificationConfig()
	cfg.NDWI.SignificanceThreshold = -1
	assert.Error(t, cfg.Validate())
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 0.1235, Round4(0.12346))
	assert.Equal(t, -0.2, Round4(0.3-0.5))
}
