package geopulse

import (
	"fmt"
	"math"
)

// Interpretation buckets an index difference.
type Interpretation string

const (
	InterpretationIncrease Interpretation = "increase"
	InterpretationDecrease Interpretation = "decrease"
	InterpretationNoChange Interpretation = "no_change"
)

var interpretationLabels = map[Index]map[Interpretation]string{
	IndexNDVI: {
		InterpretationIncrease: "Vegetation growth or improvement",
		InterpretationDecrease: "Vegetation loss or degradation",
		InterpretationNoChange: "No significant vegetation change",
	},
	IndexNDBI: {
		InterpretationIncrease: "Construction or development increase",
		InterpretationDecrease: "Construction or development decrease",
		InterpretationNoChange: "No significant built-up area change",
	},
	IndexNDWI: {
		InterpretationIncrease: "Water increase or flooding",
		InterpretationDecrease: "Water decrease or drought",
		InterpretationNoChange: "No significant water change",
	},
}

// IndexThresholds configures how one index's difference is classified.
type IndexThresholds struct {
	// IncreaseThreshold: differences at or above it are an increase
	IncreaseThreshold float64 `koanf:"increase"`

	// DecreaseThreshold: differences at or below it are a decrease
	DecreaseThreshold float64 `koanf:"decrease"`

	// SignificanceThreshold: |difference| at or above it is significant
	SignificanceThreshold float64 `koanf:"significance"`
}

// ClassificationConfig holds per-index thresholds.
type ClassificationConfig struct {
	NDVI IndexThresholds `koanf:"ndvi"`
	NDBI IndexThresholds `koanf:"ndbi"`
	NDWI IndexThresholds `koanf:"ndwi"`
}

// DefaultClassificationConfig returns the stock thresholds.
func DefaultClassificationConfig() ClassificationConfig {
	return ClassificationConfig{
		NDVI: IndexThresholds{IncreaseThreshold: 0.1, DecreaseThreshold: -0.1, SignificanceThreshold: 3.0},
		NDBI: IndexThresholds{IncreaseThreshold: 0.05, DecreaseThreshold: -0.05, SignificanceThreshold: 5.0},
		NDWI: IndexThresholds{IncreaseThreshold: 0.05, DecreaseThreshold: -0.05, SignificanceThreshold: 0.05},
	}
}

// For returns the thresholds of an index.
func (c ClassificationConfig) For(i Index) IndexThresholds {
	switch i {
	case IndexNDVI:
		return c.NDVI
	case IndexNDBI:
		return c.NDBI
	case IndexNDWI:
		return c.NDWI
	default:
		return IndexThresholds{}
	}
}

// Validate checks that every index has a usable bucket layout.
func (c ClassificationConfig) Validate() error {
	for _, idx := range Indices {
		t := c.For(idx)
		if t.DecreaseThreshold >= t.IncreaseThreshold {
			return fmt.Errorf("%s: decrease threshold %v must be below increase threshold %v",
				idx, t.DecreaseThreshold, t.IncreaseThreshold)
		}
		if t.SignificanceThreshold < 0 {
			return fmt.Errorf("%s: significance threshold must not be negative", idx)
		}
	}
	return nil
}

// IndexChange is the classified change of one index at one property.
type IndexChange struct {
	Index          Index
	Before         float64
	After          float64
	Difference     float64
	Interpretation Interpretation
	Significant    bool
}

// Label returns the human readable interpretation.
func (c IndexChange) Label() string {
	return interpretationLabels[c.Index][c.Interpretation]
}

// ChangeSet holds the classified changes of one property. Failed properties
// get a ChangeSet with Valid false and no changes.
type ChangeSet struct {
	Valid   bool
	Changes []IndexChange
}

// Get returns the change for an index.
func (s ChangeSet) Get(i Index) (IndexChange, bool) {
	for _, c := range s.Changes {
		if c.Index == i {
			return c, true
		}
	}
	return IndexChange{}, false
}

// Classifier turns successful before/after pairs into change records.
// It holds no mutable state.
type Classifier struct {
	config ClassificationConfig
}

// NewClassifier creates a classifier with the given thresholds.
func NewClassifier(config ClassificationConfig) (*Classifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classification config: %w", err)
	}
	return &Classifier{config: config}, nil
}

// Config returns the classifier's thresholds.
func (c *Classifier) Config() ClassificationConfig {
	return c.config
}

// Classify returns the change set for a result. The boolean is false for
// failed results, which are never classified.
func (c *Classifier) Classify(r PropertyResult) (ChangeSet, bool) {
	if !r.Succeeded() {
		return ChangeSet{}, false
	}

	set := ChangeSet{Valid: true, Changes: make([]IndexChange, 0, len(Indices))}
	for _, idx := range Indices {
		set.Changes = append(set.Changes, c.classifyIndex(idx, r.Before.Value(idx), r.After.Value(idx)))
	}
	return set, true
}

// ClassifyAll classifies results in order, one ChangeSet per result.
func (c *Classifier) ClassifyAll(results []PropertyResult) []ChangeSet {
	out := make([]ChangeSet, len(results))
	for i, r := range results {
		out[i], _ = c.Classify(r)
	}
	return out
}

func (c *Classifier) classifyIndex(idx Index, before, after float64) IndexChange {
	t := c.config.For(idx)
	diff := Round4(after - before)

	interp := InterpretationNoChange
	switch {
	case diff >= t.IncreaseThreshold:
		interp = InterpretationIncrease
	case diff <= t.DecreaseThreshold:
		interp = InterpretationDecrease
	}

	return IndexChange{
		Index:          idx,
		Before:         before,
		After:          after,
		Difference:     diff,
		Interpretation: interp,
		Significant:    math.Abs(diff) >= t.SignificanceThreshold,
	}
}

// Round4 rounds to four decimal places.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
