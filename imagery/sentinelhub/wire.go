package sentinelhub

import (
	"fmt"
	"math"
	"time"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

const crsWGS84 = "http://www.opengis.net/def/crs/EPSG/0/4326"

type statsRequest struct {
	Input        statsInput             `json:"input"`
	Aggregation  statsAggregation       `json:"aggregation"`
	Calculations map[string]interface{} `json:"calculations"`
}

type statsInput struct {
	Bounds statsBounds `json:"bounds"`
	Data   []statsData `json:"data"`
}

type statsBounds struct {
	BBox       []float64         `json:"bbox"`
	Properties map[string]string `json:"properties"`
}

type statsData struct {
	Type       string          `json:"type"`
	DataFilter statsDataFilter `json:"dataFilter"`
}

type statsDataFilter struct {
	MaxCloudCoverage float64 `json:"maxCloudCoverage"`
	MosaickingOrder  string  `json:"mosaickingOrder"`
}

type statsAggregation struct {
	TimeRange           statsTimeRange `json:"timeRange"`
	AggregationInterval statsInterval  `json:"aggregationInterval"`
	Width               int            `json:"width"`
	Height              int            `json:"height"`
	Evalscript          string         `json:"evalscript"`
}

type statsTimeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type statsInterval struct {
	Of                   string `json:"of"`
	LastIntervalBehavior string `json:"lastIntervalBehavior,omitempty"`
}

type statsResponse struct {
	Data   []statsEntry `json:"data"`
	Status string       `json:"status"`
}

type statsEntry struct {
	Interval statsTimeRange         `json:"interval"`
	Outputs  map[string]statsOutput `json:"outputs"`
	Error    *apiErrorBody          `json:"error,omitempty"`
}

type statsOutput struct {
	Bands map[string]statsBand `json:"bands"`
}

type statsBand struct {
	Stats bandStats `json:"stats"`
}

// Mean is decoded loosely: intervals without valid pixels report "NaN" as a string.
type bandStats struct {
	Mean        interface{} `json:"mean"`
	SampleCount int64       `json:"sampleCount"`
	NoDataCount int64       `json:"noDataCount"`
}

type apiErrorBody struct {
	Status  int    `json:"status"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type apiErrorEnvelope struct {
	Error *apiErrorBody `json:"error"`
}

func newStatsRequest(req geopulse.AnalysisRequest, collection, evalscript string) statsRequest {
	box := req.BoundingBox()
	width, height := box.PixelDimensions(req.ResolutionMeters)

	from := req.Window.Start.UTC()
	// Window end dates are inclusive
	to := req.Window.End.UTC().AddDate(0, 0, 1)
	days := int(math.Ceil(to.Sub(from).Hours() / 24))
	if days < 1 {
		days = 1
	}

	return statsRequest{
		Input: statsInput{
			Bounds: statsBounds{
				BBox:       box.Slice(),
				Properties: map[string]string{"crs": crsWGS84},
			},
			Data: []statsData{{
				Type: collection,
				DataFilter: statsDataFilter{
					MaxCloudCoverage: req.MaxCloudCoveragePercent,
					MosaickingOrder:  "leastCC",
				},
			}},
		},
		Aggregation: statsAggregation{
			TimeRange: statsTimeRange{
				From: from.Format(time.RFC3339),
				To:   to.Format(time.RFC3339),
			},
			AggregationInterval: statsInterval{
				Of:                   fmt.Sprintf("P%dD", days),
				LastIntervalBehavior: "SHORTEN",
			},
			Width:      width,
			Height:     height,
			Evalscript: evalscript,
		},
		Calculations: map[string]interface{}{"default": map[string]interface{}{}},
	}
}

// indexBands maps the evalscript's output bands to indices.
var indexBands = []struct {
	band  string
	index geopulse.Index
}{
	{"B0", geopulse.IndexNDVI},
	{"B1", geopulse.IndexNDBI},
	{"B2", geopulse.IndexNDWI},
}

// means returns each index's mean over all intervals, weighted by valid
// pixel count. ok is false when no interval had valid pixels.
func (r *statsResponse) means() (m geopulse.Measurement, ok bool) {
	var sums [3]float64
	var weights [3]float64

	for _, interval := range r.Data {
		if interval.Error != nil {
			continue
		}
		out, found := interval.Outputs["indices"]
		if !found {
			continue
		}
		for i, ib := range indexBands {
			band, found := out.Bands[ib.band]
			if !found {
				continue
			}
			mean, valid := toFloat(band.Stats.Mean)
			n := float64(band.Stats.SampleCount - band.Stats.NoDataCount)
			if !valid || n <= 0 {
				continue
			}
			sums[i] += mean * n
			weights[i] += n
		}
	}

	for i := range weights {
		if weights[i] == 0 {
			return geopulse.Measurement{}, false
		}
	}
	return geopulse.Measurement{
		NDVI: sums[0] / weights[0],
		NDBI: sums[1] / weights[1],
		NDWI: sums[2] / weights[2],
	}, true
}

// firstIntervalError returns the first per-interval error message, if any.
func (r *statsResponse) firstIntervalError() string {
	for _, interval := range r.Data {
		if interval.Error != nil && interval.Error.Message != "" {
			return interval.Error.Message
		}
	}
	return ""
}

func toFloat(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
