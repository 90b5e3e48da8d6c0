package nextgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildCauseTreeFlagsTransientFueling(t *testing.T) {
	modeSummary := map[ModeTag]int{
		ModeCruise: 60, ModeTipIn: 25, ModeTipOut: 15,
	}
	result := BuildCauseTree(modeSummary, nil, nil)
	found := false
	for _, h := range result.Hypotheses {
		if h.Category == CategoryTransient {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBuildCauseTreeFlagsKnockLimitFromValley(t *testing.T) {
	modeSummary := map[ModeTag]int{ModeWOT: 200}
	valleys := []SparkValleyFinding{
		{Cylinder: "rear", Detected: true, RPMCenter: 4500, RPMLowBound: 4000, RPMHighBound: 5000, DepthDeg: 3, Confidence: 0.7},
	}
	result := BuildCauseTree(modeSummary, nil, valleys)
	found := false
	for _, h := range result.Hypotheses {
		if h.Category == CategoryKnockLimit {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBuildCauseTreeIgnoresUndetectedValley(t *testing.T) {
	modeSummary := map[ModeTag]int{ModeWOT: 200}
	valleys := []SparkValleyFinding{{Cylinder: "front", Detected: false}}
	result := BuildCauseTree(modeSummary, nil, valleys)
	for _, h := range result.Hypotheses {
		assert.NotEqual(t, CategoryKnockLimit, h.Category)
	}
}

func TestBuildCauseTreeFlagsLowSampleCount(t *testing.T) {
	modeSummary := map[ModeTag]int{ModeCruise: 10}
	result := BuildCauseTree(modeSummary, nil, nil)
	found := false
	for _, h := range result.Hypotheses {
		if h.Category == CategoryDataQuality {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBuildCauseTreeFlagsFuelModelFromAFRSurface(t *testing.T) {
	modeSummary := map[ModeTag]int{ModeCruise: 200}
	v1, v2 := 0.8, -1.2
	surfaces := map[string]*Surface2D{
		"afr_error_front": {
			SurfaceID: "afr_error_front", Title: "AFR Error (Front)",
			Values: [][]*float64{{&v1, &v2}},
			Stats:  SurfaceStats{CoveragePct: 80},
		},
	}
	result := BuildCauseTree(modeSummary, surfaces, nil)
	found := false
	for _, h := range result.Hypotheses {
		if h.Category == CategoryFuelModel {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBuildCauseTreeConfidenceClamped(t *testing.T) {
	modeSummary := map[ModeTag]int{ModeTipIn: 90, ModeTipOut: 10}
	result := BuildCauseTree(modeSummary, nil, nil)
	for _, h := range result.Hypotheses {
		assert.GreaterOrEqual(t, h.Confidence, 0.0)
		assert.LessOrEqual(t, h.Confidence, 1.0)
	}
}
