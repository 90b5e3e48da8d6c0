package nextgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifyCoverageGapsFlagsSparseCells(t *testing.T) {
	surf := &Surface2D{
		RPMAxis:  SurfaceAxis{Bins: []float64{1000, 3000, 5000}},
		MAPAxis:  SurfaceAxis{Bins: []float64{40, 80}},
		HitCount: [][]int{{10, 1}, {2, 10}, {10, 0}},
	}
	gaps := IdentifyCoverageGaps(surf)
	require.NotEmpty(t, gaps)
	for _, g := range gaps {
		assert.Less(t, g.HitCount, minTrustedHits)
	}
}

func TestIdentifyCoverageGapsSortedByPriority(t *testing.T) {
	surf := &Surface2D{
		RPMAxis:  SurfaceAxis{Bins: []float64{1000, 3500}},
		MAPAxis:  SurfaceAxis{Bins: []float64{40, 90}},
		HitCount: [][]int{{0, 0}, {0, 0}},
	}
	gaps := IdentifyCoverageGaps(surf)
	for i := 1; i < len(gaps); i++ {
		assert.GreaterOrEqual(t, gaps[i-1].Priority, gaps[i].Priority)
	}
}

func TestClassifyGapRegionTorquePeak(t *testing.T) {
	region, priority := classifyGapRegion(3500, 85)
	assert.Equal(t, "torque_peak_midrange", region)
	assert.Equal(t, 1.0, priority)
}

func TestClassifyGapRegionIdle(t *testing.T) {
	region, _ := classifyGapRegion(1000, 35)
	assert.Equal(t, "idle_low_map", region)
}

func TestGenerateInertiaDynoTestsOneStepPerRegion(t *testing.T) {
	gaps := []CoverageGap{
		{RPMCenter: 3500, MAPCenter: 85, Region: "torque_peak_midrange", Priority: 1.0},
		{RPMCenter: 3600, MAPCenter: 86, Region: "torque_peak_midrange", Priority: 0.9},
		{RPMCenter: 1000, MAPCenter: 35, Region: "idle_low_map", Priority: 0.8},
	}
	steps := GenerateInertiaDynoTests(gaps)
	assert.Len(t, steps, 2)
	for _, s := range steps {
		assert.Equal(t, "dyno", s.Environment)
	}
}

func TestGenerateStreetTestsOnlyFromTransientHypotheses(t *testing.T) {
	causeTree := &CauseTreeResult{Hypotheses: []Hypothesis{
		{Category: CategoryTransient, Confidence: 0.6},
		{Category: CategoryKnockLimit, Confidence: 0.9},
	}}
	steps := GenerateStreetTests(causeTree)
	require.Len(t, steps, 1)
	assert.Equal(t, "street", steps[0].Environment)
}

func TestScoreTestEfficiencyOrdersByPriorityDescending(t *testing.T) {
	steps := []TestStep{
		{Name: "a", Priority: 0.2},
		{Name: "b", Priority: 0.9},
		{Name: "c", Priority: 0.5},
	}
	ranked := ScoreTestEfficiency(steps)
	assert.Equal(t, "b", ranked[0].Name)
	assert.Equal(t, "c", ranked[1].Name)
	assert.Equal(t, "a", ranked[2].Name)
}

func TestGenerateTestPlanCombinesDynoAndStreet(t *testing.T) {
	surfaces := map[string]*Surface2D{
		"afr_error_front": {
			RPMAxis:  SurfaceAxis{Bins: []float64{3500}},
			MAPAxis:  SurfaceAxis{Bins: []float64{85}},
			HitCount: [][]int{{0}},
		},
	}
	causeTree := &CauseTreeResult{Hypotheses: []Hypothesis{{Category: CategoryTransient, Confidence: 0.5}}}
	plan := GenerateTestPlan(surfaces, causeTree, map[ModeTag]int{ModeCruise: 10})
	assert.NotEmpty(t, plan.Steps)
	assert.NotEmpty(t, plan.CoverageGaps)
}
