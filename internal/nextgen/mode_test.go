package nextgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameOf(cols map[string][]float64) *Frame {
	rows := 0
	for _, v := range cols {
		if len(v) > rows {
			rows = len(v)
		}
	}
	return &Frame{Columns: cols, Rows: rows}
}

func TestLabelModesDetectsIdle(t *testing.T) {
	f := frameOf(map[string][]float64{
		"rpm": {1000, 1050, 1000, 1025, 1000},
		"map_kpa": {35, 36, 35, 34, 35},
		"tps": {2, 3, 2, 3, 2},
		"iat": {90, 91, 90, 91, 90},
	})
	result, err := LabelModes(f, nil)
	require.NoError(t, err)
	assert.Greater(t, result.SummaryCounts[ModeIdle], 0)
}

func TestLabelModesDetectsWOT(t *testing.T) {
	f := frameOf(map[string][]float64{
		"rpm": {5000, 5200, 5400, 5600, 5800},
		"map_kpa": {95, 96, 97, 98, 99},
		"tps": {95, 96, 97, 98, 99},
		"iat": {100, 102, 104, 106, 108},
	})
	result, err := LabelModes(f, nil)
	require.NoError(t, err)
	assert.Greater(t, result.SummaryCounts[ModeWOT], 0)
}

func TestLabelModesDetectsCruise(t *testing.T) {
	f := frameOf(map[string][]float64{
		"rpm": {3000, 3010, 3005, 3015, 3000},
		"map_kpa": {50, 51, 50, 52, 50},
		"tps": {30, 31, 30, 32, 30},
		"iat": {85, 85, 85, 85, 85},
	})
	result, err := LabelModes(f, nil)
	require.NoError(t, err)
	assert.Greater(t, result.SummaryCounts[ModeCruise], 0)
}

func TestLabelModesDetectsTipIn(t *testing.T) {
	f := frameOf(map[string][]float64{
		"rpm": {3000, 3100, 3200, 3300, 3400},
		"map_kpa": {50, 60, 70, 80, 85},
		"tps": {20, 35, 50, 65, 80},
		"iat": {85, 85, 85, 85, 85},
		"time_ms": {0, 100, 200, 300, 400},
	})
	result, err := LabelModes(f, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.SummaryCounts[ModeTipIn], 1)
}

func TestLabelModesDetectsTipOut(t *testing.T) {
	f := frameOf(map[string][]float64{
		"rpm": {4000, 3900, 3800, 3700, 3600},
		"map_kpa": {80, 70, 60, 50, 45},
		"tps": {80, 65, 50, 35, 20},
		"iat": {90, 90, 90, 90, 90},
		"time_ms": {0, 100, 200, 300, 400},
	})
	result, err := LabelModes(f, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.SummaryCounts[ModeTipOut], 1)
}

func TestLabelModesDeterministic(t *testing.T) {
	f := frameOf(map[string][]float64{
		"rpm": {3000, 3010, 3005, 3015, 3000},
		"map_kpa": {50, 51, 50, 52, 50},
		"tps": {30, 31, 30, 32, 30},
		"iat": {85, 85, 85, 85, 85},
	})
	r1, err := LabelModes(f, nil)
	require.NoError(t, err)
	r2, err := LabelModes(f, nil)
	require.NoError(t, err)
	assert.Equal(t, r1.Modes, r2.Modes)
}

func TestLabelModesDetectsHeatSoak(t *testing.T) {
	f := frameOf(map[string][]float64{
		"rpm": {1500, 1600, 1550, 1500, 1550},
		"map_kpa": {40, 42, 41, 40, 41},
		"tps": {5, 6, 5, 5, 6},
		"iat": {140, 145, 150, 155, 160},
	})
	cfg := DefaultModeDetectionConfig()
	cfg.IATSoakThreshold = 130
	result, err := LabelModes(f, &cfg)
	require.NoError(t, err)
	assert.Greater(t, result.SummaryCounts[ModeHeatSoak], 0)
}

func TestSummaryCountsSumToTotal(t *testing.T) {
	f := frameOf(map[string][]float64{
		"rpm": {1000, 2000, 3000, 4000, 5500},
		"map_kpa": {35, 45, 55, 65, 95},
		"tps": {3, 20, 35, 60, 95},
		"iat": {85, 85, 85, 85, 85},
	})
	result, err := LabelModes(f, nil)
	require.NoError(t, err)
	total := 0
	for _, c := range result.SummaryCounts {
		total += c
	}
	assert.Equal(t, result.TotalSamples(), total)
}

func TestModeDistributionSumsToHundred(t *testing.T) {
	f := frameOf(map[string][]float64{
		"rpm": {1000, 2000, 3000, 4000, 5500},
		"map_kpa": {35, 45, 55, 65, 95},
		"tps": {3, 20, 35, 60, 95},
		"iat": {85, 85, 85, 85, 85},
	})
	result, err := LabelModes(f, nil)
	require.NoError(t, err)
	total := 0.0
	for _, pct := range result.ModeDistribution() {
		total += pct
	}
	assert.InDelta(t, 100.0, total, 0.1)
}

func TestMaskHelpers(t *testing.T) {
	modes := []ModeTag{ModeIdle, ModeCruise, ModeWOT, ModeTipIn, ModeTipOut}

	steady := GetSteadyStateMask(modes)
	assert.True(t, steady[0])
	assert.True(t, steady[1])
	assert.True(t, steady[2])
	assert.False(t, steady[3])
	assert.False(t, steady[4])

	wot := GetWOTMask(modes)
	assert.False(t, wot[0])
	assert.False(t, wot[1])
	assert.True(t, wot[2])

	transient := GetTransientMask(modes)
	assert.True(t, transient[3])
	assert.True(t, transient[4])
	assert.False(t, transient[0])
}

func TestComputeDerivativesPositiveOnRisingTPS(t *testing.T) {
	f := frameOf(map[string][]float64{
		"rpm": {3000, 3000, 3000, 3000, 3000},
		"map_kpa": {50, 50, 50, 50, 50},
		"tps": {20, 30, 40, 50, 60},
		"time_ms": {0, 100, 200, 300, 400},
	})
	cfg := DefaultModeDetectionConfig()
	tpsDot, _ := ComputeDerivatives(f, cfg)
	assert.Greater(t, tpsDot[len(tpsDot)-1], 0.0)
}

func TestComputeDerivativesWithoutTimeColumnUsesDefaultRate(t *testing.T) {
	f := frameOf(map[string][]float64{
		"rpm": {3000, 3000, 3000},
		"map_kpa": {50, 60, 70},
		"tps": {30, 40, 50},
	})
	cfg := DefaultModeDetectionConfig()
	cfg.DefaultSampleRateHz = 100
	tpsDot, mapDot := ComputeDerivatives(f, cfg)
	assert.Greater(t, tpsDot[len(tpsDot)-1], 0.0)
	assert.Greater(t, mapDot[len(mapDot)-1], 0.0)
}

func TestCustomWOTThreshold(t *testing.T) {
	f := frameOf(map[string][]float64{
		"rpm": {5000, 5000, 5000},
		"map_kpa": {80, 80, 80},
		"tps": {75, 80, 85},
	})
	defaultCfg := DefaultModeDetectionConfig()
	defaultCfg.TPSWOTThreshold = 85
	r1, err := LabelModes(f, &defaultCfg)
	require.NoError(t, err)

	customCfg := defaultCfg
	customCfg.TPSWOTThreshold = 70
	r2, err := LabelModes(f, &customCfg)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, r2.SummaryCounts[ModeWOT], r1.SummaryCounts[ModeWOT])
}

func TestCustomIdleThreshold(t *testing.T) {
	f := frameOf(map[string][]float64{
		"rpm": {1100, 1100, 1100},
		"map_kpa": {40, 40, 40},
		"tps": {4, 4, 4},
	})
	defaultCfg := DefaultModeDetectionConfig()
	defaultCfg.RPMIdleCeiling = 1200
	r1, err := LabelModes(f, &defaultCfg)
	require.NoError(t, err)

	customCfg := defaultCfg
	customCfg.RPMIdleCeiling = 1000
	r2, err := LabelModes(f, &customCfg)
	require.NoError(t, err)

	assert.Greater(t, r1.SummaryCounts[ModeIdle], r2.SummaryCounts[ModeIdle])
}
