package autotune

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sagostin/dynotune/internal/binning"
	"github.com/sagostin/dynotune/internal/nextgen"
	"github.com/sagostin/dynotune/internal/vemath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeColumnsMapsAliases(t *testing.T) {
	df := &Frame{Columns: map[string][]float64{
		"RPM": {1000, 2000}, "Wideband AFR": {13.1, 13.5}, "HP": {50, 60},
	}, Rows: 2}
	norm := NormalizeColumns(df)
	assert.Contains(t, norm.Columns, "Engine RPM")
	assert.Contains(t, norm.Columns, "AFR Meas")
	assert.Contains(t, norm.Columns, "Horsepower")
}

func TestEstimateMAPFromRPMPiecewise(t *testing.T) {
	assert.Equal(t, 30.0, EstimateMAPFromRPM(1000))
	assert.InDelta(t, 40.0, EstimateMAPFromRPM(2250), 0.01)
	assert.InDelta(t, 65.0, EstimateMAPFromRPM(4000), 0.01)
	assert.Equal(t, 100.0, EstimateMAPFromRPM(9000))
}

func TestExtractPeakPrefersPreferredTerm(t *testing.T) {
	df := &Frame{Columns: map[string][]float64{
		"Horsepower": {50, 120, 80}, "Power Adder Flag": {1, 1, 1},
	}}
	peak, ok := ExtractPeak(df, []string{"horsepower"}, []string{"power"})
	require.True(t, ok)
	assert.Equal(t, 120.0, peak)
}

func TestSessionStateMachineRejectsOutOfOrderCalls(t *testing.T) {
	s := CreateSession(SourceSimulation)
	err := s.CalculateCorrections(0.2)
	assert.Error(t, err)
	assert.Equal(t, StateError, s.State)
}

// TestAutotuneEndToEndUniformLeanCondition mirrors the documented scenario:
// every sample is target+0.5 AFR points lean, so after analysis every
// covered cell must be classified lean and none rich or ok.
func TestAutotuneEndToEndUniformLeanCondition(t *testing.T) {
	grid, err := binning.NewGrid([]float64{3000, 4000, 5000}, []float64{60, 80, 100})
	require.NoError(t, err)
	targets := vemath.DefaultAFRTargetTable()

	rpms := []float64{3000, 4000, 5000}
	maps := []float64{60, 80, 100}
	cols := map[string][]float64{"Engine RPM": {}, "MAP kPa": {}, "AFR Meas": {}, "Horsepower": {}, "TPS": {}}
	for _, r := range rpms {
		for _, m := range maps {
			target := targets.Lookup(m)
			for k := 0; k < 56; k++ { // ~500 rows total across 9 cells
				cols["Engine RPM"] = append(cols["Engine RPM"], r)
				cols["MAP kPa"] = append(cols["MAP kPa"], m)
				cols["AFR Meas"] = append(cols["AFR Meas"], target+0.5)
				cols["Horsepower"] = append(cols["Horsepower"], 80+r/100)
				cols["TPS"] = append(cols["TPS"], m*0.9)
			}
		}
	}
	df := &Frame{Columns: cols, Rows: len(cols["Engine RPM"])}

	s := CreateSession(SourceSimulation)
	require.NoError(t, s.ImportDataFrame(df))
	require.Equal(t, StateLogImported, s.State)

	require.NoError(t, s.AnalyzeAFR(grid, targets, vemath.VersionV2, 3))
	require.Equal(t, StateAFRAnalyzed, s.State)
	assert.Equal(t, 9, s.Analysis.ZonesLean)
	assert.Equal(t, 0, s.Analysis.ZonesRich)
	assert.Equal(t, 0, s.Analysis.ZonesOK)

	require.NoError(t, s.CalculateCorrections(0.2))
	require.Equal(t, StateCorrectionsCalc, s.State)
	nx, ny := grid.Shape()
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			require.True(t, s.Correction.Present[i][j])
			assert.Greater(t, s.Correction.CorrectionTable[i][j], 1.0)
		}
	}

	dir := t.TempDir()
	manifest, err := s.ExportAll(dir)
	require.NoError(t, err)
	assert.Equal(t, StateExported, s.State)
	assert.Equal(t, 9, manifest.Corrections.ZonesAdjusted)

	for _, name := range []string{
		"input/dynoai_input.csv",
		"output/VE_Corrections_2D.csv", "output/AFR_Error_2D.csv", "output/Hit_Count_2D.csv",
		"output/tune.pvv.xml", "output/tune.tlscript",
		"NextGenAnalysis.json", "manifest.json",
	} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, statErr, "expected %s to exist", name)
	}
	_, statErr := os.Stat(filepath.Join(dir, "snapshots"))
	assert.NoError(t, statErr, "expected snapshots directory to exist")

	pvv, err := os.ReadFile(filepath.Join(dir, "output", "tune.pvv.xml"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(pvv), "PowerVisionTune"))

	script, err := os.ReadFile(filepath.Join(dir, "output", "tune.tlscript"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(script), "correction table: VE Correction"))
	assert.True(t, strings.Contains(string(script), "afr channel: AFR Meas"))
	assert.True(t, strings.Contains(string(script), "smoothing constant:"))
	assert.True(t, strings.Contains(string(script), "afr clip bounds:"))

	nextGenData, err := os.ReadFile(filepath.Join(dir, "NextGenAnalysis.json"))
	require.NoError(t, err)
	payload, err := nextgen.DecodePayload(nextGenData)
	require.NoError(t, err)
	assert.Equal(t, nextgen.SchemaVersion, payload.SchemaVersion)
}

func TestAnalyzeAFRFailsWithoutMandatoryColumns(t *testing.T) {
	grid, err := binning.NewGrid([]float64{1000, 2000}, []float64{40, 60})
	require.NoError(t, err)
	s := CreateSession(SourceCSV)
	require.NoError(t, s.ImportDataFrame(&Frame{Columns: map[string][]float64{"Engine RPM": {1000}}}))
	err = s.AnalyzeAFR(grid, vemath.DefaultAFRTargetTable(), vemath.VersionV2, 1)
	assert.Error(t, err)
	assert.Equal(t, StateError, s.State)
}
