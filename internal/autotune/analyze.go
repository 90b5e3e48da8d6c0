package autotune

import (
	"github.com/sagostin/dynotune/internal/binning"
	"github.com/sagostin/dynotune/internal/vemath"
)

// AFRAnalysisResult is the per-cell AFR picture of a session, grounded in
// original_source/api/services/autotune_workflow.py's AFRAnalysisResult.
type AFRAnalysisResult struct {
	Grid *binning.Grid

	MeanAFR   [][]float64
	AFRError  [][]float64 // measured - target, in AFR points
	VEDeltaPct [][]float64
	HitCount  [][]int
	Present   [][]bool

	MeanErrorPct float64
	ZonesLean    int
	ZonesRich    int
	ZonesOK      int
	ZonesNoData  int
	MaxLeanPct   float64
	MaxRichPct   float64
}

// AnalyzeAFR bins samples onto the grid, computing per-cell mean AFR, AFR
// error in points, and VE delta percentage, then classifies each covered
// cell into lean/rich/ok.
func (s *Session) AnalyzeAFR(grid *binning.Grid, targets *vemath.AFRTargetTable, version vemath.Version, minSamplesPerCell int) error {
	if s.State != StateLogImported {
		return s.fail("analyze_afr: invalid state %s", s.State)
	}
	if s.Frame == nil {
		return s.fail("analyze_afr: no frame imported")
	}
	rpm, ok := s.Frame.Columns["Engine RPM"]
	if !ok {
		return s.fail("analyze_afr: missing mandatory column Engine RPM")
	}
	afr, ok := s.Frame.Columns["AFR Meas"]
	if !ok {
		return s.fail("analyze_afr: missing mandatory column AFR Meas")
	}
	mapCol, ok := s.Frame.Columns["MAP kPa"]
	if !ok {
		return s.fail("analyze_afr: missing MAP kPa (should have been synthesized at import)")
	}
	if len(rpm) == 0 {
		return s.fail("analyze_afr: no samples in frame")
	}

	acc := binning.NewAccumulator(grid, binning.StrategyWeighted, minSamplesPerCell)
	for i := range rpm {
		acc.Add(rpm[i], mapCol[i], afr[i])
	}
	result := acc.Finish()
	if result.Stats.TotalSamples == result.Stats.RejectedSamples {
		return s.fail("analyze_afr: no valid samples after rejection")
	}

	nx, ny := grid.Shape()
	analysis := &AFRAnalysisResult{
		Grid: grid,
		MeanAFR: result.Values, Present: result.Present, HitCount: result.HitCounts,
		AFRError:  make([][]float64, nx),
		VEDeltaPct: make([][]float64, nx),
	}
	var sumErrPct, sumCount float64
	for i := 0; i < nx; i++ {
		analysis.AFRError[i] = make([]float64, ny)
		analysis.VEDeltaPct[i] = make([]float64, ny)
		for j := 0; j < ny; j++ {
			if result.HitCounts[i][j] < MinHitsForZone {
				analysis.ZonesNoData++
				continue
			}
			if !result.Present[i][j] {
				analysis.ZonesNoData++
				continue
			}
			target := targets.Lookup(grid.YBins[j])
			measured := result.Values[i][j]
			errPoints := measured - target
			analysis.AFRError[i][j] = errPoints

			correction := vemath.Correction(version, measured, target)
			pct := vemath.Percentage(correction)
			analysis.VEDeltaPct[i][j] = pct
			sumErrPct += pct
			sumCount++

			switch {
			case errPoints > ZoneThreshold:
				analysis.ZonesLean++
				if pct > analysis.MaxLeanPct {
					analysis.MaxLeanPct = pct
				}
			case errPoints < -ZoneThreshold:
				analysis.ZonesRich++
				if -pct > analysis.MaxRichPct {
					analysis.MaxRichPct = -pct
				}
			default:
				analysis.ZonesOK++
			}
		}
	}
	if sumCount > 0 {
		analysis.MeanErrorPct = sumErrPct / sumCount
	}

	s.Analysis = analysis
	s.PeakHP, _ = ExtractPeak(s.Frame, []string{"horsepower"}, []string{"power"})
	s.PeakTQ, _ = ExtractPeak(s.Frame, []string{"torque"}, []string{"tq"})
	s.State = StateAFRAnalyzed
	return nil
}

// VECorrectionResult is the clamped per-cell multiplier matrix derived from
// an AFRAnalysisResult, grounded in the original's VECorrectionResult shape.
type VECorrectionResult struct {
	Grid           *binning.Grid
	CorrectionTable [][]float64 // multipliers, present only where analysis was present
	Present        [][]bool
	ZonesAdjusted  int
	MaxCorrectionPct float64
	MinCorrectionPct float64
	ClippedZones   int
}

// CalculateCorrections converts VEDeltaPct into clamped multipliers.
func (s *Session) CalculateCorrections(maxCorrection float64) error {
	if s.State != StateAFRAnalyzed {
		return s.fail("calculate_corrections: invalid state %s", s.State)
	}
	a := s.Analysis
	nx, ny := a.Grid.Shape()
	table := make([][]float64, nx)
	present := make([][]bool, nx)
	result := &VECorrectionResult{Grid: a.Grid, CorrectionTable: table, Present: present}

	first := true
	for i := 0; i < nx; i++ {
		table[i] = make([]float64, ny)
		present[i] = make([]bool, ny)
		for j := 0; j < ny; j++ {
			if !a.Present[i][j] {
				continue
			}
			raw := 1 + a.VEDeltaPct[i][j]/100
			clamped, clipped := vemath.Clamp(raw, maxCorrection)
			table[i][j] = clamped
			present[i][j] = true
			result.ZonesAdjusted++
			if clipped {
				result.ClippedZones++
			}
			pct := vemath.Percentage(clamped)
			if first || pct > result.MaxCorrectionPct {
				result.MaxCorrectionPct = pct
			}
			if first || pct < result.MinCorrectionPct {
				result.MinCorrectionPct = pct
			}
			first = false
		}
	}
	s.Correction = result
	s.State = StateCorrectionsCalc
	return nil
}
