package nextgen

import (
	"fmt"
	"strings"
)

// HypothesisCategory buckets a Hypothesis by the part of the ECU mental
// model it implicates.
type HypothesisCategory string

const (
	CategoryTransient   HypothesisCategory = "transient"
	CategoryKnockLimit  HypothesisCategory = "knock_limit"
	CategoryTempTrim    HypothesisCategory = "temp_trim"
	CategoryFuelModel   HypothesisCategory = "fuel_model"
	CategoryDataQuality HypothesisCategory = "data_quality"
)

// Hypothesis is one diagnosis-only finding: confidence plus the evidence
// that produced it. The cause tree never recommends a calibration change,
// only what to look at or log next.
type Hypothesis struct {
	Category   HypothesisCategory `json:"category"`
	Title      string             `json:"title"`
	Confidence float64            `json:"confidence"`
	Evidence   []string           `json:"evidence"`
}

// CauseTreeResult is the full set of hypotheses generated for a run.
type CauseTreeResult struct {
	Hypotheses []Hypothesis `json:"hypotheses"`
}

// BuildCauseTree generates deterministic hypotheses from mode distribution,
// built surfaces, and spark-valley findings. It reflects the ECU mental
// model this package is built around: VE is a correction layer that
// closed-loop operation can mask; spark is base timing plus modifiers with
// knock retard always holding final authority; VE and spark are coupled
// through combustion efficiency and knock.
func BuildCauseTree(modeSummary map[ModeTag]int, surfaces map[string]*Surface2D, valleys []SparkValleyFinding) *CauseTreeResult {
	result := &CauseTreeResult{}

	total := 0
	for _, c := range modeSummary {
		total += c
	}

	if total > 0 {
		if transientCount := modeSummary[ModeTipIn] + modeSummary[ModeTipOut]; float64(transientCount)/float64(total) > 0.1 {
			frac := float64(transientCount) / float64(total)
			result.Hypotheses = append(result.Hypotheses, Hypothesis{
				Category:   CategoryTransient,
				Title:      "Tip-in/tip-out fueling may need wall-wetting or enrichment tuning",
				Confidence: clampUnit(frac * 3),
				Evidence: []string{
					fmt.Sprintf("%d of %d samples (%.0f%%) are tip-in/tip-out transients", transientCount, total, frac*100),
				},
			})
		}
	}

	for _, v := range valleys {
		if !v.Detected {
			continue
		}
		asym := ""
		if v.Cylinder == "rear" {
			asym = " (rear banks commonly run knock-limited first on V-twin layouts)"
		}
		result.Hypotheses = append(result.Hypotheses, Hypothesis{
			Category:   CategoryKnockLimit,
			Title:      fmt.Sprintf("%s spark shows a knock-limited valley near %.0f RPM%s", titleCase(v.Cylinder), v.RPMCenter, asym),
			Confidence: v.Confidence,
			Evidence: []string{
				fmt.Sprintf("spark valley depth %.1f deg between %.0f-%.0f RPM", v.DepthDeg, v.RPMLowBound, v.RPMHighBound),
			},
		})
	}

	if total > 0 {
		if heatSoak := modeSummary[ModeHeatSoak]; float64(heatSoak)/float64(total) > 0.05 {
			result.Hypotheses = append(result.Hypotheses, Hypothesis{
				Category:   CategoryTempTrim,
				Title:      "Heat soak conditions present; check thermal compensation trims",
				Confidence: clampUnit(float64(heatSoak) / float64(total) * 2),
				Evidence: []string{
					fmt.Sprintf("%d samples classified heat_soak", heatSoak),
				},
			})
		}
	}

	for _, id := range []string{"afr_error_front", "afr_error_rear"} {
		surf, ok := surfaces[id]
		if !ok || surf.Stats.CoveragePct < 40 {
			continue
		}
		maxAbs := maxAbsValue(surf.Values)
		if maxAbs > 0.5 {
			result.Hypotheses = append(result.Hypotheses, Hypothesis{
				Category:   CategoryFuelModel,
				Title:      fmt.Sprintf("%s shows AFR error up to %.2f points; VE table may need correction", surf.Title, maxAbs),
				Confidence: clampUnit(maxAbs / 2),
				Evidence: []string{
					fmt.Sprintf("surface %s coverage %.0f%%, max |AFR error| %.2f", surf.SurfaceID, surf.Stats.CoveragePct, maxAbs),
				},
			})
		}
	}

	if total < 100 {
		result.Hypotheses = append(result.Hypotheses, Hypothesis{
			Category:   CategoryDataQuality,
			Title:      "Insufficient samples for confident analysis",
			Confidence: clampUnit(1 - float64(total)/100),
			Evidence: []string{
				fmt.Sprintf("only %d total samples labeled", total),
			},
		})
	}

	return result
}

func maxAbsValue(values [][]*float64) float64 {
	max := 0.0
	for _, row := range values {
		for _, v := range row {
			if v == nil {
				continue
			}
			a := *v
			if a < 0 {
				a = -a
			}
			if a > max {
				max = a
			}
		}
	}
	return max
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
