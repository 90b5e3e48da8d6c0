package nextgen

import "math"

// SparkValleyFinding describes one detected WOT spark-timing valley for a
// single cylinder bank, grounded on spark_valley.py's documented algorithm:
// extract the high-MAP band, smooth it, then look for a midrange minimum
// bracketed by higher timing on both sides.
type SparkValleyFinding struct {
	Cylinder     string  `json:"cylinder"` // "front" or "rear"
	Detected     bool    `json:"detected"`
	RPMCenter    float64 `json:"rpm_center"`
	RPMLowBound  float64 `json:"rpm_low_bound"`
	RPMHighBound float64 `json:"rpm_high_bound"`
	DepthDeg     float64 `json:"depth_deg"`
	Confidence   float64 `json:"confidence"`
}

// DetectSparkValley extracts the high-MAP band of surf (averaging the top
// highMAPBandCells MAP columns per RPM row), applies a 3-point moving
// average, then finds the deepest interior point bracketed by higher spark
// timing on both sides.
func DetectSparkValley(surf *Surface2D, cylinder string, highMAPBandCells int) SparkValleyFinding {
	finding := SparkValleyFinding{Cylinder: cylinder}
	nx := len(surf.Values)
	ny := len(surf.MAPAxis.Bins)
	if nx == 0 || ny == 0 {
		return finding
	}
	if highMAPBandCells < 1 {
		highMAPBandCells = 2
	}
	if highMAPBandCells > ny {
		highMAPBandCells = ny
	}

	band := make([]float64, nx)
	haveBand := make([]bool, nx)
	for i := 0; i < nx; i++ {
		var sum float64
		var n int
		for j := ny - highMAPBandCells; j < ny; j++ {
			if j < 0 || j >= len(surf.Values[i]) {
				continue
			}
			if v := surf.Values[i][j]; v != nil {
				sum += *v
				n++
			}
		}
		if n > 0 {
			band[i] = sum / float64(n)
			haveBand[i] = true
		}
	}

	smoothed := movingAverage3(band, haveBand)

	bestIdx := -1
	bestDepth := 0.0
	for i := 1; i < nx-1; i++ {
		if !haveBand[i-1] || !haveBand[i] || !haveBand[i+1] {
			continue
		}
		left, mid, right := smoothed[i-1], smoothed[i], smoothed[i+1]
		if mid < left && mid < right {
			depth := math.Min(left-mid, right-mid)
			if depth > bestDepth {
				bestDepth = depth
				bestIdx = i
			}
		}
	}
	if bestIdx < 0 {
		return finding
	}

	covered := 0
	for _, ok := range haveBand {
		if ok {
			covered++
		}
	}
	coverageFrac := float64(covered) / float64(nx)

	finding.Detected = true
	finding.RPMCenter = surf.RPMAxis.Bins[bestIdx]
	finding.RPMLowBound = surf.RPMAxis.Bins[bestIdx-1]
	finding.RPMHighBound = surf.RPMAxis.Bins[bestIdx+1]
	finding.DepthDeg = bestDepth
	finding.Confidence = clampUnit(coverageFrac * clampUnit(bestDepth/5.0))
	return finding
}

func movingAverage3(vals []float64, have []bool) []float64 {
	out := make([]float64, len(vals))
	for i := range vals {
		var sum float64
		var n int
		for _, k := range [3]int{i - 1, i, i + 1} {
			if k < 0 || k >= len(vals) || !have[k] {
				continue
			}
			sum += vals[k]
			n++
		}
		if n > 0 {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// DetectValleysMultiCylinder runs DetectSparkValley for whichever of the
// front/rear spark surfaces is present.
func DetectValleysMultiCylinder(surfaces map[string]*Surface2D, highMAPBandCells int) []SparkValleyFinding {
	var findings []SparkValleyFinding
	if surf, ok := surfaces["spark_front"]; ok {
		findings = append(findings, DetectSparkValley(surf, "front", highMAPBandCells))
	}
	if surf, ok := surfaces["spark_rear"]; ok {
		findings = append(findings, DetectSparkValley(surf, "rear", highMAPBandCells))
	}
	return findings
}
