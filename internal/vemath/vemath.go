// Package vemath implements the versioned AFR-to-VE correction math:
// legacy linear (v1) and ratio-based (v2, default).
package vemath

import "sort"

// Version selects which correction formula is applied.
type Version string

const (
	// VersionV1 is the legacy linear approximation: roughly 7% VE change
	// per AFR point of error. Retained for replay of legacy artifacts only;
	// no code path in this module selects it by default.
	VersionV1 Version = "v1"
	// VersionV2 is the ratio model and the default for all new analysis.
	VersionV2 Version = "v2"
)

// v1PointFactor is chosen so that one AFR-point of error maps to
// approximately 7% VE change, per the documented v1 approximation.
const v1PointFactor = 0.07

// Correction computes the raw (unclamped) VE multiplier for a measured vs.
// target AFR under the given version.
func Correction(version Version, measured, target float64) float64 {
	switch version {
	case VersionV1:
		return 1 + (measured-target)*v1PointFactor
	default: // VersionV2
		return measured / target
	}
}

// Percentage converts a raw multiplier into a percentage change.
func Percentage(correction float64) float64 {
	return (correction - 1) * 100
}

// Clamp restricts a correction multiplier to [1-maxCorrection, 1+maxCorrection]
// and reports whether clipping occurred.
func Clamp(correction, maxCorrection float64) (clamped float64, clipped bool) {
	lo, hi := 1-maxCorrection, 1+maxCorrection
	if correction < lo {
		return lo, true
	}
	if correction > hi {
		return hi, true
	}
	return correction, false
}

// AFRTargetTable is a configured map from MAP (kPa) to target AFR. Lookup
// uses nearest-key semantics when MAP falls between configured keys.
type AFRTargetTable struct {
	keys []float64
	vals []float64
}

// DefaultAFRTargetTable is the documented default: stoich at low MAP,
// progressively richer at high MAP.
func DefaultAFRTargetTable() *AFRTargetTable {
	t, _ := NewAFRTargetTable(map[float64]float64{
		20: 14.7, 30: 14.7, 40: 14.5, 50: 14.0, 60: 13.5,
		70: 13.0, 80: 12.8, 90: 12.5, 100: 12.2,
	})
	return t
}

// NewAFRTargetTable builds a lookup table from a MAP->AFR map.
func NewAFRTargetTable(table map[float64]float64) (*AFRTargetTable, error) {
	keys := make([]float64, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	vals := make([]float64, len(keys))
	for i, k := range keys {
		vals[i] = table[k]
	}
	return &AFRTargetTable{keys: keys, vals: vals}, nil
}

// Lookup returns the target AFR for a given MAP using nearest-key semantics.
func (t *AFRTargetTable) Lookup(mapKPa float64) float64 {
	if len(t.keys) == 0 {
		return 14.7
	}
	best := 0
	bestDist := absf(t.keys[0] - mapKPa)
	for i := 1; i < len(t.keys); i++ {
		d := absf(t.keys[i] - mapKPa)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return t.vals[best]
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
