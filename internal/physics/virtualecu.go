package physics

import (
	"math"

	"github.com/sagostin/dynotune/internal/binning"
)

// veClampMin/Max and afrClampMin/Max are the documented physical ranges
// a virtual ECU's VE and resulting AFR must stay within.
const (
	veClampMin  = 0.3
	veClampMax  = 1.5
	afrClampMin = 8.0
	afrClampMax = 20.0
)

// Table is a dense K×L matrix over a binning.Grid, interpolated bilinearly.
// Grounded in original_source/api/services/virtual_ecu.py's
// RegularGridInterpolator usage, reimplemented by hand since no pack example
// ships a numerical interpolation library.
type Table struct {
	Grid   *binning.Grid
	Values [][]float64 // [x][y]
}

// NewTable builds a table of the grid's shape, filled with fill.
func NewTable(grid *binning.Grid, fill float64) *Table {
	nx, ny := grid.Shape()
	v := make([][]float64, nx)
	for i := range v {
		v[i] = make([]float64, ny)
		for j := range v[i] {
			v[i][j] = fill
		}
	}
	return &Table{Grid: grid, Values: v}
}

// Interpolate performs bilinear interpolation, extrapolating outside the
// bin range by clamping to the nearest edge cell's gradient.
func (t *Table) Interpolate(x, y float64) float64 {
	xi0, xi1, xf := locate(t.Grid.XBins, x)
	yi0, yi1, yf := locate(t.Grid.YBins, y)

	v00 := t.Values[xi0][yi0]
	v01 := t.Values[xi0][yi1]
	v10 := t.Values[xi1][yi0]
	v11 := t.Values[xi1][yi1]

	v0 := v00 + (v10-v00)*xf
	v1 := v01 + (v11-v01)*xf
	return v0 + (v1-v0)*yf
}

// locate finds the bracketing bin indices for v and the fractional position
// between them, extrapolating past the edges using the outermost interval.
func locate(bins []float64, v float64) (lo, hi int, frac float64) {
	n := len(bins)
	if n == 1 {
		return 0, 0, 0
	}
	if v <= bins[0] {
		return 0, 1, (v - bins[0]) / (bins[1] - bins[0])
	}
	if v >= bins[n-1] {
		return n - 2, n - 1, (v - bins[n-2]) / (bins[n-1] - bins[n-2])
	}
	for i := 0; i < n-1; i++ {
		if v >= bins[i] && v <= bins[i+1] {
			return i, i + 1, (v - bins[i]) / (bins[i+1] - bins[i])
		}
	}
	return n - 2, n - 1, 1
}

// VirtualECU holds dual (front/rear) VE tables and an AFR-target table, and
// derives fueling and resulting AFR the way a real ECU's closed-loop
// fueling would, grounded in virtual_ecu.py's calculate_resulting_afr.
type VirtualECU struct {
	VEFront        *Table
	VERear         *Table
	AFRTarget      *Table
	DisplacementCI float64
	Cylinders      int
}

const (
	rSpecificAir   = 287.05     // J/(kg*K)
	ciToM3         = 0.0000163871
	kPaToPa        = 1000.0
)

// LookupVE returns the ECU's VE for the front bank at (rpm, mapKPa), clamped
// to [0.3, 1.5].
func (v *VirtualECU) LookupVE(rpm, mapKPa float64) float64 {
	return clamp(v.VEFront.Interpolate(rpm, mapKPa), veClampMin, veClampMax)
}

// LookupTargetAFR returns the target AFR at (rpm, mapKPa), clamped to
// [10.0, 18.0] per the documented VirtualECU invariant (narrower than the
// overall physical AFR range, matching original_source's lookup_target_afr).
func (v *VirtualECU) LookupTargetAFR(rpm, mapKPa float64) float64 {
	return clamp(v.AFRTarget.Interpolate(rpm, mapKPa), 10.0, 18.0)
}

// AirMassMg computes the ideal-gas-law air mass (mg) inducted per cycle
// given MAP and intake temp; RPM does not enter the per-cycle mass term.
func (v *VirtualECU) AirMassMg(mapKPa, iatC float64) float64 {
	volM3 := v.DisplacementCI * ciToM3
	pPa := mapKPa * kPaToPa
	tK := iatC + 273.15
	massKg := (pPa * volM3) / (rSpecificAir * tK)
	return massKg * 1e6 // kg -> mg
}

// RequiredFuelMg is the fuel mass needed to hit the target AFR.
func (v *VirtualECU) RequiredFuelMg(airMassMg, targetAFR float64) float64 {
	return airMassMg / targetAFR
}

// DeliveredFuelMg is what the ECU actually delivers, scaled by its own
// (possibly wrong) VE belief.
func (v *VirtualECU) DeliveredFuelMg(baseFuelMg, ecuVE float64) float64 {
	return baseFuelMg * ecuVE
}

// ResultingAFR is the key virtual-ECU contract: given the physically actual
// VE and the ECU's believed VE, the resulting AFR scales by their ratio
// relative to the target — grounded directly in virtual_ecu.py's
// calculate_resulting_afr.
func (v *VirtualECU) ResultingAFR(targetAFR, actualVE, ecuVE float64) float64 {
	if ecuVE == 0 {
		ecuVE = 1e-6
	}
	ratio := actualVE / ecuVE
	return clamp(targetAFR*ratio, afrClampMin, afrClampMax)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
