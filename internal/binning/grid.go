// Package binning implements distance-weighted aggregation of irregular
// (x, y, value) samples onto a fixed 2-D grid.
package binning

import "fmt"

// Grid is an ordered pair of strictly-increasing axes. Its identity is the
// axis values themselves; it is immutable after construction.
type Grid struct {
	XBins []float64 // e.g. RPM bins
	YBins []float64 // e.g. MAP bins
}

// DefaultRPMBins is the documented default RPM axis: 1500..6500 step 500.
var DefaultRPMBins = []float64{1500, 2000, 2500, 3000, 3500, 4000, 4500, 5000, 5500, 6000, 6500}

// DefaultMAPBins is the documented default MAP axis: 20..100 step 10.
var DefaultMAPBins = []float64{20, 30, 40, 50, 60, 70, 80, 90, 100}

// NewGrid validates that both axes are strictly increasing.
func NewGrid(xBins, yBins []float64) (*Grid, error) {
	if err := assertStrictlyIncreasing(xBins); err != nil {
		return nil, fmt.Errorf("x axis: %w", err)
	}
	if err := assertStrictlyIncreasing(yBins); err != nil {
		return nil, fmt.Errorf("y axis: %w", err)
	}
	return &Grid{XBins: xBins, YBins: yBins}, nil
}

func assertStrictlyIncreasing(bins []float64) error {
	for i := 1; i < len(bins); i++ {
		if bins[i] <= bins[i-1] {
			return fmt.Errorf("axis not strictly increasing at index %d", i)
		}
	}
	return nil
}

// Shape returns (len(XBins), len(YBins)).
func (g *Grid) Shape() (int, int) { return len(g.XBins), len(g.YBins) }

// nearestIndex returns the index of the bin nearest v, tie-breaking to the
// lower index.
func nearestIndex(bins []float64, v float64) int {
	best := 0
	bestDist := abs(bins[0] - v)
	for i := 1; i < len(bins); i++ {
		d := abs(bins[i] - v)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func span(bins []float64) float64 {
	if len(bins) < 2 {
		return 1
	}
	s := bins[len(bins)-1] - bins[0]
	if s == 0 {
		return 1
	}
	return s
}
