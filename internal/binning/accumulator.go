package binning

import "math"

// Strategy selects how samples within a cell are combined.
type Strategy string

const (
	StrategyWeighted Strategy = "weighted" // logarithmic distance weighting (default)
	StrategyUniform  Strategy = "uniform"  // equal weight per sample
	StrategyMax      Strategy = "max"
	StrategyMin      Strategy = "min"
	StrategySum      Strategy = "sum"
)

// saturationDistance is the normalized-distance threshold beyond which a
// sample still receives the minimum positive weight rather than zero.
const saturationDistance = 1.0

const minWeight = 1e-6

// cell holds the running accumulators for one (x, y) grid entry.
type cell struct {
	weightedSum float64
	weightSum   float64
	count       int
	extreme     float64
	haveExtreme bool
}

// Accumulator aggregates samples onto a Grid using a configured Strategy.
type Accumulator struct {
	grid     *Grid
	strategy Strategy
	minHits  int

	cells    [][]cell
	rejected int
	total    int
}

// NewAccumulator builds an accumulator over grid. minSamplesPerCell gates
// which cells are reported as having a value versus being absent.
func NewAccumulator(grid *Grid, strategy Strategy, minSamplesPerCell int) *Accumulator {
	nx, ny := grid.Shape()
	cells := make([][]cell, nx)
	for i := range cells {
		cells[i] = make([]cell, ny)
	}
	if minSamplesPerCell < 1 {
		minSamplesPerCell = 1
	}
	return &Accumulator{grid: grid, strategy: strategy, minHits: minSamplesPerCell, cells: cells}
}

// Add folds one (x, y, value) sample into the grid. Samples with a
// non-finite value or location are rejected and excluded. A finite location
// outside the axis range is not rejected; it goes to the nearest edge cell.
func (a *Accumulator) Add(x, y, value float64) {
	a.total++
	if !isFinite(x) || !isFinite(y) || !isFinite(value) {
		a.rejected++
		return
	}

	xi := nearestIndex(a.grid.XBins, x)
	yi := nearestIndex(a.grid.YBins, y)
	c := &a.cells[xi][yi]
	c.count++

	switch a.strategy {
	case StrategyMax:
		if !c.haveExtreme || value > c.extreme {
			c.extreme = value
			c.haveExtreme = true
		}
	case StrategyMin:
		if !c.haveExtreme || value < c.extreme {
			c.extreme = value
			c.haveExtreme = true
		}
	case StrategySum:
		c.weightedSum += value
	case StrategyUniform:
		c.weightedSum += value
		c.weightSum += 1
	default: // StrategyWeighted
		w := logWeight(distance(a.grid, x, y, xi, yi))
		c.weightedSum += w * value
		c.weightSum += w
	}
}

// distance computes the normalized distance in [0,1]-ish space from (x,y)
// to the center of cell (xi, yi), using each axis's total span as scale.
func distance(g *Grid, x, y float64, xi, yi int) float64 {
	dx := (x - g.XBins[xi]) / span(g.XBins)
	dy := (y - g.YBins[yi]) / span(g.YBins)
	d := math.Sqrt(dx*dx + dy*dy)
	if d > saturationDistance {
		d = saturationDistance
	}
	return d
}

// logWeight implements the documented logarithmic weighting:
// weight = -log10(max(d^2, eps)) / (d+1)^4.
func logWeight(d float64) float64 {
	const eps = 1e-9
	d2 := d * d
	if d2 < eps {
		d2 = eps
	}
	w := -math.Log10(d2) / math.Pow(d+1, 4)
	if w < minWeight {
		return minWeight
	}
	return w
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Result is the finished aggregation: a value matrix plus a parallel
// present/absent mask and hit counts.
type Result struct {
	Grid      *Grid
	Values    [][]float64 // valid only where Present[i][j]
	Present   [][]bool
	HitCounts [][]int
	Stats     Stats
}

// Stats summarizes sample accounting for the whole accumulation run.
type Stats struct {
	TotalSamples    int
	RejectedSamples int
}

// Finish computes final cell values. Cells with hit count below
// minSamplesPerCell are guaranteed absent, never a stale or zero value.
func (a *Accumulator) Finish() *Result {
	nx, ny := a.grid.Shape()
	values := make([][]float64, nx)
	present := make([][]bool, nx)
	hits := make([][]int, nx)
	for i := 0; i < nx; i++ {
		values[i] = make([]float64, ny)
		present[i] = make([]bool, ny)
		hits[i] = make([]int, ny)
		for j := 0; j < ny; j++ {
			c := a.cells[i][j]
			hits[i][j] = c.count
			if c.count < a.minHits {
				continue
			}
			switch a.strategy {
			case StrategyMax, StrategyMin:
				values[i][j] = c.extreme
				present[i][j] = c.haveExtreme
			case StrategySum:
				values[i][j] = c.weightedSum
				present[i][j] = true
			default: // weighted, uniform
				if c.weightSum <= 0 {
					continue
				}
				values[i][j] = c.weightedSum / c.weightSum
				present[i][j] = true
			}
		}
	}
	return &Result{
		Grid:      a.grid,
		Values:    values,
		Present:   present,
		HitCounts: hits,
		Stats:     Stats{TotalSamples: a.total, RejectedSamples: a.rejected},
	}
}
