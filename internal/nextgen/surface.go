package nextgen

import (
	"fmt"

	"github.com/sagostin/dynotune/internal/binning"
)

// SurfaceAxis is one labeled axis of a Surface2D.
type SurfaceAxis struct {
	Bins []float64 `json:"bins"`
	Unit string    `json:"unit"`
}

// SurfaceStats summarizes a surface's sample coverage.
type SurfaceStats struct {
	TotalSamples int     `json:"total_samples"`
	TotalCells   int     `json:"total_cells"`
	NonNaNCells  int     `json:"non_nan_cells"`
	CoveragePct  float64 `json:"coverage_pct"`
}

// Surface2D is a unified RPM/MAP grid of one aggregated channel, reusing
// internal/binning's accumulator the way surface_builder.py reuses
// WeightedBinAccumulator. Values holds nil at any cell that didn't clear
// MinSamplesPerCell, mirroring the original's None-cell semantics.
type Surface2D struct {
	SurfaceID string       `json:"surface_id"`
	Title     string       `json:"title"`
	RPMAxis   SurfaceAxis  `json:"rpm_axis"`
	MAPAxis   SurfaceAxis  `json:"map_axis"`
	Values    [][]*float64 `json:"values"`
	HitCount  [][]int      `json:"hit_count"`
	Shape     [2]int       `json:"shape"`
	Stats     SurfaceStats `json:"stats"`
}

// SurfaceSpec selects the channel, mode filter, and aggregation a surface
// is built from.
type SurfaceSpec struct {
	SurfaceID         string
	Title             string
	ValueColumn       string
	FilterModes       []ModeTag
	Aggregation       string // "mean" (default, distance-weighted), "max", "min"
	MinSamplesPerCell int
}

func (spec SurfaceSpec) strategy() binning.Strategy {
	switch spec.Aggregation {
	case "max":
		return binning.StrategyMax
	case "min":
		return binning.StrategyMin
	default:
		return binning.StrategyWeighted
	}
}

// BuildSurface aggregates spec.ValueColumn from frame onto grid, restricted
// to samples whose label is in spec.FilterModes (all samples when empty).
func BuildSurface(frame *Frame, modes []ModeTag, spec SurfaceSpec, grid *binning.Grid) (*Surface2D, error) {
	rpm, ok := column(frame, "rpm")
	if !ok {
		return nil, fmt.Errorf("build_surface: missing rpm channel")
	}
	mapCol, ok := column(frame, "map_kpa")
	if !ok {
		return nil, fmt.Errorf("build_surface: missing map_kpa channel")
	}
	value, ok := column(frame, spec.ValueColumn)
	if !ok {
		return nil, fmt.Errorf("build_surface: missing value column %q", spec.ValueColumn)
	}

	minHits := spec.MinSamplesPerCell
	if minHits < 1 {
		minHits = 1
	}
	acc := binning.NewAccumulator(grid, spec.strategy(), minHits)
	filter := modeFilterSet(spec.FilterModes)
	total := 0
	for i := range rpm {
		if filter != nil && (i >= len(modes) || !filter[modes[i]]) {
			continue
		}
		if i >= len(mapCol) || i >= len(value) {
			continue
		}
		acc.Add(rpm[i], mapCol[i], value[i])
		total++
	}
	res := acc.Finish()
	nx, ny := grid.Shape()

	values := make([][]*float64, nx)
	nonNaN := 0
	for i := 0; i < nx; i++ {
		values[i] = make([]*float64, ny)
		for j := 0; j < ny; j++ {
			if res.Present[i][j] {
				v := res.Values[i][j]
				values[i][j] = &v
				nonNaN++
			}
		}
	}
	totalCells := nx * ny
	coverage := 0.0
	if totalCells > 0 {
		coverage = float64(nonNaN) / float64(totalCells) * 100
	}

	id := spec.SurfaceID
	if id == "" {
		id = spec.ValueColumn
	}
	title := spec.Title
	if title == "" {
		title = id
	}
	return &Surface2D{
		SurfaceID: id, Title: title,
		RPMAxis: SurfaceAxis{Bins: grid.XBins, Unit: "rpm"},
		MAPAxis: SurfaceAxis{Bins: grid.YBins, Unit: "kpa"},
		Values:  values, HitCount: res.HitCounts, Shape: [2]int{nx, ny},
		Stats: SurfaceStats{TotalSamples: total, TotalCells: totalCells, NonNaNCells: nonNaN, CoveragePct: coverage},
	}, nil
}

// standardSurfaceSpecs is the documented set build_standard_surfaces
// constructs when its channel is present: spark timing, AFR error, and
// knock activity per cylinder bank.
var standardSurfaceSpecs = []SurfaceSpec{
	{SurfaceID: "spark_front", Title: "Spark Timing (Front)", ValueColumn: "spark_f", MinSamplesPerCell: 3},
	{SurfaceID: "spark_rear", Title: "Spark Timing (Rear)", ValueColumn: "spark_r", MinSamplesPerCell: 3},
	{SurfaceID: "afr_error_front", Title: "AFR Error (Front)", ValueColumn: "afr_error_f", MinSamplesPerCell: 3},
	{SurfaceID: "afr_error_rear", Title: "AFR Error (Rear)", ValueColumn: "afr_error_r", MinSamplesPerCell: 3},
	{SurfaceID: "knock_front", Title: "Knock Activity (Front)", ValueColumn: "knock_f", Aggregation: "max", MinSamplesPerCell: 1},
	{SurfaceID: "knock_rear", Title: "Knock Activity (Rear)", ValueColumn: "knock_r", Aggregation: "max", MinSamplesPerCell: 1},
}

// BuildStandardSurfaces builds every surface in standardSurfaceSpecs whose
// value column is present in frame, skipping the rest rather than failing.
func BuildStandardSurfaces(frame *Frame, modes []ModeTag, grid *binning.Grid) map[string]*Surface2D {
	out := make(map[string]*Surface2D)
	for _, spec := range standardSurfaceSpecs {
		if _, ok := column(frame, spec.ValueColumn); !ok {
			continue
		}
		surf, err := BuildSurface(frame, modes, spec, grid)
		if err != nil {
			continue
		}
		out[spec.SurfaceID] = surf
	}
	return out
}

func modeFilterSet(modes []ModeTag) map[ModeTag]bool {
	if len(modes) == 0 {
		return nil
	}
	set := make(map[ModeTag]bool, len(modes))
	for _, m := range modes {
		set[m] = true
	}
	return set
}
