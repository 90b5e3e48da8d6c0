package binning

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallGrid(t *testing.T) *Grid {
	t.Helper()
	g, err := NewGrid([]float64{1000, 2000, 3000}, []float64{40, 60, 80})
	require.NoError(t, err)
	return g
}

func TestAccumulatorShapeMatchesGrid(t *testing.T) {
	g := smallGrid(t)
	acc := NewAccumulator(g, StrategyWeighted, 1)
	res := acc.Finish()
	assert.Len(t, res.Values, 3)
	assert.Len(t, res.Values[0], 3)
}

func TestCellBelowMinHitsIsAbsent(t *testing.T) {
	g := smallGrid(t)
	acc := NewAccumulator(g, StrategyWeighted, 2)
	acc.Add(1000, 40, 14.7)
	res := acc.Finish()
	assert.False(t, res.Present[0][0])
	assert.Equal(t, 1, res.HitCounts[0][0])
}

func TestSingleSampleWithMinHitsOne(t *testing.T) {
	g := smallGrid(t)
	acc := NewAccumulator(g, StrategyWeighted, 1)
	acc.Add(1000, 40, 14.7)
	res := acc.Finish()
	require.True(t, res.Present[0][0])
	assert.InDelta(t, 14.7, res.Values[0][0], 1e-9)
	// every other cell is absent
	absentCount := 0
	for i := range res.Present {
		for j := range res.Present[i] {
			if !(i == 0 && j == 0) && !res.Present[i][j] {
				absentCount++
			}
		}
	}
	assert.Equal(t, 8, absentCount)
}

func TestNonFiniteSamplesRejected(t *testing.T) {
	g := smallGrid(t)
	acc := NewAccumulator(g, StrategyWeighted, 1)
	acc.Add(1000, 40, math.NaN())
	acc.Add(2000, 60, 14.7)
	res := acc.Finish()
	assert.Equal(t, 1, res.Stats.RejectedSamples)
	assert.Equal(t, 2, res.Stats.TotalSamples)
}

func TestMaxStrategy(t *testing.T) {
	g := smallGrid(t)
	acc := NewAccumulator(g, StrategyMax, 1)
	acc.Add(1000, 40, 10)
	acc.Add(1000, 40, 25)
	acc.Add(1000, 40, 18)
	res := acc.Finish()
	assert.Equal(t, 25.0, res.Values[0][0])
}
