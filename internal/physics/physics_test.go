package physics

import (
	"testing"

	"github.com/sagostin/dynotune/internal/binning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrid(t *testing.T) *binning.Grid {
	t.Helper()
	g, err := binning.NewGrid([]float64{1000, 3000, 5000}, []float64{40, 70, 100})
	require.NoError(t, err)
	return g
}

func TestVEClampedToDocumentedRange(t *testing.T) {
	g := testGrid(t)
	tbl := NewTable(g, 2.0) // deliberately out of range
	ecu := &VirtualECU{VEFront: tbl, VERear: tbl, AFRTarget: NewTable(g, 13.0), DisplacementCI: 114}
	assert.InDelta(t, veClampMax, ecu.LookupVE(3000, 70), 1e-9)
}

func TestResultingAFRRatioModel(t *testing.T) {
	g := testGrid(t)
	ecu := &VirtualECU{VEFront: NewTable(g, 0.9), VERear: NewTable(g, 0.9), AFRTarget: NewTable(g, 13.0), DisplacementCI: 114}
	// ECU believes VE=0.9, actual VE is higher (1.0) -> leaner-than-target result.
	afr := ecu.ResultingAFR(13.0, 1.0, 0.9)
	assert.Greater(t, afr, 13.0)
}

func TestDecelHorsepowerReportsPositiveMagnitude(t *testing.T) {
	hp := HorsepowerFromTorque(-50, 300, PhaseDecel)
	assert.Greater(t, hp, 0.0)
}

func TestPullHorsepowerCanBeNegativeIfTorqueNegative(t *testing.T) {
	hp := HorsepowerFromTorque(-50, 300, PhasePull)
	assert.Less(t, hp, 0.0)
}

func TestKnockTriggersOnLeanHighLoad(t *testing.T) {
	triggered, risk := DetectKnock(15.0, 13.0, 90, 40)
	assert.True(t, triggered)
	assert.Greater(t, risk, 0.0)
}

func TestKnockDoesNotTriggerAtLowLoad(t *testing.T) {
	triggered, _ := DetectKnock(15.0, 13.0, 20, 40)
	assert.False(t, triggered)
}

func TestSimulatorProducesDecelHorsepowerAboveZero(t *testing.T) {
	g := testGrid(t)
	engine := NewEngine(DefaultEngineParams())
	ecu := &VirtualECU{
		VEFront: NewTable(g, 0.85), VERear: NewTable(g, 0.85),
		AFRTarget: NewTable(g, 13.0), DisplacementCI: 114, Cylinders: 2,
	}
	sim := NewSimulator(engine, ecu)
	sim.StartPull()
	for i := 0; i < 20; i++ {
		sim.Tick(0.05, nil)
	}
	sim.StartDecel()

	sawPositiveHP := false
	for i := 0; i < 10; i++ {
		r := sim.Tick(0.05, nil)
		if r.Phase == PhaseDecel && r.HP > 0.5 {
			sawPositiveHP = true
		}
	}
	assert.True(t, sawPositiveHP, "at least one decel tick must report hp > 0.5")
}
