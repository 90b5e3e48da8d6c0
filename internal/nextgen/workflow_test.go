package nextgen

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagostin/dynotune/internal/binning"
)

func TestAnalyzeProducesVersionedPayload(t *testing.T) {
	grid := testGrid(t)
	f := frameOf(map[string][]float64{
		"rpm":         {1000, 2000, 3000, 4000, 5000, 5000, 5000},
		"map_kpa":     {30, 50, 70, 90, 90, 90, 90},
		"tps":         {3, 20, 40, 90, 92, 94, 96},
		"iat":         {85, 85, 85, 85, 85, 85, 85},
		"afr_error_f": {0.1, 0.2, -0.1, 0.3, -0.2, 0.1, 0.2},
		"spark_f":     {10, 15, 22, 28, 26, 24, 30},
	})
	payload, err := Analyze("run-1", f, grid, time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, payload.SchemaVersion)
	assert.Equal(t, "run-1", payload.RunID)
	assert.Equal(t, "2026-07-31T12:00:00Z", payload.GeneratedAt)
	assert.True(t, payload.InputsPresent.Channels["rpm"])
	assert.NotEmpty(t, payload.ModeSummary)
	assert.NotNil(t, payload.CauseTree)
}

func TestAnalyzeErrorsOnMissingRequiredChannels(t *testing.T) {
	grid := testGrid(t)
	f := frameOf(map[string][]float64{
		"map_kpa": {30, 50},
	})
	_, err := Analyze("run-2", f, grid, time.Now().UTC())
	assert.Error(t, err)
}

func TestAnalyzeRoundTripsThroughJSON(t *testing.T) {
	grid, err := binning.NewGrid([]float64{1000, 3000, 5000}, []float64{40, 80})
	require.NoError(t, err)
	f := frameOf(map[string][]float64{
		"rpm": {1000, 3000, 5000},
		"tps": {3, 30, 95},
	})
	payload, err := Analyze("run-3", f, grid, time.Now().UTC())
	require.NoError(t, err)

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	decoded, err := DecodePayload(data)
	require.NoError(t, err)
	assert.Equal(t, payload.RunID, decoded.RunID)
}
