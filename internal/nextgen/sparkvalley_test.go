package nextgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func surfaceWithValues(bins []float64, mapBins []float64, values []float64) *Surface2D {
	vals := make([][]*float64, len(bins))
	for i, v := range values {
		vals[i] = make([]*float64, len(mapBins))
		vals[i][len(mapBins)-1] = ptr(v)
	}
	return &Surface2D{
		RPMAxis: SurfaceAxis{Bins: bins},
		MAPAxis: SurfaceAxis{Bins: mapBins},
		Values:  vals,
	}
}

func TestDetectSparkValleyFindsMidrangeDip(t *testing.T) {
	bins := []float64{2000, 3000, 4000, 5000, 6000}
	mapBins := []float64{90}
	surf := surfaceWithValues(bins, mapBins, []float64{30, 28, 20, 27, 31})
	finding := DetectSparkValley(surf, "front", 1)
	assert.True(t, finding.Detected)
	assert.Equal(t, 4000.0, finding.RPMCenter)
	assert.Greater(t, finding.DepthDeg, 0.0)
}

func TestDetectSparkValleyMonotonicNoDetection(t *testing.T) {
	bins := []float64{2000, 3000, 4000, 5000, 6000}
	mapBins := []float64{90}
	surf := surfaceWithValues(bins, mapBins, []float64{30, 28, 26, 24, 22})
	finding := DetectSparkValley(surf, "front", 1)
	assert.False(t, finding.Detected)
}

func TestDetectSparkValleyEmptySurface(t *testing.T) {
	surf := &Surface2D{}
	finding := DetectSparkValley(surf, "rear", 1)
	assert.False(t, finding.Detected)
}

func TestDetectValleysMultiCylinderOnlyPresentBanks(t *testing.T) {
	bins := []float64{2000, 3000, 4000, 5000, 6000}
	mapBins := []float64{90}
	surfaces := map[string]*Surface2D{
		"spark_front": surfaceWithValues(bins, mapBins, []float64{30, 28, 20, 27, 31}),
	}
	findings := DetectValleysMultiCylinder(surfaces, 1)
	assert.Len(t, findings, 1)
	assert.Equal(t, "front", findings[0].Cylinder)
}
