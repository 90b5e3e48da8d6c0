package nextgen

import "fmt"

// ModeTag labels one sample with the operating condition it was captured
// under, grounded in mode_detection.py's documented tag set.
type ModeTag string

const (
	ModeIdle     ModeTag = "idle"
	ModeCruise   ModeTag = "cruise"
	ModeTipIn    ModeTag = "tip_in"
	ModeTipOut   ModeTag = "tip_out"
	ModeWOT      ModeTag = "wot"
	ModeDecel    ModeTag = "decel"
	ModeHeatSoak ModeTag = "heat_soak"
	ModeUnknown  ModeTag = "unknown"
)

// AllModeTags enumerates every recognized tag.
var AllModeTags = []ModeTag{
	ModeIdle, ModeCruise, ModeTipIn, ModeTipOut, ModeWOT, ModeDecel, ModeHeatSoak, ModeUnknown,
}

// ModeDetectionConfig carries every threshold the classifier reads.
type ModeDetectionConfig struct {
	RPMIdleCeiling      float64
	TPSIdleCeiling      float64
	TPSWOTThreshold     float64
	IATSoakThreshold    float64
	TPSDotTipInPerSec   float64
	TPSDotTipOutPerSec  float64
	DefaultSampleRateHz float64
}

// DefaultModeDetectionConfig returns the documented default thresholds.
func DefaultModeDetectionConfig() ModeDetectionConfig {
	return ModeDetectionConfig{
		RPMIdleCeiling:      1200,
		TPSIdleCeiling:      10,
		TPSWOTThreshold:     85,
		IATSoakThreshold:    120,
		TPSDotTipInPerSec:   40,
		TPSDotTipOutPerSec:  -40,
		DefaultSampleRateHz: 10,
	}
}

// LabeledFrame is a frame with a ModeTag assigned to every sample.
type LabeledFrame struct {
	Frame         *Frame
	Modes         []ModeTag
	SummaryCounts map[ModeTag]int
}

// TotalSamples returns the number of labeled samples.
func (lf *LabeledFrame) TotalSamples() int { return len(lf.Modes) }

// ModeDistribution returns each mode's share of samples as a percentage.
func (lf *LabeledFrame) ModeDistribution() map[ModeTag]float64 {
	total := lf.TotalSamples()
	dist := make(map[ModeTag]float64, len(lf.SummaryCounts))
	if total == 0 {
		return dist
	}
	for tag, count := range lf.SummaryCounts {
		dist[tag] = float64(count) / float64(total) * 100
	}
	return dist
}

// ModeMask returns a boolean mask selecting samples labeled tag.
func (lf *LabeledFrame) ModeMask(tag ModeTag) []bool {
	mask := make([]bool, len(lf.Modes))
	for i, m := range lf.Modes {
		mask[i] = m == tag
	}
	return mask
}

// FilterIndices returns the sample indices labeled tag.
func (lf *LabeledFrame) FilterIndices(tag ModeTag) []int {
	var idx []int
	for i, m := range lf.Modes {
		if m == tag {
			idx = append(idx, i)
		}
	}
	return idx
}

// ComputeDerivatives returns the per-sample TPS and MAP rates of change, in
// percent-per-second and kPa-per-second respectively. The first sample has
// no prior neighbor and is reported as zero. When frame carries no time_ms
// channel, cfg.DefaultSampleRateHz fills in a constant sample interval.
func ComputeDerivatives(frame *Frame, cfg ModeDetectionConfig) (tpsDot, mapDot []float64) {
	tps, _ := column(frame, "tps")
	mapCol, _ := column(frame, "map_kpa")
	timeMs, hasTime := column(frame, "time_ms")

	n := len(tps)
	tpsDot = make([]float64, n)
	mapDot = make([]float64, n)
	if cfg.DefaultSampleRateHz <= 0 {
		cfg.DefaultSampleRateHz = 10
	}
	defaultDt := 1.0 / cfg.DefaultSampleRateHz

	for i := 1; i < n; i++ {
		dt := defaultDt
		if hasTime && i < len(timeMs) {
			d := (timeMs[i] - timeMs[i-1]) / 1000.0
			if d > 0 {
				dt = d
			}
		}
		tpsDot[i] = (tps[i] - tps[i-1]) / dt
		if i < len(mapCol) {
			mapDot[i] = (mapCol[i] - mapCol[i-1]) / dt
		}
	}
	return tpsDot, mapDot
}

// LabelModes classifies every sample in frame into a ModeTag. Classification
// is deterministic and threshold-based — no learned model. cfg may be nil
// to use DefaultModeDetectionConfig.
func LabelModes(frame *Frame, cfg *ModeDetectionConfig) (*LabeledFrame, error) {
	c := DefaultModeDetectionConfig()
	if cfg != nil {
		c = *cfg
	}

	rpm, ok := column(frame, "rpm")
	if !ok {
		return nil, fmt.Errorf("label_modes: missing rpm channel")
	}
	mapCol, _ := column(frame, "map_kpa")
	tps, ok := column(frame, "tps")
	if !ok {
		return nil, fmt.Errorf("label_modes: missing tps channel")
	}
	iat, hasIAT := column(frame, "iat")

	tpsDot, _ := ComputeDerivatives(frame, c)

	n := len(rpm)
	modes := make([]ModeTag, n)
	counts := make(map[ModeTag]int, len(AllModeTags))
	for i := 0; i < n; i++ {
		mapV := 0.0
		if i < len(mapCol) {
			mapV = mapCol[i]
		}
		iatV := 0.0
		if hasIAT && i < len(iat) {
			iatV = iat[i]
		}
		dot := 0.0
		if i < len(tpsDot) {
			dot = tpsDot[i]
		}
		tag := classify(rpm[i], mapV, tps[i], iatV, hasIAT, dot, c)
		modes[i] = tag
		counts[tag]++
	}
	return &LabeledFrame{Frame: frame, Modes: modes, SummaryCounts: counts}, nil
}

// classify applies the documented threshold cascade: transient rate first
// (a sample mid-tip-in/tip-out is never steady-state), then WOT, idle,
// heat soak, off-throttle decel, falling back to cruise.
func classify(rpm, mapKPa, tps, iat float64, hasIAT bool, tpsDot float64, cfg ModeDetectionConfig) ModeTag {
	switch {
	case tpsDot >= cfg.TPSDotTipInPerSec:
		return ModeTipIn
	case tpsDot <= cfg.TPSDotTipOutPerSec:
		return ModeTipOut
	case tps >= cfg.TPSWOTThreshold:
		return ModeWOT
	case rpm <= cfg.RPMIdleCeiling && tps <= cfg.TPSIdleCeiling:
		return ModeIdle
	case hasIAT && iat >= cfg.IATSoakThreshold:
		return ModeHeatSoak
	case tps <= cfg.TPSIdleCeiling && rpm > cfg.RPMIdleCeiling:
		return ModeDecel
	default:
		return ModeCruise
	}
}

// GetSteadyStateMask excludes tip-in/tip-out transient samples.
func GetSteadyStateMask(modes []ModeTag) []bool {
	mask := make([]bool, len(modes))
	for i, m := range modes {
		mask[i] = m != ModeTipIn && m != ModeTipOut
	}
	return mask
}

// GetWOTMask selects only wide-open-throttle samples.
func GetWOTMask(modes []ModeTag) []bool {
	mask := make([]bool, len(modes))
	for i, m := range modes {
		mask[i] = m == ModeWOT
	}
	return mask
}

// GetTransientMask selects tip-in and tip-out samples.
func GetTransientMask(modes []ModeTag) []bool {
	mask := make([]bool, len(modes))
	for i, m := range modes {
		mask[i] = m == ModeTipIn || m == ModeTipOut
	}
	return mask
}
