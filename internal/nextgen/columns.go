// Package nextgen implements the NextGen analysis layer: deterministic
// operating-mode labeling, reusable RPM/MAP surfaces, spark-valley
// detection, ECU-coupling-aware cause-tree diagnosis, and a prioritized
// next-test plan, all packaged into one versioned payload record.
//
// Every stage here is diagnosis, not prescription: the cause tree and test
// planner recommend what to look at or capture next, never a calibration
// change to apply.
package nextgen

import "strings"

// Frame is the minimal columnar view this package operates on, matching the
// session pipeline's own frame shape but kept as a local type so this
// package never depends on the package that consumes it.
type Frame struct {
	Columns map[string][]float64
	Rows    int
}

// channelAliases maps a canonical NextGen channel name to the alternate
// spellings it's recognized under, grounded in log_normalizer.py's
// documented CANONICAL_COLUMNS/COLUMN_ALIASES table.
var channelAliases = map[string][]string{
	"rpm":         {"engine rpm", "rpm"},
	"map_kpa":     {"map kpa", "map", "manifold pressure", "map (kpa)"},
	"tps":         {"tps", "throttle", "tps pct"},
	"iat":         {"iat", "intake air temp", "intake temp"},
	"time_ms":     {"time_ms", "time ms", "timestamp_ms"},
	"afr_meas_f":  {"afr_meas_f", "afr meas f", "afr front"},
	"afr_meas_r":  {"afr_meas_r", "afr meas r", "afr rear"},
	"afr_meas":    {"afr meas", "afr", "measured afr", "wideband afr"},
	"afr_cmd_f":   {"afr_cmd_f", "afr cmd f"},
	"afr_cmd_r":   {"afr_cmd_r", "afr cmd r"},
	"afr_error_f": {"afr_error_f", "afr error f"},
	"afr_error_r": {"afr_error_r", "afr error r"},
	"spark_f":     {"spark_f", "spark f", "spark front"},
	"spark_r":     {"spark_r", "spark r", "spark rear"},
	"knock_f":     {"knock_f", "knock f"},
	"knock_r":     {"knock_r", "knock r"},
	"knock":       {"knock"},
	"ect":         {"ect", "coolant"},
	"vbatt":       {"vbatt", "battery voltage"},
	"torque":      {"torque", "tq"},
}

// CanonicalChannels is the documented channel-presence vocabulary checked
// against every NextGen analysis input.
var CanonicalChannels = []string{
	"rpm", "map_kpa", "tps", "iat", "time_ms",
	"afr_meas_f", "afr_meas_r", "afr_meas", "afr_cmd_f", "afr_cmd_r",
	"afr_error_f", "afr_error_r",
	"spark_f", "spark_r", "knock_f", "knock_r", "knock",
	"ect", "vbatt", "torque",
}

// rawColumn looks up name against frame's columns by exact,
// case-insensitive match.
func rawColumn(frame *Frame, name string) ([]float64, bool) {
	target := strings.ToLower(strings.TrimSpace(name))
	for colName, vals := range frame.Columns {
		if strings.ToLower(strings.TrimSpace(colName)) == target {
			return vals, true
		}
	}
	return nil, false
}

// column resolves canon (a literal column name or a canonical NextGen
// channel) against frame, trying a direct name match first and falling
// back to the channel's documented aliases.
func column(frame *Frame, canon string) ([]float64, bool) {
	if vals, ok := rawColumn(frame, canon); ok {
		return vals, true
	}
	for _, alias := range channelAliases[canon] {
		if vals, ok := rawColumn(frame, alias); ok {
			return vals, true
		}
	}
	return nil, false
}

// detectChannels builds the documented inputs_present record: which
// canonical channels are available in frame, plus its row count.
func detectChannels(frame *Frame) InputsPresent {
	present := make(map[string]bool, len(CanonicalChannels))
	for _, c := range CanonicalChannels {
		_, ok := column(frame, c)
		present[c] = ok
	}
	return InputsPresent{RowCount: frame.Rows, Channels: present}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
