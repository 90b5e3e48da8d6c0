package nextgen

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SchemaVersion is the stable version tag for the NextGen analysis payload.
// Consumers must reject any payload whose version doesn't match rather than
// duck-typing the document.
const SchemaVersion = "dynoai.nextgen@1"

// ECUModelNotes documents the coupling assumptions a consumer should hold
// before acting on any hypothesis in the payload.
const ECUModelNotes = "VE is a correction layer over the physics model; closed-loop operation can mask residual VE error. Spark is base timing plus modifiers, and knock retard always holds final authority regardless of table commands."

// ErrUnknownSchemaVersion is returned by DecodePayload when a document's
// schema_version doesn't match SchemaVersion.
var ErrUnknownSchemaVersion = errors.New("nextgen: unknown schema version")

// InputsPresent reports which canonical NextGen channels were found in the
// source frame, plus its row count.
type InputsPresent struct {
	RowCount int
	Channels map[string]bool
}

// MarshalJSON flattens InputsPresent into one object: row_count alongside
// each channel's presence flag.
func (ip InputsPresent) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(ip.Channels)+1)
	m["row_count"] = ip.RowCount
	for k, v := range ip.Channels {
		m[k] = v
	}
	return json.Marshal(m)
}

// UnmarshalJSON recovers row_count and treats every other boolean field as
// a channel flag.
func (ip *InputsPresent) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	ip.Channels = make(map[string]bool, len(m))
	for k, v := range m {
		if k == "row_count" {
			if f, ok := v.(float64); ok {
				ip.RowCount = int(f)
			}
			continue
		}
		if b, ok := v.(bool); ok {
			ip.Channels[k] = b
		}
	}
	return nil
}

// NextGenAnalysisPayload is the versioned, closed-record JSON document every
// NextGen analysis run produces — the single source of truth for anything
// downstream of a run (UI, narration layers, training collectors).
type NextGenAnalysisPayload struct {
	SchemaVersion string                `json:"schema_version"`
	RunID         string                `json:"run_id"`
	GeneratedAt   string                `json:"generated_at"`
	ECUModelNotes string                `json:"ecu_model_notes"`
	InputsPresent InputsPresent         `json:"inputs_present"`
	ModeSummary   map[string]int        `json:"mode_summary"`
	Surfaces      map[string]*Surface2D `json:"surfaces"`
	SparkValley   []SparkValleyFinding  `json:"spark_valley"`
	CauseTree     *CauseTreeResult      `json:"cause_tree"`
	NextTests     []TestStep            `json:"next_tests"`
	CoverageGaps  []CoverageGap         `json:"coverage_gaps"`
}

// DecodePayload parses data as a NextGenAnalysisPayload, rejecting any
// document whose schema_version doesn't match SchemaVersion rather than
// guessing at an unfamiliar shape.
func DecodePayload(data []byte) (*NextGenAnalysisPayload, error) {
	var probe struct {
		SchemaVersion string `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("nextgen: decode schema probe: %w", err)
	}
	if probe.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrUnknownSchemaVersion, probe.SchemaVersion, SchemaVersion)
	}
	var payload NextGenAnalysisPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("nextgen: decode payload: %w", err)
	}
	return &payload, nil
}
