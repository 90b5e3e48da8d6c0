package nextgen

import (
	"fmt"
	"time"

	"github.com/sagostin/dynotune/internal/binning"
)

// Analyze runs the full NextGen pipeline against frame, grounded on
// nextgen_workflow.py's documented stage order: detect channel presence,
// label operating modes, build standard surfaces, detect spark valleys,
// build the cause tree, generate the next-test plan, and package the
// versioned payload.
func Analyze(runID string, frame *Frame, grid *binning.Grid, generatedAt time.Time) (*NextGenAnalysisPayload, error) {
	inputs := detectChannels(frame)

	labeled, err := LabelModes(frame, nil)
	if err != nil {
		return nil, fmt.Errorf("nextgen analyze: %w", err)
	}

	surfaces := BuildStandardSurfaces(frame, labeled.Modes, grid)
	valleys := DetectValleysMultiCylinder(surfaces, 2)
	causeTree := BuildCauseTree(labeled.SummaryCounts, surfaces, valleys)
	plan := GenerateTestPlan(surfaces, causeTree, labeled.SummaryCounts)

	modeSummary := make(map[string]int, len(labeled.SummaryCounts))
	for tag, count := range labeled.SummaryCounts {
		modeSummary[string(tag)] = count
	}

	return &NextGenAnalysisPayload{
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		GeneratedAt:   generatedAt.UTC().Format(time.RFC3339),
		ECUModelNotes: ECUModelNotes,
		InputsPresent: inputs,
		ModeSummary:   modeSummary,
		Surfaces:      surfaces,
		SparkValley:   valleys,
		CauseTree:     causeTree,
		NextTests:     plan.Steps,
		CoverageGaps:  plan.CoverageGaps,
	}, nil
}
