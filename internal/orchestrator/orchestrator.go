// Package orchestrator drives the closed autotune loop: simulate or
// capture a pull, analyze AFR error against the virtual ECU's belief,
// apply a bounded correction to the VE tables, and repeat until the error
// converges, oscillates, times out, or exhausts its iteration budget.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sagostin/dynotune/internal/autotune"
	"github.com/sagostin/dynotune/internal/binning"
	"github.com/sagostin/dynotune/internal/physics"
	"github.com/sagostin/dynotune/internal/vemath"
)

// Status is one of the closed-loop session's states.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusRunning       Status = "RUNNING"
	StatusConverged     Status = "CONVERGED"
	StatusFailed        Status = "FAILED"
	StatusMaxIterations Status = "MAX_ITERATIONS"
	StatusStopped       Status = "STOPPED"
)

func (s Status) terminal() bool {
	switch s {
	case StatusConverged, StatusFailed, StatusMaxIterations, StatusStopped:
		return true
	default:
		return false
	}
}

// Config parameterizes convergence, oscillation, and timeout guards. Field
// names mirror config.OrchestratorConfig; this package doesn't import
// config directly so it stays testable without a full Config tree.
type Config struct {
	MaxIterations        int
	ConvergenceThresholdAFR float64
	ConvergenceCellPct   float64
	MaxCorrectionPerIter float64
	OscillationEnabled   bool
	OscillationThreshold float64
	IterationTimeout     time.Duration
}

// IterationRecord is one completed iteration's summary, retained for the
// progress snapshot's history.
type IterationRecord struct {
	Iteration    int
	MaxAFRError  float64
	ConvergedFraction float64
	ZonesAdjusted int
	ClippedZones  int
	TookMs        int64
}

// Snapshot is an immutable copy of a Session's progress, safe to read
// without holding the session's lock — callers get a copy, never a pointer
// into live state, so a reader can never observe a struct torn mid-write.
type Snapshot struct {
	SessionID  string
	Status     Status
	Iteration  int
	MaxIterations int
	ProgressPct float64
	Message    string
	History    []IterationRecord
}

// PullSource supplies one pull's worth of samples for a given VE belief.
// In production this is satisfied by a physics.Simulator-backed adapter or
// a live KLHDV capture; tests use a deterministic fake.
type PullSource interface {
	RunPull(ctx context.Context, ecu *physics.VirtualECU) (*autotune.Frame, error)
}

// Session runs one closed-loop tuning session to completion, applying
// corrections directly onto the VE tables it was constructed with.
type Session struct {
	mu       sync.Mutex
	id       string
	cfg      Config
	grid     *binning.Grid
	targets  *vemath.AFRTargetTable
	ecu      *physics.VirtualECU
	source   PullSource

	status    Status
	iteration int
	history   []IterationRecord
	message   string
}

// New constructs a session bound to a live VirtualECU — corrections are
// applied in place onto both its VEFront and VERear tables as iterations
// complete.
func New(id string, cfg Config, grid *binning.Grid, targets *vemath.AFRTargetTable, ecu *physics.VirtualECU, source PullSource) *Session {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.IterationTimeout <= 0 {
		cfg.IterationTimeout = 60 * time.Second
	}
	return &Session{id: id, cfg: cfg, grid: grid, targets: targets, ecu: ecu, source: source, status: StatusInitializing}
}

// Snapshot returns an immutable copy of current progress.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := make([]IterationRecord, len(s.history))
	copy(hist, s.history)
	pct := 0.0
	if s.cfg.MaxIterations > 0 {
		pct = float64(s.iteration) / float64(s.cfg.MaxIterations) * 100
		if pct > 100 {
			pct = 100
		}
	}
	return Snapshot{
		SessionID: s.id, Status: s.status, Iteration: s.iteration,
		MaxIterations: s.cfg.MaxIterations, ProgressPct: pct,
		Message: s.message, History: hist,
	}
}

func (s *Session) setStatus(st Status, msg string) {
	s.mu.Lock()
	s.status = st
	s.message = msg
	s.mu.Unlock()
}

// Stop requests the loop end at the next iteration boundary with status
// STOPPED. Safe to call concurrently from any goroutine.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.status.terminal() {
		s.status = StatusStopped
	}
	s.mu.Unlock()
}

// Run executes the closed loop until convergence, oscillation, timeout,
// max-iterations, explicit Stop, or ctx cancellation, returning the final
// status.
func (s *Session) Run(ctx context.Context) Status {
	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return StatusStopped
	}
	s.mu.Unlock()
	s.setStatus(StatusRunning, "starting")

	var recentMaxErrors []float64

	for {
		s.mu.Lock()
		if s.status == StatusStopped {
			s.mu.Unlock()
			return StatusStopped
		}
		iter := s.iteration + 1
		s.mu.Unlock()

		if iter > s.cfg.MaxIterations {
			s.setStatus(StatusMaxIterations, fmt.Sprintf("reached max iterations (%d)", s.cfg.MaxIterations))
			return StatusMaxIterations
		}

		iterCtx, cancel := context.WithTimeout(ctx, s.cfg.IterationTimeout)
		record, maxErr, converged, convergedFrac, err := s.runIteration(iterCtx, iter)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				s.setStatus(StatusFailed, fmt.Sprintf("cancelled: %v", ctx.Err()))
				return StatusFailed
			}
			s.setStatus(StatusFailed, fmt.Sprintf("iteration %d failed: %v", iter, err))
			return StatusFailed
		}

		s.mu.Lock()
		s.iteration = iter
		record.ConvergedFraction = convergedFrac
		s.history = append(s.history, record)
		s.mu.Unlock()

		if converged {
			s.setStatus(StatusConverged, fmt.Sprintf("converged after %d iterations (max AFR error %.3f)", iter, maxErr))
			return StatusConverged
		}

		if s.cfg.OscillationEnabled {
			recentMaxErrors = append(recentMaxErrors, maxErr)
			if oscillating(recentMaxErrors, s.cfg.OscillationThreshold) {
				s.setStatus(StatusFailed, "oscillation detected: max AFR error increased 3 iterations in a row")
				return StatusFailed
			}
		}

		s.setStatus(StatusRunning, fmt.Sprintf("iteration %d: max AFR error %.3f", iter, maxErr))
	}
}

// oscillating reports whether the last 3 entries in errs are strictly
// increasing and the increase from the first to the last exceeds
// threshold — the documented oscillation guard.
func oscillating(errs []float64, threshold float64) bool {
	n := len(errs)
	if n < 3 {
		return false
	}
	a, b, c := errs[n-3], errs[n-2], errs[n-1]
	return b > a && c > b && (c-a) > threshold
}

// runIteration captures one pull via the session's PullSource, analyzes AFR
// error against the grid, applies a clamped correction onto the ECU's
// VEFront and VERear tables, and reports the iteration's convergence picture.
func (s *Session) runIteration(ctx context.Context, iter int) (IterationRecord, float64, bool, float64, error) {
	start := time.Now()

	s.mu.Lock()
	ecu := s.ecu
	s.mu.Unlock()

	frame, err := s.source.RunPull(ctx, ecu)
	if err != nil {
		return IterationRecord{}, 0, false, 0, fmt.Errorf("run pull: %w", err)
	}

	sess := autotune.CreateSession(autotune.SourceSimulation)
	if err := sess.ImportDataFrame(frame); err != nil {
		return IterationRecord{}, 0, false, 0, err
	}
	if err := sess.AnalyzeAFR(s.grid, s.targets, vemath.VersionV2, 3); err != nil {
		return IterationRecord{}, 0, false, 0, err
	}
	if err := sess.CalculateCorrections(s.cfg.MaxCorrectionPerIter); err != nil {
		return IterationRecord{}, 0, false, 0, err
	}

	nx, ny := s.grid.Shape()
	maxErr := 0.0
	covered, withinThreshold := 0, 0
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			if !sess.Analysis.Present[i][j] {
				continue
			}
			covered++
			e := sess.Analysis.AFRError[i][j]
			if abs(e) > maxErr {
				maxErr = abs(e)
			}
			if abs(e) <= s.cfg.ConvergenceThresholdAFR {
				withinThreshold++
			}
		}
	}

	s.mu.Lock()
	applyCorrections(s.ecu.VEFront, sess.Correction)
	applyCorrections(s.ecu.VERear, sess.Correction)
	s.mu.Unlock()

	convergedFrac := 0.0
	if covered > 0 {
		convergedFrac = float64(withinThreshold) / float64(covered)
	}
	converged := maxErr < s.cfg.ConvergenceThresholdAFR && convergedFrac >= s.cfg.ConvergenceCellPct

	record := IterationRecord{
		Iteration: iter, MaxAFRError: maxErr,
		ZonesAdjusted: sess.Correction.ZonesAdjusted, ClippedZones: sess.Correction.ClippedZones,
		TookMs: time.Since(start).Milliseconds(),
	}
	return record, maxErr, converged, convergedFrac, nil
}

// applyCorrections multiplies each present correction cell onto table,
// clamping the result to the documented VE range. Cells with no correction
// (never covered this iteration) are left untouched. The same correction
// matrix is applied to both VE banks independently; each bank accumulates
// its own multiplicative history across iterations.
func applyCorrections(table *physics.Table, result *autotune.VECorrectionResult) {
	for i := range result.CorrectionTable {
		for j := range result.CorrectionTable[i] {
			if !result.Present[i][j] {
				continue
			}
			v := table.Values[i][j] * result.CorrectionTable[i][j]
			table.Values[i][j] = clampVE(v)
		}
	}
}

const (
	veMin = 0.3
	veMax = 1.5
)

func clampVE(v float64) float64 {
	if v < veMin {
		return veMin
	}
	if v > veMax {
		return veMax
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
