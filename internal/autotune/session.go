package autotune

import (
	"fmt"
	"time"

	"github.com/rs/xid"
)

// State is one of the session's monotone-forward states (or the terminal
// error state, reachable from any step).
type State string

const (
	StateInitialized          State = "initialized"
	StateLogImported          State = "log_imported"
	StateAFRAnalyzed          State = "afr_analyzed"
	StateCorrectionsCalc      State = "corrections_calculated"
	StateExported             State = "exported"
	StateError                State = "error"
)

// DataSource tags where a session's samples came from.
type DataSource string

const (
	SourcePowerVision DataSource = "power_vision"
	SourceJetDrive    DataSource = "jetdrive"
	SourceCSV         DataSource = "csv"
	SourceSimulation  DataSource = "simulation"
)

// MinHitsForZone is the documented minimum hit count for a cell to be
// classified into a zone rather than reported as no-data.
const MinHitsForZone = 3

// ZoneThreshold is the documented AFR-error-in-points boundary between
// lean/rich and OK.
const ZoneThreshold = 0.3

// Session is a single autotune run: one source log through to an exported
// correction table. The autotune workflow is single-threaded per session;
// concurrent sessions never share mutable state.
type Session struct {
	ID        string
	Source    DataSource
	CreatedAt time.Time
	State     State
	Errors    []string

	Frame      *Frame
	Analysis   *AFRAnalysisResult
	Correction *VECorrectionResult

	PeakHP float64
	PeakTQ float64
}

// CreateSession allocates a new session in the initialized state.
func CreateSession(source DataSource) *Session {
	return &Session{
		ID:        xid.New().String(),
		Source:    source,
		CreatedAt: time.Now(),
		State:     StateInitialized,
	}
}

func (s *Session) fail(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	s.Errors = append(s.Errors, msg)
	s.State = StateError
	return fmt.Errorf("%s", msg)
}

// ImportLog parses a Power-Vision CSV export into the session's frame.
func (s *Session) ImportLog(path string) error {
	if s.State != StateInitialized {
		return s.fail("import_log: invalid state %s", s.State)
	}
	df, err := ImportCSV(path)
	if err != nil {
		return s.fail("import_log: %v", err)
	}
	s.Source = SourcePowerVision
	s.Frame = df
	s.State = StateLogImported
	return nil
}

// ImportJetDriveCSV parses a JetDrive capture, synthesizing MAP if absent.
func (s *Session) ImportJetDriveCSV(path string) error {
	if s.State != StateInitialized {
		return s.fail("import_jetdrive_csv: invalid state %s", s.State)
	}
	df, err := ImportJetDriveCSV(path)
	if err != nil {
		return s.fail("import_jetdrive_csv: %v", err)
	}
	s.Source = SourceJetDrive
	s.Frame = df
	s.State = StateLogImported
	return nil
}

// ImportDataFrame normalizes an in-process Frame and stores it on the
// session.
func (s *Session) ImportDataFrame(df *Frame) error {
	if s.State != StateInitialized {
		return s.fail("import_dataframe: invalid state %s", s.State)
	}
	s.Frame = ImportDataFrame(df)
	s.State = StateLogImported
	return nil
}
