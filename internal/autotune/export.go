package autotune

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/sagostin/dynotune/internal/nextgen"
)

// ManifestOutputs records the relative paths of every file export_all wrote,
// laid out per the documented session directory: input/, output/, and
// snapshots/ beneath the run directory, with NextGenAnalysis.json at the
// run root alongside manifest.json.
type ManifestOutputs struct {
	InputCSV         string `json:"input_csv"`
	VECorrectionsCSV string `json:"ve_corrections_csv"`
	AFRErrorCSV      string `json:"afr_error_csv"`
	HitCountCSV      string `json:"hit_count_csv"`
	PVVXML           string `json:"pvv_xml"`
	TuneLabScript    string `json:"tunelab_script"`
	NextGenAnalysis  string `json:"nextgen_analysis_json"`
	SnapshotsDir     string `json:"snapshots_dir"`
}

// ManifestAnalysis is the analysis summary embedded in manifest.json.
type ManifestAnalysis struct {
	ZonesLean    int     `json:"zones_lean"`
	ZonesRich    int     `json:"zones_rich"`
	ZonesOK      int     `json:"zones_ok"`
	ZonesNoData  int     `json:"zones_no_data"`
	MeanErrorPct float64 `json:"mean_error_pct"`
	MaxLeanPct   float64 `json:"max_lean_pct"`
	MaxRichPct   float64 `json:"max_rich_pct"`
	PeakHP       float64 `json:"peak_hp"`
	PeakTQ       float64 `json:"peak_tq"`
}

// ManifestCorrections is the correction summary embedded in manifest.json.
type ManifestCorrections struct {
	ZonesAdjusted    int     `json:"zones_adjusted"`
	ClippedZones     int     `json:"clipped_zones"`
	MaxCorrectionPct float64 `json:"max_correction_pct"`
	MinCorrectionPct float64 `json:"min_correction_pct"`
}

// ManifestGrid carries the axes and the correction matrix; the matrix holds
// 0 where a cell has no correction because it was never covered by samples.
type ManifestGrid struct {
	RPMBins       []float64   `json:"rpm_bins"`
	MAPBins       []float64   `json:"map_bins"`
	VECorrection  [][]float64 `json:"ve_correction"`
}

// Manifest is the exact run-summary document written to manifest.json.
type Manifest struct {
	RunID       string               `json:"run_id"`
	Status      string               `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
	DataSource  DataSource           `json:"data_source"`
	LogFile     string               `json:"log_file,omitempty"`
	Errors      []string             `json:"errors"`
	Analysis    ManifestAnalysis     `json:"analysis"`
	Corrections ManifestCorrections `json:"ve_corrections"`
	Grid        ManifestGrid         `json:"grid"`
	Outputs     ManifestOutputs      `json:"outputs"`
}

// ExportAll writes every documented export artifact beneath dir, laid out as
// input/ (the imported log), output/ (the correction and analysis CSVs plus
// the PVV/TuneLab exports), snapshots/ (reserved for session snapshot
// captures), and NextGenAnalysis.json at the run root. Every file use
// write-temp-then-rename so a reader never observes a partially written
// file.
func (s *Session) ExportAll(dir string) (*Manifest, error) {
	if s.State != StateCorrectionsCalc {
		return nil, s.fail("export_all: invalid state %s", s.State)
	}

	inputDir := filepath.Join(dir, "input")
	outputDir := filepath.Join(dir, "output")
	snapshotsDir := filepath.Join(dir, "snapshots")
	for _, d := range []string{inputDir, outputDir, snapshotsDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, s.fail("export_all: mkdir %s: %v", d, err)
		}
	}

	outputs := ManifestOutputs{
		InputCSV:         "input/dynoai_input.csv",
		VECorrectionsCSV: "output/VE_Corrections_2D.csv",
		AFRErrorCSV:      "output/AFR_Error_2D.csv",
		HitCountCSV:      "output/Hit_Count_2D.csv",
		PVVXML:           "output/tune.pvv.xml",
		TuneLabScript:    "output/tune.tlscript",
		NextGenAnalysis:  "NextGenAnalysis.json",
		SnapshotsDir:     "snapshots",
	}

	if err := writeFrameCSV(filepath.Join(dir, outputs.InputCSV), s.Frame); err != nil {
		return nil, s.fail("export_all: %v", err)
	}
	if err := writeMatrixCSV(filepath.Join(dir, outputs.VECorrectionsCSV), s.Correction.Grid, s.Correction.CorrectionTable, s.Correction.Present, "%.4f"); err != nil {
		return nil, s.fail("export_all: %v", err)
	}
	if err := writeMatrixCSV(filepath.Join(dir, outputs.AFRErrorCSV), s.Analysis.Grid, s.Analysis.AFRError, s.Analysis.Present, "%.3f"); err != nil {
		return nil, s.fail("export_all: %v", err)
	}
	if err := writeHitCountCSV(filepath.Join(dir, outputs.HitCountCSV), s.Analysis.Grid, s.Analysis.HitCount); err != nil {
		return nil, s.fail("export_all: %v", err)
	}
	if err := writePVVXML(filepath.Join(dir, outputs.PVVXML), s); err != nil {
		return nil, s.fail("export_all: %v", err)
	}
	if err := writeTuneLabScript(filepath.Join(dir, outputs.TuneLabScript), s); err != nil {
		return nil, s.fail("export_all: %v", err)
	}
	if err := writeNextGenAnalysis(filepath.Join(dir, outputs.NextGenAnalysis), s); err != nil {
		return nil, s.fail("export_all: %v", err)
	}

	manifest := &Manifest{
		RunID: s.ID, Status: string(StateExported), CreatedAt: s.CreatedAt,
		DataSource: s.Source, Errors: s.Errors,
		Analysis: ManifestAnalysis{
			ZonesLean: s.Analysis.ZonesLean, ZonesRich: s.Analysis.ZonesRich,
			ZonesOK: s.Analysis.ZonesOK, ZonesNoData: s.Analysis.ZonesNoData,
			MeanErrorPct: s.Analysis.MeanErrorPct, MaxLeanPct: s.Analysis.MaxLeanPct,
			MaxRichPct: s.Analysis.MaxRichPct, PeakHP: s.PeakHP, PeakTQ: s.PeakTQ,
		},
		Corrections: ManifestCorrections{
			ZonesAdjusted: s.Correction.ZonesAdjusted, ClippedZones: s.Correction.ClippedZones,
			MaxCorrectionPct: s.Correction.MaxCorrectionPct, MinCorrectionPct: s.Correction.MinCorrectionPct,
		},
		Grid: ManifestGrid{
			RPMBins: s.Correction.Grid.XBins, MAPBins: s.Correction.Grid.YBins,
			VECorrection: s.Correction.CorrectionTable,
		},
		Outputs: outputs,
	}

	if err := writeJSONAtomic(filepath.Join(dir, "manifest.json"), manifest); err != nil {
		return nil, s.fail("export_all: %v", err)
	}

	s.State = StateExported
	return manifest, nil
}

func writeTempThenRename(path string, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-export-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s -> %s: %w", tmpPath, path, err)
	}
	return nil
}

func writeMatrixCSV(path string, grid interface{ Shape() (int, int) }, values [][]float64, present [][]bool, format string) error {
	return writeTempThenRename(path, func(f *os.File) error {
		w := csv.NewWriter(f)
		nx, ny := grid.Shape()
		header := make([]string, ny+1)
		header[0] = "rpm\\map"
		for j := 0; j < ny; j++ {
			header[j+1] = strconv.Itoa(j)
		}
		if err := w.Write(header); err != nil {
			return err
		}
		for i := 0; i < nx; i++ {
			row := make([]string, ny+1)
			row[0] = strconv.Itoa(i)
			for j := 0; j < ny; j++ {
				if i < len(present) && j < len(present[i]) && present[i][j] {
					row[j+1] = fmt.Sprintf(format, values[i][j])
				} else {
					row[j+1] = ""
				}
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
}

// writeFrameCSV dumps frame's columns to path, columns in stable sorted
// order so the file is reproducible across runs.
func writeFrameCSV(path string, frame *Frame) error {
	names := make([]string, 0, len(frame.Columns))
	for name := range frame.Columns {
		names = append(names, name)
	}
	sort.Strings(names)

	return writeTempThenRename(path, func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.Write(names); err != nil {
			return err
		}
		for i := 0; i < frame.Rows; i++ {
			row := make([]string, len(names))
			for j, name := range names {
				col := frame.Columns[name]
				if i < len(col) {
					row[j] = strconv.FormatFloat(col[i], 'f', -1, 64)
				}
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
}

// writeNextGenAnalysis runs the NextGen analysis pipeline over s.Frame and
// writes its versioned payload to path.
func writeNextGenAnalysis(path string, s *Session) error {
	frame := &nextgen.Frame{Columns: s.Frame.Columns, Rows: s.Frame.Rows}
	payload, err := nextgen.Analyze(s.ID, frame, s.Correction.Grid, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("nextgen analysis: %w", err)
	}
	return writeJSONAtomic(path, payload)
}

func writeHitCountCSV(path string, grid interface{ Shape() (int, int) }, hits [][]int) error {
	return writeTempThenRename(path, func(f *os.File) error {
		w := csv.NewWriter(f)
		nx, ny := grid.Shape()
		for i := 0; i < nx; i++ {
			row := make([]string, ny)
			for j := 0; j < ny; j++ {
				row[j] = strconv.Itoa(hits[i][j])
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
}

// pvvTable is the XML shape of a single 2D axis+values table inside the PVV
// export, keyed by name with explicit units per axis.
type pvvTable struct {
	XMLName xml.Name `xml:"Table"`
	Name    string   `xml:"name,attr"`
	Unit    string   `xml:"unit,attr"`
	XAxis   string   `xml:"XAxis"`
	YAxis   string   `xml:"YAxis"`
	Rows    []pvvRow `xml:"Row"`
}

type pvvRow struct {
	Cells string `xml:",chardata"`
}

type pvvDocument struct {
	XMLName xml.Name   `xml:"PowerVisionTune"`
	RunID   string     `xml:"runId,attr"`
	Tables  []pvvTable `xml:"Table"`
}

func formatAxis(vals []float64) string {
	s := ""
	for i, v := range vals {
		if i > 0 {
			s += ","
		}
		s += strconv.FormatFloat(v, 'f', 1, 64)
	}
	return s
}

func writePVVXML(path string, s *Session) error {
	nx, ny := s.Correction.Grid.Shape()
	rows := make([]pvvRow, nx)
	for i := 0; i < nx; i++ {
		row := ""
		for j := 0; j < ny; j++ {
			if j > 0 {
				row += ","
			}
			row += strconv.FormatFloat(s.Correction.CorrectionTable[i][j], 'f', 4, 64)
		}
		rows[i] = pvvRow{Cells: row}
	}
	doc := pvvDocument{
		RunID: s.ID,
		Tables: []pvvTable{{
			Name: "VE Correction", Unit: "multiplier",
			XAxis: formatAxis(s.Correction.Grid.YBins),
			YAxis: formatAxis(s.Correction.Grid.XBins),
			Rows:  rows,
		}},
	}
	return writeTempThenRename(path, func(f *os.File) error {
		enc := xml.NewEncoder(f)
		enc.Indent("", "  ")
		if _, err := f.WriteString(xml.Header); err != nil {
			return err
		}
		return enc.Encode(doc)
	})
}

// Constants surfaced in the TuneLab script export, matching the documented
// external scripting host contract.
const (
	tuneLabCorrectionTableName = "VE Correction"
	tuneLabAFRChannelName      = "AFR Meas"
	tuneLabSmoothingConstant   = 0.20
	tuneLabAFRClipLow          = 10.0
	tuneLabAFRClipHigh         = 18.0
)

// tuneLabTemplate is the placeholder-driven script body TuneLab's scripting
// console accepts: correction table name, AFR channel name, smoothing
// constant, and AFR clip bounds, in that order.
const tuneLabTemplate = `// generated autotune export
// correction table: %s
// afr channel: %s
// smoothing constant: %.2f
// afr clip bounds: %.1f .. %.1f
for each cell in VE_TABLE:
    apply_multiplier(cell, correction_table[cell.rpm_bin][cell.map_bin])
end
`

func writeTuneLabScript(path string, s *Session) error {
	body := fmt.Sprintf(tuneLabTemplate, tuneLabCorrectionTableName, tuneLabAFRChannelName,
		tuneLabSmoothingConstant, tuneLabAFRClipLow, tuneLabAFRClipHigh)
	return writeTempThenRename(path, func(f *os.File) error {
		_, err := f.WriteString(body)
		return err
	})
}

func writeJSONAtomic(path string, v interface{}) error {
	return writeTempThenRename(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}
