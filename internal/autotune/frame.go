// Package autotune implements the stateful ingest -> analyze -> correct ->
// export pipeline that drives a tuning session from raw dyno samples to an
// exported VE correction table.
package autotune

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Frame is a minimal columnar dataset, standing in for a DataFrame-style
// import path with no dependency on a dataframe library.
type Frame struct {
	Columns map[string][]float64
	Rows    int
}

// canonicalAliases maps many real-world column spellings to the canonical
// names this package operates on. Matching is case-insensitive.
var canonicalAliases = map[string]string{
	"rpm": "Engine RPM", "engine rpm": "Engine RPM", "enginerpm": "Engine RPM",

	"map": "MAP kPa", "map kpa": "MAP kPa", "manifold pressure": "MAP kPa",
	"map (kpa)": "MAP kPa",

	"afr": "AFR Meas", "afr meas": "AFR Meas", "measured afr": "AFR Meas",
	"wideband afr": "AFR Meas", "afr measured": "AFR Meas",

	"horsepower": "Horsepower", "hp": "Horsepower", "power": "Horsepower",

	"torque": "Torque", "tq": "Torque",
}

// NormalizeColumns renames df's columns to canonical names via the
// case-insensitive alias table, leaving unrecognized columns untouched.
func NormalizeColumns(df *Frame) *Frame {
	out := &Frame{Columns: make(map[string][]float64, len(df.Columns)), Rows: df.Rows}
	for name, vals := range df.Columns {
		canon, ok := canonicalAliases[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			canon = name
		}
		out.Columns[canon] = vals
	}
	return out
}

// EstimateMAPFromRPM recovers a plausible MAP (kPa) when the log has no MAP
// column, using the documented piecewise function: idle-ish MAP at low RPM,
// rising through the mid-range, capped near wide-open-throttle pressure.
func EstimateMAPFromRPM(rpm float64) float64 {
	switch {
	case rpm <= 1500:
		return 30
	case rpm <= 3000:
		return 30 + (rpm-1500)/1500*20
	case rpm <= 5000:
		return 50 + (rpm-3000)/2000*30
	default:
		v := 80 + (rpm-5000)/2000*20
		if v > 100 {
			return 100
		}
		return v
	}
}

// ImportCSV parses a generic CSV with a header row into a normalized Frame.
// Non-numeric cells are recorded as NaN-free zero and do not abort the
// import; the workflow only fails at analysis time if mandatory columns
// are absent.
func ImportCSV(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string][]float64, len(header))
	for _, h := range header {
		cols[h] = nil
	}

	rows := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", rows, err)
		}
		for i, h := range header {
			if i >= len(rec) {
				cols[h] = append(cols[h], 0)
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				v = 0
			}
			cols[h] = append(cols[h], v)
		}
		rows++
	}
	return NormalizeColumns(&Frame{Columns: cols, Rows: rows}), nil
}

// ImportJetDriveCSV parses a JetDrive capture and synthesizes MAP from RPM
// when the capture has no MAP column.
func ImportJetDriveCSV(path string) (*Frame, error) {
	df, err := ImportCSV(path)
	if err != nil {
		return nil, err
	}
	synthesizeMAPIfAbsent(df)
	return df, nil
}

// ImportDataFrame normalizes an already-columnar Frame (e.g. built
// in-process by a caller) and synthesizes MAP if absent.
func ImportDataFrame(df *Frame) *Frame {
	normalized := NormalizeColumns(df)
	synthesizeMAPIfAbsent(normalized)
	return normalized
}

func synthesizeMAPIfAbsent(df *Frame) {
	if _, ok := df.Columns["MAP kPa"]; ok {
		return
	}
	rpm, ok := df.Columns["Engine RPM"]
	if !ok {
		return
	}
	mapCol := make([]float64, len(rpm))
	for i, r := range rpm {
		mapCol[i] = EstimateMAPFromRPM(r)
	}
	df.Columns["MAP kPa"] = mapCol
}

// ExtractPeak finds the maximum value of whichever column's header matches
// preferredTerms (checked first, in order) or fallbackTerms, by
// case-insensitive substring match. Returns (0, false) if no column matches.
func ExtractPeak(df *Frame, preferredTerms, fallbackTerms []string) (float64, bool) {
	col, ok := findColumnByTerms(df, preferredTerms)
	if !ok {
		col, ok = findColumnByTerms(df, fallbackTerms)
	}
	if !ok {
		return 0, false
	}
	peak := 0.0
	found := false
	for _, v := range col {
		if !found || v > peak {
			peak = v
			found = true
		}
	}
	return peak, found
}

func findColumnByTerms(df *Frame, terms []string) ([]float64, bool) {
	for _, term := range terms {
		lt := strings.ToLower(term)
		for name, vals := range df.Columns {
			if strings.Contains(strings.ToLower(name), lt) {
				return vals, true
			}
		}
	}
	return nil, false
}
