// Package report reads and writes the CSV artefacts of an evaluation run.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"octbench/internal/analysis"
	"octbench/internal/dataset"
)

// Output layout inside an experiment's results directory.
const (
	RawDir           = "Raw_CSVs"
	PlotDir          = "Plots"
	CorrelationDir   = "Correlations"
	SummaryFile      = "Summary_Stats.csv"
	CorrelationFile  = "Metric_Correlations.csv"
	SignificanceFile = "Significance_Levels.csv"
	PairReportFile   = "Final_Metrics_Report.csv"
)

// SummaryHeader is the column layout of Summary_Stats.csv.
var SummaryHeader = []string{"Map", "Comparison", "Type", "Metric", "Mean", "P_2_5", "P_97_5", "Diagnostic_Power"}

// RawRow is one evaluated pair in a raw CSV.
type RawRow struct {
	File1, File2 string
	Values       map[string]float64
}

// SummaryRow is one line of Summary_Stats.csv.
type SummaryRow struct {
	Map             string
	Comparison      string
	Class           dataset.Class
	Metric          string
	Summary         analysis.Summary
	DiagnosticPower bool
}

// Correlation is the Pearson correlation of two metrics over all pairs of a map type.
type Correlation struct {
	Map     string
	Metric1 string
	Metric2 string
	Pearson float64
	N       int
}

// SignificanceRow is one map/metric line of the publication table.
type SignificanceRow struct {
	Map    string
	Metric string
	Intra  analysis.Summary
	Inter  analysis.Summary
	Tier   analysis.Tier
}

// RawPath returns Raw_CSVs/<Map>_<Tag>.csv under dir.
func RawPath(dir, mapType, tag string) string {
	return filepath.Join(dir, RawDir, mapType+"_"+tag+".csv")
}

// FormatFloat renders v the way the downstream plotting tools expect:
// NaN as an empty cell and infinities as inf/-inf.
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return ""
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	abs := math.Abs(v)
	if abs == 0 || (abs >= 1e-4 && abs < 1e16) {
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseFloat is the inverse of FormatFloat; empty and "nan" cells are NaN.
func ParseFloat(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan":
		return math.NaN(), nil
	case "inf", "+inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// WriteRaw writes File1,File2 and one column per metric.
func WriteRaw(path string, metrics []string, rows []RawRow) error {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, append([]string{"File1", "File2"}, metrics...))
	for _, r := range rows {
		rec := []string{r.File1, r.File2}
		for _, m := range metrics {
			v, ok := r.Values[m]
			if !ok {
				v = math.NaN()
			}
			rec = append(rec, FormatFloat(v))
		}
		records = append(records, rec)
	}
	return writeAll(path, records)
}

// WriteSummary writes Summary_Stats.csv.
func WriteSummary(path string, rows []SummaryRow) error {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, SummaryHeader)
	for _, r := range rows {
		records = append(records, []string{
			r.Map,
			r.Comparison,
			string(r.Class),
			r.Metric,
			FormatFloat(r.Summary.Mean),
			FormatFloat(r.Summary.P2_5),
			FormatFloat(r.Summary.P97_5),
			formatBool(r.DiagnosticPower),
		})
	}
	return writeAll(path, records)
}

// ReadSummary parses a Summary_Stats.csv file.
func ReadSummary(path string) ([]SummaryRow, error) {
	records, err := readAll(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: empty file", filepath.Base(path))
	}
	idx := columnIndex(records[0])
	for _, col := range SummaryHeader {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%s: missing column %s", filepath.Base(path), col)
		}
	}

	rows := make([]SummaryRow, 0, len(records)-1)
	for line, rec := range records[1:] {
		if len(rec) < len(records[0]) {
			return nil, fmt.Errorf("%s line %d: expected %d fields, got %d", filepath.Base(path), line+2, len(records[0]), len(rec))
		}
		row := SummaryRow{
			Map:        rec[idx["Map"]],
			Comparison: rec[idx["Comparison"]],
			Class:      dataset.Class(rec[idx["Type"]]),
			Metric:     rec[idx["Metric"]],
		}
		var perr error
		parse := func(col string) float64 {
			v, err := ParseFloat(rec[idx[col]])
			if err != nil && perr == nil {
				perr = fmt.Errorf("line %d column %s: %w", line+2, col, err)
			}
			return v
		}
		row.Summary.Mean = parse("Mean")
		row.Summary.P2_5 = parse("P_2_5")
		row.Summary.P97_5 = parse("P_97_5")
		if perr != nil {
			return nil, perr
		}
		row.DiagnosticPower, err = strconv.ParseBool(rec[idx["Diagnostic_Power"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: diagnostic power: %w", line+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteCorrelations writes the metric correlation table.
func WriteCorrelations(path string, rows []Correlation) error {
	records := [][]string{{"Map", "Metric1", "Metric2", "Pearson", "N"}}
	for _, r := range rows {
		records = append(records, []string{r.Map, r.Metric1, r.Metric2, FormatFloat(r.Pearson), strconv.Itoa(r.N)})
	}
	return writeAll(path, records)
}

// WriteSignificance writes the intra/inter statistics behind each star label.
func WriteSignificance(path string, rows []SignificanceRow) error {
	records := [][]string{{
		"Map", "Metric",
		"Intra_Mean", "Intra_P_2_5", "Intra_P_97_5", "Intra_Std",
		"Inter_Mean", "Inter_P_2_5", "Inter_P_97_5", "Inter_Std",
		"Stars",
	}}
	for _, r := range rows {
		records = append(records, []string{
			r.Map, r.Metric,
			FormatFloat(r.Intra.Mean), FormatFloat(r.Intra.P2_5), FormatFloat(r.Intra.P97_5), FormatFloat(r.Intra.Std),
			FormatFloat(r.Inter.Mean), FormatFloat(r.Inter.P2_5), FormatFloat(r.Inter.P97_5), FormatFloat(r.Inter.Std),
			r.Tier.Stars(),
		})
	}
	return writeAll(path, records)
}

// PairRow is one map type of a single-pair comparison.
type PairRow struct {
	Experiment string
	Map        string
	Values     map[string]float64
}

// AppendPairReport adds rows to the single-pair report at path, writing the
// Experiment,Map_Type,<metric...> header when the file is new. An existing
// file must have the same columns.
func AppendPairReport(path string, metrics []string, rows []PairRow) error {
	header := append([]string{"Experiment", "Map_Type"}, metrics...)
	var records [][]string
	if exists(path) {
		existing, err := readAll(path)
		if err != nil {
			return err
		}
		if len(existing) > 0 && strings.Join(existing[0], ",") != strings.Join(header, ",") {
			return fmt.Errorf("%s: columns %v do not match %v", filepath.Base(path), existing[0], header)
		}
		records = existing
	}
	if len(records) == 0 {
		records = append(records, header)
	}
	for _, r := range rows {
		rec := []string{r.Experiment, r.Map}
		for _, m := range metrics {
			v, ok := r.Values[m]
			if !ok {
				v = math.NaN()
			}
			rec = append(rec, FormatFloat(v))
		}
		records = append(records, rec)
	}
	return writeAll(path, records)
}

// ReadMetricColumns loads a raw CSV into metric → values, dropping empty and
// NaN cells. File1/File2 columns are skipped.
func ReadMetricColumns(path string) (map[string][]float64, error) {
	records, err := readAll(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: empty file", filepath.Base(path))
	}
	header := records[0]
	cols := make(map[string][]float64)
	for _, rec := range records[1:] {
		for i, name := range header {
			if name == "File1" || name == "File2" || i >= len(rec) {
				continue
			}
			v, err := ParseFloat(rec[i])
			if err != nil {
				return nil, fmt.Errorf("%s column %s: %w", filepath.Base(path), name, err)
			}
			if math.IsNaN(v) {
				continue
			}
			cols[name] = append(cols[name], v)
		}
	}
	return cols, nil
}

// FindIntra locates <Map>_Intra_<baseline>.csv in dir.
func FindIntra(dir, mapType, baseline string) (string, bool) {
	p := filepath.Join(dir, fmt.Sprintf("%s_Intra_%s.csv", mapType, baseline))
	return p, exists(p)
}

// FindCross locates the cross comparison of baseline and target in either order.
func FindCross(dir, mapType, baseline, target string) (string, bool) {
	for _, name := range []string{
		fmt.Sprintf("%s_Cross_%s_vs_%s.csv", mapType, baseline, target),
		fmt.Sprintf("%s_Cross_%s_vs_%s.csv", mapType, target, baseline),
	} {
		p := filepath.Join(dir, name)
		if exists(p) {
			return p, true
		}
	}
	return "", false
}

// formatBool writes True/False, the spelling pandas-based tooling reads back.
func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func exists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	return idx
}

func writeAll(path string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func readAll(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return records, nil
}
