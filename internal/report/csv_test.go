package report

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"octbench/internal/analysis"
	"octbench/internal/dataset"
)

func TestFormatFloat(t *testing.T) {
	cases := map[float64]string{
		0.5:          "0.5",
		2:            "2.0",
		0:            "0.0",
		1.5e-05:      "1.5e-05",
		math.Inf(1):  "inf",
		math.Inf(-1): "-inf",
	}
	for v, want := range cases {
		if got := FormatFloat(v); got != want {
			t.Fatalf("FormatFloat(%v) = %q, want %q", v, got, want)
		}
	}
	if FormatFloat(math.NaN()) != "" {
		t.Fatal("NaN should be an empty cell")
	}
}

func TestRawCSVRoundTripDropsNaN(t *testing.T) {
	dir := t.TempDir()
	path := RawPath(dir, "OAC", "Intra_Meso_Both")
	if filepath.Base(path) != "OAC_Intra_Meso_Both.csv" || filepath.Base(filepath.Dir(path)) != RawDir {
		t.Fatalf("unexpected raw path %s", path)
	}

	rows := []RawRow{
		{File1: "Scan_1.png", File2: "Scan_2.png", Values: map[string]float64{"SSIM": 0.8, "VIF": math.NaN()}},
		{File1: "Scan_1.png", File2: "Scan_3.png", Values: map[string]float64{"SSIM": 0.7, "VIF": 0.3}},
	}
	if err := WriteRaw(path, []string{"SSIM", "VIF"}, rows); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "File1,File2,SSIM,VIF\n") {
		t.Fatalf("unexpected header in %q", string(data))
	}

	cols, err := ReadMetricColumns(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(cols["SSIM"]) != 2 || len(cols["VIF"]) != 1 || cols["VIF"][0] != 0.3 {
		t.Fatalf("unexpected columns %v", cols)
	}
	if _, ok := cols["File1"]; ok {
		t.Fatal("file columns should be skipped")
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), SummaryFile)
	rows := []SummaryRow{
		{Map: "Struct", Comparison: "Intra_Ref", Class: dataset.Intra, Metric: "SSIM",
			Summary: analysis.Summary{Mean: 0.9, P2_5: 0.85, P97_5: 0.95}},
		{Map: "Struct", Comparison: "Inter_B", Class: dataset.Inter, Metric: "PSNR",
			Summary: analysis.Summary{Mean: math.Inf(1), P2_5: 20, P97_5: math.NaN()}, DiagnosticPower: true},
	}
	if err := WriteSummary(path, rows); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "Struct,Inter_B,Inter,PSNR,inf,20.0,,True") {
		t.Fatalf("unexpected summary body %q", string(data))
	}

	got, err := ReadSummary(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(got) != 2 || got[0].Summary.Mean != 0.9 || got[0].DiagnosticPower {
		t.Fatalf("unexpected rows %+v", got)
	}
	if !math.IsInf(got[1].Summary.Mean, 1) || !math.IsNaN(got[1].Summary.P97_5) || !got[1].DiagnosticPower {
		t.Fatalf("special values lost: %+v", got[1])
	}
}

func TestFindFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"SC_Intra_Meso_Both.csv", "SC_Cross_Macro_Thin_vs_Meso_Both.csv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("File1,File2\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if _, ok := FindIntra(dir, "SC", "Meso_Both"); !ok {
		t.Fatal("expected intra file")
	}
	p, ok := FindCross(dir, "SC", "Meso_Both", "Macro_Thin")
	if !ok || filepath.Base(p) != "SC_Cross_Macro_Thin_vs_Meso_Both.csv" {
		t.Fatalf("expected reversed cross file, got %s", p)
	}
	if _, ok := FindCross(dir, "OAC", "Meso_Both", "Macro_Thin"); ok {
		t.Fatal("did not expect OAC cross file")
	}
}

func TestAppendPairReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), PairReportFile)
	metrics := []string{"SSIM", "PSNR"}
	first := []PairRow{{Experiment: "Exp1_Uniform", Map: "Struct", Values: map[string]float64{"SSIM": 0.5, "PSNR": math.Inf(1)}}}
	second := []PairRow{{Experiment: "Exp2_Layers", Map: "OAC", Values: map[string]float64{"SSIM": 0.25}}}
	if err := AppendPairReport(path, metrics, first); err != nil {
		t.Fatal(err)
	}
	if err := AppendPairReport(path, metrics, second); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "Experiment,Map_Type,SSIM,PSNR\nExp1_Uniform,Struct,0.5,inf\nExp2_Layers,OAC,0.25,\n"
	if string(data) != want {
		t.Fatalf("expected %q, got %q", want, data)
	}

	if err := AppendPairReport(path, []string{"MSE"}, second); err == nil {
		t.Fatal("expected error for mismatched columns")
	}
}
