package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("expected defaults, got error %v", err)
	}
	if cfg.Evaluation.NeighborDepth != 5 {
		t.Fatalf("expected neighbor depth 5, got %d", cfg.Evaluation.NeighborDepth)
	}
	if len(cfg.Experiments) != 3 {
		t.Fatalf("expected micro/meso/macro experiments, got %d", len(cfg.Experiments))
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"evaluation": {"neighbor_depth": 3, "metrics": ["SSIM", "MSE"]}, "maps": {"window_size": 10}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Evaluation.NeighborDepth != 3 {
		t.Fatalf("expected neighbor depth 3, got %d", cfg.Evaluation.NeighborDepth)
	}
	if got := strings.Join(cfg.Evaluation.Metrics, ","); got != "SSIM,MSE" {
		t.Fatalf("unexpected metrics %s", got)
	}
	if cfg.Maps.WindowSize != 10 {
		t.Fatalf("expected window 10, got %d", cfg.Maps.WindowSize)
	}
	// untouched sections keep their defaults
	if cfg.Maps.SCMax != 5.0 {
		t.Fatalf("expected default sc_max, got %v", cfg.Maps.SCMax)
	}
}

func TestLoadHonorsEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.json")
	if err := os.WriteFile(path, []byte(`{"logging": {"level": "debug"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OCTBENCH_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected debug level from env config, got %s", cfg.Logging.Level)
	}
	if Path() != path {
		t.Fatalf("expected Path to report env override")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Evaluation.NeighborDepth = 0
	cfg.Evaluation.Metrics = []string{"SSIM", "FSIM"}
	cfg.Maps.SCMax = 0.1
	cfg.Experiments = append(cfg.Experiments, Experiment{Category: "meso", InputDir: "x"})

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"neighbor_depth", "FSIM", "sc_max", "duplicate"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %q", want, err.Error())
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Report.Baseline = "Micro_A"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.Report.Baseline != "Micro_A" {
		t.Fatalf("expected baseline to survive round trip, got %s", loaded.Report.Baseline)
	}
}

func TestLoadExperimentsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiments.yaml")
	body := `neighbor_depth: 2
experiments:
  - category: macro
    input_dir: Dataset_Macro
    reference: Macro_Thick
  - category: micro
    input_dir: Dataset_Micro
    reference: Dens_100000
    output_dir: out/micro
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := LoadExperiments(cfg, path); err != nil {
		t.Fatalf("load experiments failed: %v", err)
	}
	if len(cfg.Experiments) != 2 {
		t.Fatalf("expected 2 experiments, got %d", len(cfg.Experiments))
	}
	if cfg.Evaluation.NeighborDepth != 2 {
		t.Fatalf("expected depth override 2, got %d", cfg.Evaluation.NeighborDepth)
	}
	exp, ok := cfg.Experiment("MACRO")
	if !ok || exp.Reference != "Macro_Thick" {
		t.Fatalf("expected case-insensitive lookup of macro, got %+v", exp)
	}
	if exp.ResultsDir() != "Results_Dataset_Macro" {
		t.Fatalf("unexpected default results dir %s", exp.ResultsDir())
	}
	micro, _ := cfg.Experiment("micro")
	if micro.ResultsDir() != "out/micro" {
		t.Fatalf("expected explicit output dir, got %s", micro.ResultsDir())
	}
}

func TestLoadExperimentsRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("experiments: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadExperiments(Default(), path); err == nil {
		t.Fatal("expected error for empty experiment list")
	}
}
