package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	defaultConfigPath    = "~/.config/octbench/config.json"
	defaultNeighborDepth = 5
)

// DefaultMetrics is the canonical metric order used in CSV columns and plots.
var DefaultMetrics = []string{"MSE", "PSNR", "SSIM", "MS-SSIM", "VIF", "LPIPS"}

// Config holds user-editable settings for the benchmark.
type Config struct {
	Processing  Processing   `json:"processing"`
	Logging     Logging      `json:"logging"`
	Paths       Paths        `json:"paths"`
	Evaluation  Evaluation   `json:"evaluation"`
	Maps        MapSettings  `json:"maps"`
	Scanner     Scanner      `json:"scanner"`
	Tools       Tools        `json:"tools"`
	Report      Report       `json:"report"`
	Experiments []Experiment `json:"experiments"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"`
	PairWorkers  int    `json:"pair_workers"`
	TempDir      string `json:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`
}

// Paths configures default input/output locations.
type Paths struct {
	DatasetRoot   string `json:"dataset_root"`
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
}

// Evaluation tunes pair planning and metric selection.
type Evaluation struct {
	NeighborDepth int      `json:"neighbor_depth"`
	Metrics       []string `json:"metrics"`
	// ResizeMismatched resamples the second image of a single compare to the
	// first image's shape instead of rejecting the pair.
	ResizeMismatched bool `json:"resize_mismatched"`
}

// MapSettings parameterises the physics-map processor.
type MapSettings struct {
	PixelSizeMicrons float64 `json:"pixel_size_microns"`
	WindowSize       int     `json:"window_size"`
	OACPercentile    float64 `json:"oac_percentile"`
	SCMin            float64 `json:"sc_min"`
	SCMax            float64 `json:"sc_max"`
}

// Scanner describes the external virtual scanner and the scan geometry it is fed.
type Scanner struct {
	Executable        string   `json:"executable"`
	ConfigFile        string   `json:"config_file"`
	DepthPixels       int      `json:"depth_pixels"`
	LateralPixels     int      `json:"lateral_pixels"`
	PixelSizeZ        float64  `json:"pixel_size_z"`
	PixelSizeX        float64  `json:"pixel_size_x"`
	Wavelength        float64  `json:"wavelength"`
	BeamDiameter      float64  `json:"beam_diameter"`
	BScans            int      `json:"b_scans"`
	ScatterersCount   int      `json:"scatterers_count"`
	ScatterersFile    string   `json:"scatterers_file"`
	RawOutputFilename string   `json:"raw_output_filename"`
	ExtraArgs         []string `json:"extra_args"`
}

// Tools lists optional external scorers.
type Tools struct {
	LPIPS LPIPSTool `json:"lpips"`
}

// LPIPSTool configures the external LPIPS scorer. The scorer is invoked as
// `<executable> [args...] <image1> <image2>` and must print one float.
type LPIPSTool struct {
	Enabled    bool     `json:"enabled"`
	Executable string   `json:"executable"`
	Args       []string `json:"args"`
}

// Report configures the publication plot stage.
type Report struct {
	CSVDir    string `json:"csv_dir"`
	OutputDir string `json:"output_dir"`
	Baseline  string `json:"baseline"`
	Target    string `json:"target"`
}

// Experiment binds one structural category to a dataset directory and its reference set.
type Experiment struct {
	Category  string `json:"category" yaml:"category"`
	InputDir  string `json:"input_dir" yaml:"input_dir"`
	Reference string `json:"reference" yaml:"reference"`
	OutputDir string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
}

// ResultsDir returns the experiment's output directory, defaulting to Results_<input>.
func (e Experiment) ResultsDir() string {
	if e.OutputDir != "" {
		return e.OutputDir
	}
	return "Results_" + filepath.Base(filepath.Clean(e.InputDir))
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	configPath := os.Getenv("OCTBENCH_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return LoadFile(configPath)
}

// LoadFile reads configuration from path. A missing file yields the defaults.
func LoadFile(configPath string) (*Config, error) {
	cfg := Default()

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", expanded, err)
	}

	return cfg, nil
}

// Save writes cfg as indented JSON, creating parent directories.
func Save(cfg *Config, configPath string) error {
	expanded, err := expandUser(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(expanded, append(data, '\n'), 0o644)
}

// Path reports the config file location currently in effect.
func Path() string {
	if p := os.Getenv("OCTBENCH_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: 2,
			PairWorkers:  runtime.NumCPU(),
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DatasetRoot:   ".",
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "octbench.db"),
		},
		Evaluation: Evaluation{
			NeighborDepth:    defaultNeighborDepth,
			Metrics:          append([]string(nil), DefaultMetrics...),
			ResizeMismatched: true,
		},
		Maps: MapSettings{
			PixelSizeMicrons: 6.0,
			WindowSize:       20,
			OACPercentile:    99,
			SCMin:            0.5,
			SCMax:            5.0,
		},
		Scanner: Scanner{
			Executable:        "Part2_Scanner",
			ConfigFile:        "Configuration.ini",
			DepthPixels:       256,
			LateralPixels:     512,
			PixelSizeZ:        6.0,
			PixelSizeX:        6.0,
			Wavelength:        1.3,
			BeamDiameter:      20.0,
			BScans:            1,
			ScatterersCount:   300000,
			ScatterersFile:    "Scatterers_Exp.txt",
			RawOutputFilename: "Scan_Raw.bin",
		},
		Tools: Tools{
			LPIPS: LPIPSTool{Enabled: false, Executable: "lpips-score"},
		},
		Report: Report{
			CSVDir:    "Metrics_Stats_CSV",
			OutputDir: "Final_Publication_Plots",
			Baseline:  "Meso_Both",
			Target:    "Macro_Thin",
		},
		Experiments: []Experiment{
			{Category: "micro", InputDir: "Dataset_Micro", Reference: "Dens_200000"},
			{Category: "meso", InputDir: "Dataset", Reference: "Meso_Amp"},
			{Category: "macro", InputDir: "Dataset_Macro", Reference: "Macro_Thin"},
		},
	}
}

// Validate reports configuration values that would make a run meaningless.
func (c *Config) Validate() error {
	var problems []string
	if c.Evaluation.NeighborDepth < 1 {
		problems = append(problems, "evaluation.neighbor_depth must be >= 1")
	}
	if len(c.Evaluation.Metrics) == 0 {
		problems = append(problems, "evaluation.metrics must not be empty")
	}
	known := map[string]bool{}
	for _, m := range DefaultMetrics {
		known[m] = true
	}
	for _, m := range c.Evaluation.Metrics {
		if !known[m] {
			problems = append(problems, fmt.Sprintf("unknown metric %q", m))
		}
	}
	if c.Maps.WindowSize < 2 {
		problems = append(problems, "maps.window_size must be >= 2")
	}
	if c.Maps.PixelSizeMicrons <= 0 {
		problems = append(problems, "maps.pixel_size_microns must be positive")
	}
	if c.Maps.SCMax <= c.Maps.SCMin {
		problems = append(problems, "maps.sc_max must exceed maps.sc_min")
	}
	seen := map[string]bool{}
	for _, e := range c.Experiments {
		if e.Category == "" || e.InputDir == "" {
			problems = append(problems, "experiments need category and input_dir")
			continue
		}
		if seen[e.Category] {
			problems = append(problems, fmt.Sprintf("duplicate experiment category %q", e.Category))
		}
		seen[e.Category] = true
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Experiment looks up an experiment by category.
func (c *Config) Experiment(category string) (Experiment, bool) {
	for _, e := range c.Experiments {
		if strings.EqualFold(e.Category, category) {
			return e, true
		}
	}
	return Experiment{}, false
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
