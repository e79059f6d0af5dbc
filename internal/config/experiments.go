package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// experimentFile is the YAML layout accepted by --experiments.
type experimentFile struct {
	NeighborDepth int          `yaml:"neighbor_depth"`
	Experiments   []Experiment `yaml:"experiments"`
}

// LoadExperiments reads experiment definitions from a YAML file and merges
// them into cfg, replacing the configured list.
func LoadExperiments(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read experiments file: %w", err)
	}

	var ef experimentFile
	if err := yaml.Unmarshal(data, &ef); err != nil {
		return fmt.Errorf("parse experiments file: %w", err)
	}
	if len(ef.Experiments) == 0 {
		return fmt.Errorf("experiments file %s defines no experiments", path)
	}

	cfg.Experiments = ef.Experiments
	if ef.NeighborDepth > 0 {
		cfg.Evaluation.NeighborDepth = ef.NeighborDepth
	}
	return nil
}

// SaveExperiments writes the configured experiments as YAML.
func SaveExperiments(cfg *Config, path string) error {
	data, err := yaml.Marshal(experimentFile{
		NeighborDepth: cfg.Evaluation.NeighborDepth,
		Experiments:   cfg.Experiments,
	})
	if err != nil {
		return fmt.Errorf("marshal experiments: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
