package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"octbench/internal/physmap"
	"octbench/internal/scanner"
)

// ScanRequest describes a batch of phantoms to run through the scanner.
type ScanRequest struct {
	PhantomDir  string
	OutputDir   string
	ConfigPath  string
	Params      scanner.Params
	GenerateMap bool
	MapOptions  physmap.Options
}

// ScanResult lists the produced scans.
type ScanResult struct {
	Phantoms []string
	Scans    []string
}

// ScanRunner is the part of scanner.Runner the batch needs.
type ScanRunner interface {
	Scan(ctx context.Context, cfgPath, phantom, out string) error
}

// FindPhantoms lists Scatterers_*.txt files in dir, sorted by name.
func FindPhantoms(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "Scatterers_*.txt"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ScanPhantoms writes the scanner configuration and scans every phantom in
// req.PhantomDir. A failing scan aborts the batch.
func ScanPhantoms(ctx context.Context, runner ScanRunner, req ScanRequest, logger *slog.Logger) (ScanResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	phantoms, err := FindPhantoms(req.PhantomDir)
	if err != nil {
		return ScanResult{}, err
	}
	if len(phantoms) == 0 {
		return ScanResult{}, fmt.Errorf("no Scatterers_*.txt phantoms in %s", req.PhantomDir)
	}
	if err := req.Params.WriteINI(req.ConfigPath); err != nil {
		return ScanResult{}, fmt.Errorf("write scanner config: %w", err)
	}
	logger.Info("scanner config written", "path", req.ConfigPath)

	res := ScanResult{Phantoms: phantoms}
	for _, phantom := range phantoms {
		out := scanner.ScanOutput(req.OutputDir, phantom)
		if err := runner.Scan(ctx, req.ConfigPath, phantom, out); err != nil {
			return res, fmt.Errorf("scan %s: %w", filepath.Base(phantom), err)
		}
		res.Scans = append(res.Scans, out)
		if req.GenerateMap {
			if _, err := physmap.Generate(out, req.MapOptions); err != nil {
				return res, fmt.Errorf("maps for %s: %w", out, err)
			}
		}
	}

	if err := TouchManifest(filepath.Join(req.OutputDir, "scans.manifest"), strings.Join(res.Scans, "\n")); err != nil {
		logger.Warn("failed to write manifest", "error", err)
	}
	return res, nil
}

// TouchManifest writes a small manifest file for downstream steps.
func TouchManifest(path string, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"+content+"\n"), 0o644)
}
