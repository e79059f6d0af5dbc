// Package scanner drives the external Virtual Scanner executable that turns
// scatterer phantoms into structural B-scans.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"octbench/internal/config"
	"octbench/internal/metrics"
)

// Params is the scan geometry written to the scanner configuration file.
type Params struct {
	DepthPixels    int
	LateralPixels  int
	PixelSizeZ     float64 // microns
	PixelSizeX     float64 // microns
	Wavelength     float64 // microns
	BeamDiameter   float64 // microns
	BScans         int
	Scatterers     int
	ScatterersFile string
	RawOutput      string
}

// ParamsFromConfig copies the scanner section of the configuration.
func ParamsFromConfig(sc config.Scanner) Params {
	return Params{
		DepthPixels:    sc.DepthPixels,
		LateralPixels:  sc.LateralPixels,
		PixelSizeZ:     sc.PixelSizeZ,
		PixelSizeX:     sc.PixelSizeX,
		Wavelength:     sc.Wavelength,
		BeamDiameter:   sc.BeamDiameter,
		BScans:         sc.BScans,
		Scatterers:     sc.ScatterersCount,
		ScatterersFile: sc.ScatterersFile,
		RawOutput:      sc.RawOutputFilename,
	}
}

// Validate rejects geometry the scanner cannot simulate.
func (p Params) Validate() error {
	switch {
	case p.DepthPixels <= 0 || p.LateralPixels <= 0:
		return fmt.Errorf("scan size %dx%d must be positive", p.DepthPixels, p.LateralPixels)
	case p.PixelSizeZ <= 0 || p.PixelSizeX <= 0:
		return errors.New("pixel sizes must be positive")
	case p.Wavelength <= 0:
		return errors.New("wavelength must be positive")
	case p.Scatterers <= 0:
		return errors.New("scatterer count must be positive")
	}
	return nil
}

// ZMax is the imaged depth in microns.
func (p Params) ZMax() float64 { return float64(p.DepthPixels) * p.PixelSizeZ }

// XMax is the lateral extent in microns.
func (p Params) XMax() float64 { return float64(p.LateralPixels) * p.PixelSizeX }

// entries returns the [Parameters] keys in the order the scanner reads them.
func (p Params) entries() [][2]string {
	return [][2]string{
		{"scan filename", p.RawOutput},
		{"scatterers coordinates file", p.ScatterersFile},
		{"a-scan pixel numbers", strconv.Itoa(p.DepthPixels)},
		{"vertical pixel size mcm", pyFloat(p.PixelSizeZ)},
		{"central wavelength mcm", pyFloat(p.Wavelength)},
		{"number of a-scans in b-scan", strconv.Itoa(p.LateralPixels)},
		{"xmax mcm", pyFloat(p.XMax())},
		{"number of b-scans", strconv.Itoa(p.BScans)},
		{"ymax mcm", "0.0"},
		{"beam radius mcm", pyFloat(p.BeamDiameter / 2)},
		{"number of scatterers in b-scan", strconv.Itoa(p.Scatterers)},
	}
}

// WriteINI writes the scanner configuration file.
func (p Params) WriteINI(path string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.WriteString("[Parameters]\n")
	for _, kv := range p.entries() {
		fmt.Fprintf(&buf, "%s = %s\n", kv[0], kv[1])
	}
	buf.WriteString("\n")
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// pyFloat formats whole numbers with a trailing ".0".
func pyFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Runner executes the scanner binary.
type Runner struct {
	Executable string
	ExtraArgs  []string
	Logger     *slog.Logger
}

// NewRunner builds a runner from configuration.
func NewRunner(sc config.Scanner, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Executable: sc.Executable, ExtraArgs: sc.ExtraArgs, Logger: logger}
}

// Available reports whether the scanner executable can be resolved.
func (r *Runner) Available() bool {
	if r == nil || r.Executable == "" {
		return false
	}
	_, err := exec.LookPath(r.Executable)
	return err == nil
}

// Scan runs `<scanner> <config> <phantom> <out>` and checks that the scan was written.
func (r *Runner) Scan(ctx context.Context, cfgPath, phantom, out string) error {
	if !r.Available() {
		return fmt.Errorf("scanner %q: %w", r.Executable, metrics.ErrToolUnavailable)
	}
	if _, err := os.Stat(phantom); err != nil {
		return fmt.Errorf("phantom: %w", err)
	}
	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	args := append(append([]string(nil), r.ExtraArgs...), cfgPath, phantom, out)
	cmd := exec.CommandContext(ctx, r.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	r.Logger.Debug("running scanner", "exe", r.Executable, "phantom", phantom, "output", out)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("scanner exited %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("scanner: %w", err)
	}
	if _, err := os.Stat(out); err != nil {
		return fmt.Errorf("scanner produced no output %s: %w", out, err)
	}
	r.Logger.Info("scan complete", "phantom", filepath.Base(phantom), "output", out, "duration", time.Since(start))
	return nil
}

// ScanOutput names the scan for a phantom: Scatterers_X.txt → Scan_X.png.
func ScanOutput(outDir, phantom string) string {
	base := strings.TrimSuffix(filepath.Base(phantom), filepath.Ext(phantom))
	base = strings.TrimPrefix(base, "Scatterers_")
	return filepath.Join(outDir, "Scan_"+base+".png")
}
