package evaluate

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"octbench/internal/dataset"
	"octbench/internal/fsutil"
	"octbench/internal/imaging"
	"octbench/internal/metrics"
	"octbench/internal/physmap"
)

// PairReport holds the metric values of one map type of a single comparison.
type PairReport struct {
	Map     string
	Values  map[string]float64
	Resized bool
}

// CompareOptions controls a single-pair comparison.
type CompareOptions struct {
	Maps       physmap.Options
	Regenerate bool // rebuild derived maps even when they exist
	Resize     bool // resample the target to the reference shape on mismatch
}

// Compare scores two structural scans and their derived maps. Missing maps
// are generated first.
func (e *Evaluator) Compare(ctx context.Context, refScan, targetScan string, opts CompareOptions) ([]PairReport, error) {
	refMaps, err := ensureMaps(refScan, opts)
	if err != nil {
		return nil, err
	}
	tgtMaps, err := ensureMaps(targetScan, opts)
	if err != nil {
		return nil, err
	}

	reports := make([]PairReport, 0, len(dataset.MapTypes))
	for _, mt := range dataset.MapTypes {
		refPath, tgtPath := refMaps.Map(mt), tgtMaps.Map(mt)
		ref, err := e.load(refPath)
		if err != nil {
			return nil, err
		}
		tgt, err := e.load(tgtPath)
		if err != nil {
			return nil, err
		}

		rep := PairReport{Map: mt}
		if !imaging.SameShape(ref, tgt) {
			if !opts.Resize {
				return nil, fmt.Errorf("%s: %w", mt, imaging.ErrShapeMismatch)
			}
			if tgt, err = imaging.ResizeLike(tgt, ref); err != nil {
				return nil, err
			}
			tgtPath = ""
			rep.Resized = true
			e.log.Debug("resized target to reference shape", "map", mt, "resampler", imaging.ResamplerName)
		}

		rep.Values, err = e.scorer.Compute(ctx, metrics.Pair{Ref: ref, Target: tgt, RefPath: refPath, TargetPath: tgtPath})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", mt, err)
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// Metrics lists the metric names the evaluator scores, in report order.
func (e *Evaluator) Metrics() []string {
	return e.scorer.Names()
}

func ensureMaps(scan string, opts CompareOptions) (physmap.Paths, error) {
	if _, err := os.Stat(scan); err != nil {
		return physmap.Paths{}, err
	}
	paths := physmap.Paths{
		Struct: scan,
		OAC:    fsutil.MapPath(scan, "OAC"),
		SC:     fsutil.MapPath(scan, "SC"),
		RSC:    fsutil.MapPath(scan, "RSC"),
	}
	if !opts.Regenerate && fsutil.FirstExisting(paths.OAC) != "" &&
		fsutil.FirstExisting(paths.SC) != "" && fsutil.FirstExisting(paths.RSC) != "" {
		return paths, nil
	}
	return physmap.Generate(scan, opts.Maps)
}

// displayOrder is the column order of the one-line pair summary.
var displayOrder = []string{
	metrics.NameSSIM, metrics.NameMSSSIM, metrics.NamePSNR,
	metrics.NameMSE, metrics.NameVIF, metrics.NameLPIPS,
}

// FormatPair renders a report as "[Struct] SSIM: 0.9812 | MS-SSIM: N/A | ...".
func FormatPair(r PairReport) string {
	parts := make([]string, 0, len(displayOrder))
	for _, m := range displayOrder {
		parts = append(parts, fmt.Sprintf("%s: %s", m, formatValue(r.Values, m)))
	}
	return fmt.Sprintf("[%-6s] %s", r.Map, strings.Join(parts, " | "))
}

func formatValue(values map[string]float64, name string) string {
	v, ok := values[name]
	if !ok || math.IsNaN(v) {
		return "N/A"
	}
	return fmt.Sprintf("%.4f", v)
}
