package evaluate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"octbench/internal/analysis"
	"octbench/internal/dataset"
	"octbench/internal/plot"
	"octbench/internal/report"
)

// PublishOptions selects the CSV directory and the two sets compared in the
// publication figures.
type PublishOptions struct {
	CSVDir    string
	OutputDir string
	Baseline  string
	Target    string
	Metrics   []string
}

// Publication is the outcome of the report stage.
type Publication struct {
	Rows  []report.SignificanceRow
	Plots []string
}

// Publish draws one diagnostic figure per metric comparing the baseline's
// intra-class distribution with its cross comparison against the target.
// Map types without both CSVs are skipped, as are metrics with no data. A
// failed plot does not stop the remaining metrics or the significance table.
func Publish(ctx context.Context, opts PublishOptions, logger *slog.Logger) (*Publication, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(opts.CSVDir); err != nil {
		return nil, fmt.Errorf("csv directory: %w", err)
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, err
	}

	columns := map[string]map[string][]float64{}
	read := func(path string) (map[string][]float64, error) {
		if cols, ok := columns[path]; ok {
			return cols, nil
		}
		cols, err := report.ReadMetricColumns(path)
		if err != nil {
			return nil, err
		}
		columns[path] = cols
		return cols, nil
	}

	pub := &Publication{}
	var plotErrs []error
	for _, metric := range opts.Metrics {
		if err := ctx.Err(); err != nil {
			return pub, err
		}
		var groups []plot.Group
		for _, mt := range dataset.MapTypes {
			intraPath, okIntra := report.FindIntra(opts.CSVDir, mt, opts.Baseline)
			interPath, okInter := report.FindCross(opts.CSVDir, mt, opts.Baseline, opts.Target)
			if !okIntra || !okInter {
				logger.Warn("missing files for map, skipping", "map", mt, "metric", metric)
				continue
			}
			intra, err := read(intraPath)
			if err != nil {
				return pub, err
			}
			inter, err := read(interPath)
			if err != nil {
				return pub, err
			}

			tier, a, b, ok := analysis.ClassifyValues(intra[metric], inter[metric])
			if !ok {
				logger.Warn("metric missing in CSVs", "map", mt, "metric", metric)
				continue
			}
			groups = append(groups, plot.Group{Map: mt, Tier: tier, Intra: a, Inter: b})
			pub.Rows = append(pub.Rows, report.SignificanceRow{Map: mt, Metric: metric, Intra: a, Inter: b, Tier: tier})
		}
		if len(groups) == 0 {
			logger.Info("no valid data, skipping plot", "metric", metric)
			continue
		}

		path := filepath.Join(opts.OutputDir, "Diagnostic_"+metric+".png")
		if err := plot.Diagnostic(path, metric, opts.Baseline, opts.Target, groups); err != nil {
			logger.Error("diagnostic plot failed", "metric", metric, "error", err)
			plotErrs = append(plotErrs, fmt.Errorf("plot %s: %w", metric, err))
			continue
		}
		logger.Info("saved diagnostic plot", "path", path)
		pub.Plots = append(pub.Plots, path)
	}

	if err := report.WriteSignificance(filepath.Join(opts.OutputDir, report.SignificanceFile), pub.Rows); err != nil {
		plotErrs = append(plotErrs, err)
	}
	return pub, errors.Join(plotErrs...)
}
