// Package evaluate runs the benchmark: it scores planned image pairs with the
// metric registry, aggregates the distributions and writes the CSV, plot and
// run-store artefacts of an experiment.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"octbench/internal/analysis"
	"octbench/internal/config"
	"octbench/internal/dataset"
	"octbench/internal/fsutil"
	"octbench/internal/imaging"
	"octbench/internal/logging"
	"octbench/internal/metrics"
	"octbench/internal/plot"
	"octbench/internal/report"
	"octbench/internal/storage"
)

// Scorer computes every available metric for one image pair.
type Scorer interface {
	Names() []string
	Compute(ctx context.Context, p metrics.Pair) (map[string]float64, error)
}

// Options tunes an evaluation run.
type Options struct {
	NeighborDepth int
	Workers       int
	SkipPlots     bool
}

// Evaluator evaluates experiments.
type Evaluator struct {
	scorer Scorer
	store  *storage.Store
	log    *slog.Logger
	opts   Options
	load   func(string) (*mat.Dense, error)
}

// New builds an evaluator. store may be nil.
func New(scorer Scorer, store *storage.Store, logger *slog.Logger, opts Options) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.NeighborDepth <= 0 {
		opts.NeighborDepth = dataset.DefaultNeighborDepth
	}
	return &Evaluator{scorer: scorer, store: store, log: logger, opts: opts, load: imaging.Load}
}

// SignificanceResult grades how well one comparison separates from the
// reference's intra-class baseline.
type SignificanceResult struct {
	Category string
	Map      string
	Metric   string
	Baseline string
	Target   string
	Tier     analysis.Tier
}

// Result describes a finished run.
type Result struct {
	RunID        string
	OutputDir    string
	Sets         dataset.Sets
	Pairs        int
	Skipped      int
	Summary      []report.SummaryRow
	Significance []SignificanceResult
	Correlations []report.Correlation
	Plots        []string
}

// distribution collects the scores of one comparison on one map type.
type distribution struct {
	comp   dataset.Comparison
	rows   []report.RawRow
	values map[string][]float64
}

type pairResult struct {
	idx    dataset.IndexPair
	values map[string]float64
}

// Run evaluates every map type and planned comparison of exp.
func (e *Evaluator) Run(ctx context.Context, exp config.Experiment) (res *Result, err error) {
	start := time.Now()
	sets, err := dataset.DiscoverSets(exp.InputDir, exp.Reference)
	if err != nil {
		return nil, err
	}
	if sets.ReferenceMissing {
		e.log.Warn("reference set not found", "reference", exp.Reference, "input", exp.InputDir)
	}
	if len(sets.Names) == 0 {
		return nil, fmt.Errorf("no sets under %s", exp.InputDir)
	}
	e.log.Info("analyzing sets", "category", exp.Category, "sets", sets.Names)

	out := exp.ResultsDir()
	if err := fsutil.EnsureDirs(
		filepath.Join(out, report.RawDir),
		filepath.Join(out, report.CorrelationDir),
		filepath.Join(out, report.PlotDir),
	); err != nil {
		return nil, err
	}

	runID, err := e.store.RecordRunStart(storage.Run{
		Category:  exp.Category,
		InputDir:  exp.InputDir,
		Reference: exp.Reference,
		OutputDir: out,
	})
	if err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}
	res = &Result{RunID: runID, OutputDir: out, Sets: sets}
	defer func() {
		status, msg := "completed", ""
		if err != nil {
			status, msg = "failed", err.Error()
		}
		if serr := e.store.RecordRunResult(runID, status, res.Pairs, msg); serr != nil {
			e.log.Warn("failed to persist run result", "run", runID, "error", serr)
		}
	}()

	names := e.scorer.Names()
	baseTag := "Intra_" + exp.Reference
	for _, mt := range dataset.MapTypes {
		e.log.Info("evaluating map", "map", mt)
		dists, err := e.evaluateMap(ctx, exp, sets, mt, names, res)
		if err != nil {
			return res, err
		}

		rows := summarizeMap(mt, dists, names, baseTag)
		res.Summary = append(res.Summary, rows...)
		res.Significance = append(res.Significance, significance(exp.Category, mt, dists, names, baseTag)...)
		res.Correlations = append(res.Correlations, correlate(mt, dists, names)...)
	}

	if err := report.WriteSummary(filepath.Join(out, report.SummaryFile), res.Summary); err != nil {
		return res, err
	}
	if err := report.WriteCorrelations(filepath.Join(out, report.CorrelationDir, report.CorrelationFile), res.Correlations); err != nil {
		return res, err
	}
	if err := e.persistSummary(runID, res); err != nil {
		return res, err
	}

	if !e.opts.SkipPlots {
		for _, m := range names {
			path := filepath.Join(out, report.PlotDir, "Plot_"+m+".png")
			if err := plot.EmpiricalPanel(path, m, empiricalPanels(res.Summary, m, baseTag)); err != nil {
				return res, fmt.Errorf("plot %s: %w", m, err)
			}
			res.Plots = append(res.Plots, path)
		}
	}

	logging.LogRunComplete(e.log, runID, exp.Category, out, time.Since(start), res.Pairs, res.Skipped)
	return res, nil
}

func (e *Evaluator) evaluateMap(ctx context.Context, exp config.Experiment, sets dataset.Sets, mt string, names []string, res *Result) ([]*distribution, error) {
	var dists []*distribution
	for _, comp := range dataset.PlanComparisons(sets.Names, sets.Reference) {
		filesA, err := dataset.Files(exp.InputDir, comp.A, mt)
		if err != nil {
			return nil, err
		}
		filesB, err := dataset.Files(exp.InputDir, comp.B, mt)
		if err != nil {
			return nil, err
		}

		d := &distribution{comp: comp, values: make(map[string][]float64, len(names))}
		idx := dataset.PairIndices(comp.Class, len(filesA), len(filesB), e.opts.NeighborDepth)
		results, skipped, err := e.scorePairs(ctx, filesA, filesB, idx)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", mt, comp.Tag, err)
		}
		res.Skipped += skipped

		scores := make([]storage.Score, 0, len(results)*len(names))
		for _, r := range results {
			row := report.RawRow{
				File1:  filepath.Base(filesA[r.idx.I]),
				File2:  filepath.Base(filesB[r.idx.J]),
				Values: r.values,
			}
			d.rows = append(d.rows, row)
			for _, m := range names {
				v, ok := r.values[m]
				if !ok {
					continue
				}
				d.values[m] = append(d.values[m], v)
				scores = append(scores, storage.Score{
					Map: mt, Comparison: comp.Tag, Class: string(comp.Class),
					File1: row.File1, File2: row.File2, Metric: m, Value: v,
				})
			}
		}
		res.Pairs += len(results)

		if len(d.rows) > 0 {
			if err := report.WriteRaw(report.RawPath(res.OutputDir, mt, comp.Tag), names, d.rows); err != nil {
				return nil, err
			}
		}
		if err := e.store.RecordScores(res.RunID, scores); err != nil {
			return nil, fmt.Errorf("persist scores: %w", err)
		}
		logging.LogComparison(e.log, res.RunID, mt, comp.Tag, len(results), skipped)
		dists = append(dists, d)
	}
	return dists, nil
}

// scorePairs evaluates the index pairs on the worker pool. Results are
// returned in index order regardless of completion order.
func (e *Evaluator) scorePairs(ctx context.Context, filesA, filesB []string, idx []dataset.IndexPair) ([]pairResult, int, error) {
	if len(idx) == 0 {
		return nil, 0, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := NewWorkerPool(e.opts.Workers)
	pool.Start()
	defer pool.Close()

	var (
		mu       sync.Mutex
		results  []pairResult
		skipped  int
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for _, ip := range idx {
		if ctx.Err() != nil {
			break
		}
		ip := ip
		pool.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			values, err := e.scorePair(ctx, filesA[ip.I], filesB[ip.J])
			switch {
			case errors.Is(err, imaging.ErrShapeMismatch):
				e.log.Warn("skipping pair with mismatched shapes", "file1", filesA[ip.I], "file2", filesB[ip.J])
				mu.Lock()
				skipped++
				mu.Unlock()
			case err != nil:
				fail(err)
			default:
				mu.Lock()
				results = append(results, pairResult{idx: ip, values: values})
				mu.Unlock()
			}
		})
	}
	pool.Wait()

	if firstErr != nil {
		return nil, skipped, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, skipped, err
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].idx.I != results[j].idx.I {
			return results[i].idx.I < results[j].idx.I
		}
		return results[i].idx.J < results[j].idx.J
	})
	return results, skipped, nil
}

func (e *Evaluator) scorePair(ctx context.Context, pathA, pathB string) (map[string]float64, error) {
	a, err := e.load(pathA)
	if err != nil {
		return nil, err
	}
	b, err := e.load(pathB)
	if err != nil {
		return nil, err
	}
	return e.scorer.Compute(ctx, metrics.Pair{Ref: a, Target: b, RefPath: pathA, TargetPath: pathB})
}

// summarizeMap produces the Summary_Stats rows of one map type. Diagnostic
// power means the comparison's 95% interval misses the baseline's.
func summarizeMap(mt string, dists []*distribution, names []string, baseTag string) []report.SummaryRow {
	type interval struct{ low, high float64 }
	baseline := map[string]interval{}
	for _, d := range dists {
		if d.comp.Tag != baseTag {
			continue
		}
		for _, m := range names {
			if s, ok := analysis.Summarize(d.values[m]); ok {
				baseline[m] = interval{s.P2_5, s.P97_5}
			}
		}
	}

	var rows []report.SummaryRow
	for _, d := range dists {
		for _, m := range names {
			s, ok := analysis.Summarize(d.values[m])
			if !ok {
				continue
			}
			overlap := true
			if b, found := baseline[m]; found && d.comp.Tag != baseTag {
				overlap = analysis.Overlap(b.low, b.high, s.P2_5, s.P97_5)
			}
			rows = append(rows, report.SummaryRow{
				Map:             mt,
				Comparison:      d.comp.Tag,
				Class:           d.comp.Class,
				Metric:          m,
				Summary:         s,
				DiagnosticPower: !overlap,
			})
		}
	}
	return rows
}

// significance grades every inter-class comparison against the baseline.
func significance(category, mt string, dists []*distribution, names []string, baseTag string) []SignificanceResult {
	var base *distribution
	for _, d := range dists {
		if d.comp.Tag == baseTag {
			base = d
		}
	}
	if base == nil {
		return nil
	}
	var out []SignificanceResult
	for _, d := range dists {
		if d.comp.Class != dataset.Inter {
			continue
		}
		for _, m := range names {
			tier, _, _, ok := analysis.ClassifyValues(base.values[m], d.values[m])
			if !ok {
				continue
			}
			out = append(out, SignificanceResult{
				Category: category, Map: mt, Metric: m,
				Baseline: baseTag, Target: d.comp.Tag, Tier: tier,
			})
		}
	}
	return out
}

// correlate computes the Pearson correlation of every metric pair over all
// evaluated pairs of a map type.
func correlate(mt string, dists []*distribution, names []string) []report.Correlation {
	var out []report.Correlation
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			var x, y []float64
			for _, d := range dists {
				for _, r := range d.rows {
					a, okA := r.Values[names[i]]
					b, okB := r.Values[names[j]]
					if !okA || !okB || !isFinite(a) || !isFinite(b) {
						continue
					}
					x = append(x, a)
					y = append(y, b)
				}
			}
			c := report.Correlation{Map: mt, Metric1: names[i], Metric2: names[j], Pearson: math.NaN(), N: len(x)}
			if len(x) >= 2 {
				c.Pearson = stat.Correlation(x, y, nil)
			}
			out = append(out, c)
		}
	}
	return out
}

func empiricalPanels(rows []report.SummaryRow, metric, baseTag string) []plot.Panel {
	panels := make([]plot.Panel, 0, len(dataset.MapTypes))
	for _, mt := range dataset.MapTypes {
		p := plot.Panel{Title: mt}
		for _, r := range rows {
			if r.Map != mt || r.Metric != metric {
				continue
			}
			p.Bars = append(p.Bars, plot.Bar{
				Label: r.Comparison,
				Mean:  r.Summary.Mean,
				Low:   r.Summary.P2_5,
				High:  r.Summary.P97_5,
				Star:  r.Comparison != baseTag && r.DiagnosticPower,
			})
		}
		panels = append(panels, p)
	}
	return panels
}

func (e *Evaluator) persistSummary(runID string, res *Result) error {
	recs := make([]storage.SummaryRecord, 0, len(res.Summary))
	for _, r := range res.Summary {
		recs = append(recs, storage.SummaryRecord{
			Map: r.Map, Comparison: r.Comparison, Class: string(r.Class), Metric: r.Metric,
			Mean: r.Summary.Mean, P2_5: r.Summary.P2_5, P97_5: r.Summary.P97_5,
			Min: r.Summary.Min, Max: r.Summary.Max, Std: r.Summary.Std, N: r.Summary.N,
			DiagnosticPower: r.DiagnosticPower,
		})
	}
	if err := e.store.RecordSummary(runID, recs); err != nil {
		return fmt.Errorf("persist summary: %w", err)
	}
	return e.store.RecordSignificance(runID, toStorage(res.Significance))
}

func toStorage(results []SignificanceResult) []storage.Significance {
	out := make([]storage.Significance, 0, len(results))
	for _, r := range results {
		out = append(out, storage.Significance{
			Category: r.Category, Map: r.Map, Metric: r.Metric,
			Baseline: r.Baseline, Target: r.Target, Tier: r.Tier.String(),
		})
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
