package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"octbench/internal/analysis"
	"octbench/internal/config"
	"octbench/internal/evaluate"
	"octbench/internal/metrics"
	"octbench/internal/physmap"
	"octbench/internal/scanner"
	"octbench/internal/storage"
	"octbench/internal/tasks"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log       *slog.Logger
	store     *storage.Store
	cfg       *config.Config
	scanner   tasks.ScanRunner
	mapsFn    mapsFunc
	evalFac   evaluatorFactory
	publishFn publishFunc
}

type mapsFunc func(ctx context.Context, req tasks.MapsRequest, logger *slog.Logger) (tasks.MapsResult, error)

type publishFunc func(ctx context.Context, opts evaluate.PublishOptions, logger *slog.Logger) (*evaluate.Publication, error)

type experimentRunner interface {
	Run(ctx context.Context, exp config.Experiment) (*evaluate.Result, error)
}

type evaluatorFactory func(opts evaluate.Options) (experimentRunner, error)

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config) Processor {
	if cfg == nil {
		cfg = config.Default()
	}
	return &router{
		log:       logger,
		store:     store,
		cfg:       cfg,
		scanner:   scanner.NewRunner(cfg.Scanner, logger),
		mapsFn:    tasks.GenerateMaps,
		evalFac:   newEvaluatorFactory(cfg, store, logger),
		publishFn: evaluate.Publish,
	}
}

// NewScorer builds the metric registry configured in cfg.
func NewScorer(cfg *config.Config, logger *slog.Logger) (*metrics.Registry, error) {
	var lpips *metrics.LPIPSScorer
	if cfg.Tools.LPIPS.Enabled {
		lpips = &metrics.LPIPSScorer{
			Executable: cfg.Tools.LPIPS.Executable,
			Args:       cfg.Tools.LPIPS.Args,
			TempDir:    cfg.Processing.TempDir,
		}
	}
	return metrics.NewRegistry(cfg.Evaluation.Metrics, lpips, logger)
}

func newEvaluatorFactory(cfg *config.Config, store *storage.Store, logger *slog.Logger) evaluatorFactory {
	return func(opts evaluate.Options) (experimentRunner, error) {
		reg, err := NewScorer(cfg, logger)
		if err != nil {
			return nil, err
		}
		for _, m := range reg.Metrics() {
			if !m.Available {
				logger.Warn("metric disabled", "metric", m.Name, "reason", m.Reason)
			}
		}
		return evaluate.New(reg, store, logger, opts), nil
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobScan:
		return r.handleScan(ctx, job)
	case JobMaps:
		return r.handleMaps(ctx, job)
	case JobEvaluate:
		return r.handleEvaluate(ctx, job)
	case JobReport:
		return r.handleReport(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleScan(ctx context.Context, job Job) Result {
	out := job.Output
	if out == "" {
		out = job.InputPath
	}
	cfgPath := getStringOption(job.Options, "config")
	if cfgPath == "" {
		cfgPath = r.cfg.Scanner.ConfigFile
		if !filepath.IsAbs(cfgPath) {
			cfgPath = filepath.Join(out, cfgPath)
		}
	}

	res, err := tasks.ScanPhantoms(ctx, r.scanner, tasks.ScanRequest{
		PhantomDir:  job.InputPath,
		OutputDir:   out,
		ConfigPath:  cfgPath,
		Params:      scanner.ParamsFromConfig(r.cfg.Scanner),
		GenerateMap: getBoolOption(job.Options, "maps"),
		MapOptions:  physmap.FromConfig(r.cfg.Maps),
	}, r.log)
	meta := map[string]any{
		"phantoms": len(res.Phantoms),
		"scans":    res.Scans,
		"config":   cfgPath,
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) handleMaps(ctx context.Context, job Job) Result {
	res, err := r.mapsFn(ctx, tasks.MapsRequest{
		InputDir: job.InputPath,
		Force:    getBoolOption(job.Options, "force"),
		Options:  physmap.FromConfig(r.cfg.Maps),
	}, r.log)
	meta := map[string]any{
		"generated": res.Generated,
		"skipped":   res.Skipped,
		"dirs":      len(res.Dirs),
	}
	return Result{Job: job, Error: err, Meta: meta}
}

// experiment resolves the job against the configured experiments. Explicit
// job fields override the configured ones.
func (r *router) experiment(job Job) (config.Experiment, error) {
	category := getStringOption(job.Options, "category")
	exp, ok := r.cfg.Experiment(category)
	if !ok {
		exp = config.Experiment{Category: category}
	}
	if job.InputPath != "" {
		exp.InputDir = job.InputPath
	}
	if job.Output != "" {
		exp.OutputDir = job.Output
	}
	if ref := getStringOption(job.Options, "reference"); ref != "" {
		exp.Reference = ref
	}
	if exp.InputDir == "" {
		return exp, fmt.Errorf("experiment %q: no input directory", category)
	}
	if exp.Category == "" {
		exp.Category = filepath.Base(filepath.Clean(exp.InputDir))
	}
	return exp, nil
}

func (r *router) handleEvaluate(ctx context.Context, job Job) Result {
	exp, err := r.experiment(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	depth := getIntOption(job.Options, "neighborDepth")
	if depth <= 0 {
		depth = r.cfg.Evaluation.NeighborDepth
	}
	ev, err := r.evalFac(evaluate.Options{
		NeighborDepth: depth,
		Workers:       r.cfg.Processing.PairWorkers,
		SkipPlots:     getBoolOption(job.Options, "skipPlots"),
	})
	if err != nil {
		return Result{Job: job, Error: err}
	}

	res, err := ev.Run(ctx, exp)
	meta := map[string]any{
		"category":  exp.Category,
		"reference": exp.Reference,
		"output":    exp.ResultsDir(),
	}
	if res != nil {
		significant := 0
		for _, s := range res.Significance {
			if s.Tier > analysis.TierNone {
				significant++
			}
		}
		meta["runId"] = res.RunID
		meta["sets"] = res.Sets.Names
		meta["pairs"] = res.Pairs
		meta["skipped"] = res.Skipped
		meta["plots"] = len(res.Plots)
		meta["significant"] = significant
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) handleReport(ctx context.Context, job Job) Result {
	opts := evaluate.PublishOptions{
		CSVDir:    job.InputPath,
		OutputDir: job.Output,
		Baseline:  getStringOption(job.Options, "baseline"),
		Target:    getStringOption(job.Options, "target"),
		Metrics:   r.cfg.Evaluation.Metrics,
	}
	if opts.CSVDir == "" {
		opts.CSVDir = r.cfg.Report.CSVDir
	}
	if opts.OutputDir == "" {
		opts.OutputDir = r.cfg.Report.OutputDir
	}
	if opts.Baseline == "" {
		opts.Baseline = r.cfg.Report.Baseline
	}
	if opts.Target == "" {
		opts.Target = r.cfg.Report.Target
	}
	if len(opts.Metrics) == 0 {
		opts.Metrics = config.DefaultMetrics
	}

	pub, err := r.publishFn(ctx, opts, r.log)
	meta := map[string]any{
		"baseline": opts.Baseline,
		"target":   opts.Target,
		"output":   opts.OutputDir,
	}
	if pub != nil {
		meta["plots"] = pub.Plots
		meta["rows"] = len(pub.Rows)
	}
	return Result{Job: job, Error: err, Meta: meta}
}

// Helper functions to safely extract typed options from job.Options map
func getBoolOption(options map[string]any, key string) bool {
	if val, ok := options[key].(bool); ok {
		return val
	}
	return false
}

func getStringOption(options map[string]any, key string) string {
	if val, ok := options[key].(string); ok {
		return val
	}
	return ""
}

func getIntOption(options map[string]any, key string) int {
	switch v := options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
