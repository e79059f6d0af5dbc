package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"octbench/internal/analysis"
	"octbench/internal/config"
	"octbench/internal/evaluate"
	"octbench/internal/storage"
	"octbench/internal/tasks"
)

func TestRouterEvaluateResolvesConfiguredExperiment(t *testing.T) {
	cfg := config.Default()
	cfg.Evaluation.NeighborDepth = 3
	runner := &stubExperimentRunner{
		res: &evaluate.Result{
			RunID: "run-1",
			Pairs: 12,
			Significance: []evaluate.SignificanceResult{
				{Tier: analysis.TierTwo},
				{Tier: analysis.TierNone},
			},
		},
	}
	var gotOpts evaluate.Options
	r := &router{
		log: slog.Default(),
		cfg: cfg,
		evalFac: func(opts evaluate.Options) (experimentRunner, error) {
			gotOpts = opts
			return runner, nil
		},
	}

	job := Job{
		ID:      "eval-1",
		Type:    JobEvaluate,
		Options: map[string]any{"category": "Meso", "skipPlots": true},
	}
	res := r.Process(context.Background(), job)
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if runner.exp.InputDir != "Dataset" || runner.exp.Reference != "Meso_Amp" {
		t.Fatalf("expected configured meso experiment, got %+v", runner.exp)
	}
	if gotOpts.NeighborDepth != 3 || !gotOpts.SkipPlots {
		t.Fatalf("unexpected evaluator options %+v", gotOpts)
	}
	if res.Meta["runId"] != "run-1" || res.Meta["pairs"] != 12 || res.Meta["significant"] != 1 {
		t.Fatalf("unexpected meta %v", res.Meta)
	}
	if res.Meta["output"] != "Results_Dataset" {
		t.Fatalf("expected default results dir, got %v", res.Meta["output"])
	}
}

func TestRouterEvaluateOverridesAndErrors(t *testing.T) {
	runner := &stubExperimentRunner{err: errors.New("decode failed")}
	r := &router{
		log:     slog.Default(),
		cfg:     config.Default(),
		evalFac: func(evaluate.Options) (experimentRunner, error) { return runner, nil },
	}

	job := Job{
		ID:        "eval-2",
		Type:      JobEvaluate,
		InputPath: "/data/Custom",
		Output:    "/tmp/out",
		Options:   map[string]any{"reference": "Set_1", "neighborDepth": 2.0},
	}
	res := r.Process(context.Background(), job)
	if res.Error == nil || res.Error.Error() != "decode failed" {
		t.Fatalf("expected runner error, got %v", res.Error)
	}
	if runner.exp.Category != "Custom" || runner.exp.OutputDir != "/tmp/out" || runner.exp.Reference != "Set_1" {
		t.Fatalf("unexpected experiment %+v", runner.exp)
	}

	res = r.Process(context.Background(), Job{ID: "eval-3", Type: JobEvaluate, Options: map[string]any{"category": "unknown"}})
	if res.Error == nil {
		t.Fatal("expected error for experiment without input directory")
	}
}

func TestRouterMapsPassesForceAndSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Maps.WindowSize = 12
	var got tasks.MapsRequest
	r := &router{
		log: slog.Default(),
		cfg: cfg,
		mapsFn: func(_ context.Context, req tasks.MapsRequest, _ *slog.Logger) (tasks.MapsResult, error) {
			got = req
			return tasks.MapsResult{Generated: 4, Skipped: 1, Dirs: []string{"a", "b"}}, nil
		},
	}

	res := r.Process(context.Background(), Job{ID: "maps-1", Type: JobMaps, InputPath: "Dataset", Options: map[string]any{"force": true}})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if got.InputDir != "Dataset" || !got.Force || got.Options.WindowSize != 12 {
		t.Fatalf("unexpected maps request %+v", got)
	}
	if res.Meta["generated"] != 4 || res.Meta["dirs"] != 2 {
		t.Fatalf("unexpected meta %v", res.Meta)
	}
}

func TestRouterReportFallsBackToConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Evaluation.Metrics = nil
	var got evaluate.PublishOptions
	r := &router{
		log: slog.Default(),
		cfg: cfg,
		publishFn: func(_ context.Context, opts evaluate.PublishOptions, _ *slog.Logger) (*evaluate.Publication, error) {
			got = opts
			return &evaluate.Publication{Plots: []string{"Diagnostic_SSIM.png"}}, nil
		},
	}

	res := r.Process(context.Background(), Job{ID: "report-1", Type: JobReport, Options: map[string]any{"target": "Macro_Thick"}})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if got.CSVDir != "Metrics_Stats_CSV" || got.Baseline != "Meso_Both" || got.Target != "Macro_Thick" {
		t.Fatalf("unexpected publish options %+v", got)
	}
	if len(got.Metrics) != len(config.DefaultMetrics) {
		t.Fatalf("expected default metrics, got %v", got.Metrics)
	}
}

func TestRouterScanWritesConfigNextToScans(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Scatterers_A.txt"), []byte("0 0 0 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "scans")
	stub := &stubScanRunner{}
	r := &router{log: slog.Default(), cfg: config.Default(), scanner: stub}

	res := r.Process(context.Background(), Job{ID: "scan-1", Type: JobScan, InputPath: dir, Output: out})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	wantCfg := filepath.Join(out, "Configuration.ini")
	if stub.cfgPath != wantCfg {
		t.Fatalf("expected config %s, got %s", wantCfg, stub.cfgPath)
	}
	if _, err := os.Stat(wantCfg); err != nil {
		t.Fatalf("expected scanner config on disk: %v", err)
	}
	if res.Meta["phantoms"] != 1 {
		t.Fatalf("unexpected meta %v", res.Meta)
	}
}

func TestRouterUnknownJob(t *testing.T) {
	r := &router{log: slog.Default(), cfg: config.Default()}
	if res := r.Process(context.Background(), Job{ID: "x", Type: "timelapse"}); res.Error == nil {
		t.Fatal("expected error for unknown job type")
	}
}

func TestPipelineRecordsJobLifecycle(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	proc := processorFunc(func(_ context.Context, job Job) Result {
		if job.ID == "bad" {
			return Result{Job: job, Error: errors.New("boom")}
		}
		return Result{Job: job, Meta: map[string]any{"pairs": 3}}
	})
	p := NewWithProcessor(context.Background(), 2, slog.Default(), store, proc)
	defer p.Stop()

	results, unsub := p.Subscribe()
	defer unsub()
	for _, id := range []string{"good", "bad"} {
		if err := p.Submit(Job{ID: id, Type: JobMaps, InputPath: "Dataset"}); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}

	seen := map[string]error{}
	timeout := time.After(5 * time.Second)
	for len(seen) < 2 {
		select {
		case res := <-results:
			seen[res.Job.ID] = res.Error
		case <-timeout:
			t.Fatalf("timed out waiting for results, got %v", seen)
		}
	}
	if seen["good"] != nil || seen["bad"] == nil {
		t.Fatalf("unexpected results %v", seen)
	}

	jobs, err := store.RecentJobs(10)
	if err != nil {
		t.Fatal(err)
	}
	status := map[string]string{}
	for _, j := range jobs {
		status[j.ID] = j.Status
	}
	if status["good"] != "completed" || status["bad"] != "failed" {
		t.Fatalf("unexpected job statuses %v", status)
	}
}

func TestPipelineLogsStoreFailures(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	store.Close()

	var buf bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &mu}, nil))
	proc := processorFunc(func(_ context.Context, job Job) Result {
		return Result{Job: job}
	})
	p := NewWithProcessor(context.Background(), 1, logger, store, proc)

	results, unsub := p.Subscribe()
	defer unsub()
	if err := p.Submit(Job{ID: "orphan", Type: JobReport}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case res := <-results:
		if res.Error != nil {
			t.Fatalf("expected job to succeed without a store, got %v", res.Error)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
	}
	p.Stop()

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	for _, step := range []string{"step=queue", "step=start", "step=completed"} {
		if !strings.Contains(out, "job store update failed") || !strings.Contains(out, step) {
			t.Fatalf("expected store warning for %s, got %q", step, out)
		}
	}
}

func TestSubmitReportsFullQueue(t *testing.T) {
	release := make(chan struct{})
	proc := processorFunc(func(_ context.Context, job Job) Result {
		<-release
		return Result{Job: job}
	})
	p := NewWithProcessor(context.Background(), 1, slog.Default(), nil, proc)
	defer p.Stop()
	defer close(release)

	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = p.Submit(Job{ID: fmt.Sprintf("job-%d", i), Type: JobMaps})
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(b)
}

// Stubs
type processorFunc func(ctx context.Context, job Job) Result

func (f processorFunc) Process(ctx context.Context, job Job) Result { return f(ctx, job) }

type stubExperimentRunner struct {
	exp config.Experiment
	res *evaluate.Result
	err error
}

func (s *stubExperimentRunner) Run(_ context.Context, exp config.Experiment) (*evaluate.Result, error) {
	s.exp = exp
	return s.res, s.err
}

type stubScanRunner struct {
	cfgPath string
}

func (s *stubScanRunner) Scan(_ context.Context, cfgPath, phantom, out string) error {
	s.cfgPath = cfgPath
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	return os.WriteFile(out, []byte("png"), 0o644)
}
