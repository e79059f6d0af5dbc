package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"octbench/internal/config"
	"octbench/internal/evaluate"
	"octbench/internal/physmap"
	"octbench/internal/pipeline"
	"octbench/internal/storage"
	"octbench/internal/tasks"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type toolManager interface {
	GetToolStatus() map[string]tasks.ToolStatus
	LPIPSEnabled() bool
}

type toolManagerFactory func(*config.Config) toolManager

type watchFunc func(ctx context.Context, dirs []string, opts physmap.Options, settle time.Duration, logger *slog.Logger) error

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline    pipelineClient
	cfg         *config.Config
	log         *slog.Logger
	store       *storage.Store
	toolFactory toolManagerFactory
	watchFn     watchFunc
}

// NewRoot constructs the CLI root.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		toolFactory: func(cfg *config.Config) toolManager {
			return tasks.NewToolManager(cfg)
		},
		watchFn: tasks.WatchMaps,
	}
}

func (r *Root) newToolManager() toolManager {
	if r.toolFactory != nil {
		return r.toolFactory(r.cfg)
	}
	return tasks.NewToolManager(r.cfg)
}

// newEvaluator builds an evaluator outside the pipeline for interactive
// commands. It does not persist runs.
func (r *Root) newEvaluator() (*evaluate.Evaluator, error) {
	reg, err := pipeline.NewScorer(r.cfg, r.log)
	if err != nil {
		return nil, err
	}
	return evaluate.New(reg, nil, r.log, evaluate.Options{
		NeighborDepth: r.cfg.Evaluation.NeighborDepth,
		Workers:       r.cfg.Processing.PairWorkers,
	}), nil
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{Job: job}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{Job: job}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{Job: job}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}
