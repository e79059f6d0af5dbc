package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"octbench/internal/config"
	"octbench/internal/logging"
	"octbench/internal/storage"
)

// JobType enumerates supported benchmark stages.
type JobType string

const (
	JobScan     JobType = "scan"
	JobMaps     JobType = "maps"
	JobEvaluate JobType = "evaluate"
	JobReport   JobType = "report"
)

// ErrQueueFull is returned by Submit when every queue slot is taken.
var ErrQueueFull = errors.New("job queue is full")

// Job represents a single processing request.
type Job struct {
	ID        string
	Type      JobType
	InputPath string
	Output    string
	Options   map[string]any
}

// Result captures the outcome of a Job.
type Result struct {
	Job   Job
	Error error
	Meta  map[string]any
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
}

// New creates a Pipeline whose workers route jobs according to cfg.
func New(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, cfg *config.Config) *Pipeline {
	return NewWithProcessor(ctx, concurrency, logger, store, newRouter(logger, store, cfg))
}

// NewWithProcessor creates a Pipeline around an explicit processor.
func NewWithProcessor(ctx context.Context, concurrency int, logger *slog.Logger, store *storage.Store, processor Processor) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		log:    logger,
		jobs:   make(chan Job, concurrency*2),
		cancel: cancel,
		store:  store,
		subs:   make(map[int]chan Result),
	}

	p.startOnce.Do(func() {
		p.processor = processor
		for i := 0; i < concurrency; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})

	return p
}

// Submit records job as queued and hands it to the workers.
func (p *Pipeline) Submit(job Job) error {
	p.persist(job, "queue", func(s *storage.Store) error {
		opts, err := json.Marshal(job.Options)
		if err != nil {
			return fmt.Errorf("encode options: %w", err)
		}
		return s.RecordJobQueued(storage.JobRecord{
			ID:          job.ID,
			JobType:     string(job.Type),
			Status:      "queued",
			InputPath:   job.InputPath,
			OutputPath:  job.Output,
			OptionsJSON: string(opts),
		})
	})

	select {
	case p.jobs <- job:
		return nil
	default:
		p.persist(job, "reject", func(s *storage.Store) error {
			return s.RecordJobResult(job.ID, "failed", nil, ErrQueueFull.Error())
		})
		return ErrQueueFull
	}
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		var job Job
		var ok bool
		select {
		case <-ctx.Done():
			return
		case job, ok = <-p.jobs:
		}
		if !ok {
			return
		}
		p.broadcast(p.run(ctx, id, job))
	}
}

// run processes one job and records its lifecycle.
func (p *Pipeline) run(ctx context.Context, worker int, job Job) Result {
	logging.LogJobStart(p.log, string(job.Type), job.ID, job.InputPath, job.Output, job.Options)
	p.persist(job, "start", func(s *storage.Store) error { return s.RecordJobStart(job.ID) })

	start := time.Now()
	res := p.processor.Process(ctx, job)
	elapsed := time.Since(start)

	status := "completed"
	if res.Error != nil {
		status = "failed"
		logging.LogJobError(p.log, string(job.Type), job.ID, elapsed, res.Error, map[string]any{
			"input":   job.InputPath,
			"output":  job.Output,
			"options": job.Options,
			"worker":  worker,
		})
	} else {
		logging.LogJobComplete(p.log, string(job.Type), job.ID, elapsed, res.Meta)
	}
	p.persist(job, status, func(s *storage.Store) error {
		return s.RecordJobResult(job.ID, status, res.Meta, errString(res.Error))
	})
	return res
}

// persist applies write to the store, if any. Failures are logged and do not
// affect the job outcome.
func (p *Pipeline) persist(job Job, step string, write func(*storage.Store) error) {
	if p.store == nil {
		return
	}
	if err := write(p.store); err != nil {
		p.log.Warn("job store update failed", "job", job.ID, "type", job.Type, "step", step, "error", err)
	}
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
