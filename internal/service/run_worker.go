package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/exam-scheduler/internal/dto"
	"github.com/noah-isme/exam-scheduler/internal/repository"
	appErrors "github.com/noah-isme/exam-scheduler/pkg/errors"
	"github.com/noah-isme/exam-scheduler/pkg/jobs"
)

// JobTypeScheduleRun identifies queued scheduling runs.
const JobTypeScheduleRun = "schedule_run"

type runQueue interface {
	Pop(ctx context.Context, timeout time.Duration) (dto.RunRequest, error)
	Requeue(ctx context.Context, req dto.RunRequest) error
}

type runExecutor interface {
	Run(ctx context.Context, req dto.RunRequest) (*dto.RunReport, error)
}

// RunWorkerConfig tunes the queued run worker.
type RunWorkerConfig struct {
	Workers     int
	MaxRetries  int
	RetryDelay  time.Duration
	PollTimeout time.Duration
	// ErrorBackoff is the pause after a failed pop.
	ErrorBackoff time.Duration
	// RequeueTimeout bounds handing unfinished requests back on Stop.
	RequeueTimeout time.Duration
}

// RunWorker drains queued run requests from Redis into a local job queue and
// executes them with the scheduling service.
type RunWorker struct {
	source   runQueue
	executor runExecutor
	queue    *jobs.Queue
	logger   *zap.Logger
	cfg      RunWorkerConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunWorker builds the worker. Workers default to one since replace runs
// are serialised by the run lock anyway.
func NewRunWorker(source runQueue, executor runExecutor, cfg RunWorkerConfig, logger *zap.Logger) *RunWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	if cfg.RequeueTimeout <= 0 {
		cfg.RequeueTimeout = 5 * time.Second
	}
	w := &RunWorker{source: source, executor: executor, logger: logger, cfg: cfg}
	w.queue = jobs.NewQueue(JobTypeScheduleRun, w.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return w
}

// Start launches the job queue and the Redis dispatcher.
func (w *RunWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.queue.Start(ctx)
	w.wg.Add(1)
	go w.dispatch(ctx)
}

// Stop halts the dispatcher, waits for running jobs to return and pushes
// every request that did not complete back onto the head of the Redis queue
// in its original order.
func (w *RunWorker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
	w.queue.Stop()

	unfinished := w.queue.Drain()
	if len(unfinished) == 0 {
		return
	}
	slices.SortStableFunc(unfinished, func(a, b jobs.Job) int {
		return a.Enqueued.Compare(b.Enqueued)
	})
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RequeueTimeout)
	defer cancel()
	for i := len(unfinished) - 1; i >= 0; i-- {
		w.requeue(ctx, unfinished[i])
	}
	w.logger.Info("returned unfinished runs to queue", zap.Int("count", len(unfinished)))
}

func (w *RunWorker) requeue(ctx context.Context, job jobs.Job) {
	req, ok := job.Payload.(dto.RunRequest)
	if !ok {
		return
	}
	if err := w.source.Requeue(ctx, req); err != nil {
		w.logger.Error("failed to requeue run request, request lost",
			zap.String("job_id", job.ID),
			zap.String("mode", req.Mode),
			zap.Error(err),
		)
	}
}

// Pending returns the number of runs accepted but not yet finished.
func (w *RunWorker) Pending() int64 {
	return w.queue.InFlight()
}

func (w *RunWorker) dispatch(ctx context.Context) {
	defer w.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		req, err := w.source.Pop(ctx, w.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, repository.ErrQueueEmpty) || ctx.Err() != nil {
				continue
			}
			w.logger.Warn("failed to pop run request", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		}
		job := jobs.Job{ID: uuid.NewString(), Type: JobTypeScheduleRun, Payload: req}
		if err := w.queue.Enqueue(job); err != nil {
			w.logger.Warn("failed to enqueue run request, returning it to redis", zap.String("job_id", job.ID), zap.Error(err))
			requeueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.RequeueTimeout)
			w.requeue(requeueCtx, job)
			cancel()
		}
	}
}

func (w *RunWorker) handle(ctx context.Context, job jobs.Job) error {
	req, ok := job.Payload.(dto.RunRequest)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload %T", job.Payload))
	}
	report, err := w.executor.Run(ctx, req)
	if err != nil {
		if errors.Is(err, appErrors.ErrValidation) {
			return jobs.Permanent(err)
		}
		return err
	}
	w.logger.Info("queued run finished",
		zap.String("job_id", job.ID),
		zap.String("run_id", report.RunID),
		zap.Bool("success", report.Success),
		zap.Bool("persisted", report.Persisted),
	)
	return nil
}
