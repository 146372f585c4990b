package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/issueops/dispatchd/pkg/instance"
	"github.com/issueops/dispatchd/pkg/queue"
	"github.com/issueops/dispatchd/pkg/telemetry"
)

// PhaseReporter receives phase lifecycle notifications for the originating
// issue. Implemented by the GitHub reporter.
type PhaseReporter interface {
	PhaseStarted(ctx context.Context, family string, issueNumber int, phase, instanceID string) error
	PhaseCompleted(ctx context.Context, family string, issueNumber int, phase, instanceID string, runErr error) error
}

// defaultPollInterval is how long an idle worker waits before polling the
// queue again.
const defaultPollInterval = 500 * time.Millisecond

// completeTimeout bounds the detached write that records a task's terminal
// status after the pool context is cancelled.
const completeTimeout = 5 * time.Second

// Pool is the bounded worker pool draining the dispatch queue. Each worker
// claims at most one task at a time, so at most Workers phase processes run
// concurrently regardless of webhook arrival rate.
type Pool struct {
	telemetry    *telemetry.Telemetry
	tasks        *queue.Store
	store        *instance.Store
	runner       *Runner
	reporter     PhaseReporter
	workers      int
	pollInterval time.Duration

	wg sync.WaitGroup
}

// NewPool creates a worker pool of the given size.
func NewPool(tel *telemetry.Telemetry, tasks *queue.Store, store *instance.Store, runner *Runner, reporter PhaseReporter, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		telemetry:    tel,
		tasks:        tasks,
		store:        store,
		runner:       runner,
		reporter:     reporter,
		workers:      workers,
		pollInterval: defaultPollInterval,
	}
}

// Start launches the workers. They run until ctx is cancelled; in-flight
// phase processes are interrupted through the same context.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			p.run(ctx, worker)
		}(i)
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, worker int) {
	logger := p.telemetry.Logger.WithField("worker", worker)
	logger.Debug("Worker started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Worker stopped")
			return
		case <-ticker.C:
		}

		// Drain the queue before going back to sleep.
		for {
			task, err := p.tasks.Claim(ctx)
			if err != nil {
				logger.WithError(err).Error("Failed to claim task")
				break
			}
			if task == nil {
				break
			}
			p.execute(ctx, task)

			if ctx.Err() != nil {
				return
			}
		}
	}
}

// execute runs one claimed task end to end: load the instance, run the
// phase process, persist the terminal status, and report it to the issue.
func (p *Pool) execute(ctx context.Context, task *queue.Task) {
	logger := p.telemetry.Logger.
		WithTaskID(task.ID).
		WithInstanceID(task.InstanceID).
		WithFamily(task.Family).
		WithPhase(task.Phase)

	spanCtx, span := p.telemetry.Tracer.StartTaskSpan(ctx, task.ID, task.Family, task.Phase, task.InstanceID)
	defer span.End()

	p.telemetry.Metrics.RecordDispatchStarted()
	start := time.Now()
	logger.Info("Task started")

	if err := p.reporter.PhaseStarted(spanCtx, task.Family, task.IssueNumber, task.Phase, task.InstanceID); err != nil {
		logger.WithError(err).Warn("Failed to post start comment")
	}

	runErr := p.runTask(spanCtx, task)

	status := "succeeded"
	if runErr != nil {
		status = "failed"
		telemetry.RecordError(span, runErr)
		logger.WithError(runErr).Error("Task failed")
	} else {
		telemetry.RecordSuccess(span)
		logger.Info("Task succeeded")
	}
	p.telemetry.Metrics.RecordDispatchCompleted(task.Family, task.Phase, status, time.Since(start))

	// The terminal status is recorded on a detached context: a worker shut
	// down mid-task must still move the task out of running, or its
	// instance stays blocked from claiming forever.
	completeCtx, cancel := context.WithTimeout(context.Background(), completeTimeout)
	defer cancel()
	if err := p.tasks.Complete(completeCtx, task.ID, runErr); err != nil {
		logger.WithError(err).Error("Failed to record task completion")
	}

	if err := p.reporter.PhaseCompleted(spanCtx, task.Family, task.IssueNumber, task.Phase, task.InstanceID, runErr); err != nil {
		logger.WithError(err).Warn("Failed to post completion comment")
	}
}

func (p *Pool) runTask(ctx context.Context, task *queue.Task) error {
	inst, err := p.store.Load(ctx, task.InstanceID)
	if err != nil {
		return err
	}
	return p.runner.Run(ctx, task, inst)
}
