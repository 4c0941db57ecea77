// Package tasks runs the engine's asynchronous work: a bounded worker pool
// with delayed submission, and a per-instance lease that keeps workflows for
// the same instance from interleaving.
package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-cloud/service-orchestrator/internal/telemetry"
)

// ErrQueueStopped is returned for submissions after Stop.
var ErrQueueStopped = errors.New("task queue is stopped")

// Task is one unit of asynchronous work. The context is canceled when the
// queue stops, so long-running tasks can bail out of waits.
type Task func(ctx context.Context)

// Queue is a fixed-size worker pool over a bounded channel. Submit blocks
// when the queue is full, which back-pressures the API surface instead of
// growing without bound.
type Queue struct {
	tasks   chan Task
	workers int
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	timers sync.WaitGroup
}

func NewQueue(workers, capacity int, logger *zap.Logger) *Queue {
	if workers <= 0 {
		workers = 4
	}
	if capacity <= 0 {
		capacity = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		tasks:   make(chan Task, capacity),
		workers: workers,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers.
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Info("task queue started",
		zap.Int("workers", q.workers), zap.Int("capacity", cap(q.tasks)))
}

// Stop cancels the queue context and waits for in-flight tasks to finish.
// Tasks still waiting in the queue are dropped.
func (q *Queue) Stop() {
	q.cancel()
	q.timers.Wait()
	q.wg.Wait()
	q.logger.Info("task queue stopped")
}

// Submit enqueues the task, blocking while the queue is full.
func (q *Queue) Submit(task Task) error {
	select {
	case <-q.ctx.Done():
		return ErrQueueStopped
	case q.tasks <- task:
		telemetry.TasksQueued.Inc()
		return nil
	}
}

// SubmitAfter enqueues the task once the delay has elapsed. The timer is
// abandoned when the queue stops first.
func (q *Queue) SubmitAfter(delay time.Duration, task Task) error {
	if delay <= 0 {
		return q.Submit(task)
	}
	select {
	case <-q.ctx.Done():
		return ErrQueueStopped
	default:
	}

	q.timers.Add(1)
	go func() {
		defer q.timers.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
		case <-timer.C:
			if err := q.Submit(task); err != nil {
				q.logger.Debug("delayed task dropped at shutdown")
			}
		}
	}()
	return nil
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.tasks:
			telemetry.TasksQueued.Dec()
			task(q.ctx)
		}
	}
}
