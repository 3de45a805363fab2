package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrRetryLater tells the worker the task cannot run yet and should go back
// in the queue after the retry delay, without burning an attempt. Handlers
// wrap gate failures (results not complete yet) with it.
var ErrRetryLater = errors.New("tasks: retry later")

// Handler executes one task kind.
type Handler func(ctx context.Context, payload []byte) error

// HandlerLookup resolves a handler by task kind.
type HandlerLookup func(kind string) (Handler, bool)

// WorkerPool processes queued tasks using a pool of goroutines.
type WorkerPool struct {
	store  *TaskStore
	lookup HandlerLookup
	cfg    *Config
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(store *TaskStore, lookup HandlerLookup, cfg *Config, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		store:  store,
		lookup: lookup,
		cfg:    cfg,
		logger: logger,
	}
}

// Run starts the worker pool. It spawns cfg.Concurrency goroutines, each
// polling for tasks. It blocks until the context is cancelled, then waits
// for all workers to finish.
func (wp *WorkerPool) Run(ctx context.Context) {
	if wp.store == nil || !wp.cfg.Enabled {
		wp.logger.Info("task worker pool disabled")
		return
	}

	wp.logger.Info("task worker pool starting",
		"concurrency", wp.cfg.Concurrency,
		"maxRetries", wp.cfg.MaxRetries,
		"pollInterval", wp.cfg.PollInterval.String())

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		wp.cleanupLoop(ctx)
	}()

	for i := 0; i < wp.cfg.Concurrency; i++ {
		wp.wg.Add(1)
		go func(workerID int) {
			defer wp.wg.Done()
			wp.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	wp.logger.Info("task worker pool shutting down, waiting for workers to finish")
	wp.wg.Wait()
	wp.logger.Info("task worker pool stopped")
}

// workerLoop is the main loop for a single worker goroutine.
func (wp *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	wp.logger.Info("worker started", "workerID", workerID)

	for {
		select {
		case <-ctx.Done():
			wp.logger.Info("worker stopped", "workerID", workerID)
			return
		case <-ticker.C:
			wp.processOne(ctx, workerID)
		}
	}
}

// processOne tries to claim and process a single task.
func (wp *WorkerPool) processOne(ctx context.Context, workerID int) {
	task, err := wp.store.Claim(wp.cfg.MaxRetries)
	if err != nil {
		wp.logger.Error("failed to claim task", "workerID", workerID, "error", err)
		return
	}
	if task == nil {
		return // No tasks available.
	}

	wp.logger.Info("processing task",
		"workerID", workerID,
		"taskID", task.ID,
		"kind", task.Kind,
		"attempt", task.AttemptCount)

	handler, ok := wp.lookup(task.Kind)
	if !ok {
		errMsg := "no handler registered for task kind: " + task.Kind
		wp.logger.Error(errMsg, "taskID", task.ID)
		if err := wp.store.Fail(task.ID, errMsg, wp.cfg.MaxRetries); err != nil {
			wp.logger.Error("failed to mark task as failed", "taskID", task.ID, "error", err)
		}
		return
	}

	started := time.Now()
	err = handler(ctx, task.Payload)

	if errors.Is(err, ErrRetryLater) {
		wp.logger.Info("task deferred",
			"workerID", workerID,
			"taskID", task.ID,
			"kind", task.Kind,
			"retryIn", wp.cfg.RetryDelay.String())
		if reqErr := wp.store.Requeue(task.ID, err.Error(), wp.cfg.RetryDelay); reqErr != nil {
			wp.logger.Error("failed to requeue task", "taskID", task.ID, "error", reqErr)
		}
		return
	}

	if err != nil {
		wp.logger.Error("task failed",
			"workerID", workerID,
			"taskID", task.ID,
			"error", err)
		if failErr := wp.store.Fail(task.ID, err.Error(), wp.cfg.MaxRetries); failErr != nil {
			wp.logger.Error("failed to mark task as failed", "taskID", task.ID, "error", failErr)
		}
		return
	}

	wp.logger.Info("task completed",
		"workerID", workerID,
		"taskID", task.ID,
		"kind", task.Kind,
		"duration", time.Since(started).String())

	if err := wp.store.Complete(task.ID, time.Since(started).Milliseconds()); err != nil {
		wp.logger.Error("failed to mark task as complete", "taskID", task.ID, "error", err)
	}
}

// cleanupLoop periodically recovers stuck tasks and deletes old terminal
// tasks.
func (wp *WorkerPool) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if wp.cfg.ClaimTimeout > 0 {
				recovered, err := wp.store.CleanupStuckTasks(wp.cfg.ClaimTimeout)
				if err != nil {
					wp.logger.Error("failed to cleanup stuck tasks", "error", err)
				} else if recovered > 0 {
					wp.logger.Info("recovered stuck tasks", "count", recovered)
				}
			}

			if wp.cfg.RetentionDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -wp.cfg.RetentionDays)
				deleted, err := wp.store.DeleteOlderThan(cutoff)
				if err != nil {
					wp.logger.Error("failed to delete old tasks", "error", err)
				} else if deleted > 0 {
					wp.logger.Info("deleted old tasks", "count", deleted)
				}
			}
		}
	}
}
