package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskStore provides database operations for background tasks.
type TaskStore struct {
	db *gorm.DB
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

// AutoMigrate creates or updates the background_tasks table.
func (s *TaskStore) AutoMigrate() error {
	return s.db.AutoMigrate(&Task{})
}

// Enqueue creates a new queued task. If task.IdempotencyKey is non-empty and
// a non-terminal task with the same key exists, the existing task is returned
// instead of creating a duplicate. Safe for concurrent use.
func (s *TaskStore) Enqueue(task *Task) (*Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.State == "" {
		task.State = StateQueued
	}
	if task.RequestedAt.IsZero() {
		task.RequestedAt = time.Now()
	}

	if task.IdempotencyKey == "" {
		if err := s.db.Create(task).Error; err != nil {
			return nil, fmt.Errorf("enqueue task: %w", err)
		}
		return task, nil
	}

	var result *Task
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Check for an existing non-terminal task with this key.
		var existing Task
		err := tx.Where("idempotency_key = ? AND state IN ?", task.IdempotencyKey,
			[]State{StateQueued, StateRunning}).First(&existing).Error
		if err == nil {
			result = &existing
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("check idempotency key: %w", err)
		}

		// Clear the idempotency key on any terminal tasks with the same key
		// so the unique index doesn't block creating a new task.
		tx.Model(&Task{}).
			Where("idempotency_key = ? AND state IN ?", task.IdempotencyKey,
				[]State{StateSucceeded, StateFailed, StateCanceled}).
			Update("idempotency_key", "")

		if err := tx.Create(task).Error; err != nil {
			// Another transaction may have created the task between our
			// check and create. Look up the existing task.
			var raceExisting Task
			lookupErr := s.db.Where("idempotency_key = ? AND state IN ?", task.IdempotencyKey,
				[]State{StateQueued, StateRunning}).First(&raceExisting).Error
			if lookupErr == nil {
				result = &raceExisting
				return nil
			}
			return fmt.Errorf("enqueue task: %w", err)
		}
		result = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EnqueueKind is the convenience shape the HTTP handlers use.
func (s *TaskStore) EnqueueKind(_ context.Context, kind, idempotencyKey string, payload []byte) error {
	_, err := s.Enqueue(&Task{
		Kind:           kind,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
	})
	return err
}

// Claim atomically picks a due queued task and transitions it to running.
// Returns nil if no tasks are available.
func (s *TaskStore) Claim(maxRetries int) (*Task, error) {
	var task Task

	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		result := tx.Where("state = ? AND attempt_count <= ? AND (run_after IS NULL OR run_after <= ?)",
			StateQueued, maxRetries, now).
			Order("requested_at ASC").
			Limit(1).
			First(&task)
		if result.Error != nil {
			if result.Error == gorm.ErrRecordNotFound {
				return nil
			}
			return result.Error
		}

		return tx.Model(&Task{}).Where("id = ? AND state = ?", task.ID, StateQueued).
			Updates(map[string]any{
				"state":         StateRunning,
				"started_at":    now,
				"attempt_count": gorm.Expr("attempt_count + 1"),
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	if task.ID == "" {
		return nil, nil
	}

	// Reload to get the updated values.
	if err := s.db.First(&task, "id = ?", task.ID).Error; err != nil {
		return nil, fmt.Errorf("reload claimed task: %w", err)
	}
	return &task, nil
}

// Complete marks a task as succeeded.
func (s *TaskStore) Complete(taskID string, durationMs int64) error {
	now := time.Now()
	result := s.db.Model(&Task{}).Where("id = ?", taskID).Updates(map[string]any{
		"state":       StateSucceeded,
		"finished_at": now,
		"duration_ms": durationMs,
	})
	if result.Error != nil {
		return fmt.Errorf("complete task: %w", result.Error)
	}
	return nil
}

// Fail marks a task as failed. If the attempt count is within retries, it
// re-queues the task instead.
func (s *TaskStore) Fail(taskID string, errMsg string, maxRetries int) error {
	now := time.Now()

	var task Task
	if err := s.db.First(&task, "id = ?", taskID).Error; err != nil {
		return fmt.Errorf("load task for fail: %w", err)
	}

	updates := map[string]any{
		"last_error":  errMsg,
		"finished_at": now,
	}

	if task.AttemptCount < maxRetries {
		updates["state"] = StateQueued
		updates["started_at"] = nil
		updates["finished_at"] = nil
	} else {
		updates["state"] = StateFailed
		updates["message"] = "Max retries exceeded: " + errMsg
	}

	result := s.db.Model(&Task{}).Where("id = ?", taskID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("fail task: %w", result.Error)
	}
	return nil
}

// Requeue puts a running task back in the queue after delay, without counting
// the run against its attempts. Used when work is not yet possible, such as
// a merge gate waiting on result artifacts.
func (s *TaskStore) Requeue(taskID string, reason string, delay time.Duration) error {
	runAfter := time.Now().Add(delay)
	result := s.db.Model(&Task{}).Where("id = ? AND state = ?", taskID, StateRunning).
		Updates(map[string]any{
			"state":         StateQueued,
			"started_at":    nil,
			"run_after":     runAfter,
			"last_error":    reason,
			"attempt_count": gorm.Expr("attempt_count - 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("requeue task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("task %s is not running", taskID)
	}
	return nil
}

// Cancel marks a queued task as canceled. Running tasks cannot be canceled.
func (s *TaskStore) Cancel(taskID string) error {
	now := time.Now()
	result := s.db.Model(&Task{}).
		Where("id = ? AND state = ?", taskID, StateQueued).
		Updates(map[string]any{
			"state":       StateCanceled,
			"finished_at": now,
			"message":     "Canceled by user",
		})
	if result.Error != nil {
		return fmt.Errorf("cancel task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var task Task
		if err := s.db.First(&task, "id = ?", taskID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("task not found: %s", taskID)
			}
			return fmt.Errorf("check task: %w", err)
		}
		return fmt.Errorf("task %s is in state %s, only queued tasks can be canceled", taskID, task.State)
	}
	return nil
}

// Get retrieves a task by ID.
func (s *TaskStore) Get(taskID string) (*Task, error) {
	var task Task
	if err := s.db.First(&task, "id = ?", taskID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

// List returns tasks matching kind and state, newest first. Empty filters
// match everything.
func (s *TaskStore) List(kind string, state State, limit int) ([]Task, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := s.db.Model(&Task{}).Order("requested_at DESC").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if state != "" {
		q = q.Where("state = ?", state)
	}
	var records []Task
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return records, nil
}

// CleanupStuckTasks transitions running tasks whose started_at is older than
// claimTimeout back to queued for retry.
func (s *TaskStore) CleanupStuckTasks(claimTimeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-claimTimeout)
	result := s.db.Model(&Task{}).
		Where("state = ? AND started_at < ?", StateRunning, cutoff).
		Updates(map[string]any{
			"state":      StateQueued,
			"started_at": nil,
			"last_error": "Timed out (stuck task recovery)",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup stuck tasks: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOlderThan removes terminal tasks older than the given cutoff.
func (s *TaskStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Where("state IN ? AND finished_at < ?",
		[]State{StateSucceeded, StateFailed, StateCanceled}, cutoff).
		Delete(&Task{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old tasks: %w", result.Error)
	}
	return result.RowsAffected, nil
}
