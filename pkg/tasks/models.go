package tasks

import (
	"time"

	"gorm.io/datatypes"
)

// State represents the lifecycle state of a background task.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Task is the GORM model for one queued unit of pipeline work. Kind selects
// the registered handler; Payload carries its JSON arguments.
type Task struct {
	ID             string         `gorm:"primaryKey;column:id;type:varchar(36)"`
	Kind           string         `gorm:"column:kind;index:idx_task_kind_state,priority:1;not null"`
	Payload        datatypes.JSON `gorm:"column:payload"`
	RequestedBy    string         `gorm:"column:requested_by"`
	RequestedAt    time.Time      `gorm:"column:requested_at;not null"`
	RunAfter       *time.Time     `gorm:"column:run_after;index"`
	State          State          `gorm:"column:state;index:idx_task_kind_state,priority:2;index:idx_task_state;not null;default:queued"`
	Message        string         `gorm:"column:message"`
	StartedAt      *time.Time     `gorm:"column:started_at"`
	FinishedAt     *time.Time     `gorm:"column:finished_at"`
	AttemptCount   int            `gorm:"column:attempt_count;default:0"`
	LastError      string         `gorm:"column:last_error"`
	IdempotencyKey string         `gorm:"column:idempotency_key;uniqueIndex:idx_task_idemp_key"`
	DurationMs     int64          `gorm:"column:duration_ms"`
}

// TableName returns the GORM table name.
func (Task) TableName() string { return "background_tasks" }

// IsTerminal returns true if the task is in a terminal state.
func (t *Task) IsTerminal() bool {
	switch t.State {
	case StateSucceeded, StateFailed, StateCanceled:
		return true
	}
	return false
}
