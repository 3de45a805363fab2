package simulation

import (
	"time"

	"github.com/guregu/null/v6"
	"gorm.io/datatypes"
)

// Status is the lifecycle state of a simulation run.
type Status string

const (
	StatusWaiting    Status = "Waiting for start"
	StatusPreprocess Status = "Running (pre-process)"
	StatusDispatch   Status = "Running (dispatch)"
	StatusFinished   Status = "Run finished"
	StatusFailed     Status = "Run failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Simulation is the GORM model for one user-requested run.
type Simulation struct {
	ID               uint   `gorm:"primaryKey"`
	RunID            string `gorm:"uniqueIndex;size:40;not null"` // the run tag correlating dispatch, polling and merge
	Name             string `gorm:"uniqueIndex;size:200;not null"`
	Project          string `gorm:"size:200"`
	RequestedBy      string `gorm:"size:200"`
	AssumptionFileID uint   `gorm:"not null;index"`
	RunNo            int    `gorm:"not null"` // trial count
	StartDate        time.Time
	EndDate          time.Time
	Status           Status      `gorm:"size:30;not null;default:Waiting for start"`
	StatusDetail     null.String `gorm:"size:500"`
	// LockVersion guards concurrent status updates: every transition is a
	// compare-and-swap on (status, lock_version).
	LockVersion int `gorm:"not null;default:0"`
	FinishedAt  null.Time
	ReportLinks datatypes.JSON
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName returns the GORM table name.
func (Simulation) TableName() string { return "simulations" }

// LogEntry is one append-only audit record. The orchestration writes a row
// for every significant action; failure notification recovers the original
// requester from the latest "start run" entry.
type LogEntry struct {
	ID               uint      `gorm:"primaryKey"`
	User             string    `gorm:"size:200"`
	Action           string    `gorm:"size:512"`
	ActionObject     string    `gorm:"size:512;index:idx_simlog_object"`
	ActionObjectType string    `gorm:"size:20"`
	Result           string    `gorm:"size:100"`
	Detail           string    `gorm:"size:512"`
	DTTM             time.Time `gorm:"index"`
}

// TableName returns the GORM table name.
func (LogEntry) TableName() string { return "simulation_logs" }
