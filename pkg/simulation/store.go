package simulation

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Store persists simulations and their audit log.
type Store struct {
	db *gorm.DB
}

// NewStore creates a simulation store backed by db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the simulation tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Simulation{}, &LogEntry{})
}

// Create inserts a new simulation in the waiting state. Duplicate run tags
// or names are rejected by the unique indexes.
func (s *Store) Create(sim *Simulation) error {
	if sim.Status == "" {
		sim.Status = StatusWaiting
	}
	if err := s.db.Create(sim).Error; err != nil {
		return fmt.Errorf("create simulation %s: %w", sim.RunID, err)
	}
	return nil
}

// Get returns the simulation by primary key.
func (s *Store) Get(id uint) (*Simulation, error) {
	var sim Simulation
	if err := s.db.First(&sim, id).Error; err != nil {
		return nil, fmt.Errorf("get simulation %d: %w", id, err)
	}
	return &sim, nil
}

// GetByRunID returns the simulation with the given run tag.
func (s *Store) GetByRunID(runID string) (*Simulation, error) {
	var sim Simulation
	if err := s.db.Where("run_id = ?", runID).First(&sim).Error; err != nil {
		return nil, fmt.Errorf("get simulation %s: %w", runID, err)
	}
	return &sim, nil
}

// List returns simulations newest first, optionally filtered by project.
func (s *Store) List(project string) ([]Simulation, error) {
	q := s.db.Order("created_at DESC")
	if project != "" {
		q = q.Where("project = ?", project)
	}
	var sims []Simulation
	if err := q.Find(&sims).Error; err != nil {
		return nil, fmt.Errorf("list simulations: %w", err)
	}
	return sims, nil
}

// Transition moves sim from one status to another with a compare-and-swap on
// (status, lock_version). It returns ErrConflict when another writer got
// there first; sim is updated in place on success.
func (s *Store) Transition(sim *Simulation, from, to Status, detail string) error {
	updates := map[string]any{
		"status":       to,
		"lock_version": sim.LockVersion + 1,
		"updated_at":   time.Now().UTC(),
	}
	if detail == "" {
		updates["status_detail"] = nil
	} else {
		updates["status_detail"] = detail
	}
	if to.IsTerminal() {
		updates["finished_at"] = time.Now().UTC()
	}
	res := s.db.Model(&Simulation{}).
		Where("id = ? AND status = ? AND lock_version = ?", sim.ID, from, sim.LockVersion).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("transition simulation %s to %q: %w", sim.RunID, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return &ErrConflict{RunTag: sim.RunID, From: from}
	}
	sim.Status = to
	sim.LockVersion++
	if detail == "" {
		sim.StatusDetail.Valid = false
	} else {
		sim.StatusDetail.SetValid(detail)
	}
	return nil
}

// SetDetail updates the status detail without moving the state machine.
func (s *Store) SetDetail(sim *Simulation, detail string) error {
	var value any
	if detail != "" {
		value = detail
	}
	if err := s.db.Model(sim).Update("status_detail", value).Error; err != nil {
		return fmt.Errorf("set detail for %s: %w", sim.RunID, err)
	}
	if detail == "" {
		sim.StatusDetail.Valid = false
	} else {
		sim.StatusDetail.SetValid(detail)
	}
	return nil
}

// SetEndDate persists a snapped end date.
func (s *Store) SetEndDate(sim *Simulation, end time.Time) error {
	if err := s.db.Model(sim).Update("end_date", end).Error; err != nil {
		return fmt.Errorf("set end date for %s: %w", sim.RunID, err)
	}
	sim.EndDate = end
	return nil
}

// SetReportLinks stores the download links produced by the final merge.
func (s *Store) SetReportLinks(sim *Simulation, links []byte) error {
	if err := s.db.Model(sim).Update("report_links", links).Error; err != nil {
		return fmt.Errorf("set report links for %s: %w", sim.RunID, err)
	}
	sim.ReportLinks = links
	return nil
}

// Delete removes a simulation. Runs that produced results are kept; only
// waiting or failed runs may be deleted.
func (s *Store) Delete(id uint) error {
	sim, err := s.Get(id)
	if err != nil {
		return err
	}
	if sim.Status != StatusWaiting && sim.Status != StatusFailed {
		return fmt.Errorf("simulation %s has status %q and cannot be deleted", sim.RunID, sim.Status)
	}
	if err := s.db.Delete(&Simulation{}, id).Error; err != nil {
		return fmt.Errorf("delete simulation %d: %w", id, err)
	}
	return nil
}

// Log appends an audit record.
func (s *Store) Log(entry *LogEntry) error {
	if entry.DTTM.IsZero() {
		entry.DTTM = time.Now().UTC()
	}
	if err := s.db.Create(entry).Error; err != nil {
		return fmt.Errorf("append simulation log: %w", err)
	}
	return nil
}

// LatestStartRun returns the most recent "start run" log entry for the run
// tag, or nil when none exists. Failure notification uses it to recover who
// requested the run.
func (s *Store) LatestStartRun(runID string) (*LogEntry, error) {
	var entry LogEntry
	err := s.db.
		Where("action = ? AND action_object = ?", ActionStartRun, runID).
		Order("dttm DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest start run log for %s: %w", runID, err)
	}
	return &entry, nil
}

// Audit actions recorded in the simulation log.
const (
	ActionStartRun    = "start run"
	ActionProcessFile = "process assumption"
	ActionMergeYears  = "merge years"
	ActionMergeAll    = "merge all"
	ActionFinishRun   = "finish run"
	ActionFailRun     = "fail run"
)
