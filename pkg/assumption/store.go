package assumption

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// Store provides the versioned table operations and workbook file records.
// Version saves are append-only: a new definition row plus its data rows land
// in one transaction, or not at all.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the assumption tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&File{}, &Version{}, &DataRow{})
}

// SaveAsNewVersion inserts a new definition row for the category, stamps
// every table row with the generated version id and bulk-inserts them. The
// definition and data either both commit or both roll back. Scenario saves
// get the next scenario version for that scenario name. Empty tables are
// allowed; the note is still recorded.
func (s *Store) SaveAsNewVersion(category Category, table *Table, note, scenario string) (uint, error) {
	desc, ok := Lookup(category)
	if !ok {
		return 0, fmt.Errorf("unknown category %q", category)
	}
	if scenario != "" && !desc.Scenario {
		return 0, fmt.Errorf("category %s does not support scenarios", category)
	}

	version := Version{
		Category: category,
		Note:     note,
		RowCount: len(table.Rows),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if scenario != "" {
			var latest Version
			err := tx.Where("category = ? AND scenario = ?", category, scenario).
				Order("scenario_version DESC").
				First(&latest).Error
			switch {
			case err == nil:
				version.Scenario = scenario
				version.ScenarioVersion = latest.ScenarioVersion + 1
			case err == gorm.ErrRecordNotFound:
				version.Scenario = scenario
				version.ScenarioVersion = 1
			default:
				return fmt.Errorf("resolve scenario version: %w", err)
			}
		}

		if err := tx.Create(&version).Error; err != nil {
			return fmt.Errorf("insert definition: %w", err)
		}

		if len(table.Rows) == 0 {
			return nil
		}

		rows := make([]DataRow, 0, len(table.Rows))
		for i, row := range table.Rows {
			cells, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("encode row %d: %w", i, err)
			}
			rows = append(rows, DataRow{
				VersionID: version.ID,
				RowIndex:  i,
				Cells:     cells,
			})
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("insert data rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, &PersistenceError{Category: category, Err: err}
	}
	return version.ID, nil
}

// LatestVersion returns the most recent version of a category, or nil when
// the category has never been ingested.
func (s *Store) LatestVersion(category Category) (*Version, error) {
	var v Version
	err := s.db.Where("category = ?", category).Order("id DESC").First(&v).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest version of %s: %w", category, err)
	}
	return &v, nil
}

// Versions lists all versions of a category, newest first.
func (s *Store) Versions(category Category) ([]Version, error) {
	var out []Version
	if err := s.db.Where("category = ?", category).Order("id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", category, err)
	}
	return out, nil
}

// Snapshot returns one version and its data rows in row order. Old versions
// stay queryable after later saves; audit and rollback work by reference.
func (s *Store) Snapshot(category Category, versionID uint) (*Version, []DataRow, error) {
	var v Version
	if err := s.db.Where("id = ? AND category = ?", versionID, category).First(&v).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, fmt.Errorf("version %d of %s not found", versionID, category)
		}
		return nil, nil, fmt.Errorf("load version %d: %w", versionID, err)
	}
	var rows []DataRow
	if err := s.db.Where("version_id = ?", versionID).Order("row_index ASC").Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("load rows of version %d: %w", versionID, err)
	}
	return &v, rows, nil
}

// CreateFile records a freshly uploaded workbook, or refreshes the object
// location of an existing record with the same name.
func (s *Store) CreateFile(name, objectKey, downloadURL string) (*File, error) {
	var f File
	err := s.db.Where("name = ?", name).First(&f).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		f = File{Name: name, ObjectKey: objectKey, DownloadURL: downloadURL, Status: FileUploaded}
		if err := s.db.Create(&f).Error; err != nil {
			return nil, fmt.Errorf("create assumption file: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("find assumption file: %w", err)
	default:
		updates := map[string]any{
			"object_key":    objectKey,
			"download_url":  downloadURL,
			"status":        FileUploaded,
			"status_detail": nil,
		}
		if err := s.db.Model(&f).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("refresh assumption file: %w", err)
		}
	}
	return &f, nil
}

// GetFile loads a file record by id. Returns nil when absent.
func (s *Store) GetFile(id uint) (*File, error) {
	var f File
	if err := s.db.First(&f, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get assumption file: %w", err)
	}
	return &f, nil
}

// GetFileByName loads a file record by its unique name. Returns nil when absent.
func (s *Store) GetFileByName(name string) (*File, error) {
	var f File
	if err := s.db.Where("name = ?", name).First(&f).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get assumption file: %w", err)
	}
	return &f, nil
}

// ListFiles returns all workbook records, newest first.
func (s *Store) ListFiles() ([]File, error) {
	var out []File
	if err := s.db.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list assumption files: %w", err)
	}
	return out, nil
}

// SetFileStatus transitions a file's lifecycle status. An empty detail clears
// the previous status detail.
func (s *Store) SetFileStatus(id uint, status FileStatus, detail string) error {
	updates := map[string]any{"status": status}
	if detail == "" {
		updates["status_detail"] = nil
	} else {
		updates["status_detail"] = detail
	}
	if err := s.db.Model(&File{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("set file status: %w", err)
	}
	return nil
}
