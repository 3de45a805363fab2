package assumption

import (
	"time"

	"github.com/guregu/null/v6"
	"gorm.io/datatypes"
)

// FileStatus is the lifecycle state of an uploaded workbook.
type FileStatus string

const (
	FileUploaded   FileStatus = "Uploaded"
	FileProcessing FileStatus = "Processing"
	FileProcessed  FileStatus = "Processed"
	FileError      FileStatus = "Error"
)

// File is the GORM model for one uploaded workbook snapshot.
type File struct {
	ID           uint        `gorm:"primaryKey"`
	Name         string      `gorm:"uniqueIndex;size:200;not null"`
	ObjectKey    string      `gorm:"size:500"`
	DownloadURL  string      `gorm:"size:500"`
	Status       FileStatus  `gorm:"size:20;not null;default:Uploaded"`
	StatusDetail null.String `gorm:"size:500"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName returns the GORM table name.
func (File) TableName() string { return "assumption_files" }

// Version is the immutable definition row for one ingested category. The
// auto-increment primary key is the version id; rows are never updated or
// deleted, so version history accumulates append-only.
type Version struct {
	ID              uint     `gorm:"primaryKey;autoIncrement"`
	Category        Category `gorm:"size:50;not null;index:idx_version_category"`
	Note            string   `gorm:"size:512"`
	Scenario        string   `gorm:"size:120;index:idx_version_scenario"`
	ScenarioVersion int
	RowCount        int
	CreatedAt       time.Time
}

// TableName returns the GORM table name.
func (Version) TableName() string { return "assumption_versions" }

// DataRow is one normalized row of a category snapshot. Cells holds the
// canonical column to typed value mapping; its shape is fixed by the
// category's descriptor at ingest time.
type DataRow struct {
	ID        uint           `gorm:"primaryKey"`
	VersionID uint           `gorm:"not null;index:idx_row_version"`
	Version   Version        `gorm:"foreignKey:VersionID"`
	RowIndex  int            `gorm:"not null"`
	Cells     datatypes.JSON `gorm:"not null"`
}

// TableName returns the GORM table name.
func (DataRow) TableName() string { return "assumption_rows" }
