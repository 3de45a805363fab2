package assumption

import "fmt"

// SchemaError reports a required sheet or column missing from an uploaded
// workbook. Ingestion aborts on the first occurrence; no category is saved.
type SchemaError struct {
	Sheet  string
	Column string // empty when the whole sheet is missing
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("missing sheet %s", e.Sheet)
	}
	return fmt.Sprintf("missing %s in sheet %s", e.Column, e.Sheet)
}

// PersistenceError reports a failed version save. The surrounding transaction
// is rolled back so the definition/data pair never lands partially.
type PersistenceError struct {
	Category Category
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s version: %v", e.Category, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
