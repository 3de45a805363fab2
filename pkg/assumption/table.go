package assumption

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Value is one typed cell. The zero Value is null.
type Value struct {
	kind ColumnType
	set  bool

	str  string
	num  decimal.Decimal
	date time.Time
	year int
}

// NullValue returns an explicit null cell.
func NullValue() Value { return Value{} }

// StringValue wraps a string cell.
func StringValue(s string) Value { return Value{kind: TypeString, set: true, str: s} }

// YearValue wraps a calendar-year cell.
func YearValue(y int) Value { return Value{kind: TypeYear, set: true, year: y} }

// DateValue wraps a date cell (time component discarded).
func DateValue(t time.Time) Value {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Value{kind: TypeDate, set: true, date: d}
}

// DecimalValue wraps a numeric cell.
func DecimalValue(d decimal.Decimal) Value { return Value{kind: TypeDecimal, set: true, num: d} }

// IsNull reports whether the cell carries no value.
func (v Value) IsNull() bool { return !v.set }

// String returns the cell as a string; empty for non-string or null cells.
func (v Value) String() string { return v.str }

// Year returns the cell as a calendar year, or 0 when null.
func (v Value) Year() int { return v.year }

// Date returns the cell as a UTC date, or the zero time when null.
func (v Value) Date() time.Time { return v.date }

// Decimal returns the cell as a decimal, or zero when null.
func (v Value) Decimal() decimal.Decimal { return v.num }

// MarshalJSON renders the underlying value: strings as strings, years as
// integers, dates as YYYY-MM-DD, decimals as JSON numbers, nulls as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.set {
		return []byte("null"), nil
	}
	switch v.kind {
	case TypeString:
		return json.Marshal(v.str)
	case TypeYear:
		return json.Marshal(v.year)
	case TypeDate:
		return json.Marshal(v.date.Format("2006-01-02"))
	case TypeDecimal:
		return []byte(v.num.String()), nil
	}
	return nil, fmt.Errorf("unknown cell type %d", v.kind)
}

// Row maps canonical column names to cell values.
type Row map[string]Value

// Table is one normalized category sheet: canonical columns in sheet order
// plus parsed rows. Produced by the ingestor, consumed by the validator and
// the version store.
type Table struct {
	Category Category
	Sheet    string
	Columns  []string
	Rows     []Row
}

// HasNull reports whether any cell in any row is null.
func (t *Table) HasNull() bool {
	for _, row := range t.Rows {
		for _, col := range t.Columns {
			if row[col].IsNull() {
				return true
			}
		}
	}
	return false
}

// YearBounds returns the minimum and maximum year in the named column.
// ok is false when the table has no rows.
func (t *Table) YearBounds(column string) (minYear, maxYear int, ok bool) {
	for _, row := range t.Rows {
		v := row[column]
		if v.IsNull() {
			continue
		}
		y := v.Year()
		if !ok {
			minYear, maxYear, ok = y, y, true
			continue
		}
		if y < minYear {
			minYear = y
		}
		if y > maxYear {
			maxYear = y
		}
	}
	return minYear, maxYear, ok
}

// DateBounds returns the earliest and latest date in the named column.
// ok is false when the table has no rows.
func (t *Table) DateBounds(column string) (first, last time.Time, ok bool) {
	for _, row := range t.Rows {
		v := row[column]
		if v.IsNull() {
			continue
		}
		d := v.Date()
		if !ok {
			first, last, ok = d, d, true
			continue
		}
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}
	return first, last, ok
}
