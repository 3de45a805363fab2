package assumption

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// dateLayouts are tried in order for date cells that are stored as text
// rather than spreadsheet serial numbers.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"1/2/2006",
	"2/1/2006",
}

// Ingestor parses uploaded assumption workbooks into normalized tables.
type Ingestor struct{}

// NewIngestor returns an Ingestor.
func NewIngestor() *Ingestor { return &Ingestor{} }

// Ingest reads the workbook at path and returns one normalized table per
// standard category. A missing sheet or required column aborts the whole
// ingestion with a *SchemaError; nothing is persisted here.
func (in *Ingestor) Ingest(path string) (map[Category]*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	tables := make(map[Category]*Table, len(registry))
	for _, desc := range WorkbookCategories() {
		table, err := in.ingestSheet(f, desc)
		if err != nil {
			return nil, err
		}
		tables[desc.Category] = table
	}
	return tables, nil
}

// IngestCategory reads a single category's sheet from the workbook at path.
// Used for standalone categories such as scenario uploads.
func (in *Ingestor) IngestCategory(path string, category Category) (*Table, error) {
	desc, ok := Lookup(category)
	if !ok {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return in.ingestSheet(f, desc)
}

func (in *Ingestor) ingestSheet(f *excelize.File, desc Descriptor) (*Table, error) {
	idx, err := f.GetSheetIndex(desc.Sheet)
	if err != nil || idx < 0 {
		return nil, &SchemaError{Sheet: desc.Sheet}
	}

	raw, err := f.GetRows(desc.Sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", desc.Sheet, err)
	}
	if len(raw) == 0 {
		// A sheet with no header cannot satisfy any required column.
		return nil, &SchemaError{Sheet: desc.Sheet, Column: desc.Columns[0].Source}
	}

	// Locate each required source column in the header row. Extra columns
	// are ignored.
	header := raw[0]
	position := make(map[string]int, len(desc.Columns))
	for i, cell := range header {
		position[strings.TrimSpace(cell)] = i
	}
	for _, spec := range desc.Columns {
		if _, ok := position[spec.Source]; !ok {
			return nil, &SchemaError{Sheet: desc.Sheet, Column: spec.Source}
		}
	}

	table := &Table{
		Category: desc.Category,
		Sheet:    desc.Sheet,
		Columns:  make([]string, 0, len(desc.Columns)),
	}
	for _, spec := range desc.Columns {
		table.Columns = append(table.Columns, spec.Canonical)
	}

	for rowIdx, cells := range raw[1:] {
		row := make(Row, len(desc.Columns))
		empty := true
		for _, spec := range desc.Columns {
			var cell string
			if pos := position[spec.Source]; pos < len(cells) {
				cell = strings.TrimSpace(cells[pos])
			}
			value, err := parseCell(cell, spec.Type)
			if err != nil {
				return nil, fmt.Errorf("sheet %s row %d column %s: %w", desc.Sheet, rowIdx+2, spec.Source, err)
			}
			if !value.IsNull() {
				empty = false
			}
			row[spec.Canonical] = value
		}
		// Trailing all-blank rows are a spreadsheet artifact, not data.
		if empty {
			continue
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func parseCell(cell string, t ColumnType) (Value, error) {
	if cell == "" {
		return NullValue(), nil
	}
	switch t {
	case TypeString:
		return StringValue(cell), nil
	case TypeYear:
		// Year cells arrive as integers, sometimes with a float
		// representation from the spreadsheet engine.
		if y, err := strconv.Atoi(cell); err == nil {
			return YearValue(y), nil
		}
		d, err := decimal.NewFromString(cell)
		if err != nil {
			return Value{}, fmt.Errorf("parse year %q: %w", cell, err)
		}
		return YearValue(int(d.IntPart())), nil
	case TypeDecimal:
		d, err := decimal.NewFromString(cell)
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", cell, err)
		}
		return DecimalValue(d), nil
	case TypeDate:
		// Raw date cells are spreadsheet serial numbers; text-formatted
		// sheets fall back to common layouts.
		if serial, err := strconv.ParseFloat(cell, 64); err == nil {
			d, err := excelize.ExcelDateToTime(serial, false)
			if err != nil {
				return Value{}, fmt.Errorf("parse date serial %q: %w", cell, err)
			}
			return DateValue(d), nil
		}
		for _, layout := range dateLayouts {
			if d, err := time.Parse(layout, cell); err == nil {
				return DateValue(d), nil
			}
		}
		return Value{}, fmt.Errorf("parse date %q: unrecognized format", cell)
	}
	return Value{}, fmt.Errorf("unknown column type %d", t)
}
