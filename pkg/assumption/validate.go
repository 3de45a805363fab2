package assumption

import (
	"fmt"
	"time"
)

// Validate checks a candidate assumption snapshot against a simulation's date
// range. It is fail-fast: the first violated rule is reported and the rest
// are skipped, since re-validation after a fix is cheap. Returns ok together
// with a message suitable for the status detail of the triggering entity.
//
// Rules, in order, for every workbook category:
//   - no cell anywhere may be null;
//   - year-horizon categories must bracket the simulation's start and end years;
//   - date-horizon categories must bracket the start and end dates.
//
// end is exclusive, so the horizon only has to cover the day before it.
func Validate(tables map[Category]*Table, start, end time.Time) (bool, string) {
	lastDay := end.AddDate(0, 0, -1)
	for _, desc := range WorkbookCategories() {
		table, ok := tables[desc.Category]
		if !ok {
			return false, fmt.Sprintf("missing table for %s", desc.Sheet)
		}
		if table.HasNull() {
			return false, fmt.Sprintf("null value exists in %s", desc.Sheet)
		}

		switch desc.Horizon {
		case HorizonYear:
			minYear, maxYear, ok := table.YearBounds(desc.HorizonColumn)
			if !ok {
				return false, fmt.Sprintf("%s has no forecast rows", desc.Sheet)
			}
			if minYear > start.Year() {
				return false, fmt.Sprintf("the forecast data in %s starts later than the simulation start date", desc.Sheet)
			}
			if maxYear < lastDay.Year() {
				return false, fmt.Sprintf("the forecast data in %s ends before the simulation end date", desc.Sheet)
			}
		case HorizonDate:
			first, last, ok := table.DateBounds(desc.HorizonColumn)
			if !ok {
				return false, fmt.Sprintf("%s has no forecast rows", desc.Sheet)
			}
			if first.After(start) {
				return false, fmt.Sprintf("the forecast data in %s starts later than the simulation start date", desc.Sheet)
			}
			if last.Before(lastDay) {
				return false, fmt.Sprintf("the forecast data in %s ends before the simulation end date", desc.Sheet)
			}
		}
	}
	return true, "success"
}
