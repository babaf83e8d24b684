// Package calendar lays out a month of scheduled events as a week grid.
package calendar

import (
	"fmt"
	"time"
)

// WeekLength is the number of columns in the grid.
const WeekLength = 7

// DateLayout is the key format of the events map.
const DateLayout = "2006-01-02"

// Cell is one grid position. Blank cells have Day == 0.
type Cell struct {
	Day      int      `json:"day,omitempty"`
	Date     string   `json:"date,omitempty"`
	EventIDs []string `json:"event_ids,omitempty"`
}

func (c Cell) Blank() bool { return c.Day == 0 }

// MonthDays returns the number of days in month.
func MonthDays(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// FirstWeekday returns the ISO weekday (1 = Monday … 7 = Sunday) of the first
// day of month.
func FirstWeekday(year int, month time.Month) int {
	wd := int(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// Grid returns rows of exactly WeekLength cells: firstWeekday-1 leading
// blanks, one cell per day carrying the events keyed at its date in their
// stored order, and trailing blanks to complete the last week.
// firstWeekday outside 1..7 is derived from the date with Monday first.
func Grid(year int, month time.Month, events map[string][]string, firstWeekday int) [][]Cell {
	if firstWeekday < 1 || firstWeekday > WeekLength {
		firstWeekday = FirstWeekday(year, month)
	}

	cells := make([]Cell, 0, 42)
	for i := 0; i < firstWeekday-1; i++ {
		cells = append(cells, Cell{})
	}
	for day := 1; day <= MonthDays(year, month); day++ {
		date := fmt.Sprintf("%04d-%02d-%02d", year, int(month), day)
		cell := Cell{Day: day, Date: date}
		if ids := events[date]; len(ids) > 0 {
			cell.EventIDs = append([]string(nil), ids...)
		}
		cells = append(cells, cell)
	}
	for len(cells)%WeekLength != 0 {
		cells = append(cells, Cell{})
	}

	rows := make([][]Cell, 0, len(cells)/WeekLength)
	for i := 0; i < len(cells); i += WeekLength {
		rows = append(rows, cells[i:i+WeekLength])
	}
	return rows
}
