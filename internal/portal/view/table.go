// Package view is the result-table view model: it projects the
// selected task's epitopes through free-text filtering and column
// sorting, and publishes row selection on the shared selection
// channel.
package view

import (
	"sort"
	"strconv"
	"strings"

	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/portal/selection"
)

// Columns lists the sortable table columns in display order.
var Columns = []string{
	"n", "epitope", "start", "end", "length",
	"mwKDa", "iP", "hydropathy",
	"bepiPred3", "emini", "kolaskar", "chouFosman", "karplusSchulz", "parker",
	"nglyc", "nglycCount",
}

// Table holds one view's ephemeral filter, sort, selection, and row
// expansion state. State resets when a new task is shown.
type Table struct {
	slot *selection.Channel

	task      *model.Task
	search    string
	sortCol   string
	ascending bool
	expanded  int // index into VisibleRows, -1 for none
}

func NewTable(slot *selection.Channel) *Table {
	return &Table{slot: slot, expanded: -1}
}

// SetTask switches the table to a task's result rows and publishes it
// as the current task. Passing nil clears both selection slots so
// detail views do not keep showing rows of a task that is gone.
func (t *Table) SetTask(task *model.Task) {
	t.task = task
	t.search = ""
	t.sortCol = ""
	t.ascending = true
	t.expanded = -1

	t.slot.SetCurrentTask(task)
	if task == nil {
		t.slot.SetCurrentEpitope(nil)
	}
}

// SetSearch updates the free-text filter and collapses any expanded
// row, since its index no longer refers to the same row.
func (t *Table) SetSearch(text string) {
	t.search = text
	t.expanded = -1
}

// SortBy selects the sort column. Repeating the current column flips
// the direction; a new column starts ascending.
func (t *Table) SortBy(column string) {
	if t.sortCol == column {
		t.ascending = !t.ascending
	} else {
		t.sortCol = column
		t.ascending = true
	}
	t.expanded = -1
}

// VisibleRows applies the filter and sort state to the current task's
// epitopes.
func (t *Table) VisibleRows() []model.Epitope {
	if t.task == nil {
		return nil
	}

	rows := t.filter(t.task.Epitopes)
	if t.sortCol != "" {
		col, asc := t.sortCol, t.ascending
		sort.SliceStable(rows, func(i, j int) bool {
			less := compareValues(fieldString(&rows[i], col), fieldString(&rows[j], col))
			if asc {
				return less < 0
			}
			return less > 0
		})
	}
	return rows
}

// Select publishes the row at the given visible index as the current
// epitope. An out-of-range index is ignored.
func (t *Table) Select(index int) {
	rows := t.VisibleRows()
	if index < 0 || index >= len(rows) {
		return
	}
	row := rows[index]
	t.slot.SetCurrentEpitope(&row)
}

// ToggleExpand flips the topology/comparison detail for one visible
// row. At most one row is expanded at a time.
func (t *Table) ToggleExpand(index int) {
	if t.expanded == index {
		t.expanded = -1
	} else {
		t.expanded = index
	}
}

// Expanded returns the expanded visible-row index, or -1.
func (t *Table) Expanded() int { return t.expanded }

// filter keeps rows where any column's string form contains the
// search text case-insensitively. An empty search short-circuits to a
// copy of all rows.
func (t *Table) filter(epitopes []model.Epitope) []model.Epitope {
	if t.search == "" {
		rows := make([]model.Epitope, len(epitopes))
		copy(rows, epitopes)
		return rows
	}

	needle := strings.ToLower(t.search)
	var rows []model.Epitope
	for i := range epitopes {
		if rowMatches(&epitopes[i], needle) {
			rows = append(rows, epitopes[i])
		}
	}
	return rows
}

func rowMatches(e *model.Epitope, needle string) bool {
	for _, col := range Columns {
		if strings.Contains(strings.ToLower(fieldString(e, col)), needle) {
			return true
		}
	}
	return false
}

// compareValues orders two cell values numerically when both parse as
// numbers, falling back to string comparison otherwise. Returns
// -1, 0, or 1.
func compareValues(a, b string) int {
	na, errA := strconv.ParseFloat(a, 64)
	nb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// fieldString renders one column of a row the way the table displays
// it.
func fieldString(e *model.Epitope, column string) string {
	switch column {
	case "n":
		return strconv.Itoa(e.N)
	case "epitope":
		return e.Sequence
	case "start":
		return strconv.Itoa(e.Start)
	case "end":
		return strconv.Itoa(e.End)
	case "length":
		return strconv.Itoa(e.Length)
	case "mwKDa":
		return formatFloat(e.MolecularWeight)
	case "iP":
		return formatFloat(e.IsoelectricPoint)
	case "hydropathy":
		return formatFloat(e.Hydropathy)
	case "bepiPred3":
		return formatFloat(e.BepiPred3)
	case "emini":
		return formatFloat(e.Emini)
	case "kolaskar":
		return formatFloat(e.Kolaskar)
	case "chouFosman":
		return formatFloat(e.ChouFasman)
	case "karplusSchulz":
		return formatFloat(e.KarplusSchulz)
	case "parker":
		return formatFloat(e.Parker)
	case "nglyc":
		return e.NGlyc
	case "nglycCount":
		return strconv.Itoa(e.NGlycCount)
	default:
		return ""
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
