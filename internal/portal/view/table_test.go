package view

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/portal/selection"
)

func sampleTask() *model.Task {
	return &model.Task{
		ID:      1,
		RunName: "demo",
		Epitopes: []model.Epitope{
			{N: 1, Sequence: "KDEPSTNA", Start: 10, End: 17, Length: 8, BepiPred3: 0.61},
			{N: 9, Sequence: "GGHILMRQ", Start: 2, End: 9, Length: 8, BepiPred3: 0.55},
			{N: 2, Sequence: "ABCWYVTS", Start: 30, End: 37, Length: 8, BepiPred3: 0.72},
		},
	}
}

func TestEmptySearchReturnsAllRows(t *testing.T) {
	tbl := NewTable(selection.New())
	tbl.SetTask(sampleTask())

	rows := tbl.VisibleRows()
	require.Len(t, rows, 3)
	// original order preserved when no sort column is set
	require.Equal(t, 1, rows[0].N)
	require.Equal(t, 9, rows[1].N)
	require.Equal(t, 2, rows[2].N)
}

func TestFilterIsCaseInsensitiveOverAnyColumn(t *testing.T) {
	tbl := NewTable(selection.New())
	tbl.SetTask(sampleTask())

	tbl.SetSearch("kdep")
	rows := tbl.VisibleRows()
	require.Len(t, rows, 1)
	require.Equal(t, "KDEPSTNA", rows[0].Sequence)

	// numeric columns match on their string form too
	tbl.SetSearch("30")
	rows = tbl.VisibleRows()
	require.Len(t, rows, 1)
	require.Equal(t, "ABCWYVTS", rows[0].Sequence)

	tbl.SetSearch("no such thing")
	require.Empty(t, tbl.VisibleRows())
}

func TestSortIsNumericNotLexicographic(t *testing.T) {
	task := &model.Task{
		ID: 1,
		Epitopes: []model.Epitope{
			{N: 10, Sequence: "AAA"},
			{N: 9, Sequence: "BBB"},
			{N: 2, Sequence: "CCC"},
		},
	}
	tbl := NewTable(selection.New())
	tbl.SetTask(task)

	tbl.SortBy("n")
	rows := tbl.VisibleRows()
	require.Equal(t, []int{2, 9, 10}, []int{rows[0].N, rows[1].N, rows[2].N})

	// second click on the same column flips direction
	tbl.SortBy("n")
	rows = tbl.VisibleRows()
	require.Equal(t, []int{10, 9, 2}, []int{rows[0].N, rows[1].N, rows[2].N})

	// a different column starts ascending again
	tbl.SortBy("epitope")
	rows = tbl.VisibleRows()
	require.Equal(t, "AAA", rows[0].Sequence)
}

func TestSelectPublishesEpitope(t *testing.T) {
	slot := selection.New()
	tbl := NewTable(slot)
	tbl.SetTask(sampleTask())

	tbl.Select(1)
	require.NotNil(t, slot.CurrentEpitope())
	require.Equal(t, 9, slot.CurrentEpitope().N)

	// out-of-range selection is ignored
	tbl.Select(99)
	require.Equal(t, 9, slot.CurrentEpitope().N)
}

func TestClearingTaskClearsBothSlots(t *testing.T) {
	slot := selection.New()
	tbl := NewTable(slot)
	tbl.SetTask(sampleTask())
	tbl.Select(0)
	require.NotNil(t, slot.CurrentTask())
	require.NotNil(t, slot.CurrentEpitope())

	tbl.SetTask(nil)
	require.Nil(t, slot.CurrentTask())
	require.Nil(t, slot.CurrentEpitope())
	require.Nil(t, tbl.VisibleRows())
}

func TestRowExpansion(t *testing.T) {
	tbl := NewTable(selection.New())
	tbl.SetTask(sampleTask())

	require.Equal(t, -1, tbl.Expanded())
	tbl.ToggleExpand(2)
	require.Equal(t, 2, tbl.Expanded())
	// expanding another row moves the single expansion slot
	tbl.ToggleExpand(0)
	require.Equal(t, 0, tbl.Expanded())
	// toggling the expanded row collapses it
	tbl.ToggleExpand(0)
	require.Equal(t, -1, tbl.Expanded())

	// filter changes collapse the expansion, its index is stale
	tbl.ToggleExpand(1)
	tbl.SetSearch("kdep")
	require.Equal(t, -1, tbl.Expanded())
}
