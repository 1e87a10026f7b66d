package grid

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/view"
)

func rowNames(t *testing.T, m *Materialized) []string {
	t.Helper()
	var names []string
	for r, err := range m.Rows() {
		require.NoError(t, err)
		names = append(names, r.Name)
	}
	return names
}

func TestMaterializeSpec(t *testing.T) {
	h := newHarness(t)
	ob := newOrderBoard(h)
	status := h.column(ob.board.ID, "Status", coltype.TypeStatus, coltype.Settings{})
	q1, err := h.e.CreateGroup(h.ctx, GroupInput{BoardID: ob.board.ID, Title: "Q1"})
	require.NoError(t, err)

	add := func(name string, group *int64, price, qty int, st string) {
		t.Helper()
		_, err := h.e.CreateItem(h.ctx, ItemInput{BoardID: ob.board.ID, GroupID: group, Name: name, Cells: map[int64]any{
			ob.price.ID: price, ob.qty.ID: qty, status.ID: st,
		}})
		require.NoError(t, err)
	}
	add("door", &q1.ID, 100, 2, "Done")
	add("window", nil, 30, 1, "Stuck")
	add("frame", &q1.ID, 40, 3, "Done")
	add("hinge", nil, 5, 4, "Working on it")

	t.Run("filter and sort on a formula", func(t *testing.T) {
		m, err := h.e.MaterializeSpec(h.ctx, ob.board.ID, view.Spec{
			Filter: &view.Filter{ColumnID: ob.total.ID, Op: view.OpGt, Value: 25},
			Sort:   []view.SortKey{{ColumnID: ob.total.ID, Desc: true}},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, m.Count())
		assert.Equal(t, []string{"door", "frame", "window"}, rowNames(t, m))
		assert.Len(t, m.Columns, 4)
	})

	t.Run("board groups", func(t *testing.T) {
		m, err := h.e.MaterializeSpec(h.ctx, ob.board.ID, view.Spec{GroupBy: &view.GroupBy{}})
		require.NoError(t, err)
		var keys []string
		for g, err := range m.Groups() {
			require.NoError(t, err)
			keys = append(keys, g.Key)
		}
		assert.Equal(t, []string{fmt.Sprintf("group:%d", q1.ID), "group:none"}, keys)
		assert.Equal(t, []string{"door", "frame", "window", "hinge"}, rowNames(t, m))
	})

	t.Run("group by status", func(t *testing.T) {
		m, err := h.e.MaterializeSpec(h.ctx, ob.board.ID, view.Spec{
			Filter:  &view.Filter{ColumnID: status.ID, Op: view.OpAnyOf, Value: []any{"Done", "Stuck"}},
			GroupBy: &view.GroupBy{ColumnID: status.ID},
		})
		require.NoError(t, err)
		byTitle := map[string][]string{}
		for g, err := range m.Groups() {
			require.NoError(t, err)
			for _, r := range g.Rows {
				byTitle[g.Title] = append(byTitle[g.Title], r.Name)
			}
		}
		assert.Equal(t, map[string][]string{"Done": {"door", "frame"}, "Stuck": {"window"}}, byTitle)
	})

	t.Run("unknown column", func(t *testing.T) {
		_, err := h.e.MaterializeSpec(h.ctx, ob.board.ID, view.Spec{Sort: []view.SortKey{{ColumnID: 9999}}})
		require.Error(t, err)
	})
}

func TestSavedViews(t *testing.T) {
	h := newHarness(t)
	ob := newOrderBoard(h)
	h.item(ob.board.ID, "door", map[int64]any{ob.price.ID: 100, ob.qty.ID: 1})
	h.item(ob.board.ID, "hinge", map[int64]any{ob.price.ID: 1, ob.qty.ID: 1})

	v, err := h.e.SaveView(h.ctx, ob.board.ID, "Big orders", view.Spec{
		Filter: &view.Filter{ColumnID: ob.total.ID, Op: view.OpGte, Value: "50"},
	})
	require.NoError(t, err)

	m, err := h.e.MaterializeView(h.ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "Big orders", m.Name)
	assert.Equal(t, []string{"door"}, rowNames(t, m))

	// the view reads the cached formula cells, so it follows edits
	h.set(h.item(ob.board.ID, "frame", nil).ItemID, ob.price.ID, 60)
	_, err = h.e.UpdateView(h.ctx, v.ID, ViewPatch{Spec: &view.Spec{
		Filter: &view.Filter{ColumnID: ob.price.ID, Op: view.OpGte, Value: 50},
		Sort:   []view.SortKey{{ColumnID: ob.price.ID}},
	}})
	require.NoError(t, err)
	m, err = h.e.MaterializeView(h.ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"frame", "door"}, rowNames(t, m))

	_, err = h.e.UpdateView(h.ctx, v.ID, ViewPatch{Spec: &view.Spec{Filter: &view.Filter{ColumnID: ob.price.ID, Op: view.Op("near")}}})
	require.Error(t, err)

	views, err := h.e.ListViews(h.ctx, ob.board.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)

	require.NoError(t, h.e.DeleteView(h.ctx, v.ID))
	_, err = h.e.GetView(h.ctx, v.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteColumnPrunesSavedViews(t *testing.T) {
	h := newHarness(t)
	ob := newOrderBoard(h)
	h.item(ob.board.ID, "door", map[int64]any{ob.price.ID: 100, ob.qty.ID: 1})
	h.item(ob.board.ID, "hinge", map[int64]any{ob.price.ID: 1, ob.qty.ID: 1})

	v, err := h.e.SaveView(h.ctx, ob.board.ID, "By price", view.Spec{
		Filter: &view.Filter{ColumnID: ob.qty.ID, Op: view.OpGte, Value: 1},
		Sort:   []view.SortKey{{ColumnID: ob.price.ID, Desc: false}},
	})
	require.NoError(t, err)
	m, err := h.e.MaterializeView(h.ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"hinge", "door"}, rowNames(t, m))

	require.NoError(t, h.e.DeleteColumn(h.ctx, ob.price.ID))

	got, err := h.e.GetView(h.ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Spec.Sort)
	require.NotNil(t, got.Spec.Filter)
	assert.Equal(t, ob.qty.ID, got.Spec.Filter.ColumnID)

	m, err = h.e.MaterializeView(h.ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"door", "hinge"}, rowNames(t, m))
}

func TestMaterializeRespectsCancellation(t *testing.T) {
	h := newHarness(t)
	ob := newOrderBoard(h)
	h.item(ob.board.ID, "door", nil)

	ctx, cancel := context.WithCancel(h.ctx)
	cancel()
	_, err := h.e.MaterializeSpec(ctx, ob.board.ID, view.Spec{})
	require.Error(t, err)
}

func TestBoardSnapshot(t *testing.T) {
	h := newHarness(t)
	ob := newOrderBoard(h)
	status := h.column(ob.board.ID, "Status", coltype.TypeStatus, coltype.Settings{})
	row := h.item(ob.board.ID, "door", map[int64]any{ob.price.ID: 2, ob.qty.ID: 3})
	sub := h.subItem(row.ItemID, "measure")
	h.setSub(sub.ID, status.ID, "Done")

	s, err := h.e.GetBoardSnapshot(h.ctx, ob.board.ID)
	require.NoError(t, err)
	assert.Equal(t, ob.board.ID, s.Board.ID)
	assert.Len(t, s.Columns, 4)
	assert.Len(t, s.Items, 1)
	assert.Len(t, s.Cells, 3)
	require.Len(t, s.SubItems, 1)
	assert.Equal(t, sub.ID, s.SubItems[0].ID)
	require.Len(t, s.SubItemCells, 1)
	assert.Equal(t, sub.ID, s.SubItemCells[0].Key.SubItemID)

	_, err = h.e.GetBoardSnapshot(h.ctx, 4040)
	assert.True(t, errors.Is(err, ErrNotFound))
}
