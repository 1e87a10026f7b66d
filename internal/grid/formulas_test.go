package grid

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

type orderBoard struct {
	board store.Board
	price store.Column
	qty   store.Column
	total store.Column
}

func newOrderBoard(h *harness) orderBoard {
	b := h.board("Orders")
	ob := orderBoard{board: b}
	ob.price = h.column(b.ID, "price", coltype.TypeNumbers, coltype.Settings{})
	ob.qty = h.column(b.ID, "qty", coltype.TypeNumbers, coltype.Settings{})
	ob.total = h.column(b.ID, "total", coltype.TypeFormula, coltype.Settings{Formula: "{price}*{qty}"})
	return ob
}

func TestFormulaRecomputesOnInputChange(t *testing.T) {
	h := newHarness(t)
	ob := newOrderBoard(h)

	row := h.item(ob.board.ID, "Door", map[int64]any{ob.price.ID: 100, ob.qty.ID: 3})
	requireNumber(t, "300", row.Values[ob.total.ID])

	h.set(row.ItemID, ob.qty.ID, 5)
	requireNumber(t, "500", h.cell(row.ItemID, ob.total.ID))
}

func TestFormulaBackfillsExistingItems(t *testing.T) {
	h := newHarness(t)
	b := h.board("Orders")
	price := h.column(b.ID, "price", coltype.TypeNumbers, coltype.Settings{})
	row := h.item(b.ID, "Window", map[int64]any{price.ID: "12.5"})

	taxed := h.column(b.ID, "taxed", coltype.TypeFormula, coltype.Settings{Formula: "ROUND({price} * 1.2, 1)"})
	requireNumber(t, "15", h.cell(row.ItemID, taxed.ID))
}

func TestFormulaChainsEvaluateInOrder(t *testing.T) {
	h := newHarness(t)
	ob := newOrderBoard(h)
	withTax := h.column(ob.board.ID, "with tax", coltype.TypeFormula, coltype.Settings{Formula: "{total} + {total} / 10"})
	label := h.column(ob.board.ID, "label", coltype.TypeFormula, coltype.Settings{Formula: `IF({with tax} > 100, "big", "small")`})

	row := h.item(ob.board.ID, "Door", map[int64]any{ob.price.ID: 10, ob.qty.ID: 2})
	requireNumber(t, "22", h.cell(row.ItemID, withTax.ID))
	assert.Equal(t, value.Text("small"), h.cell(row.ItemID, label.ID))

	h.set(row.ItemID, ob.qty.ID, 20)
	requireNumber(t, "220", h.cell(row.ItemID, withTax.ID))
	assert.Equal(t, value.Text("big"), h.cell(row.ItemID, label.ID))
}

func TestFormulaErrorDoesNotSpreadToSiblings(t *testing.T) {
	h := newHarness(t)
	ob := newOrderBoard(h)
	ratio := h.column(ob.board.ID, "ratio", coltype.TypeFormula, coltype.Settings{Formula: "{price} / {qty}"})

	row := h.item(ob.board.ID, "Door", map[int64]any{ob.price.ID: 100, ob.qty.ID: 0})
	assert.Equal(t, value.KindError, h.cell(row.ItemID, ratio.ID).Kind)
	requireNumber(t, "0", h.cell(row.ItemID, ob.total.ID))
}

func TestFormulaCycleIsRejected(t *testing.T) {
	h := newHarness(t)
	b := h.board("Loop")
	a := h.column(b.ID, "a", coltype.TypeNumbers, coltype.Settings{})
	f1 := h.column(b.ID, "f1", coltype.TypeFormula, coltype.Settings{Formula: "{a} + 1"})
	h.column(b.ID, "f2", coltype.TypeFormula, coltype.Settings{Formula: "{f1} + 1"})

	_, err := h.e.UpdateColumn(h.ctx, f1.ID, ColumnPatch{Settings: &coltype.Settings{Formula: "{f2} + 1"}})
	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ce.Path[0], ce.Path[len(ce.Path)-1])
	assert.Contains(t, ce.Labels, "f2")

	cols, err := h.e.ListColumns(h.ctx, b.ID)
	require.NoError(t, err)
	for _, c := range cols {
		if c.ID == f1.ID {
			assert.Equal(t, "{a} + 1", c.Settings.Formula)
		}
	}

	_, err = h.e.CreateColumn(h.ctx, ColumnInput{BoardID: b.ID, Title: "self", Type: coltype.TypeFormula, Settings: coltype.Settings{Formula: "{self} * 2"}})
	require.ErrorAs(t, err, &ce)
	cols, err = h.e.ListColumns(h.ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, cols, 3)
	_ = a
}

func TestFormulaUnknownReference(t *testing.T) {
	h := newHarness(t)
	b := h.board("Orders")
	_, err := h.e.CreateColumn(h.ctx, ColumnInput{BoardID: b.ID, Title: "total", Type: coltype.TypeFormula, Settings: coltype.Settings{Formula: "{missing} + 1"}})
	var vErr *coltype.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "missing")
}

func TestRenameRewritesFormulas(t *testing.T) {
	h := newHarness(t)
	ob := newOrderBoard(h)
	row := h.item(ob.board.ID, "Door", map[int64]any{ob.price.ID: 4, ob.qty.ID: 2})

	_, err := h.e.UpdateColumn(h.ctx, ob.price.ID, ColumnPatch{Title: ptr("unit price")})
	require.NoError(t, err)

	cols, err := h.e.ListColumns(h.ctx, ob.board.ID)
	require.NoError(t, err)
	for _, c := range cols {
		if c.ID == ob.total.ID {
			assert.True(t, strings.Contains(c.Settings.Formula, "{unit price}"), c.Settings.Formula)
		}
	}
	h.set(row.ItemID, ob.price.ID, 5)
	requireNumber(t, "10", h.cell(row.ItemID, ob.total.ID))
}

func TestDeletingReferencedColumnTurnsFormulaIntoError(t *testing.T) {
	h := newHarness(t)
	ob := newOrderBoard(h)
	row := h.item(ob.board.ID, "Door", map[int64]any{ob.price.ID: 4, ob.qty.ID: 2})

	require.NoError(t, h.e.DeleteColumn(h.ctx, ob.qty.ID))
	assert.Equal(t, value.KindError, h.cell(row.ItemID, ob.total.ID).Kind)

	// a new column with the old title brings the formula back
	qty := h.column(ob.board.ID, "qty", coltype.TypeNumbers, coltype.Settings{})
	h.set(row.ItemID, qty.ID, 3)
	requireNumber(t, "12", h.cell(row.ItemID, ob.total.ID))
}

func TestRecomputeFormulasIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ob := newOrderBoard(h)
	row := h.item(ob.board.ID, "Door", map[int64]any{ob.price.ID: 7, ob.qty.ID: 3})
	before, err := h.e.GetCellValue(h.ctx, store.ItemCell(row.ItemID, ob.total.ID))
	require.NoError(t, err)

	_, err = h.e.RecomputeFormulas(h.ctx, ob.board.ID)
	require.NoError(t, err)
	writes, err := h.e.RecomputeFormulas(h.ctx, ob.board.ID)
	require.NoError(t, err)
	assert.Zero(t, writes)

	after, err := h.e.GetCellValue(h.ctx, store.ItemCell(row.ItemID, ob.total.ID))
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.True(t, before.Value.Equal(after.Value))
}

func TestRecomputeFormulasUnknownBoard(t *testing.T) {
	h := newHarness(t)
	_, err := h.e.RecomputeFormulas(h.ctx, 999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFormulaPrecisionChangeRecomputes(t *testing.T) {
	h := newHarness(t)
	b := h.board("Split")
	a := h.column(b.ID, "a", coltype.TypeNumbers, coltype.Settings{})
	third := h.column(b.ID, "third", coltype.TypeFormula, coltype.Settings{Formula: "{a} / 3", Precision: ptr(int32(2))})
	row := h.item(b.ID, "door", map[int64]any{a.ID: 10})
	requireNumber(t, "3.33", h.cell(row.ItemID, third.ID))

	_, err := h.e.UpdateColumn(h.ctx, third.ID, ColumnPatch{Settings: &coltype.Settings{Formula: "{a} / 3", Precision: ptr(int32(0))}})
	require.NoError(t, err)
	requireNumber(t, "3", h.cell(row.ItemID, third.ID))
}

func TestFormulaRoundWithHugePlacesIsAnError(t *testing.T) {
	h := newHarness(t)
	b := h.board("Round")
	a := h.column(b.ID, "a", coltype.TypeNumbers, coltype.Settings{})
	f := h.column(b.ID, "f", coltype.TypeFormula, coltype.Settings{Formula: "ROUND({a}, 100000000)"})
	row := h.item(b.ID, "door", map[int64]any{a.ID: "1.5"})
	assert.Equal(t, value.KindError, h.cell(row.ItemID, f.ID).Kind)
}

func TestFormulaReattachesToRecreatedColumn(t *testing.T) {
	h := newHarness(t)
	b := h.board("Reattach")
	a := h.column(b.ID, "a", coltype.TypeNumbers, coltype.Settings{})
	double := h.column(b.ID, "double", coltype.TypeFormula, coltype.Settings{Formula: "{a} * 2"})
	row := h.item(b.ID, "door", map[int64]any{a.ID: 3})
	requireNumber(t, "6", h.cell(row.ItemID, double.ID))

	require.NoError(t, h.e.DeleteColumn(h.ctx, a.ID))
	assert.Equal(t, value.KindError, h.cell(row.ItemID, double.ID).Kind)

	again := h.column(b.ID, "a", coltype.TypeNumbers, coltype.Settings{})
	h.set(row.ItemID, again.ID, 4)
	requireNumber(t, "8", h.cell(row.ItemID, double.ID))
}
