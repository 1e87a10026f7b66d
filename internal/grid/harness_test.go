package grid

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/view"
)

type harness struct {
	t   *testing.T
	ctx context.Context
	e   *Engine
	ws  store.Workspace
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	e := New(store.NewMemoryStore(), opts...)
	ctx := context.Background()
	ws, err := e.CreateWorkspace(ctx, "Acme")
	require.NoError(t, err)
	return &harness{t: t, ctx: ctx, e: e, ws: ws}
}

func (h *harness) board(name string) store.Board {
	h.t.Helper()
	b, err := h.e.CreateBoard(h.ctx, BoardInput{WorkspaceID: h.ws.ID, Name: name})
	require.NoError(h.t, err)
	return b
}

func (h *harness) column(boardID int64, title string, typ coltype.Type, s coltype.Settings) store.Column {
	h.t.Helper()
	c, err := h.e.CreateColumn(h.ctx, ColumnInput{BoardID: boardID, Title: title, Type: typ, Settings: s})
	require.NoError(h.t, err)
	return c
}

func (h *harness) item(boardID int64, name string, cells map[int64]any) view.Row {
	h.t.Helper()
	row, err := h.e.CreateItem(h.ctx, ItemInput{BoardID: boardID, Name: name, Cells: cells})
	require.NoError(h.t, err)
	return row
}

func (h *harness) subItem(parentID int64, name string) store.SubItem {
	h.t.Helper()
	s, err := h.e.CreateSubItem(h.ctx, parentID, name)
	require.NoError(h.t, err)
	return s
}

func (h *harness) set(itemID, columnID int64, v any) store.Cell {
	h.t.Helper()
	c, err := h.e.SetCellValue(h.ctx, CellWrite{ItemID: itemID, ColumnID: columnID, Value: v})
	require.NoError(h.t, err)
	return c
}

func (h *harness) setSub(subItemID, columnID int64, v any) store.Cell {
	h.t.Helper()
	c, err := h.e.SetCellValue(h.ctx, CellWrite{SubItemID: subItemID, ColumnID: columnID, Value: v})
	require.NoError(h.t, err)
	return c
}

func (h *harness) cell(itemID, columnID int64) value.Value {
	h.t.Helper()
	c, err := h.e.GetCellValue(h.ctx, store.ItemCell(itemID, columnID))
	require.NoError(h.t, err)
	return c.Value
}

func requireNumber(t *testing.T, want string, v value.Value) {
	t.Helper()
	require.Equal(t, value.KindNumber, v.Kind, "value %s", v)
	require.True(t, decimal.RequireFromString(want).Equal(v.Number), "want %s, got %s", want, v.Number)
}

func ptr[T any](v T) *T { return &v }
