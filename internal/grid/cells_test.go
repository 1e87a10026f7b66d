package grid

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

func TestSetCellValueRoundTrip(t *testing.T) {
	h := newHarness(t)
	b := h.board("Leads")
	status := h.column(b.ID, "Status", coltype.TypeStatus, coltype.Settings{})
	email := h.column(b.ID, "Email", coltype.TypeEmail, coltype.Settings{})
	due := h.column(b.ID, "Due", coltype.TypeDate, coltype.Settings{})
	tags := h.column(b.ID, "Tags", coltype.TypeTags, coltype.Settings{})
	row := h.item(b.ID, "Smith", nil)

	tests := []struct {
		name   string
		column store.Column
		raw    any
		want   value.Value
	}{
		{"status label is canonicalized", status, "done", value.Text("Done")},
		{"email", email, "sam@example.com", value.Text("sam@example.com")},
		{"date", due, "2024-03-01", value.Date(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))},
		{"tags", tags, []any{"b", "a", "b"}, value.List([]string{"b", "a"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			written := h.set(row.ItemID, tt.column.ID, tt.raw)
			got := h.cell(row.ItemID, tt.column.ID)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.True(t, written.Value.Equal(got))
		})
	}
}

func TestCellVersionsIncrease(t *testing.T) {
	h := newHarness(t)
	b := h.board("Leads")
	amount := h.column(b.ID, "Amount", coltype.TypeNumbers, coltype.Settings{})
	row := h.item(b.ID, "Smith", nil)

	first := h.set(row.ItemID, amount.ID, 10)
	assert.Equal(t, int64(1), first.Version)
	second := h.set(row.ItemID, amount.ID, 20)
	assert.Equal(t, int64(2), second.Version)

	cleared := h.set(row.ItemID, amount.ID, nil)
	assert.Equal(t, int64(3), cleared.Version)
	assert.True(t, cleared.Value.IsEmpty())
}

func TestExpectedVersionMismatch(t *testing.T) {
	h := newHarness(t)
	b := h.board("Leads")
	amount := h.column(b.ID, "Amount", coltype.TypeNumbers, coltype.Settings{})
	row := h.item(b.ID, "Smith", nil)
	h.set(row.ItemID, amount.ID, 10)

	_, err := h.e.SetCellValue(h.ctx, CellWrite{ItemID: row.ItemID, ColumnID: amount.ID, Value: 11, ExpectedVersion: ptr(int64(0))})
	var cm *ConcurrentModificationError
	require.ErrorAs(t, err, &cm)
	assert.Equal(t, int64(0), cm.Expected)
	assert.Equal(t, int64(1), cm.Actual)
	requireNumber(t, "10", h.cell(row.ItemID, amount.ID))

	c, err := h.e.SetCellValue(h.ctx, CellWrite{ItemID: row.ItemID, ColumnID: amount.ID, Value: 11, ExpectedVersion: ptr(int64(1))})
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Version)
}

func TestDerivedColumnsRejectWrites(t *testing.T) {
	h := newHarness(t)
	b := h.board("Leads")
	derived := []coltype.Type{coltype.TypeAutoNumber, coltype.TypeItemID, coltype.TypeCreationLog, coltype.TypeLastUpdated}
	row := h.item(b.ID, "Smith", nil)
	for _, typ := range derived {
		c := h.column(b.ID, string(typ), typ, coltype.Settings{})
		_, err := h.e.SetCellValue(h.ctx, CellWrite{ItemID: row.ItemID, ColumnID: c.ID, Value: 1})
		var wr *WriteRejectedError
		require.ErrorAs(t, err, &wr, "type %s", typ)
		assert.Equal(t, c.ID, wr.ColumnID)
	}
}

func TestValidationErrorsCarryColumn(t *testing.T) {
	h := newHarness(t)
	b := h.board("Leads")
	rating := h.column(b.ID, "Rating", coltype.TypeRating, coltype.Settings{})
	row := h.item(b.ID, "Smith", nil)

	_, err := h.e.SetCellValue(h.ctx, CellWrite{ItemID: row.ItemID, ColumnID: rating.ID, Value: 9})
	var vErr *coltype.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, rating.ID, vErr.ColumnID)
	assert.Equal(t, coltype.TypeRating, vErr.Type)
}

func TestSystemColumns(t *testing.T) {
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, WithClock(func() time.Time { return clock }))
	b := h.board("Leads")
	first := h.item(b.ID, "first", nil)
	second := h.item(b.ID, "second", nil)

	seq := h.column(b.ID, "No.", coltype.TypeAutoNumber, coltype.Settings{})
	id := h.column(b.ID, "ID", coltype.TypeItemID, coltype.Settings{})
	updated := h.column(b.ID, "Updated", coltype.TypeLastUpdated, coltype.Settings{})
	amount := h.column(b.ID, "Amount", coltype.TypeNumbers, coltype.Settings{})

	requireNumber(t, "1", h.cell(first.ItemID, seq.ID))
	requireNumber(t, "2", h.cell(second.ItemID, seq.ID))
	third := h.item(b.ID, "third", nil)
	requireNumber(t, "3", third.Values[seq.ID])
	assert.True(t, value.Int(second.ItemID).Equal(h.cell(second.ItemID, id.ID)))

	clock = clock.Add(time.Hour)
	h.set(first.ItemID, amount.ID, 5)
	assert.True(t, value.Date(clock).Equal(h.cell(first.ItemID, updated.ID)))
}

func TestGetRowValuesIncludesEveryColumn(t *testing.T) {
	h := newHarness(t)
	b := h.board("Leads")
	amount := h.column(b.ID, "Amount", coltype.TypeNumbers, coltype.Settings{})
	notes := h.column(b.ID, "Notes", coltype.TypeLongText, coltype.Settings{})
	row := h.item(b.ID, "Smith", map[int64]any{amount.ID: 3})

	got, err := h.e.GetRowValues(h.ctx, row.ItemID)
	require.NoError(t, err)
	require.Len(t, got.Values, 2)
	requireNumber(t, "3", got.Values[amount.ID])
	assert.True(t, got.Values[notes.ID].IsEmpty())

	_, err = h.e.GetRowValues(h.ctx, 9999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLinkTargetsMustExist(t *testing.T) {
	h := newHarness(t)
	b := h.board("Leads")
	other := h.board("Clients")
	link := h.column(b.ID, "Client", coltype.TypeLink, coltype.Settings{LinkedBoardID: other.ID})
	row := h.item(b.ID, "Smith", nil)
	sameBoard := h.item(b.ID, "Jones", nil)

	_, err := h.e.SetCellValue(h.ctx, CellWrite{ItemID: row.ItemID, ColumnID: link.ID, Value: []any{4242}})
	var vErr *coltype.ValidationError
	require.ErrorAs(t, err, &vErr)

	_, err = h.e.SetCellValue(h.ctx, CellWrite{ItemID: row.ItemID, ColumnID: link.ID, Value: []any{sameBoard.ItemID}})
	require.ErrorAs(t, err, &vErr)
}

func TestSubItemCellsOnlyStatusAndNumbers(t *testing.T) {
	h := newHarness(t)
	b := h.board("Jobs")
	notes := h.column(b.ID, "Notes", coltype.TypeText, coltype.Settings{})
	hours := h.column(b.ID, "Hours", coltype.TypeNumbers, coltype.Settings{})
	parent := h.item(b.ID, "Install", nil)
	sub := h.subItem(parent.ItemID, "Measure")

	_, err := h.e.SetCellValue(h.ctx, CellWrite{SubItemID: sub.ID, ColumnID: notes.ID, Value: "x"})
	var vErr *coltype.ValidationError
	require.ErrorAs(t, err, &vErr)

	c := h.setSub(sub.ID, hours.ID, 2)
	requireNumber(t, "2", c.Value)

	_, err = h.e.SetCellValue(h.ctx, CellWrite{ItemID: parent.ItemID, SubItemID: sub.ID, ColumnID: hours.ID, Value: 1})
	require.ErrorAs(t, err, &vErr)
}

func TestActivityIsRecordedPerMutation(t *testing.T) {
	h := newHarness(t)
	ob := newOrderBoard(h)
	row := h.item(ob.board.ID, "Door", map[int64]any{ob.qty.ID: 3})

	var seen []store.Activity
	h.e.AddCommitHook(func(_ context.Context, cs Changeset) { seen = append(seen, cs.Activity...) })
	h.set(row.ItemID, ob.price.ID, 2)

	require.Len(t, seen, 2)
	assert.Equal(t, ActivityCellChanged, seen[0].Type)
	assert.Equal(t, ActivityDerivedCellChanged, seen[1].Type)

	var payload struct {
		ColumnID int64       `json:"columnId"`
		Value    value.Value `json:"value"`
	}
	require.NoError(t, json.Unmarshal(seen[0].NewValue, &payload))
	assert.Equal(t, ob.price.ID, payload.ColumnID)
	requireNumber(t, "2", payload.Value)

	all, err := h.e.ListActivity(h.ctx, ob.board.ID, 0, 0)
	require.NoError(t, err)
	tail, err := h.e.ListActivity(h.ctx, ob.board.ID, seen[0].ID-1, 10)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, seen[0].ID, tail[0].ID)
	assert.Greater(t, len(all), len(tail))
}
