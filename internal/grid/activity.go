package grid

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

const (
	ActivityCellChanged        = "cell_changed"
	ActivityDerivedCellChanged = "derived_cell_changed"
	ActivityBoardCreated       = "board_created"
	ActivityBoardUpdated       = "board_updated"
	ActivityBoardDeleted       = "board_deleted"
	ActivityColumnCreated      = "column_created"
	ActivityColumnUpdated      = "column_updated"
	ActivityColumnDeleted      = "column_deleted"
	ActivityGroupCreated       = "group_created"
	ActivityGroupDeleted       = "group_deleted"
	ActivityItemCreated        = "item_created"
	ActivityItemUpdated        = "item_updated"
	ActivityItemDeleted        = "item_deleted"
	ActivitySubItemCreated     = "subitem_created"
	ActivitySubItemDeleted     = "subitem_deleted"
	ActivityDependencyAdded    = "dependency_added"
	ActivityDependencyRemoved  = "dependency_removed"
	ActivityViewCreated        = "view_created"
	ActivityViewUpdated        = "view_updated"
	ActivityViewDeleted        = "view_deleted"
)

type cellPayload struct {
	ColumnID  int64       `json:"columnId"`
	SubItemID int64       `json:"subItemId,omitempty"`
	Value     value.Value `json:"value"`
}

func encodePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode activity: %w", err)
	}
	return raw, nil
}

// record appends one activity row inside the mutation's transaction.
func (m *mutation) record(boardID, itemID int64, typ string, oldValue, newValue any) error {
	a := store.Activity{BoardID: boardID, Type: typ, CreatedAt: m.e.now()}
	if itemID != 0 {
		id := itemID
		a.ItemID = &id
	}
	var err error
	if a.OldValue, err = encodePayload(oldValue); err != nil {
		return err
	}
	if a.NewValue, err = encodePayload(newValue); err != nil {
		return err
	}
	if err := m.tx.AppendActivity(m.ctx, &a); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	m.activity = append(m.activity, a)
	return nil
}

func (m *mutation) recordCell(typ string, col store.Column, key store.CellKey, itemID int64, oldValue, newValue value.Value) error {
	return m.record(col.BoardID, itemID, typ,
		cellPayload{ColumnID: col.ID, SubItemID: key.SubItemID, Value: oldValue},
		cellPayload{ColumnID: col.ID, SubItemID: key.SubItemID, Value: newValue},
	)
}

// ListActivity pages through a board's activity by id. boardID 0 reads
// every board.
func (e *Engine) ListActivity(ctx context.Context, boardID, afterID int64, limit int) ([]store.Activity, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []store.Activity
	err := e.read(ctx, "list_activity", func(tx store.Tx) error {
		var err error
		out, err = tx.ListActivity(ctx, boardID, afterID, limit)
		return err
	})
	return out, err
}
