package grid

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/view"
)

// CellWrite is one direct cell edit. Exactly one of ItemID and SubItemID
// is set. A nil Value clears the cell.
type CellWrite struct {
	ItemID          int64
	SubItemID       int64
	ColumnID        int64
	Value           any
	ExpectedVersion *int64
}

// SetCellValue validates and stores one cell, then runs the cascade it
// triggers before committing.
func (e *Engine) SetCellValue(ctx context.Context, w CellWrite) (store.Cell, error) {
	var out store.Cell
	err := e.inTx(ctx, "set_cell", func(m *mutation) error {
		key, err := m.setCell(w)
		if err != nil {
			return err
		}
		if err := m.drain(); err != nil {
			return err
		}
		out, err = m.currentCell(key)
		return err
	})
	return out, err
}

// cellOwner is the resolved target of a write.
type cellOwner struct {
	key     store.CellKey
	boardID int64
	// itemID is the item, or the parent of the sub-item.
	itemID int64
}

func (m *mutation) resolveOwner(col store.Column, itemID, subItemID int64) (cellOwner, error) {
	switch {
	case itemID != 0 && subItemID != 0, itemID == 0 && subItemID == 0:
		return cellOwner{}, invalidf("a cell belongs to exactly one item or sub-item")
	case subItemID != 0:
		sub, err := m.tx.GetSubItem(m.ctx, subItemID)
		if err != nil {
			return cellOwner{}, fmt.Errorf("get sub-item %d: %w", subItemID, err)
		}
		if sub.BoardID != col.BoardID {
			return cellOwner{}, columnError(col, invalidf("column is not on the sub-item's board"))
		}
		if col.Type != coltype.TypeStatus && col.Type != coltype.TypeNumbers {
			return cellOwner{}, columnError(col, invalidf("sub-item cells only accept status and numbers columns"))
		}
		return cellOwner{key: store.SubItemCell(subItemID, col.ID), boardID: sub.BoardID, itemID: sub.ParentItemID}, nil
	}
	item, err := m.tx.GetItem(m.ctx, itemID)
	if err != nil {
		return cellOwner{}, fmt.Errorf("get item %d: %w", itemID, err)
	}
	if item.BoardID != col.BoardID {
		return cellOwner{}, columnError(col, invalidf("column is not on the item's board"))
	}
	return cellOwner{key: store.ItemCell(itemID, col.ID), boardID: item.BoardID, itemID: itemID}, nil
}

// setCell is the direct write path. It queues events but does not drain.
func (m *mutation) setCell(w CellWrite) (store.CellKey, error) {
	col, err := m.tx.GetColumn(m.ctx, w.ColumnID)
	if err != nil {
		return store.CellKey{}, fmt.Errorf("get column %d: %w", w.ColumnID, err)
	}
	capab, ok := coltype.Lookup(col.Type)
	if !ok {
		return store.CellKey{}, columnError(col, invalidf("unknown column type"))
	}
	if capab.Derived {
		return store.CellKey{}, &WriteRejectedError{ColumnID: col.ID, Type: col.Type}
	}
	owner, err := m.resolveOwner(col, w.ItemID, w.SubItemID)
	if err != nil {
		return store.CellKey{}, err
	}

	v, err := capab.Validate(col.Settings, w.Value)
	if err != nil {
		return store.CellKey{}, columnError(col, err)
	}
	if err := m.checkRefs(col, owner, v); err != nil {
		return store.CellKey{}, err
	}

	if col.Type == coltype.TypeProgress && owner.key.SubItemID == 0 {
		subs, err := m.tx.ListSubItems(m.ctx, owner.itemID)
		if err != nil {
			return store.CellKey{}, fmt.Errorf("list sub-items: %w", err)
		}
		if len(subs) > 0 {
			// rolled up from sub-items; the write is dropped
			return owner.key, nil
		}
	}

	cur, exists, err := m.tx.GetCell(m.ctx, owner.key, true)
	if err != nil {
		return store.CellKey{}, fmt.Errorf("get cell: %w", err)
	}
	if w.ExpectedVersion != nil {
		var actual int64
		if exists {
			actual = cur.Version
		}
		if *w.ExpectedVersion != actual {
			return store.CellKey{}, &ConcurrentModificationError{Key: owner.key, Expected: *w.ExpectedVersion, Actual: actual}
		}
	}

	if col.Type == coltype.TypeDependency {
		if err := m.writeDependencyColumn(owner.itemID, v); err != nil {
			return store.CellKey{}, err
		}
		return owner.key, m.touchRow(owner)
	}

	if _, err := m.storeCell(col, owner.key, cur, exists, v, "", originDirect); err != nil {
		return store.CellKey{}, err
	}
	if col.Type == coltype.TypeLink {
		if err := m.tx.ReplaceLinks(m.ctx, owner.itemID, col.ID, v.Refs); err != nil {
			return store.CellKey{}, fmt.Errorf("replace links: %w", err)
		}
	}
	if err := m.touchRow(owner); err != nil {
		return store.CellKey{}, err
	}
	old := value.Empty
	if exists {
		old = cur.Value
	}
	if err := m.recordCell(ActivityCellChanged, col, owner.key, owner.itemID, old, v); err != nil {
		return store.CellKey{}, err
	}
	m.emit(CellChanged{Column: col, Key: owner.key, Old: old, New: v, Origin: originDirect})
	return owner.key, nil
}

// checkRefs verifies that link and dependency targets exist.
func (m *mutation) checkRefs(col store.Column, owner cellOwner, v value.Value) error {
	if col.Type != coltype.TypeLink && col.Type != coltype.TypeDependency {
		return nil
	}
	for _, id := range v.Refs {
		target, err := m.tx.GetItem(m.ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return columnError(col, invalidf("item %d does not exist", id))
		}
		if err != nil {
			return fmt.Errorf("get item %d: %w", id, err)
		}
		if col.Type == coltype.TypeLink && col.Settings.LinkedBoardID != 0 && target.BoardID != col.Settings.LinkedBoardID {
			return columnError(col, invalidf("item %d is not on board %d", id, col.Settings.LinkedBoardID))
		}
		if col.Type == coltype.TypeDependency && id == owner.itemID {
			return &SelfDependencyError{ItemID: id}
		}
	}
	return nil
}

// storeCell writes v with the next version number.
func (m *mutation) storeCell(col store.Column, key store.CellKey, cur store.Cell, exists bool, v value.Value, hash string, from origin) (store.Cell, error) {
	capab, _ := coltype.Lookup(col.Type)
	next := store.Cell{
		BoardID:   col.BoardID,
		Key:       key,
		Value:     v,
		Shadow:    capab.Shadow(v),
		InputHash: hash,
		Version:   1,
		UpdatedAt: m.e.now(),
	}
	if exists {
		next.Version = cur.Version + 1
	}
	if err := m.tx.PutCell(m.ctx, &next); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Cell{}, &ConcurrentModificationError{Key: key, Expected: cur.Version}
		}
		return store.Cell{}, fmt.Errorf("put cell: %w", err)
	}
	m.writes++
	cellWrites.WithLabelValues(string(col.Type), string(from)).Inc()
	m.touchItem(col.BoardID, key.ItemID)
	return next, nil
}

// setDerived stores an engine-computed value. Unchanged values are not
// rewritten and publish nothing.
func (m *mutation) setDerived(col store.Column, key store.CellKey, v value.Value, hash string, from origin) error {
	if m.pinned[key] {
		return nil
	}
	cur, exists, err := m.tx.GetCell(m.ctx, key, true)
	if err != nil {
		return fmt.Errorf("get cell: %w", err)
	}
	old := value.Empty
	if exists {
		old = cur.Value
	}
	if old.Equal(v) {
		if exists && hash != "" && cur.InputHash != hash {
			_, err := m.storeCell(col, key, cur, exists, v, hash, from)
			return err
		}
		return nil
	}

	m.hits[key]++
	pin := m.hits[key] > m.e.cfg.CascadeLimit
	if pin {
		m.pinned[key] = true
		v = value.Error("circular reference")
		m.e.log.WithFields(log.Fields{"board_id": col.BoardID, "column_id": col.ID, "item_id": key.ItemID}).
			Warn("cascade limit reached, pinning cell")
	}
	if _, err := m.storeCell(col, key, cur, exists, v, hash, from); err != nil {
		return err
	}
	itemID := key.ItemID
	if itemID == 0 {
		sub, err := m.tx.GetSubItem(m.ctx, key.SubItemID)
		if err != nil {
			return fmt.Errorf("get sub-item %d: %w", key.SubItemID, err)
		}
		itemID = sub.ParentItemID
	}
	if err := m.recordCell(ActivityDerivedCellChanged, col, key, itemID, old, v); err != nil {
		return err
	}
	if !pin {
		m.emit(CellChanged{Column: col, Key: key, Old: old, New: v, Origin: from})
	}
	return nil
}

// touchRow bumps the owning item's updatedAt and its last_updated cells.
func (m *mutation) touchRow(owner cellOwner) error {
	item, err := m.tx.GetItem(m.ctx, owner.itemID)
	if err != nil {
		return fmt.Errorf("get item %d: %w", owner.itemID, err)
	}
	item.UpdatedAt = m.e.now()
	if err := m.tx.UpdateItem(m.ctx, item); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	m.touchItem(item.BoardID, item.ID)
	cols, err := m.columnsOfType(item.BoardID, coltype.TypeLastUpdated)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if err := m.setDerived(c, store.ItemCell(item.ID, c.ID), value.Date(item.UpdatedAt), "", originSystem); err != nil {
			return err
		}
	}
	return nil
}

// currentCell reads a cell, returning an empty version-0 cell if none is
// stored yet.
func (m *mutation) currentCell(key store.CellKey) (store.Cell, error) {
	return loadCell(m.ctx, m.tx, key)
}

func loadCell(ctx context.Context, tx store.Tx, key store.CellKey) (store.Cell, error) {
	col, err := tx.GetColumn(ctx, key.ColumnID)
	if err != nil {
		return store.Cell{}, fmt.Errorf("get column %d: %w", key.ColumnID, err)
	}
	c, ok, err := tx.GetCell(ctx, key, false)
	if err != nil {
		return store.Cell{}, fmt.Errorf("get cell: %w", err)
	}
	if !ok {
		return store.Cell{BoardID: col.BoardID, Key: key, Value: value.Empty}, nil
	}
	return c, nil
}

// GetCellValue returns the stored cell for key. Cells never written come
// back empty with version 0.
func (e *Engine) GetCellValue(ctx context.Context, key store.CellKey) (store.Cell, error) {
	var out store.Cell
	err := e.read(ctx, "get_cell", func(tx store.Tx) error {
		switch {
		case key.ItemID != 0 && key.SubItemID == 0:
			if _, err := tx.GetItem(ctx, key.ItemID); err != nil {
				return fmt.Errorf("get item %d: %w", key.ItemID, err)
			}
		case key.SubItemID != 0 && key.ItemID == 0:
			if _, err := tx.GetSubItem(ctx, key.SubItemID); err != nil {
				return fmt.Errorf("get sub-item %d: %w", key.SubItemID, err)
			}
		default:
			return invalidf("a cell belongs to exactly one item or sub-item")
		}
		var err error
		out, err = loadCell(ctx, tx, key)
		return err
	})
	return out, err
}

// GetRowValues returns every column of the item's board, empty where no
// cell is stored.
func (e *Engine) GetRowValues(ctx context.Context, itemID int64) (view.Row, error) {
	var out view.Row
	err := e.read(ctx, "get_row", func(tx store.Tx) error {
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return fmt.Errorf("get item %d: %w", itemID, err)
		}
		cols, err := tx.ListColumns(ctx, item.BoardID)
		if err != nil {
			return fmt.Errorf("list columns: %w", err)
		}
		cells, err := tx.ListItemCells(ctx, itemID)
		if err != nil {
			return fmt.Errorf("list cells: %w", err)
		}
		out = buildRow(item, cols, cells)
		return nil
	})
	return out, err
}

func buildRow(item store.Item, cols []store.Column, cells []store.Cell) view.Row {
	row := view.Row{
		ItemID:    item.ID,
		Name:      item.Name,
		Position:  item.Position,
		CreatedAt: item.CreatedAt,
		Values:    make(map[int64]value.Value, len(cols)),
	}
	if item.GroupID != nil {
		row.GroupID = *item.GroupID
	}
	for _, c := range cols {
		row.Values[c.ID] = value.Empty
	}
	for _, c := range cells {
		if _, ok := row.Values[c.Key.ColumnID]; ok {
			row.Values[c.Key.ColumnID] = c.Value
		}
	}
	return row
}
