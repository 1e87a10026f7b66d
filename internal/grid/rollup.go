package grid

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

var hundred = decimal.NewFromInt(100)

type rollupEntry struct {
	weight decimal.Decimal
	done   bool
}

// rollup returns the weighted done percentage. It only reaches 100 when
// every weighted entry is done. With no weight at all it is 100 when every
// entry is done and 0 otherwise.
func rollup(entries []rollupEntry, precision int32) decimal.Decimal {
	total, done := decimal.Zero, decimal.Zero
	allDone := len(entries) > 0
	for _, e := range entries {
		allDone = allDone && e.done
		w := e.weight
		if w.IsNegative() {
			w = decimal.Zero
		}
		total = total.Add(w)
		if e.done {
			done = done.Add(w)
		}
	}
	if total.IsZero() {
		if allDone {
			return hundred
		}
		return decimal.Zero
	}
	p := done.Mul(hundred).DivRound(total, precision)
	if p.Equal(hundred) && done.LessThan(total) {
		p = hundred.Sub(decimal.New(1, -precision))
	}
	return p
}

// doneLabels returns the board's done-class labels, falling back to the
// engine default.
func (e *Engine) doneLabels(b store.Board) []string {
	if len(b.DoneLabels) > 0 {
		return b.DoneLabels
	}
	return e.cfg.DoneLabels
}

func isDone(labels []string, v value.Value) bool {
	return v.Kind == value.KindText && coltype.HasLabel(labels, v.Text)
}

// primaryStatus returns the board's status column: the configured one, or
// the first status column by position.
func primaryStatus(ctx context.Context, tx store.Tx, b store.Board) (store.Column, bool, error) {
	cols, err := tx.ListColumns(ctx, b.ID)
	if err != nil {
		return store.Column{}, false, fmt.Errorf("list columns: %w", err)
	}
	var first *store.Column
	for i, c := range cols {
		if c.Type != coltype.TypeStatus {
			continue
		}
		if b.StatusColumnID != nil && c.ID == *b.StatusColumnID {
			return c, true, nil
		}
		if first == nil {
			first = &cols[i]
		}
	}
	if first == nil {
		return store.Column{}, false, nil
	}
	return *first, true, nil
}

// recomputeRollup refreshes the parent's progress columns from its
// sub-items. Parents without sub-items keep their manual value.
func (m *mutation) recomputeRollup(boardID, parentID int64) error {
	subs, err := m.tx.ListSubItems(m.ctx, parentID)
	if err != nil {
		return fmt.Errorf("list sub-items: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}
	progress, err := m.columnsOfType(boardID, coltype.TypeProgress)
	if err != nil || len(progress) == 0 {
		return err
	}
	board, err := m.tx.GetBoard(m.ctx, boardID)
	if err != nil {
		return fmt.Errorf("get board %d: %w", boardID, err)
	}
	labels := m.e.doneLabels(board)
	primary, hasPrimary, err := primaryStatus(m.ctx, m.tx, board)
	if err != nil {
		return err
	}

	cells := make(map[int64]map[int64]value.Value, len(subs))
	for _, s := range subs {
		list, err := m.tx.ListSubItemCells(m.ctx, s.ID)
		if err != nil {
			return fmt.Errorf("list sub-item cells: %w", err)
		}
		vals := make(map[int64]value.Value, len(list))
		for _, c := range list {
			vals[c.Key.ColumnID] = c.Value
		}
		cells[s.ID] = vals
	}

	for _, col := range progress {
		statusID := col.Settings.StatusColumnID
		if statusID == 0 && hasPrimary {
			statusID = primary.ID
		}
		entries := make([]rollupEntry, 0, len(subs))
		for _, s := range subs {
			e := rollupEntry{weight: decimal.NewFromInt(1)}
			if col.Settings.WeightColumnID != 0 {
				if w := cells[s.ID][col.Settings.WeightColumnID]; w.Kind == value.KindNumber {
					e.weight = w.Number
				}
			}
			if statusID != 0 {
				e.done = isDone(labels, cells[s.ID][statusID])
			}
			entries = append(entries, e)
		}
		v := value.Number(rollup(entries, m.e.cfg.RollupPrecision))
		if err := m.setDerived(col, store.ItemCell(parentID, col.ID), v, "", originRollup); err != nil {
			return err
		}
	}
	return nil
}

// rollupBoard recomputes every parent on the board.
func (m *mutation) rollupBoard(boardID int64) error {
	subs, err := m.tx.ListBoardSubItems(m.ctx, boardID)
	if err != nil {
		return fmt.Errorf("list sub-items: %w", err)
	}
	done := map[int64]bool{}
	for _, s := range subs {
		if done[s.ParentItemID] {
			continue
		}
		done[s.ParentItemID] = true
		if err := m.recomputeRollup(boardID, s.ParentItemID); err != nil {
			return err
		}
	}
	return nil
}

func (m *mutation) onRollupEvent(ev Event) error {
	switch ev := ev.(type) {
	case CellChanged:
		if ev.Key.SubItemID == 0 {
			return nil
		}
		sub, err := m.tx.GetSubItem(m.ctx, ev.Key.SubItemID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get sub-item %d: %w", ev.Key.SubItemID, err)
		}
		return m.recomputeRollup(sub.BoardID, sub.ParentItemID)
	case SubItemsChanged:
		return m.recomputeRollup(ev.BoardID, ev.ParentItemID)
	}
	return nil
}
