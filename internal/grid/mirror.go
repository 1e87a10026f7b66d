package grid

import (
	"errors"
	"fmt"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

// prepareMirror checks a mirror column's settings and fills in the link
// column when it was left out.
func (m *mutation) prepareMirror(col *store.Column) error {
	s := &col.Settings
	if s.MirrorBoardID == 0 || s.MirrorColumnID == 0 {
		return columnError(*col, invalidf("mirror needs mirrorBoardId and mirrorColumnId"))
	}
	if _, err := m.tx.GetBoard(m.ctx, s.MirrorBoardID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return columnError(*col, invalidf("board %d does not exist", s.MirrorBoardID))
		}
		return fmt.Errorf("get board %d: %w", s.MirrorBoardID, err)
	}
	target, err := m.tx.GetColumn(m.ctx, s.MirrorColumnID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && target.BoardID != s.MirrorBoardID) {
		return columnError(*col, invalidf("column %d is not on board %d", s.MirrorColumnID, s.MirrorBoardID))
	}
	if err != nil {
		return fmt.Errorf("get column %d: %w", s.MirrorColumnID, err)
	}
	if target.Type == coltype.TypeMirror {
		return columnError(*col, invalidf("a mirror cannot target another mirror column"))
	}

	links, err := m.columnsOfType(col.BoardID, coltype.TypeLink)
	if err != nil {
		return err
	}
	if s.LinkColumnID == 0 {
		for _, l := range links {
			if l.Settings.LinkedBoardID == s.MirrorBoardID || l.Settings.LinkedBoardID == 0 {
				s.LinkColumnID = l.ID
				break
			}
		}
		if s.LinkColumnID == 0 {
			return columnError(*col, invalidf("no link column on this board reaches board %d", s.MirrorBoardID))
		}
		return nil
	}
	for _, l := range links {
		if l.ID == s.LinkColumnID {
			return nil
		}
	}
	return columnError(*col, invalidf("column %d is not a link column on this board", s.LinkColumnID))
}

// resolveMirror reads the mirrored value for one item. Target rows are
// share-locked so a concurrent writer cannot slip between read and cache.
func (m *mutation) resolveMirror(col store.Column, itemID int64) (value.Value, error) {
	s := col.Settings
	if s.LinkColumnID == 0 {
		return value.NotLinked(), nil
	}
	link, ok, err := m.tx.GetCell(m.ctx, store.ItemCell(itemID, s.LinkColumnID), false)
	if err != nil {
		return value.Value{}, fmt.Errorf("get link cell: %w", err)
	}
	if !ok || len(link.Value.Refs) == 0 {
		return value.NotLinked(), nil
	}

	target, err := m.tx.GetColumn(m.ctx, s.MirrorColumnID)
	if errors.Is(err, store.ErrNotFound) {
		return value.Stale(), nil
	}
	if err != nil {
		return value.Value{}, fmt.Errorf("get column %d: %w", s.MirrorColumnID, err)
	}
	if target.BoardID != s.MirrorBoardID {
		return value.Stale(), nil
	}
	capab, _ := coltype.Lookup(target.Type)

	var found []value.Value
	for _, id := range link.Value.Refs {
		if err := m.tx.LockItem(m.ctx, id); err != nil {
			return value.Value{}, fmt.Errorf("lock item %d: %w", id, err)
		}
		it, err := m.tx.GetItem(m.ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return value.Value{}, fmt.Errorf("get item %d: %w", id, err)
		}
		if it.BoardID != s.MirrorBoardID {
			continue
		}
		c, ok, err := m.tx.GetCell(m.ctx, store.ItemCell(id, target.ID), false)
		if err != nil {
			return value.Value{}, fmt.Errorf("get cell: %w", err)
		}
		if !ok {
			found = append(found, value.Empty)
			continue
		}
		found = append(found, c.Value)
	}

	switch len(found) {
	case 0:
		return value.Stale(), nil
	case 1:
		return found[0], nil
	}
	items := make([]string, 0, len(found))
	for _, v := range found {
		if v.IsEmpty() {
			continue
		}
		items = append(items, capab.Format(target.Settings, v))
	}
	return value.List(items), nil
}

func (m *mutation) refreshMirror(col store.Column, itemID int64) error {
	v, err := m.resolveMirror(col, itemID)
	if err != nil {
		return err
	}
	return m.setDerived(col, store.ItemCell(itemID, col.ID), v, "", originMirror)
}

// backfillMirror refreshes col for every item on its board.
func (m *mutation) backfillMirror(col store.Column) error {
	items, err := m.tx.ListItems(m.ctx, col.BoardID)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	for _, it := range items {
		if err := m.refreshMirror(col, it.ID); err != nil {
			return err
		}
	}
	return nil
}

// refreshLinkedFrom refreshes the mirrors reading target through a link,
// using the link index.
func (m *mutation) refreshLinkedFrom(targetItemID int64, mirrors []store.Column) error {
	if len(mirrors) == 0 {
		return nil
	}
	links, err := m.tx.ListLinksTo(m.ctx, targetItemID)
	if err != nil {
		return fmt.Errorf("list links: %w", err)
	}
	for _, mc := range mirrors {
		seen := map[int64]bool{}
		for _, l := range links {
			if l.ColumnID != mc.Settings.LinkColumnID || seen[l.SourceItemID] {
				continue
			}
			seen[l.SourceItemID] = true
			if err := m.refreshMirror(mc, l.SourceItemID); err != nil {
				return err
			}
		}
	}
	return nil
}

// mirrorsOf returns mirror columns targeting boardID that match keep.
func (m *mutation) mirrorsOf(boardID int64, keep func(store.Column) bool) ([]store.Column, error) {
	all, err := m.tx.ListMirrorsTargeting(m.ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("list mirrors: %w", err)
	}
	var out []store.Column
	for _, c := range all {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mutation) onMirrorEvent(ev Event) error {
	switch ev := ev.(type) {
	case CellChanged:
		if ev.Key.ItemID == 0 || ev.Column.Type == coltype.TypeMirror {
			return nil
		}
		mirrors, err := m.mirrorsOf(ev.Column.BoardID, func(c store.Column) bool {
			return c.Settings.MirrorColumnID == ev.Column.ID
		})
		if err != nil {
			return err
		}
		if err := m.refreshLinkedFrom(ev.Key.ItemID, mirrors); err != nil {
			return err
		}
		if ev.Column.Type != coltype.TypeLink {
			return nil
		}
		local, err := m.columnsOfType(ev.Column.BoardID, coltype.TypeMirror)
		if err != nil {
			return err
		}
		for _, mc := range local {
			if mc.Settings.LinkColumnID != ev.Column.ID {
				continue
			}
			if err := m.refreshMirror(mc, ev.Key.ItemID); err != nil {
				return err
			}
		}
	case ItemDeleted:
		// incoming links outlive the item, so readers resolve to stale
		links, err := m.tx.ListLinksTo(m.ctx, ev.ItemID)
		if err != nil {
			return fmt.Errorf("list links: %w", err)
		}
		for _, l := range links {
			src, err := m.tx.GetItem(m.ctx, l.SourceItemID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get item %d: %w", l.SourceItemID, err)
			}
			local, err := m.columnsOfType(src.BoardID, coltype.TypeMirror)
			if err != nil {
				return err
			}
			for _, mc := range local {
				if mc.Settings.LinkColumnID != l.ColumnID {
					continue
				}
				if err := m.refreshMirror(mc, src.ID); err != nil {
					return err
				}
			}
		}
	case ColumnDeleted:
		mirrors, err := m.mirrorsOf(ev.Column.BoardID, func(c store.Column) bool {
			return c.Settings.MirrorColumnID == ev.Column.ID
		})
		if err != nil {
			return err
		}
		if ev.Column.Type == coltype.TypeLink {
			local, err := m.columnsOfType(ev.Column.BoardID, coltype.TypeMirror)
			if err != nil {
				return err
			}
			for _, mc := range local {
				if mc.Settings.LinkColumnID == ev.Column.ID {
					mirrors = append(mirrors, mc)
				}
			}
		}
		for _, mc := range mirrors {
			if err := m.backfillMirror(mc); err != nil {
				return err
			}
		}
	case BoardDeleted:
		mirrors, err := m.mirrorsOf(ev.BoardID, func(c store.Column) bool { return c.BoardID != ev.BoardID })
		if err != nil {
			return err
		}
		for _, mc := range mirrors {
			if err := m.backfillMirror(mc); err != nil {
				return err
			}
		}
	}
	return nil
}
