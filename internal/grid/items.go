package grid

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/view"
)

func requireName(what, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalidf("%s name is required", what)
	}
	return name, nil
}

func (e *Engine) CreateWorkspace(ctx context.Context, name string) (store.Workspace, error) {
	var out store.Workspace
	err := e.inTx(ctx, "create_workspace", func(m *mutation) error {
		n, err := requireName("workspace", name)
		if err != nil {
			return err
		}
		out = store.Workspace{Name: n}
		if err := m.tx.InsertWorkspace(m.ctx, &out); err != nil {
			return fmt.Errorf("insert workspace: %w", err)
		}
		return nil
	})
	return out, err
}

type BoardInput struct {
	WorkspaceID int64
	Name        string
	DoneLabels  []string
}

func (e *Engine) CreateBoard(ctx context.Context, in BoardInput) (store.Board, error) {
	var out store.Board
	err := e.inTx(ctx, "create_board", func(m *mutation) error {
		n, err := requireName("board", in.Name)
		if err != nil {
			return err
		}
		if _, err := m.tx.GetWorkspace(m.ctx, in.WorkspaceID); err != nil {
			return fmt.Errorf("get workspace %d: %w", in.WorkspaceID, err)
		}
		out = store.Board{WorkspaceID: in.WorkspaceID, Name: n, DoneLabels: cleanLabels(in.DoneLabels)}
		if err := m.tx.InsertBoard(m.ctx, &out); err != nil {
			return fmt.Errorf("insert board: %w", err)
		}
		m.schemaChanged(out.ID)
		return m.record(out.ID, 0, ActivityBoardCreated, nil, out)
	})
	return out, err
}

func cleanLabels(labels []string) []string {
	var out []string
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || coltype.HasLabel(out, l) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// BoardPatch updates the set fields. A StatusColumnID of 0 falls back to
// the first status column.
type BoardPatch struct {
	Name           *string
	DoneLabels     *[]string
	StatusColumnID *int64
}

func (e *Engine) UpdateBoard(ctx context.Context, id int64, p BoardPatch) (store.Board, error) {
	var out store.Board
	err := e.inTx(ctx, "update_board", func(m *mutation) error {
		if err := m.tx.LockBoard(m.ctx, id); err != nil {
			return fmt.Errorf("lock board %d: %w", id, err)
		}
		old, err := m.tx.GetBoard(m.ctx, id)
		if err != nil {
			return fmt.Errorf("get board %d: %w", id, err)
		}
		out = old
		rollupInputs := false
		if p.Name != nil {
			if out.Name, err = requireName("board", *p.Name); err != nil {
				return err
			}
		}
		if p.DoneLabels != nil {
			out.DoneLabels = cleanLabels(*p.DoneLabels)
			rollupInputs = true
		}
		if p.StatusColumnID != nil {
			out.StatusColumnID = nil
			if *p.StatusColumnID != 0 {
				c, err := m.tx.GetColumn(m.ctx, *p.StatusColumnID)
				if errors.Is(err, store.ErrNotFound) || (err == nil && (c.BoardID != id || c.Type != coltype.TypeStatus)) {
					return invalidf("column %d is not a status column on board %d", *p.StatusColumnID, id)
				}
				if err != nil {
					return fmt.Errorf("get column %d: %w", *p.StatusColumnID, err)
				}
				sid := c.ID
				out.StatusColumnID = &sid
			}
			rollupInputs = true
		}
		if err := m.tx.UpdateBoard(m.ctx, out); err != nil {
			return fmt.Errorf("update board: %w", err)
		}
		m.schemaChanged(id)
		if err := m.record(id, 0, ActivityBoardUpdated, old, out); err != nil {
			return err
		}
		if rollupInputs {
			return m.rollupBoard(id)
		}
		return nil
	})
	return out, err
}

// DeleteBoard removes the board with everything on it. Mirrors on other
// boards that read from it turn stale.
func (e *Engine) DeleteBoard(ctx context.Context, id int64) error {
	return e.inTx(ctx, "delete_board", func(m *mutation) error {
		if err := m.tx.LockBoard(m.ctx, id); err != nil {
			return fmt.Errorf("lock board %d: %w", id, err)
		}
		b, err := m.tx.GetBoard(m.ctx, id)
		if err != nil {
			return fmt.Errorf("get board %d: %w", id, err)
		}
		items, err := m.tx.ListItems(m.ctx, id)
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		// dependency neighbours on other boards need their cells re-synced
		var neighbours []int64
		for _, it := range items {
			deps, err := m.tx.ListDependencies(m.ctx, it.ID)
			if err != nil {
				return fmt.Errorf("list dependencies: %w", err)
			}
			for _, d := range deps {
				neighbours = append(neighbours, d.SourceItemID, d.TargetItemID)
			}
		}
		if err := m.tx.DeleteBoard(m.ctx, id); err != nil {
			return fmt.Errorf("delete board %d: %w", id, err)
		}
		m.schemaChanged(id)
		m.deletedBoards[id] = true
		for _, it := range items {
			m.deletedItems[it.ID] = true
		}
		m.emit(BoardDeleted{BoardID: id})
		if err := m.record(id, 0, ActivityBoardDeleted, b, nil); err != nil {
			return err
		}
		slices.Sort(neighbours)
		return m.syncDependencyCells(slices.Compact(neighbours)...)
	})
}

func (e *Engine) GetBoard(ctx context.Context, id int64) (store.Board, error) {
	var out store.Board
	err := e.read(ctx, "get_board", func(tx store.Tx) error {
		var err error
		out, err = tx.GetBoard(ctx, id)
		if err != nil {
			return fmt.Errorf("get board %d: %w", id, err)
		}
		return nil
	})
	return out, err
}

// ListBoards lists a workspace's boards; workspaceID 0 lists all.
func (e *Engine) ListBoards(ctx context.Context, workspaceID int64) ([]store.Board, error) {
	var out []store.Board
	err := e.read(ctx, "list_boards", func(tx store.Tx) error {
		var err error
		out, err = tx.ListBoards(ctx, workspaceID)
		return err
	})
	return out, err
}

type GroupInput struct {
	BoardID int64
	Title   string
	Color   string
}

func (e *Engine) CreateGroup(ctx context.Context, in GroupInput) (store.Group, error) {
	var out store.Group
	err := e.inTx(ctx, "create_group", func(m *mutation) error {
		title, err := requireName("group", in.Title)
		if err != nil {
			return err
		}
		groups, err := m.tx.ListGroups(m.ctx, in.BoardID)
		if err != nil {
			return fmt.Errorf("list groups: %w", err)
		}
		out = store.Group{BoardID: in.BoardID, Title: title, Color: in.Color, Position: len(groups)}
		if err := m.tx.InsertGroup(m.ctx, &out); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		m.touchBoard(in.BoardID)
		return m.record(in.BoardID, 0, ActivityGroupCreated, nil, out)
	})
	return out, err
}

// DeleteGroup removes the group. Its items stay on the board, ungrouped.
func (e *Engine) DeleteGroup(ctx context.Context, id int64) error {
	return e.inTx(ctx, "delete_group", func(m *mutation) error {
		g, err := m.tx.GetGroup(m.ctx, id)
		if err != nil {
			return fmt.Errorf("get group %d: %w", id, err)
		}
		if err := m.tx.DeleteGroup(m.ctx, id); err != nil {
			return fmt.Errorf("delete group %d: %w", id, err)
		}
		m.touchBoard(g.BoardID)
		return m.record(g.BoardID, 0, ActivityGroupDeleted, g, nil)
	})
}

type ItemInput struct {
	BoardID int64
	GroupID *int64
	Name    string
	// Cells holds initial values by column id.
	Cells map[int64]any
}

// CreateItem inserts an item, fills its system columns, writes the
// initial cells and evaluates its derived columns.
func (e *Engine) CreateItem(ctx context.Context, in ItemInput) (view.Row, error) {
	var out view.Row
	err := e.inTx(ctx, "create_item", func(m *mutation) error {
		name, err := requireName("item", in.Name)
		if err != nil {
			return err
		}
		if _, err := m.tx.GetBoard(m.ctx, in.BoardID); err != nil {
			return fmt.Errorf("get board %d: %w", in.BoardID, err)
		}
		if in.GroupID != nil {
			g, err := m.tx.GetGroup(m.ctx, *in.GroupID)
			if errors.Is(err, store.ErrNotFound) || (err == nil && g.BoardID != in.BoardID) {
				return invalidf("group %d is not on board %d", *in.GroupID, in.BoardID)
			}
			if err != nil {
				return fmt.Errorf("get group %d: %w", *in.GroupID, err)
			}
		}
		existing, err := m.tx.ListItems(m.ctx, in.BoardID)
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		now := m.e.now()
		it := store.Item{BoardID: in.BoardID, GroupID: in.GroupID, Name: name, Position: len(existing), CreatedAt: now, UpdatedAt: now}
		if err := m.tx.InsertItem(m.ctx, &it); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		m.touchItem(it.BoardID, it.ID)
		if err := m.record(it.BoardID, it.ID, ActivityItemCreated, nil, it); err != nil {
			return err
		}

		cols, err := m.boardColumns(it.BoardID)
		if err != nil {
			return err
		}
		for _, c := range cols {
			if err := m.fillSystemCell(c, it, 0); err != nil {
				return err
			}
		}

		ids := make([]int64, 0, len(in.Cells))
		for id := range in.Cells {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			if _, err := m.setCell(CellWrite{ItemID: it.ID, ColumnID: id, Value: in.Cells[id]}); err != nil {
				return err
			}
		}

		for _, c := range cols {
			if c.Type != coltype.TypeMirror {
				continue
			}
			if err := m.refreshMirror(c, it.ID); err != nil {
				return err
			}
		}
		fs, err := m.loadFormulas(it.BoardID)
		if err != nil {
			return err
		}
		all := make(map[int64]bool, len(fs.order))
		for _, id := range fs.order {
			all[id] = true
		}
		if err := m.evalColumns(fs, it.ID, all); err != nil {
			return err
		}
		if err := m.drain(); err != nil {
			return err
		}

		cur, err := m.tx.GetItem(m.ctx, it.ID)
		if err != nil {
			return fmt.Errorf("get item %d: %w", it.ID, err)
		}
		cells, err := m.tx.ListItemCells(m.ctx, it.ID)
		if err != nil {
			return fmt.Errorf("list cells: %w", err)
		}
		out = buildRow(cur, cols, cells)
		return nil
	})
	return out, err
}

// fillSystemCell sets the engine-owned value of an auto_number, item_id,
// creation_log or last_updated cell. seq, when non-zero, is the auto
// number to assign.
func (m *mutation) fillSystemCell(c store.Column, it store.Item, seq int64) error {
	var v value.Value
	switch c.Type {
	case coltype.TypeAutoNumber:
		if seq == 0 {
			next, err := m.nextAutoNumber(c.ID)
			if err != nil {
				return err
			}
			seq = next
		}
		v = value.Int(seq)
	case coltype.TypeItemID:
		v = value.Int(it.ID)
	case coltype.TypeCreationLog:
		v = value.Date(it.CreatedAt)
	case coltype.TypeLastUpdated:
		v = value.Date(it.UpdatedAt)
	default:
		return nil
	}
	return m.setDerived(c, store.ItemCell(it.ID, c.ID), v, "", originSystem)
}

func (m *mutation) nextAutoNumber(columnID int64) (int64, error) {
	cells, err := m.tx.ListColumnCells(m.ctx, columnID)
	if err != nil {
		return 0, fmt.Errorf("list column cells: %w", err)
	}
	maxSeen := decimal.Zero
	for _, c := range cells {
		if c.Value.Kind == value.KindNumber && c.Value.Number.GreaterThan(maxSeen) {
			maxSeen = c.Value.Number
		}
	}
	return maxSeen.IntPart() + 1, nil
}

// backfillSystem numbers existing items in creation order.
func (m *mutation) backfillSystem(c store.Column) error {
	items, err := m.tx.ListItems(m.ctx, c.BoardID)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	slices.SortFunc(items, func(a, b store.Item) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	for i, it := range items {
		if err := m.fillSystemCell(c, it, int64(i+1)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) GetItem(ctx context.Context, id int64) (store.Item, error) {
	var out store.Item
	err := e.read(ctx, "get_item", func(tx store.Tx) error {
		var err error
		if out, err = tx.GetItem(ctx, id); err != nil {
			return fmt.Errorf("get item %d: %w", id, err)
		}
		return nil
	})
	return out, err
}

// ItemPatch updates the set fields. A GroupID of 0 ungroups the item.
type ItemPatch struct {
	Name     *string
	GroupID  *int64
	Position *int
}

func (e *Engine) UpdateItem(ctx context.Context, id int64, p ItemPatch) (store.Item, error) {
	var out store.Item
	err := e.inTx(ctx, "update_item", func(m *mutation) error {
		old, err := m.tx.GetItem(m.ctx, id)
		if err != nil {
			return fmt.Errorf("get item %d: %w", id, err)
		}
		out = old
		if p.Name != nil {
			if out.Name, err = requireName("item", *p.Name); err != nil {
				return err
			}
		}
		if p.GroupID != nil {
			out.GroupID = nil
			if *p.GroupID != 0 {
				g, err := m.tx.GetGroup(m.ctx, *p.GroupID)
				if errors.Is(err, store.ErrNotFound) || (err == nil && g.BoardID != old.BoardID) {
					return invalidf("group %d is not on board %d", *p.GroupID, old.BoardID)
				}
				if err != nil {
					return fmt.Errorf("get group %d: %w", *p.GroupID, err)
				}
				gid := g.ID
				out.GroupID = &gid
			}
		}
		if p.Position != nil {
			out.Position = *p.Position
		}
		if err := m.tx.UpdateItem(m.ctx, out); err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		if err := m.touchRow(cellOwner{boardID: old.BoardID, itemID: id}); err != nil {
			return err
		}
		if out, err = m.tx.GetItem(m.ctx, id); err != nil {
			return fmt.Errorf("get item %d: %w", id, err)
		}
		return m.record(old.BoardID, id, ActivityItemUpdated, old, out)
	})
	return out, err
}

// DeleteItem removes the item, its sub-items, cells and dependency edges.
func (e *Engine) DeleteItem(ctx context.Context, id int64) error {
	return e.inTx(ctx, "delete_item", func(m *mutation) error {
		it, err := m.tx.GetItem(m.ctx, id)
		if err != nil {
			return fmt.Errorf("get item %d: %w", id, err)
		}
		deps, err := m.tx.ListDependencies(m.ctx, id)
		if err != nil {
			return fmt.Errorf("list dependencies: %w", err)
		}
		var neighbours []int64
		for _, d := range deps {
			if d.SourceItemID != id {
				neighbours = append(neighbours, d.SourceItemID)
			}
			if d.TargetItemID != id {
				neighbours = append(neighbours, d.TargetItemID)
			}
		}
		if err := m.tx.DeleteItem(m.ctx, id); err != nil {
			return fmt.Errorf("delete item %d: %w", id, err)
		}
		m.touchBoard(it.BoardID)
		m.deletedItems[id] = true
		if err := m.record(it.BoardID, id, ActivityItemDeleted, it, nil); err != nil {
			return err
		}
		m.emit(ItemDeleted{BoardID: it.BoardID, ItemID: id})
		slices.Sort(neighbours)
		return m.syncDependencyCells(slices.Compact(neighbours)...)
	})
}

func (e *Engine) CreateSubItem(ctx context.Context, parentID int64, name string) (store.SubItem, error) {
	var out store.SubItem
	err := e.inTx(ctx, "create_subitem", func(m *mutation) error {
		n, err := requireName("sub-item", name)
		if err != nil {
			return err
		}
		parent, err := m.tx.GetItem(m.ctx, parentID)
		if err != nil {
			return fmt.Errorf("get item %d: %w", parentID, err)
		}
		siblings, err := m.tx.ListSubItems(m.ctx, parentID)
		if err != nil {
			return fmt.Errorf("list sub-items: %w", err)
		}
		out = store.SubItem{ParentItemID: parentID, BoardID: parent.BoardID, Name: n, Position: len(siblings)}
		if err := m.tx.InsertSubItem(m.ctx, &out); err != nil {
			return fmt.Errorf("insert sub-item: %w", err)
		}
		m.touchItem(parent.BoardID, parentID)
		if err := m.record(parent.BoardID, parentID, ActivitySubItemCreated, nil, out); err != nil {
			return err
		}
		m.emit(SubItemsChanged{BoardID: parent.BoardID, ParentItemID: parentID})
		return nil
	})
	return out, err
}

func (e *Engine) DeleteSubItem(ctx context.Context, id int64) error {
	return e.inTx(ctx, "delete_subitem", func(m *mutation) error {
		sub, err := m.tx.GetSubItem(m.ctx, id)
		if err != nil {
			return fmt.Errorf("get sub-item %d: %w", id, err)
		}
		if err := m.tx.DeleteSubItem(m.ctx, id); err != nil {
			return fmt.Errorf("delete sub-item %d: %w", id, err)
		}
		m.touchItem(sub.BoardID, sub.ParentItemID)
		if err := m.record(sub.BoardID, sub.ParentItemID, ActivitySubItemDeleted, sub, nil); err != nil {
			return err
		}
		m.emit(SubItemsChanged{BoardID: sub.BoardID, ParentItemID: sub.ParentItemID})
		return nil
	})
}

func (e *Engine) ListSubItems(ctx context.Context, parentID int64) ([]store.SubItem, error) {
	var out []store.SubItem
	err := e.read(ctx, "list_subitems", func(tx store.Tx) error {
		if _, err := tx.GetItem(ctx, parentID); err != nil {
			return fmt.Errorf("get item %d: %w", parentID, err)
		}
		var err error
		out, err = tx.ListSubItems(ctx, parentID)
		return err
	})
	return out, err
}
