package grid

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/graph"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

// arc normalizes an edge to "waiter waits on prereq". linked_to edges do
// not order items.
func arc(d store.Dependency) (waiter, prereq int64, ok bool) {
	switch d.Type {
	case store.DependencyWaitingFor:
		return d.SourceItemID, d.TargetItemID, true
	case store.DependencyBlocks:
		return d.TargetItemID, d.SourceItemID, true
	}
	return 0, 0, false
}

// prerequisites returns the sorted items itemID waits on.
func prerequisites(ctx context.Context, tx store.Tx, itemID int64) ([]int64, error) {
	deps, err := tx.ListDependencies(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	var out []int64
	for _, d := range deps {
		if w, p, ok := arc(d); ok && w == itemID {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func (m *mutation) addDependency(source, target int64, typ store.DependencyType) (store.Dependency, error) {
	if !typ.Valid() {
		return store.Dependency{}, invalidf("unknown dependency type %q", typ)
	}
	if source == target {
		return store.Dependency{}, &SelfDependencyError{ItemID: source}
	}
	src, err := m.tx.GetItem(m.ctx, source)
	if err != nil {
		return store.Dependency{}, fmt.Errorf("get item %d: %w", source, err)
	}
	if _, err := m.tx.GetItem(m.ctx, target); err != nil {
		return store.Dependency{}, fmt.Errorf("get item %d: %w", target, err)
	}
	if err := m.tx.LockDependencyGraph(m.ctx); err != nil {
		return store.Dependency{}, fmt.Errorf("lock dependency graph: %w", err)
	}
	existing, ok, err := m.tx.FindDependency(m.ctx, source, target, typ)
	if err != nil {
		return store.Dependency{}, fmt.Errorf("find dependency: %w", err)
	}
	if ok {
		return existing, nil
	}

	d := store.Dependency{SourceItemID: source, TargetItemID: target, Type: typ, CreatedAt: m.e.now()}
	if waiter, prereq, ordered := arc(d); ordered {
		next := func(ctx context.Context, id int64) ([]int64, error) {
			return prerequisites(ctx, m.tx, id)
		}
		path, err := graph.FindPath(m.ctx, prereq, waiter, next)
		if err != nil {
			return store.Dependency{}, err
		}
		if path != nil {
			cycleRejections.WithLabelValues("dependency").Inc()
			return store.Dependency{}, m.dependencyCycle(append(path, prereq))
		}
	}

	if err := m.tx.InsertDependency(m.ctx, &d); err != nil {
		return store.Dependency{}, fmt.Errorf("insert dependency: %w", err)
	}
	if err := m.record(src.BoardID, source, ActivityDependencyAdded, nil, d); err != nil {
		return store.Dependency{}, err
	}
	m.touchItem(src.BoardID, source)
	return d, m.syncDependencyCells(source, target)
}

func (m *mutation) dependencyCycle(path []int64) *CycleError {
	ce := &CycleError{Path: path, Labels: make([]string, len(path))}
	for i, id := range path {
		if it, err := m.tx.GetItem(m.ctx, id); err == nil {
			ce.Labels[i] = it.Name
		}
	}
	return ce
}

func (m *mutation) removeDependency(d store.Dependency) error {
	if err := m.tx.LockDependencyGraph(m.ctx); err != nil {
		return fmt.Errorf("lock dependency graph: %w", err)
	}
	if err := m.tx.DeleteDependency(m.ctx, d.ID); err != nil {
		return fmt.Errorf("delete dependency %d: %w", d.ID, err)
	}
	src, err := m.tx.GetItem(m.ctx, d.SourceItemID)
	if err != nil {
		return fmt.Errorf("get item %d: %w", d.SourceItemID, err)
	}
	if err := m.record(src.BoardID, src.ID, ActivityDependencyRemoved, d, nil); err != nil {
		return err
	}
	m.touchItem(src.BoardID, src.ID)
	return m.syncDependencyCells(d.SourceItemID, d.TargetItemID)
}

// syncDependencyCells rewrites the dependency column cells of each item
// to its current prerequisites.
func (m *mutation) syncDependencyCells(itemIDs ...int64) error {
	for _, id := range itemIDs {
		it, err := m.tx.GetItem(m.ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("get item %d: %w", id, err)
		}
		cols, err := m.columnsOfType(it.BoardID, coltype.TypeDependency)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			continue
		}
		prereqs, err := prerequisites(m.ctx, m.tx, id)
		if err != nil {
			return err
		}
		v := value.Empty
		if len(prereqs) > 0 {
			v = value.Refs(prereqs)
		}
		for _, c := range cols {
			if err := m.setDerived(c, store.ItemCell(id, c.ID), v, "", originSystem); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeDependencyColumn turns a dependency cell write into waiting_for
// edge edits. Other edge types are left alone.
func (m *mutation) writeDependencyColumn(itemID int64, v value.Value) error {
	if err := m.tx.LockDependencyGraph(m.ctx); err != nil {
		return fmt.Errorf("lock dependency graph: %w", err)
	}
	want := map[int64]bool{}
	for _, id := range v.Refs {
		want[id] = true
	}
	deps, err := m.tx.ListDependencies(m.ctx, itemID)
	if err != nil {
		return fmt.Errorf("list dependencies: %w", err)
	}
	have := map[int64]bool{}
	for _, d := range deps {
		if d.Type != store.DependencyWaitingFor || d.SourceItemID != itemID {
			continue
		}
		have[d.TargetItemID] = true
		if want[d.TargetItemID] {
			continue
		}
		if err := m.removeDependency(d); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(want) {
		if have[id] {
			continue
		}
		if _, err := m.addDependency(itemID, id, store.DependencyWaitingFor); err != nil {
			return err
		}
	}
	return m.syncDependencyCells(itemID)
}

// AddDependency links two items. Ordering edges that would close a loop
// fail with a *CycleError and leave the graph unchanged. Adding an edge
// that already exists returns it.
func (e *Engine) AddDependency(ctx context.Context, source, target int64, typ store.DependencyType) (store.Dependency, error) {
	var out store.Dependency
	err := e.inTx(ctx, "add_dependency", func(m *mutation) error {
		var err error
		out, err = m.addDependency(source, target, typ)
		return err
	})
	return out, err
}

func (e *Engine) RemoveDependency(ctx context.Context, id int64) error {
	return e.inTx(ctx, "remove_dependency", func(m *mutation) error {
		d, err := m.tx.GetDependency(m.ctx, id)
		if err != nil {
			return fmt.Errorf("get dependency %d: %w", id, err)
		}
		return m.removeDependency(d)
	})
}

// ListDependencies returns the edges touching itemID at either end.
func (e *Engine) ListDependencies(ctx context.Context, itemID int64) ([]store.Dependency, error) {
	var out []store.Dependency
	err := e.read(ctx, "list_dependencies", func(tx store.Tx) error {
		if _, err := tx.GetItem(ctx, itemID); err != nil {
			return fmt.Errorf("get item %d: %w", itemID, err)
		}
		var err error
		out, err = tx.ListDependencies(ctx, itemID)
		return err
	})
	return out, err
}

// CanTransitionToComplete returns a *BlockedTransitionError naming every
// prerequisite whose primary status is not done-class.
func (e *Engine) CanTransitionToComplete(ctx context.Context, itemID int64) error {
	return e.read(ctx, "can_complete", func(tx store.Tx) error {
		if _, err := tx.GetItem(ctx, itemID); err != nil {
			return fmt.Errorf("get item %d: %w", itemID, err)
		}
		prereqs, err := prerequisites(ctx, tx, itemID)
		if err != nil {
			return err
		}
		var blocking []int64
		for _, id := range prereqs {
			done, err := e.itemDone(ctx, tx, id)
			if err != nil {
				return err
			}
			if !done {
				blocking = append(blocking, id)
			}
		}
		if len(blocking) > 0 {
			return &BlockedTransitionError{ItemID: itemID, Blocking: blocking}
		}
		return nil
	})
}

func (e *Engine) itemDone(ctx context.Context, tx store.Tx, itemID int64) (bool, error) {
	it, err := tx.GetItem(ctx, itemID)
	if err != nil {
		return false, fmt.Errorf("get item %d: %w", itemID, err)
	}
	board, err := tx.GetBoard(ctx, it.BoardID)
	if err != nil {
		return false, fmt.Errorf("get board %d: %w", it.BoardID, err)
	}
	status, ok, err := primaryStatus(ctx, tx, board)
	if err != nil || !ok {
		return false, err
	}
	c, ok, err := tx.GetCell(ctx, store.ItemCell(itemID, status.ID), false)
	if err != nil {
		return false, fmt.Errorf("get cell: %w", err)
	}
	return ok && isDone(e.doneLabels(board), c.Value), nil
}

// IsDoneLabel reports whether label is done-class on the board.
func (e *Engine) IsDoneLabel(ctx context.Context, boardID int64, label string) (bool, error) {
	var done bool
	err := e.read(ctx, "is_done_label", func(tx store.Tx) error {
		b, err := tx.GetBoard(ctx, boardID)
		if err != nil {
			return fmt.Errorf("get board %d: %w", boardID, err)
		}
		done = coltype.HasLabel(e.doneLabels(b), label)
		return nil
	})
	return done, err
}
