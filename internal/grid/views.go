package grid

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/view"
)

func viewColumns(cols []store.Column) []view.Column {
	out := make([]view.Column, len(cols))
	for i, c := range cols {
		out[i] = view.Column{ID: c.ID, Title: c.Title, Type: c.Type, Settings: c.Settings}
	}
	return out
}

func (m *mutation) compileSpec(boardID int64, spec view.Spec) error {
	cols, err := m.boardColumns(boardID)
	if err != nil {
		return err
	}
	_, err = view.Compile(spec, viewColumns(cols))
	return err
}

// SaveView stores a named view after checking its spec against the
// board's columns.
func (e *Engine) SaveView(ctx context.Context, boardID int64, name string, spec view.Spec) (store.View, error) {
	var out store.View
	err := e.inTx(ctx, "save_view", func(m *mutation) error {
		n, err := requireName("view", name)
		if err != nil {
			return err
		}
		if _, err := m.tx.GetBoard(m.ctx, boardID); err != nil {
			return fmt.Errorf("get board %d: %w", boardID, err)
		}
		if err := m.compileSpec(boardID, spec); err != nil {
			return err
		}
		out = store.View{BoardID: boardID, Name: n, Spec: spec}
		if err := m.tx.InsertView(m.ctx, &out); err != nil {
			return fmt.Errorf("insert view: %w", err)
		}
		m.schemaChanged(boardID)
		return m.record(boardID, 0, ActivityViewCreated, nil, out)
	})
	return out, err
}

type ViewPatch struct {
	Name *string
	Spec *view.Spec
}

func (e *Engine) UpdateView(ctx context.Context, id int64, p ViewPatch) (store.View, error) {
	var out store.View
	err := e.inTx(ctx, "update_view", func(m *mutation) error {
		old, err := m.tx.GetView(m.ctx, id)
		if err != nil {
			return fmt.Errorf("get view %d: %w", id, err)
		}
		out = old
		if p.Name != nil {
			if out.Name, err = requireName("view", *p.Name); err != nil {
				return err
			}
		}
		if p.Spec != nil {
			if err := m.compileSpec(old.BoardID, *p.Spec); err != nil {
				return err
			}
			out.Spec = *p.Spec
		}
		if err := m.tx.UpdateView(m.ctx, out); err != nil {
			return fmt.Errorf("update view: %w", err)
		}
		m.schemaChanged(old.BoardID)
		return m.record(old.BoardID, 0, ActivityViewUpdated, old, out)
	})
	return out, err
}

// pruneViews drops references to a deleted column from the board's saved
// views so they keep materializing.
func (m *mutation) pruneViews(col store.Column) error {
	views, err := m.tx.ListViews(m.ctx, col.BoardID)
	if err != nil {
		return fmt.Errorf("list views: %w", err)
	}
	for _, old := range views {
		spec, changed := old.Spec.WithoutColumn(col.ID)
		if !changed {
			continue
		}
		v := old
		v.Spec = spec
		if err := m.tx.UpdateView(m.ctx, v); err != nil {
			return fmt.Errorf("update view %d: %w", v.ID, err)
		}
		if err := m.record(col.BoardID, 0, ActivityViewUpdated, old, v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) DeleteView(ctx context.Context, id int64) error {
	return e.inTx(ctx, "delete_view", func(m *mutation) error {
		v, err := m.tx.GetView(m.ctx, id)
		if err != nil {
			return fmt.Errorf("get view %d: %w", id, err)
		}
		if err := m.tx.DeleteView(m.ctx, id); err != nil {
			return fmt.Errorf("delete view %d: %w", id, err)
		}
		m.schemaChanged(v.BoardID)
		return m.record(v.BoardID, 0, ActivityViewDeleted, v, nil)
	})
}

func (e *Engine) GetView(ctx context.Context, id int64) (store.View, error) {
	var out store.View
	err := e.read(ctx, "get_view", func(tx store.Tx) error {
		var err error
		if out, err = tx.GetView(ctx, id); err != nil {
			return fmt.Errorf("get view %d: %w", id, err)
		}
		return nil
	})
	return out, err
}

func (e *Engine) ListViews(ctx context.Context, boardID int64) ([]store.View, error) {
	var out []store.View
	err := e.read(ctx, "list_views", func(tx store.Tx) error {
		if _, err := tx.GetBoard(ctx, boardID); err != nil {
			return fmt.Errorf("get board %d: %w", boardID, err)
		}
		var err error
		out, err = tx.ListViews(ctx, boardID)
		return err
	})
	return out, err
}

// Materialized is a view evaluated against the stored cells. Rows and
// groups are produced lazily by Result.
type Materialized struct {
	Board   store.Board
	Columns []store.Column
	Name    string
	*view.Result
}

// MaterializeView runs a saved view. Computed columns are read from their
// cached cells; nothing is recomputed or written.
func (e *Engine) MaterializeView(ctx context.Context, viewID int64) (*Materialized, error) {
	var out *Materialized
	err := e.read(ctx, "materialize_view", func(tx store.Tx) error {
		v, err := tx.GetView(ctx, viewID)
		if err != nil {
			return fmt.Errorf("get view %d: %w", viewID, err)
		}
		out, err = e.materialize(ctx, tx, v.BoardID, v.Spec)
		if out != nil {
			out.Name = v.Name
		}
		return err
	})
	return out, err
}

// MaterializeSpec runs an unsaved spec over the board.
func (e *Engine) MaterializeSpec(ctx context.Context, boardID int64, spec view.Spec) (*Materialized, error) {
	var out *Materialized
	err := e.read(ctx, "materialize_spec", func(tx store.Tx) error {
		var err error
		out, err = e.materialize(ctx, tx, boardID, spec)
		return err
	})
	return out, err
}

func (e *Engine) materialize(ctx context.Context, tx store.Tx, boardID int64, spec view.Spec) (*Materialized, error) {
	start := time.Now()
	defer func() { materializeLatency.Observe(time.Since(start).Seconds()) }()

	board, err := tx.GetBoard(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("get board %d: %w", boardID, err)
	}
	cols, err := tx.ListColumns(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	q, err := view.Compile(spec, viewColumns(cols))
	if err != nil {
		return nil, err
	}
	rows, groups, err := loadRows(ctx, tx, boardID, cols)
	if err != nil {
		return nil, err
	}
	res := q.Run(ctx, rows, groups)
	if err := res.Err(); err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("grid.board_id", boardID), attribute.Int("grid.rows", res.Count()))
	return &Materialized{Board: board, Columns: cols, Result: res}, nil
}

// loadRows reads every item of the board with its cells in two queries.
func loadRows(ctx context.Context, tx store.Tx, boardID int64, cols []store.Column) ([]view.Row, []view.BoardGroup, error) {
	items, err := tx.ListItems(ctx, boardID)
	if err != nil {
		return nil, nil, fmt.Errorf("list items: %w", err)
	}
	cells, err := tx.ListBoardCells(ctx, boardID)
	if err != nil {
		return nil, nil, fmt.Errorf("list cells: %w", err)
	}
	byItem := make(map[int64][]store.Cell, len(items))
	for _, c := range cells {
		byItem[c.Key.ItemID] = append(byItem[c.Key.ItemID], c)
	}
	rows := make([]view.Row, len(items))
	for i, it := range items {
		rows[i] = buildRow(it, cols, byItem[it.ID])
	}
	bgs, err := tx.ListGroups(ctx, boardID)
	if err != nil {
		return nil, nil, fmt.Errorf("list groups: %w", err)
	}
	groups := make([]view.BoardGroup, len(bgs))
	for i, g := range bgs {
		groups[i] = view.BoardGroup{ID: g.ID, Title: g.Title, Position: g.Position}
	}
	return rows, groups, nil
}
