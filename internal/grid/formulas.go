package grid

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/formula"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/graph"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

// formulaSet is the parsed formula graph of one board. Edges run from a
// formula column to the columns it references.
type formulaSet struct {
	cols    map[int64]store.Column
	byTitle map[string]store.Column
	exprs   map[int64]*formula.Expr
	// broken holds stored formulas that no longer parse.
	broken map[int64]string
	g      *graph.Digraph
	order  []int64
}

func titleKey(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

func buildFormulaSet(cols []store.Column) (*formulaSet, error) {
	fs := &formulaSet{
		cols:    make(map[int64]store.Column, len(cols)),
		byTitle: make(map[string]store.Column, len(cols)),
		exprs:   map[int64]*formula.Expr{},
		broken:  map[int64]string{},
		g:       graph.New(),
	}
	for _, c := range cols {
		fs.cols[c.ID] = c
		fs.byTitle[titleKey(c.Title)] = c
	}
	for _, c := range cols {
		if c.Type != coltype.TypeFormula {
			continue
		}
		fs.g.AddNode(c.ID)
		expr, err := formula.Parse(c.Settings.Formula)
		if err != nil {
			fs.broken[c.ID] = err.Error()
			continue
		}
		fs.exprs[c.ID] = expr
		for _, ref := range expr.Refs() {
			if target, ok := fs.byTitle[titleKey(ref)]; ok {
				fs.g.AddEdge(c.ID, target.ID)
			}
		}
	}
	order, err := fs.g.TopoOrder()
	if err != nil {
		var ce *graph.CycleError
		if errors.As(err, &ce) {
			ce.Labels = make([]string, len(ce.Path))
			for i, id := range ce.Path {
				ce.Labels[i] = fs.cols[id].Title
			}
		}
		return nil, err
	}
	for _, id := range order {
		if fs.cols[id].Type == coltype.TypeFormula {
			fs.order = append(fs.order, id)
		}
	}
	return fs, nil
}

func (m *mutation) loadFormulas(boardID int64) (*formulaSet, error) {
	if fs, ok := m.formulas[boardID]; ok {
		return fs, nil
	}
	cols, err := m.boardColumns(boardID)
	if err != nil {
		return nil, err
	}
	fs, err := buildFormulaSet(cols)
	if err != nil {
		return nil, err
	}
	m.formulas[boardID] = fs
	return fs, nil
}

// validateFormula parses col's formula and checks that every reference
// names a column in cols.
func validateFormula(col store.Column, cols []store.Column) error {
	expr, err := formula.Parse(col.Settings.Formula)
	if err != nil {
		return columnError(col, invalidf("formula: %v", err))
	}
	titles := make(map[string]bool, len(cols))
	for _, c := range cols {
		titles[titleKey(c.Title)] = true
	}
	for _, ref := range expr.Refs() {
		if !titles[titleKey(ref)] {
			return columnError(col, invalidf("formula references unknown column {%s}", ref))
		}
	}
	return nil
}

// checkFormulaGraph rejects a schema whose formulas reference each other
// in a loop.
func (m *mutation) checkFormulaGraph(boardID int64) error {
	delete(m.formulas, boardID)
	delete(m.columns, boardID)
	if _, err := m.loadFormulas(boardID); err != nil {
		var ce *graph.CycleError
		if errors.As(err, &ce) {
			cycleRejections.WithLabelValues("formula").Inc()
		}
		return err
	}
	return nil
}

func (m *mutation) evalFormula(fs *formulaSet, colID, itemID int64) error {
	col := fs.cols[colID]
	key := store.ItemCell(itemID, colID)
	if msg, ok := fs.broken[colID]; ok {
		formulaEvaluations.WithLabelValues("error").Inc()
		return m.setDerived(col, key, value.Error(msg), "", originFormula)
	}
	expr := fs.exprs[colID]

	cells, err := m.tx.ListItemCells(m.ctx, itemID)
	if err != nil {
		return fmt.Errorf("list cells: %w", err)
	}
	vals := make(map[int64]value.Value, len(cells))
	for _, c := range cells {
		vals[c.Key.ColumnID] = c.Value
	}
	env := func(name string) value.Value {
		target, ok := fs.byTitle[titleKey(name)]
		if !ok {
			return value.Error("unknown column")
		}
		return vals[target.ID]
	}

	precision := col.Settings.PrecisionOr(m.e.cfg.FormulaPrecision)
	hash := expr.InputHash(env, precision)
	cur, exists, err := m.tx.GetCell(m.ctx, key, false)
	if err != nil {
		return fmt.Errorf("get cell: %w", err)
	}
	if exists && cur.InputHash == hash {
		formulaEvaluations.WithLabelValues("memoized").Inc()
		return nil
	}
	v := expr.Evaluate(env, precision)
	if v.Kind == value.KindError {
		formulaEvaluations.WithLabelValues("error").Inc()
	} else {
		formulaEvaluations.WithLabelValues("computed").Inc()
	}
	return m.setDerived(col, key, v, hash, originFormula)
}

// evalColumns evaluates the given formula columns for one item in
// dependency order.
func (m *mutation) evalColumns(fs *formulaSet, itemID int64, cols map[int64]bool) error {
	for _, id := range fs.order {
		if !cols[id] {
			continue
		}
		if err := m.evalFormula(fs, id, itemID); err != nil {
			return err
		}
	}
	return nil
}

// backfillFormulas evaluates cols, plus everything downstream of them,
// for every item on the board.
func (m *mutation) backfillFormulas(boardID int64, cols ...int64) error {
	fs, err := m.loadFormulas(boardID)
	if err != nil {
		return err
	}
	set := map[int64]bool{}
	for _, id := range cols {
		if fs.cols[id].Type == coltype.TypeFormula {
			set[id] = true
		}
		for _, dep := range fs.g.Dependents(id) {
			set[dep] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	items, err := m.tx.ListItems(m.ctx, boardID)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	for _, it := range items {
		if err := m.evalColumns(fs, it.ID, set); err != nil {
			return err
		}
	}
	return nil
}

func (m *mutation) onFormulaEvent(ev Event) error {
	switch ev := ev.(type) {
	case CellChanged:
		// formula writes were already ordered by the closure that made them
		if ev.Origin == originFormula || ev.Key.ItemID == 0 {
			return nil
		}
		fs, err := m.loadFormulas(ev.Column.BoardID)
		if err != nil {
			return err
		}
		deps := fs.g.Dependents(ev.Column.ID)
		if len(deps) == 0 {
			return nil
		}
		set := make(map[int64]bool, len(deps))
		for _, id := range deps {
			set[id] = true
		}
		return m.evalColumns(fs, ev.Key.ItemID, set)
	case ColumnDeleted:
		fs, err := m.loadFormulas(ev.Column.BoardID)
		if err != nil {
			return err
		}
		var affected []int64
		for id, expr := range fs.exprs {
			for _, ref := range expr.Refs() {
				if titleKey(ref) == titleKey(ev.Column.Title) {
					affected = append(affected, id)
					break
				}
			}
		}
		return m.backfillFormulas(ev.Column.BoardID, affected...)
	}
	return nil
}

// renameReferences rewrites {oldTitle} in every formula on the board.
func (m *mutation) renameReferences(boardID int64, oldTitle, newTitle string) error {
	cols, err := m.columnsOfType(boardID, coltype.TypeFormula)
	if err != nil {
		return err
	}
	for _, c := range cols {
		expr, err := formula.Parse(c.Settings.Formula)
		if err != nil {
			continue
		}
		refersTo := false
		for _, ref := range expr.Refs() {
			if titleKey(ref) == titleKey(oldTitle) {
				refersTo = true
				break
			}
		}
		if !refersTo {
			continue
		}
		src, err := formula.Rename(c.Settings.Formula, oldTitle, newTitle)
		if err != nil {
			return columnError(c, invalidf("formula: %v", err))
		}
		c.Settings.Formula = src
		if err := m.tx.UpdateColumn(m.ctx, c); err != nil {
			return fmt.Errorf("update column %d: %w", c.ID, err)
		}
	}
	m.schemaChanged(boardID)
	return nil
}

// RecomputeFormulas re-evaluates every formula cell on the board. Cells
// whose inputs did not change are skipped, so repeated runs are no-ops.
// It returns the number of cells written.
func (e *Engine) RecomputeFormulas(ctx context.Context, boardID int64) (int, error) {
	var writes int
	err := e.inTx(ctx, "recompute_formulas", func(m *mutation) error {
		if _, err := m.tx.GetBoard(m.ctx, boardID); err != nil {
			return fmt.Errorf("get board %d: %w", boardID, err)
		}
		fs, err := m.loadFormulas(boardID)
		if err != nil {
			return err
		}
		if err := m.backfillFormulas(boardID, fs.order...); err != nil {
			return err
		}
		if err := m.drain(); err != nil {
			return err
		}
		writes = m.writes
		return nil
	})
	return writes, err
}
