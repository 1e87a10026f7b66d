package grid

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/formula"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
)

const maxPrecision = 10

type ColumnInput struct {
	BoardID  int64
	Title    string
	Type     coltype.Type
	Settings coltype.Settings
	// Position defaults to the end of the board.
	Position *int
}

// ColumnPatch updates the set fields. The type of a column never changes.
type ColumnPatch struct {
	Title    *string
	Settings *coltype.Settings
	Position *int
}

func (m *mutation) checkTitle(col store.Column) error {
	title := strings.TrimSpace(col.Title)
	if title == "" {
		return columnError(col, invalidf("column title is required"))
	}
	if strings.ContainsAny(title, "{}") {
		return columnError(col, invalidf("column title cannot contain braces"))
	}
	cols, err := m.boardColumns(col.BoardID)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if c.ID != col.ID && titleKey(c.Title) == titleKey(title) {
			return columnError(col, invalidf("a column titled %q already exists", c.Title))
		}
	}
	return nil
}

// prepareSettings validates the type-specific settings and normalizes
// them in place.
func (m *mutation) prepareSettings(col *store.Column) error {
	s := &col.Settings
	if s.Precision != nil && (*s.Precision < 0 || *s.Precision > maxPrecision) {
		return columnError(*col, invalidf("precision must be between 0 and %d", maxPrecision))
	}
	switch col.Type {
	case coltype.TypeStatus, coltype.TypePriority, coltype.TypeDropdown:
		labels := cleanLabels(s.Labels)
		if len(labels) != len(s.Labels) {
			return columnError(*col, invalidf("labels must be non-empty and unique"))
		}
		s.Labels = labels
		if col.Type == coltype.TypeDropdown && len(labels) == 0 {
			return columnError(*col, invalidf("dropdown needs at least one label"))
		}
	case coltype.TypeRating:
		if s.Max < 0 {
			return columnError(*col, invalidf("max must be positive"))
		}
	case coltype.TypeLink:
		if s.LinkedBoardID != 0 {
			if _, err := m.tx.GetBoard(m.ctx, s.LinkedBoardID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return columnError(*col, invalidf("board %d does not exist", s.LinkedBoardID))
				}
				return fmt.Errorf("get board %d: %w", s.LinkedBoardID, err)
			}
		}
	case coltype.TypeMirror:
		return m.prepareMirror(col)
	case coltype.TypeFormula:
		cols, err := m.boardColumns(col.BoardID)
		if err != nil {
			return err
		}
		candidate := slices.DeleteFunc(slices.Clone(cols), func(c store.Column) bool { return c.ID == col.ID })
		return validateFormula(*col, append(candidate, *col))
	case coltype.TypeProgress:
		if s.StatusColumnID != 0 {
			if err := m.requireColumn(*col, s.StatusColumnID, coltype.TypeStatus); err != nil {
				return err
			}
		}
		if s.WeightColumnID != 0 {
			if err := m.requireColumn(*col, s.WeightColumnID, coltype.TypeNumbers); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *mutation) requireColumn(owner store.Column, id int64, typ coltype.Type) error {
	cols, err := m.boardColumns(owner.BoardID)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if c.ID == id && c.Type == typ {
			return nil
		}
	}
	return columnError(owner, invalidf("column %d is not a %s column on this board", id, typ))
}

// backfillColumn computes a derived column for every existing item.
func (m *mutation) backfillColumn(col store.Column) error {
	switch col.Type {
	case coltype.TypeMirror:
		if err := m.backfillMirror(col); err != nil {
			return err
		}
	case coltype.TypeProgress:
		if err := m.rollupBoard(col.BoardID); err != nil {
			return err
		}
	case coltype.TypeAutoNumber, coltype.TypeItemID, coltype.TypeCreationLog, coltype.TypeLastUpdated:
		if err := m.backfillSystem(col); err != nil {
			return err
		}
	}
	// a formula whose column was deleted keeps its {title} reference, and a
	// later column with that title picks it up
	return m.backfillFormulas(col.BoardID, col.ID)
}

// CreateColumn adds a column and backfills it. A formula that would close
// a reference loop fails with a *CycleError and nothing is stored.
func (e *Engine) CreateColumn(ctx context.Context, in ColumnInput) (store.Column, error) {
	var out store.Column
	err := e.inTx(ctx, "create_column", func(m *mutation) error {
		if err := m.tx.LockBoard(m.ctx, in.BoardID); err != nil {
			return fmt.Errorf("lock board %d: %w", in.BoardID, err)
		}
		if _, err := m.tx.GetBoard(m.ctx, in.BoardID); err != nil {
			return fmt.Errorf("get board %d: %w", in.BoardID, err)
		}
		col := store.Column{BoardID: in.BoardID, Title: strings.TrimSpace(in.Title), Type: in.Type, Settings: in.Settings}
		if !col.Type.Valid() {
			return invalidf("unknown column type %q", in.Type)
		}
		if err := m.checkTitle(col); err != nil {
			return err
		}
		cols, err := m.boardColumns(in.BoardID)
		if err != nil {
			return err
		}
		col.Position = len(cols)
		if in.Position != nil {
			col.Position = *in.Position
		}
		if err := m.prepareSettings(&col); err != nil {
			return err
		}
		if err := m.tx.InsertColumn(m.ctx, &col); err != nil {
			return fmt.Errorf("insert column: %w", err)
		}
		m.schemaChanged(in.BoardID)
		if col.Type == coltype.TypeFormula {
			if err := m.checkFormulaGraph(in.BoardID); err != nil {
				return err
			}
		}
		if err := m.record(in.BoardID, 0, ActivityColumnCreated, nil, col); err != nil {
			return err
		}
		out = col
		return m.backfillColumn(col)
	})
	return out, err
}

// UpdateColumn renames, reconfigures or moves a column. Renames rewrite
// formula references to the old title.
func (e *Engine) UpdateColumn(ctx context.Context, id int64, p ColumnPatch) (store.Column, error) {
	var out store.Column
	err := e.inTx(ctx, "update_column", func(m *mutation) error {
		old, err := m.tx.GetColumn(m.ctx, id)
		if err != nil {
			return fmt.Errorf("get column %d: %w", id, err)
		}
		if err := m.tx.LockBoard(m.ctx, old.BoardID); err != nil {
			return fmt.Errorf("lock board %d: %w", old.BoardID, err)
		}
		col := old
		renamed := false
		if p.Title != nil {
			col.Title = strings.TrimSpace(*p.Title)
			if err := m.checkTitle(col); err != nil {
				return err
			}
			renamed = col.Title != old.Title
		}
		if p.Position != nil {
			col.Position = *p.Position
		}
		if p.Settings != nil {
			col.Settings = *p.Settings
		}
		if renamed && col.Type == coltype.TypeFormula {
			// a formula may refer to itself by its old title
			if src, err := formula.Rename(col.Settings.Formula, old.Title, col.Title); err == nil {
				col.Settings.Formula = src
			}
		}
		if p.Settings != nil || (renamed && col.Type == coltype.TypeFormula) {
			if err := m.prepareSettings(&col); err != nil {
				return err
			}
		}
		if err := m.tx.UpdateColumn(m.ctx, col); err != nil {
			return fmt.Errorf("update column: %w", err)
		}
		m.schemaChanged(col.BoardID)
		if renamed {
			if err := m.renameReferences(col.BoardID, old.Title, col.Title); err != nil {
				return err
			}
		}
		if err := m.checkFormulaGraph(col.BoardID); err != nil {
			return err
		}
		if out, err = m.tx.GetColumn(m.ctx, id); err != nil {
			return fmt.Errorf("get column %d: %w", id, err)
		}
		if err := m.record(col.BoardID, 0, ActivityColumnUpdated, old, out); err != nil {
			return err
		}
		if p.Settings == nil {
			return m.backfillFormulas(col.BoardID, col.ID)
		}
		return m.backfillColumn(out)
	})
	return out, err
}

// DeleteColumn drops a column with its cells. Formulas that used it turn
// into errors. Mirrors that used it turn stale or not-linked.
func (e *Engine) DeleteColumn(ctx context.Context, id int64) error {
	return e.inTx(ctx, "delete_column", func(m *mutation) error {
		col, err := m.tx.GetColumn(m.ctx, id)
		if err != nil {
			return fmt.Errorf("get column %d: %w", id, err)
		}
		if err := m.tx.LockBoard(m.ctx, col.BoardID); err != nil {
			return fmt.Errorf("lock board %d: %w", col.BoardID, err)
		}
		if err := m.tx.DeleteColumn(m.ctx, id); err != nil {
			return fmt.Errorf("delete column %d: %w", id, err)
		}
		m.schemaChanged(col.BoardID)
		if err := m.record(col.BoardID, 0, ActivityColumnDeleted, col, nil); err != nil {
			return err
		}
		m.emit(ColumnDeleted{Column: col})
		if err := m.pruneViews(col); err != nil {
			return err
		}
		if col.Type == coltype.TypeStatus || col.Type == coltype.TypeNumbers {
			return m.rollupBoard(col.BoardID)
		}
		return nil
	})
}

func (e *Engine) ListColumns(ctx context.Context, boardID int64) ([]store.Column, error) {
	var out []store.Column
	err := e.read(ctx, "list_columns", func(tx store.Tx) error {
		if _, err := tx.GetBoard(ctx, boardID); err != nil {
			return fmt.Errorf("get board %d: %w", boardID, err)
		}
		var err error
		out, err = tx.ListColumns(ctx, boardID)
		return err
	})
	return out, err
}
