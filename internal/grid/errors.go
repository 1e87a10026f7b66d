package grid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/graph"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
)

var ErrNotFound = store.ErrNotFound

// CycleError is returned when a formula reference or a blocking
// dependency would close a loop. Path holds column ids for formulas and
// item ids for dependencies.
type CycleError = graph.CycleError

// WriteRejectedError reports a direct write to a computed column.
type WriteRejectedError struct {
	ColumnID int64
	Type     coltype.Type
}

func (e *WriteRejectedError) Error() string {
	return fmt.Sprintf("column %d is a computed %s column", e.ColumnID, e.Type)
}

type SelfDependencyError struct {
	ItemID int64
}

func (e *SelfDependencyError) Error() string {
	return fmt.Sprintf("item %d cannot depend on itself", e.ItemID)
}

// BlockedTransitionError lists the prerequisites that are not done yet.
type BlockedTransitionError struct {
	ItemID   int64
	Blocking []int64
}

func (e *BlockedTransitionError) Error() string {
	ids := make([]string, len(e.Blocking))
	for i, id := range e.Blocking {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("item %d is blocked by %s", e.ItemID, strings.Join(ids, ", "))
}

// ConcurrentModificationError means the cell changed after the caller
// read it. Callers re-read and retry.
type ConcurrentModificationError struct {
	Key      store.CellKey
	Expected int64
	Actual   int64
}

func (e *ConcurrentModificationError) Error() string {
	if e.Expected == 0 && e.Actual == 0 {
		return "cell was modified concurrently"
	}
	return fmt.Sprintf("cell version is %d, expected %d", e.Actual, e.Expected)
}

func invalidf(format string, args ...any) error {
	return &coltype.ValidationError{Message: fmt.Sprintf(format, args...)}
}

// columnError pins a registry validation error to the column it came from.
func columnError(col store.Column, err error) error {
	var vErr *coltype.ValidationError
	if errors.As(err, &vErr) {
		out := *vErr
		out.ColumnID, out.Type = col.ID, col.Type
		return &out
	}
	return err
}

// classify turns store conflicts into the engine's concurrency error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var cm *ConcurrentModificationError
	if errors.As(err, &cm) {
		return err
	}
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: %w", &ConcurrentModificationError{}, err)
	}
	return err
}
