package grid

import (
	"context"
	"fmt"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
)

// Snapshot is everything stored for one board, read in a single
// transaction.
type Snapshot struct {
	Board        store.Board     `json:"board"`
	Columns      []store.Column  `json:"columns"`
	Groups       []store.Group   `json:"groups"`
	Items        []store.Item    `json:"items"`
	Cells        []store.Cell    `json:"cells"`
	SubItems     []store.SubItem `json:"subItems"`
	SubItemCells []store.Cell    `json:"subItemCells"`
}

func (e *Engine) GetBoardSnapshot(ctx context.Context, boardID int64) (Snapshot, error) {
	var s Snapshot
	err := e.read(ctx, "board_snapshot", func(tx store.Tx) error {
		var err error
		if s.Board, err = tx.GetBoard(ctx, boardID); err != nil {
			return fmt.Errorf("get board %d: %w", boardID, err)
		}
		if s.Columns, err = tx.ListColumns(ctx, boardID); err != nil {
			return fmt.Errorf("list columns: %w", err)
		}
		if s.Groups, err = tx.ListGroups(ctx, boardID); err != nil {
			return fmt.Errorf("list groups: %w", err)
		}
		if s.Items, err = tx.ListItems(ctx, boardID); err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		if s.Cells, err = tx.ListBoardCells(ctx, boardID); err != nil {
			return fmt.Errorf("list cells: %w", err)
		}
		if s.SubItems, err = tx.ListBoardSubItems(ctx, boardID); err != nil {
			return fmt.Errorf("list sub-items: %w", err)
		}
		if s.SubItemCells, err = tx.ListBoardSubItemCells(ctx, boardID); err != nil {
			return fmt.Errorf("list sub-item cells: %w", err)
		}
		return nil
	})
	return s, err
}
