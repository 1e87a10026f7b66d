package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// ErrConflict reports a concurrent insert of the same unique row.
var ErrConflict = errors.New("conflict")

// Store opens transactions. Every mutating grid operation, including its
// cascade, runs inside exactly one Tx.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	BeginReadOnly(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
}

type Tx interface {
	Commit() error
	Rollback() error

	// LockBoard serializes schema changes on one board.
	LockBoard(ctx context.Context, boardID int64) error
	// LockDependencyGraph serializes item dependency edits.
	LockDependencyGraph(ctx context.Context) error
	// LockItem takes a shared lock on one item row.
	LockItem(ctx context.Context, itemID int64) error

	InsertWorkspace(ctx context.Context, w *Workspace) error
	GetWorkspace(ctx context.Context, id int64) (Workspace, error)

	InsertBoard(ctx context.Context, b *Board) error
	GetBoard(ctx context.Context, id int64) (Board, error)
	ListBoards(ctx context.Context, workspaceID int64) ([]Board, error)
	UpdateBoard(ctx context.Context, b Board) error
	DeleteBoard(ctx context.Context, id int64) error

	InsertColumn(ctx context.Context, c *Column) error
	GetColumn(ctx context.Context, id int64) (Column, error)
	ListColumns(ctx context.Context, boardID int64) ([]Column, error)
	// ListMirrorsTargeting returns mirror columns on any board whose
	// settings point at boardID.
	ListMirrorsTargeting(ctx context.Context, boardID int64) ([]Column, error)
	UpdateColumn(ctx context.Context, c Column) error
	DeleteColumn(ctx context.Context, id int64) error

	InsertGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id int64) (Group, error)
	ListGroups(ctx context.Context, boardID int64) ([]Group, error)
	DeleteGroup(ctx context.Context, id int64) error

	InsertItem(ctx context.Context, it *Item) error
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context, boardID int64) ([]Item, error)
	UpdateItem(ctx context.Context, it Item) error
	DeleteItem(ctx context.Context, id int64) error

	InsertSubItem(ctx context.Context, s *SubItem) error
	GetSubItem(ctx context.Context, id int64) (SubItem, error)
	ListSubItems(ctx context.Context, parentItemID int64) ([]SubItem, error)
	ListBoardSubItems(ctx context.Context, boardID int64) ([]SubItem, error)
	DeleteSubItem(ctx context.Context, id int64) error

	// GetCell returns the stored cell and whether it exists. forUpdate
	// locks the row for the rest of the transaction.
	GetCell(ctx context.Context, key CellKey, forUpdate bool) (Cell, bool, error)
	// PutCell stores the cell. c.Version must be 1 for a new cell or the
	// stored version plus one; anything else is ErrConflict.
	PutCell(ctx context.Context, c *Cell) error
	ListItemCells(ctx context.Context, itemID int64) ([]Cell, error)
	ListSubItemCells(ctx context.Context, subItemID int64) ([]Cell, error)
	// ListBoardCells returns every item-owned cell on the board.
	ListBoardCells(ctx context.Context, boardID int64) ([]Cell, error)
	ListBoardSubItemCells(ctx context.Context, boardID int64) ([]Cell, error)
	ListColumnCells(ctx context.Context, columnID int64) ([]Cell, error)

	ReplaceLinks(ctx context.Context, sourceItemID, columnID int64, targets []int64) error
	ListLinksTo(ctx context.Context, targetItemID int64) ([]ItemLink, error)

	InsertDependency(ctx context.Context, d *Dependency) error
	GetDependency(ctx context.Context, id int64) (Dependency, error)
	FindDependency(ctx context.Context, source, target int64, typ DependencyType) (Dependency, bool, error)
	DeleteDependency(ctx context.Context, id int64) error
	// ListDependencies returns edges touching the item at either end.
	ListDependencies(ctx context.Context, itemID int64) ([]Dependency, error)

	InsertView(ctx context.Context, v *View) error
	GetView(ctx context.Context, id int64) (View, error)
	ListViews(ctx context.Context, boardID int64) ([]View, error)
	UpdateView(ctx context.Context, v View) error
	DeleteView(ctx context.Context, id int64) error

	AppendActivity(ctx context.Context, a *Activity) error
	ListActivity(ctx context.Context, boardID, afterID int64, limit int) ([]Activity, error)
}
