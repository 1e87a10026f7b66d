package store

import (
	"encoding/json"
	"time"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/view"
)

type Workspace struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Board struct {
	ID          int64    `json:"id"`
	WorkspaceID int64    `json:"workspaceId"`
	Name        string   `json:"name"`
	DoneLabels  []string `json:"doneLabels"`
	// StatusColumnID is the primary status column; nil means the first
	// status column by position.
	StatusColumnID *int64    `json:"statusColumnId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Column struct {
	ID        int64            `json:"id"`
	BoardID   int64            `json:"boardId"`
	Title     string           `json:"title"`
	Type      coltype.Type     `json:"type"`
	Position  int              `json:"position"`
	Settings  coltype.Settings `json:"settings"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type Group struct {
	ID        int64     `json:"id"`
	BoardID   int64     `json:"boardId"`
	Title     string    `json:"title"`
	Color     string    `json:"color"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
}

type Item struct {
	ID        int64     `json:"id"`
	BoardID   int64     `json:"boardId"`
	GroupID   *int64    `json:"groupId,omitempty"`
	Name      string    `json:"name"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type SubItem struct {
	ID           int64     `json:"id"`
	ParentItemID int64     `json:"parentItemId"`
	BoardID      int64     `json:"boardId"`
	Name         string    `json:"name"`
	Position     int       `json:"position"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CellKey addresses one cell. Exactly one of ItemID and SubItemID is set.
type CellKey struct {
	ItemID    int64 `json:"itemId,omitempty"`
	SubItemID int64 `json:"subItemId,omitempty"`
	ColumnID  int64 `json:"columnId"`
}

func ItemCell(itemID, columnID int64) CellKey {
	return CellKey{ItemID: itemID, ColumnID: columnID}
}

func SubItemCell(subItemID, columnID int64) CellKey {
	return CellKey{SubItemID: subItemID, ColumnID: columnID}
}

type Cell struct {
	BoardID   int64          `json:"boardId"`
	Key       CellKey        `json:"key"`
	Value     value.Value    `json:"value"`
	Shadow    coltype.Shadow `json:"-"`
	InputHash string         `json:"-"`
	Version   int64          `json:"version"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type ItemLink struct {
	SourceItemID int64
	ColumnID     int64
	TargetItemID int64
}

type DependencyType string

const (
	DependencyBlocks     DependencyType = "blocks"
	DependencyWaitingFor DependencyType = "waiting_for"
	DependencyLinkedTo   DependencyType = "linked_to"
)

func (t DependencyType) Valid() bool {
	switch t {
	case DependencyBlocks, DependencyWaitingFor, DependencyLinkedTo:
		return true
	}
	return false
}

type Dependency struct {
	ID           int64          `json:"id"`
	SourceItemID int64          `json:"sourceItemId"`
	TargetItemID int64          `json:"targetItemId"`
	Type         DependencyType `json:"type"`
	CreatedAt    time.Time      `json:"createdAt"`
}

type View struct {
	ID        int64     `json:"id"`
	BoardID   int64     `json:"boardId"`
	Name      string    `json:"name"`
	Spec      view.Spec `json:"spec"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Activity struct {
	ID        int64           `json:"id"`
	BoardID   int64           `json:"boardId"`
	ItemID    *int64          `json:"itemId,omitempty"`
	Type      string          `json:"type"`
	OldValue  json.RawMessage `json:"oldValue,omitempty"`
	NewValue  json.RawMessage `json:"newValue,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
