package store

import (
	"context"
	"errors"
	"testing"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

type fixture struct {
	board  Board
	status Column
	amount Column
	item   Item
}

func seed(t *testing.T, ctx context.Context, s Store) fixture {
	t.Helper()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	ws := Workspace{Name: "ops"}
	if err := tx.InsertWorkspace(ctx, &ws); err != nil {
		t.Fatalf("insert workspace: %v", err)
	}
	f := fixture{board: Board{WorkspaceID: ws.ID, Name: "Installs", DoneLabels: []string{"Done"}}}
	if err := tx.InsertBoard(ctx, &f.board); err != nil {
		t.Fatalf("insert board: %v", err)
	}
	f.status = Column{BoardID: f.board.ID, Title: "Status", Type: coltype.TypeStatus, Position: 1}
	if err := tx.InsertColumn(ctx, &f.status); err != nil {
		t.Fatalf("insert column: %v", err)
	}
	f.amount = Column{BoardID: f.board.ID, Title: "Amount", Type: coltype.TypeNumbers, Position: 2}
	if err := tx.InsertColumn(ctx, &f.amount); err != nil {
		t.Fatalf("insert column: %v", err)
	}
	f.item = Item{BoardID: f.board.ID, Name: "Front door"}
	if err := tx.InsertItem(ctx, &f.item); err != nil {
		t.Fatalf("insert item: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return f
}

// runStoreContract exercises behavior every Store implementation shares.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("cell versions", func(t *testing.T) {
		f := seed(t, ctx, s)
		key := ItemCell(f.item.ID, f.amount.ID)

		tx, err := s.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		cell := Cell{BoardID: f.board.ID, Key: key, Value: value.Int(5), Version: 1}
		if err := tx.PutCell(ctx, &cell); err != nil {
			t.Fatalf("put cell: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}

		tx, err = s.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		stale := Cell{BoardID: f.board.ID, Key: key, Value: value.Int(6), Version: 1}
		if err := tx.PutCell(ctx, &stale); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected conflict for duplicate insert, got %v", err)
		}
		_ = tx.Rollback()

		tx, err = s.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Rollback()
		got, ok, err := tx.GetCell(ctx, key, true)
		if err != nil || !ok {
			t.Fatalf("get cell: ok=%v err=%v", ok, err)
		}
		if !got.Value.Equal(value.Int(5)) || got.Version != 1 {
			t.Fatalf("unexpected cell %+v", got)
		}
		skip := Cell{BoardID: f.board.ID, Key: key, Value: value.Int(7), Version: 3}
		if err := tx.PutCell(ctx, &skip); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected conflict for skipped version, got %v", err)
		}
		next := Cell{BoardID: f.board.ID, Key: key, Value: value.Int(7), Version: 2}
		if err := tx.PutCell(ctx, &next); err != nil {
			t.Fatalf("bump cell: %v", err)
		}
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		f := seed(t, ctx, s)
		tx, err := s.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		extra := Item{BoardID: f.board.ID, Name: "Back door"}
		if err := tx.InsertItem(ctx, &extra); err != nil {
			t.Fatalf("insert item: %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Fatalf("rollback: %v", err)
		}

		ro, err := s.BeginReadOnly(ctx)
		if err != nil {
			t.Fatalf("begin read-only: %v", err)
		}
		defer ro.Rollback()
		if _, err := ro.GetItem(ctx, extra.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected rolled back item to be missing, got %v", err)
		}
	})

	t.Run("duplicate column title", func(t *testing.T) {
		f := seed(t, ctx, s)
		tx, err := s.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Rollback()
		dup := Column{BoardID: f.board.ID, Title: "status", Type: coltype.TypeText}
		if err := tx.InsertColumn(ctx, &dup); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
	})

	t.Run("item delete cascades", func(t *testing.T) {
		f := seed(t, ctx, s)
		tx, err := s.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		other := Item{BoardID: f.board.ID, Name: "Window"}
		if err := tx.InsertItem(ctx, &other); err != nil {
			t.Fatalf("insert item: %v", err)
		}
		dep := Dependency{SourceItemID: f.item.ID, TargetItemID: other.ID, Type: DependencyBlocks}
		if err := tx.InsertDependency(ctx, &dep); err != nil {
			t.Fatalf("insert dependency: %v", err)
		}
		sub := SubItem{ParentItemID: f.item.ID, Name: "Measure"}
		if err := tx.InsertSubItem(ctx, &sub); err != nil {
			t.Fatalf("insert sub-item: %v", err)
		}
		if sub.BoardID != f.board.ID {
			t.Fatalf("sub-item board %d, want %d", sub.BoardID, f.board.ID)
		}
		cell := Cell{BoardID: f.board.ID, Key: ItemCell(f.item.ID, f.status.ID), Value: value.Text("Done"), Version: 1}
		if err := tx.PutCell(ctx, &cell); err != nil {
			t.Fatalf("put cell: %v", err)
		}
		if err := tx.DeleteItem(ctx, f.item.ID); err != nil {
			t.Fatalf("delete item: %v", err)
		}
		deps, err := tx.ListDependencies(ctx, other.ID)
		if err != nil {
			t.Fatalf("list dependencies: %v", err)
		}
		if len(deps) != 0 {
			t.Fatalf("expected dependencies removed, got %+v", deps)
		}
		if _, err := tx.GetSubItem(ctx, sub.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected sub-item removed, got %v", err)
		}
		cells, err := tx.ListColumnCells(ctx, f.status.ID)
		if err != nil {
			t.Fatalf("list cells: %v", err)
		}
		if len(cells) != 0 {
			t.Fatalf("expected cells removed, got %+v", cells)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	})

	t.Run("links and mirrors", func(t *testing.T) {
		f := seed(t, ctx, s)
		g := seed(t, ctx, s)
		tx, err := s.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Rollback()
		link := Column{BoardID: f.board.ID, Title: "Project", Type: coltype.TypeLink, Position: 3}
		if err := tx.InsertColumn(ctx, &link); err != nil {
			t.Fatalf("insert link column: %v", err)
		}
		mirror := Column{BoardID: f.board.ID, Title: "Project status", Type: coltype.TypeMirror, Position: 4,
			Settings: coltype.Settings{LinkColumnID: link.ID, MirrorBoardID: g.board.ID, MirrorColumnID: g.status.ID}}
		if err := tx.InsertColumn(ctx, &mirror); err != nil {
			t.Fatalf("insert mirror column: %v", err)
		}
		if err := tx.ReplaceLinks(ctx, f.item.ID, link.ID, []int64{g.item.ID}); err != nil {
			t.Fatalf("replace links: %v", err)
		}
		links, err := tx.ListLinksTo(ctx, g.item.ID)
		if err != nil {
			t.Fatalf("list links: %v", err)
		}
		if len(links) != 1 || links[0].SourceItemID != f.item.ID {
			t.Fatalf("unexpected links %+v", links)
		}
		mirrors, err := tx.ListMirrorsTargeting(ctx, g.board.ID)
		if err != nil {
			t.Fatalf("list mirrors: %v", err)
		}
		if len(mirrors) != 1 || mirrors[0].ID != mirror.ID {
			t.Fatalf("unexpected mirrors %+v", mirrors)
		}
		if err := tx.ReplaceLinks(ctx, f.item.ID, link.ID, nil); err != nil {
			t.Fatalf("clear links: %v", err)
		}
		links, _ = tx.ListLinksTo(ctx, g.item.ID)
		if len(links) != 0 {
			t.Fatalf("expected links cleared, got %+v", links)
		}
	})

	t.Run("activity paging", func(t *testing.T) {
		f := seed(t, ctx, s)
		tx, err := s.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		var ids []int64
		for i := 0; i < 3; i++ {
			a := Activity{BoardID: f.board.ID, ItemID: &f.item.ID, Type: "cell_changed", NewValue: []byte(`{"kind":"number","number":"1"}`)}
			if err := tx.AppendActivity(ctx, &a); err != nil {
				t.Fatalf("append activity: %v", err)
			}
			ids = append(ids, a.ID)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}

		ro, err := s.BeginReadOnly(ctx)
		if err != nil {
			t.Fatalf("begin read-only: %v", err)
		}
		defer ro.Rollback()
		page, err := ro.ListActivity(ctx, f.board.ID, ids[0], 10)
		if err != nil {
			t.Fatalf("list activity: %v", err)
		}
		if len(page) != 2 || page[0].ID != ids[1] || page[1].ID != ids[2] {
			t.Fatalf("unexpected page %+v", page)
		}
	})
}
