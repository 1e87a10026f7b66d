package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStoreSerializesWriters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := s.Begin(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second writer to wait, got %v", err)
	}
	if _, err := s.BeginReadOnly(ctx); err != nil {
		t.Fatalf("readers should not wait: %v", err)
	}
}

func TestMemoryReadOnlyRejectsWrites(t *testing.T) {
	s := NewMemoryStore()
	ro, err := s.BeginReadOnly(context.Background())
	if err != nil {
		t.Fatalf("begin read-only: %v", err)
	}
	defer ro.Rollback()
	if err := ro.InsertWorkspace(context.Background(), &Workspace{Name: "x"}); err == nil {
		t.Fatal("expected write in read-only tx to fail")
	}
}

func TestMemoryReadersSeeSnapshot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	f := seed(t, ctx, s)

	ro, err := s.BeginReadOnly(ctx)
	if err != nil {
		t.Fatalf("begin read-only: %v", err)
	}
	defer ro.Rollback()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.DeleteItem(ctx, f.item.ID); err != nil {
		t.Fatalf("delete item: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := ro.GetItem(ctx, f.item.ID); err != nil {
		t.Fatalf("reader lost its snapshot: %v", err)
	}
}

func TestMemoryColumnDeleteClearsPrimaryStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	f := seed(t, ctx, s)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	b := f.board
	b.StatusColumnID = &f.status.ID
	if err := tx.UpdateBoard(ctx, b); err != nil {
		t.Fatalf("update board: %v", err)
	}
	if err := tx.DeleteColumn(ctx, f.status.ID); err != nil {
		t.Fatalf("delete column: %v", err)
	}
	got, err := tx.GetBoard(ctx, b.ID)
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if got.StatusColumnID != nil {
		t.Fatalf("expected status column cleared, got %d", *got.StatusColumnID)
	}
}
