package gitrepo

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/grid"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
)

// Author is the commit author for schema changes made through the engine.
const Author = "Boards"

// SchemaSource reads the current schema of a board.
type SchemaSource interface {
	GetBoard(ctx context.Context, id int64) (store.Board, error)
	ListColumns(ctx context.Context, boardID int64) ([]store.Column, error)
	ListViews(ctx context.Context, boardID int64) ([]store.View, error)
}

// Snapshot commits the current schema of one board.
func (s *Service) Snapshot(ctx context.Context, src SchemaSource, boardID int64, message string) (CommitInfo, bool, error) {
	b, err := src.GetBoard(ctx, boardID)
	if err != nil {
		return CommitInfo{}, false, fmt.Errorf("get board %d: %w", boardID, err)
	}
	cols, err := src.ListColumns(ctx, boardID)
	if err != nil {
		return CommitInfo{}, false, fmt.Errorf("list columns: %w", err)
	}
	views, err := src.ListViews(ctx, boardID)
	if err != nil {
		return CommitInfo{}, false, fmt.Errorf("list views: %w", err)
	}
	return s.Commit(SchemaOf(b, cols, views), Author, message)
}

// markDeleted commits a tombstone on top of the last schema so the
// history survives the board.
func (s *Service) markDeleted(boardID int64, message string) error {
	head, _, err := s.Head(boardID)
	if errors.Is(err, ErrNoHistory) {
		return nil
	}
	if err != nil {
		return err
	}
	head.Deleted = true
	_, _, err = s.Commit(head, Author, message)
	return err
}

// Hook commits the schema of every board whose columns, views or settings
// a mutation changed. Failures are logged and never fail the mutation.
func (s *Service) Hook(src SchemaSource) grid.CommitHook {
	entry := log.WithField("component", "gitrepo")
	return func(ctx context.Context, cs grid.Changeset) {
		if len(cs.SchemaBoards) == 0 {
			return
		}
		deleted := make(map[int64]bool, len(cs.DeletedBoards))
		for _, id := range cs.DeletedBoards {
			deleted[id] = true
		}
		for _, id := range cs.SchemaBoards {
			l := entry.WithFields(log.Fields{"board_id": id, "op": cs.Op})
			if deleted[id] {
				if err := s.markDeleted(id, cs.Op); err != nil {
					l.WithError(err).Warn("commit board deletion failed")
				}
				continue
			}
			info, changed, err := s.Snapshot(ctx, src, id, cs.Op)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				l.WithError(err).Warn("commit board schema failed")
				continue
			}
			if changed {
				l.WithField("hash", info.Hash).Debug("board schema committed")
			}
		}
	}
}
