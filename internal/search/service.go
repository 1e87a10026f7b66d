package search

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/grid"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/view"
)

// Index is a search backend that can also be written to.
type Index interface {
	Searcher
	Healthy() bool
	IndexItems(records []ItemRecord) error
	DeleteItem(itemID int64) error
}

// RowSource reads the rows that get indexed.
type RowSource interface {
	GetItem(ctx context.Context, id int64) (store.Item, error)
	GetRowValues(ctx context.Context, itemID int64) (view.Row, error)
}

// Service is the facade that tries the index first and falls back to a
// direct scan.
type Service struct {
	index    Index
	fallback Searcher
	pending  sync.WaitGroup
	log      *log.Entry
}

// NewService creates a search service. index may be nil if Meilisearch is
// not configured.
func NewService(index Index, fallback Searcher) *Service {
	return &Service{index: index, fallback: fallback, log: log.WithField("component", "search")}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries the index if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.WithError(err).Warn("index search failed, falling back")
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.WithError(err).Warn("fallback search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Hook re-indexes the items a committed mutation touched. Indexing runs in
// the background and never fails the mutation.
func (s *Service) Hook(rows RowSource) grid.CommitHook {
	return func(ctx context.Context, cs grid.Changeset) {
		if !s.indexReady() || (len(cs.Items) == 0 && len(cs.DeletedItems) == 0) {
			return
		}
		ctx = context.WithoutCancel(ctx)
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.sync(ctx, rows, cs)
		}()
	}
}

func (s *Service) sync(ctx context.Context, rows RowSource, cs grid.Changeset) {
	deleted := map[int64]bool{}
	for _, id := range cs.DeletedItems {
		deleted[id] = true
		if err := s.index.DeleteItem(id); err != nil {
			s.log.WithField("item_id", id).WithError(err).Warn("delete from index failed")
		}
	}
	var records []ItemRecord
	for _, id := range cs.Items {
		if deleted[id] {
			continue
		}
		it, err := rows.GetItem(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			s.log.WithField("item_id", id).WithError(err).Warn("load item for index failed")
			continue
		}
		row, err := rows.GetRowValues(ctx, id)
		if err != nil {
			s.log.WithField("item_id", id).WithError(err).Warn("load row for index failed")
			continue
		}
		records = append(records, RecordFor(it.BoardID, row))
	}
	if err := s.index.IndexItems(records); err != nil {
		s.log.WithField("items", len(records)).WithError(err).Warn("index items failed")
	}
}

// ReindexBoard pushes every item of a board to the index.
func (s *Service) ReindexBoard(ctx context.Context, src SnapshotSource, boardID int64) (int, error) {
	if !s.indexReady() {
		return 0, nil
	}
	snap, err := src.GetBoardSnapshot(ctx, boardID)
	if err != nil {
		return 0, err
	}
	records := RecordsFromSnapshot(snap)
	if err := s.index.IndexItems(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// RecordsFromSnapshot builds one record per item of the snapshot.
func RecordsFromSnapshot(snap grid.Snapshot) []ItemRecord {
	byItem := make(map[int64]view.Row, len(snap.Items))
	for _, it := range snap.Items {
		byItem[it.ID] = view.Row{ItemID: it.ID, Name: it.Name, Values: map[int64]value.Value{}}
	}
	for _, c := range snap.Cells {
		if row, ok := byItem[c.Key.ItemID]; ok {
			row.Values[c.Key.ColumnID] = c.Value
		}
	}
	out := make([]ItemRecord, 0, len(snap.Items))
	for _, it := range snap.Items {
		out = append(out, RecordFor(snap.Board.ID, byItem[it.ID]))
	}
	return out
}

// Wait blocks until background indexing has finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
