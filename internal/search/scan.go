package search

import (
	"context"
	"strings"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/grid"
)

// SnapshotSource is the slice of the engine the scan searcher reads.
type SnapshotSource interface {
	GetBoardSnapshot(ctx context.Context, boardID int64) (grid.Snapshot, error)
}

// Scan searches one board's snapshot in process. It backs the in-memory
// mode, where there is no database to query.
type Scan struct {
	src SnapshotSource
}

func NewScan(src SnapshotSource) *Scan {
	return &Scan{src: src}
}

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" || q.BoardID == 0 {
		return nil, 0, nil
	}
	snap, err := s.src.GetBoardSnapshot(ctx, q.BoardID)
	if err != nil {
		return nil, 0, err
	}
	text := map[int64][]string{}
	for _, c := range snap.Cells {
		if str, ok := searchable(c.Value); ok {
			text[c.Key.ItemID] = append(text[c.Key.ItemID], str)
		}
	}
	var matched []Result
	for _, it := range snap.Items {
		body := strings.Join(text[it.ID], " ")
		if !strings.Contains(strings.ToLower(it.Name), needle) && !strings.Contains(strings.ToLower(body), needle) {
			continue
		}
		matched = append(matched, Result{ItemID: it.ID, BoardID: it.BoardID, Name: it.Name, Snippet: body})
	}
	total := len(matched)
	start := min(max(q.Offset, 0), total)
	end := min(start+q.limit(), total)
	return matched[start:end], total, nil
}
