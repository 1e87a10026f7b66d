// Package search indexes item names and text cells. Meilisearch serves
// queries when it is healthy; otherwise a Postgres or in-memory scan does.
package search

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/view"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ItemID  int64  `json:"itemId"`
	BoardID int64  `json:"boardId"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
}

// Query describes a search request. BoardID 0 searches every board.
type Query struct {
	Text    string
	BoardID int64
	Limit   int
	Offset  int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// ItemRecord is the data we index for an item.
type ItemRecord struct {
	ID      string `json:"id"`
	ItemID  int64  `json:"itemId"`
	BoardID int64  `json:"boardId"`
	Name    string `json:"name"`
	Text    string `json:"text"`
}

// RecordFor flattens a row's text-like cells into an index record.
func RecordFor(boardID int64, row view.Row) ItemRecord {
	ids := make([]int64, 0, len(row.Values))
	for id := range row.Values {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	var parts []string
	for _, id := range ids {
		if s, ok := searchable(row.Values[id]); ok {
			parts = append(parts, s)
		}
	}
	return ItemRecord{
		ID:      docID(row.ItemID),
		ItemID:  row.ItemID,
		BoardID: boardID,
		Name:    row.Name,
		Text:    strings.Join(parts, " "),
	}
}

// searchable returns the indexed text of a cell. Only text-like values
// are indexed.
func searchable(v value.Value) (string, bool) {
	if v.Kind != value.KindText && v.Kind != value.KindList {
		return "", false
	}
	s := strings.TrimSpace(v.String())
	return s, s != ""
}

func docID(itemID int64) string {
	return "item-" + strconv.FormatInt(itemID, 10)
}
