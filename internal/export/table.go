package export

import (
	"fmt"
	"time"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/grid"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

// BuildTable flattens a materialized view. The first column is the item
// name; the rest follow the board's column order.
func BuildTable(m *grid.Materialized, now time.Time) (Table, error) {
	t := Table{
		Title:       m.Name,
		BoardName:   m.Board.Name,
		Columns:     make([]string, 0, len(m.Columns)+1),
		Count:       m.Count(),
		GeneratedAt: now,
	}
	if t.Title == "" {
		t.Title = m.Board.Name
	}
	t.Columns = append(t.Columns, "Name")
	for _, c := range m.Columns {
		t.Columns = append(t.Columns, c.Title)
	}
	for g, err := range m.Groups() {
		if err != nil {
			return Table{}, fmt.Errorf("materialize groups: %w", err)
		}
		tg := TableGroup{Title: g.Title, Rows: make([][]string, 0, len(g.Rows))}
		for _, r := range g.Rows {
			row := make([]string, 0, len(t.Columns))
			row = append(row, r.Name)
			for _, c := range m.Columns {
				row = append(row, cellText(c, r.Values[c.ID]))
			}
			tg.Rows = append(tg.Rows, row)
		}
		t.Groups = append(t.Groups, tg)
	}
	return t, nil
}

func cellText(c store.Column, v value.Value) string {
	if v.Kind == value.KindNotLinked {
		return ""
	}
	if capab, ok := coltype.Lookup(c.Type); ok {
		return capab.Format(c.Settings, v)
	}
	return v.String()
}

// grouped reports whether the table has real groups rather than one
// unnamed bucket.
func (t Table) grouped() bool {
	return len(t.Groups) > 1 || (len(t.Groups) == 1 && t.Groups[0].Title != "")
}
