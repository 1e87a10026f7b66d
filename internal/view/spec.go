// Package view evaluates saved view specifications (filter, group, sort)
// over rows of already-computed cell values.
package view

import (
	"slices"
	"time"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

type Op string

const (
	OpEq          Op = "eq"
	OpNeq         Op = "neq"
	OpLt          Op = "lt"
	OpLte         Op = "lte"
	OpGt          Op = "gt"
	OpGte         Op = "gte"
	OpContains    Op = "contains"
	OpNotContains Op = "not_contains"
	OpIsEmpty     Op = "is_empty"
	OpIsNotEmpty  Op = "is_not_empty"
	OpAnyOf       Op = "any_of"
)

func (o Op) valid() bool {
	switch o {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpContains, OpNotContains, OpIsEmpty, OpIsNotEmpty, OpAnyOf:
		return true
	}
	return false
}

// Filter is either a leaf predicate (ColumnID, Op, Value) or a boolean
// combination of child filters.
type Filter struct {
	And      []Filter `json:"and,omitempty"`
	Or       []Filter `json:"or,omitempty"`
	ColumnID int64    `json:"columnId,omitempty"`
	Op       Op       `json:"op,omitempty"`
	Value    any      `json:"value,omitempty"`
}

type SortKey struct {
	ColumnID int64 `json:"columnId"`
	Desc     bool  `json:"desc,omitempty"`
}

// GroupBy with a zero ColumnID groups by the board's own groups.
type GroupBy struct {
	ColumnID int64 `json:"columnId,omitempty"`
}

type Spec struct {
	Filter  *Filter   `json:"filter,omitempty"`
	Sort    []SortKey `json:"sort,omitempty"`
	GroupBy *GroupBy  `json:"groupBy,omitempty"`
	Layout  string    `json:"layout,omitempty"`
}

// Columns referenced by the spec, for dependency tracking.
func (s Spec) Columns() []int64 {
	var ids []int64
	var walk func(f *Filter)
	walk = func(f *Filter) {
		if f == nil {
			return
		}
		if f.ColumnID != 0 {
			ids = append(ids, f.ColumnID)
		}
		for i := range f.And {
			walk(&f.And[i])
		}
		for i := range f.Or {
			walk(&f.Or[i])
		}
	}
	walk(s.Filter)
	for _, k := range s.Sort {
		ids = append(ids, k.ColumnID)
	}
	if s.GroupBy != nil && s.GroupBy.ColumnID != 0 {
		ids = append(ids, s.GroupBy.ColumnID)
	}
	return ids
}

// WithoutColumn drops every filter leaf, sort key and grouping that
// references id. The second result reports whether anything was dropped.
func (s Spec) WithoutColumn(id int64) (Spec, bool) {
	if !slices.Contains(s.Columns(), id) {
		return s, false
	}
	out := Spec{Layout: s.Layout}
	if s.Filter != nil {
		out.Filter = pruneFilter(*s.Filter, id)
	}
	for _, k := range s.Sort {
		if k.ColumnID != id {
			out.Sort = append(out.Sort, k)
		}
	}
	if s.GroupBy != nil && s.GroupBy.ColumnID != id {
		g := *s.GroupBy
		out.GroupBy = &g
	}
	return out, true
}

// pruneFilter returns nil when nothing of f survives.
func pruneFilter(f Filter, id int64) *Filter {
	if f.ColumnID != 0 || f.Op != "" {
		if f.ColumnID == id {
			return nil
		}
		return &f
	}
	keep := func(children []Filter) []Filter {
		var out []Filter
		for _, c := range children {
			if p := pruneFilter(c, id); p != nil {
				out = append(out, *p)
			}
		}
		return out
	}
	and, or := keep(f.And), keep(f.Or)
	if len(and) == 0 && len(or) == 0 {
		return nil
	}
	return &Filter{And: and, Or: or}
}

type Column struct {
	ID       int64
	Title    string
	Type     coltype.Type
	Settings coltype.Settings
}

type Row struct {
	ItemID    int64                 `json:"itemId"`
	GroupID   int64                 `json:"groupId,omitempty"`
	Name      string                `json:"name"`
	Position  int                   `json:"position"`
	CreatedAt time.Time             `json:"createdAt"`
	Values    map[int64]value.Value `json:"values"`
}

type BoardGroup struct {
	ID       int64
	Title    string
	Position int
}

type Group struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Rows  []Row  `json:"rows"`
}
