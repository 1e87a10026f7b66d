package view

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
)

const cancelCheckEvery = 256

type compiledFilter struct {
	and, or  []*compiledFilter
	col      Column
	capab    coltype.Capability
	op       Op
	operand  value.Value
	operands []value.Value
	needle   string
}

type sortKey struct {
	col   Column
	capab coltype.Capability
	desc  bool
}

// Query is a compiled view spec bound to a board's columns.
type Query struct {
	spec    Spec
	filter  *compiledFilter
	sort    []sortKey
	groupBy *Column
	byGroup bool
}

func invalidSpec(format string, args ...any) error {
	return &coltype.ValidationError{Message: "view: " + fmt.Sprintf(format, args...)}
}

// Compile validates spec against columns.
func Compile(spec Spec, columns []Column) (*Query, error) {
	byID := make(map[int64]Column, len(columns))
	for _, c := range columns {
		byID[c.ID] = c
	}
	q := &Query{spec: spec}
	if spec.Filter != nil {
		f, err := compileFilter(*spec.Filter, byID)
		if err != nil {
			return nil, err
		}
		q.filter = f
	}
	for _, k := range spec.Sort {
		col, ok := byID[k.ColumnID]
		if !ok {
			return nil, invalidSpec("sort column %d not on board", k.ColumnID)
		}
		capab, _ := coltype.Lookup(col.Type)
		q.sort = append(q.sort, sortKey{col: col, capab: capab, desc: k.Desc})
	}
	if spec.GroupBy != nil {
		if spec.GroupBy.ColumnID == 0 {
			q.byGroup = true
		} else {
			col, ok := byID[spec.GroupBy.ColumnID]
			if !ok {
				return nil, invalidSpec("group column %d not on board", spec.GroupBy.ColumnID)
			}
			q.groupBy = &col
		}
	}
	return q, nil
}

func compileFilter(f Filter, cols map[int64]Column) (*compiledFilter, error) {
	isLeaf := f.ColumnID != 0 || f.Op != ""
	if isLeaf && (len(f.And) > 0 || len(f.Or) > 0) {
		return nil, invalidSpec("filter node mixes a predicate with and/or")
	}
	if len(f.And) > 0 && len(f.Or) > 0 {
		return nil, invalidSpec("filter node has both and and or")
	}
	out := &compiledFilter{}
	if !isLeaf {
		for _, child := range f.And {
			c, err := compileFilter(child, cols)
			if err != nil {
				return nil, err
			}
			out.and = append(out.and, c)
		}
		for _, child := range f.Or {
			c, err := compileFilter(child, cols)
			if err != nil {
				return nil, err
			}
			out.or = append(out.or, c)
		}
		return out, nil
	}

	col, ok := cols[f.ColumnID]
	if !ok {
		return nil, invalidSpec("filter column %d not on board", f.ColumnID)
	}
	if !f.Op.valid() {
		return nil, invalidSpec("unknown filter op %q", f.Op)
	}
	out.col, out.op = col, f.Op
	out.capab, _ = coltype.Lookup(col.Type)

	switch f.Op {
	case OpIsEmpty, OpIsNotEmpty:
	case OpContains, OpNotContains:
		if f.Value == nil {
			return nil, invalidSpec("%s needs a value", f.Op)
		}
		out.needle = strings.ToLower(fmt.Sprint(f.Value))
	case OpAnyOf:
		raw, ok := f.Value.([]any)
		if !ok {
			return nil, invalidSpec("any_of needs a list")
		}
		for _, r := range raw {
			v, err := coltype.ParseOperand(col.Type, col.Settings, r)
			if err != nil {
				return nil, err
			}
			out.operands = append(out.operands, v)
		}
	default:
		if f.Value == nil {
			return nil, invalidSpec("%s needs a value", f.Op)
		}
		v, err := coltype.ParseOperand(col.Type, col.Settings, f.Value)
		if err != nil {
			return nil, err
		}
		out.operand = v
	}
	return out, nil
}

// Match reports whether r passes the filter.
func (q *Query) Match(r Row) bool {
	if q.filter == nil {
		return true
	}
	return q.filter.match(r)
}

func (f *compiledFilter) match(r Row) bool {
	if f.and != nil || f.or != nil {
		for _, c := range f.and {
			if !c.match(r) {
				return false
			}
		}
		if len(f.or) == 0 {
			return true
		}
		for _, c := range f.or {
			if c.match(r) {
				return true
			}
		}
		return false
	}
	if f.op == "" {
		return true
	}
	v := r.Values[f.col.ID]
	switch f.op {
	case OpIsEmpty:
		return v.IsEmpty()
	case OpIsNotEmpty:
		return !v.IsEmpty()
	case OpContains:
		return !v.IsEmpty() && strings.Contains(strings.ToLower(f.capab.Format(f.col.Settings, v)), f.needle)
	case OpNotContains:
		return v.IsEmpty() || !strings.Contains(strings.ToLower(f.capab.Format(f.col.Settings, v)), f.needle)
	case OpEq:
		return f.equal(v, f.operand)
	case OpNeq:
		return !f.equal(v, f.operand)
	case OpAnyOf:
		for _, o := range f.operands {
			if f.equal(v, o) || intersects(v, o) {
				return true
			}
		}
		return false
	}
	if v.IsEmpty() || f.operand.IsEmpty() || !sameDomain(v, f.operand) {
		return false
	}
	c := f.capab.Compare(f.col.Settings, v, f.operand)
	switch f.op {
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	}
	return c >= 0
}

func (f *compiledFilter) equal(v, operand value.Value) bool {
	if v.IsEmpty() || operand.IsEmpty() {
		return v.IsEmpty() && operand.IsEmpty()
	}
	if !sameDomain(v, operand) {
		return false
	}
	return f.capab.Compare(f.col.Settings, v, operand) == 0
}

func sameDomain(a, b value.Value) bool {
	if a.Kind == b.Kind {
		return true
	}
	isDate := func(k value.Kind) bool { return k == value.KindDate || k == value.KindRange }
	return isDate(a.Kind) && isDate(b.Kind)
}

func intersects(a, b value.Value) bool {
	if a.Kind != value.KindList || b.Kind != value.KindList {
		return false
	}
	for _, x := range a.Items {
		for _, y := range b.Items {
			if strings.EqualFold(x, y) {
				return true
			}
		}
	}
	return false
}

type bucket struct {
	key   string
	title string
	rank  value.Value
	rows  []Row
}

// Result holds the filtered, bucketed rows of one materialization. Rows
// within a group are sorted when the group is yielded.
type Result struct {
	ctx     context.Context
	q       *Query
	buckets []*bucket
	matched int
	err     error
}

// Run filters and groups rows. It stops early if ctx is cancelled; the
// error surfaces from Groups.
func (q *Query) Run(ctx context.Context, rows []Row, groups []BoardGroup) *Result {
	res := &Result{ctx: ctx, q: q}
	var matched []Row
	for i, r := range rows {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				res.err = err
				return res
			}
		}
		if q.Match(r) {
			matched = append(matched, r)
		}
	}
	res.matched = len(matched)
	switch {
	case q.byGroup:
		res.buckets = bucketByBoardGroup(matched, groups)
	case q.groupBy != nil:
		res.buckets = bucketByColumn(matched, *q.groupBy)
	default:
		res.buckets = []*bucket{{key: "all", rows: matched}}
	}
	return res
}

// Count is the number of rows that passed the filter.
func (r *Result) Count() int { return r.matched }

func (r *Result) Err() error { return r.err }

// Groups yields each group in order. It can be ranged repeatedly.
func (r *Result) Groups() iter.Seq2[Group, error] {
	return func(yield func(Group, error) bool) {
		if r.err != nil {
			yield(Group{}, r.err)
			return
		}
		for _, b := range r.buckets {
			if err := r.ctx.Err(); err != nil {
				yield(Group{}, err)
				return
			}
			rows := make([]Row, len(b.rows))
			copy(rows, b.rows)
			r.q.sortRows(rows)
			if !yield(Group{Key: b.key, Title: b.title, Rows: rows}, nil) {
				return
			}
		}
	}
}

// Rows yields every row group by group.
func (r *Result) Rows() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for g, err := range r.Groups() {
			if err != nil {
				yield(Row{}, err)
				return
			}
			for _, row := range g.Rows {
				if !yield(row, nil) {
					return
				}
			}
		}
	}
}

func (q *Query) sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		for _, k := range q.sort {
			av, bv := a.Values[k.col.ID], b.Values[k.col.ID]
			ae, be := av.IsEmpty(), bv.IsEmpty()
			if ae || be {
				if ae && be {
					continue
				}
				return be
			}
			c := k.capab.Compare(k.col.Settings, av, bv)
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return creationLess(a, b)
	})
}

func creationLess(a, b Row) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ItemID < b.ItemID
}

func bucketByBoardGroup(rows []Row, groups []BoardGroup) []*bucket {
	ordered := make([]BoardGroup, len(groups))
	copy(ordered, groups)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Position != ordered[j].Position {
			return ordered[i].Position < ordered[j].Position
		}
		return ordered[i].ID < ordered[j].ID
	})
	byID := make(map[int64]*bucket, len(ordered))
	out := make([]*bucket, 0, len(ordered)+1)
	for _, g := range ordered {
		b := &bucket{key: fmt.Sprintf("group:%d", g.ID), title: g.Title}
		byID[g.ID] = b
		out = append(out, b)
	}
	ungrouped := &bucket{key: "group:none"}
	for _, r := range rows {
		if b, ok := byID[r.GroupID]; ok {
			b.rows = append(b.rows, r)
		} else {
			ungrouped.rows = append(ungrouped.rows, r)
		}
	}
	if len(ungrouped.rows) > 0 {
		out = append(out, ungrouped)
	}
	return out
}

func bucketByColumn(rows []Row, col Column) []*bucket {
	capab, _ := coltype.Lookup(col.Type)
	byKey := map[string]*bucket{}
	var out []*bucket
	add := func(v value.Value) *bucket {
		key := "empty"
		if !v.IsEmpty() {
			key = "v:" + strings.ToLower(capab.Format(col.Settings, v))
		}
		if b, ok := byKey[key]; ok {
			return b
		}
		b := &bucket{key: key, rank: v}
		if !v.IsEmpty() {
			b.title = capab.Format(col.Settings, v)
		}
		byKey[key] = b
		out = append(out, b)
		return b
	}
	for _, label := range coltype.LabelsFor(col.Type, col.Settings) {
		if col.Type == coltype.TypeStatus || col.Type == coltype.TypePriority {
			add(value.Text(label))
		}
	}
	for _, r := range rows {
		b := add(r.Values[col.ID])
		b.rows = append(b.rows, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return capab.Compare(col.Settings, out[i].rank, out[j].rank) < 0
	})
	return out
}
