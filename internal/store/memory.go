package store

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
)

var errReadOnly = errors.New("read-only transaction")

// MemoryStore keeps everything in process. Write transactions are
// serialized and work on a private copy that replaces the committed state
// on Commit; read-only transactions see the state as of Begin.
type MemoryStore struct {
	sem    chan struct{}
	mu     sync.RWMutex
	data   *memData
	nowFun func() time.Time
}

type memData struct {
	seq        int64
	workspaces map[int64]Workspace
	boards     map[int64]Board
	columns    map[int64]Column
	groups     map[int64]Group
	items      map[int64]Item
	subItems   map[int64]SubItem
	cells      map[CellKey]Cell
	links      map[ItemLink]struct{}
	deps       map[int64]Dependency
	views      map[int64]View
	activity   []Activity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sem:    make(chan struct{}, 1),
		nowFun: func() time.Time { return time.Now().UTC() },
		data: &memData{
			workspaces: map[int64]Workspace{},
			boards:     map[int64]Board{},
			columns:    map[int64]Column{},
			groups:     map[int64]Group{},
			items:      map[int64]Item{},
			subItems:   map[int64]SubItem{},
			cells:      map[CellKey]Cell{},
			links:      map[ItemLink]struct{}{},
			deps:       map[int64]Dependency{},
			views:      map[int64]View{},
		},
	}
}

func (d *memData) clone() *memData {
	return &memData{
		seq:        d.seq,
		workspaces: maps.Clone(d.workspaces),
		boards:     maps.Clone(d.boards),
		columns:    maps.Clone(d.columns),
		groups:     maps.Clone(d.groups),
		items:      maps.Clone(d.items),
		subItems:   maps.Clone(d.subItems),
		cells:      maps.Clone(d.cells),
		links:      maps.Clone(d.links),
		deps:       maps.Clone(d.deps),
		views:      maps.Clone(d.views),
		activity:   slices.Clone(d.activity),
	}
}

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.RLock()
	d := s.data.clone()
	s.mu.RUnlock()
	return &memTx{s: s, d: d}, nil
}

func (s *MemoryStore) BeginReadOnly(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	d := s.data
	s.mu.RUnlock()
	return &memTx{s: s, d: d, readOnly: true}, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

type memTx struct {
	s        *MemoryStore
	d        *memData
	readOnly bool
	done     bool
}

func (t *memTx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	if t.readOnly {
		return nil
	}
	t.s.mu.Lock()
	t.s.data = t.d
	t.s.mu.Unlock()
	<-t.s.sem
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if !t.readOnly {
		<-t.s.sem
	}
	return nil
}

func (t *memTx) write() error {
	if t.readOnly {
		return errReadOnly
	}
	if t.done {
		return errors.New("transaction already finished")
	}
	return nil
}

func (t *memTx) nextID() int64 {
	t.d.seq++
	return t.d.seq
}

func (t *memTx) now() time.Time { return t.s.nowFun() }

func (t *memTx) LockBoard(ctx context.Context, boardID int64) error {
	if _, ok := t.d.boards[boardID]; !ok {
		return ErrNotFound
	}
	return ctx.Err()
}

func (t *memTx) LockDependencyGraph(ctx context.Context) error { return ctx.Err() }

func (t *memTx) LockItem(ctx context.Context, itemID int64) error { return ctx.Err() }

func (t *memTx) InsertWorkspace(_ context.Context, w *Workspace) error {
	if err := t.write(); err != nil {
		return err
	}
	w.ID = t.nextID()
	w.CreatedAt = t.now()
	t.d.workspaces[w.ID] = *w
	return nil
}

func (t *memTx) GetWorkspace(_ context.Context, id int64) (Workspace, error) {
	w, ok := t.d.workspaces[id]
	if !ok {
		return Workspace{}, ErrNotFound
	}
	return w, nil
}

func copyBoard(b Board) Board {
	b.DoneLabels = slices.Clone(b.DoneLabels)
	if b.StatusColumnID != nil {
		id := *b.StatusColumnID
		b.StatusColumnID = &id
	}
	return b
}

func (t *memTx) InsertBoard(_ context.Context, b *Board) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.d.workspaces[b.WorkspaceID]; !ok {
		return ErrNotFound
	}
	b.ID = t.nextID()
	b.CreatedAt = t.now()
	b.UpdatedAt = b.CreatedAt
	t.d.boards[b.ID] = copyBoard(*b)
	return nil
}

func (t *memTx) GetBoard(_ context.Context, id int64) (Board, error) {
	b, ok := t.d.boards[id]
	if !ok {
		return Board{}, ErrNotFound
	}
	return copyBoard(b), nil
}

func (t *memTx) ListBoards(_ context.Context, workspaceID int64) ([]Board, error) {
	var out []Board
	for _, b := range t.d.boards {
		if workspaceID == 0 || b.WorkspaceID == workspaceID {
			out = append(out, copyBoard(b))
		}
	}
	slices.SortFunc(out, func(a, b Board) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) UpdateBoard(_ context.Context, b Board) error {
	if err := t.write(); err != nil {
		return err
	}
	cur, ok := t.d.boards[b.ID]
	if !ok {
		return ErrNotFound
	}
	b.WorkspaceID, b.CreatedAt = cur.WorkspaceID, cur.CreatedAt
	b.UpdatedAt = t.now()
	t.d.boards[b.ID] = copyBoard(b)
	return nil
}

func (t *memTx) DeleteBoard(_ context.Context, id int64) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.d.boards[id]; !ok {
		return ErrNotFound
	}
	for itemID, it := range t.d.items {
		if it.BoardID == id {
			t.deleteItem(itemID)
		}
	}
	for colID, c := range t.d.columns {
		if c.BoardID == id {
			t.deleteColumn(colID)
		}
	}
	for gid, g := range t.d.groups {
		if g.BoardID == id {
			delete(t.d.groups, gid)
		}
	}
	for vid, v := range t.d.views {
		if v.BoardID == id {
			delete(t.d.views, vid)
		}
	}
	delete(t.d.boards, id)
	return nil
}

func copyColumn(c Column) Column {
	c.Settings.Labels = slices.Clone(c.Settings.Labels)
	if c.Settings.Precision != nil {
		p := *c.Settings.Precision
		c.Settings.Precision = &p
	}
	return c
}

func (t *memTx) titleTaken(boardID, exceptID int64, title string) bool {
	for _, c := range t.d.columns {
		if c.BoardID == boardID && c.ID != exceptID && strings.EqualFold(c.Title, title) {
			return true
		}
	}
	return false
}

func (t *memTx) InsertColumn(_ context.Context, c *Column) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.d.boards[c.BoardID]; !ok {
		return ErrNotFound
	}
	if t.titleTaken(c.BoardID, 0, c.Title) {
		return ErrConflict
	}
	c.ID = t.nextID()
	c.CreatedAt = t.now()
	c.UpdatedAt = c.CreatedAt
	t.d.columns[c.ID] = copyColumn(*c)
	return nil
}

func (t *memTx) GetColumn(_ context.Context, id int64) (Column, error) {
	c, ok := t.d.columns[id]
	if !ok {
		return Column{}, ErrNotFound
	}
	return copyColumn(c), nil
}

func sortColumns(cols []Column) {
	slices.SortFunc(cols, func(a, b Column) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.ID, b.ID))
	})
}

func (t *memTx) ListColumns(_ context.Context, boardID int64) ([]Column, error) {
	var out []Column
	for _, c := range t.d.columns {
		if c.BoardID == boardID {
			out = append(out, copyColumn(c))
		}
	}
	sortColumns(out)
	return out, nil
}

func (t *memTx) ListMirrorsTargeting(_ context.Context, boardID int64) ([]Column, error) {
	var out []Column
	for _, c := range t.d.columns {
		if c.Type == coltype.TypeMirror && c.Settings.MirrorBoardID == boardID {
			out = append(out, copyColumn(c))
		}
	}
	sortColumns(out)
	return out, nil
}

func (t *memTx) UpdateColumn(_ context.Context, c Column) error {
	if err := t.write(); err != nil {
		return err
	}
	cur, ok := t.d.columns[c.ID]
	if !ok {
		return ErrNotFound
	}
	if t.titleTaken(cur.BoardID, c.ID, c.Title) {
		return ErrConflict
	}
	c.BoardID, c.Type, c.CreatedAt = cur.BoardID, cur.Type, cur.CreatedAt
	c.UpdatedAt = t.now()
	t.d.columns[c.ID] = copyColumn(c)
	return nil
}

func (t *memTx) DeleteColumn(_ context.Context, id int64) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.d.columns[id]; !ok {
		return ErrNotFound
	}
	t.deleteColumn(id)
	return nil
}

func (t *memTx) deleteColumn(id int64) {
	for k := range t.d.cells {
		if k.ColumnID == id {
			delete(t.d.cells, k)
		}
	}
	for l := range t.d.links {
		if l.ColumnID == id {
			delete(t.d.links, l)
		}
	}
	for bid, b := range t.d.boards {
		if b.StatusColumnID != nil && *b.StatusColumnID == id {
			b.StatusColumnID = nil
			t.d.boards[bid] = b
		}
	}
	delete(t.d.columns, id)
}

func (t *memTx) InsertGroup(_ context.Context, g *Group) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.d.boards[g.BoardID]; !ok {
		return ErrNotFound
	}
	g.ID = t.nextID()
	g.CreatedAt = t.now()
	t.d.groups[g.ID] = *g
	return nil
}

func (t *memTx) GetGroup(_ context.Context, id int64) (Group, error) {
	g, ok := t.d.groups[id]
	if !ok {
		return Group{}, ErrNotFound
	}
	return g, nil
}

func (t *memTx) ListGroups(_ context.Context, boardID int64) ([]Group, error) {
	var out []Group
	for _, g := range t.d.groups {
		if g.BoardID == boardID {
			out = append(out, g)
		}
	}
	slices.SortFunc(out, func(a, b Group) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *memTx) DeleteGroup(_ context.Context, id int64) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.d.groups[id]; !ok {
		return ErrNotFound
	}
	for iid, it := range t.d.items {
		if it.GroupID != nil && *it.GroupID == id {
			it.GroupID = nil
			t.d.items[iid] = it
		}
	}
	delete(t.d.groups, id)
	return nil
}

func copyItem(it Item) Item {
	if it.GroupID != nil {
		g := *it.GroupID
		it.GroupID = &g
	}
	return it
}

func (t *memTx) InsertItem(_ context.Context, it *Item) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.d.boards[it.BoardID]; !ok {
		return ErrNotFound
	}
	if it.GroupID != nil {
		if g, ok := t.d.groups[*it.GroupID]; !ok || g.BoardID != it.BoardID {
			return ErrNotFound
		}
	}
	it.ID = t.nextID()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = t.now()
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = it.CreatedAt
	}
	t.d.items[it.ID] = copyItem(*it)
	return nil
}

func (t *memTx) GetItem(_ context.Context, id int64) (Item, error) {
	it, ok := t.d.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return copyItem(it), nil
}

func (t *memTx) ListItems(_ context.Context, boardID int64) ([]Item, error) {
	var out []Item
	for _, it := range t.d.items {
		if it.BoardID == boardID {
			out = append(out, copyItem(it))
		}
	}
	slices.SortFunc(out, func(a, b Item) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *memTx) UpdateItem(_ context.Context, it Item) error {
	if err := t.write(); err != nil {
		return err
	}
	cur, ok := t.d.items[it.ID]
	if !ok {
		return ErrNotFound
	}
	if it.GroupID != nil {
		if g, ok := t.d.groups[*it.GroupID]; !ok || g.BoardID != cur.BoardID {
			return ErrNotFound
		}
	}
	it.BoardID, it.CreatedAt = cur.BoardID, cur.CreatedAt
	t.d.items[it.ID] = copyItem(it)
	return nil
}

func (t *memTx) DeleteItem(_ context.Context, id int64) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.d.items[id]; !ok {
		return ErrNotFound
	}
	t.deleteItem(id)
	return nil
}

func (t *memTx) deleteItem(id int64) {
	for sid, s := range t.d.subItems {
		if s.ParentItemID == id {
			t.deleteSubItem(sid)
		}
	}
	for k := range t.d.cells {
		if k.ItemID == id {
			delete(t.d.cells, k)
		}
	}
	for l := range t.d.links {
		if l.SourceItemID == id {
			delete(t.d.links, l)
		}
	}
	for did, d := range t.d.deps {
		if d.SourceItemID == id || d.TargetItemID == id {
			delete(t.d.deps, did)
		}
	}
	delete(t.d.items, id)
}

func (t *memTx) InsertSubItem(_ context.Context, s *SubItem) error {
	if err := t.write(); err != nil {
		return err
	}
	parent, ok := t.d.items[s.ParentItemID]
	if !ok {
		return ErrNotFound
	}
	s.BoardID = parent.BoardID
	s.ID = t.nextID()
	s.CreatedAt = t.now()
	s.UpdatedAt = s.CreatedAt
	t.d.subItems[s.ID] = *s
	return nil
}

func (t *memTx) GetSubItem(_ context.Context, id int64) (SubItem, error) {
	s, ok := t.d.subItems[id]
	if !ok {
		return SubItem{}, ErrNotFound
	}
	return s, nil
}

func sortSubItems(out []SubItem) {
	slices.SortFunc(out, func(a, b SubItem) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.ID, b.ID))
	})
}

func (t *memTx) ListSubItems(_ context.Context, parentItemID int64) ([]SubItem, error) {
	var out []SubItem
	for _, s := range t.d.subItems {
		if s.ParentItemID == parentItemID {
			out = append(out, s)
		}
	}
	sortSubItems(out)
	return out, nil
}

func (t *memTx) ListBoardSubItems(_ context.Context, boardID int64) ([]SubItem, error) {
	var out []SubItem
	for _, s := range t.d.subItems {
		if s.BoardID == boardID {
			out = append(out, s)
		}
	}
	sortSubItems(out)
	return out, nil
}

func (t *memTx) DeleteSubItem(_ context.Context, id int64) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.d.subItems[id]; !ok {
		return ErrNotFound
	}
	t.deleteSubItem(id)
	return nil
}

func (t *memTx) deleteSubItem(id int64) {
	for k := range t.d.cells {
		if k.SubItemID == id {
			delete(t.d.cells, k)
		}
	}
	delete(t.d.subItems, id)
}

func copyCell(c Cell) Cell {
	c.Value.Items = slices.Clone(c.Value.Items)
	c.Value.Refs = slices.Clone(c.Value.Refs)
	return c
}

func (t *memTx) GetCell(_ context.Context, key CellKey, _ bool) (Cell, bool, error) {
	c, ok := t.d.cells[key]
	if !ok {
		return Cell{}, false, nil
	}
	return copyCell(c), true, nil
}

func (t *memTx) PutCell(_ context.Context, c *Cell) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.d.columns[c.Key.ColumnID]; !ok {
		return ErrNotFound
	}
	switch {
	case c.Key.ItemID != 0 && c.Key.SubItemID == 0:
		if _, ok := t.d.items[c.Key.ItemID]; !ok {
			return ErrNotFound
		}
	case c.Key.SubItemID != 0 && c.Key.ItemID == 0:
		if _, ok := t.d.subItems[c.Key.SubItemID]; !ok {
			return ErrNotFound
		}
	default:
		return errors.New("cell key needs exactly one owner")
	}
	cur, exists := t.d.cells[c.Key]
	if exists && cur.Version != c.Version-1 || !exists && c.Version != 1 {
		return ErrConflict
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = t.now()
	}
	t.d.cells[c.Key] = copyCell(*c)
	return nil
}

func sortCells(out []Cell) {
	slices.SortFunc(out, func(a, b Cell) int {
		return cmp.Or(
			cmp.Compare(a.Key.ItemID, b.Key.ItemID),
			cmp.Compare(a.Key.SubItemID, b.Key.SubItemID),
			cmp.Compare(a.Key.ColumnID, b.Key.ColumnID),
		)
	})
}

func (t *memTx) listCells(match func(Cell) bool) []Cell {
	var out []Cell
	for _, c := range t.d.cells {
		if match(c) {
			out = append(out, copyCell(c))
		}
	}
	sortCells(out)
	return out
}

func (t *memTx) ListItemCells(_ context.Context, itemID int64) ([]Cell, error) {
	return t.listCells(func(c Cell) bool { return c.Key.ItemID == itemID }), nil
}

func (t *memTx) ListSubItemCells(_ context.Context, subItemID int64) ([]Cell, error) {
	return t.listCells(func(c Cell) bool { return c.Key.SubItemID == subItemID }), nil
}

func (t *memTx) ListBoardCells(_ context.Context, boardID int64) ([]Cell, error) {
	return t.listCells(func(c Cell) bool { return c.BoardID == boardID && c.Key.ItemID != 0 }), nil
}

func (t *memTx) ListBoardSubItemCells(_ context.Context, boardID int64) ([]Cell, error) {
	return t.listCells(func(c Cell) bool { return c.BoardID == boardID && c.Key.SubItemID != 0 }), nil
}

func (t *memTx) ListColumnCells(_ context.Context, columnID int64) ([]Cell, error) {
	return t.listCells(func(c Cell) bool { return c.Key.ColumnID == columnID }), nil
}

func (t *memTx) ReplaceLinks(_ context.Context, sourceItemID, columnID int64, targets []int64) error {
	if err := t.write(); err != nil {
		return err
	}
	for l := range t.d.links {
		if l.SourceItemID == sourceItemID && l.ColumnID == columnID {
			delete(t.d.links, l)
		}
	}
	for _, target := range targets {
		t.d.links[ItemLink{SourceItemID: sourceItemID, ColumnID: columnID, TargetItemID: target}] = struct{}{}
	}
	return nil
}

func (t *memTx) ListLinksTo(_ context.Context, targetItemID int64) ([]ItemLink, error) {
	var out []ItemLink
	for l := range t.d.links {
		if l.TargetItemID == targetItemID {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b ItemLink) int {
		return cmp.Or(cmp.Compare(a.SourceItemID, b.SourceItemID), cmp.Compare(a.ColumnID, b.ColumnID))
	})
	return out, nil
}

func (t *memTx) InsertDependency(_ context.Context, d *Dependency) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.d.items[d.SourceItemID]; !ok {
		return ErrNotFound
	}
	if _, ok := t.d.items[d.TargetItemID]; !ok {
		return ErrNotFound
	}
	for _, existing := range t.d.deps {
		if existing.SourceItemID == d.SourceItemID && existing.TargetItemID == d.TargetItemID && existing.Type == d.Type {
			return ErrConflict
		}
	}
	d.ID = t.nextID()
	d.CreatedAt = t.now()
	t.d.deps[d.ID] = *d
	return nil
}

func (t *memTx) GetDependency(_ context.Context, id int64) (Dependency, error) {
	d, ok := t.d.deps[id]
	if !ok {
		return Dependency{}, ErrNotFound
	}
	return d, nil
}

func (t *memTx) FindDependency(_ context.Context, source, target int64, typ DependencyType) (Dependency, bool, error) {
	for _, d := range t.d.deps {
		if d.SourceItemID == source && d.TargetItemID == target && d.Type == typ {
			return d, true, nil
		}
	}
	return Dependency{}, false, nil
}

func (t *memTx) DeleteDependency(_ context.Context, id int64) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.d.deps[id]; !ok {
		return ErrNotFound
	}
	delete(t.d.deps, id)
	return nil
}

func (t *memTx) ListDependencies(_ context.Context, itemID int64) ([]Dependency, error) {
	var out []Dependency
	for _, d := range t.d.deps {
		if d.SourceItemID == itemID || d.TargetItemID == itemID {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b Dependency) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) InsertView(_ context.Context, v *View) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.d.boards[v.BoardID]; !ok {
		return ErrNotFound
	}
	v.ID = t.nextID()
	v.CreatedAt = t.now()
	v.UpdatedAt = v.CreatedAt
	t.d.views[v.ID] = *v
	return nil
}

func (t *memTx) GetView(_ context.Context, id int64) (View, error) {
	v, ok := t.d.views[id]
	if !ok {
		return View{}, ErrNotFound
	}
	return v, nil
}

func (t *memTx) ListViews(_ context.Context, boardID int64) ([]View, error) {
	var out []View
	for _, v := range t.d.views {
		if v.BoardID == boardID {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b View) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) UpdateView(_ context.Context, v View) error {
	if err := t.write(); err != nil {
		return err
	}
	cur, ok := t.d.views[v.ID]
	if !ok {
		return ErrNotFound
	}
	v.BoardID, v.CreatedAt = cur.BoardID, cur.CreatedAt
	v.UpdatedAt = t.now()
	t.d.views[v.ID] = v
	return nil
}

func (t *memTx) DeleteView(_ context.Context, id int64) error {
	if err := t.write(); err != nil {
		return err
	}
	if _, ok := t.d.views[id]; !ok {
		return ErrNotFound
	}
	delete(t.d.views, id)
	return nil
}

func (t *memTx) AppendActivity(_ context.Context, a *Activity) error {
	if err := t.write(); err != nil {
		return err
	}
	a.ID = t.nextID()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = t.now()
	}
	t.d.activity = append(t.d.activity, *a)
	return nil
}

func (t *memTx) ListActivity(_ context.Context, boardID, afterID int64, limit int) ([]Activity, error) {
	var out []Activity
	for _, a := range t.d.activity {
		if a.ID <= afterID || boardID != 0 && a.BoardID != boardID {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
