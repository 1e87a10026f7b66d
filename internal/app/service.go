package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/export"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/gitrepo"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/grid"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/search"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/value"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/view"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// SnapshotReader serves board snapshots, usually through the cache.
type SnapshotReader interface {
	Get(ctx context.Context, boardID int64) (grid.Snapshot, error)
}

type engineSnapshots struct{ e *grid.Engine }

func (s engineSnapshots) Get(ctx context.Context, boardID int64) (grid.Snapshot, error) {
	return s.e.GetBoardSnapshot(ctx, boardID)
}

// Check is one readiness probe.
type Check func(ctx context.Context) error

// Deps are the collaborators of the service. Engine and Store are
// required; the rest are optional.
type Deps struct {
	Engine    *grid.Engine
	Store     store.Store
	Snapshots SnapshotReader
	Search    *search.Service
	Export    *export.Service
	History   *gitrepo.Service
	// Checks are reported by /api/ready next to the database.
	Checks map[string]Check
}

type Service struct {
	engine    *grid.Engine
	store     store.Store
	snapshots SnapshotReader
	search    *search.Service
	export    *export.Service
	history   *gitrepo.Service
	checks    map[string]Check
	log       *log.Entry
}

func New(d Deps) *Service {
	s := &Service{
		engine:    d.Engine,
		store:     d.Store,
		snapshots: d.Snapshots,
		search:    d.Search,
		export:    d.Export,
		history:   d.History,
		checks:    d.Checks,
		log:       log.WithField("component", "app"),
	}
	if s.snapshots == nil {
		s.snapshots = engineSnapshots{d.Engine}
	}
	if s.search == nil {
		s.search = search.NewService(nil, search.NewScan(d.Engine))
	}
	if s.export == nil {
		s.export = export.NewService(d.Engine)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Ready runs the database ping and every extra check. The map holds nil
// for passing checks.
func (s *Service) Ready(ctx context.Context) map[string]error {
	out := map[string]error{"database": s.Ping(ctx)}
	for name, check := range s.checks {
		out[name] = check(ctx)
	}
	return out
}

func check(in any) error {
	if err := validate.Struct(in); err != nil {
		return fieldErrors(err)
	}
	return nil
}

type CreateWorkspaceInput struct {
	Name string `json:"name" validate:"required,max=200"`
}

func (s *Service) CreateWorkspace(ctx context.Context, in CreateWorkspaceInput) (store.Workspace, error) {
	if err := check(in); err != nil {
		return store.Workspace{}, err
	}
	return s.engine.CreateWorkspace(ctx, in.Name)
}

type CreateBoardInput struct {
	WorkspaceID int64    `json:"workspaceId" validate:"required,gt=0"`
	Name        string   `json:"name" validate:"required,max=200"`
	DoneLabels  []string `json:"doneLabels" validate:"omitempty,dive,required,max=100"`
}

func (s *Service) CreateBoard(ctx context.Context, in CreateBoardInput) (store.Board, error) {
	if err := check(in); err != nil {
		return store.Board{}, err
	}
	return s.engine.CreateBoard(ctx, grid.BoardInput{WorkspaceID: in.WorkspaceID, Name: in.Name, DoneLabels: in.DoneLabels})
}

func (s *Service) GetBoard(ctx context.Context, boardID int64) (grid.Snapshot, error) {
	return s.snapshots.Get(ctx, boardID)
}

type UpdateBoardInput struct {
	Name           *string   `json:"name" validate:"omitempty,max=200"`
	DoneLabels     *[]string `json:"doneLabels"`
	StatusColumnID *int64    `json:"statusColumnId" validate:"omitempty,gte=0"`
}

func (s *Service) UpdateBoard(ctx context.Context, boardID int64, in UpdateBoardInput) (store.Board, error) {
	if err := check(in); err != nil {
		return store.Board{}, err
	}
	return s.engine.UpdateBoard(ctx, boardID, grid.BoardPatch{Name: in.Name, DoneLabels: in.DoneLabels, StatusColumnID: in.StatusColumnID})
}

func (s *Service) DeleteBoard(ctx context.Context, boardID int64) error {
	return s.engine.DeleteBoard(ctx, boardID)
}

type CreateColumnInput struct {
	Title    string           `json:"title" validate:"required,max=200"`
	Type     coltype.Type     `json:"type" validate:"required"`
	Settings coltype.Settings `json:"settings"`
	Position *int             `json:"position" validate:"omitempty,gte=0"`
}

func (s *Service) CreateColumn(ctx context.Context, boardID int64, in CreateColumnInput) (store.Column, error) {
	if err := check(in); err != nil {
		return store.Column{}, err
	}
	if _, ok := coltype.Lookup(in.Type); !ok {
		return store.Column{}, validationError(fmt.Sprintf("unknown column type %q", in.Type))
	}
	return s.engine.CreateColumn(ctx, grid.ColumnInput{BoardID: boardID, Title: in.Title, Type: in.Type, Settings: in.Settings, Position: in.Position})
}

type UpdateColumnInput struct {
	Title    *string           `json:"title" validate:"omitempty,max=200"`
	Settings *coltype.Settings `json:"settings"`
	Position *int              `json:"position" validate:"omitempty,gte=0"`
}

func (s *Service) UpdateColumn(ctx context.Context, columnID int64, in UpdateColumnInput) (store.Column, error) {
	if err := check(in); err != nil {
		return store.Column{}, err
	}
	return s.engine.UpdateColumn(ctx, columnID, grid.ColumnPatch{Title: in.Title, Settings: in.Settings, Position: in.Position})
}

func (s *Service) DeleteColumn(ctx context.Context, columnID int64) error {
	return s.engine.DeleteColumn(ctx, columnID)
}

type CreateGroupInput struct {
	Title string `json:"title" validate:"required,max=200"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
}

func (s *Service) CreateGroup(ctx context.Context, boardID int64, in CreateGroupInput) (store.Group, error) {
	if err := check(in); err != nil {
		return store.Group{}, err
	}
	return s.engine.CreateGroup(ctx, grid.GroupInput{BoardID: boardID, Title: in.Title, Color: in.Color})
}

func (s *Service) DeleteGroup(ctx context.Context, groupID int64) error {
	return s.engine.DeleteGroup(ctx, groupID)
}

type CreateItemInput struct {
	Name    string        `json:"name" validate:"required,max=500"`
	GroupID *int64        `json:"groupId" validate:"omitempty,gt=0"`
	Cells   map[int64]any `json:"cells"`
}

func (s *Service) CreateItem(ctx context.Context, boardID int64, in CreateItemInput) (view.Row, error) {
	if err := check(in); err != nil {
		return view.Row{}, err
	}
	return s.engine.CreateItem(ctx, grid.ItemInput{BoardID: boardID, GroupID: in.GroupID, Name: in.Name, Cells: in.Cells})
}

// ItemView is an item with every cell of its row.
type ItemView struct {
	store.Item
	Values   map[int64]value.Value `json:"values"`
	SubItems []store.SubItem       `json:"subItems"`
}

func (s *Service) GetItem(ctx context.Context, itemID int64) (ItemView, error) {
	it, err := s.engine.GetItem(ctx, itemID)
	if err != nil {
		return ItemView{}, err
	}
	row, err := s.engine.GetRowValues(ctx, itemID)
	if err != nil {
		return ItemView{}, err
	}
	subs, err := s.engine.ListSubItems(ctx, itemID)
	if err != nil {
		return ItemView{}, err
	}
	if subs == nil {
		subs = []store.SubItem{}
	}
	return ItemView{Item: it, Values: row.Values, SubItems: subs}, nil
}

type UpdateItemInput struct {
	Name     *string `json:"name" validate:"omitempty,max=500"`
	GroupID  *int64  `json:"groupId" validate:"omitempty,gte=0"`
	Position *int    `json:"position" validate:"omitempty,gte=0"`
}

func (s *Service) UpdateItem(ctx context.Context, itemID int64, in UpdateItemInput) (store.Item, error) {
	if err := check(in); err != nil {
		return store.Item{}, err
	}
	return s.engine.UpdateItem(ctx, itemID, grid.ItemPatch{Name: in.Name, GroupID: in.GroupID, Position: in.Position})
}

func (s *Service) DeleteItem(ctx context.Context, itemID int64) error {
	return s.engine.DeleteItem(ctx, itemID)
}

type SetCellInput struct {
	Value           any    `json:"value"`
	ExpectedVersion *int64 `json:"expectedVersion" validate:"omitempty,gte=0"`
}

// SetItemCell writes one cell. A status write to a done-class label is
// refused while any prerequisite of the item is unfinished.
func (s *Service) SetItemCell(ctx context.Context, itemID, columnID int64, in SetCellInput) (store.Cell, error) {
	if err := check(in); err != nil {
		return store.Cell{}, err
	}
	if err := s.gateDone(ctx, itemID, columnID, in.Value); err != nil {
		return store.Cell{}, err
	}
	return s.engine.SetCellValue(ctx, grid.CellWrite{ItemID: itemID, ColumnID: columnID, Value: in.Value, ExpectedVersion: in.ExpectedVersion})
}

func (s *Service) gateDone(ctx context.Context, itemID, columnID int64, raw any) error {
	if raw == nil {
		return nil
	}
	it, err := s.engine.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	cols, err := s.engine.ListColumns(ctx, it.BoardID)
	if err != nil {
		return err
	}
	var col *store.Column
	for i := range cols {
		if cols[i].ID == columnID {
			col = &cols[i]
			break
		}
	}
	if col == nil || col.Type != coltype.TypeStatus {
		return nil
	}
	capab, _ := coltype.Lookup(col.Type)
	v, err := capab.Validate(col.Settings, raw)
	if err != nil || v.Kind != value.KindText {
		// the write itself reports the validation error
		return nil
	}
	done, err := s.engine.IsDoneLabel(ctx, it.BoardID, v.Text)
	if err != nil || !done {
		return err
	}
	return s.engine.CanTransitionToComplete(ctx, itemID)
}

type CreateSubItemInput struct {
	Name string `json:"name" validate:"required,max=500"`
}

func (s *Service) CreateSubItem(ctx context.Context, parentID int64, in CreateSubItemInput) (store.SubItem, error) {
	if err := check(in); err != nil {
		return store.SubItem{}, err
	}
	return s.engine.CreateSubItem(ctx, parentID, in.Name)
}

func (s *Service) SetSubItemCell(ctx context.Context, subItemID, columnID int64, in SetCellInput) (store.Cell, error) {
	if err := check(in); err != nil {
		return store.Cell{}, err
	}
	return s.engine.SetCellValue(ctx, grid.CellWrite{SubItemID: subItemID, ColumnID: columnID, Value: in.Value, ExpectedVersion: in.ExpectedVersion})
}

func (s *Service) DeleteSubItem(ctx context.Context, subItemID int64) error {
	return s.engine.DeleteSubItem(ctx, subItemID)
}

type AddDependencyInput struct {
	SourceItemID int64               `json:"sourceItemId" validate:"required,gt=0"`
	TargetItemID int64               `json:"targetItemId" validate:"required,gt=0"`
	Type         store.DependencyType `json:"type" validate:"required,oneof=blocks waiting_for linked_to"`
}

func (s *Service) AddDependency(ctx context.Context, in AddDependencyInput) (store.Dependency, error) {
	if err := check(in); err != nil {
		return store.Dependency{}, err
	}
	return s.engine.AddDependency(ctx, in.SourceItemID, in.TargetItemID, in.Type)
}

func (s *Service) RemoveDependency(ctx context.Context, id int64) error {
	return s.engine.RemoveDependency(ctx, id)
}

func (s *Service) ListDependencies(ctx context.Context, itemID int64) ([]store.Dependency, error) {
	deps, err := s.engine.ListDependencies(ctx, itemID)
	if deps == nil && err == nil {
		deps = []store.Dependency{}
	}
	return deps, err
}

// CanComplete reports the gate without writing anything.
func (s *Service) CanComplete(ctx context.Context, itemID int64) (map[string]any, error) {
	err := s.engine.CanTransitionToComplete(ctx, itemID)
	var blocked *grid.BlockedTransitionError
	if errors.As(err, &blocked) {
		return map[string]any{"canComplete": false, "blocking": blocked.Blocking}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"canComplete": true, "blocking": []int64{}}, nil
}

type SaveViewInput struct {
	Name string    `json:"name" validate:"required,max=200"`
	Spec view.Spec `json:"spec"`
}

func (s *Service) SaveView(ctx context.Context, boardID int64, in SaveViewInput) (store.View, error) {
	if err := check(in); err != nil {
		return store.View{}, err
	}
	return s.engine.SaveView(ctx, boardID, in.Name, in.Spec)
}

func (s *Service) ListViews(ctx context.Context, boardID int64) ([]store.View, error) {
	views, err := s.engine.ListViews(ctx, boardID)
	if views == nil && err == nil {
		views = []store.View{}
	}
	return views, err
}

func (s *Service) GetView(ctx context.Context, viewID int64) (store.View, error) {
	return s.engine.GetView(ctx, viewID)
}

type UpdateViewInput struct {
	Name *string    `json:"name" validate:"omitempty,min=1,max=200"`
	Spec *view.Spec `json:"spec"`
}

func (s *Service) UpdateView(ctx context.Context, viewID int64, in UpdateViewInput) (store.View, error) {
	if err := check(in); err != nil {
		return store.View{}, err
	}
	return s.engine.UpdateView(ctx, viewID, grid.ViewPatch{Name: in.Name, Spec: in.Spec})
}

func (s *Service) DeleteView(ctx context.Context, viewID int64) error {
	return s.engine.DeleteView(ctx, viewID)
}

// ViewRows materializes a saved view into its groups.
func (s *Service) ViewRows(ctx context.Context, viewID int64) (map[string]any, error) {
	m, err := s.engine.MaterializeView(ctx, viewID)
	if err != nil {
		return nil, err
	}
	groups := []view.Group{}
	for g, err := range m.Groups() {
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return map[string]any{
		"view":    map[string]any{"id": viewID, "name": m.Name, "boardId": m.Board.ID},
		"columns": m.Columns,
		"groups":  groups,
		"count":   m.Count(),
	}, nil
}

func (s *Service) ExportView(ctx context.Context, req export.Request) (*export.Result, error) {
	return s.export.Export(ctx, req)
}

func (s *Service) Search(ctx context.Context, boardID int64, q string, limit, offset int) (search.Response, error) {
	if _, err := s.engine.GetBoard(ctx, boardID); err != nil {
		return search.Response{}, err
	}
	return s.search.Search(ctx, search.Query{Text: q, BoardID: boardID, Limit: limit, Offset: offset}), nil
}

func (s *Service) SchemaHistory(ctx context.Context, boardID int64, limit int) (map[string]any, error) {
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Schema history is not configured", nil)
	}
	commits, err := s.history.History(boardID, limit)
	if errors.Is(err, gitrepo.ErrNoHistory) {
		if _, berr := s.engine.GetBoard(ctx, boardID); berr != nil {
			return nil, berr
		}
		commits, err = []gitrepo.CommitInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"boardId": boardID, "commits": commits}, nil
}

func (s *Service) Activity(ctx context.Context, boardID, after int64, limit int) (map[string]any, error) {
	if boardID <= 0 {
		return nil, validationError("boardId is required")
	}
	switch {
	case limit <= 0:
		limit = 100
	case limit > 500:
		limit = 500
	}
	rows, err := s.engine.ListActivity(ctx, boardID, after, limit)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []store.Activity{}
	}
	next := after
	if len(rows) > 0 {
		next = rows[len(rows)-1].ID
	}
	return map[string]any{"activity": rows, "next": next}, nil
}
