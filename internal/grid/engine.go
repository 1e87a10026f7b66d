// Package grid is the board engine: the typed cell write path and the
// formula, mirror, rollup and dependency cascades that run inside each
// mutation's transaction.
package grid

import (
	"context"
	"fmt"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
)

type Config struct {
	// DoneLabels apply to boards that do not set their own.
	DoneLabels       []string
	FormulaPrecision int32
	RollupPrecision  int32
	// CascadeLimit caps how often one cell may be recomputed in a single
	// mutation before it is pinned to an error.
	CascadeLimit int
}

func DefaultConfig() Config {
	return Config{
		DoneLabels:       []string{"Done"},
		FormulaPrecision: 2,
		RollupPrecision:  2,
		CascadeLimit:     32,
	}
}

// Changeset summarizes a committed mutation for commit hooks.
type Changeset struct {
	Op            string
	Boards        []int64
	SchemaBoards  []int64
	Items         []int64
	DeletedItems  []int64
	DeletedBoards []int64
	Activity      []store.Activity
}

// CommitHook runs after a mutation commits. It cannot fail the mutation.
type CommitHook func(ctx context.Context, cs Changeset)

type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

func WithLogger(entry *log.Entry) Option {
	return func(e *Engine) { e.log = entry }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithCommitHook(h CommitHook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, h) }
}

type Engine struct {
	store store.Store
	cfg   Config
	log   *log.Entry
	now   func() time.Time
	hooks []CommitHook
}

func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store: s,
		cfg:   DefaultConfig(),
		log:   log.WithField("component", "grid"),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if len(e.cfg.DoneLabels) == 0 {
		e.cfg.DoneLabels = DefaultConfig().DoneLabels
	}
	if e.cfg.CascadeLimit <= 0 {
		e.cfg.CascadeLimit = DefaultConfig().CascadeLimit
	}
	return e
}

// AddCommitHook registers h for every later mutation.
func (e *Engine) AddCommitHook(h CommitHook) {
	e.hooks = append(e.hooks, h)
}

func (e *Engine) Config() Config { return e.cfg }

// inTx runs fn and the cascade it triggers in one transaction.
func (e *Engine) inTx(ctx context.Context, op string, fn func(m *mutation) error) (err error) {
	ctx, span := tracer.Start(ctx, "grid."+op)
	defer span.End()
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		mutationLatency.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	}()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s: %w", op, err)
	}
	defer tx.Rollback()

	m := newMutation(ctx, e, tx)
	if err := fn(m); err != nil {
		return classify(err)
	}
	if err := m.drain(); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit %s: %w", op, err))
	}

	cs := m.changeset(op)
	span.SetAttributes(
		attribute.Int("grid.activity", len(cs.Activity)),
		attribute.Int("grid.cell_writes", m.writes),
	)
	e.log.WithFields(log.Fields{"op": op, "boards": cs.Boards, "writes": m.writes}).Debug("mutation committed")
	for _, h := range e.hooks {
		h(ctx, cs)
	}
	return nil
}

// read runs fn in a read-only transaction.
func (e *Engine) read(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	ctx, span := tracer.Start(ctx, "grid."+op, trace.WithAttributes(attribute.Bool("grid.read_only", true)))
	defer span.End()

	tx, err := e.store.BeginReadOnly(ctx)
	if err != nil {
		return fmt.Errorf("begin %s: %w", op, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		span.RecordError(err)
		return err
	}
	return tx.Commit()
}

// mutation is the state of one write transaction: its event queue, the
// per-cell recompute counters and what the commit hooks will be told.
type mutation struct {
	ctx   context.Context
	e     *Engine
	tx    store.Tx
	queue []Event

	hits   map[store.CellKey]int
	pinned map[store.CellKey]bool
	writes int

	boards        map[int64]bool
	schema        map[int64]bool
	items         map[int64]bool
	deletedItems  map[int64]bool
	deletedBoards map[int64]bool
	activity      []store.Activity

	columns  map[int64][]store.Column
	formulas map[int64]*formulaSet
}

func newMutation(ctx context.Context, e *Engine, tx store.Tx) *mutation {
	return &mutation{
		ctx:           ctx,
		e:             e,
		tx:            tx,
		hits:          map[store.CellKey]int{},
		pinned:        map[store.CellKey]bool{},
		boards:        map[int64]bool{},
		schema:        map[int64]bool{},
		items:         map[int64]bool{},
		deletedItems:  map[int64]bool{},
		deletedBoards: map[int64]bool{},
		columns:       map[int64][]store.Column{},
		formulas:      map[int64]*formulaSet{},
	}
}

func (m *mutation) touchBoard(boardID int64) { m.boards[boardID] = true }

func (m *mutation) touchItem(boardID, itemID int64) {
	m.boards[boardID] = true
	if itemID != 0 {
		m.items[itemID] = true
	}
}

// schemaChanged drops cached columns and formula graphs for the board.
func (m *mutation) schemaChanged(boardID int64) {
	m.boards[boardID] = true
	m.schema[boardID] = true
	delete(m.columns, boardID)
	delete(m.formulas, boardID)
}

func (m *mutation) boardColumns(boardID int64) ([]store.Column, error) {
	if cols, ok := m.columns[boardID]; ok {
		return cols, nil
	}
	cols, err := m.tx.ListColumns(m.ctx, boardID)
	if err != nil {
		return nil, err
	}
	m.columns[boardID] = cols
	return cols, nil
}

func (m *mutation) columnsOfType(boardID int64, types ...coltype.Type) ([]store.Column, error) {
	cols, err := m.boardColumns(boardID)
	if err != nil {
		return nil, err
	}
	var out []store.Column
	for _, c := range cols {
		if slices.Contains(types, c.Type) {
			out = append(out, c)
		}
	}
	return out, nil
}

func sortedKeys(set map[int64]bool) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (m *mutation) changeset(op string) Changeset {
	return Changeset{
		Op:            op,
		Boards:        sortedKeys(m.boards),
		SchemaBoards:  sortedKeys(m.schema),
		Items:         sortedKeys(m.items),
		DeletedItems:  sortedKeys(m.deletedItems),
		DeletedBoards: sortedKeys(m.deletedBoards),
		Activity:      m.activity,
	}
}
