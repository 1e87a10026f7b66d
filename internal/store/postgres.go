package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
)

// dependencyLockKey namespaces the advisory lock held while editing the
// item dependency graph.
const dependencyLockKey int64 = 0x6772696464657073

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (s *PostgresStore) BeginReadOnly(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("begin read-only tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx *sql.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

func (t *pgTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// mapPgError folds constraint violations into the store's sentinel errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		case "23503":
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.Message)
		}
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (t *pgTx) execOne(ctx context.Context, what, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, mapPgError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) LockBoard(ctx context.Context, boardID int64) error {
	var id int64
	err := t.tx.QueryRowContext(ctx, `SELECT id FROM boards WHERE id=$1 FOR UPDATE`, boardID).Scan(&id)
	if err != nil {
		return fmt.Errorf("lock board: %w", notFound(err))
	}
	return nil
}

func (t *pgTx) LockDependencyGraph(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, dependencyLockKey); err != nil {
		return fmt.Errorf("lock dependency graph: %w", err)
	}
	return nil
}

func (t *pgTx) LockItem(ctx context.Context, itemID int64) error {
	var one int
	err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM board_items WHERE id=$1 FOR SHARE`, itemID).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lock item: %w", err)
	}
	return nil
}

func (t *pgTx) InsertWorkspace(ctx context.Context, w *Workspace) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO workspaces (name) VALUES ($1)
		RETURNING id, created_at
	`, w.Name).Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (t *pgTx) GetWorkspace(ctx context.Context, id int64) (Workspace, error) {
	var w Workspace
	err := t.tx.QueryRowContext(ctx, `SELECT id, name, created_at FROM workspaces WHERE id=$1`, id).Scan(&w.ID, &w.Name, &w.CreatedAt)
	if err != nil {
		return Workspace{}, fmt.Errorf("get workspace: %w", notFound(err))
	}
	return w, nil
}

const boardColumns = `id, workspace_id, name, done_labels, status_column_id, created_at, updated_at`

func scanBoard(row scanner) (Board, error) {
	var (
		b      Board
		labels []byte
		status sql.NullInt64
	)
	if err := row.Scan(&b.ID, &b.WorkspaceID, &b.Name, &labels, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Board{}, err
	}
	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &b.DoneLabels); err != nil {
			return Board{}, fmt.Errorf("decode done labels: %w", err)
		}
	}
	if status.Valid {
		id := status.Int64
		b.StatusColumnID = &id
	}
	return b, nil
}

func encodeLabels(labels []string) ([]byte, error) {
	if labels == nil {
		labels = []string{}
	}
	return json.Marshal(labels)
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func (t *pgTx) InsertBoard(ctx context.Context, b *Board) error {
	labels, err := encodeLabels(b.DoneLabels)
	if err != nil {
		return fmt.Errorf("encode done labels: %w", err)
	}
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO boards (workspace_id, name, done_labels, status_column_id)
		VALUES ($1, $2, $3::jsonb, $4)
		RETURNING id, created_at, updated_at
	`, b.WorkspaceID, b.Name, string(labels), nullID(b.StatusColumnID)).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert board: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) GetBoard(ctx context.Context, id int64) (Board, error) {
	b, err := scanBoard(t.tx.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE id=$1`, id))
	if err != nil {
		return Board{}, fmt.Errorf("get board: %w", notFound(err))
	}
	return b, nil
}

func (t *pgTx) ListBoards(ctx context.Context, workspaceID int64) ([]Board, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+boardColumns+` FROM boards
		WHERE ($1::bigint = 0 OR workspace_id = $1)
		ORDER BY id
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()
	var out []Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateBoard(ctx context.Context, b Board) error {
	labels, err := encodeLabels(b.DoneLabels)
	if err != nil {
		return fmt.Errorf("encode done labels: %w", err)
	}
	return t.execOne(ctx, "update board", `
		UPDATE boards SET name=$2, done_labels=$3::jsonb, status_column_id=$4, updated_at=NOW()
		WHERE id=$1
	`, b.ID, b.Name, string(labels), nullID(b.StatusColumnID))
}

func (t *pgTx) DeleteBoard(ctx context.Context, id int64) error {
	return t.execOne(ctx, "delete board", `DELETE FROM boards WHERE id=$1`, id)
}

const columnColumns = `id, board_id, title, column_type, position, settings, created_at, updated_at`

func scanColumn(row scanner) (Column, error) {
	var (
		c        Column
		settings []byte
	)
	if err := row.Scan(&c.ID, &c.BoardID, &c.Title, &c.Type, &c.Position, &settings, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Column{}, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &c.Settings); err != nil {
			return Column{}, fmt.Errorf("decode column settings: %w", err)
		}
	}
	return c, nil
}

func (t *pgTx) queryColumns(ctx context.Context, what, query string, args ...any) ([]Column, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()
	var out []Column
	for rows.Next() {
		c, err := scanColumn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertColumn(ctx context.Context, c *Column) error {
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("encode column settings: %w", err)
	}
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO board_columns (board_id, title, column_type, position, settings)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING id, created_at, updated_at
	`, c.BoardID, c.Title, string(c.Type), c.Position, string(settings)).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert column: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) GetColumn(ctx context.Context, id int64) (Column, error) {
	c, err := scanColumn(t.tx.QueryRowContext(ctx, `SELECT `+columnColumns+` FROM board_columns WHERE id=$1`, id))
	if err != nil {
		return Column{}, fmt.Errorf("get column: %w", notFound(err))
	}
	return c, nil
}

func (t *pgTx) ListColumns(ctx context.Context, boardID int64) ([]Column, error) {
	return t.queryColumns(ctx, "list columns", `
		SELECT `+columnColumns+` FROM board_columns
		WHERE board_id=$1
		ORDER BY position, id
	`, boardID)
}

func (t *pgTx) ListMirrorsTargeting(ctx context.Context, boardID int64) ([]Column, error) {
	return t.queryColumns(ctx, "list mirrors", `
		SELECT `+columnColumns+` FROM board_columns
		WHERE column_type = $2 AND (settings->>'mirrorBoardId')::bigint = $1
		ORDER BY position, id
	`, boardID, string(coltype.TypeMirror))
}

func (t *pgTx) UpdateColumn(ctx context.Context, c Column) error {
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("encode column settings: %w", err)
	}
	return t.execOne(ctx, "update column", `
		UPDATE board_columns SET title=$2, position=$3, settings=$4::jsonb, updated_at=NOW()
		WHERE id=$1
	`, c.ID, c.Title, c.Position, string(settings))
}

func (t *pgTx) DeleteColumn(ctx context.Context, id int64) error {
	return t.execOne(ctx, "delete column", `DELETE FROM board_columns WHERE id=$1`, id)
}

func (t *pgTx) InsertGroup(ctx context.Context, g *Group) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO board_groups (board_id, title, color, position)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, g.BoardID, g.Title, g.Color, g.Position).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert group: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) GetGroup(ctx context.Context, id int64) (Group, error) {
	var g Group
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, board_id, title, color, position, created_at FROM board_groups WHERE id=$1
	`, id).Scan(&g.ID, &g.BoardID, &g.Title, &g.Color, &g.Position, &g.CreatedAt)
	if err != nil {
		return Group{}, fmt.Errorf("get group: %w", notFound(err))
	}
	return g, nil
}

func (t *pgTx) ListGroups(ctx context.Context, boardID int64) ([]Group, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, board_id, title, color, position, created_at FROM board_groups
		WHERE board_id=$1
		ORDER BY position, id
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.BoardID, &g.Title, &g.Color, &g.Position, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteGroup(ctx context.Context, id int64) error {
	return t.execOne(ctx, "delete group", `DELETE FROM board_groups WHERE id=$1`, id)
}

const itemColumns = `id, board_id, group_id, name, position, created_at, updated_at`

func scanItem(row scanner) (Item, error) {
	var (
		it    Item
		group sql.NullInt64
	)
	if err := row.Scan(&it.ID, &it.BoardID, &group, &it.Name, &it.Position, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return Item{}, err
	}
	if group.Valid {
		id := group.Int64
		it.GroupID = &id
	}
	return it, nil
}

func nullTime(ts time.Time) sql.NullTime {
	return sql.NullTime{Time: ts, Valid: !ts.IsZero()}
}

func (t *pgTx) InsertItem(ctx context.Context, it *Item) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO board_items (board_id, group_id, name, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()), COALESCE($5, NOW()))
		RETURNING id, created_at, updated_at
	`, it.BoardID, nullID(it.GroupID), it.Name, it.Position, nullTime(it.CreatedAt)).Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert item: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) GetItem(ctx context.Context, id int64) (Item, error) {
	it, err := scanItem(t.tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM board_items WHERE id=$1`, id))
	if err != nil {
		return Item{}, fmt.Errorf("get item: %w", notFound(err))
	}
	return it, nil
}

func (t *pgTx) ListItems(ctx context.Context, boardID int64) ([]Item, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM board_items
		WHERE board_id=$1
		ORDER BY position, id
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateItem(ctx context.Context, it Item) error {
	return t.execOne(ctx, "update item", `
		UPDATE board_items SET group_id=$2, name=$3, position=$4, updated_at=$5
		WHERE id=$1
	`, it.ID, nullID(it.GroupID), it.Name, it.Position, it.UpdatedAt)
}

func (t *pgTx) DeleteItem(ctx context.Context, id int64) error {
	return t.execOne(ctx, "delete item", `DELETE FROM board_items WHERE id=$1`, id)
}

const subItemColumns = `id, parent_item_id, board_id, name, position, created_at, updated_at`

func (t *pgTx) querySubItems(ctx context.Context, query string, arg int64) ([]SubItem, error) {
	rows, err := t.tx.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list sub-items: %w", err)
	}
	defer rows.Close()
	var out []SubItem
	for rows.Next() {
		var s SubItem
		if err := rows.Scan(&s.ID, &s.ParentItemID, &s.BoardID, &s.Name, &s.Position, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sub-item: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertSubItem(ctx context.Context, s *SubItem) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO sub_items (parent_item_id, board_id, name, position)
		SELECT $1, board_id, $2, $3 FROM board_items WHERE id=$1
		RETURNING id, board_id, created_at, updated_at
	`, s.ParentItemID, s.Name, s.Position).Scan(&s.ID, &s.BoardID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert sub-item: %w", notFound(mapPgError(err)))
	}
	return nil
}

func (t *pgTx) GetSubItem(ctx context.Context, id int64) (SubItem, error) {
	var s SubItem
	err := t.tx.QueryRowContext(ctx, `SELECT `+subItemColumns+` FROM sub_items WHERE id=$1`, id).
		Scan(&s.ID, &s.ParentItemID, &s.BoardID, &s.Name, &s.Position, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return SubItem{}, fmt.Errorf("get sub-item: %w", notFound(err))
	}
	return s, nil
}

func (t *pgTx) ListSubItems(ctx context.Context, parentItemID int64) ([]SubItem, error) {
	return t.querySubItems(ctx, `SELECT `+subItemColumns+` FROM sub_items WHERE parent_item_id=$1 ORDER BY position, id`, parentItemID)
}

func (t *pgTx) ListBoardSubItems(ctx context.Context, boardID int64) ([]SubItem, error) {
	return t.querySubItems(ctx, `SELECT `+subItemColumns+` FROM sub_items WHERE board_id=$1 ORDER BY position, id`, boardID)
}

func (t *pgTx) DeleteSubItem(ctx context.Context, id int64) error {
	return t.execOne(ctx, "delete sub-item", `DELETE FROM sub_items WHERE id=$1`, id)
}

const cellColumns = `board_id, item_id, sub_item_id, column_id, value, text_value, number_value, date_value, boolean_value, input_hash, version, updated_at`

func scanCell(row scanner) (Cell, error) {
	var (
		c       Cell
		itemID  sql.NullInt64
		subID   sql.NullInt64
		raw     []byte
		text    sql.NullString
		number  decimal.NullDecimal
		date    sql.NullTime
		boolean sql.NullBool
	)
	if err := row.Scan(&c.BoardID, &itemID, &subID, &c.Key.ColumnID, &raw, &text, &number, &date, &boolean, &c.InputHash, &c.Version, &c.UpdatedAt); err != nil {
		return Cell{}, err
	}
	c.Key.ItemID, c.Key.SubItemID = itemID.Int64, subID.Int64
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c.Value); err != nil {
			return Cell{}, fmt.Errorf("decode cell value: %w", err)
		}
	}
	if text.Valid {
		s := text.String
		c.Shadow.Text = &s
	}
	c.Shadow.Number = number
	if date.Valid {
		d := date.Time.UTC()
		c.Shadow.Date = &d
	}
	if boolean.Valid {
		b := boolean.Bool
		c.Shadow.Boolean = &b
	}
	return c, nil
}

func (t *pgTx) queryCells(ctx context.Context, query string, args ...any) ([]Cell, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	defer rows.Close()
	var out []Cell
	for rows.Next() {
		c, err := scanCell(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func ownerArgs(key CellKey) (sql.NullInt64, sql.NullInt64) {
	var item, sub sql.NullInt64
	if key.ItemID != 0 {
		item = sql.NullInt64{Int64: key.ItemID, Valid: true}
	}
	if key.SubItemID != 0 {
		sub = sql.NullInt64{Int64: key.SubItemID, Valid: true}
	}
	return item, sub
}

func (t *pgTx) GetCell(ctx context.Context, key CellKey, forUpdate bool) (Cell, bool, error) {
	query := `SELECT ` + cellColumns + ` FROM cell_values
		WHERE item_id IS NOT DISTINCT FROM $1 AND sub_item_id IS NOT DISTINCT FROM $2 AND column_id=$3`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	item, sub := ownerArgs(key)
	c, err := scanCell(t.tx.QueryRowContext(ctx, query, item, sub, key.ColumnID))
	if errors.Is(err, sql.ErrNoRows) {
		return Cell{}, false, nil
	}
	if err != nil {
		return Cell{}, false, fmt.Errorf("get cell: %w", err)
	}
	return c, true, nil
}

func shadowArgs(sh coltype.Shadow) (sql.NullString, decimal.NullDecimal, sql.NullTime, sql.NullBool) {
	var (
		text    sql.NullString
		date    sql.NullTime
		boolean sql.NullBool
	)
	if sh.Text != nil {
		text = sql.NullString{String: *sh.Text, Valid: true}
	}
	if sh.Date != nil {
		date = sql.NullTime{Time: *sh.Date, Valid: true}
	}
	if sh.Boolean != nil {
		boolean = sql.NullBool{Bool: *sh.Boolean, Valid: true}
	}
	return text, sh.Number, date, boolean
}

func (t *pgTx) PutCell(ctx context.Context, c *Cell) error {
	raw, err := json.Marshal(c.Value)
	if err != nil {
		return fmt.Errorf("encode cell value: %w", err)
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	text, number, date, boolean := shadowArgs(c.Shadow)
	item, sub := ownerArgs(c.Key)

	if c.Version == 1 {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO cell_values (`+cellColumns+`)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, 1, $11)
		`, c.BoardID, item, sub, c.Key.ColumnID, string(raw), text, number, date, boolean, c.InputHash, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert cell: %w", mapPgError(err))
		}
		return nil
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE cell_values
		SET value=$4::jsonb, text_value=$5, number_value=$6, date_value=$7, boolean_value=$8,
			input_hash=$9, version=$10, updated_at=$11
		WHERE item_id IS NOT DISTINCT FROM $1 AND sub_item_id IS NOT DISTINCT FROM $2 AND column_id=$3
			AND version = $10 - 1
	`, item, sub, c.Key.ColumnID, string(raw), text, number, date, boolean, c.InputHash, c.Version, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update cell: %w", mapPgError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update cell: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (t *pgTx) ListItemCells(ctx context.Context, itemID int64) ([]Cell, error) {
	return t.queryCells(ctx, `SELECT `+cellColumns+` FROM cell_values WHERE item_id=$1 ORDER BY column_id`, itemID)
}

func (t *pgTx) ListSubItemCells(ctx context.Context, subItemID int64) ([]Cell, error) {
	return t.queryCells(ctx, `SELECT `+cellColumns+` FROM cell_values WHERE sub_item_id=$1 ORDER BY column_id`, subItemID)
}

func (t *pgTx) ListBoardCells(ctx context.Context, boardID int64) ([]Cell, error) {
	return t.queryCells(ctx, `
		SELECT `+cellColumns+` FROM cell_values
		WHERE board_id=$1 AND item_id IS NOT NULL
		ORDER BY item_id, column_id
	`, boardID)
}

func (t *pgTx) ListBoardSubItemCells(ctx context.Context, boardID int64) ([]Cell, error) {
	return t.queryCells(ctx, `
		SELECT `+cellColumns+` FROM cell_values
		WHERE board_id=$1 AND sub_item_id IS NOT NULL
		ORDER BY sub_item_id, column_id
	`, boardID)
}

func (t *pgTx) ListColumnCells(ctx context.Context, columnID int64) ([]Cell, error) {
	return t.queryCells(ctx, `
		SELECT `+cellColumns+` FROM cell_values
		WHERE column_id=$1
		ORDER BY item_id NULLS LAST, sub_item_id
	`, columnID)
}

func (t *pgTx) ReplaceLinks(ctx context.Context, sourceItemID, columnID int64, targets []int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM item_links WHERE source_item_id=$1 AND column_id=$2`, sourceItemID, columnID); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	for _, target := range targets {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO item_links (source_item_id, column_id, target_item_id)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, sourceItemID, columnID, target); err != nil {
			return fmt.Errorf("insert link: %w", mapPgError(err))
		}
	}
	return nil
}

func (t *pgTx) ListLinksTo(ctx context.Context, targetItemID int64) ([]ItemLink, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT source_item_id, column_id, target_item_id FROM item_links
		WHERE target_item_id=$1
		ORDER BY source_item_id, column_id
	`, targetItemID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()
	var out []ItemLink
	for rows.Next() {
		var l ItemLink
		if err := rows.Scan(&l.SourceItemID, &l.ColumnID, &l.TargetItemID); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const dependencyColumns = `id, source_item_id, target_item_id, dependency_type, created_at`

func scanDependency(row scanner) (Dependency, error) {
	var d Dependency
	err := row.Scan(&d.ID, &d.SourceItemID, &d.TargetItemID, &d.Type, &d.CreatedAt)
	return d, err
}

func (t *pgTx) InsertDependency(ctx context.Context, d *Dependency) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO item_dependencies (source_item_id, target_item_id, dependency_type)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, d.SourceItemID, d.TargetItemID, string(d.Type)).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert dependency: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) GetDependency(ctx context.Context, id int64) (Dependency, error) {
	d, err := scanDependency(t.tx.QueryRowContext(ctx, `SELECT `+dependencyColumns+` FROM item_dependencies WHERE id=$1`, id))
	if err != nil {
		return Dependency{}, fmt.Errorf("get dependency: %w", notFound(err))
	}
	return d, nil
}

func (t *pgTx) FindDependency(ctx context.Context, source, target int64, typ DependencyType) (Dependency, bool, error) {
	d, err := scanDependency(t.tx.QueryRowContext(ctx, `
		SELECT `+dependencyColumns+` FROM item_dependencies
		WHERE source_item_id=$1 AND target_item_id=$2 AND dependency_type=$3
	`, source, target, string(typ)))
	if errors.Is(err, sql.ErrNoRows) {
		return Dependency{}, false, nil
	}
	if err != nil {
		return Dependency{}, false, fmt.Errorf("find dependency: %w", err)
	}
	return d, true, nil
}

func (t *pgTx) DeleteDependency(ctx context.Context, id int64) error {
	return t.execOne(ctx, "delete dependency", `DELETE FROM item_dependencies WHERE id=$1`, id)
}

func (t *pgTx) ListDependencies(ctx context.Context, itemID int64) ([]Dependency, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+dependencyColumns+` FROM item_dependencies
		WHERE source_item_id=$1 OR target_item_id=$1
		ORDER BY id
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()
	var out []Dependency
	for rows.Next() {
		d, err := scanDependency(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const viewColumns = `id, board_id, name, spec, created_at, updated_at`

func scanView(row scanner) (View, error) {
	var (
		v    View
		spec []byte
	)
	if err := row.Scan(&v.ID, &v.BoardID, &v.Name, &spec, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return View{}, err
	}
	if len(spec) > 0 {
		if err := json.Unmarshal(spec, &v.Spec); err != nil {
			return View{}, fmt.Errorf("decode view spec: %w", err)
		}
	}
	return v, nil
}

func (t *pgTx) InsertView(ctx context.Context, v *View) error {
	spec, err := json.Marshal(v.Spec)
	if err != nil {
		return fmt.Errorf("encode view spec: %w", err)
	}
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO board_views (board_id, name, spec)
		VALUES ($1, $2, $3::jsonb)
		RETURNING id, created_at, updated_at
	`, v.BoardID, v.Name, string(spec)).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert view: %w", mapPgError(err))
	}
	return nil
}

func (t *pgTx) GetView(ctx context.Context, id int64) (View, error) {
	v, err := scanView(t.tx.QueryRowContext(ctx, `SELECT `+viewColumns+` FROM board_views WHERE id=$1`, id))
	if err != nil {
		return View{}, fmt.Errorf("get view: %w", notFound(err))
	}
	return v, nil
}

func (t *pgTx) ListViews(ctx context.Context, boardID int64) ([]View, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+viewColumns+` FROM board_views WHERE board_id=$1 ORDER BY id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	defer rows.Close()
	var out []View
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan view: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateView(ctx context.Context, v View) error {
	spec, err := json.Marshal(v.Spec)
	if err != nil {
		return fmt.Errorf("encode view spec: %w", err)
	}
	return t.execOne(ctx, "update view", `
		UPDATE board_views SET name=$2, spec=$3::jsonb, updated_at=NOW() WHERE id=$1
	`, v.ID, v.Name, string(spec))
}

func (t *pgTx) DeleteView(ctx context.Context, id int64) error {
	return t.execOne(ctx, "delete view", `DELETE FROM board_views WHERE id=$1`, id)
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (t *pgTx) AppendActivity(ctx context.Context, a *Activity) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO board_activity (board_id, item_id, activity_type, old_value, new_value)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb)
		RETURNING id, created_at
	`, a.BoardID, nullID(a.ItemID), a.Type, nullJSON(a.OldValue), nullJSON(a.NewValue)).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

func (t *pgTx) ListActivity(ctx context.Context, boardID, afterID int64, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, board_id, item_id, activity_type, old_value, new_value, created_at
		FROM board_activity
		WHERE id > $2 AND ($1::bigint = 0 OR board_id = $1)
		ORDER BY id
		LIMIT $3
	`, boardID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()
	var out []Activity
	for rows.Next() {
		var (
			a              Activity
			itemID         sql.NullInt64
			oldRaw, newRaw []byte
		)
		if err := rows.Scan(&a.ID, &a.BoardID, &itemID, &a.Type, &oldRaw, &newRaw, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if itemID.Valid {
			id := itemID.Int64
			a.ItemID = &id
		}
		a.OldValue, a.NewValue = oldRaw, newRaw
		out = append(out, a)
	}
	return out, rows.Err()
}
