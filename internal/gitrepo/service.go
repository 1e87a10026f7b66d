// Package gitrepo keeps a git history of each board's schema: its settings,
// columns and saved views.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/coltype"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/view"
)

const (
	schemaFile = "schema.json"
	mainBranch = "main"
)

// ErrNoHistory is returned for boards that never had a schema committed.
var ErrNoHistory = errors.New("board has no schema history")

type Schema struct {
	BoardID        int64       `json:"boardId"`
	Name           string      `json:"name"`
	DoneLabels     []string    `json:"doneLabels,omitempty"`
	StatusColumnID *int64      `json:"statusColumnId,omitempty"`
	Columns        []ColumnDef `json:"columns"`
	Views          []ViewDef   `json:"views"`
	Deleted        bool        `json:"deleted,omitempty"`
}

type ColumnDef struct {
	ID       int64            `json:"id"`
	Title    string           `json:"title"`
	Type     coltype.Type     `json:"type"`
	Position int              `json:"position"`
	Settings coltype.Settings `json:"settings"`
}

type ViewDef struct {
	ID   int64     `json:"id"`
	Name string    `json:"name"`
	Spec view.Spec `json:"spec"`
}

// SchemaOf builds the versioned schema from stored rows. Timestamps are
// left out so identical definitions produce identical files.
func SchemaOf(b store.Board, cols []store.Column, views []store.View) Schema {
	s := Schema{
		BoardID:        b.ID,
		Name:           b.Name,
		DoneLabels:     b.DoneLabels,
		StatusColumnID: b.StatusColumnID,
		Columns:        make([]ColumnDef, 0, len(cols)),
		Views:          make([]ViewDef, 0, len(views)),
	}
	for _, c := range cols {
		s.Columns = append(s.Columns, ColumnDef{ID: c.ID, Title: c.Title, Type: c.Type, Position: c.Position, Settings: c.Settings})
	}
	for _, v := range views {
		s.Views = append(s.Views, ViewDef{ID: v.ID, Name: v.Name, Spec: v.Spec})
	}
	sort.Slice(s.Columns, func(i, j int) bool { return s.Columns[i].ID < s.Columns[j].ID })
	sort.Slice(s.Views, func(i, j int) bool { return s.Views[i].ID < s.Views[j].ID })
	return s
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[int64]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		now:     time.Now,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// Commit records the schema on main. It returns changed=false, and the
// current head, when the schema is identical to the last commit.
func (s *Service) Commit(schema Schema, author, message string) (CommitInfo, bool, error) {
	lock := s.boardLock(schema.BoardID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(schema.BoardID)
	if err != nil {
		return CommitInfo{}, false, err
	}

	if head, err := headCommit(repo); err == nil {
		prev, err := readSchemaFromCommit(head)
		if err != nil {
			return CommitInfo{}, false, err
		}
		if !HasChanges(prev, schema) {
			return toCommitInfo(head), false, nil
		}
	} else if !errors.Is(err, ErrNoHistory) {
		return CommitInfo{}, false, err
	}

	hash, err := s.commit(repo, schema, author, message)
	if err != nil {
		return CommitInfo{}, false, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), true, nil
}

// Head returns the latest committed schema of a board.
func (s *Service) Head(boardID int64) (Schema, CommitInfo, error) {
	lock := s.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(boardID)
	if err != nil {
		return Schema{}, CommitInfo{}, err
	}
	commitObj, err := headCommit(repo)
	if err != nil {
		return Schema{}, CommitInfo{}, err
	}
	schema, err := readSchemaFromCommit(commitObj)
	if err != nil {
		return Schema{}, CommitInfo{}, err
	}
	return schema, toCommitInfo(commitObj), nil
}

// SchemaAt returns the schema as of a commit. Abbreviated hashes resolve.
func (s *Service) SchemaAt(boardID int64, hash string) (Schema, error) {
	lock := s.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(boardID)
	if err != nil {
		return Schema{}, err
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Schema{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Schema{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readSchemaFromCommit(commitObj)
}

// History lists commits newest first. limit <= 0 means all of them.
func (s *Service) History(boardID int64, limit int) ([]CommitInfo, error) {
	lock := s.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(boardID)
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, max(limit, 0))
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(boardID int64) string {
	return filepath.Join(s.baseDir, "board-"+strconv.FormatInt(boardID, 10))
}

func (s *Service) boardLock(boardID int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[boardID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[boardID] = lock
	return lock
}

func (s *Service) open(boardID int64) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(boardID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(boardID int64) (*git.Repository, error) {
	path := s.repoPath(boardID)
	if _, err := os.Stat(path); err == nil {
		return s.open(boardID)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) commit(repo *git.Repository, schema Schema, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal schema: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, schemaFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", schemaFile, err)
	}
	if _, err := worktree.Add(schemaFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add schema: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@boards.local", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit schema: %w", err)
	}
	return hash, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func readSchemaFromCommit(commitObj *object.Commit) (Schema, error) {
	file, err := commitObj.File(schemaFile)
	if err != nil {
		return Schema{}, fmt.Errorf("load %s from commit: %w", schemaFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Schema{}, fmt.Errorf("open schema reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Schema{}, fmt.Errorf("read schema bytes: %w", err)
	}

	var schema Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return Schema{}, fmt.Errorf("decode commit schema: %w", err)
	}
	return schema, nil
}

// Change is one difference between two schemas.
type Change struct {
	Kind   string `json:"kind"` // board, column, view
	ID     int64  `json:"id,omitempty"`
	Action string `json:"action"` // added, removed, changed
	Name   string `json:"name"`
}

// Diff lists what changed from one schema to the next, board first, then
// columns and views by id.
func Diff(from, to Schema) []Change {
	result := make([]Change, 0)
	if from.Name != to.Name || !bytes.Equal(normalize(from.DoneLabels), normalize(to.DoneLabels)) ||
		!bytes.Equal(normalize(from.StatusColumnID), normalize(to.StatusColumnID)) || from.Deleted != to.Deleted {
		action := "changed"
		if to.Deleted && !from.Deleted {
			action = "removed"
		}
		result = append(result, Change{Kind: "board", ID: to.BoardID, Action: action, Name: to.Name})
	}

	before := make(map[int64]ColumnDef, len(from.Columns))
	for _, c := range from.Columns {
		before[c.ID] = c
	}
	seen := make(map[int64]bool, len(to.Columns))
	var cols []Change
	for _, c := range to.Columns {
		seen[c.ID] = true
		old, ok := before[c.ID]
		switch {
		case !ok:
			cols = append(cols, Change{Kind: "column", ID: c.ID, Action: "added", Name: c.Title})
		case !bytes.Equal(normalize(old), normalize(c)):
			cols = append(cols, Change{Kind: "column", ID: c.ID, Action: "changed", Name: c.Title})
		}
	}
	for _, c := range from.Columns {
		if !seen[c.ID] {
			cols = append(cols, Change{Kind: "column", ID: c.ID, Action: "removed", Name: c.Title})
		}
	}

	beforeViews := make(map[int64]ViewDef, len(from.Views))
	for _, v := range from.Views {
		beforeViews[v.ID] = v
	}
	seenViews := make(map[int64]bool, len(to.Views))
	var views []Change
	for _, v := range to.Views {
		seenViews[v.ID] = true
		old, ok := beforeViews[v.ID]
		switch {
		case !ok:
			views = append(views, Change{Kind: "view", ID: v.ID, Action: "added", Name: v.Name})
		case !bytes.Equal(normalize(old), normalize(v)):
			views = append(views, Change{Kind: "view", ID: v.ID, Action: "changed", Name: v.Name})
		}
	}
	for _, v := range from.Views {
		if !seenViews[v.ID] {
			views = append(views, Change{Kind: "view", ID: v.ID, Action: "removed", Name: v.Name})
		}
	}

	sort.SliceStable(cols, func(i, j int) bool { return cols[i].ID < cols[j].ID })
	sort.SliceStable(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	result = append(result, cols...)
	return append(result, views...)
}

func HasChanges(from, to Schema) bool {
	return !bytes.Equal(normalize(from), normalize(to))
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "grid"
	}
	return string(out)
}

// normalize marshals v for comparison.
func normalize(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
