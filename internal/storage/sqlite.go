package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sagas (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	title             TEXT NOT NULL,
	world_name        TEXT NOT NULL,
	world_description TEXT NOT NULL DEFAULT '',
	mood_and_tropes   TEXT NOT NULL DEFAULT '',
	premise           TEXT NOT NULL,
	advanced_options  TEXT NOT NULL DEFAULT '',
	total_chapters    INTEGER NOT NULL,
	story_mode        TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sagas_user ON sagas(user_id);

CREATE TABLE IF NOT EXISTS story_nodes (
	id              TEXT PRIMARY KEY,
	saga_id         TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	parent_id       TEXT,
	user_decision   TEXT NOT NULL DEFAULT '',
	story_direction TEXT NOT NULL DEFAULT '',
	summary         TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	end_reason      TEXT NOT NULL DEFAULT '',
	chapter_number  INTEGER NOT NULL,
	outline         TEXT,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_saga ON story_nodes(saga_id);
CREATE INDEX IF NOT EXISTS idx_nodes_parent ON story_nodes(parent_id);
`

const nodeColumns = `id, saga_id, user_id, parent_id, user_decision, story_direction, summary, content,
	status, end_reason, chapter_number, outline, created_at`

const sagaColumns = `id, user_id, title, world_name, world_description, mood_and_tropes, premise,
	advanced_options, total_chapters, story_mode, created_at, updated_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore persists sagas and nodes in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
	q  querier
}

var (
	_ interfaces.Store      = (*SQLiteStore)(nil)
	_ interfaces.Transactor = (*SQLiteStore)(nil)
)

// OpenSQLite opens (creating if needed) the database at path. ":memory:" is accepted.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// a single writer keeps :memory: databases shared and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db, q: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InTx runs fn against a store bound to one transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx interfaces.NodeStore) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(&SQLiteStore{db: s.db, q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateSaga(ctx context.Context, saga *models.Saga) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO sagas (`+sagaColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		saga.ID, saga.UserID, saga.Title, saga.WorldName, saga.WorldDescription, saga.MoodAndTropes, saga.Premise,
		saga.AdvancedOptions, saga.TotalChapters, string(saga.StoryMode), saga.CreatedAt.UnixNano(), saga.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("inserting saga: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSaga(ctx context.Context, id string) (*models.Saga, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+sagaColumns+` FROM sagas WHERE id = ?`, id)
	saga, err := scanSaga(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading saga: %w", err)
	}
	return saga, nil
}

func (s *SQLiteStore) ListSagas(ctx context.Context, userID string) ([]*models.Saga, error) {
	query := `SELECT ` + sagaColumns + ` FROM sagas`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sagas: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Saga, 0)
	for rows.Next() {
		saga, err := scanSaga(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning saga: %w", err)
		}
		out = append(out, saga)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateSaga(ctx context.Context, id string, patch models.SagaPatch) (*models.Saga, error) {
	saga, err := s.GetSaga(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(saga)
	saga.UpdatedAt = time.Now()

	_, err = s.q.ExecContext(ctx, `UPDATE sagas SET title = ?, world_name = ?, world_description = ?, mood_and_tropes = ?,
		premise = ?, advanced_options = ?, total_chapters = ?, story_mode = ?, updated_at = ? WHERE id = ?`,
		saga.Title, saga.WorldName, saga.WorldDescription, saga.MoodAndTropes, saga.Premise, saga.AdvancedOptions,
		saga.TotalChapters, string(saga.StoryMode), saga.UpdatedAt.UnixNano(), id)
	if err != nil {
		return nil, fmt.Errorf("updating saga: %w", err)
	}
	return saga, nil
}

func (s *SQLiteStore) DeleteSaga(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM sagas WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting saga: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) CreateNode(ctx context.Context, node *models.StoryNode) error {
	outline, err := encodeOutline(node.Outline)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `INSERT INTO story_nodes (`+nodeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID, node.SagaID, node.UserID, nullable(node.ParentID), node.UserDecision, node.StoryDirection, node.Summary,
		node.Content, string(node.Status), node.EndReason, node.ChapterNumber, outline, node.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("inserting node: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetNode(ctx context.Context, id string) (*models.StoryNode, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM story_nodes WHERE id = ?`, id)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading node: %w", err)
	}
	return node, nil
}

func (s *SQLiteStore) ListNodes(ctx context.Context, sagaID string) ([]*models.StoryNode, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+nodeColumns+` FROM story_nodes WHERE saga_id = ?
		ORDER BY chapter_number, created_at, id`, sagaID)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	defer rows.Close()

	out := make([]*models.StoryNode, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		out = append(out, node)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateNode(ctx context.Context, id string, patch models.NodePatch) (*models.StoryNode, error) {
	node, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(node)

	outline, err := encodeOutline(node.Outline)
	if err != nil {
		return nil, err
	}
	_, err = s.q.ExecContext(ctx, `UPDATE story_nodes SET content = ?, summary = ?, outline = ? WHERE id = ?`,
		node.Content, node.Summary, outline, id)
	if err != nil {
		return nil, fmt.Errorf("updating node: %w", err)
	}
	return node, nil
}

func (s *SQLiteStore) DeleteNode(ctx context.Context, scope models.Scope, id string) error {
	query, args := scoped(`DELETE FROM story_nodes WHERE id = ?`, scope, id)
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) DeleteNodes(ctx context.Context, scope models.Scope, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	query, args := scoped(`DELETE FROM story_nodes WHERE id IN (`+placeholders+`)`, scope, args...)
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting nodes: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) DeleteSagaNodes(ctx context.Context, scope models.Scope) (int, error) {
	query, args := scoped(`DELETE FROM story_nodes WHERE 1 = 1`, scope)
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting saga nodes: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Reparent(ctx context.Context, scope models.Scope, fromParentID string, newParentID *string) (int, error) {
	query, args := scoped(`UPDATE story_nodes SET parent_id = ? WHERE parent_id = ?`, scope, nullable(newParentID), fromParentID)
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reparenting nodes: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// scoped appends the saga and optional owner filter to a statement.
func scoped(query string, scope models.Scope, args ...any) (string, []any) {
	query += ` AND saga_id = ?`
	args = append(args, scope.SagaID)
	if scope.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, scope.UserID)
	}
	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*models.StoryNode, error) {
	var (
		node      models.StoryNode
		parentID  sql.NullString
		outline   sql.NullString
		status    string
		createdAt int64
	)
	err := row.Scan(&node.ID, &node.SagaID, &node.UserID, &parentID, &node.UserDecision, &node.StoryDirection,
		&node.Summary, &node.Content, &status, &node.EndReason, &node.ChapterNumber, &outline, &createdAt)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		node.ParentID = models.StringPtr(parentID.String)
	}
	if outline.Valid && outline.String != "" {
		var o models.ChapterOutline
		if err := json.Unmarshal([]byte(outline.String), &o); err != nil {
			return nil, fmt.Errorf("decoding outline of %s: %w", node.ID, err)
		}
		node.Outline = &o
	}
	node.Status = models.NodeStatus(status)
	node.CreatedAt = time.Unix(0, createdAt)
	return &node, nil
}

func scanSaga(row rowScanner) (*models.Saga, error) {
	var (
		saga                 models.Saga
		mode                 string
		createdAt, updatedAt int64
	)
	err := row.Scan(&saga.ID, &saga.UserID, &saga.Title, &saga.WorldName, &saga.WorldDescription, &saga.MoodAndTropes,
		&saga.Premise, &saga.AdvancedOptions, &saga.TotalChapters, &mode, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	saga.StoryMode = models.StoryMode(mode)
	saga.CreatedAt = time.Unix(0, createdAt)
	saga.UpdatedAt = time.Unix(0, updatedAt)
	return &saga, nil
}

func encodeOutline(o *models.ChapterOutline) (sql.NullString, error) {
	if o == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(o)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding outline: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
