// Package docstore is the intermediate document store holding the exported
// legacy site: one JSON record per content object, queryable by path,
// ancestor path and type.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/rflorenc/site-migration-workbench/internal/models"
)

var (
	ErrNotFound  = errors.New("no object found")
	ErrAmbiguous = errors.New("more than one object found")
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	key         TEXT PRIMARY KEY,
	path        TEXT NOT NULL,
	parent_path TEXT NOT NULL,
	type        TEXT NOT NULL,
	uid         TEXT NOT NULL DEFAULT '',
	position    INTEGER NOT NULL DEFAULT 0,
	data        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS ancestors (
	key  TEXT NOT NULL REFERENCES records(key) ON DELETE CASCADE,
	path TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS records_path ON records(path);
CREATE INDEX IF NOT EXISTS records_parent_path ON records(parent_path);
CREATE INDEX IF NOT EXISTS records_type ON records(type);
CREATE INDEX IF NOT EXISTS records_uid ON records(uid);
CREATE INDEX IF NOT EXISTS ancestors_path ON ancestors(path);
CREATE INDEX IF NOT EXISTS ancestors_key ON ancestors(key);
`

// Store is a SQLite-backed JSON record store.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed initialises) the store at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db %q: %w", path, err)
	}
	// One connection keeps the single-threaded access pattern of a run and
	// makes ":memory:" databases usable.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Query selects records. Zero-valued fields do not filter.
type Query struct {
	// Ancestor matches records whose ancestor list contains this path.
	Ancestor string
	// OrSelf additionally matches the record whose path equals Ancestor.
	OrSelf     bool
	Path       string
	ParentPath string
	Types      []string
	// ByPosition orders by position in parent, then path; otherwise by path.
	ByPosition bool
}

func (q Query) build() (string, []any) {
	var where []string
	var args []any
	if q.Ancestor != "" {
		cond := "EXISTS (SELECT 1 FROM ancestors a WHERE a.key = records.key AND a.path = ?)"
		args = append(args, q.Ancestor)
		if q.OrSelf {
			cond = "(" + cond + " OR records.path = ?)"
			args = append(args, q.Ancestor)
		}
		where = append(where, cond)
	}
	if q.Path != "" {
		where = append(where, "records.path = ?")
		args = append(args, q.Path)
	}
	if q.ParentPath != "" {
		where = append(where, "records.parent_path = ?")
		args = append(args, q.ParentPath)
	}
	if len(q.Types) > 0 {
		where = append(where, "records.type IN (?"+strings.Repeat(", ?", len(q.Types)-1)+")")
		for _, t := range q.Types {
			args = append(args, t)
		}
	}

	stmt := "SELECT records.data FROM records"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	if q.ByPosition {
		stmt += " ORDER BY records.position, records.path"
	} else {
		stmt += " ORDER BY records.path"
	}
	return stmt, args
}

// Query returns a lazy sequence of matching records. Iteration stops at the
// first error, which is yielded with a nil record.
func (s *Store) Query(ctx context.Context, q Query) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		stmt, args := q.build()
		rows, err := s.db.QueryContext(ctx, stmt, args...)
		if err != nil {
			yield(nil, fmt.Errorf("query records: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if !yield(rec, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("iterate records: %w", err))
		}
	}
}

// All drains a query into a slice.
func (s *Store) All(ctx context.Context, q Query) ([]models.Record, error) {
	var out []models.Record
	for rec, err := range s.Query(ctx, q) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetByKey fetches one record by its store key.
func (s *Store) GetByKey(ctx context.Context, key string) (models.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT data FROM records WHERE key = ?", key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("key %q: %w", key, ErrNotFound)
	}
	return rec, err
}

// GetByPath fetches the single record stored under a legacy path.
func (s *Store) GetByPath(ctx context.Context, path string) (models.Record, error) {
	recs, err := s.All(ctx, Query{Path: path})
	if err != nil {
		return nil, err
	}
	switch len(recs) {
	case 0:
		return nil, fmt.Errorf("no object returned for search by path %q: %w", path, ErrNotFound)
	case 1:
		return recs[0], nil
	default:
		return nil, fmt.Errorf("%d objects returned for search by path %q: %w", len(recs), path, ErrAmbiguous)
	}
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n)
	return n, err
}

// Insert stores one record. The record must carry _key and _path; parent
// and ancestor paths are synthesized from the path when absent.
func (s *Store) Insert(ctx context.Context, rec models.Record) error {
	key, path := rec.Key(), rec.Path()
	if key == "" || path == "" {
		return fmt.Errorf("record without _key or _path")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (key, path, parent_path, type, uid, position, data) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key, path, rec.ParentPath(), rec.Type(), rec.UID(), rec.Position(), string(data)); err != nil {
		return fmt.Errorf("insert %s: %w", path, err)
	}
	for _, a := range rec.Ancestors() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO ancestors (key, path) VALUES (?, ?)`, key, a); err != nil {
			return fmt.Errorf("insert ancestors of %s: %w", path, err)
		}
	}
	return tx.Commit()
}

// Truncate removes all records.
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM ancestors; DELETE FROM records;"); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (models.Record, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		return nil, err
	}
	rec := models.Record{}
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// Descendants returns every record below path, ordered by position in
// parent.
func (s *Store) Descendants(ctx context.Context, path string) ([]models.Record, error) {
	return s.All(ctx, Query{Ancestor: path, ByPosition: true})
}
