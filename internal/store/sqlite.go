package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/seanblong/metasearch/internal/artifact"
)

func init() {
	sqlite_vec.Auto()
}

const sqliteMetaDDL = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// SQLite stores vectors in a sqlite-vec vec0 table keyed by corpus position.
type SQLite struct {
	db    *sql.DB
	dim   int
	hash  string
	count int
}

// CreateSQLite creates a fresh database at path, removing any previous one.
func CreateSQLite(path string, dim int, corpusHash string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create index dir: %w", err)
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("cannot remove old index %s: %w", p, err)
		}
	}
	db, err := openSQLiteDB(path)
	if err != nil {
		return nil, err
	}
	ddl := fmt.Sprintf(`
CREATE VIRTUAL TABLE IF NOT EXISTS vec_documents USING vec0(
    position INTEGER PRIMARY KEY,
    embedding float[%d]
);`, dim)
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	s := &SQLite{db: db, dim: dim, hash: corpusHash}
	if err := s.setMeta("dim", strconv.Itoa(dim)); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.setMeta("corpus_hash", corpusHash); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens an existing sqlite-vec index.
func OpenSQLite(path string) (*SQLite, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", artifact.ErrMissingArtifact, path)
		}
		return nil, err
	}
	db, err := openSQLiteDB(path)
	if err != nil {
		return nil, err
	}
	s := &SQLite{db: db}
	dim, err := s.getMeta("dim")
	if err != nil {
		db.Close()
		return nil, err
	}
	if s.dim, err = strconv.Atoi(dim); err != nil || s.dim <= 0 {
		db.Close()
		return nil, fmt.Errorf("invalid dim in index %s: %q", path, dim)
	}
	if s.hash, err = s.getMeta("corpus_hash"); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM vec_documents").Scan(&s.count); err != nil {
		db.Close()
		return nil, fmt.Errorf("count vectors: %w", err)
	}
	return s, nil
}

func openSQLiteDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(sqliteMetaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}

func (s *SQLite) Add(ctx context.Context, vectors [][]float32) error {
	if err := checkDims(s.dim, vectors); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO vec_documents (position, embedding) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, v := range vectors {
		pos := s.count + i
		blob, err := sqlite_vec.SerializeFloat32(v)
		if err != nil {
			return fmt.Errorf("serialize embedding %d: %w", pos, err)
		}
		if _, err := stmt.ExecContext(ctx, pos, blob); err != nil {
			return fmt.Errorf("insert embedding %d: %w", pos, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.count += len(vectors)
	return nil
}

func (s *SQLite) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has %d values, index dim is %d", ErrVectorLengthMismatch, len(query), s.dim)
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, distance
		FROM vec_documents
		WHERE embedding MATCH ?
		ORDER BY distance
		LIMIT ?
	`, blob, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Neighbor{}
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.Position, &n.Distance); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Flush is a no-op; rows are committed by Add.
func (s *SQLite) Flush(context.Context) error { return nil }

func (s *SQLite) Len() int           { return s.count }
func (s *SQLite) Dim() int           { return s.dim }
func (s *SQLite) CorpusHash() string { return s.hash }
func (s *SQLite) Close() error       { return s.db.Close() }

func (s *SQLite) getMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *SQLite) setMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}
