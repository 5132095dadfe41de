package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/metasearch/internal/artifact"
)

const insertBatchSize = 500

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// VectorStore defines the methods that the Store must implement.
type VectorStore interface {
	GetLabels(ctx context.Context) ([]string, error)
	EmbeddingDim(ctx context.Context) (int, bool, error)
	Migrate(ctx context.Context, dim int) error
	DeleteLabel(ctx context.Context, label string) error
	InsertVectors(ctx context.Context, label, corpusHash string, start int, vectors [][]float32) error
	Search(ctx context.Context, label string, vec []float32, k int) ([]Neighbor, error)
	GetLabelMeta(ctx context.Context, label string) (LabelMeta, bool, error)
	Ping(ctx context.Context) error
	Close()
}

var _ VectorStore = (*Store)(nil)

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

// Connect opens a Store behind the VectorStore interface.
func Connect(ctx context.Context, url string) (VectorStore, error) {
	if url == "" {
		return nil, errors.New("postgres backend requires a database URL")
	}
	s, err := New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

// GetLabels returns all labels that have vectors stored.
func (s *Store) GetLabels(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT label FROM document_vectors ORDER BY label")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}

	return labels, rows.Err()
}

func migrateSQL(dim int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS document_vectors (
  label        TEXT NOT NULL,
  position     INT  NOT NULL,
  corpus_hash  TEXT NOT NULL DEFAULT '',
  embedding    vector(%d) NOT NULL,
  created_at   TIMESTAMP WITH TIME ZONE DEFAULT now(),
  PRIMARY KEY (label, position)
);

CREATE INDEX IF NOT EXISTS document_vectors_label_idx
  ON document_vectors (label);
`, dim)
}

// EmbeddingDim reports the declared width of the embedding column. ok is
// false when the table does not exist yet; an unconstrained column reports 0.
func (s *Store) EmbeddingDim(ctx context.Context) (int, bool, error) {
	const q = `
SELECT a.atttypmod
FROM pg_attribute a
WHERE a.attrelid = to_regclass('document_vectors')
  AND a.attname = 'embedding'
  AND NOT a.attisdropped`
	var mod int32
	if err := s.pool.QueryRow(ctx, q).Scan(&mod); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if mod < 0 {
		return 0, true, nil
	}
	return int(mod), true, nil
}

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	_, err := s.pool.Exec(ctx, migrateSQL(dim))
	return err
}

// DeleteLabel removes every vector stored for label.
func (s *Store) DeleteLabel(ctx context.Context, label string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM document_vectors WHERE label = $1", label)
	return err
}

// insertSQL builds a multi-row insert for n vectors.
func insertSQL(n int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO document_vectors (label, position, corpus_hash, embedding) VALUES ")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "($1,$2+%d,$3,$%d)", i, i+4)
	}
	b.WriteString(`
ON CONFLICT (label, position) DO UPDATE SET
  corpus_hash = EXCLUDED.corpus_hash,
  embedding   = EXCLUDED.embedding`)
	return b.String()
}

// InsertVectors upserts vectors at positions start, start+1, ...
func (s *Store) InsertVectors(ctx context.Context, label, corpusHash string, start int, vectors [][]float32) error {
	for off := 0; off < len(vectors); off += insertBatchSize {
		end := off + insertBatchSize
		if end > len(vectors) {
			end = len(vectors)
		}
		batch := vectors[off:end]
		args := make([]any, 0, len(batch)+3)
		args = append(args, label, start+off, corpusHash)
		for _, v := range batch {
			args = append(args, pgvector.NewVector(v))
		}
		if _, err := s.pool.Exec(ctx, insertSQL(len(batch)), args...); err != nil {
			return fmt.Errorf("insert vectors %d-%d: %w", start+off, start+end-1, err)
		}
	}
	return nil
}

// Search returns the k nearest stored vectors of label by L2 distance.
func (s *Store) Search(ctx context.Context, label string, vec []float32, k int) ([]Neighbor, error) {
	const q = `
SELECT position, embedding <-> $2 AS distance
FROM document_vectors
WHERE label = $1
ORDER BY distance, position
LIMIT $3`
	rows, err := s.pool.Query(ctx, q, label, pgvector.NewVector(vec), k)
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

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// LabelMeta holds summary information about a stored label.
type LabelMeta struct {
	CorpusHash string
	Count      int
	Dim        int
}

// GetLabelMeta retrieves the corpus hash, vector count and dimension of label.
func (s *Store) GetLabelMeta(ctx context.Context, label string) (LabelMeta, bool, error) {
	const q = `
      SELECT MIN(corpus_hash), COUNT(*), COALESCE(MAX(vector_dims(embedding)), 0)
      FROM document_vectors
      WHERE label = $1
      HAVING COUNT(*) > 0`
	var m LabelMeta
	err := s.pool.QueryRow(ctx, q, label).Scan(&m.CorpusHash, &m.Count, &m.Dim)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LabelMeta{}, false, nil
		}
		return LabelMeta{}, false, err
	}
	return m, true, nil
}

// Postgres adapts a Store to the Index interface for a single label.
type Postgres struct {
	store VectorStore
	label string
	dim   int
	hash  string
	count int
}

// CreatePostgres connects, migrates and clears label so it can be rebuilt.
func CreatePostgres(ctx context.Context, url, label string, dim int, corpusHash string) (*Postgres, error) {
	s, err := Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	p, err := createPostgres(ctx, s, label, dim, corpusHash)
	if err != nil {
		s.Close()
		return nil, err
	}
	return p, nil
}

// createPostgres prepares label on s. The embedding column is shared by all
// labels, so its declared width must match dim.
func createPostgres(ctx context.Context, s VectorStore, label string, dim int, corpusHash string) (*Postgres, error) {
	width, ok, err := s.EmbeddingDim(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect schema: %w", err)
	}
	if ok && width > 0 && width != dim {
		return nil, fmt.Errorf("%w: document_vectors holds %d-value embeddings, index dim is %d", ErrVectorLengthMismatch, width, dim)
	}
	if err := s.Migrate(ctx, dim); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.DeleteLabel(ctx, label); err != nil {
		return nil, fmt.Errorf("clear label %s: %w", label, err)
	}
	return &Postgres{store: s, label: label, dim: dim, hash: corpusHash}, nil
}

// OpenPostgres connects to an existing label.
func OpenPostgres(ctx context.Context, url, label string) (*Postgres, error) {
	s, err := Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	p, err := openPostgres(ctx, s, label)
	if err != nil {
		s.Close()
		return nil, err
	}
	return p, nil
}

func openPostgres(ctx context.Context, s VectorStore, label string) (*Postgres, error) {
	meta, ok, err := s.GetLabelMeta(ctx, label)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no vectors for label %s", artifact.ErrMissingArtifact, label)
	}
	return &Postgres{store: s, label: label, dim: meta.Dim, hash: meta.CorpusHash, count: meta.Count}, nil
}

func (p *Postgres) Add(ctx context.Context, vectors [][]float32) error {
	if err := checkDims(p.dim, vectors); err != nil {
		return err
	}
	if err := p.store.InsertVectors(ctx, p.label, p.hash, p.count, vectors); err != nil {
		return err
	}
	p.count += len(vectors)
	return nil
}

func (p *Postgres) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if len(query) != p.dim {
		return nil, fmt.Errorf("%w: query has %d values, index dim is %d", ErrVectorLengthMismatch, len(query), p.dim)
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}
	return p.store.Search(ctx, p.label, query, k)
}

// Flush is a no-op; rows are written by Add.
func (p *Postgres) Flush(context.Context) error { return nil }

func (p *Postgres) Len() int           { return p.count }
func (p *Postgres) Dim() int           { return p.dim }
func (p *Postgres) CorpusHash() string { return p.hash }

func (p *Postgres) Close() error {
	p.store.Close()
	return nil
}
