package store

import (
	"context"
	"errors"
	"fmt"
)

// Supported index backends.
const (
	BackendFlat     = "flat"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

var (
	// ErrVectorLengthMismatch indicates a vector whose length differs from the index dimension.
	ErrVectorLengthMismatch = errors.New("vector length mismatch")
	// ErrUnknownBackend is returned for a backend name that is not supported.
	ErrUnknownBackend = errors.New("unknown index backend")
)

// Neighbor is one search hit: the corpus position of a stored vector and
// its distance to the query. Smaller distances are closer.
type Neighbor struct {
	Position int
	Distance float64
}

// Index is a nearest-neighbor index over vectors addressed by insertion
// position. The i-th vector ever added has position i.
type Index interface {
	Add(ctx context.Context, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Neighbor, error)
	Flush(ctx context.Context) error
	Len() int
	Dim() int
	CorpusHash() string
	Close() error
}

// Options selects and configures an index backend.
type Options struct {
	Backend    string
	Path       string // flat and sqlite
	Database   string // postgres connection URL
	Label      string // postgres row namespace
	Dim        int
	CorpusHash string
}

// Create returns a new, empty index, replacing any existing one at the same location.
func Create(ctx context.Context, opts Options) (Index, error) {
	if opts.Dim <= 0 {
		return nil, fmt.Errorf("invalid dim: %d", opts.Dim)
	}
	switch opts.Backend {
	case BackendFlat, "":
		return NewFlat(opts.Path, opts.Dim, opts.CorpusHash), nil
	case BackendSQLite:
		idx, err := CreateSQLite(opts.Path, opts.Dim, opts.CorpusHash)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case BackendPostgres:
		idx, err := CreatePostgres(ctx, opts.Database, opts.Label, opts.Dim, opts.CorpusHash)
		if err != nil {
			return nil, err
		}
		return idx, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
}

// Open loads an existing index. Dim and CorpusHash in opts are ignored;
// both are read back from the stored index.
func Open(ctx context.Context, opts Options) (Index, error) {
	switch opts.Backend {
	case BackendFlat, "":
		idx, err := LoadFlat(opts.Path)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case BackendSQLite:
		idx, err := OpenSQLite(opts.Path)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case BackendPostgres:
		idx, err := OpenPostgres(ctx, opts.Database, opts.Label)
		if err != nil {
			return nil, err
		}
		return idx, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
}

func checkDims(dim int, vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d values, index dim is %d", ErrVectorLengthMismatch, i, len(v), dim)
		}
	}
	return nil
}
