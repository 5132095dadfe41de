package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/metasearch/internal/artifact"
	"github.com/seanblong/metasearch/internal/store"
	"github.com/seanblong/metasearch/pkg/models"
)

// DefaultK is the number of documents retrieved per question when unset.
const DefaultK = 5

// ErrInvalidK is returned when fewer than one result is requested.
var ErrInvalidK = errors.New("k must be at least 1")

// Embedder turns a query into a vector in the index's space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher finds the stored vectors nearest to a query.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]store.Neighbor, error)
}

type Service struct {
	Embedder Embedder
	Corpus   models.Corpus
	Index    Searcher
}

// NewService creates a new search service over a loaded corpus and index
func NewService(embedder Embedder, c models.Corpus, index Searcher) *Service {
	return &Service{
		Embedder: embedder,
		Corpus:   c,
		Index:    index,
	}
}

// Query returns up to k documents nearest to q, best first. Index positions
// that do not address a corpus document are dropped.
func (s *Service) Query(ctx context.Context, q string, k int) ([]models.SearchResult, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	q = strings.TrimSpace(q)

	vec, err := s.Embedder.Embed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	neighbors, err := s.Index.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	out := make([]models.SearchResult, 0, len(neighbors))
	for _, n := range neighbors {
		if !s.Corpus.Valid(n.Position) {
			log.Debug().Int("position", n.Position).Int("corpus", s.Corpus.Len()).Msg("dropping stale index position")
			continue
		}
		out = append(out, models.SearchResult{
			Position: n.Position,
			Path:     s.Corpus.FileNames[n.Position],
			Text:     s.Corpus.Texts[n.Position],
			Distance: n.Distance,
		})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Retrieve returns the texts of up to k documents nearest to q, best first.
func (s *Service) Retrieve(ctx context.Context, q string, k int) ([]string, error) {
	res, err := s.Query(ctx, q, k)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(res))
	for i, r := range res {
		texts[i] = r.Text
	}
	return texts, nil
}

// Loaded is a Service backed by an opened index that must be closed.
type Loaded struct {
	*Service
	Mapping *artifact.Mapping
	index   store.Index
}

func (l *Loaded) Close() error { return l.index.Close() }

// MappingLoader is the subset of artifact.Store needed to open an index pair.
type MappingLoader interface {
	LoadMapping(label string) (*artifact.Mapping, error)
	IndexPath(label, backend string) string
}

// Open loads the mapping and index stored under label. A corpus hash that
// differs between the two is logged; the pair stays usable.
func Open(ctx context.Context, artifacts MappingLoader, label, database string, embedder Embedder) (*Loaded, error) {
	m, err := artifacts.LoadMapping(label)
	if err != nil {
		return nil, err
	}
	idx, err := store.Open(ctx, store.Options{
		Backend:  m.Backend,
		Path:     artifacts.IndexPath(label, m.Backend),
		Database: database,
		Label:    label,
	})
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", label, err)
	}

	c := m.Corpus()
	if h := idx.CorpusHash(); h != "" && h != c.Hash() {
		log.Warn().Str("label", label).Msg("index and mapping were built from different corpora")
	}
	if idx.Len() != c.Len() {
		log.Warn().Str("label", label).Int("vectors", idx.Len()).Int("documents", c.Len()).Msg("index and mapping sizes differ")
	}
	log.Info().Str("label", label).Str("backend", m.Backend).Int("documents", c.Len()).Msg("index loaded")

	return &Loaded{Service: NewService(embedder, c, idx), Mapping: m, index: idx}, nil
}
