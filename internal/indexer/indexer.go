package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/metasearch/internal/ai"
	"github.com/seanblong/metasearch/internal/artifact"
	"github.com/seanblong/metasearch/internal/corpus"
	"github.com/seanblong/metasearch/internal/store"
	"github.com/seanblong/metasearch/pkg/models"
)

const (
	defaultWorkers = 4
	maxWorkers     = 8 // Cap to avoid overwhelming the embedding API
	addBatchSize   = 1024
)

// ErrEmptyCorpus is returned when the selected scans produce no documents.
var ErrEmptyCorpus = errors.New("corpus is empty")

// ArtifactStore is the subset of artifact.Store the indexer needs.
type ArtifactStore interface {
	LoadScan(label string) (*models.TreeNode, error)
	SaveMapping(label string, m artifact.Mapping) error
	IndexPath(label, backend string) string
	Lock(label string) (func(), error)
}

// IndexFactory creates an empty index.
type IndexFactory func(ctx context.Context, opts store.Options) (store.Index, error)

// Indexer builds an index pair from one or more stored scans.
type Indexer struct {
	Artifacts ArtifactStore
	Client    ai.Client
	Backend   string
	Database  string
	Workers   int
	NewIndex  IndexFactory
}

// Result summarizes a finished build.
type Result struct {
	Label      string
	Documents  int
	Dim        int
	CorpusHash string
}

// New creates a new Indexer instance.
func New(artifacts ArtifactStore, clientConfig *ai.ClientConfig, backend, database string, workers int) (*Indexer, error) {
	client, err := ai.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	return NewWithDependencies(artifacts, client, backend, database, workers, store.Create), nil
}

// NewWithDependencies creates a new Indexer instance with custom dependencies for testing
func NewWithDependencies(artifacts ArtifactStore, client ai.Client, backend, database string, workers int, factory IndexFactory) *Indexer {
	return &Indexer{
		Artifacts: artifacts,
		Client:    client,
		Backend:   backend,
		Database:  database,
		Workers:   workers,
		NewIndex:  factory,
	}
}

func (ix *Indexer) workers() int {
	n := ix.Workers
	if n <= 0 {
		n = defaultWorkers
	}
	if n > maxWorkers {
		n = maxWorkers
	}
	return n
}

// Run loads the scans named by scanLabels, flattens them in the given order
// into one corpus, embeds every document and writes the index and mapping
// for outputLabel. A missing scan stops the build before anything is embedded.
func (ix *Indexer) Run(ctx context.Context, scanLabels []string, outputLabel string) (*Result, error) {
	if len(scanLabels) == 0 {
		return nil, errors.New("at least one scan label is required")
	}
	if err := artifact.ValidateLabel(outputLabel); err != nil {
		return nil, err
	}

	unlock, err := ix.Artifacts.Lock(outputLabel)
	if err != nil {
		return nil, err
	}
	defer unlock()

	trees := make([]*models.TreeNode, 0, len(scanLabels))
	for _, label := range scanLabels {
		tree, err := ix.Artifacts.LoadScan(label)
		if err != nil {
			return nil, fmt.Errorf("load scan %s: %w", label, err)
		}
		trees = append(trees, tree)
	}

	c := corpus.Build(trees...)
	if c.Len() == 0 {
		return nil, ErrEmptyCorpus
	}
	hash := c.Hash()
	log.Info().Strs("scans", scanLabels).Str("label", outputLabel).Int("documents", c.Len()).Msg("corpus built")

	vectors, err := ix.EmbedCorpus(ctx, c.Texts)
	if err != nil {
		return nil, err
	}
	dim := len(vectors[0])

	backend := ix.Backend
	if backend == "" {
		backend = store.BackendFlat
	}
	idx, err := ix.NewIndex(ctx, store.Options{
		Backend:    backend,
		Path:       ix.Artifacts.IndexPath(outputLabel, backend),
		Database:   ix.Database,
		Label:      outputLabel,
		Dim:        dim,
		CorpusHash: hash,
	})
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	defer func() {
		if err := idx.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close index")
		}
	}()

	for start := 0; start < len(vectors); start += addBatchSize {
		end := start + addBatchSize
		if end > len(vectors) {
			end = len(vectors)
		}
		if err := idx.Add(ctx, vectors[start:end]); err != nil {
			return nil, fmt.Errorf("add vectors: %w", err)
		}
	}
	if err := idx.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush index: %w", err)
	}

	// The mapping goes last so a listed pair always has its vectors.
	err = ix.Artifacts.SaveMapping(outputLabel, artifact.Mapping{
		Backend:    backend,
		Model:      ix.Client.Model(),
		Dim:        dim,
		CorpusHash: hash,
		FileNames:  c.FileNames,
		Texts:      c.Texts,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("label", outputLabel).Str("backend", backend).Int("documents", c.Len()).Int("dim", dim).Msg("index written")
	return &Result{Label: outputLabel, Documents: c.Len(), Dim: dim, CorpusHash: hash}, nil
}

// workItem is one document to embed, tagged with its corpus position.
type workItem struct {
	pos  int
	text string
}

// EmbedCorpus embeds texts concurrently. The i-th vector returned belongs to
// texts[i] regardless of completion order. The first failure cancels the
// remaining work and is returned.
func (ix *Indexer) EmbedCorpus(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyCorpus
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	numWorkers := ix.workers()
	log.Info().Int("workers", numWorkers).Int("documents", len(texts)).Msg("starting concurrent embedding")

	vectors := make([][]float32, len(texts))
	workChan := make(chan workItem, numWorkers*2) // Buffer to keep workers busy

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
		mu       sync.Mutex
		done     int
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")

			for item := range workChan {
				if ctx.Err() != nil {
					continue
				}
				vec, err := ix.Client.Embed(ctx, item.text)
				if err != nil {
					fail(fmt.Errorf("embed document %d: %w", item.pos, err))
					continue
				}
				if len(vec) == 0 {
					fail(fmt.Errorf("embed document %d: empty vector", item.pos))
					continue
				}
				vectors[item.pos] = vec

				mu.Lock()
				done++
				if done%500 == 0 {
					log.Info().Int("done", done).Int("total", len(texts)).Msg("embedding progress")
				}
				mu.Unlock()
			}

			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}

feed:
	for pos, text := range texts {
		select {
		case workChan <- workItem{pos: pos, text: text}:
		case <-ctx.Done():
			break feed
		}
	}
	close(workChan)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dim := len(vectors[0])
	for pos, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: document %d has %d values, expected %d", store.ErrVectorLengthMismatch, pos, len(v), dim)
		}
	}
	return vectors, nil
}
