package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/metasearch/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	scanSuffix    = "_metadata.bson"
	mappingSuffix = "_mapping.json"
	indexSuffix   = "_index"
)

var (
	// ErrMissingArtifact is returned when a requested scan or mapping file does not exist.
	ErrMissingArtifact = errors.New("artifact not found")
	// ErrInvalidLabel is returned for labels that cannot be used as a file name prefix.
	ErrInvalidLabel = errors.New("invalid label")
	// ErrLocked is returned when another job holds the lock for a label.
	ErrLocked = errors.New("label is locked by another job")
)

// Store lays out scan and index artifacts under a data directory:
//
//	<dir>/scans/<label>_metadata.bson
//	<dir>/indexes/<label>_mapping.json
//	<dir>/indexes/<label>_index.<ext>
//	<dir>/locks/<label>.lock
type Store struct {
	Dir         string
	LockTimeout time.Duration
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{Dir: dir, LockTimeout: 2 * time.Second}
}

// Mapping is the corpus half of an index pair. Position i of the index
// corresponds to FileNames[i] and Texts[i].
type Mapping struct {
	Backend    string   `json:"backend"`
	Model      string   `json:"model"`
	Dim        int      `json:"dim"`
	CorpusHash string   `json:"corpus_hash"`
	CreatedAt  string   `json:"created_at"`
	FileNames  []string `json:"file_names"`
	Texts      []string `json:"texts"`
}

// Corpus returns the mapping's documents.
func (m *Mapping) Corpus() models.Corpus {
	return models.Corpus{FileNames: m.FileNames, Texts: m.Texts}
}

// IndexInfo describes one available index pair.
type IndexInfo struct {
	Label     string `json:"label"`
	Backend   string `json:"backend"`
	Model     string `json:"model"`
	Documents int    `json:"documents"`
	CreatedAt string `json:"created_at"`
}

func (s *Store) scansDir() string   { return filepath.Join(s.Dir, "scans") }
func (s *Store) indexesDir() string { return filepath.Join(s.Dir, "indexes") }

// ScanPath returns the scan artifact path for label.
func (s *Store) ScanPath(label string) string {
	return filepath.Join(s.scansDir(), label+scanSuffix)
}

// MappingPath returns the mapping artifact path for label.
func (s *Store) MappingPath(label string) string {
	return filepath.Join(s.indexesDir(), label+mappingSuffix)
}

// IndexPath returns the index file path for label and backend, or "" for
// backends that do not keep vectors on local disk.
func (s *Store) IndexPath(label, backend string) string {
	switch backend {
	case "flat":
		return filepath.Join(s.indexesDir(), label+indexSuffix+".index")
	case "sqlite":
		return filepath.Join(s.indexesDir(), label+indexSuffix+".db")
	}
	return ""
}

// ValidateLabel rejects labels that are empty or would escape the data directory.
func ValidateLabel(label string) error {
	if strings.TrimSpace(label) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidLabel)
	}
	if strings.ContainsAny(label, `/\`) || label == "." || label == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return nil
}

// SaveScan writes tree as the scan artifact for label.
func (s *Store) SaveScan(label string, tree *models.TreeNode) error {
	if err := ValidateLabel(label); err != nil {
		return err
	}
	b, err := bson.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode scan %s: %w", label, err)
	}
	if err := os.MkdirAll(s.scansDir(), 0o755); err != nil {
		return fmt.Errorf("cannot create scans dir: %w", err)
	}
	path := s.ScanPath(label)
	if err := writeFileAtomic(path, b); err != nil {
		return fmt.Errorf("cannot write scan %s: %w", path, err)
	}
	log.Info().Str("label", label).Str("path", path).Int("bytes", len(b)).Msg("saved scan")
	return nil
}

// LoadScan reads the scan artifact for label.
func (s *Store) LoadScan(label string) (*models.TreeNode, error) {
	if err := ValidateLabel(label); err != nil {
		return nil, err
	}
	path := s.ScanPath(label)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingArtifact, path)
		}
		return nil, fmt.Errorf("cannot read scan %s: %w", path, err)
	}
	var tree models.TreeNode
	if err := bson.Unmarshal(b, &tree); err != nil {
		return nil, fmt.Errorf("invalid scan %s: %w", path, err)
	}
	return &tree, nil
}

// SaveMapping writes the mapping for label. CreatedAt is filled in when empty.
func (s *Store) SaveMapping(label string, m Mapping) error {
	if err := ValidateLabel(label); err != nil {
		return err
	}
	if len(m.FileNames) != len(m.Texts) {
		return fmt.Errorf("mapping %s: %d file names for %d texts", label, len(m.FileNames), len(m.Texts))
	}
	if m.CreatedAt == "" {
		m.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if m.FileNames == nil {
		m.FileNames = []string{}
		m.Texts = []string{}
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.indexesDir(), 0o755); err != nil {
		return fmt.Errorf("cannot create indexes dir: %w", err)
	}
	path := s.MappingPath(label)
	if err := writeFileAtomic(path, b); err != nil {
		return fmt.Errorf("cannot write mapping %s: %w", path, err)
	}
	return nil
}

// LoadMapping reads the mapping for label.
func (s *Store) LoadMapping(label string) (*Mapping, error) {
	if err := ValidateLabel(label); err != nil {
		return nil, err
	}
	path := s.MappingPath(label)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingArtifact, path)
		}
		return nil, fmt.Errorf("cannot read mapping %s: %w", path, err)
	}
	var m Mapping
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("invalid mapping JSON %s: %w", path, err)
	}
	if len(m.FileNames) != len(m.Texts) {
		return nil, fmt.Errorf("mapping %s: %d file names for %d texts", path, len(m.FileNames), len(m.Texts))
	}
	if m.CorpusHash != "" && m.CorpusHash != m.Corpus().Hash() {
		log.Warn().Str("label", label).Msg("mapping content does not match its recorded corpus hash")
	}
	return &m, nil
}

// ListScanLabels returns the labels of all stored scans in lexical order.
func (s *Store) ListScanLabels() ([]string, error) {
	return listLabels(s.scansDir(), scanSuffix)
}

// ListIndexes returns the index pairs that are complete on disk. A mapping
// whose backend keeps a local index file is only listed when that file exists.
func (s *Store) ListIndexes() ([]IndexInfo, error) {
	labels, err := listLabels(s.indexesDir(), mappingSuffix)
	if err != nil {
		return nil, err
	}
	out := make([]IndexInfo, 0, len(labels))
	for _, label := range labels {
		m, err := s.LoadMapping(label)
		if err != nil {
			log.Warn().Err(err).Str("label", label).Msg("skipping unreadable mapping")
			continue
		}
		if p := s.IndexPath(label, m.Backend); p != "" {
			if _, err := os.Stat(p); err != nil {
				log.Debug().Str("label", label).Str("path", p).Msg("index file missing")
				continue
			}
		}
		out = append(out, IndexInfo{
			Label:     label,
			Backend:   m.Backend,
			Model:     m.Model,
			Documents: len(m.Texts),
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// Lock takes the per-label lock, waiting up to LockTimeout. The returned
// function releases it.
func (s *Store) Lock(label string) (func(), error) {
	if err := ValidateLabel(label); err != nil {
		return func() {}, err
	}
	dir := filepath.Join(s.Dir, "locks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return func() {}, fmt.Errorf("cannot create lock dir: %w", err)
	}
	lockPath := filepath.Join(dir, label+".lock")
	l := flock.New(lockPath)
	deadline := time.Now().Add(s.LockTimeout)
	for {
		locked, err := l.TryLock()
		if err != nil {
			return func() {}, fmt.Errorf("cannot acquire lock %s: %w", lockPath, err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return func() {}, fmt.Errorf("%w: %s", ErrLocked, lockPath)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func listLabels(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	labels := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		if label := strings.TrimSuffix(name, suffix); label != "" {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return labels, nil
}

// writeFileAtomic writes to a temporary file next to path and renames it in place.
func writeFileAtomic(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
