package store

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/seanblong/metasearch/internal/artifact"
)

var flatMagic = [4]byte{'M', 'S', 'I', 'X'}

const flatVersion uint32 = 1

// Flat is an exact L2 index held in memory and persisted as a single file:
// a header (magic, version, dim, count, corpus hash) followed by the rows
// as little-endian float32.
type Flat struct {
	mu   sync.RWMutex
	path string
	dim  int
	hash string
	rows []float32
}

// NewFlat returns an empty flat index that will be written to path on Flush.
func NewFlat(path string, dim int, corpusHash string) *Flat {
	return &Flat{path: path, dim: dim, hash: corpusHash}
}

// LoadFlat reads a flat index file. The file size must match the header
// exactly.
func LoadFlat(path string) (*Flat, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", artifact.ErrMissingArtifact, path)
		}
		return nil, fmt.Errorf("cannot open index %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat index %s: %w", path, err)
	}
	idx, err := readFlat(bufio.NewReader(f), st.Size())
	if err != nil {
		return nil, fmt.Errorf("invalid index %s: %w", path, err)
	}
	idx.path = path
	return idx, nil
}

type flatHeader struct {
	Magic   [4]byte
	Version uint32
	Dim     uint32
	Count   uint64
	HashLen uint16
}

// readFlat decodes an index of size bytes from r.
func readFlat(r io.Reader, size int64) (*Flat, error) {
	var hdr flatHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if hdr.Magic != flatMagic {
		return nil, errors.New("not a flat index file")
	}
	if hdr.Version != flatVersion {
		return nil, fmt.Errorf("unsupported index version %d", hdr.Version)
	}
	if hdr.Dim == 0 {
		return nil, fmt.Errorf("invalid dim in header: %d", hdr.Dim)
	}
	n, err := flatValues(hdr, size)
	if err != nil {
		return nil, err
	}
	hash := make([]byte, hdr.HashLen)
	if _, err := io.ReadFull(r, hash); err != nil {
		return nil, fmt.Errorf("read corpus hash: %w", err)
	}
	rows := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, rows); err != nil {
		return nil, fmt.Errorf("read vectors: %w", err)
	}
	return &Flat{dim: int(hdr.Dim), hash: string(hash), rows: rows}, nil
}

// flatValues returns count*dim after checking that the header, hash and
// vectors account for exactly size bytes.
func flatValues(hdr flatHeader, size int64) (int, error) {
	if size < 0 {
		return 0, fmt.Errorf("invalid file size %d", size)
	}
	dim := uint64(hdr.Dim)
	if hdr.Count > math.MaxUint64/dim {
		return 0, fmt.Errorf("header count %d overflows with dim %d", hdr.Count, hdr.Dim)
	}
	n := hdr.Count * dim
	if n > (math.MaxUint64-uint64(binary.Size(hdr))-uint64(hdr.HashLen))/4 || n > math.MaxInt/4 {
		return 0, fmt.Errorf("header count %d too large", hdr.Count)
	}
	want := uint64(binary.Size(hdr)) + uint64(hdr.HashLen) + n*4
	if want != uint64(size) {
		return 0, fmt.Errorf("file size %d does not match header (count=%d dim=%d, want %d bytes)", size, hdr.Count, hdr.Dim, want)
	}
	return int(n), nil
}

func (f *Flat) Add(_ context.Context, vectors [][]float32) error {
	if err := checkDims(f.dim, vectors); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range vectors {
		f.rows = append(f.rows, v...)
	}
	return nil
}

// Search returns up to k neighbors by ascending squared L2 distance. Ties
// are broken by position.
func (f *Flat) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d values, index dim is %d", ErrVectorLengthMismatch, len(query), f.dim)
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.rows) / f.dim
	out := make([]Neighbor, 0, n)
	for pos := 0; pos < n; pos++ {
		if pos%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		out = append(out, Neighbor{Position: pos, Distance: squaredL2(query, f.rows[pos*f.dim:(pos+1)*f.dim])})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Position < out[j].Position
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Flush writes the index to its path, replacing the previous file.
func (f *Flat) Flush(_ context.Context) error {
	if f.path == "" {
		return errors.New("flat index has no path")
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("cannot create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("cannot create index file: %w", err)
	}
	bw := bufio.NewWriter(tmp)
	if err := f.writeTo(bw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("cannot write index: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *Flat) writeTo(w io.Writer) error {
	hdr := flatHeader{flatMagic, flatVersion, uint32(f.dim), uint64(len(f.rows) / f.dim), uint16(len(f.hash))}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}
	if _, err := io.WriteString(w, f.hash); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, f.rows)
}

func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.rows) / f.dim
}

func (f *Flat) Dim() int           { return f.dim }
func (f *Flat) CorpusHash() string { return f.hash }
func (f *Flat) Close() error       { return nil }

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
