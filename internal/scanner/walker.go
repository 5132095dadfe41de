package scanner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/metasearch/pkg/models"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// Options controls which parts of the tree are visited.
type Options struct {
	IgnoreDirs        []string
	IncludeExtensions []string
	// ScanAll bypasses both IgnoreDirs and IncludeExtensions.
	ScanAll bool
}

// Entry is one visited directory or file.
type Entry struct {
	Path     string
	IsDir    bool
	Metadata models.MetadataRecord
}

// Walker captures metadata for every directory and file under a root,
// staying on the root's volume.
type Walker struct {
	Options Options
	FS      FileSystemWalker
	// Stat captures metadata for a path. Defaults to CaptureMetadata.
	Stat func(path string) models.MetadataRecord
	// Volume identifies the storage volume holding a path. Defaults to volumeID.
	Volume func(path string) (string, error)
}

// NewWalker creates a Walker backed by godirwalk and the platform stat calls.
func NewWalker(opts Options) *Walker {
	return &Walker{
		Options: opts,
		FS:      &DefaultFileSystemWalker{},
		Stat:    CaptureMetadata,
		Volume:  volumeID,
	}
}

// Walk visits root and returns one entry per directory and per accepted file.
// Directories are reported before their contents.
func (w *Walker) Walk(root string) ([]Entry, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("scan root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("scan root %s is not a directory", abs)
	}

	rootVol, err := w.volume(abs)
	if err != nil {
		return nil, fmt.Errorf("volume of %s: %w", abs, err)
	}

	ignore := make(map[string]bool, len(w.Options.IgnoreDirs))
	for _, d := range w.Options.IgnoreDirs {
		ignore[d] = true
	}
	exts := make(map[string]bool, len(w.Options.IncludeExtensions))
	for _, e := range NormalizeExtensions(w.Options.IncludeExtensions) {
		exts[e] = true
	}

	var entries []Entry
	err = w.fs().Walk(abs, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			isDir := path == abs || (de != nil && de.IsDir())
			if isDir {
				if path != abs {
					if !w.Options.ScanAll && ignore[filepath.Base(path)] {
						log.Debug().Str("path", path).Msg("ignored directory")
						return godirwalk.SkipThis
					}
					vol, err := w.volume(path)
					if err != nil {
						log.Warn().Err(err).Str("path", path).Msg("cannot determine volume")
					} else if vol != rootVol {
						log.Info().Str("path", path).Str("volume", vol).Msg("skipping directory on another volume")
						return godirwalk.SkipThis
					}
				}
				entries = append(entries, Entry{Path: path, IsDir: true, Metadata: w.stat(path)})
				return nil
			}

			// links to directories are neither followed nor recorded
			if de != nil && de.IsSymlink() {
				if toDir, err := de.IsDirOrSymlinkToDir(); err == nil && toDir {
					log.Debug().Str("path", path).Msg("skipping link to directory")
					return nil
				}
			}
			if !w.Options.ScanAll && len(exts) > 0 && !exts[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			entries = append(entries, Entry{Path: path, Metadata: w.stat(path)})
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			log.Warn().Err(err).Str("path", path).Msg("walk error, skipping")
			return godirwalk.SkipNode
		},
	})
	return entries, err
}

// Scan walks root and assembles the entries into a metadata tree.
func (w *Walker) Scan(root string) (*models.TreeNode, error) {
	entries, err := w.Walk(root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return BuildTree(abs, entries), nil
}

func (w *Walker) fs() FileSystemWalker {
	if w.FS == nil {
		return &DefaultFileSystemWalker{}
	}
	return w.FS
}

func (w *Walker) stat(path string) models.MetadataRecord {
	if w.Stat == nil {
		return CaptureMetadata(path)
	}
	return w.Stat(path)
}

func (w *Walker) volume(path string) (string, error) {
	if w.Volume == nil {
		return volumeID(path)
	}
	return w.Volume(path)
}

// CaptureMetadata stats path, following links. A failed stat is recorded
// in the returned record instead of being returned.
func CaptureMetadata(path string) models.MetadataRecord {
	fi, err := os.Stat(path)
	if err != nil {
		return models.MetadataRecord{Error: errorMessage(err)}
	}
	created, modified, accessed := statTimes(path, fi)
	return models.MetadataRecord{
		SizeBytes: fi.Size(),
		Created:   msPrecision(created),
		Modified:  msPrecision(modified),
		Accessed:  msPrecision(accessed),
	}
}

// NormalizeExtensions lower-cases extensions and ensures a leading dot.
func NormalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// scan artifacts store datetimes at millisecond precision
func msPrecision(t time.Time) *time.Time {
	t = t.UTC().Truncate(time.Millisecond)
	return &t
}

func errorMessage(err error) string {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return fmt.Sprintf("%s %s: %v", pe.Op, pe.Path, pe.Err)
	}
	return err.Error()
}
