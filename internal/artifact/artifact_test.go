package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/seanblong/metasearch/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func sampleTree() *models.TreeNode {
	ts := time.Date(2024, 3, 4, 5, 6, 7, 123000000, time.UTC)
	root := &models.TreeNode{Path: "/data/root", Metadata: &models.MetadataRecord{SizeBytes: 4096, Created: &ts, Modified: &ts, Accessed: &ts}}
	root.AddFile("a.txt", models.MetadataRecord{SizeBytes: 12, Created: &ts, Modified: &ts, Accessed: &ts})
	sub := root.Child("sub")
	sub.Path = "/data/root/sub"
	sub.Metadata = &models.MetadataRecord{SizeBytes: 4096, Modified: &ts}
	sub.AddFile("locked", models.MetadataRecord{Error: "stat /data/root/sub/locked: permission denied"})
	// synthetic node without its own metadata
	sub.Child("ghost").AddFile("b.md", models.MetadataRecord{SizeBytes: 1})
	return root
}

func TestScanRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	tree := sampleTree()

	if err := s.SaveScan("docs", tree); err != nil {
		t.Fatalf("SaveScan failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir, "scans", "docs_metadata.bson")); err != nil {
		t.Fatalf("Expected scan artifact on disk: %v", err)
	}

	got, err := s.LoadScan("docs")
	if err != nil {
		t.Fatalf("LoadScan failed: %v", err)
	}

	if got.Path != tree.Path || got.Metadata == nil || got.Metadata.SizeBytes != 4096 {
		t.Errorf("Unexpected root %+v", got)
	}
	if !got.Metadata.Modified.Equal(*tree.Metadata.Modified) {
		t.Errorf("Modified = %v, want %v", got.Metadata.Modified, tree.Metadata.Modified)
	}
	if got.Files["a.txt"].SizeBytes != 12 {
		t.Errorf("Unexpected file record %+v", got.Files["a.txt"])
	}

	sub := got.Subdirs["sub"]
	if sub == nil || sub.Path != "/data/root/sub" {
		t.Fatalf("Expected sub node, got %+v", sub)
	}
	if sub.Metadata.Created != nil {
		t.Errorf("Expected absent created time to stay absent, got %v", sub.Metadata.Created)
	}
	if locked := sub.Files["locked"]; !locked.Failed() || locked.Error != tree.Subdirs["sub"].Files["locked"].Error {
		t.Errorf("Expected error variant to round trip, got %+v", locked)
	}
	ghost := sub.Subdirs["ghost"]
	if ghost == nil || ghost.Metadata != nil || ghost.Files["b.md"].SizeBytes != 1 {
		t.Errorf("Expected synthetic node to round trip without metadata, got %+v", ghost)
	}
}

func TestLoadScan_Missing(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.LoadScan("nope")
	if !errors.Is(err, ErrMissingArtifact) {
		t.Fatalf("Expected ErrMissingArtifact, got %v", err)
	}
	if want := s.ScanPath("nope"); !strings.Contains(err.Error(), want) {
		t.Errorf("Expected error to name %s, got %v", want, err)
	}
}

func TestMappingRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	c := models.Corpus{FileNames: []string{"/r", "a.txt"}, Texts: []string{"Directory: /r", "File: a.txt\nMetadata: {}"}}
	m := Mapping{Backend: "flat", Model: "stub", Dim: 8, CorpusHash: c.Hash(), FileNames: c.FileNames, Texts: c.Texts}

	if err := s.SaveMapping("combined", m); err != nil {
		t.Fatalf("SaveMapping failed: %v", err)
	}
	got, err := s.LoadMapping("combined")
	if err != nil {
		t.Fatalf("LoadMapping failed: %v", err)
	}
	if got.CreatedAt == "" {
		t.Error("Expected CreatedAt to be filled in")
	}
	if !reflect.DeepEqual(got.Corpus(), c) {
		t.Errorf("Corpus = %+v, want %+v", got.Corpus(), c)
	}
	if got.Dim != 8 || got.Backend != "flat" || got.CorpusHash != c.Hash() {
		t.Errorf("Unexpected mapping header %+v", got)
	}
}

func TestMapping_Errors(t *testing.T) {
	s := New(t.TempDir())

	if err := s.SaveMapping("bad", Mapping{FileNames: []string{"a"}}); err == nil {
		t.Error("Expected misaligned mapping to be rejected")
	}
	if _, err := s.LoadMapping("absent"); !errors.Is(err, ErrMissingArtifact) {
		t.Errorf("Expected ErrMissingArtifact, got %v", err)
	}

	if err := os.MkdirAll(filepath.Join(s.Dir, "indexes"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.MappingPath("broken"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadMapping("broken"); err == nil || errors.Is(err, ErrMissingArtifact) {
		t.Errorf("Expected decode error, got %v", err)
	}
}

func TestValidateLabel(t *testing.T) {
	tests := []struct {
		label string
		ok    bool
	}{
		{"docs", true},
		{"my-scan_2", true},
		{"", false},
		{"  ", false},
		{"../etc", false},
		{`a\b`, false},
		{"..", false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			err := ValidateLabel(tt.label)
			if (err == nil) != tt.ok {
				t.Errorf("ValidateLabel(%q) = %v, want ok=%v", tt.label, err, tt.ok)
			}
			if err != nil && !errors.Is(err, ErrInvalidLabel) {
				t.Errorf("Expected ErrInvalidLabel, got %v", err)
			}
		})
	}
}

func TestListScanLabels(t *testing.T) {
	s := New(t.TempDir())

	labels, err := s.ListScanLabels()
	if err != nil || len(labels) != 0 {
		t.Fatalf("Expected empty list for missing dir, got %v, %v", labels, err)
	}

	for _, l := range []string{"zeta", "alpha", "mid"} {
		if err := s.SaveScan(l, &models.TreeNode{}); err != nil {
			t.Fatal(err)
		}
	}
	// unrelated files are ignored
	if err := os.WriteFile(filepath.Join(s.Dir, "scans", "notes.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	labels, err = s.ListScanLabels()
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"alpha", "mid", "zeta"}; !reflect.DeepEqual(labels, want) {
		t.Errorf("ListScanLabels = %v, want %v", labels, want)
	}
}

func TestListIndexes(t *testing.T) {
	s := New(t.TempDir())
	c := models.Corpus{FileNames: []string{"a"}, Texts: []string{"A"}}

	// complete flat pair
	if err := s.SaveMapping("flatpair", Mapping{Backend: "flat", FileNames: c.FileNames, Texts: c.Texts}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.IndexPath("flatpair", "flat"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// mapping without its index file
	if err := s.SaveMapping("orphan", Mapping{Backend: "sqlite", FileNames: c.FileNames, Texts: c.Texts}); err != nil {
		t.Fatal(err)
	}
	// remote backend needs no local file
	if err := s.SaveMapping("remote", Mapping{Backend: "postgres", FileNames: c.FileNames, Texts: c.Texts}); err != nil {
		t.Fatal(err)
	}

	infos, err := s.ListIndexes()
	if err != nil {
		t.Fatal(err)
	}
	var labels []string
	for _, i := range infos {
		labels = append(labels, i.Label)
	}
	if want := []string{"flatpair", "remote"}; !reflect.DeepEqual(labels, want) {
		t.Errorf("ListIndexes labels = %v, want %v", labels, want)
	}
	if infos[0].Documents != 1 || infos[0].Backend != "flat" {
		t.Errorf("Unexpected info %+v", infos[0])
	}
}

func TestIndexPath(t *testing.T) {
	s := New("/d")
	if got := s.IndexPath("x", "flat"); got != filepath.Join("/d", "indexes", "x_index.index") {
		t.Errorf("flat path = %s", got)
	}
	if got := s.IndexPath("x", "sqlite"); got != filepath.Join("/d", "indexes", "x_index.db") {
		t.Errorf("sqlite path = %s", got)
	}
	if got := s.IndexPath("x", "postgres"); got != "" {
		t.Errorf("Expected no local path for postgres, got %s", got)
	}
}

func TestLock(t *testing.T) {
	s := New(t.TempDir())
	s.LockTimeout = 150 * time.Millisecond

	unlock, err := s.Lock("docs")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	other := New(s.Dir)
	other.LockTimeout = 150 * time.Millisecond
	if _, err := other.Lock("docs"); !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked while held, got %v", err)
	}

	// a different label is independent
	unlockOther, err := other.Lock("other")
	if err != nil {
		t.Errorf("Expected independent label to lock, got %v", err)
	}
	unlockOther()

	unlock()
	unlockAgain, err := other.Lock("docs")
	if err != nil {
		t.Fatalf("Expected lock after release, got %v", err)
	}
	unlockAgain()
}
