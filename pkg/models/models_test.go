package models

import (
	"testing"
	"time"
)

func TestCorpusAppendKeepsAlignment(t *testing.T) {
	var c Corpus
	c.Append(Document{Path: "a", Text: "Directory: a"}, Document{Path: "a/b.txt", Text: "File: a/b.txt"})

	if len(c.FileNames) != len(c.Texts) {
		t.Fatalf("file names (%d) and texts (%d) out of step", len(c.FileNames), len(c.Texts))
	}
	if c.Len() != 2 {
		t.Errorf("Expected 2 documents, got %d", c.Len())
	}
	if c.FileNames[1] != "a/b.txt" || c.Texts[1] != "File: a/b.txt" {
		t.Errorf("Unexpected second document: %q %q", c.FileNames[1], c.Texts[1])
	}
}

func TestCorpusValid(t *testing.T) {
	c := Corpus{FileNames: []string{"x", "y"}, Texts: []string{"X", "Y"}}
	tests := []struct {
		pos  int
		want bool
	}{
		{-1, false},
		{0, true},
		{1, true},
		{2, false},
	}
	for _, tt := range tests {
		if got := c.Valid(tt.pos); got != tt.want {
			t.Errorf("Valid(%d) = %v, want %v", tt.pos, got, tt.want)
		}
	}
}

func TestCorpusHash(t *testing.T) {
	a := Corpus{FileNames: []string{"x", "y"}, Texts: []string{"X", "Y"}}
	b := Corpus{FileNames: []string{"x", "y"}, Texts: []string{"X", "Y"}}
	if a.Hash() != b.Hash() {
		t.Error("Expected equal corpora to hash equally")
	}

	swapped := Corpus{FileNames: []string{"y", "x"}, Texts: []string{"Y", "X"}}
	if a.Hash() == swapped.Hash() {
		t.Error("Expected order to change the hash")
	}

	// Boundaries between name and text must not collide.
	c1 := Corpus{FileNames: []string{"ab"}, Texts: []string{"c"}}
	c2 := Corpus{FileNames: []string{"a"}, Texts: []string{"bc"}}
	if c1.Hash() == c2.Hash() {
		t.Error("Expected separator to disambiguate name/text boundary")
	}
}

func TestMetadataRecordFields(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	ok := MetadataRecord{SizeBytes: 42, Created: &ts, Modified: &ts, Accessed: &ts}
	f := ok.Fields()
	if f["size_bytes"] != int64(42) {
		t.Errorf("Expected size_bytes 42, got %v", f["size_bytes"])
	}
	if f["modified"] != "2024-03-01T12:30:00Z" {
		t.Errorf("Unexpected modified rendering %v", f["modified"])
	}
	if _, has := f["error"]; has {
		t.Error("Did not expect an error key on a successful record")
	}

	bad := MetadataRecord{Error: "permission denied"}
	f = bad.Fields()
	if len(f) != 1 || f["error"] != "permission denied" {
		t.Errorf("Expected only the error field, got %v", f)
	}
}

func TestTreeNodeLazyMaps(t *testing.T) {
	n := &TreeNode{}
	if n.Files != nil || n.Subdirs != nil {
		t.Fatal("Expected nil maps on a fresh node")
	}
	c := n.Child("docs")
	if n.Child("docs") != c {
		t.Error("Expected Child to return the existing node")
	}
	n.AddFile("a.txt", MetadataRecord{SizeBytes: 1})
	if len(n.Files) != 1 {
		t.Errorf("Expected 1 file, got %d", len(n.Files))
	}
}
