package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// MetadataRecord is the captured stat information for one file or directory.
// When the stat call fails only Error is set.
type MetadataRecord struct {
	SizeBytes int64      `bson:"size_bytes" json:"size_bytes"`
	Created   *time.Time `bson:"created,omitempty" json:"created,omitempty"`
	Modified  *time.Time `bson:"modified,omitempty" json:"modified,omitempty"`
	Accessed  *time.Time `bson:"accessed,omitempty" json:"accessed,omitempty"`
	Error     string     `bson:"error,omitempty" json:"error,omitempty"`
}

// Failed reports whether the record holds a capture error instead of metadata.
func (m MetadataRecord) Failed() bool { return m.Error != "" }

// Fields returns the record as a flat key/value view, used for rendering.
func (m MetadataRecord) Fields() map[string]any {
	if m.Failed() {
		return map[string]any{"error": m.Error}
	}
	return map[string]any{
		"size_bytes": m.SizeBytes,
		"created":    formatTime(m.Created),
		"modified":   formatTime(m.Modified),
		"accessed":   formatTime(m.Accessed),
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// TreeNode is one directory of a scan. Children are owned by their parent.
type TreeNode struct {
	Path     string                    `bson:"path,omitempty" json:"path,omitempty"`
	Metadata *MetadataRecord           `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Files    map[string]MetadataRecord `bson:"files,omitempty" json:"files,omitempty"`
	Subdirs  map[string]*TreeNode      `bson:"subdirs,omitempty" json:"subdirs,omitempty"`
}

// Child returns the named subdirectory node, creating it if needed.
func (n *TreeNode) Child(name string) *TreeNode {
	if n.Subdirs == nil {
		n.Subdirs = make(map[string]*TreeNode)
	}
	c, ok := n.Subdirs[name]
	if !ok {
		c = &TreeNode{}
		n.Subdirs[name] = c
	}
	return c
}

// AddFile records a file entry in this directory.
func (n *TreeNode) AddFile(name string, md MetadataRecord) {
	if n.Files == nil {
		n.Files = make(map[string]MetadataRecord)
	}
	n.Files[name] = md
}

// Document is a retrievable unit derived from one directory or one file.
type Document struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// Corpus holds documents as two parallel sequences. Position i of an index
// built over the corpus corresponds to Texts[i].
type Corpus struct {
	FileNames []string `json:"file_names"`
	Texts     []string `json:"texts"`
}

// Append adds documents at the end of the corpus.
func (c *Corpus) Append(docs ...Document) {
	for _, d := range docs {
		c.FileNames = append(c.FileNames, d.Path)
		c.Texts = append(c.Texts, d.Text)
	}
}

// Len returns the number of documents.
func (c Corpus) Len() int { return len(c.Texts) }

// Valid reports whether pos addresses a document of this corpus.
func (c Corpus) Valid(pos int) bool { return pos >= 0 && pos < len(c.Texts) }

// Hash returns a hex sha256 over the ordered (file name, text) pairs.
func (c Corpus) Hash() string {
	h := sha256.New()
	for i, t := range c.Texts {
		name := ""
		if i < len(c.FileNames) {
			name = c.FileNames[i]
		}
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SearchResult is one retrieved document.
type SearchResult struct {
	Position int     `json:"position"`
	Path     string  `json:"path"`
	Text     string  `json:"text"`
	Distance float64 `json:"distance"`
}
