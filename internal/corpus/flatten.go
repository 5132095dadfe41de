package corpus

import (
	"encoding/json"
	"path/filepath"
	"sort"

	"github.com/seanblong/metasearch/pkg/models"
)

const (
	directoryLabel = "Directory: "
	fileLabel      = "File: "
	metadataLabel  = "Metadata: "
)

// Flatten renders node and everything below it as documents: the node's
// own directory first, then its files, then each subdirectory in turn.
// Files and subdirectories are taken in ascending name order so the output
// is stable across runs.
func Flatten(node *models.TreeNode, prefix string) []models.Document {
	if node == nil {
		return nil
	}
	var docs []models.Document

	if node.Metadata != nil {
		p := node.Path
		if p == "" {
			p = prefix
		}
		docs = append(docs, models.Document{Path: p, Text: directoryLabel + p})
	}

	for _, name := range sortedKeys(node.Files) {
		p := join(prefix, name)
		docs = append(docs, models.Document{
			Path: p,
			Text: fileLabel + p + "\n" + metadataLabel + RenderMetadata(node.Files[name]),
		})
	}

	for _, name := range sortedKeys(node.Subdirs) {
		docs = append(docs, Flatten(node.Subdirs[name], join(prefix, name))...)
	}
	return docs
}

// RenderMetadata encodes a record as JSON with sorted keys.
func RenderMetadata(md models.MetadataRecord) string {
	b, err := json.Marshal(md.Fields())
	if err != nil {
		return "{}"
	}
	return string(b)
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + string(filepath.Separator) + name
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
