package scanner

import (
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/metasearch/pkg/models"
)

// BuildTree assembles walker entries into a tree rooted at root. The root
// directory fills the returned node; every other directory hangs off it by
// its relative path segments.
func BuildTree(root string, entries []Entry) *models.TreeNode {
	tree := &models.TreeNode{}

	for _, e := range entries {
		if e.IsDir {
			rel, ok := relative(root, e.Path)
			if !ok {
				log.Warn().Str("path", e.Path).Str("root", root).Msg("directory outside scan root")
				continue
			}
			node := nodeAt(tree, rel)
			if node.Metadata == nil {
				md := e.Metadata
				node.Path = e.Path
				node.Metadata = &md
			}
			continue
		}

		rel, ok := relative(root, filepath.Dir(e.Path))
		if !ok {
			log.Warn().Str("path", e.Path).Str("root", root).Msg("file outside scan root")
			continue
		}
		nodeAt(tree, rel).AddFile(filepath.Base(e.Path), e.Metadata)
	}
	return tree
}

func relative(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func nodeAt(tree *models.TreeNode, rel string) *models.TreeNode {
	if rel == "." {
		return tree
	}
	node := tree
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		node = node.Child(part)
	}
	return node
}
