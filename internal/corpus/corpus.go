package corpus

import "github.com/seanblong/metasearch/pkg/models"

// Build flattens each tree with an empty prefix and concatenates the
// results in argument order.
func Build(trees ...*models.TreeNode) models.Corpus {
	var c models.Corpus
	for _, t := range trees {
		c.Append(Flatten(t, "")...)
	}
	return c
}
