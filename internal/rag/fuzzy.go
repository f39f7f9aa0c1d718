package rag

import (
	"context"

	"github.com/sahilm/fuzzy"

	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

// FuzzyIndex searches chapter summaries straight from the node store. It keeps
// no state of its own, so Index and Remove are no-ops.
type FuzzyIndex struct {
	nodes interfaces.NodeStore
}

var _ interfaces.ChapterIndex = (*FuzzyIndex)(nil)

func NewFuzzyIndex(nodes interfaces.NodeStore) *FuzzyIndex {
	return &FuzzyIndex{nodes: nodes}
}

func (f *FuzzyIndex) Index(ctx context.Context, node *models.StoryNode) error { return nil }

func (f *FuzzyIndex) Remove(ctx context.Context, nodeIDs []string) error { return nil }

func (f *FuzzyIndex) RemoveSaga(ctx context.Context, sagaID string) error { return nil }

func (f *FuzzyIndex) Search(ctx context.Context, sagaID, query string, limit int) ([]interfaces.ChapterHit, error) {
	nodes, err := f.nodes.ListNodes(ctx, sagaID)
	if err != nil {
		return nil, err
	}

	matches := fuzzy.FindFrom(query, chapterSource(nodes))
	hits := make([]interfaces.ChapterHit, 0, len(matches))
	for _, m := range matches {
		if limit > 0 && len(hits) == limit {
			break
		}
		n := nodes[m.Index]
		hits = append(hits, interfaces.ChapterHit{
			NodeID:        n.ID,
			ChapterNumber: n.ChapterNumber,
			Summary:       n.Summary,
			Score:         float64(m.Score),
		})
	}
	return hits, nil
}

// chapterSource adapts nodes to fuzzy.Source.
type chapterSource []*models.StoryNode

func (c chapterSource) String(i int) string { return chapterText(c[i]) }

func (c chapterSource) Len() int { return len(c) }
