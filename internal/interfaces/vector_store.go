package interfaces

import (
	"context"

	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

// ChapterHit is one search result over a saga's chapters.
type ChapterHit struct {
	NodeID        string  `json:"nodeId"`
	ChapterNumber int     `json:"chapterNumber"`
	Summary       string  `json:"summary"`
	Score         float64 `json:"score"`
}

// ChapterIndex keeps a searchable copy of chapter summaries.
type ChapterIndex interface {
	// Index adds or replaces the entry for node.
	Index(ctx context.Context, node *models.StoryNode) error

	// Remove drops the entries with the given node ids.
	Remove(ctx context.Context, nodeIDs []string) error

	// RemoveSaga drops every entry of a saga.
	RemoveSaga(ctx context.Context, sagaID string) error

	// Search returns at most limit hits ordered by descending score.
	Search(ctx context.Context, sagaID, query string, limit int) ([]ChapterHit, error)
}
