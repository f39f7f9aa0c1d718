// Package rag keeps a searchable index of chapter summaries.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/Varun-Patkar/RebirthRealm/internal/config"
	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

const (
	payloadSagaID  = "saga_id"
	payloadNodeID  = "node_id"
	payloadChapter = "chapter"
	payloadSummary = "summary"
)

// QdrantIndex stores one embedded point per chapter in a Qdrant collection.
type QdrantIndex struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
	vectorSize uint64
	logger     *slog.Logger
}

var _ interfaces.ChapterIndex = (*QdrantIndex)(nil)

// NewQdrantIndex connects to Qdrant and creates the collection when missing.
func NewQdrantIndex(ctx context.Context, cfg config.QdrantConfig, embedder Embedder, logger *slog.Logger) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	idx := &QdrantIndex{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
		vectorSize: uint64(cfg.VectorSize),
		logger:     logger.With("component", "qdrant"),
	}
	if err := idx.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", q.collection, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", q.collection, err)
	}
	q.logger.Info("created collection", "collection", q.collection, "size", q.vectorSize)
	return nil
}

// pointID maps a node id onto a stable UUID, as Qdrant only accepts UUIDs and integers.
func pointID(nodeID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(nodeID)).String())
}

// chapterText is what gets embedded for a node.
func chapterText(node *models.StoryNode) string {
	parts := []string{node.Summary}
	if node.UserDecision != "" {
		parts = append(parts, node.UserDecision)
	}
	if node.StoryDirection != "" {
		parts = append(parts, node.StoryDirection)
	}
	return strings.Join(parts, "\n")
}

func (q *QdrantIndex) Index(ctx context.Context, node *models.StoryNode) error {
	vector, err := q.embedder.Embed(ctx, chapterText(node))
	if err != nil {
		return fmt.Errorf("failed to embed chapter %s: %w", node.ID, err)
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      pointID(node.ID),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadSagaID:  node.SagaID,
				payloadNodeID:  node.ID,
				payloadChapter: int64(node.ChapterNumber),
				payloadSummary: node.Summary,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert chapter %s: %w", node.ID, err)
	}
	return nil
}

func (q *QdrantIndex) Remove(ctx context.Context, nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, len(nodeIDs))
	for i, id := range nodeIDs {
		ids[i] = pointID(id)
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %d points: %w", len(ids), err)
	}
	return nil
}

func (q *QdrantIndex) RemoveSaga(ctx context.Context, sagaID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(sagaFilter(sagaID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete points of saga %s: %w", sagaID, err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, sagaID, query string, limit int) ([]interfaces.ChapterHit, error) {
	vector, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         sagaFilter(sagaID),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query chapters: %w", err)
	}

	hits := make([]interfaces.ChapterHit, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		hits = append(hits, interfaces.ChapterHit{
			NodeID:        payload[payloadNodeID].GetStringValue(),
			ChapterNumber: int(payload[payloadChapter].GetIntegerValue()),
			Summary:       payload[payloadSummary].GetStringValue(),
			Score:         float64(p.GetScore()),
		})
	}
	return hits, nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func sagaFilter(sagaID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(payloadSagaID, sagaID)},
	}
}
