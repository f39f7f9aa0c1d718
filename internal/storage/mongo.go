package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Varun-Patkar/RebirthRealm/internal/config"
	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

const (
	sagaCollection = "sagas"
	nodeCollection = "storynodes"
)

// MongoStore persists sagas and nodes as documents.
type MongoStore struct {
	client *mongo.Client
	sagas  *mongo.Collection
	nodes  *mongo.Collection
}

var _ interfaces.Store = (*MongoStore)(nil)

func NewMongoStore(ctx context.Context, cfg config.MongoConfig) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &MongoStore{
		client: client,
		sagas:  db.Collection(sagaCollection),
		nodes:  db.Collection(nodeCollection),
	}

	_, err = s.nodes.Indexes().CreateMany(connectCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sagaId", Value: 1}, {Key: "chapterNumber", Value: 1}}},
		{Keys: bson.D{{Key: "parentId", Value: 1}}},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateSaga(ctx context.Context, saga *models.Saga) error {
	if _, err := s.sagas.InsertOne(ctx, saga); err != nil {
		return fmt.Errorf("failed to insert saga: %w", err)
	}
	return nil
}

func (s *MongoStore) GetSaga(ctx context.Context, id string) (*models.Saga, error) {
	var saga models.Saga
	err := s.sagas.FindOne(ctx, bson.M{"_id": id}).Decode(&saga)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load saga: %w", err)
	}
	return &saga, nil
}

func (s *MongoStore) ListSagas(ctx context.Context, userID string) ([]*models.Saga, error) {
	filter := bson.M{}
	if userID != "" {
		filter["userId"] = userID
	}
	cur, err := s.sagas.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list sagas: %w", err)
	}
	sagas := make([]*models.Saga, 0)
	if err := cur.All(ctx, &sagas); err != nil {
		return nil, fmt.Errorf("failed to decode sagas: %w", err)
	}
	return sagas, nil
}

func (s *MongoStore) UpdateSaga(ctx context.Context, id string, patch models.SagaPatch) (*models.Saga, error) {
	saga, err := s.GetSaga(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(saga)
	saga.UpdatedAt = time.Now()
	res, err := s.sagas.ReplaceOne(ctx, bson.M{"_id": id}, saga)
	if err != nil {
		return nil, fmt.Errorf("failed to update saga: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, models.ErrNotFound
	}
	return saga, nil
}

func (s *MongoStore) DeleteSaga(ctx context.Context, id string) error {
	res, err := s.sagas.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete saga: %w", err)
	}
	if res.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *MongoStore) CreateNode(ctx context.Context, node *models.StoryNode) error {
	if _, err := s.nodes.InsertOne(ctx, node); err != nil {
		return fmt.Errorf("failed to insert node: %w", err)
	}
	return nil
}

func (s *MongoStore) GetNode(ctx context.Context, id string) (*models.StoryNode, error) {
	var node models.StoryNode
	err := s.nodes.FindOne(ctx, bson.M{"_id": id}).Decode(&node)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load node: %w", err)
	}
	return &node, nil
}

func (s *MongoStore) ListNodes(ctx context.Context, sagaID string) ([]*models.StoryNode, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "chapterNumber", Value: 1},
		{Key: "createdAt", Value: 1},
		{Key: "_id", Value: 1},
	})
	cur, err := s.nodes.Find(ctx, bson.M{"sagaId": sagaID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	nodes := make([]*models.StoryNode, 0)
	if err := cur.All(ctx, &nodes); err != nil {
		return nil, fmt.Errorf("failed to decode nodes: %w", err)
	}
	return nodes, nil
}

func (s *MongoStore) UpdateNode(ctx context.Context, id string, patch models.NodePatch) (*models.StoryNode, error) {
	set := bson.M{}
	if patch.Content != nil {
		set["content"] = *patch.Content
	}
	if patch.Summary != nil {
		set["summary"] = *patch.Summary
	}
	if patch.SetOutline {
		set["outline"] = patch.Outline
	}

	var node models.StoryNode
	err := s.nodes.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&node)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update node: %w", err)
	}
	return &node, nil
}

func (s *MongoStore) DeleteNode(ctx context.Context, scope models.Scope, id string) error {
	filter := scopeFilter(scope)
	filter["_id"] = id
	res, err := s.nodes.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	if res.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteNodes(ctx context.Context, scope models.Scope, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	filter := scopeFilter(scope)
	filter["_id"] = bson.M{"$in": ids}
	res, err := s.nodes.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete nodes: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) DeleteSagaNodes(ctx context.Context, scope models.Scope) (int, error) {
	res, err := s.nodes.DeleteMany(ctx, scopeFilter(scope))
	if err != nil {
		return 0, fmt.Errorf("failed to delete saga nodes: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) Reparent(ctx context.Context, scope models.Scope, fromParentID string, newParentID *string) (int, error) {
	filter := scopeFilter(scope)
	filter["parentId"] = fromParentID

	var update bson.M
	if newParentID == nil {
		update = bson.M{"$set": bson.M{"parentId": nil}}
	} else {
		update = bson.M{"$set": bson.M{"parentId": *newParentID}}
	}
	res, err := s.nodes.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to reparent nodes: %w", err)
	}
	return int(res.MatchedCount), nil
}

func scopeFilter(scope models.Scope) bson.M {
	filter := bson.M{"sagaId": scope.SagaID}
	if scope.UserID != "" {
		filter["userId"] = scope.UserID
	}
	return filter
}
