package interfaces

import (
	"context"

	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

// NodeStore persists story nodes. Missing or out-of-scope ids yield models.ErrNotFound.
type NodeStore interface {
	CreateNode(ctx context.Context, node *models.StoryNode) error
	GetNode(ctx context.Context, id string) (*models.StoryNode, error)
	// ListNodes returns every node of the saga ordered by chapter number then creation time.
	ListNodes(ctx context.Context, sagaID string) ([]*models.StoryNode, error)
	UpdateNode(ctx context.Context, id string, patch models.NodePatch) (*models.StoryNode, error)
	DeleteNode(ctx context.Context, scope models.Scope, id string) error
	DeleteNodes(ctx context.Context, scope models.Scope, ids []string) (int, error)
	DeleteSagaNodes(ctx context.Context, scope models.Scope) (int, error)
	// Reparent moves every child of fromParentID under newParentID (nil makes them roots).
	Reparent(ctx context.Context, scope models.Scope, fromParentID string, newParentID *string) (int, error)
}

// Transactor is implemented by stores that can run several mutations atomically.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx NodeStore) error) error
}

// SagaStore persists sagas.
type SagaStore interface {
	CreateSaga(ctx context.Context, saga *models.Saga) error
	GetSaga(ctx context.Context, id string) (*models.Saga, error)
	ListSagas(ctx context.Context, userID string) ([]*models.Saga, error)
	UpdateSaga(ctx context.Context, id string, patch models.SagaPatch) (*models.Saga, error)
	DeleteSaga(ctx context.Context, id string) error
}

// Store bundles both repositories, as every backend provides them together.
type Store interface {
	NodeStore
	SagaStore
	Close() error
}

// Locker grants exclusive generation rights on a key.
type Locker interface {
	// TryLock returns a release func, or ok=false when the key is held elsewhere.
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}
