package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

// MemoryStore keeps sagas and nodes in process memory. Every value crossing the
// boundary is copied.
type MemoryStore struct {
	mu    sync.RWMutex
	sagas map[string]*models.Saga
	nodes map[string]*models.StoryNode
}

var _ interfaces.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sagas: make(map[string]*models.Saga),
		nodes: make(map[string]*models.StoryNode),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateSaga(ctx context.Context, saga *models.Saga) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sagas[saga.ID]; ok {
		return fmt.Errorf("saga %s already exists", saga.ID)
	}
	c := *saga
	s.sagas[saga.ID] = &c
	return nil
}

func (s *MemoryStore) GetSaga(ctx context.Context, id string) (*models.Saga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saga, ok := s.sagas[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *saga
	return &c, nil
}

func (s *MemoryStore) ListSagas(ctx context.Context, userID string) ([]*models.Saga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Saga, 0)
	for _, saga := range s.sagas {
		if userID == "" || saga.UserID == userID {
			c := *saga
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateSaga(ctx context.Context, id string, patch models.SagaPatch) (*models.Saga, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saga, ok := s.sagas[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	patch.Apply(saga)
	saga.UpdatedAt = time.Now()
	c := *saga
	return &c, nil
}

func (s *MemoryStore) DeleteSaga(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sagas[id]; !ok {
		return models.ErrNotFound
	}
	delete(s.sagas, id)
	return nil
}

func (s *MemoryStore) CreateNode(ctx context.Context, node *models.StoryNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[node.ID]; ok {
		return fmt.Errorf("node %s already exists", node.ID)
	}
	s.nodes[node.ID] = node.Clone()
	return nil
}

func (s *MemoryStore) GetNode(ctx context.Context, id string) (*models.StoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return node.Clone(), nil
}

func (s *MemoryStore) ListNodes(ctx context.Context, sagaID string) ([]*models.StoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.StoryNode, 0)
	for _, node := range s.nodes {
		if node.SagaID == sagaID {
			out = append(out, node.Clone())
		}
	}
	SortNodes(out)
	return out, nil
}

func (s *MemoryStore) UpdateNode(ctx context.Context, id string, patch models.NodePatch) (*models.StoryNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	patch.Apply(node)
	return node.Clone(), nil
}

func (s *MemoryStore) DeleteNode(ctx context.Context, scope models.Scope, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !scope.Owns(s.nodes[id]) {
		return models.ErrNotFound
	}
	delete(s.nodes, id)
	return nil
}

func (s *MemoryStore) DeleteNodes(ctx context.Context, scope models.Scope, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if scope.Owns(s.nodes[id]) {
			delete(s.nodes, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) DeleteSagaNodes(ctx context.Context, scope models.Scope) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, node := range s.nodes {
		if scope.Owns(node) {
			delete(s.nodes, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Reparent(ctx context.Context, scope models.Scope, fromParentID string, newParentID *string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := 0
	for _, node := range s.nodes {
		if scope.Owns(node) && node.ParentKey() == fromParentID {
			if newParentID == nil {
				node.ParentID = nil
			} else {
				node.ParentID = models.StringPtr(*newParentID)
			}
			moved++
		}
	}
	return moved, nil
}

// SortNodes orders nodes by chapter number, then creation time, then id.
func SortNodes(nodes []*models.StoryNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.ChapterNumber != b.ChapterNumber {
			return a.ChapterNumber < b.ChapterNumber
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
