package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

// DeleteResult describes the outcome of a delete request.
type DeleteResult struct {
	DeletedCount int    `json:"deletedCount"`
	Reparented   int    `json:"reparented,omitempty"`
	Message      string `json:"message"`
}

// Manager enforces the forest invariants on top of a NodeStore and keeps the
// optional chapter index in step with it.
type Manager struct {
	store  interfaces.NodeStore
	index  interfaces.ChapterIndex
	logger *slog.Logger
}

// NewManager builds a manager. index may be nil.
func NewManager(store interfaces.NodeStore, index interfaces.ChapterIndex, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		index:  index,
		logger: logger.With("component", "timeline"),
	}
}

// Attach validates and persists a new node.
func (m *Manager) Attach(ctx context.Context, node *models.StoryNode) error {
	if err := m.checkAttach(ctx, node); err != nil {
		return err
	}
	if err := m.store.CreateNode(ctx, node); err != nil {
		return fmt.Errorf("failed to attach node: %w", err)
	}
	m.reindex(ctx, node)
	return nil
}

func (m *Manager) checkAttach(ctx context.Context, node *models.StoryNode) error {
	if node.ID == "" || node.SagaID == "" {
		return models.Invalid("node", "id and sagaId are required")
	}
	if strings.TrimSpace(node.Content) == "" {
		return models.Invalid("content", "is required")
	}

	if node.ParentID == nil {
		if node.ChapterNumber != 1 {
			return models.Invalid("chapterNumber", "a root node must be chapter 1, got %d", node.ChapterNumber)
		}
		return nil
	}

	parent, err := m.store.GetNode(ctx, *node.ParentID)
	if errors.Is(err, models.ErrNotFound) {
		return models.Invalid("parentId", "parent %s does not exist", *node.ParentID)
	}
	if err != nil {
		return err
	}
	if parent.SagaID != node.SagaID {
		return models.Invalid("parentId", "parent belongs to another saga")
	}
	if parent.Status.Terminal() {
		return models.ErrTerminalNode
	}

	want := parent.ChapterNumber + 1
	if node.Status.Terminal() {
		want = parent.ChapterNumber
	}
	if node.ChapterNumber != want {
		return models.Invalid("chapterNumber", "expected %d after chapter %d, got %d", want, parent.ChapterNumber, node.ChapterNumber)
	}
	return nil
}

// Get returns a node when it falls inside scope.
func (m *Manager) Get(ctx context.Context, scope models.Scope, id string) (*models.StoryNode, error) {
	node, err := m.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if !scope.Owns(node) {
		return nil, models.ErrNotFound
	}
	return node, nil
}

// List returns every node of a saga in chapter order.
func (m *Manager) List(ctx context.Context, sagaID string) ([]*models.StoryNode, error) {
	return m.store.ListNodes(ctx, sagaID)
}

// Children returns the direct children of id.
func (m *Manager) Children(ctx context.Context, scope models.Scope, id string) ([]*models.StoryNode, error) {
	if _, err := m.Get(ctx, scope, id); err != nil {
		return nil, err
	}
	nodes, err := m.scopedNodes(ctx, scope)
	if err != nil {
		return nil, err
	}
	children := ChildIndex(nodes)[id]
	if children == nil {
		children = []*models.StoryNode{}
	}
	return children, nil
}

// Path returns the branch from its root down to id.
func (m *Manager) Path(ctx context.Context, scope models.Scope, id string) ([]*models.StoryNode, error) {
	if _, err := m.Get(ctx, scope, id); err != nil {
		return nil, err
	}
	nodes, err := m.scopedNodes(ctx, scope)
	if err != nil {
		return nil, err
	}
	return PathToRoot(nodes, id)
}

// Timeline returns the saga's forest.
func (m *Manager) Timeline(ctx context.Context, scope models.Scope) ([]*Branch, error) {
	nodes, err := m.scopedNodes(ctx, scope)
	if err != nil {
		return nil, err
	}
	return BuildForest(nodes), nil
}

// Rewrite replaces a node's generated content in place. Identity, parent and
// chapter number are untouched.
func (m *Manager) Rewrite(ctx context.Context, scope models.Scope, id string, patch models.NodePatch) (*models.StoryNode, error) {
	if _, err := m.Get(ctx, scope, id); err != nil {
		return nil, err
	}
	node, err := m.store.UpdateNode(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite node: %w", err)
	}
	m.reindex(ctx, node)
	return node, nil
}

// Delete removes one node. Without deleteChildren its children move up to its
// parent, or become roots when it was a root. With deleteChildren the whole
// subtree is removed.
func (m *Manager) Delete(ctx context.Context, scope models.Scope, id string, deleteChildren bool) (*DeleteResult, error) {
	node, err := m.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	var result *DeleteResult
	var removed []string
	if deleteChildren {
		nodes, err := m.scopedNodes(ctx, scope)
		if err != nil {
			return nil, err
		}
		ids := append([]string{id}, Descendants(nodes, id)...)
		n, err := m.store.DeleteNodes(ctx, scope, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to delete subtree: %w", err)
		}
		removed = ids
		result = &DeleteResult{
			DeletedCount: n,
			Message:      fmt.Sprintf("Deleted node and %d descendants", n-1),
		}
	} else {
		var moved int
		err := m.inTx(ctx, func(tx interfaces.NodeStore) error {
			var err error
			if moved, err = tx.Reparent(ctx, scope, id, node.ParentID); err != nil {
				return err
			}
			return tx.DeleteNode(ctx, scope, id)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to delete node: %w", err)
		}
		removed = []string{id}
		result = &DeleteResult{
			DeletedCount: 1,
			Reparented:   moved,
			Message:      fmt.Sprintf("Deleted node; %d children reattached", moved),
		}
	}

	m.logger.Info("deleted nodes", "saga", scope.SagaID, "node", id, "count", result.DeletedCount, "subtree", deleteChildren)
	if m.index != nil {
		if err := m.index.Remove(ctx, removed); err != nil {
			m.logger.Warn("failed to remove chapters from index", "error", err)
		}
	}
	return result, nil
}

// DeleteAll removes every node of the saga inside scope.
func (m *Manager) DeleteAll(ctx context.Context, scope models.Scope) (*DeleteResult, error) {
	n, err := m.store.DeleteSagaNodes(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to delete saga nodes: %w", err)
	}
	if m.index != nil {
		if err := m.index.RemoveSaga(ctx, scope.SagaID); err != nil {
			m.logger.Warn("failed to clear saga from index", "error", err)
		}
	}
	m.logger.Info("deleted all nodes", "saga", scope.SagaID, "count", n)
	return &DeleteResult{DeletedCount: n, Message: fmt.Sprintf("Deleted %d nodes", n)}, nil
}

func (m *Manager) scopedNodes(ctx context.Context, scope models.Scope) ([]*models.StoryNode, error) {
	nodes, err := m.store.ListNodes(ctx, scope.SagaID)
	if err != nil {
		return nil, err
	}
	out := nodes[:0]
	for _, n := range nodes {
		if scope.Owns(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *Manager) inTx(ctx context.Context, fn func(tx interfaces.NodeStore) error) error {
	if t, ok := m.store.(interfaces.Transactor); ok {
		return t.InTx(ctx, fn)
	}
	return fn(m.store)
}

func (m *Manager) reindex(ctx context.Context, node *models.StoryNode) {
	if m.index == nil {
		return
	}
	if err := m.index.Index(ctx, node); err != nil {
		m.logger.Warn("failed to index chapter", "node", node.ID, "error", err)
	}
}
