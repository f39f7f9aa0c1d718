package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Varun-Patkar/RebirthRealm/internal/config"
	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

// MySQLStore persists sagas and nodes through gorm.
type MySQLStore struct {
	db *gorm.DB
}

var (
	_ interfaces.Store      = (*MySQLStore)(nil)
	_ interfaces.Transactor = (*MySQLStore)(nil)
)

func NewMySQLStore(cfg config.MySQLConfig) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&models.Saga{}, &models.StoryNode{}); err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InTx runs fn inside a gorm transaction.
func (s *MySQLStore) InTx(ctx context.Context, fn func(tx interfaces.NodeStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&MySQLStore{db: tx})
	})
}

func (s *MySQLStore) CreateSaga(ctx context.Context, saga *models.Saga) error {
	if err := s.db.WithContext(ctx).Create(saga).Error; err != nil {
		return fmt.Errorf("failed to create saga: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetSaga(ctx context.Context, id string) (*models.Saga, error) {
	var saga models.Saga
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&saga).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load saga: %w", err)
	}
	return &saga, nil
}

func (s *MySQLStore) ListSagas(ctx context.Context, userID string) ([]*models.Saga, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	sagas := make([]*models.Saga, 0)
	if err := q.Find(&sagas).Error; err != nil {
		return nil, fmt.Errorf("failed to list sagas: %w", err)
	}
	return sagas, nil
}

func (s *MySQLStore) UpdateSaga(ctx context.Context, id string, patch models.SagaPatch) (*models.Saga, error) {
	saga, err := s.GetSaga(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(saga)
	saga.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(saga).Error; err != nil {
		return nil, fmt.Errorf("failed to update saga: %w", err)
	}
	return saga, nil
}

func (s *MySQLStore) DeleteSaga(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Saga{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete saga: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *MySQLStore) CreateNode(ctx context.Context, node *models.StoryNode) error {
	if err := s.db.WithContext(ctx).Create(node).Error; err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetNode(ctx context.Context, id string) (*models.StoryNode, error) {
	var node models.StoryNode
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load node: %w", err)
	}
	return &node, nil
}

func (s *MySQLStore) ListNodes(ctx context.Context, sagaID string) ([]*models.StoryNode, error) {
	nodes := make([]*models.StoryNode, 0)
	err := s.db.WithContext(ctx).
		Where("saga_id = ?", sagaID).
		Order("chapter_number ASC").Order("created_at ASC").Order("id ASC").
		Find(&nodes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return nodes, nil
}

func (s *MySQLStore) UpdateNode(ctx context.Context, id string, patch models.NodePatch) (*models.StoryNode, error) {
	node, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(node)
	err = s.db.WithContext(ctx).Model(node).
		Select("content", "summary", "outline").
		Updates(node).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update node: %w", err)
	}
	return node, nil
}

func (s *MySQLStore) DeleteNode(ctx context.Context, scope models.Scope, id string) error {
	res := s.scoped(ctx, scope).Where("id = ?", id).Delete(&models.StoryNode{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete node: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *MySQLStore) DeleteNodes(ctx context.Context, scope models.Scope, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.scoped(ctx, scope).Where("id IN ?", ids).Delete(&models.StoryNode{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete nodes: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *MySQLStore) DeleteSagaNodes(ctx context.Context, scope models.Scope) (int, error) {
	res := s.scoped(ctx, scope).Delete(&models.StoryNode{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete saga nodes: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *MySQLStore) Reparent(ctx context.Context, scope models.Scope, fromParentID string, newParentID *string) (int, error) {
	res := s.scoped(ctx, scope).Model(&models.StoryNode{}).
		Where("parent_id = ?", fromParentID).
		Update("parent_id", newParentID)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reparent nodes: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *MySQLStore) scoped(ctx context.Context, scope models.Scope) *gorm.DB {
	q := s.db.WithContext(ctx).Where("saga_id = ?", scope.SagaID)
	if scope.UserID != "" {
		q = q.Where("user_id = ?", scope.UserID)
	}
	return q
}
