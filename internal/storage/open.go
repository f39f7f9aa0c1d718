package storage

import (
	"context"
	"fmt"

	"github.com/Varun-Patkar/RebirthRealm/internal/config"
	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
)

// Open connects the configured backend.
func Open(ctx context.Context, cfg config.StorageConfig) (interfaces.Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		return OpenSQLite(cfg.SQLite.Path)
	case "mysql":
		return NewMySQLStore(cfg.MySQL)
	case "mongo":
		return NewMongoStore(ctx, cfg.Mongo)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
