package cache

import (
	"context"
	"fmt"

	"github.com/diillson/cloud-finops-engine/internal/domain/repository"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

// Store é um CacheStore que precisa ser fechado ao final.
type Store interface {
	repository.CacheStore
	PurgeExpired(ctx context.Context) (int64, error)
	Close() error
}

// Close não faz nada; existe para satisfazer Store.
func (s *MemoryStore) Close() error { return nil }

// NewStore cria o backend configurado em cfg.Backend.
func NewStore(cfg types.CacheConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("cache backend postgres requires a dsn")
		}
		return NewSQLStore(DriverPostgres, cfg.DSN)
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		return NewSQLStore(DriverSQLite, dsn)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}
