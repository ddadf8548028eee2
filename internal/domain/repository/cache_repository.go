package repository

import "context"

// CacheStore é um armazenamento chave/valor com TTL.
// Falhas de conexão envolvem types.ErrCacheUnavailable.
type CacheStore interface {
	// Get retorna o payload e true quando existe uma entrada não expirada.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, payload []byte, ttlMinutes int) error
	Evict(ctx context.Context, key string) error
	// EvictPrefix remove toda entrada cuja chave começa com prefix.
	EvictPrefix(ctx context.Context, prefix string) error
}
