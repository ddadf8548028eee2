// Package cache implementa o Cache Store de relatórios em memória e em SQL.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
)

// MemoryStore mantém as entradas em um map protegido por RWMutex.
// Entradas expiradas são descartadas na leitura.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entity.CacheEntry
	now     func() time.Time
}

// NewMemoryStore cria um store vazio.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entity.CacheEntry),
		now:     time.Now,
	}
}

// WithClock substitui o relógio usado para expiração.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, unavailable("get", err)
	}

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if entry.Expired(s.now()) {
		s.mu.Lock()
		if current, still := s.entries[key]; still && current.StoredAt.Equal(entry.StoredAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}

	payload := make([]byte, len(entry.Payload))
	copy(payload, entry.Payload)
	return payload, true, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, payload []byte, ttlMinutes int) error {
	if err := ctx.Err(); err != nil {
		return unavailable("put", err)
	}
	if ttlMinutes <= 0 {
		return nil
	}

	stored := make([]byte, len(payload))
	copy(stored, payload)

	s.mu.Lock()
	s.entries[key] = entity.CacheEntry{Key: key, Payload: stored, StoredAt: s.now(), TTLMinutes: ttlMinutes}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Evict(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("evict", err)
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) EvictPrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("evict prefix", err)
	}
	s.mu.Lock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
	return nil
}

// Len retorna o número de entradas, incluindo as expiradas ainda não lidas.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// PurgeExpired remove todas as entradas vencidas e retorna quantas foram apagadas.
func (s *MemoryStore) PurgeExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("purge", err)
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			purged++
		}
	}
	return purged, nil
}
