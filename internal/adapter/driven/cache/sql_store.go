package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var migrations = map[string]string{
	DriverPostgres: `
CREATE TABLE IF NOT EXISTS cost_cache (
    cache_key   TEXT PRIMARY KEY,
    payload     BYTEA NOT NULL,
    stored_at   BIGINT NOT NULL,
    ttl_minutes INTEGER NOT NULL
);`,
	DriverSQLite: `
CREATE TABLE IF NOT EXISTS cost_cache (
    cache_key   TEXT PRIMARY KEY,
    payload     BLOB NOT NULL,
    stored_at   INTEGER NOT NULL,
    ttl_minutes INTEGER NOT NULL
);`,
}

type cacheRow struct {
	Key        string `db:"cache_key"`
	Payload    []byte `db:"payload"`
	StoredAt   int64  `db:"stored_at"`
	TTLMinutes int    `db:"ttl_minutes"`
}

func (r cacheRow) entry() entity.CacheEntry {
	return entity.CacheEntry{
		Key:        r.Key,
		Payload:    r.Payload,
		StoredAt:   time.UnixMilli(r.StoredAt),
		TTLMinutes: r.TTLMinutes,
	}
}

// SQLStore persiste o cache na tabela cost_cache (PostgreSQL ou SQLite).
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLStore conecta ao banco e cria a tabela se necessário.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	migration, ok := migrations[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported cache driver: %s", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, unavailable("connect", err)
	}

	if driver == DriverSQLite {
		// Cada conexão SQLite em memória é um banco separado.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, unavailable("migrate", err)
	}

	return &SQLStore{db: db, now: time.Now}, nil
}

// WithClock substitui o relógio usado para expiração.
func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

// Close fecha a conexão com o banco.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row cacheRow
	query := s.db.Rebind(`SELECT cache_key, payload, stored_at, ttl_minutes FROM cost_cache WHERE cache_key = ?`)
	if err := s.db.GetContext(ctx, &row, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, unavailable("get", err)
	}

	if row.entry().Expired(s.now()) {
		s.deleteStale(ctx, row)
		return nil, false, nil
	}
	return row.Payload, true, nil
}

// deleteStale remove a entrada expirada lida, salvo se ela já foi substituída.
func (s *SQLStore) deleteStale(ctx context.Context, row cacheRow) {
	query := s.db.Rebind(`DELETE FROM cost_cache WHERE cache_key = ? AND stored_at = ?`)
	_, _ = s.db.ExecContext(ctx, query, row.Key, row.StoredAt)
}

func (s *SQLStore) Put(ctx context.Context, key string, payload []byte, ttlMinutes int) error {
	if ttlMinutes <= 0 {
		return nil
	}
	query := s.db.Rebind(`
		INSERT INTO cost_cache (cache_key, payload, stored_at, ttl_minutes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = excluded.payload,
			stored_at = excluded.stored_at,
			ttl_minutes = excluded.ttl_minutes
	`)
	if _, err := s.db.ExecContext(ctx, query, key, payload, s.now().UnixMilli(), ttlMinutes); err != nil {
		return unavailable("put", err)
	}
	return nil
}

func (s *SQLStore) Evict(ctx context.Context, key string) error {
	query := s.db.Rebind(`DELETE FROM cost_cache WHERE cache_key = ?`)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return unavailable("evict", err)
	}
	return nil
}

// EvictPrefix compara o prefixo literalmente; LIKE trataria '%' e '_' como curingas.
func (s *SQLStore) EvictPrefix(ctx context.Context, prefix string) error {
	query := s.db.Rebind(`DELETE FROM cost_cache WHERE substr(cache_key, 1, ?) = ?`)
	if _, err := s.db.ExecContext(ctx, query, utf8.RuneCountInString(prefix), prefix); err != nil {
		return unavailable("evict prefix", err)
	}
	return nil
}

// PurgeExpired remove todas as entradas vencidas e retorna quantas foram apagadas.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	query := s.db.Rebind(`DELETE FROM cost_cache WHERE stored_at + ttl_minutes * 60000 <= ?`)
	res, err := s.db.ExecContext(ctx, query, s.now().UnixMilli())
	if err != nil {
		return 0, unavailable("purge", err)
	}
	return res.RowsAffected()
}
