package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/domain/repository"
)

// CacheUseCase invalida relatórios em cache, por exemplo quando uma conta é
// conectada ou removida.
type CacheUseCase struct {
	accounts repository.AccountRepository
	cache    repository.CacheStore
	logger   zerolog.Logger
}

// NewCacheUseCase cria o caso de uso de invalidação.
func NewCacheUseCase(accounts repository.AccountRepository, cache repository.CacheStore, logger zerolog.Logger) *CacheUseCase {
	return &CacheUseCase{accounts: accounts, cache: cache, logger: logger}
}

// EvictAccount remove os relatórios da conta e de todos os grupos que a contêm.
// Ids de grupo removem apenas os relatórios do próprio grupo.
func (uc *CacheUseCase) EvictAccount(ctx context.Context, accountID string) ([]string, error) {
	if _, err := uc.accounts.Resolve(accountID); err != nil {
		return nil, err
	}

	prefixes := []string{entity.AccountCachePrefix(accountID)}
	for _, group := range uc.accounts.GroupsContaining(accountID) {
		prefixes = append(prefixes, entity.AccountCachePrefix(group))
	}

	for _, prefix := range prefixes {
		if err := uc.cache.EvictPrefix(ctx, prefix); err != nil {
			return nil, fmt.Errorf("evicting %s: %w", prefix, err)
		}
	}
	uc.logger.Info().Str("account", accountID).Strs("prefixes", prefixes).Msg("cache evicted")
	return prefixes, nil
}

// EvictAll remove todos os relatórios em cache.
func (uc *CacheUseCase) EvictAll(ctx context.Context) error {
	if err := uc.cache.EvictPrefix(ctx, entity.CacheNamespace); err != nil {
		return fmt.Errorf("evicting all reports: %w", err)
	}
	uc.logger.Info().Msg("all cached reports evicted")
	return nil
}
