package repository

import (
	"context"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
)

// ProviderCostClient consulta os custos de uma conta em um provedor.
// Erros carregam um dos tipos types.ErrUnauthorized, ErrRateLimited,
// ErrUnavailable ou ErrMalformed.
type ProviderCostClient interface {
	FetchCosts(ctx context.Context, account entity.AccountRef, query entity.CostQuery) ([]entity.CostRecord, error)
}

// RegionLister é implementado pelos clientes capazes de descobrir as regiões
// acessíveis de uma conta.
type RegionLister interface {
	ListRegions(ctx context.Context, account entity.AccountRef) ([]string, error)
}

// CostFetcher executa o fan-out de consultas sobre várias contas.
type CostFetcher interface {
	FetchAll(ctx context.Context, accounts []entity.AccountRef, query entity.CostQuery) entity.PartialResult
}
