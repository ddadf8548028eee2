package repository

import (
	"context"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
)

// BudgetRepository lê os orçamentos configurados de uma conta.
type BudgetRepository interface {
	GetBudgets(ctx context.Context, account entity.AccountRef) ([]entity.BudgetStatus, error)
}
