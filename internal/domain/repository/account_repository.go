package repository

import "github.com/diillson/cloud-finops-engine/internal/domain/entity"

// AccountRepository resolve as contas e grupos conhecidos.
type AccountRepository interface {
	List() []entity.AccountRef
	// Resolve retorna a conta ou os membros do grupo id; ids desconhecidos
	// retornam types.ErrInvalidRequest.
	Resolve(id string) (entity.AccountGroup, error)
	// GroupsContaining lista os grupos dos quais a conta faz parte.
	GroupsContaining(accountID string) []string
}
