package config

import (
	"sort"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

// AccountRepositoryImpl resolve contas e grupos declarados na configuração.
type AccountRepositoryImpl struct {
	accounts []entity.AccountRef
	byID     map[string]entity.AccountRef
	groups   map[string][]string
}

// NewAccountRepository indexa as contas e grupos de cfg.
func NewAccountRepository(cfg *types.Config) *AccountRepositoryImpl {
	r := &AccountRepositoryImpl{
		accounts: append([]entity.AccountRef(nil), cfg.Accounts...),
		byID:     make(map[string]entity.AccountRef, len(cfg.Accounts)),
		groups:   make(map[string][]string, len(cfg.Groups)),
	}
	for _, account := range cfg.Accounts {
		r.byID[account.ID] = account
	}
	for group, members := range cfg.Groups {
		r.groups[group] = append([]string(nil), members...)
	}
	return r
}

func (r *AccountRepositoryImpl) List() []entity.AccountRef {
	return append([]entity.AccountRef(nil), r.accounts...)
}

func (r *AccountRepositoryImpl) Resolve(id string) (entity.AccountGroup, error) {
	if account, ok := r.byID[id]; ok {
		return entity.AccountGroup{ID: id, Accounts: []entity.AccountRef{account}}, nil
	}

	members, ok := r.groups[id]
	if !ok {
		return entity.AccountGroup{}, types.InvalidRequestf("unknown account or group %q", id)
	}
	group := entity.AccountGroup{ID: id}
	for _, member := range members {
		account, ok := r.byID[member]
		if !ok {
			return entity.AccountGroup{}, types.InvalidRequestf("group %q references unknown account %q", id, member)
		}
		group.Accounts = append(group.Accounts, account)
	}
	return group, nil
}

func (r *AccountRepositoryImpl) GroupsContaining(accountID string) []string {
	var groups []string
	for group, members := range r.groups {
		for _, member := range members {
			if member == accountID {
				groups = append(groups, group)
				break
			}
		}
	}
	sort.Strings(groups)
	return groups
}
