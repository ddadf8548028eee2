package entity

// AllRegions indica que as regiões acessíveis da conta devem ser descobertas.
const AllRegions = "*"

// AccountRef referencia uma conta, assinatura ou projeto de um provedor.
type AccountRef struct {
	// ID é o identificador lógico usado pelos consumidores e nas chaves de cache.
	ID       string   `json:"id" yaml:"id" toml:"id"`
	Name     string   `json:"name" yaml:"name" toml:"name"`
	Provider Provider `json:"provider" yaml:"provider" toml:"provider"`

	// ExternalID é o número da conta AWS, o projeto GCP ou a assinatura Azure.
	ExternalID string `json:"external_id" yaml:"external_id" toml:"external_id"`

	// Profile é o perfil do AWS shared config usado para as credenciais.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty" toml:"profile,omitempty"`

	// Regions vazio gera uma única tarefa para a conta inteira; ["*"] descobre
	// as regiões acessíveis.
	Regions []string `json:"regions,omitempty" yaml:"regions,omitempty" toml:"regions,omitempty"`

	// Tags filtra os custos, no formato "Chave=Valor".
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty" toml:"tags,omitempty"`

	// BillingTable é a tabela BigQuery do export de billing (GCP).
	BillingTable string `json:"billing_table,omitempty" yaml:"billing_table,omitempty" toml:"billing_table,omitempty"`

	// TokenEnv é a variável de ambiente com o bearer token (GCP/Azure).
	TokenEnv string `json:"token_env,omitempty" yaml:"token_env,omitempty" toml:"token_env,omitempty"`

	CacheTTLMinutes int `json:"cache_ttl_minutes,omitempty" yaml:"cache_ttl_minutes,omitempty" toml:"cache_ttl_minutes,omitempty"`
}

// DisplayName retorna o nome amigável da conta.
func (a AccountRef) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// AccountGroup agrupa várias contas sob um único identificador de relatório.
type AccountGroup struct {
	ID       string
	Accounts []AccountRef
}

// IsGroup reports whether the target spans more than one account.
func (g AccountGroup) IsGroup() bool {
	return len(g.Accounts) > 1
}

// FailedAccount registra a falha de uma tarefa de busca de uma conta/região.
type FailedAccount struct {
	AccountID string   `json:"account_id"`
	Provider  Provider `json:"provider"`
	Region    string   `json:"region,omitempty"`
	Class     string   `json:"class"`
	Error     string   `json:"error"`
}

// PartialResult é o resultado de um fan-out que tolera falhas individuais.
type PartialResult struct {
	Records        []CostRecord    `json:"records"`
	FailedAccounts []FailedAccount `json:"failed_accounts"`
}

// Partial reports whether at least one task failed.
func (r PartialResult) Partial() bool {
	return len(r.FailedAccounts) > 0
}
