package types

import (
	"fmt"
	"time"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
)

// Config represents the application configuration that can be loaded from a file.
type Config struct {
	Accounts  []entity.AccountRef `json:"accounts" yaml:"accounts" toml:"accounts"`
	Groups    map[string][]string `json:"groups" yaml:"groups" toml:"groups"`
	Cache     CacheConfig         `json:"cache" yaml:"cache" toml:"cache"`
	Forecast  ForecastConfig      `json:"forecast" yaml:"forecast" toml:"forecast"`
	Fetch     FetchConfig         `json:"fetch" yaml:"fetch" toml:"fetch"`
	Retry     RetryConfig         `json:"retry" yaml:"retry" toml:"retry"`
	Providers ProvidersConfig     `json:"providers" yaml:"providers" toml:"providers"`
	Report    ReportConfig        `json:"report" yaml:"report" toml:"report"`
	Log       LogConfig           `json:"log" yaml:"log" toml:"log"`
	Server    ServerConfig        `json:"server" yaml:"server" toml:"server"`
}

// CacheConfig seleciona o backend do Cache Store.
type CacheConfig struct {
	// Backend: memory, postgres ou sqlite.
	Backend    string `json:"backend" yaml:"backend" toml:"backend"`
	DSN        string `json:"dsn" yaml:"dsn" toml:"dsn"`
	TTLMinutes int    `json:"ttl_minutes" yaml:"ttl_minutes" toml:"ttl_minutes"`
	// FinOpsTTLMinutes é o TTL padrão dos relatórios finops.
	FinOpsTTLMinutes int `json:"finops_ttl_minutes" yaml:"finops_ttl_minutes" toml:"finops_ttl_minutes"`
	// PartialTTLMinutes limita o TTL de relatórios montados com contas faltando.
	PartialTTLMinutes int `json:"partial_ttl_minutes" yaml:"partial_ttl_minutes" toml:"partial_ttl_minutes"`
	// RefreshIntervalMinutes agenda a reconstrução dos relatórios de cada conta
	// durante o serve. Zero desativa.
	RefreshIntervalMinutes int `json:"refresh_interval_minutes" yaml:"refresh_interval_minutes" toml:"refresh_interval_minutes"`
}

// RefreshInterval retorna o intervalo de reconstrução agendada.
func (c CacheConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMinutes) * time.Minute
}

// ForecastConfig configura o cliente do serviço de forecast.
type ForecastConfig struct {
	URL               string `json:"url" yaml:"url" toml:"url"`
	TimeoutSeconds    int    `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
	WeeklySeasonality *bool  `json:"weekly_seasonality" yaml:"weekly_seasonality" toml:"weekly_seasonality"`
	YearlySeasonality *bool  `json:"yearly_seasonality" yaml:"yearly_seasonality" toml:"yearly_seasonality"`
	MaxHistoryDays    int    `json:"max_history_days" yaml:"max_history_days" toml:"max_history_days"`
}

// Timeout retorna o timeout das chamadas ao serviço de forecast.
func (c ForecastConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// FetchConfig limita o fan-out.
type FetchConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency" toml:"max_concurrency"`
}

// Timeout retorna o timeout do fan-out inteiro.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryConfig configura o backoff exponencial dos provedores.
type RetryConfig struct {
	Attempts int     `json:"attempts" yaml:"attempts" toml:"attempts"`
	BaseMs   int     `json:"base_ms" yaml:"base_ms" toml:"base_ms"`
	Factor   float64 `json:"factor" yaml:"factor" toml:"factor"`
	Jitter   float64 `json:"jitter" yaml:"jitter" toml:"jitter"`
}

// ProviderConfig configura um provedor.
type ProviderConfig struct {
	MaxWindowDays     int     `json:"max_window_days" yaml:"max_window_days" toml:"max_window_days"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" toml:"requests_per_second"`
	Endpoint          string  `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
}

// ProvidersConfig agrupa a configuração de cada provedor.
type ProvidersConfig struct {
	AWS   ProviderConfig `json:"aws" yaml:"aws" toml:"aws"`
	GCP   ProviderConfig `json:"gcp" yaml:"gcp" toml:"gcp"`
	Azure ProviderConfig `json:"azure" yaml:"azure" toml:"azure"`
}

// ReportConfig define os padrões dos relatórios.
type ReportConfig struct {
	DefaultDays    int `json:"default_days" yaml:"default_days" toml:"default_days"`
	DefaultPeriods int `json:"default_periods" yaml:"default_periods" toml:"default_periods"`
	TopN           int `json:"top_n" yaml:"top_n" toml:"top_n"`
	HistoryMonths  int `json:"history_months" yaml:"history_months" toml:"history_months"`
}

// LogConfig configura o zerolog.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// ServerConfig configura a API HTTP.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// AllowedOrigins habilita CORS para dashboards servidos em outra origem.
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
}

// ApplyDefaults preenche os campos não informados.
func (c *Config) ApplyDefaults() {
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.TTLMinutes <= 0 {
		c.Cache.TTLMinutes = 10
	}
	if c.Cache.FinOpsTTLMinutes <= 0 {
		c.Cache.FinOpsTTLMinutes = 60
	}
	if c.Cache.PartialTTLMinutes <= 0 {
		c.Cache.PartialTTLMinutes = 1
	}

	if c.Forecast.URL == "" {
		c.Forecast.URL = "http://localhost:5002"
	}
	if c.Forecast.TimeoutSeconds <= 0 {
		c.Forecast.TimeoutSeconds = 30
	}
	if c.Forecast.WeeklySeasonality == nil {
		weekly := true
		c.Forecast.WeeklySeasonality = &weekly
	}
	if c.Forecast.YearlySeasonality == nil {
		yearly := false
		c.Forecast.YearlySeasonality = &yearly
	}
	if c.Forecast.MaxHistoryDays <= 0 {
		c.Forecast.MaxHistoryDays = 180
	}

	if c.Fetch.TimeoutSeconds <= 0 {
		c.Fetch.TimeoutSeconds = 30
	}
	if c.Fetch.MaxConcurrency <= 0 {
		c.Fetch.MaxConcurrency = 16
	}

	if c.Retry.Attempts <= 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.BaseMs <= 0 {
		c.Retry.BaseMs = 500
	}
	if c.Retry.Factor <= 0 {
		c.Retry.Factor = 2
	}
	if c.Retry.Jitter <= 0 {
		c.Retry.Jitter = 0.2
	}

	applyProviderDefaults(&c.Providers.AWS, 365, 5)
	applyProviderDefaults(&c.Providers.GCP, 90, 10)
	applyProviderDefaults(&c.Providers.Azure, 365, 2)

	if c.Report.DefaultDays <= 0 {
		c.Report.DefaultDays = 30
	}
	if c.Report.DefaultPeriods <= 0 {
		c.Report.DefaultPeriods = 7
	}
	if c.Report.TopN <= 0 {
		c.Report.TopN = 10
	}
	if c.Report.HistoryMonths <= 0 {
		c.Report.HistoryMonths = 6
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

func applyProviderDefaults(p *ProviderConfig, maxWindowDays int, rps float64) {
	if p.MaxWindowDays <= 0 {
		p.MaxWindowDays = maxWindowDays
	}
	if p.RequestsPerSecond <= 0 {
		p.RequestsPerSecond = rps
	}
}

// Validate rejeita contas duplicadas, provedores desconhecidos e grupos inválidos.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Accounts))
	for _, account := range c.Accounts {
		if account.ID == "" {
			return fmt.Errorf("account without id (name %q)", account.Name)
		}
		if seen[account.ID] {
			return fmt.Errorf("duplicate account id: %s", account.ID)
		}
		if !account.Provider.Valid() {
			return fmt.Errorf("account %s: unsupported provider %q", account.ID, account.Provider)
		}
		seen[account.ID] = true
	}

	for group, members := range c.Groups {
		if seen[group] {
			return fmt.Errorf("group %s collides with an account id", group)
		}
		if len(members) == 0 {
			return fmt.Errorf("group %s has no members", group)
		}
		for _, member := range members {
			if !seen[member] {
				return fmt.Errorf("group %s references unknown account %s", group, member)
			}
		}
	}

	switch c.Cache.Backend {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}
	if c.Cache.RefreshIntervalMinutes < 0 {
		return fmt.Errorf("cache refresh interval must not be negative: %d", c.Cache.RefreshIntervalMinutes)
	}
	return nil
}
