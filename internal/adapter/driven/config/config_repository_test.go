package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

const tomlConfig = `
[[accounts]]
id = "prod"
name = "Production"
provider = "aws"
external_id = "123456789012"
profile = "prod"
regions = ["*"]
cache_ttl_minutes = 5

[[accounts]]
id = "analytics"
provider = "gcp"
external_id = "analytics-project"
billing_table = "billing.gcp_billing_export_v1"

[groups]
all = ["prod", "analytics"]

[cache]
backend = "sqlite"
dsn = "file:cache.db"
refresh_interval_minutes = 1440

[forecast]
yearly_seasonality = true
`

const yamlConfig = `
accounts:
  - id: corp
    provider: azure
    external_id: 00000000-1111
    token_env: AZURE_TOKEN
report:
  default_days: 14
log:
  format: json
`

const jsonConfig = `{
  "accounts": [{"id": "prod", "provider": "aws", "external_id": "1"}],
  "fetch": {"timeout_seconds": 5}
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestRepository(env map[string]string) *ConfigRepositoryImpl {
	return &ConfigRepositoryImpl{getenv: func(k string) string { return env[k] }}
}

func TestLoadConfigFile_Formats(t *testing.T) {
	repo := newTestRepository(nil)

	cfg, err := repo.LoadConfigFile(writeFile(t, "finops.toml", tomlConfig))
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, entity.ProviderAWS, cfg.Accounts[0].Provider)
	assert.Equal(t, []string{entity.AllRegions}, cfg.Accounts[0].Regions)
	assert.Equal(t, 5, cfg.Accounts[0].CacheTTLMinutes)
	assert.Equal(t, []string{"prod", "analytics"}, cfg.Groups["all"])
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.RefreshInterval())
	assert.True(t, *cfg.Forecast.YearlySeasonality)
	assert.True(t, *cfg.Forecast.WeeklySeasonality, "default applied")

	cfg, err = repo.LoadConfigFile(writeFile(t, "finops.yaml", yamlConfig))
	require.NoError(t, err)
	assert.Equal(t, "AZURE_TOKEN", cfg.Accounts[0].TokenEnv)
	assert.Equal(t, 14, cfg.Report.DefaultDays)
	assert.Equal(t, "json", cfg.Log.Format)

	cfg, err = repo.LoadConfigFile(writeFile(t, "finops.json", jsonConfig))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Fetch.TimeoutSeconds)
	assert.Equal(t, 16, cfg.Fetch.MaxConcurrency)
}

func TestLoadConfigFile_Defaults(t *testing.T) {
	cfg, err := newTestRepository(nil).LoadConfigFile("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 10, cfg.Cache.TTLMinutes)
	assert.Equal(t, 1, cfg.Cache.PartialTTLMinutes)
	assert.Zero(t, cfg.Cache.RefreshInterval(), "scheduled refresh is opt-in")
	assert.Equal(t, "http://localhost:5002", cfg.Forecast.URL)
	assert.Equal(t, 30, cfg.Fetch.TimeoutSeconds)
	assert.Equal(t, types.RetryConfig{Attempts: 3, BaseMs: 500, Factor: 2, Jitter: 0.2}, cfg.Retry)
	assert.Equal(t, 30, cfg.Report.DefaultDays)
	assert.Equal(t, 7, cfg.Report.DefaultPeriods)
}

func TestLoadConfigFile_EnvOverrides(t *testing.T) {
	repo := newTestRepository(map[string]string{
		EnvForecastURL:  "http://forecast:5002",
		EnvCacheBackend: "postgres",
		EnvCacheDSN:     "postgres://finops@db/finops",
		EnvLogLevel:     "debug",
	})

	cfg, err := repo.LoadConfigFile(writeFile(t, "finops.toml", tomlConfig))
	require.NoError(t, err)
	assert.Equal(t, "http://forecast:5002", cfg.Forecast.URL)
	assert.Equal(t, "postgres", cfg.Cache.Backend)
	assert.Equal(t, "postgres://finops@db/finops", cfg.Cache.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigFile_Errors(t *testing.T) {
	repo := newTestRepository(nil)
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{name: "missing file", path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.toml") }},
		{name: "directory", path: func(t *testing.T) string { return t.TempDir() }},
		{name: "unsupported extension", path: func(t *testing.T) string { return writeFile(t, "finops.ini", "x=1") }},
		{name: "bad yaml", path: func(t *testing.T) string { return writeFile(t, "finops.yaml", "accounts: [") }},
		{name: "duplicate account", path: func(t *testing.T) string {
			return writeFile(t, "finops.json", `{"accounts":[{"id":"a","provider":"aws"},{"id":"a","provider":"aws"}]}`)
		}},
		{name: "unknown provider", path: func(t *testing.T) string {
			return writeFile(t, "finops.json", `{"accounts":[{"id":"a","provider":"oracle"}]}`)
		}},
		{name: "dangling group", path: func(t *testing.T) string {
			return writeFile(t, "finops.json", `{"accounts":[{"id":"a","provider":"aws"}],"groups":{"g":["b"]}}`)
		}},
		{name: "unknown backend", path: func(t *testing.T) string {
			return writeFile(t, "finops.json", `{"cache":{"backend":"redis"}}`)
		}},
		{name: "negative refresh interval", path: func(t *testing.T) string {
			return writeFile(t, "finops.json", `{"cache":{"refresh_interval_minutes":-5}}`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.LoadConfigFile(tt.path(t))
			assert.Error(t, err)
		})
	}
}

func TestAccountRepository(t *testing.T) {
	cfg, err := newTestRepository(nil).LoadConfigFile(writeFile(t, "finops.toml", tomlConfig))
	require.NoError(t, err)
	cfg.Groups["prod-only"] = []string{"prod"}

	repo := NewAccountRepository(cfg)

	single, err := repo.Resolve("prod")
	require.NoError(t, err)
	assert.False(t, single.IsGroup())
	assert.Equal(t, "Production", single.Accounts[0].DisplayName())

	group, err := repo.Resolve("all")
	require.NoError(t, err)
	assert.True(t, group.IsGroup())
	assert.Equal(t, "analytics", group.Accounts[1].ID)

	_, err = repo.Resolve("ghost")
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))

	assert.Equal(t, []string{"all", "prod-only"}, repo.GroupsContaining("prod"))
	assert.Equal(t, []string{"all"}, repo.GroupsContaining("analytics"))
	assert.Len(t, repo.List(), 2)
}
