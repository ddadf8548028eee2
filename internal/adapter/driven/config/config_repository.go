package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"github.com/diillson/cloud-finops-engine/internal/domain/repository"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

// Variáveis de ambiente que sobrescrevem o arquivo de configuração.
const (
	EnvForecastURL  = "FINOPS_FORECAST_URL"
	EnvCacheBackend = "FINOPS_CACHE_BACKEND"
	EnvCacheDSN     = "FINOPS_CACHE_DSN"
	EnvLogLevel     = "FINOPS_LOG_LEVEL"
)

// ConfigRepositoryImpl implementa o ConfigRepository.
type ConfigRepositoryImpl struct {
	getenv func(string) string
}

// NewConfigRepository cria uma nova implementação do ConfigRepository.
func NewConfigRepository() repository.ConfigRepository {
	return &ConfigRepositoryImpl{getenv: os.Getenv}
}

// LoadConfigFile carrega um arquivo de configuração TOML, YAML ou JSON,
// aplica as variáveis de ambiente e os valores padrão e valida o resultado.
// Um caminho vazio produz apenas os padrões.
func (r *ConfigRepositoryImpl) LoadConfigFile(filePath string) (*types.Config, error) {
	var config types.Config
	if filePath != "" {
		if err := decodeFile(filePath, &config); err != nil {
			return nil, err
		}
	}

	r.applyEnv(&config)
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filePath, err)
	}
	return &config, nil
}

func decodeFile(filePath string, config *types.Config) error {
	fileExtension := strings.ToLower(filepath.Ext(filePath))

	// Verifica se o arquivo existe
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("error accessing config file: %w", err)
	}
	if fileInfo.IsDir() {
		return fmt.Errorf("%s is a directory, not a file", filePath)
	}

	fileData, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	switch fileExtension {
	case ".toml":
		if err := toml.Unmarshal(fileData, config); err != nil {
			return fmt.Errorf("error parsing TOML file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(fileData, config); err != nil {
			return fmt.Errorf("error parsing YAML file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(fileData, config); err != nil {
			return fmt.Errorf("error parsing JSON file: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", fileExtension)
	}
	return nil
}

func (r *ConfigRepositoryImpl) applyEnv(config *types.Config) {
	if v := r.getenv(EnvForecastURL); v != "" {
		config.Forecast.URL = v
	}
	if v := r.getenv(EnvCacheBackend); v != "" {
		config.Cache.Backend = v
	}
	if v := r.getenv(EnvCacheDSN); v != "" {
		config.Cache.DSN = v
	}
	if v := r.getenv(EnvLogLevel); v != "" {
		config.Log.Level = v
	}
}
