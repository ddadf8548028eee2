package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/diillson/cloud-finops-engine/internal/adapter/driven/aws"
	"github.com/diillson/cloud-finops-engine/internal/adapter/driven/azure"
	"github.com/diillson/cloud-finops-engine/internal/adapter/driven/cache"
	"github.com/diillson/cloud-finops-engine/internal/adapter/driven/config"
	"github.com/diillson/cloud-finops-engine/internal/adapter/driven/export"
	"github.com/diillson/cloud-finops-engine/internal/adapter/driven/forecast"
	"github.com/diillson/cloud-finops-engine/internal/adapter/driven/gcp"
	"github.com/diillson/cloud-finops-engine/internal/adapter/driven/provider"
	"github.com/diillson/cloud-finops-engine/internal/adapter/driving/cli"
	"github.com/diillson/cloud-finops-engine/internal/adapter/driving/httpapi"
	"github.com/diillson/cloud-finops-engine/internal/application/fetcher"
	"github.com/diillson/cloud-finops-engine/internal/application/usecase"
	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/domain/repository"
	"github.com/diillson/cloud-finops-engine/internal/shared/logging"
	"github.com/diillson/cloud-finops-engine/internal/shared/metrics"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
	"github.com/diillson/cloud-finops-engine/pkg/console"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Inicializa o aplicativo CLI
	app := cli.NewCLIApp(bootstrap)

	// Executa o aplicativo
	if err := app.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap carrega a configuração e monta todos os repositórios e casos de uso.
func bootstrap(args *types.CLIArgs) (*cli.Runtime, error) {
	cfg, err := config.NewConfigRepository().LoadConfigFile(args.ConfigFile)
	if err != nil {
		return nil, err
	}
	if args.LogLevel != "" {
		cfg.Log.Level = args.LogLevel
	}
	if args.LogFormat != "" {
		cfg.Log.Format = args.LogFormat
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Inicializa os repositórios
	awsRepo := aws.NewAWSRepository()
	retry := provider.RetryPolicyFromConfig(cfg.Retry)
	clientFor := func(p entity.Provider, q provider.Querier, pc types.ProviderConfig) repository.ProviderCostClient {
		return provider.NewClient(p, q, provider.Options{
			MaxWindowDays:     pc.MaxWindowDays,
			RequestsPerSecond: pc.RequestsPerSecond,
			Retry:             retry,
			Logger:            logger.With().Str("provider", string(p)).Logger(),
			Metrics:           m,
		})
	}
	clients := map[entity.Provider]repository.ProviderCostClient{
		entity.ProviderAWS: clientFor(entity.ProviderAWS, awsRepo, cfg.Providers.AWS),
		entity.ProviderGCP: clientFor(entity.ProviderGCP,
			gcp.NewBillingRepository(cfg.Providers.GCP.Endpoint, nil, provider.EnvTokenSource(gcp.DefaultTokenEnv)),
			cfg.Providers.GCP),
		entity.ProviderAzure: clientFor(entity.ProviderAzure,
			azure.NewCostManagementRepository(cfg.Providers.Azure.Endpoint, nil, provider.EnvTokenSource(azure.DefaultTokenEnv)),
			cfg.Providers.Azure),
	}

	store, err := cache.NewStore(cfg.Cache)
	if err != nil {
		return nil, err
	}

	accounts := config.NewAccountRepository(cfg)
	fanOut := fetcher.New(clients, fetcher.Options{
		Timeout:        cfg.Fetch.Timeout(),
		MaxConcurrency: cfg.Fetch.MaxConcurrency,
		Logger:         logger,
		Metrics:        m,
	})
	forecaster := forecast.NewFromConfig(cfg.Forecast, logger, m)

	aggregator := usecase.NewAggregator(accounts, store, fanOut, forecaster, awsRepo, usecase.AggregatorOptions{
		Report:         cfg.Report,
		Cache:          cfg.Cache,
		MaxHistoryDays: cfg.Forecast.MaxHistoryDays,
		Logger:         logger,
		Metrics:        m,
	})
	cacheUseCase := usecase.NewCacheUseCase(accounts, store, logger)

	// Inicializa o caso de uso
	dashboard := usecase.NewDashboardUseCase(aggregator, accounts, export.NewExportRepository(), console.NewConsole(), cfg.Report.TopN)
	server := httpapi.NewServer(aggregator, cacheUseCase, registry, logger).
		WithAllowedOrigins(cfg.Server.AllowedOrigins).
		WithDependency("forecast", forecaster)
	refresher := usecase.NewCacheRefresher(accounts, aggregator, cacheUseCase, store, usecase.RefresherOptions{
		Interval: cfg.Cache.RefreshInterval(),
		Logger:   logger.With().Str("component", "cache-refresher").Logger(),
		Metrics:  m,
	})

	// serve mantém a API e a reconstrução agendada do cache até o contexto acabar.
	serve := func(ctx context.Context, addr string) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return refresher.Run(gctx) })
		g.Go(func() error { return server.Run(gctx, addr) })
		return g.Wait()
	}

	logger.Debug().
		Int("accounts", len(cfg.Accounts)).
		Str("cache", cfg.Cache.Backend).
		Str("forecast_url", cfg.Forecast.URL).
		Dur("cache_refresh", cfg.Cache.RefreshInterval()).
		Msg("engine initialized")

	return &cli.Runtime{
		Config:    cfg,
		Dashboard: dashboard,
		Cache:     cacheUseCase,
		Serve:     serve,
		Close:     store.Close,
	}, nil
}
