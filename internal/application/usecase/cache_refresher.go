package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/domain/repository"
	"github.com/diillson/cloud-finops-engine/internal/shared/metrics"
)

// ReportBuilder monta um relatório agregado.
type ReportBuilder interface {
	GetReport(ctx context.Context, req entity.ReportRequest) (*entity.AggregatedReport, error)
}

// ExpiredPurger é implementado pelos stores que removem entradas vencidas em lote.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// RefresherOptions configura o CacheRefresher.
type RefresherOptions struct {
	Interval    time.Duration
	ReportTypes []entity.ReportType
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics

	// NewTicker substitui time.NewTicker, usado nos testes.
	NewTicker func(d time.Duration) (<-chan time.Time, func())
}

// RefreshStats resume uma rodada de reconstrução.
type RefreshStats struct {
	Refreshed int
	Failed    int
	Purged    int64
}

// CacheRefresher reconstrói periodicamente os relatórios de cada conta com
// forceRefresh e remove as entradas vencidas do store.
type CacheRefresher struct {
	accounts repository.AccountRepository
	reports  ReportBuilder
	evictor  *CacheUseCase
	cache    repository.CacheStore
	opts     RefresherOptions
}

// NewCacheRefresher cria o refresher. Sem ReportTypes, reconstrói dashboard e finops.
func NewCacheRefresher(
	accounts repository.AccountRepository,
	reports ReportBuilder,
	evictor *CacheUseCase,
	cache repository.CacheStore,
	opts RefresherOptions,
) *CacheRefresher {
	if len(opts.ReportTypes) == 0 {
		opts.ReportTypes = []entity.ReportType{entity.ReportTypeDashboard, entity.ReportTypeFinOps}
	}
	if opts.NewTicker == nil {
		opts.NewTicker = func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		}
	}
	return &CacheRefresher{accounts: accounts, reports: reports, evictor: evictor, cache: cache, opts: opts}
}

// Run executa RefreshOnce a cada Interval até ctx ser cancelado.
// Um Interval zero desativa o agendamento.
func (r *CacheRefresher) Run(ctx context.Context) error {
	if r.opts.Interval <= 0 {
		r.opts.Logger.Debug().Msg("scheduled cache refresh disabled")
		return nil
	}

	tick, stop := r.opts.NewTicker(r.opts.Interval)
	defer stop()

	r.opts.Logger.Info().Dur("interval", r.opts.Interval).Msg("scheduled cache refresh started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			r.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce invalida e reconstrói os relatórios de todas as contas.
// Falhas de uma conta são registradas e não interrompem as demais.
func (r *CacheRefresher) RefreshOnce(ctx context.Context) RefreshStats {
	var stats RefreshStats
	started := time.Now()

	for _, account := range r.accounts.List() {
		if ctx.Err() != nil {
			break
		}
		logger := r.opts.Logger.With().Str("account", account.ID).Logger()

		if _, err := r.evictor.EvictAccount(ctx, account.ID); err != nil {
			logger.Warn().Err(err).Msg("evicting before refresh failed")
		}

		for _, reportType := range r.opts.ReportTypes {
			report, err := r.reports.GetReport(ctx, entity.ReportRequest{
				AccountID:    account.ID,
				ReportType:   reportType,
				ForceRefresh: true,
			})
			if err != nil {
				stats.Failed++
				r.opts.Metrics.CacheRefresh("error")
				logger.Error().Err(err).Str("report_type", string(reportType)).Msg("report refresh failed")
				continue
			}
			if report.Partial {
				logger.Warn().
					Str("report_type", string(reportType)).
					Int("failed", len(report.FailedAccounts)).
					Msg("refreshed report is partial")
			}
			stats.Refreshed++
			r.opts.Metrics.CacheRefresh("success")
		}
	}

	if purger, ok := r.cache.(ExpiredPurger); ok {
		n, err := purger.PurgeExpired(ctx)
		if err != nil {
			r.opts.Logger.Warn().Err(err).Msg("purging expired cache entries failed")
		}
		stats.Purged = n
	}

	r.opts.Logger.Info().
		Int("refreshed", stats.Refreshed).
		Int("failed", stats.Failed).
		Int64("purged", stats.Purged).
		Dur("took", time.Since(started)).
		Msg("cache refresh finished")
	return stats
}
