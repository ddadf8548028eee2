package usecase

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/diillson/cloud-finops-engine/internal/application/series"
	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/domain/repository"
	"github.com/diillson/cloud-finops-engine/internal/shared/metrics"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

// ReportState é um estado da montagem de um relatório.
type ReportState string

const (
	StateCacheLookup ReportState = "CACHE_LOOKUP"
	StateHit         ReportState = "HIT"
	StateMiss        ReportState = "MISS"
	StateFetch       ReportState = "FETCH"
	StateMerge       ReportState = "MERGE"
	StateForecast    ReportState = "FORECAST"
	StateCompose     ReportState = "COMPOSE"
	StateCacheStore  ReportState = "CACHE_STORE"
	StateDone        ReportState = "DONE"
)

const (
	maxWindowDays = 365
	maxPeriods    = 365
)

// AggregatorOptions configura o Aggregator.
type AggregatorOptions struct {
	Report         types.ReportConfig
	Cache          types.CacheConfig
	MaxHistoryDays int
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics

	// Now substitui o relógio, usado nos testes.
	Now func() time.Time
	// OnState é chamado a cada transição de estado.
	OnState func(reportID string, state ReportState)
}

// Aggregator monta relatórios agregados usando cache-aside na frente do fan-out.
type Aggregator struct {
	accounts   repository.AccountRepository
	cache      repository.CacheStore
	fetcher    repository.CostFetcher
	forecaster repository.Forecaster
	budgets    repository.BudgetRepository
	opts       AggregatorOptions
}

// NewAggregator cria o Aggregator. budgets pode ser nil.
func NewAggregator(
	accounts repository.AccountRepository,
	cache repository.CacheStore,
	fetcher repository.CostFetcher,
	forecaster repository.Forecaster,
	budgets repository.BudgetRepository,
	opts AggregatorOptions,
) *Aggregator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxHistoryDays <= 0 {
		opts.MaxHistoryDays = 180
	}
	if opts.Report.DefaultDays <= 0 {
		opts.Report.DefaultDays = 30
	}
	if opts.Report.DefaultPeriods <= 0 {
		opts.Report.DefaultPeriods = 7
	}
	if opts.Report.HistoryMonths <= 0 {
		opts.Report.HistoryMonths = 6
	}
	return &Aggregator{
		accounts:   accounts,
		cache:      cache,
		fetcher:    fetcher,
		forecaster: forecaster,
		budgets:    budgets,
		opts:       opts,
	}
}

// reportRun carrega o estado de uma única requisição pela máquina de estados.
type reportRun struct {
	id      string
	req     entity.ReportRequest
	target  entity.AccountGroup
	key     string
	windows reportWindows
	logger  zerolog.Logger
	started time.Time

	cacheFailed bool

	daily   entity.PartialResult
	monthly entity.PartialResult
	budgets []entity.BudgetStatus

	seriesByKey map[string]entity.CostSeries
	total       entity.CostSeries
	// flagged e forecastInput vêm da mesma fatia histórica de total: um ponto
	// sai do forecast se e somente se está sinalizado.
	flagged       entity.CostSeries
	forecastInput entity.CostSeries
	forecast      []entity.ForecastPoint

	report *entity.AggregatedReport
}

// GetReport devolve o relatório de req. Somente requisições inválidas
// retornam erro; falhas de provedor, cache ou forecast degradam o resultado.
func (a *Aggregator) GetReport(ctx context.Context, req entity.ReportRequest) (*entity.AggregatedReport, error) {
	req, err := a.normalize(req)
	if err != nil {
		return nil, err
	}
	target, err := a.accounts.Resolve(req.AccountID)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	run := &reportRun{
		id:      id,
		req:     req,
		target:  target,
		key:     req.CacheKey(),
		windows: a.windowsFor(req),
		started: time.Now(),
		logger: a.opts.Logger.With().
			Str("report_id", id).
			Str("account", req.AccountID).
			Str("report_type", string(req.ReportType)).
			Str("group_by", string(req.GroupBy)).
			Logger(),
	}

	state := StateCacheLookup
	for {
		a.enter(run, state)
		if state == StateDone {
			break
		}
		state = a.step(ctx, run, state)
	}
	return run.report, nil
}

func (a *Aggregator) enter(run *reportRun, state ReportState) {
	run.logger.Debug().Str("state", string(state)).Msg("report state")
	if a.opts.OnState != nil {
		a.opts.OnState(run.id, state)
	}
}

func (a *Aggregator) step(ctx context.Context, run *reportRun, state ReportState) ReportState {
	switch state {
	case StateCacheLookup:
		return a.lookup(ctx, run)
	case StateHit:
		a.opts.Metrics.ObserveReport("hit", run.started)
		return StateDone
	case StateMiss:
		return StateFetch
	case StateFetch:
		a.fetch(ctx, run)
		return StateMerge
	case StateMerge:
		a.merge(run)
		return StateForecast
	case StateForecast:
		a.runForecast(ctx, run)
		return StateCompose
	case StateCompose:
		run.report = a.compose(run)
		return StateCacheStore
	case StateCacheStore:
		a.store(ctx, run)
		a.opts.Metrics.ObserveReport("miss", run.started)
		return StateDone
	default:
		return StateDone
	}
}

func (a *Aggregator) normalize(req entity.ReportRequest) (entity.ReportRequest, error) {
	if req.AccountID == "" {
		return req, types.InvalidRequestf("account id is required")
	}
	if req.ReportType == "" {
		req.ReportType = entity.ReportTypeDashboard
	}
	if !req.ReportType.Valid() {
		return req, types.InvalidRequestf("unknown report type %q", req.ReportType)
	}
	if req.GroupBy == "" {
		req.GroupBy = entity.DimensionService
	}
	if !req.GroupBy.Valid() {
		return req, types.InvalidRequestf("unknown group-by dimension %q", req.GroupBy)
	}
	if req.GroupBy == entity.DimensionTag && req.TagKey == "" {
		return req, types.InvalidRequestf("group-by TAG requires a tag key")
	}
	if req.GroupBy != entity.DimensionTag && req.TagKey != "" {
		return req, types.InvalidRequestf("tag key %q requires group-by TAG", req.TagKey)
	}
	if req.Days == 0 {
		req.Days = a.opts.Report.DefaultDays
	}
	if req.Days < 1 || req.Days > maxWindowDays {
		return req, types.InvalidRequestf("days must be between 1 and %d, got %d", maxWindowDays, req.Days)
	}
	if req.Periods == 0 {
		req.Periods = a.opts.Report.DefaultPeriods
	}
	if req.Periods < 1 || req.Periods > maxPeriods {
		return req, types.InvalidRequestf("periods must be between 1 and %d, got %d", maxPeriods, req.Periods)
	}
	return req, nil
}

func (a *Aggregator) lookup(ctx context.Context, run *reportRun) ReportState {
	if run.req.ForceRefresh {
		a.opts.Metrics.CacheLookup("bypass")
		return StateMiss
	}

	payload, found, err := a.cache.Get(ctx, run.key)
	if err != nil {
		run.cacheFailed = true
		a.opts.Metrics.CacheLookup("error")
		run.logger.Warn().Err(err).Str("key", run.key).Msg("cache unavailable, bypassing")
		return StateMiss
	}
	if !found {
		a.opts.Metrics.CacheLookup("miss")
		return StateMiss
	}

	var cached entity.AggregatedReport
	if err := json.Unmarshal(payload, &cached); err != nil {
		a.opts.Metrics.CacheLookup("miss")
		run.logger.Warn().Err(err).Str("key", run.key).Msg("discarding unreadable cache entry")
		return StateMiss
	}

	a.opts.Metrics.CacheLookup("hit")
	run.report = &cached
	return StateHit
}

func (a *Aggregator) fetch(ctx context.Context, run *reportRun) {
	query := entity.CostQuery{
		GroupBy:     run.req.GroupBy,
		TagKey:      run.req.TagKey,
		Range:       run.windows.fetch,
		Granularity: entity.GranularityDaily,
	}

	if run.req.ReportType != entity.ReportTypeFinOps {
		run.daily = a.fetcher.FetchAll(ctx, run.target.Accounts, query)
		return
	}

	// Os resultados de cada goroutine vão para campos distintos de run.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		run.daily = a.fetcher.FetchAll(gctx, run.target.Accounts, query)
		return nil
	})
	g.Go(func() error {
		monthly := query
		monthly.Range = run.windows.months
		monthly.Granularity = entity.GranularityMonthly
		run.monthly = a.fetcher.FetchAll(gctx, run.target.Accounts, monthly)
		return nil
	})
	g.Go(func() error {
		run.budgets = a.loadBudgets(gctx, run)
		return nil
	})
	_ = g.Wait()
}

func (a *Aggregator) loadBudgets(ctx context.Context, run *reportRun) []entity.BudgetStatus {
	if a.budgets == nil {
		return nil
	}
	var budgets []entity.BudgetStatus
	for _, account := range run.target.Accounts {
		if account.Provider != entity.ProviderAWS {
			continue
		}
		found, err := a.budgets.GetBudgets(ctx, account)
		if err != nil {
			run.logger.Warn().Err(err).Str("member", account.ID).Msg("budgets unavailable")
			continue
		}
		budgets = append(budgets, found...)
	}
	return budgets
}

func (a *Aggregator) merge(run *reportRun) {
	run.seriesByKey = series.Build(run.daily.Records, entity.GranularityDaily)
	run.total = series.Densify(series.Total(run.seriesByKey, entity.GranularityDaily), run.windows.fetch)

	history := series.Slice(run.total, run.windows.history)
	run.flagged = series.FlagOutliers(history)
	run.forecastInput = series.FilterOutliers(history)
}

func (a *Aggregator) runForecast(ctx context.Context, run *reportRun) {
	// A projeção parte do último dia real mesmo quando ele foi filtrado como outlier.
	last, _ := run.total.LastDate()
	points, err := a.forecaster.ForecastAfter(ctx, run.forecastInput, last, run.req.Periods)
	if err != nil {
		run.logger.Warn().Err(err).Msg("forecast failed, continuing with history only")
		points = nil
	}

	run.forecast = make([]entity.ForecastPoint, 0, run.req.Periods)
	for _, p := range points {
		if len(run.forecast) == run.req.Periods {
			break
		}
		if p.Date.After(last) {
			run.forecast = append(run.forecast, p)
		}
	}
}

func (a *Aggregator) store(ctx context.Context, run *reportRun) {
	if run.cacheFailed {
		run.logger.Debug().Str("key", run.key).Msg("skipping cache write after failed lookup")
		return
	}

	if run.report.Partial && len(run.daily.Records) == 0 {
		run.logger.Debug().Str("key", run.key).Msg("skipping cache write, no account returned data")
		return
	}

	payload, err := json.Marshal(run.report)
	if err != nil {
		run.logger.Error().Err(err).Msg("encoding report for cache")
		return
	}
	ttl := a.ttlFor(run)
	if run.report.Partial && a.opts.Cache.PartialTTLMinutes > 0 && a.opts.Cache.PartialTTLMinutes < ttl {
		ttl = a.opts.Cache.PartialTTLMinutes
	}
	if err := a.cache.Put(ctx, run.key, payload, ttl); err != nil {
		run.logger.Warn().Err(err).Str("key", run.key).Msg("cache write failed")
		return
	}
	run.logger.Debug().Str("key", run.key).Int("ttl_minutes", ttl).Msg("report cached")
}

// ttlFor usa o menor TTL configurado entre as contas, ou o padrão do tipo de relatório.
func (a *Aggregator) ttlFor(run *reportRun) int {
	ttl := 0
	for _, account := range run.target.Accounts {
		if account.CacheTTLMinutes > 0 && (ttl == 0 || account.CacheTTLMinutes < ttl) {
			ttl = account.CacheTTLMinutes
		}
	}
	if ttl > 0 {
		return ttl
	}
	if run.req.ReportType == entity.ReportTypeFinOps && a.opts.Cache.FinOpsTTLMinutes > 0 {
		return a.opts.Cache.FinOpsTTLMinutes
	}
	if a.opts.Cache.TTLMinutes > 0 {
		return a.opts.Cache.TTLMinutes
	}
	return 10
}
