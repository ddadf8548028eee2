package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/shared/metrics"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

// Querier executa uma única consulta cujo intervalo cabe na janela máxima do provedor.
type Querier interface {
	Query(ctx context.Context, account entity.AccountRef, query entity.CostQuery) ([]entity.CostRecord, error)
}

// Options configura um Client.
type Options struct {
	MaxWindowDays     int
	RequestsPerSecond float64
	Retry             RetryPolicy
	Logger            zerolog.Logger
	Metrics           *metrics.Metrics
}

// Client implementa repository.ProviderCostClient sobre um Querier,
// dividindo intervalos longos e repetindo chamadas limitadas por rate limit.
type Client struct {
	provider entity.Provider
	querier  Querier
	opts     Options
	limiter  *rate.Limiter
}

// NewClient cria um Client para o provedor.
func NewClient(provider entity.Provider, querier Querier, opts Options) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Client{
		provider: provider,
		querier:  querier,
		opts:     opts,
		limiter:  limiter,
	}
}

// FetchCosts consulta o intervalo inteiro, uma janela por vez, e concatena os registros.
func (c *Client) FetchCosts(ctx context.Context, account entity.AccountRef, query entity.CostQuery) ([]entity.CostRecord, error) {
	if err := query.Range.Validate(); err != nil {
		return nil, types.NewProviderError(string(c.provider), account.ID, types.ErrMalformed, err)
	}
	if query.Granularity == "" {
		query.Granularity = entity.GranularityDaily
	}

	logger := c.opts.Logger.With().
		Str("provider", string(c.provider)).
		Str("account", account.ID).
		Str("region", query.Region).
		Logger()

	var records []entity.CostRecord
	for _, window := range query.Range.Chunks(c.opts.MaxWindowDays) {
		chunk := query
		chunk.Range = window

		var batch []entity.CostRecord
		err := c.opts.Retry.Do(ctx, func(ctx context.Context) error {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
			var qErr error
			batch, qErr = c.querier.Query(ctx, account, chunk)
			return qErr
		}, func(attempt int, err error) {
			c.opts.Metrics.ProviderRetry(string(c.provider))
			logger.Warn().Err(err).Int("attempt", attempt).Str("window", window.String()).Msg("rate limited, retrying")
		})
		if err != nil {
			c.opts.Metrics.ProviderRequest(string(c.provider), "error")
			return nil, c.wrap(account, err)
		}

		c.opts.Metrics.ProviderRequest(string(c.provider), "ok")
		logger.Debug().Str("window", window.String()).Int("records", len(batch)).Msg("cost window fetched")
		records = append(records, batch...)
	}

	return records, nil
}

// ListRegions delega ao Querier quando ele sabe descobrir regiões.
func (c *Client) ListRegions(ctx context.Context, account entity.AccountRef) ([]string, error) {
	lister, ok := c.querier.(interface {
		ListRegions(ctx context.Context, account entity.AccountRef) ([]string, error)
	})
	if !ok {
		return nil, fmt.Errorf("%s: region discovery not supported", c.provider)
	}
	return lister.ListRegions(ctx, account)
}

func (c *Client) wrap(account entity.AccountRef, err error) error {
	var providerErr *types.ProviderError
	if errors.As(err, &providerErr) {
		return err
	}
	kind := types.ErrUnavailable
	for _, k := range []error{types.ErrUnauthorized, types.ErrRateLimited, types.ErrMalformed} {
		if errors.Is(err, k) {
			kind = k
			break
		}
	}
	return types.NewProviderError(string(c.provider), account.ID, kind, err)
}
