// Package fetcher distribui as consultas de custo entre contas e regiões e
// junta os resultados tolerando falhas individuais.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/domain/repository"
	"github.com/diillson/cloud-finops-engine/internal/shared/metrics"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxConcurrency = 16
)

// Options configura o FanOutFetcher.
type Options struct {
	Timeout        time.Duration
	MaxConcurrency int
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
}

// FanOutFetcher implementa repository.CostFetcher.
type FanOutFetcher struct {
	clients map[entity.Provider]repository.ProviderCostClient
	opts    Options
}

// New cria o fetcher com um cliente por provedor.
func New(clients map[entity.Provider]repository.ProviderCostClient, opts Options) *FanOutFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	return &FanOutFetcher{clients: clients, opts: opts}
}

type task struct {
	account entity.AccountRef
	client  repository.ProviderCostClient
	query   entity.CostQuery
}

func (t task) region() string {
	return t.query.Region
}

type outcome struct {
	index   int
	records []entity.CostRecord
	err     error
}

// FetchAll executa uma tarefa por (conta, região) e retorna os registros das
// tarefas bem-sucedidas junto com a lista de falhas. Nunca retorna erro.
func (f *FanOutFetcher) FetchAll(ctx context.Context, accounts []entity.AccountRef, query entity.CostQuery) entity.PartialResult {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	result := entity.PartialResult{Records: []entity.CostRecord{}, FailedAccounts: []entity.FailedAccount{}}

	tasks, failures := f.plan(ctx, dedupe(accounts), query)
	for _, failed := range failures {
		f.recordFailure(&result, failed.account, failed.region, failed.err)
	}
	if len(tasks) == 0 {
		return result
	}

	outcomes := make(chan outcome, len(tasks))
	go func() {
		g := new(errgroup.Group)
		g.SetLimit(f.opts.MaxConcurrency)
		for i, t := range tasks {
			i, t := i, t
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					outcomes <- outcome{index: i, err: err}
					return nil
				}
				records, err := t.client.FetchCosts(ctx, t.account, t.query)
				outcomes <- outcome{index: i, records: records, err: err}
				return nil
			})
		}
		_ = g.Wait()
		close(outcomes)
	}()

	received := make([]bool, len(tasks))
	accept := func(o outcome) {
		received[o.index] = true
		t := tasks[o.index]
		if o.err != nil {
			f.recordFailure(&result, t.account, t.region(), o.err)
			return
		}
		result.Records = append(result.Records, o.records...)
		f.opts.Logger.Debug().
			Str("account", t.account.ID).
			Str("region", t.region()).
			Int("records", len(o.records)).
			Msg("fetch task completed")
	}

collect:
	for {
		select {
		case o, ok := <-outcomes:
			if !ok {
				break collect
			}
			accept(o)
		case <-ctx.Done():
			f.drain(outcomes, accept)
			for i, done := range received {
				if !done {
					t := tasks[i]
					f.recordFailure(&result, t.account, t.region(), fmt.Errorf("%w: fetch did not finish: %v", types.ErrUnavailable, ctx.Err()))
				}
			}
			break collect
		}
	}

	return result
}

// drain consome, sem bloquear, os resultados que chegaram antes do timeout.
func (f *FanOutFetcher) drain(outcomes <-chan outcome, accept func(outcome)) {
	for {
		select {
		case o, ok := <-outcomes:
			if !ok {
				return
			}
			accept(o)
		default:
			return
		}
	}
}

type planFailure struct {
	account entity.AccountRef
	region  string
	err     error
}

// plan expande as contas em tarefas, descobrindo regiões quando a conta pede "*".
func (f *FanOutFetcher) plan(ctx context.Context, accounts []entity.AccountRef, query entity.CostQuery) ([]task, []planFailure) {
	type expansion struct {
		tasks   []task
		failure *planFailure
	}
	expanded := make([]expansion, len(accounts))

	g := new(errgroup.Group)
	g.SetLimit(f.opts.MaxConcurrency)
	for i, account := range accounts {
		i, account := i, account
		g.Go(func() error {
			client, ok := f.clients[account.Provider]
			if !ok || client == nil {
				expanded[i].failure = &planFailure{account: account, err: types.NewProviderError(string(account.Provider), account.ID, types.ErrUnknownProvider, nil)}
				return nil
			}

			regions, err := f.regions(ctx, client, account, query)
			if err != nil {
				expanded[i].failure = &planFailure{account: account, region: entity.AllRegions, err: err}
				return nil
			}
			for _, region := range regions {
				q := query
				q.Region = region
				expanded[i].tasks = append(expanded[i].tasks, task{account: account, client: client, query: q})
			}
			return nil
		})
	}
	_ = g.Wait()

	var tasks []task
	var failures []planFailure
	for _, e := range expanded {
		tasks = append(tasks, e.tasks...)
		if e.failure != nil {
			failures = append(failures, *e.failure)
		}
	}
	return tasks, failures
}

// regions retorna as regiões de uma conta. Sem regiões configuradas a conta
// gera uma única tarefa com a região da consulta.
func (f *FanOutFetcher) regions(ctx context.Context, client repository.ProviderCostClient, account entity.AccountRef, query entity.CostQuery) ([]string, error) {
	if query.Region != "" || len(account.Regions) == 0 {
		return []string{query.Region}, nil
	}

	discover := false
	var regions []string
	for _, r := range account.Regions {
		if r == entity.AllRegions {
			discover = true
			continue
		}
		regions = append(regions, r)
	}
	if !discover {
		return regions, nil
	}

	lister, ok := client.(repository.RegionLister)
	if !ok {
		return nil, types.NewProviderError(string(account.Provider), account.ID, types.ErrMalformed,
			fmt.Errorf("region discovery not supported"))
	}
	discovered, err := lister.ListRegions(ctx, account)
	if err != nil {
		return nil, err
	}
	if len(discovered) == 0 {
		return []string{""}, nil
	}
	return discovered, nil
}

func (f *FanOutFetcher) recordFailure(result *entity.PartialResult, account entity.AccountRef, region string, err error) {
	class := types.ClassOf(err)
	result.FailedAccounts = append(result.FailedAccounts, entity.FailedAccount{
		AccountID: account.ID,
		Provider:  account.Provider,
		Region:    region,
		Class:     string(class),
		Error:     err.Error(),
	})
	f.opts.Metrics.FetchFailure(string(account.Provider), string(class))
	f.opts.Logger.Warn().
		Err(err).
		Str("account", account.ID).
		Str("provider", string(account.Provider)).
		Str("region", region).
		Str("class", string(class)).
		Msg("fetch task failed")
}

func dedupe(accounts []entity.AccountRef) []entity.AccountRef {
	seen := make(map[string]bool, len(accounts))
	out := make([]entity.AccountRef, 0, len(accounts))
	for _, a := range accounts {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out
}
