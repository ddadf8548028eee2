package fetcher

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/domain/repository"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

type fetchFunc func(ctx context.Context, account entity.AccountRef, query entity.CostQuery) ([]entity.CostRecord, error)

type fakeClient struct {
	fetch   fetchFunc
	regions []string
	calls   int32

	mu      sync.Mutex
	queried []string
}

func (c *fakeClient) FetchCosts(ctx context.Context, account entity.AccountRef, query entity.CostQuery) ([]entity.CostRecord, error) {
	atomic.AddInt32(&c.calls, 1)
	c.mu.Lock()
	c.queried = append(c.queried, account.ID+"/"+query.Region)
	c.mu.Unlock()
	return c.fetch(ctx, account, query)
}

type listingClient struct {
	*fakeClient
}

func (c listingClient) ListRegions(context.Context, entity.AccountRef) ([]string, error) {
	return c.regions, nil
}

func record(amount int64) entity.CostRecord {
	return entity.CostRecord{
		DimensionKey: "EC2",
		Date:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Amount:       decimal.NewFromInt(amount),
		Currency:     "USD",
	}
}

func newFetcher(clients map[entity.Provider]repository.ProviderCostClient, timeout time.Duration) *FanOutFetcher {
	return New(clients, Options{Timeout: timeout, MaxConcurrency: 4, Logger: zerolog.Nop()})
}

func sum(records []entity.CostRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Amount)
	}
	return total
}

func TestFetchAll_AccountTimesOut(t *testing.T) {
	client := &fakeClient{fetch: func(ctx context.Context, account entity.AccountRef, _ entity.CostQuery) ([]entity.CostRecord, error) {
		if account.ID == "B" {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return nil, ctx.Err()
		}
		return []entity.CostRecord{record(10), record(5)}, nil
	}}
	f := newFetcher(map[entity.Provider]repository.ProviderCostClient{entity.ProviderAWS: client}, 100*time.Millisecond)

	accounts := []entity.AccountRef{
		{ID: "A", Provider: entity.ProviderAWS},
		{ID: "B", Provider: entity.ProviderAWS},
	}
	start := time.Now()
	result := f.FetchAll(context.Background(), accounts, entity.CostQuery{})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, sum(result.Records).Equal(decimal.NewFromInt(15)))
	require.Len(t, result.FailedAccounts, 1)
	assert.Equal(t, "B", result.FailedAccounts[0].AccountID)
	assert.Equal(t, string(types.ClassTransientProvider), result.FailedAccounts[0].Class)
	assert.True(t, result.Partial())
}

func TestFetchAll_PartialFailureKeepsSuccessfulRecords(t *testing.T) {
	aws := &fakeClient{fetch: func(_ context.Context, account entity.AccountRef, _ entity.CostQuery) ([]entity.CostRecord, error) {
		if account.ID == "denied" {
			return nil, types.NewProviderError("aws", account.ID, types.ErrUnauthorized, nil)
		}
		return []entity.CostRecord{record(7)}, nil
	}}
	f := newFetcher(map[entity.Provider]repository.ProviderCostClient{entity.ProviderAWS: aws}, time.Second)

	result := f.FetchAll(context.Background(), []entity.AccountRef{
		{ID: "ok-1", Provider: entity.ProviderAWS},
		{ID: "denied", Provider: entity.ProviderAWS},
		{ID: "ok-2", Provider: entity.ProviderAWS},
		{ID: "ok-1", Provider: entity.ProviderAWS},
		{ID: "orphan", Provider: entity.ProviderGCP},
	}, entity.CostQuery{})

	assert.True(t, sum(result.Records).Equal(decimal.NewFromInt(14)), "duplicate account is fetched once")

	classes := map[string]string{}
	for _, f := range result.FailedAccounts {
		classes[f.AccountID] = f.Class
	}
	assert.Equal(t, map[string]string{
		"denied": string(types.ClassAuthProvider),
		"orphan": string(types.ClassAuthProvider),
	}, classes)
}

func TestFetchAll_OneTaskPerRegion(t *testing.T) {
	base := &fakeClient{
		regions: []string{"us-east-1", "eu-west-1"},
		fetch: func(_ context.Context, _ entity.AccountRef, q entity.CostQuery) ([]entity.CostRecord, error) {
			if q.Region == "eu-west-1" {
				return nil, types.NewProviderError("aws", "acct", types.ErrRateLimited, nil)
			}
			return []entity.CostRecord{record(1)}, nil
		},
	}
	f := newFetcher(map[entity.Provider]repository.ProviderCostClient{entity.ProviderAWS: listingClient{base}}, time.Second)

	result := f.FetchAll(context.Background(), []entity.AccountRef{
		{ID: "discover", Provider: entity.ProviderAWS, Regions: []string{entity.AllRegions}},
		{ID: "fixed", Provider: entity.ProviderAWS, Regions: []string{"sa-east-1"}},
		{ID: "whole", Provider: entity.ProviderAWS},
	}, entity.CostQuery{})

	sort.Strings(base.queried)
	assert.Equal(t, []string{"discover/eu-west-1", "discover/us-east-1", "fixed/sa-east-1", "whole/"}, base.queried)
	assert.True(t, sum(result.Records).Equal(decimal.NewFromInt(3)))
	require.Len(t, result.FailedAccounts, 1)
	assert.Equal(t, "eu-west-1", result.FailedAccounts[0].Region)
	assert.Equal(t, string(types.ClassTransientProvider), result.FailedAccounts[0].Class)
}

func TestFetchAll_DiscoveryUnsupported(t *testing.T) {
	client := &fakeClient{fetch: func(context.Context, entity.AccountRef, entity.CostQuery) ([]entity.CostRecord, error) {
		return []entity.CostRecord{record(1)}, nil
	}}
	f := newFetcher(map[entity.Provider]repository.ProviderCostClient{entity.ProviderAzure: client}, time.Second)

	result := f.FetchAll(context.Background(), []entity.AccountRef{
		{ID: "sub", Provider: entity.ProviderAzure, Regions: []string{entity.AllRegions}},
	}, entity.CostQuery{})

	assert.Empty(t, result.Records)
	require.Len(t, result.FailedAccounts, 1)
	assert.Equal(t, entity.AllRegions, result.FailedAccounts[0].Region)
	assert.Zero(t, atomic.LoadInt32(&client.calls))
}

func TestFetchAll_RespectsConcurrencyLimit(t *testing.T) {
	var running, peak int32
	client := &fakeClient{fetch: func(context.Context, entity.AccountRef, entity.CostQuery) ([]entity.CostRecord, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return []entity.CostRecord{record(1)}, nil
	}}
	f := New(map[entity.Provider]repository.ProviderCostClient{entity.ProviderAWS: client}, Options{Timeout: 5 * time.Second, MaxConcurrency: 2, Logger: zerolog.Nop()})

	var accounts []entity.AccountRef
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		accounts = append(accounts, entity.AccountRef{ID: id, Provider: entity.ProviderAWS})
	}
	result := f.FetchAll(context.Background(), accounts, entity.CostQuery{})

	assert.Len(t, result.Records, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestFetchAll_CallerCancellation(t *testing.T) {
	started := make(chan struct{})
	client := &fakeClient{fetch: func(ctx context.Context, _ entity.AccountRef, _ entity.CostQuery) ([]entity.CostRecord, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	f := newFetcher(map[entity.Provider]repository.ProviderCostClient{entity.ProviderAWS: client}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	result := f.FetchAll(ctx, []entity.AccountRef{{ID: "A", Provider: entity.ProviderAWS}}, entity.CostQuery{})
	require.Len(t, result.FailedAccounts, 1)
	assert.Equal(t, string(types.ClassTransientProvider), result.FailedAccounts[0].Class)
}

func TestFetchAll_NoAccounts(t *testing.T) {
	result := newFetcher(nil, time.Second).FetchAll(context.Background(), nil, entity.CostQuery{})
	assert.NotNil(t, result.Records)
	assert.Empty(t, result.Records)
	assert.False(t, result.Partial())
}
