package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diillson/cloud-finops-engine/internal/adapter/driven/cache"
	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
)

type builderFunc func(ctx context.Context, req entity.ReportRequest) (*entity.AggregatedReport, error)

func (f builderFunc) GetReport(ctx context.Context, req entity.ReportRequest) (*entity.AggregatedReport, error) {
	return f(ctx, req)
}

func TestCacheRefresher_RefreshOnce(t *testing.T) {
	ctx := context.Background()
	clock := fixedNow
	store := cache.NewMemoryStore().WithClock(func() time.Time { return clock })
	h := newHarness(t, store, nil, nil)

	otherWindow := entity.ReportRequest{AccountID: "A", ReportType: entity.ReportTypeDashboard, GroupBy: entity.DimensionService, Days: 14, Periods: 7}.CacheKey()
	require.NoError(t, store.Put(ctx, otherWindow, []byte("{}"), 60))
	require.NoError(t, store.Put(ctx, "report:gone:dashboard-30d-7p:service:-", []byte("{}"), 1))
	clock = clock.Add(2 * time.Minute)

	refresher := NewCacheRefresher(testAccounts(), h.agg, NewCacheUseCase(testAccounts(), store, zerolog.Nop()), store, RefresherOptions{
		Logger: zerolog.Nop(),
	})
	stats := refresher.RefreshOnce(ctx)

	assert.Equal(t, RefreshStats{Refreshed: 4, Failed: 0, Purged: 1}, stats)
	assert.Equal(t, 6, h.fetcher.Calls(), "dashboard and finops (daily + monthly) for A and B")

	_, ok, err := store.Get(ctx, otherWindow)
	require.NoError(t, err)
	assert.False(t, ok, "the account is evicted before it is rebuilt")

	h.path()
	_, err = h.agg.GetReport(ctx, entity.ReportRequest{AccountID: "B", ReportType: entity.ReportTypeFinOps})
	require.NoError(t, err)
	assert.Equal(t, []ReportState{StateCacheLookup, StateHit, StateDone}, h.path(), "refreshed reports are served from cache")
}

func TestCacheRefresher_ContinuesAfterAccountFailure(t *testing.T) {
	var mu sync.Mutex
	var forced []bool
	builder := builderFunc(func(_ context.Context, req entity.ReportRequest) (*entity.AggregatedReport, error) {
		mu.Lock()
		forced = append(forced, req.ForceRefresh)
		mu.Unlock()
		if req.AccountID == "A" {
			return nil, errors.New("boom")
		}
		return &entity.AggregatedReport{AccountID: req.AccountID}, nil
	})
	store := cache.NewMemoryStore()
	refresher := NewCacheRefresher(testAccounts(), builder, NewCacheUseCase(testAccounts(), store, zerolog.Nop()), store, RefresherOptions{
		ReportTypes: []entity.ReportType{entity.ReportTypeDashboard},
		Logger:      zerolog.Nop(),
	})

	stats := refresher.RefreshOnce(context.Background())
	assert.Equal(t, 1, stats.Refreshed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, []bool{true, true}, forced)
}

func TestCacheRefresher_RunRefreshesOnEveryTick(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	builder := builderFunc(func(_ context.Context, req entity.ReportRequest) (*entity.AggregatedReport, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &entity.AggregatedReport{AccountID: req.AccountID}, nil
	})

	ticks := make(chan time.Time)
	stopped := make(chan struct{})
	var interval time.Duration
	store := cache.NewMemoryStore()
	refresher := NewCacheRefresher(testAccounts(), builder, NewCacheUseCase(testAccounts(), store, zerolog.Nop()), store, RefresherOptions{
		Interval:    24 * time.Hour,
		ReportTypes: []entity.ReportType{entity.ReportTypeDashboard},
		Logger:      zerolog.Nop(),
		NewTicker: func(d time.Duration) (<-chan time.Time, func()) {
			interval = d
			return ticks, func() { close(stopped) }
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- refresher.Run(ctx) }()

	ticks <- fixedNow
	ticks <- fixedNow.Add(24 * time.Hour)
	ticks <- fixedNow.Add(48 * time.Hour)
	cancel()

	require.NoError(t, <-done)
	<-stopped
	assert.Equal(t, 24*time.Hour, interval)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls, 4, "the first two rounds completed before the third tick was taken")
}

func TestCacheRefresher_ZeroIntervalDisabled(t *testing.T) {
	store := cache.NewMemoryStore()
	refresher := NewCacheRefresher(testAccounts(), builderFunc(nil), NewCacheUseCase(testAccounts(), store, zerolog.Nop()), store, RefresherOptions{
		Logger: zerolog.Nop(),
		NewTicker: func(time.Duration) (<-chan time.Time, func()) {
			t.Fatal("ticker must not start")
			return nil, nil
		},
	})
	assert.NoError(t, refresher.Run(context.Background()))
}
