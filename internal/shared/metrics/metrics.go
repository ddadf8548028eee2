package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics agrupa os coletores do engine. Um *Metrics nil é válido e não registra nada.
type Metrics struct {
	cacheLookups     *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	providerRetries  *prometheus.CounterVec
	fetchFailures    *prometheus.CounterVec
	forecastRequests *prometheus.CounterVec
	reportDuration   *prometheus.HistogramVec
	cacheRefreshes   *prometheus.CounterVec
}

// New registra os coletores em reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finops_cache_lookups_total",
				Help: "Report cache lookups by result",
			},
			[]string{"result"}, // hit, miss, error, bypass
		),
		providerRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finops_provider_requests_total",
				Help: "Provider billing API calls by outcome",
			},
			[]string{"provider", "outcome"},
		),
		providerRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finops_provider_retries_total",
				Help: "Provider calls retried after rate limiting",
			},
			[]string{"provider"},
		),
		fetchFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finops_fetch_failures_total",
				Help: "Fan-out tasks that failed, by error class",
			},
			[]string{"provider", "class"},
		),
		forecastRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finops_forecast_requests_total",
				Help: "Forecast service calls by outcome",
			},
			[]string{"outcome"},
		),
		reportDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finops_report_duration_seconds",
				Help:    "Report build duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"path"}, // hit, miss
		),
		cacheRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finops_cache_refreshes_total",
				Help: "Scheduled report rebuilds by outcome",
			},
			[]string{"outcome"}, // success, error
		),
	}
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ProviderRequest(provider, outcome string) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ProviderRetry(provider string) {
	if m == nil {
		return
	}
	m.providerRetries.WithLabelValues(provider).Inc()
}

func (m *Metrics) FetchFailure(provider, class string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(provider, class).Inc()
}

func (m *Metrics) ForecastRequest(outcome string) {
	if m == nil {
		return
	}
	m.forecastRequests.WithLabelValues(outcome).Inc()
}

// ObserveReport registra a duração de um relatório desde start.
func (m *Metrics) ObserveReport(path string, start time.Time) {
	if m == nil {
		return
	}
	m.reportDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
}

func (m *Metrics) CacheRefresh(outcome string) {
	if m == nil {
		return
	}
	m.cacheRefreshes.WithLabelValues(outcome).Inc()
}
