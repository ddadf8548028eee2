// Package forecast é o cliente do serviço externo de previsão de custos (Prophet).
package forecast

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/shared/metrics"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

const (
	forecastPath = "/forecast/cost"
	healthPath   = "/health"
	statusOK     = "success"
)

type dataPoint struct {
	DS string  `json:"ds"`
	Y  float64 `json:"y"`
}

type forecastRequest struct {
	Data              []dataPoint `json:"data"`
	Periods           int         `json:"periods"`
	WeeklySeasonality bool        `json:"weekly_seasonality"`
	YearlySeasonality bool        `json:"yearly_seasonality"`
}

type predictedPoint struct {
	DS        string  `json:"ds"`
	YHat      float64 `json:"yhat"`
	YHatLower float64 `json:"yhat_lower"`
	YHatUpper float64 `json:"yhat_upper"`
}

type forecastResponse struct {
	Status   string           `json:"status"`
	Message  string           `json:"message,omitempty"`
	Forecast []predictedPoint `json:"forecast"`
}

// Options configura o ProphetClient.
type Options struct {
	Timeout           time.Duration
	WeeklySeasonality bool
	YearlySeasonality bool
	Logger            zerolog.Logger
	Metrics           *metrics.Metrics
}

// ProphetClient conversa com o serviço de forecast via HTTP síncrono.
type ProphetClient struct {
	baseURL string
	client  *http.Client
	opts    Options
}

// NewProphetClient cria o cliente. Um client nil usa um http.Client com opts.Timeout.
func NewProphetClient(baseURL string, client *http.Client, opts Options) *ProphetClient {
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &ProphetClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		opts:    opts,
	}
}

// NewFromConfig cria o cliente a partir da configuração carregada.
func NewFromConfig(cfg types.ForecastConfig, logger zerolog.Logger, m *metrics.Metrics) *ProphetClient {
	opts := Options{
		Timeout:           cfg.Timeout(),
		WeeklySeasonality: true,
		Logger:            logger,
		Metrics:           m,
	}
	if cfg.WeeklySeasonality != nil {
		opts.WeeklySeasonality = *cfg.WeeklySeasonality
	}
	if cfg.YearlySeasonality != nil {
		opts.YearlySeasonality = *cfg.YearlySeasonality
	}
	return NewProphetClient(cfg.URL, nil, opts)
}

// Forecast aplica a política de degradação: qualquer falha é registrada e
// resulta em uma lista vazia sem erro.
func (c *ProphetClient) Forecast(ctx context.Context, series entity.CostSeries, periods int) ([]entity.ForecastPoint, error) {
	last, _ := series.LastDate()
	return c.ForecastAfter(ctx, series, last, periods)
}

// ForecastAfter é Forecast ancorado em after, usado quando os últimos dias
// reais foram removidos da série como outliers.
func (c *ProphetClient) ForecastAfter(ctx context.Context, series entity.CostSeries, after time.Time, periods int) ([]entity.ForecastPoint, error) {
	points, err := c.predict(ctx, series, after, periods)
	if err != nil {
		c.opts.Logger.Warn().
			Err(err).
			Str("series", series.DimensionKey).
			Int("history_points", len(series.Points)).
			Int("periods", periods).
			Msg("forecast unavailable, returning history only")
		return []entity.ForecastPoint{}, nil
	}
	return points, nil
}

// Predict chama o serviço e retorna exatamente periods pontos consecutivos após
// a última data histórica. Erros envolvem types.ErrInvalidForecast ou
// types.ErrForecastUnavailable.
func (c *ProphetClient) Predict(ctx context.Context, series entity.CostSeries, periods int) ([]entity.ForecastPoint, error) {
	last, _ := series.LastDate()
	return c.predict(ctx, series, last, periods)
}

// predict pede ao serviço os períodos entre o fim da série e after, mais
// periods, e mantém apenas os periods pontos seguintes a after.
func (c *ProphetClient) predict(ctx context.Context, series entity.CostSeries, after time.Time, periods int) ([]entity.ForecastPoint, error) {
	if len(series.Points) < 2 {
		c.opts.Metrics.ForecastRequest("invalid")
		return nil, fmt.Errorf("%w: need at least 2 points, got %d", types.ErrInvalidForecast, len(series.Points))
	}
	if periods < 1 {
		c.opts.Metrics.ForecastRequest("invalid")
		return nil, fmt.Errorf("%w: periods must be positive, got %d", types.ErrInvalidForecast, periods)
	}

	g := series.Granularity
	if g == "" {
		g = entity.GranularityDaily
	}
	last, _ := series.LastDate()
	after = g.Truncate(after)
	if after.Before(last) {
		after = last
	}
	gap := 0
	for d := last; d.Before(after); d = g.Next(d) {
		gap++
	}

	req := forecastRequest{
		Data:              make([]dataPoint, 0, len(series.Points)),
		Periods:           periods + gap,
		WeeklySeasonality: c.opts.WeeklySeasonality,
		YearlySeasonality: c.opts.YearlySeasonality,
	}
	for _, p := range series.Points {
		y, _ := p.Amount.Float64()
		req.Data = append(req.Data, dataPoint{DS: p.Date.Format(entity.DateLayout), Y: y})
	}

	start := time.Now()
	resp, err := c.post(ctx, req)
	if err != nil {
		c.opts.Metrics.ForecastRequest("unavailable")
		return nil, err
	}

	points, err := futurePoints(resp, g, after, periods)
	if err != nil {
		c.opts.Metrics.ForecastRequest("unavailable")
		return nil, err
	}

	c.opts.Metrics.ForecastRequest("success")
	c.opts.Logger.Debug().
		Str("series", series.DimensionKey).
		Int("history_points", len(series.Points)).
		Int("periods", periods).
		Int("gap", gap).
		Dur("took", time.Since(start)).
		Msg("forecast received")
	return points, nil
}

func (c *ProphetClient) post(ctx context.Context, body forecastRequest) (*forecastResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", types.ErrInvalidForecast, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+forecastPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrForecastUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrForecastUnavailable, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", types.ErrForecastUnavailable, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", types.ErrForecastUnavailable, httpResp.StatusCode, snippet(raw))
	}

	var resp forecastResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", types.ErrForecastUnavailable, err)
	}
	if resp.Status != statusOK {
		return nil, fmt.Errorf("%w: service status %q: %s", types.ErrForecastUnavailable, resp.Status, resp.Message)
	}
	return &resp, nil
}

// futurePoints descarta as datas até last, inclusive, e exige uma sequência
// sem lacunas a partir do período seguinte.
func futurePoints(resp *forecastResponse, g entity.Granularity, last time.Time, periods int) ([]entity.ForecastPoint, error) {
	expected := g.Next(last)

	points := make([]entity.ForecastPoint, 0, periods)
	for _, p := range resp.Forecast {
		date, err := parseDS(p.DS)
		if err != nil {
			return nil, err
		}
		date = g.Truncate(date)
		if !date.After(last) {
			continue
		}
		if !date.Equal(expected) {
			return nil, fmt.Errorf("%w: expected %s, got %s", types.ErrForecastUnavailable,
				expected.Format(entity.DateLayout), date.Format(entity.DateLayout))
		}
		points = append(points, toPoint(date, p))
		if len(points) == periods {
			return points, nil
		}
		expected = g.Next(expected)
	}
	return nil, fmt.Errorf("%w: requested %d periods, got %d", types.ErrForecastUnavailable, periods, len(points))
}

func toPoint(date time.Time, p predictedPoint) entity.ForecastPoint {
	clamp := func(v float64) decimal.Decimal {
		d := decimal.NewFromFloat(v).Round(2)
		if d.IsNegative() {
			return decimal.Zero
		}
		return d
	}

	predicted := clamp(p.YHat)
	lower := decimal.Min(clamp(p.YHatLower), predicted)
	upper := decimal.Max(clamp(p.YHatUpper), predicted)
	return entity.ForecastPoint{Date: date, Predicted: predicted, Lower: lower, Upper: upper}
}

// parseDS aceita "2024-01-04", "2024-01-04 00:00:00" e RFC3339.
func parseDS(ds string) (time.Time, error) {
	if len(ds) < len(entity.DateLayout) {
		return time.Time{}, fmt.Errorf("%w: invalid ds %q", types.ErrForecastUnavailable, ds)
	}
	date, err := time.Parse(entity.DateLayout, ds[:len(entity.DateLayout)])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid ds %q", types.ErrForecastUnavailable, ds)
	}
	return date, nil
}

// Health verifica se o serviço de forecast responde em /health.
func (c *ProphetClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrForecastUnavailable, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrForecastUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", types.ErrForecastUnavailable, resp.StatusCode)
	}
	return nil
}

func snippet(raw []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
