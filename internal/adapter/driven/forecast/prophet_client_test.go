package forecast

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

func history(amounts ...int64) entity.CostSeries {
	s := entity.CostSeries{DimensionKey: "Total", Granularity: entity.GranularityDaily}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, a := range amounts {
		s.Points = append(s.Points, entity.SeriesPoint{Date: start.AddDate(0, 0, i), Amount: decimal.NewFromInt(a)})
	}
	return s
}

func newClient(url string) *ProphetClient {
	return NewProphetClient(url, nil, Options{Timeout: 5 * time.Second, WeeklySeasonality: true, Logger: zerolog.Nop()})
}

func TestPredict_ThreePointsTwoPeriods(t *testing.T) {
	var got forecastRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/forecast/cost", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))

		io.WriteString(w, `{"status":"success","forecast":[
			{"ds":"2024-01-03","yhat":105,"yhat_lower":100,"yhat_upper":110},
			{"ds":"2024-01-04","yhat":108.4,"yhat_lower":101.2,"yhat_upper":115.9},
			{"ds":"2024-01-05 00:00:00","yhat":111,"yhat_lower":113,"yhat_upper":109}
		]}`)
	}))
	defer server.Close()

	points, err := newClient(server.URL).Predict(context.Background(), history(100, 110, 105), 2)
	require.NoError(t, err)

	require.Len(t, got.Data, 3)
	assert.Equal(t, dataPoint{DS: "2024-01-01", Y: 100}, got.Data[0])
	assert.Equal(t, dataPoint{DS: "2024-01-03", Y: 105}, got.Data[2])
	assert.Equal(t, 2, got.Periods)
	assert.True(t, got.WeeklySeasonality)
	assert.False(t, got.YearlySeasonality)

	require.Len(t, points, 2)
	assert.Equal(t, "2024-01-04", points[0].Date.Format(entity.DateLayout))
	assert.Equal(t, "2024-01-05", points[1].Date.Format(entity.DateLayout))
	for _, p := range points {
		assert.True(t, p.Lower.LessThanOrEqual(p.Predicted), "lower <= predicted")
		assert.True(t, p.Predicted.LessThanOrEqual(p.Upper), "predicted <= upper")
	}
	assert.Equal(t, "108.4", points[0].Predicted.String())
}

func TestPredict_ClampsNegativeValues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"success","forecast":[{"ds":"2024-01-03","yhat":-4,"yhat_lower":-9,"yhat_upper":2}]}`)
	}))
	defer server.Close()

	points, err := newClient(server.URL).Predict(context.Background(), history(1, 0), 1)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].Predicted.IsZero())
	assert.True(t, points[0].Lower.IsZero())
	assert.Equal(t, "2", points[0].Upper.String())
}

func TestPredict_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		history entity.CostSeries
		periods int
		want    error
	}{
		{name: "single point", history: history(100), periods: 2, want: types.ErrInvalidForecast},
		{name: "zero periods", history: history(1, 2), periods: 0, want: types.ErrInvalidForecast},
		{name: "service unavailable", status: http.StatusServiceUnavailable, body: "down", history: history(1, 2), periods: 1, want: types.ErrForecastUnavailable},
		{name: "malformed json", status: http.StatusOK, body: `{"status":`, history: history(1, 2), periods: 1, want: types.ErrForecastUnavailable},
		{name: "error status", status: http.StatusOK, body: `{"status":"error","message":"boom"}`, history: history(1, 2), periods: 1, want: types.ErrForecastUnavailable},
		{name: "too few points", status: http.StatusOK, body: `{"status":"success","forecast":[{"ds":"2024-01-03","yhat":1,"yhat_lower":1,"yhat_upper":1}]}`, history: history(1, 2), periods: 2, want: types.ErrForecastUnavailable},
		{name: "gap", status: http.StatusOK, body: `{"status":"success","forecast":[{"ds":"2024-01-04","yhat":1,"yhat_lower":1,"yhat_upper":1}]}`, history: history(1, 2), periods: 1, want: types.ErrForecastUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			points, err := newClient(server.URL).Predict(context.Background(), tt.history, tt.periods)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, points)
			if tt.want == types.ErrInvalidForecast {
				assert.Zero(t, calls, "invalid input never reaches the service")
			}
		})
	}
}

func TestForecast_DegradesToEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newClient(server.URL)

	points, err := client.Forecast(context.Background(), history(100, 110, 105), 2)
	require.NoError(t, err)
	assert.NotNil(t, points)
	assert.Empty(t, points)

	points, err = client.Forecast(context.Background(), history(100), 2)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestForecast_UnreachableService(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	points, err := newClient(url).Forecast(context.Background(), history(1, 2, 3), 1)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestForecastAfter_CoversFilteredTail(t *testing.T) {
	tests := []struct {
		name        string
		serviceFrom string // primeira data devolvida pelo serviço
		after       time.Time
		wantPeriods int
	}{
		{name: "anchored on the series", serviceFrom: "2024-01-04", after: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), wantPeriods: 2},
		{name: "two days filtered", serviceFrom: "2024-01-04", after: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), wantPeriods: 4},
		{name: "service skips up to today", serviceFrom: "2024-01-06", after: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), wantPeriods: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got forecastRequest
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				from, err := time.Parse(entity.DateLayout, tt.serviceFrom)
				require.NoError(t, err)
				last := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

				resp := forecastResponse{Status: statusOK}
				for i := 1; i <= got.Periods; i++ {
					d := last.AddDate(0, 0, i)
					if d.Before(from) {
						continue
					}
					resp.Forecast = append(resp.Forecast, predictedPoint{DS: d.Format(entity.DateLayout), YHat: 5, YHatLower: 4, YHatUpper: 6})
				}
				require.NoError(t, json.NewEncoder(w).Encode(resp))
			}))
			defer server.Close()

			points, err := newClient(server.URL).ForecastAfter(context.Background(), history(100, 110, 105), tt.after, 2)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPeriods, got.Periods)

			require.Len(t, points, 2)
			assert.Equal(t, tt.after.AddDate(0, 0, 1), points[0].Date)
			assert.Equal(t, tt.after.AddDate(0, 0, 2), points[1].Date)
		})
	}
}

func TestForecastAfter_EarlierAnchorUsesSeriesEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"success","forecast":[{"ds":"2024-01-04","yhat":1,"yhat_lower":1,"yhat_upper":1}]}`)
	}))
	defer server.Close()

	points, err := newClient(server.URL).ForecastAfter(context.Background(), history(1, 2, 3), time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), 1)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "2024-01-04", points[0].Date.Format(entity.DateLayout))
}

func TestHealth(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.WriteString(w, `{"status":"healthy"}`)
	}))
	defer server.Close()

	client := newClient(server.URL + "/")
	assert.NoError(t, client.Health(context.Background()))

	healthy = false
	assert.ErrorIs(t, client.Health(context.Background()), types.ErrForecastUnavailable)
}

func TestNewFromConfig(t *testing.T) {
	cfg := types.Config{}
	cfg.ApplyDefaults()

	client := NewFromConfig(cfg.Forecast, zerolog.Nop(), nil)
	assert.Equal(t, "http://localhost:5002", client.baseURL)
	assert.True(t, client.opts.WeeklySeasonality)
	assert.False(t, client.opts.YearlySeasonality)
	assert.Equal(t, 30*time.Second, client.client.Timeout)
}
