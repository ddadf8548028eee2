package repository

import (
	"context"
	"time"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
)

// Forecaster projeta uma série histórica para períodos futuros.
type Forecaster interface {
	Forecast(ctx context.Context, series entity.CostSeries, periods int) ([]entity.ForecastPoint, error)
	// ForecastAfter devolve periods pontos consecutivos a partir do período
	// seguinte a after, que pode ser posterior ao último ponto da série.
	ForecastAfter(ctx context.Context, series entity.CostSeries, after time.Time, periods int) ([]entity.ForecastPoint, error)
}
