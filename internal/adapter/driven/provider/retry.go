package provider

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

// RetryPolicy é o backoff exponencial aplicado a erros de rate limit.
type RetryPolicy struct {
	// Attempts é o número total de tentativas, incluindo a primeira.
	Attempts int
	Base     time.Duration
	Factor   float64
	// Jitter é a fração aleatória aplicada a cada espera (0.2 = ±20%).
	Jitter float64

	random func() float64
}

// DefaultRetryPolicy: 3 tentativas, base 500ms, fator 2, jitter ±20%.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 500 * time.Millisecond, Factor: 2, Jitter: 0.2}
}

// RetryPolicyFromConfig converte a configuração do arquivo.
func RetryPolicyFromConfig(cfg types.RetryConfig) RetryPolicy {
	return RetryPolicy{
		Attempts: cfg.Attempts,
		Base:     time.Duration(cfg.BaseMs) * time.Millisecond,
		Factor:   cfg.Factor,
		Jitter:   cfg.Jitter,
	}
}

// Delay retorna a espera antes da tentativa attempt+1 (attempt começa em 0).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.Base) * math.Pow(p.Factor, float64(attempt))
	if p.Jitter > 0 {
		rnd := rand.Float64
		if p.random != nil {
			rnd = p.random
		}
		d *= 1 + p.Jitter*(2*rnd()-1)
	}
	return time.Duration(d)
}

// Do executa fn, repetindo apenas quando o erro é de rate limit.
// onRetry, se não for nil, é chamado antes de cada nova tentativa.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !types.Retryable(err) || attempt == attempts-1 {
			return err
		}

		if onRetry != nil {
			onRetry(attempt+1, err)
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
