package types

import (
	"context"
	"errors"
	"fmt"
)

// Erros de provedor.
var (
	ErrUnauthorized = errors.New("provider rejected the credentials")
	ErrRateLimited  = errors.New("provider rate limit exceeded")
	ErrUnavailable  = errors.New("provider unavailable")
	ErrMalformed    = errors.New("malformed provider request or response")
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrCacheUnavailable    = errors.New("cache store unavailable")
	ErrForecastUnavailable = errors.New("forecast service unavailable")
	ErrInvalidForecast     = errors.New("invalid forecast input")
	ErrUnknownProvider     = errors.New("no cost client registered for provider")
	ErrNoAccountsFound     = errors.New("no accounts configured. Please add accounts to the configuration file")
)

// ErrorClass é a classificação de um erro exposta nos relatórios.
type ErrorClass string

const (
	ClassTransientProvider   ErrorClass = "TransientProviderError"
	ClassAuthProvider        ErrorClass = "AuthProviderError"
	ClassCacheUnavailable    ErrorClass = "CacheUnavailable"
	ClassForecastUnavailable ErrorClass = "ForecastUnavailable"
	ClassInvalidRequest      ErrorClass = "InvalidRequest"
)

// ProviderError carrega o tipo de falha de uma chamada a um provedor.
type ProviderError struct {
	Provider string
	Account  string
	Kind     error
	Err      error
}

// NewProviderError cria um ProviderError do tipo kind.
func NewProviderError(provider, account string, kind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Account: account, Kind: kind, Err: err}
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s account %s: %v", e.Provider, e.Account, e.Kind)
	}
	if errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("%s account %s: %v", e.Provider, e.Account, e.Err)
	}
	return fmt.Sprintf("%s account %s: %v: %v", e.Provider, e.Account, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// InvalidRequestf cria um erro que envolve ErrInvalidRequest.
func InvalidRequestf(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, a...))
}

// ClassOf mapeia qualquer erro para a taxonomia.
func ClassOf(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return ClassInvalidRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrMalformed), errors.Is(err, ErrUnknownProvider):
		return ClassAuthProvider
	case errors.Is(err, ErrCacheUnavailable):
		return ClassCacheUnavailable
	case errors.Is(err, ErrForecastUnavailable), errors.Is(err, ErrInvalidForecast):
		return ClassForecastUnavailable
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ClassTransientProvider
	default:
		return ClassTransientProvider
	}
}

// Retryable reports whether err is worth retrying locally.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
