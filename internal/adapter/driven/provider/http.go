package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
	"github.com/diillson/cloud-finops-engine/internal/shared/types"
)

// maxErrorBody limita o corpo de erro copiado para as mensagens.
const maxErrorBody = 512

// TokenSource fornece o bearer token de uma conta.
type TokenSource func(ctx context.Context, account entity.AccountRef) (string, error)

// EnvTokenSource lê o token da variável indicada em account.TokenEnv,
// ou de fallbackEnv quando a conta não define uma.
func EnvTokenSource(fallbackEnv string) TokenSource {
	return func(_ context.Context, account entity.AccountRef) (string, error) {
		name := account.TokenEnv
		if name == "" {
			name = fallbackEnv
		}
		token := strings.TrimSpace(os.Getenv(name))
		if token == "" {
			return "", fmt.Errorf("%w: environment variable %s is empty", types.ErrUnauthorized, name)
		}
		return token, nil
	}
}

// ClassifyStatus mapeia um status HTTP para o tipo de erro do provedor.
func ClassifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return types.ErrUnauthorized
	case status == http.StatusTooManyRequests:
		return types.ErrRateLimited
	case status == http.StatusBadRequest, status == http.StatusNotFound, status == http.StatusUnprocessableEntity:
		return types.ErrMalformed
	default:
		return types.ErrUnavailable
	}
}

// DoJSON envia body como JSON com o bearer token e decodifica a resposta em out.
func DoJSON(ctx context.Context, client *http.Client, method, url, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encoding request: %v", types.ErrMalformed, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", types.ErrMalformed, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", types.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if kind := ClassifyStatus(resp.StatusCode); kind != nil {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: HTTP %d: %s", kind, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", types.ErrMalformed, err)
	}
	return nil
}
