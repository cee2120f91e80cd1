// Package secrets читает секреты продуктов из KV-хранилища (Vault KV v2).
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// DefaultMount — точка монтирования KV-движка.
const DefaultMount = "secret"

// ErrUnexpectedStatus — хранилище ответило не 2xx.
var ErrUnexpectedStatus = errors.New("secret store responded with unexpected status")

// Client — клиент KV-хранилища.
type Client struct {
	http  *resty.Client
	mount string
}

// NewClient создаёт клиент для baseURL с токеном token.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("X-Vault-Token", token),
		mount: DefaultMount,
	}
}

// Read возвращает секреты по пути. Отсутствующий путь даёт пустую карту.
// Нестроковые значения приводятся к строке.
func (c *Client) Read(ctx context.Context, path string) (map[string]string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/v1/" + c.mount + "/data/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("read secret %s: %w", path, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return map[string]string{}, nil
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: %s: %d", ErrUnexpectedStatus, path, resp.StatusCode())
	}

	out := map[string]string{}
	gjson.GetBytes(resp.Body(), "data.data").ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.String()
		return true
	})
	return out, nil
}
