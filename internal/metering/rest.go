package metering

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"

	"github.com/shaiso/Operon/internal/telemetry"
)

// ErrNotAccepted — ингестия не вернула 201.
var ErrNotAccepted = errors.New("ingestion did not accept the record")

// RESTSink отправляет записи в REST-ингестию по schemaId.
type RESTSink struct {
	http       *resty.Client
	url        string
	maxRetries uint64
	base       time.Duration
}

// NewRESTSink создаёт приёмник. url — шаблон с {schemaId}.
// Повторяются только ошибки транспорта и ответы 5xx.
func NewRESTSink(url string, timeout time.Duration, maxRetries uint64, base time.Duration) *RESTSink {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	return &RESTSink{
		http:       resty.New().SetTimeout(timeout),
		url:        url,
		maxRetries: maxRetries,
		base:       base,
	}
}

// Send отправляет запись record под схемой schemaID.
func (s *RESTSink) Send(ctx context.Context, schemaID, auth string, record any) error {
	logger := telemetry.FromContext(ctx)
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.base))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := s.http.R().
			SetContext(ctx).
			SetHeader("Authorization", auth).
			SetPathParam("schemaId", schemaID).
			SetBody([]any{record}).
			Post(s.url)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("post to ingestion: %w", err))
		}

		status := resp.StatusCode()
		if status == http.StatusCreated {
			logger.Debug("posted record to ingestion", "schema_id", schemaID)
			return nil
		}
		err = fmt.Errorf("%w: schema %s: status %d", ErrNotAccepted, schemaID, status)
		if status >= 500 {
			return retry.RetryableError(err)
		}
		return err
	})
}
