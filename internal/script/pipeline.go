package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/shaiso/Operon/internal/fault"
)

// ErrEmptyPipeline — пайплайн не содержит собранного скрипта.
var ErrEmptyPipeline = errors.New("pipeline has no combined script")

// PipelineClient получает собранный скрипт пайплайна.
type PipelineClient struct {
	http *resty.Client
	url  string
}

// NewPipelineClient создаёт клиент сервиса пайплайнов.
func NewPipelineClient(url string, timeout time.Duration) *PipelineClient {
	return &PipelineClient{
		http: resty.New().SetTimeout(timeout),
		url:  url,
	}
}

// CombinedScript возвращает поле combinedScript пайплайна id версии version.
func (c *PipelineClient) CombinedScript(ctx context.Context, auth, id, version string) ([]byte, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("pipelineId", id).
		SetQueryParam("version", version)
	if auth != "" {
		req.SetHeader("Authorization", auth)
	}

	resp, err := req.Get(c.url)
	if err != nil {
		return nil, fault.Wrap(fault.Retryable, fault.CodeConnection, err, "fetch pipeline %s: %v", id, err)
	}
	if f := fault.FromStatus(resp.StatusCode(), fmt.Sprintf("fetch pipeline %s: %s", id, resp.Status())); f != nil {
		return nil, f
	}

	script := gjson.GetBytes(resp.Body(), "combinedScript")
	if !script.Exists() || script.String() == "" {
		return nil, fault.WrapNonRetryable(ErrEmptyPipeline, "pipeline %s-%s has no combined script", id, version)
	}
	return []byte(script.String()), nil
}
