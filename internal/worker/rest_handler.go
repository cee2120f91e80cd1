package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/shaiso/Operon/internal/configsvc"
	"github.com/shaiso/Operon/internal/domain"
	"github.com/shaiso/Operon/internal/fault"
	"github.com/shaiso/Operon/internal/metering"
	"github.com/shaiso/Operon/internal/project"
	"github.com/shaiso/Operon/internal/resolve"
	"github.com/shaiso/Operon/internal/telemetry"
)

// Заголовки, которые REST-операция добавляет к каждому запросу.
const (
	HeaderProductID     = "productId"
	HeaderBuyerID       = "buyerId"
	HeaderAuthorization = "Authorization"
)

// HTTPClientConfig — параметры общего пула соединений к нижестоящим API.
type HTTPClientConfig struct {
	ReadTimeout    time.Duration
	ConnectTimeout time.Duration
	MaxPoolSize    int
	MaxPerRoute    int
}

// NewHTTPClient создаёт общий клиент для REST-операций.
// Клиент безопасен для конкурентного использования.
func NewHTTPClient(cfg HTTPClientConfig) *resty.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		MaxIdleConns:        cfg.MaxPoolSize,
		MaxIdleConnsPerHost: cfg.MaxPerRoute,
		MaxConnsPerHost:     cfg.MaxPerRoute,
		IdleConnTimeout:     90 * time.Second,
	}
	return resty.New().
		SetTransport(transport).
		SetTimeout(cfg.ReadTimeout)
}

// RESTHandler выполняет REST-операции топика ApiOperationHandler.
type RESTHandler struct {
	configs   configsvc.Fetcher
	assembler *resolve.Assembler
	client    *resty.Client
	projector *project.Projector
	metering  *metering.Dispatcher
}

// NewRESTHandler создаёт обработчик. meter может быть nil.
func NewRESTHandler(configs configsvc.Fetcher, assembler *resolve.Assembler, client *resty.Client, meter *metering.Dispatcher) *RESTHandler {
	return &RESTHandler{
		configs:   configs,
		assembler: assembler,
		client:    client,
		projector: project.New(),
		metering:  meter,
	}
}

func (h *RESTHandler) Component() string { return TopicAPIOperation }

func (h *RESTHandler) Mandatory() []string {
	return []string{domain.FieldHTTPMethod, domain.FieldURL}
}

// Prepare загружает конфигурацию продукта и собирает запрос.
func (h *RESTHandler) Prepare(ctx context.Context, op *domain.Operation) (Action, error) {
	req, err := h.Request(ctx, op)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (*Response, error) {
		return h.execute(ctx, op, req)
	}, nil
}

// Request загружает конфигурацию и собирает запрос без отправки.
func (h *RESTHandler) Request(ctx context.Context, op *domain.Operation) (*resolve.Request, error) {
	doc, err := h.configs.Fetch(ctx, op)
	if err != nil {
		return nil, err
	}
	op.Config = doc

	req, err := h.assembler.Assemble(ctx, op)
	if err != nil {
		return nil, err
	}
	decorate(op, req)
	return req, nil
}

// Project записывает объявленные выходы из тела ответа.
func (h *RESTHandler) Project(ctx context.Context, op *domain.Operation, resp *Response) error {
	return h.projector.Project(ctx, op, resp.Body, resp.ContentType)
}

// decorate добавляет служебные заголовки и убирает Content-Type
// у форм: его выставляет клиент вместе с boundary.
func decorate(op *domain.Operation, req *resolve.Request) {
	req.Headers[HeaderProductID] = op.Input.ComponentID
	req.Headers[HeaderBuyerID] = op.TenantID
	if resolve.HeaderValue(req.Headers, HeaderAuthorization) == "" {
		resolve.DeleteHeader(req.Headers, HeaderAuthorization)
		if auth := op.Task.StringVariable(domain.GlobalAuthorization); auth != "" {
			req.Headers[HeaderAuthorization] = auth
		}
	}
	if req.ContentType.IsForm() {
		resolve.DeleteHeader(req.Headers, resolve.HeaderContentType)
	}
}

func (h *RESTHandler) execute(ctx context.Context, op *domain.Operation, req *resolve.Request) (*Response, error) {
	logger := telemetry.FromContext(ctx)

	r := h.client.R().
		SetContext(ctx).
		SetHeaders(req.Headers).
		SetPathParams(req.PathParams).
		SetQueryParams(req.QueryParams)

	if err := setBody(r, req); err != nil {
		return nil, err
	}

	logger.Info("calling rest api", "method", req.Method, "url", req.URL)
	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		code := fault.CodeConnection
		if errors.Is(err, context.DeadlineExceeded) {
			code = fault.CodeTimeout
		}
		return nil, fault.Wrap(fault.Retryable, code, err, "Rest api call %s %s failed :: %v", req.Method, req.URL, err)
	}

	status := resp.StatusCode()
	op.SetVariable(domain.ResponseCodeKey(op.ActivityID()), status)
	op.SetVariable(domain.APIResponseKey(op.ActivityID()),
		fmt.Sprintf("Rest api call %s %s responded with code %d", req.Method, req.URL, status))
	logger.Info("rest api responded", "status", status, "duration", resp.Time())

	h.metering.APICall(ctx, op, metering.APICall{
		URL:          req.URL,
		Method:       req.Method,
		RequestBody:  bodyString(req.Body),
		ResponseBody: string(resp.Body()),
		Status:       status,
		RequestType:  req.ContentType.String(),
		DownloadSize: resp.Size(),
	})

	if f := fault.FromStatus(status, fmt.Sprintf("Rest api call %s %s responded with code %d :: %s",
		req.Method, req.URL, status, truncate(string(resp.Body()), 512))); f != nil {
		return nil, f
	}

	return &Response{
		Status:      status,
		Body:        resp.Body(),
		ContentType: resp.Header().Get(resolve.HeaderContentType),
	}, nil
}

// setBody переносит тело запроса в resty по типу содержимого.
func setBody(r *resty.Request, req *resolve.Request) error {
	switch req.ContentType {
	case domain.ContentFormURLEncoded, domain.ContentMultipartForm:
		fields, _ := req.Body.(map[string]any)
		form := make(map[string]string, len(fields))
		for k, v := range fields {
			form[k] = bodyString(v)
		}
		if req.ContentType == domain.ContentMultipartForm {
			r.SetMultipartFormData(form)
		} else {
			r.SetFormData(form)
		}
	case domain.ContentJSON:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return fault.WrapNonRetryable(err, "Error serializing request body: %v", err)
		}
		r.SetBody(data)
	default:
		switch b := req.Body.(type) {
		case nil:
		case string:
			r.SetBody([]byte(b))
		case []byte:
			r.SetBody(b)
		default:
			r.SetBody([]byte(bodyString(b)))
		}
	}
	return nil
}

// bodyString приводит значение тела к строке: строки как есть,
// остальное как JSON.
func bodyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
