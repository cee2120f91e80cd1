// Package configsvc получает конфигурационный документ продукта.
//
// TEST — мастер-конфигурация по masterConfigId и имени интерфейса,
// PROD — конфигурация альянса по buyerId и appId. Оба документа
// читаются одной грамматикой путей (children/value).
package configsvc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/shaiso/Operon/internal/cache"
	"github.com/shaiso/Operon/internal/domain"
	"github.com/shaiso/Operon/internal/fault"
	"github.com/shaiso/Operon/internal/telemetry"
)

// Параметры шаблонов URL.
const (
	ParamMasterConfigID = "masterConfigId"
	ParamBuyerID        = "buyerId"
	ParamAppID          = "appId"
	QueryInterfaceName  = "interfaceName"
)

// Fetcher возвращает конфигурационный документ операции.
type Fetcher interface {
	Fetch(ctx context.Context, op *domain.Operation) (*domain.ConfigDocument, error)
}

// Client — HTTP-клиент сервиса конфигурации.
type Client struct {
	http            *resty.Client
	masterConfigURL string
	allianceURL     string
}

// NewClient создаёт клиент. URL — шаблоны с {masterConfigId} и {buyerId}/{appId}.
func NewClient(masterConfigURL, allianceURL string, timeout time.Duration) *Client {
	return &Client{
		http:            resty.New().SetTimeout(timeout),
		masterConfigURL: masterConfigURL,
		allianceURL:     allianceURL,
	}
}

// Fetch реализует Fetcher.
func (c *Client) Fetch(ctx context.Context, op *domain.Operation) (*domain.ConfigDocument, error) {
	logger := telemetry.FromContext(ctx)
	root := op.Environment.ConfigRoot()

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", op.Task.StringVariable(domain.GlobalAuthorization))

	var (
		url  string
		what string
	)
	if op.Environment == domain.EnvironmentProd {
		url, what = c.allianceURL, "alliance config"
		req.SetPathParam(ParamBuyerID, op.TenantID).
			SetPathParam(ParamAppID, op.AppID)
	} else {
		url, what = c.masterConfigURL, "masterConfig"
		req.SetPathParam(ParamMasterConfigID, op.Input.ProductMasterConfigID)
		if name := op.Input.InterfaceName(); name != "" {
			req.SetQueryParam(QueryInterfaceName, name)
		}
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, fault.Wrap(fault.Retryable, fault.CodeConnection, err,
			"Api to retrieve the %s for product %s from %s :: %v", what, op.ProductID(), url, err)
	}
	if f := fault.FromStatus(resp.StatusCode(), fmt.Sprintf(
		"Api to retrieve the %s for product %s from %s :: %s", what, op.ProductID(), url, resp.Status())); f != nil {
		return nil, f
	}

	body := resp.Body()
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fault.NewNonRetryable("No %s available for product %s", what, op.ProductID())
	}
	logger.Info("received config document", "root", root, "component_id", op.ProductID())

	doc, err := Document(root, body)
	if err != nil {
		return nil, fault.WrapNonRetryable(err,
			"Error parsing the json of %s for product %s :: %v", what, op.ProductID(), err)
	}

	if name := op.Input.InterfaceName(); name != "" && !doc.HasChildrenConvention(root, name) {
		logger.Warn("config document does not follow children/value convention",
			"root", root,
			"interface", name,
		)
	}
	return doc, nil
}

// Document строит документ из тела ответа. Если тело уже содержит корень,
// оно используется как есть, иначе заворачивается под корень.
func Document(root string, body []byte) (*domain.ConfigDocument, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json")
	}
	parsed := gjson.ParseBytes(body)
	if parsed.IsObject() && parsed.Get(root).Exists() {
		return domain.NewConfigDocument(body)
	}
	return domain.WrapConfigDocument(root, body)
}

// Cached — Fetcher с кэшем документов.
type Cached struct {
	next  Fetcher
	cache cache.Cache
}

// NewCached оборачивает next кэшем. Срок жизни задаёт сам кэш.
func NewCached(next Fetcher, c cache.Cache) *Cached {
	return &Cached{next: next, cache: c}
}

// Fetch реализует Fetcher. Ошибки кэша не мешают получению документа.
func (c *Cached) Fetch(ctx context.Context, op *domain.Operation) (*domain.ConfigDocument, error) {
	logger := telemetry.FromContext(ctx)
	key := Key(op)

	if raw, ok, err := c.cache.Get(ctx, key); err != nil {
		logger.Warn("config cache get failed", "key", key, "error", err)
	} else if ok {
		if doc, err := domain.NewConfigDocument([]byte(raw)); err == nil {
			logger.Debug("config cache hit", "key", key)
			return doc, nil
		}
	}

	doc, err := c.next.Fetch(ctx, op)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(ctx, key, string(doc.Raw())); err != nil {
		logger.Warn("config cache put failed", "key", key, "error", err)
	}
	return doc, nil
}

// Key возвращает ключ кэша документа операции.
func Key(op *domain.Operation) string {
	if op.Environment == domain.EnvironmentProd {
		return "config:PROD:" + op.TenantID + ":" + op.AppID
	}
	return "config:TEST:" + op.Input.ProductMasterConfigID + ":" + op.Input.InterfaceName()
}
