package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/Operon/internal/domain"
	"github.com/shaiso/Operon/internal/fault"
	"github.com/shaiso/Operon/internal/telemetry"
)

// HeaderContentType — имя заголовка типа содержимого.
const HeaderContentType = "Content-Type"

// SecretReader читает секреты по пути хранилища.
type SecretReader interface {
	Read(ctx context.Context, path string) (map[string]string, error)
}

// Request — собранный исходящий запрос REST-операции.
type Request struct {
	Method      string
	URL         string
	Headers     map[string]string
	PathParams  map[string]string
	QueryParams map[string]string
	ContentType domain.ContentType

	// Body — тело запроса. Тип зависит от ContentType:
	// JSON — документ (map, срез или скаляр), формы — map[string]any,
	// XML и text/plain — string, octet-stream — значение как есть.
	Body any
}

// Assembler собирает REST-запрос из полей входной модели.
type Assembler struct {
	resolver *Resolver
	secrets  SecretReader
}

// NewAssembler создаёт Assembler. secrets может быть nil —
// тогда операция выполняется без секретов.
func NewAssembler(resolver *Resolver, secrets SecretReader) *Assembler {
	return &Assembler{resolver: resolver, secrets: secrets}
}

// LoadSecrets читает секреты продукта в op.Secrets.
// Ошибка чтения логируется, операция продолжается с пустой картой.
func (a *Assembler) LoadSecrets(ctx context.Context, op *domain.Operation) {
	op.Secrets = map[string]string{}
	if a.secrets == nil {
		return
	}
	secrets, err := a.secrets.Read(ctx, op.SecretsPath())
	if err != nil {
		telemetry.FromContext(ctx).Error("failed to read secrets",
			"path", op.SecretsPath(),
			"error", err,
		)
		return
	}
	if secrets != nil {
		op.Secrets = secrets
	}
}

// Assemble вычисляет метод, URL, заголовки, параметры и тело запроса.
// Любая ошибка вычисления возвращается как NonRetryable.
func (a *Assembler) Assemble(ctx context.Context, op *domain.Operation) (*Request, error) {
	logger := telemetry.FromContext(ctx)
	logger.Info("resolving rest api inputs",
		"activity_id", op.ActivityID(),
		"component_id", op.Input.ComponentID,
	)

	a.LoadSecrets(ctx, op)

	req, err := a.assemble(ctx, op)
	if err != nil {
		return nil, fault.WrapNonRetryable(err, "Failed to resolve rest api inputs %s: %v", op.Input.ComponentID, err)
	}
	return req, nil
}

func (a *Assembler) assemble(ctx context.Context, op *domain.Operation) (*Request, error) {
	method, err := a.resolveString(ctx, op, domain.FieldHTTPMethod)
	if err != nil {
		return nil, err
	}
	if method == "" {
		return nil, fmt.Errorf("%w: HTTP METHOD is null", ErrMissingField)
	}

	url, err := a.resolveString(ctx, op, domain.FieldURL)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, fmt.Errorf("%w: HTTP URL is null", ErrMissingField)
	}
	url, _, _ = strings.Cut(url, "?")

	headers, err := a.resolveStringMap(ctx, op, domain.FieldHTTPHeaders)
	if err != nil {
		return nil, err
	}
	pathParams, err := a.resolveStringMap(ctx, op, domain.FieldPathParameters)
	if err != nil {
		return nil, err
	}
	queryParams, err := a.resolveStringMap(ctx, op, domain.FieldQueryParam)
	if err != nil {
		return nil, err
	}

	if HeaderValue(headers, HeaderContentType) == "" {
		DeleteHeader(headers, HeaderContentType)
		headers[HeaderContentType] = domain.MediaJSON
	}

	ct, err := domain.ParseContentType(HeaderValue(headers, HeaderContentType))
	if err != nil {
		telemetry.FromContext(ctx).Warn("unknown content type", "content_type", HeaderValue(headers, HeaderContentType))
		return nil, fault.NewNonRetryable("Unknown content type provided")
	}

	body, err := a.ResolveBody(ctx, op, ct)
	if err != nil {
		return nil, err
	}

	return &Request{
		Method:      strings.ToUpper(method),
		URL:         url,
		Headers:     headers,
		PathParams:  pathParams,
		QueryParams: queryParams,
		ContentType: ct,
		Body:        body,
	}, nil
}

// ResolveBody вычисляет тело HTTP_PAYLOAD по типу содержимого.
func (a *Assembler) ResolveBody(ctx context.Context, op *domain.Operation, ct domain.ContentType) (any, error) {
	resolved, err := a.resolver.ResolveNamed(ctx, op, domain.FieldHTTPPayload)
	if err != nil {
		return nil, err
	}

	switch ct {
	case domain.ContentJSON:
		if resolved == nil {
			return map[string]any{}, nil
		}
		values, err := asValues(resolved)
		if err != nil {
			return nil, err
		}
		return RenderDocument(values)

	case domain.ContentFormURLEncoded, domain.ContentMultipartForm:
		form := map[string]any{}
		if resolved == nil {
			return form, nil
		}
		values, err := asValues(resolved)
		if err != nil {
			return nil, err
		}
		for _, e := range values {
			form[e.Key] = Plain(e.Value)
		}
		return form, nil

	case domain.ContentOctetStream:
		if resolved == nil {
			return nil, nil
		}
		values, err := asValues(resolved)
		if err != nil {
			return nil, err
		}
		v, _ := values.First()
		return v, nil

	case domain.ContentXML:
		if resolved == nil {
			return nil, nil
		}
		values, err := asValues(resolved)
		if err != nil {
			return nil, err
		}
		v, ok := values.First()
		if !ok {
			return nil, nil
		}
		return stringify(v), nil

	case domain.ContentPlainText:
		if resolved == nil {
			return nil, nil
		}
		return plainText(resolved), nil

	default:
		return nil, fault.NewNonRetryable("Unknown content type provided")
	}
}

func (a *Assembler) resolveString(ctx context.Context, op *domain.Operation, name string) (string, error) {
	v, err := a.resolver.ResolveNamed(ctx, op, name)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %s resolved to %T", ErrUnexpectedType, name, v)
	}
}

func (a *Assembler) resolveStringMap(ctx context.Context, op *domain.Operation, name string) (map[string]string, error) {
	v, err := a.resolver.ResolveNamed(ctx, op, name)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return map[string]string{}, nil
	}
	values, err := asValues(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return values.Strings(), nil
}

// asValues приводит результат вычисления к Values. Кроме групп
// принимаются объекты, пришедшие из переменных или конфигурации.
func asValues(v any) (Values, error) {
	switch t := v.(type) {
	case Values:
		return t, nil
	case map[string]any:
		out := make(Values, 0, len(t))
		for k, val := range t {
			out = append(out, Entry{Key: k, Value: val})
		}
		return out, nil
	case map[string]string:
		out := make(Values, 0, len(t))
		for k, val := range t {
			out = append(out, Entry{Key: k, Value: val})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected group, got %T", ErrUnexpectedType, v)
	}
}

// plainText снимает обёртку key=value: текстом тела становится значение.
func plainText(v any) string {
	if values, ok := v.(Values); ok {
		first, _ := values.First()
		return stringify(first)
	}
	s := stringify(v)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	if _, after, found := strings.Cut(s, "="); found {
		return after
	}
	return s
}

// HeaderValue ищет заголовок без учёта регистра.
func HeaderValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// DeleteHeader удаляет заголовок без учёта регистра.
func DeleteHeader(headers map[string]string, name string) {
	for k := range headers {
		if strings.EqualFold(k, name) {
			delete(headers, k)
		}
	}
}

// IsMissingField проверяет, что err вызвана отсутствием обязательного поля.
func IsMissingField(err error) bool {
	return errors.Is(err, ErrMissingField)
}
