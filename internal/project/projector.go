// Package project записывает значения из ответа внешнего вызова
// в переменные времени выполнения операции.
package project

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/shaiso/Operon/internal/domain"
	"github.com/shaiso/Operon/internal/fault"
	"github.com/shaiso/Operon/internal/telemetry"
)

// RootPath — путь, означающий весь документ.
const RootPath = "_$"

type format int

const (
	formatJSON format = iota
	formatXML
	formatRaw
)

// Projector извлекает выходные переменные из тела ответа.
type Projector struct {
	encodeAll bool
}

// Option настраивает Projector.
type Option func(*Projector)

// WithJSONEncodedValues включает запись каждого значения в виде JSON-строки.
// Используется для результатов скриптов и terraform show.
func WithJSONEncodedValues() Option {
	return func(p *Projector) { p.encodeAll = true }
}

// New создаёт Projector.
func New(opts ...Option) *Projector {
	p := &Projector{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Project читает объявленные выходы операции из body и пишет их в
// op.Variables. Ничего не делает, если выходов нет или тело пустое.
//
// Отсутствующий в ответе путь не ошибка: переменная получает nil,
// в лог пишется предупреждение. Ошибка разбора тела — NonRetryable.
func (p *Projector) Project(ctx context.Context, op *domain.Operation, body []byte, contentType string) error {
	if op.Output.Empty() || len(body) == 0 {
		return nil
	}

	logger := telemetry.FromContext(ctx)

	switch detectFormat(contentType) {
	case formatRaw:
		logger.Info("projecting raw response", "content_type", contentType)
		for variable, attr := range op.Output.Items {
			if attr.Property == "" {
				continue
			}
			op.SetVariable(variable, string(body))
		}
		return nil

	case formatXML:
		logger.Info("projecting xml response", "content_type", contentType)
		tree, err := parseXML(body)
		if err != nil {
			return fault.Wrap(fault.NonRetryable, fault.CodeValidation, err, "Error parsing xml response body %s", truncate(string(body), 256))
		}
		doc, err := json.Marshal(tree)
		if err != nil {
			return fault.Wrap(fault.NonRetryable, fault.CodeValidation, err, "Error converting xml response body")
		}
		return p.projectDocument(ctx, op, doc, xmlPath)

	default:
		logger.Info("projecting json response", "content_type", contentType)
		if !gjson.ValidBytes(body) {
			return fault.NewNonRetryable("Error parsing json response body : %s", truncate(string(body), 256))
		}
		return p.projectDocument(ctx, op, body, jsonPath)
	}
}

func (p *Projector) projectDocument(ctx context.Context, op *domain.Operation, doc []byte, normalize func(string) string) error {
	logger := telemetry.FromContext(ctx)

	for variable, attr := range op.Output.Items {
		if attr.Property == "" {
			continue
		}

		var res gjson.Result
		if attr.Property == RootPath {
			res = gjson.ParseBytes(doc)
		} else {
			res = gjson.GetBytes(doc, normalize(attr.Property))
		}

		if !res.Exists() {
			logger.Warn("path not found in response body",
				"variable", variable,
				"path", attr.Property,
			)
			op.SetVariable(variable, nil)
			continue
		}

		value, err := p.storedValue(res)
		if err != nil {
			return fault.Wrap(fault.NonRetryable, fault.CodeValidation, err, "Error serializing JSON value")
		}
		op.SetVariable(variable, value)
	}
	return nil
}

// storedValue возвращает значение для записи в переменную: массивы
// (или все значения в режиме encodeAll) сериализуются в JSON-строку.
func (p *Projector) storedValue(res gjson.Result) (any, error) {
	if p.encodeAll || res.IsArray() {
		value := res.Value()
		out, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		return string(out), nil
	}
	return res.Value(), nil
}

func detectFormat(contentType string) format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, domain.MediaXML):
		return formatXML
	case strings.Contains(ct, domain.MediaOctetStream),
		strings.Contains(ct, domain.MediaPlainText),
		strings.Contains(ct, domain.MediaNDJSON):
		return formatRaw
	default:
		return formatJSON
	}
}

var (
	bracketIndex = regexp.MustCompile(`\[(\d+)\]`)
	bracketName  = regexp.MustCompile(`\['([^']*)'\]`)
)

// rootPrefixes — обозначения корня в начале пути, от длинного к короткому.
var rootPrefixes = []string{"_$.", "_$", "$.", "$"}

// jsonPath переводит путь выхода в синтаксис gjson:
// '#' → '.', "$." и "_$." отбрасываются, [n] → .n, ['x'] → .x,
// [*].x → .#.x (значения x из всех элементов), хвостовой [*] — сам массив.
func jsonPath(path string) string {
	p := strings.ReplaceAll(path, "#", ".")
	for _, prefix := range rootPrefixes {
		if rest, ok := strings.CutPrefix(p, prefix); ok {
			p = rest
			break
		}
	}
	p = bracketName.ReplaceAllString(p, ".$1")
	p = bracketIndex.ReplaceAllString(p, ".$1")
	p = strings.TrimSuffix(p, "[*]")
	p = strings.ReplaceAll(p, "[*]", ".#")
	p = strings.ReplaceAll(p, "..", ".")
	return strings.TrimPrefix(p, ".")
}

// xmlPath читает пути от корневого элемента: "ROOT.a" и "a" указывают
// на один узел. Путь, уже начинающийся с ключа "root", не меняется.
func xmlPath(path string) string {
	if rest, ok := strings.CutPrefix(path, "ROOT."); ok {
		return xmlRootKey + "." + jsonPath(rest)
	}
	p := jsonPath(path)
	if p == "" || p == xmlRootKey || strings.HasPrefix(p, xmlRootKey+".") {
		return p
	}
	return xmlRootKey + "." + p
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
