package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrPathNotFound — путь отсутствует в документе.
var ErrPathNotFound = errors.New("path not found")

// ConfigDocument — конфигурационный документ продукта (только чтение).
//
// Корень документа — "masterConfig" для TEST или "allianceConfig" для PROD.
type ConfigDocument struct {
	raw []byte
}

// NewConfigDocument проверяет, что raw — JSON-объект, и оборачивает его.
func NewConfigDocument(raw []byte) (*ConfigDocument, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("config document is not valid json")
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return nil, errors.New("config document is not a json object")
	}
	return &ConfigDocument{raw: raw}, nil
}

// WrapConfigDocument заворачивает тело ответа сервиса конфигурации под
// корень root: {"<root>": body}.
func WrapConfigDocument(root string, body []byte) (*ConfigDocument, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("config document is not valid json")
	}
	key, err := json.Marshal(root)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, 0, len(body)+len(key)+3)
	raw = append(raw, '{')
	raw = append(raw, key...)
	raw = append(raw, ':')
	raw = append(raw, body...)
	raw = append(raw, '}')
	return NewConfigDocument(raw)
}

// Raw возвращает исходные байты документа.
func (d *ConfigDocument) Raw() []byte {
	if d == nil {
		return nil
	}
	return d.raw
}

// Lookup читает значение по сегментам пути.
// Отсутствующий путь даёт ErrPathNotFound с bracket-представлением пути.
func (d *ConfigDocument) Lookup(segments []string) (any, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: %s (no config document)", ErrPathNotFound, BracketPath(segments))
	}

	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = escapePathSegment(s)
	}

	res := gjson.GetBytes(d.raw, strings.Join(parts, "."))
	if !res.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, BracketPath(segments))
	}
	return res.Value(), nil
}

// BracketPath форматирует путь в виде ['a']['b'][0]:
// числовые сегменты без кавычек, остальные в одинарных кавычках.
func BracketPath(segments []string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('[')
		if isNumeric(s) {
			b.WriteString(s)
		} else {
			b.WriteByte('\'')
			b.WriteString(s)
			b.WriteByte('\'')
		}
		b.WriteByte(']')
	}
	return b.String()
}

// HasChildrenConvention проверяет, что под интерфейсом лежит объект
// "children", а его элементы содержат "value" или вложенные "children".
func (d *ConfigDocument) HasChildrenConvention(root, interfaceName string) bool {
	if d == nil {
		return false
	}
	children := gjson.GetBytes(d.raw, escapePathSegment(root)+"."+escapePathSegment(interfaceName)+".children")
	if !children.Exists() || !children.IsObject() {
		return false
	}
	ok := true
	children.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() || (!v.Get("value").Exists() && !v.Get("children").Exists()) {
			ok = false
		}
		return ok
	})
	return ok
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

// escapePathSegment экранирует служебные символы синтаксиса gjson.
func escapePathSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '.', '*', '?', '|', '#', '@', '!', '=', '<', '>', '%', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
