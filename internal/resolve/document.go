package resolve

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RenderDocument собирает JSON-документ из плоского набора путей.
//
// Пути вида "a.b", "a[0].c", "items[*]" задают вложенность; "[*]"
// добавляет элемент в конец массива. Недостающие контейнеры создаются
// по следующему сегменту: число или '*' даёт массив, имя — объект.
// Ключ "$" или "_$" означает корень документа: его значение возвращается
// как есть. Пустые значения пропускаются.
func RenderDocument(entries Values) (any, error) {
	var (
		root    any = map[string]any{}
		rootVal any
		hasRoot bool
	)

	for _, e := range entries {
		if isEmpty(e.Value) {
			continue
		}
		value := documentValue(e.Value)

		tokens := pathTokens(e.Key)
		if len(tokens) == 0 {
			rootVal, hasRoot = value, true
			continue
		}

		next, err := setPath(root, tokens, value, "")
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", e.Key, err)
		}
		root = next
	}

	if hasRoot {
		return rootVal, nil
	}
	return root, nil
}

// pathTokens нормализует путь в список сегментов.
// Пустой список означает корень документа.
func pathTokens(path string) []string {
	if path == "$" || path == "_$" {
		return nil
	}
	p := strings.TrimPrefix(path, "_$")
	p = strings.TrimPrefix(p, "$")
	p = strings.ReplaceAll(p, ".[", "[")
	p = strings.ReplaceAll(p, "[", ".")
	p = strings.ReplaceAll(p, "]", "")

	var tokens []string
	for _, t := range strings.Split(p, ".") {
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func isArrayToken(t string) bool {
	if t == "*" {
		return true
	}
	_, err := strconv.Atoi(t)
	return err == nil
}

// setPath записывает value по tokens внутри parent и возвращает
// обновлённый parent (срезы при росте переаллоцируются).
func setPath(parent any, tokens []string, value any, traversed string) (any, error) {
	if len(tokens) == 0 {
		return value, nil
	}
	tok := tokens[0]
	here := traversed + "/" + tok

	if parent == nil {
		if isArrayToken(tok) {
			parent = []any{}
		} else {
			parent = map[string]any{}
		}
	}

	switch p := parent.(type) {
	case map[string]any:
		child, err := setPath(p[tok], tokens[1:], value, here)
		if err != nil {
			return nil, err
		}
		p[tok] = child
		return p, nil

	case []any:
		idx := len(p)
		if tok != "*" {
			n, err := strconv.Atoi(tok)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: `%s` under `%s`", ErrBadIndex, tok, parentPointer(traversed))
			}
			idx = n
		}
		for len(p) <= idx {
			p = append(p, nil)
		}
		child, err := setPath(p[idx], tokens[1:], value, here)
		if err != nil {
			return nil, err
		}
		p[idx] = child
		return p, nil

	default:
		return nil, fmt.Errorf("%w: `%s` can't be set for parent node `%s` because parent is not a container but %s",
			ErrNotContainer, tok, parentPointer(traversed), nodeType(parent))
	}
}

func parentPointer(traversed string) string {
	if traversed == "" {
		return "/"
	}
	return traversed
}

func nodeType(v any) string {
	switch v.(type) {
	case string:
		return "STRING"
	case bool:
		return "BOOLEAN"
	case float64, float32, int, int64, int32, json.Number:
		return "NUMBER"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// documentValue встраивает строки с JSON-объектом или массивом как JSON,
// группы превращает в объекты.
func documentValue(v any) any {
	switch t := v.(type) {
	case Values:
		return t.Map()
	case string:
		s := strings.TrimSpace(t)
		if (strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")) && json.Valid([]byte(s)) {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
		return t
	default:
		return v
	}
}
