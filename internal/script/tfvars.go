package script

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RenderTFVars рендерит переменные в формат terraform.tfvars: key = value.
// Ключи идут по алфавиту.
func RenderTFVars(vars map[string]any) ([]byte, error) {
	var b strings.Builder
	for _, key := range sortedKeys(vars) {
		v, err := tfValue(vars[key], "")
		if err != nil {
			return nil, fmt.Errorf("tfvars %s: %w", key, err)
		}
		b.WriteString(key)
		b.WriteString(" = ")
		b.WriteString(v)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

func tfValue(v any, indent string) (string, error) {
	switch t := v.(type) {
	case string:
		// строки с JSON-массивом или объектом вставляются как есть
		if (strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]")) ||
			(strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}")) {
			return t, nil
		}
		return strconv.Quote(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			s, err := tfValue(item, indent)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case map[string]any:
		inner := indent + "  "
		lines := make([]string, 0, len(t))
		for _, k := range sortedKeys(t) {
			s, err := tfValue(t[k], inner)
			if err != nil {
				return "", err
			}
			lines = append(lines, inner+k+" = "+s)
		}
		return "{\n" + strings.Join(lines, "\n") + "\n" + indent + "}", nil
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
