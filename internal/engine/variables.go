package engine

import (
	"encoding/json"
	"fmt"
	"math"
)

// Типы переменных движка.
const (
	TypeString  = "String"
	TypeBoolean = "Boolean"
	TypeInteger = "Integer"
	TypeLong    = "Long"
	TypeDouble  = "Double"
	TypeJSON    = "Json"
	TypeNull    = "Null"
)

// Variable — переменная в формате движка.
type Variable struct {
	Value     any            `json:"value"`
	Type      string         `json:"type"`
	ValueInfo map[string]any `json:"valueInfo,omitempty"`
}

// EncodeVariables переводит переменные в формат движка.
// Карты и срезы уходят как Json-строка.
func EncodeVariables(vars map[string]any) (map[string]Variable, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	out := make(map[string]Variable, len(vars))
	for name, value := range vars {
		v, err := encodeVariable(value)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %v", ErrEncodeVariable, name, err)
		}
		out[name] = v
	}
	return out, nil
}

func encodeVariable(value any) (Variable, error) {
	switch v := value.(type) {
	case nil:
		return Variable{Type: TypeNull}, nil
	case string:
		return Variable{Value: v, Type: TypeString}, nil
	case bool:
		return Variable{Value: v, Type: TypeBoolean}, nil
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return Variable{Value: v, Type: TypeInteger}, nil
		}
		return Variable{Value: v, Type: TypeLong}, nil
	case int32:
		return Variable{Value: v, Type: TypeInteger}, nil
	case int64:
		return Variable{Value: v, Type: TypeLong}, nil
	case float32:
		return Variable{Value: v, Type: TypeDouble}, nil
	case float64:
		return Variable{Value: v, Type: TypeDouble}, nil
	case json.RawMessage:
		return Variable{Value: string(v), Type: TypeJSON}, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return Variable{}, err
		}
		return Variable{Value: string(data), Type: TypeJSON}, nil
	}
}

// DecodeVariables переводит переменные движка в карту значений.
// Json-переменные остаются строками: потребители сами разбирают
// нужные им документы.
func DecodeVariables(vars map[string]Variable) map[string]any {
	out := make(map[string]any, len(vars))
	for name, v := range vars {
		out[name] = decodeVariable(v)
	}
	return out
}

func decodeVariable(v Variable) any {
	switch v.Type {
	case TypeNull:
		return nil
	case TypeInteger, "Short", TypeLong:
		if f, ok := v.Value.(float64); ok {
			return int64(f)
		}
	}
	return v.Value
}
