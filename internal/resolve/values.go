package resolve

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// Entry — пара имя/значение результата группы.
type Entry struct {
	Key   string
	Value any
}

// Values — результат вычисления группы в порядке объявления атрибутов.
//
// Имена могут повторяться: "items[*]" дважды даёт два добавления в массив
// при сборке JSON-документа.
type Values []Entry

// Len возвращает число записей.
func (v Values) Len() int { return len(v) }

// Get возвращает последнее значение с указанным именем.
func (v Values) Get(key string) (any, bool) {
	for i := len(v) - 1; i >= 0; i-- {
		if v[i].Key == key {
			return v[i].Value, true
		}
	}
	return nil, false
}

// Map сворачивает записи в карту. При повторе имени побеждает последняя.
// Вложенные группы сворачиваются в карты на любой глубине.
func (v Values) Map() map[string]any {
	out := make(map[string]any, len(v))
	for _, e := range v {
		out[e.Key] = Plain(e.Value)
	}
	return out
}

// MarshalJSON пишет группу объектом в порядке объявления атрибутов.
// При повторе имени остаётся последнее значение на месте последнего вхождения.
func (v Values) MarshalJSON() ([]byte, error) {
	last := make(map[string]int, len(v))
	for i, e := range v {
		last[e.Key] = i
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for i, e := range v {
		if last[e.Key] != i {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("group attribute %q: %w", e.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Plain заменяет группы обычными картами, в том числе внутри срезов.
func Plain(v any) any {
	switch t := v.(type) {
	case Values:
		return t.Map()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Plain(item)
		}
		return out
	default:
		return v
	}
}

// Strings сворачивает записи в карту строк.
func (v Values) Strings() map[string]string {
	out := make(map[string]string, len(v))
	for _, e := range v {
		out[e.Key] = stringify(e.Value)
	}
	return out
}

// First возвращает первое значение группы.
func (v Values) First() (any, bool) {
	if len(v) == 0 {
		return nil, false
	}
	return v[0].Value, true
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case Values:
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s.Map())
		}
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}

// isEmpty повторяет проверку "пустое значение": nil, пустая строка,
// пустые карта, срез или группа.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case Values:
		return len(t) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
