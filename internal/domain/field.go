package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// SourceType — источник значения поля.
type SourceType string

const (
	// SourceStatic — литерал, возвращается как есть.
	SourceStatic SourceType = "STATIC"

	// SourceProperty — значение из конфигурационного документа продукта.
	SourceProperty SourceType = "PROPERTY"

	// SourceGlobals — глобальная переменная процесса ($_TENANT_ID и т.п.).
	SourceGlobals SourceType = "GLOBALS"

	// SourceScript — результат скрипта, записанный в переменные.
	SourceScript SourceType = "SCRIPT"

	// SourceExternals — переменная, переданная извне при старте процесса.
	SourceExternals SourceType = "EXTERNALS"

	// SourceGroup — вложенная группа дочерних полей.
	SourceGroup SourceType = "GROUP"
)

// Valid возвращает true для известных типов источника.
func (s SourceType) Valid() bool {
	switch s {
	case SourceStatic, SourceProperty, SourceGlobals, SourceScript, SourceExternals, SourceGroup:
		return true
	default:
		return false
	}
}

// Field — описание одного вычисляемого входного значения.
//
// Для поля верхнего уровня метка берётся из Value без ведущего '$'.
// Для дочернего атрибута группы метка задаётся явно в Label.
type Field struct {
	Type  SourceType `json:"type"`
	Value any        `json:"value"`
	Label string     `json:"label,omitempty"`
	Items Fields     `json:"items,omitempty"`
}

// Declared возвращает true, если у поля задан тип источника.
func (f *Field) Declared() bool {
	return f != nil && f.Type != ""
}

// ValueString возвращает Value в строковом виде.
func (f *Field) ValueString() string {
	switch v := f.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// VariableLabel возвращает метку переменной: Label, если задан,
// иначе Value без ведущего '$'.
func (f *Field) VariableLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return strings.TrimPrefix(f.ValueString(), "$")
}

// NamedField — поле вместе с именем, под которым оно объявлено.
type NamedField struct {
	Name  string
	Field Field
}

// Fields — упорядоченный набор полей.
//
// Порядок объявления сохраняется, повторяющиеся имена не схлопываются:
// два атрибута "items[*]" в одной группе означают два добавления в массив.
type Fields []NamedField

// Get возвращает первое поле с указанным именем.
func (fs Fields) Get(name string) (*Field, bool) {
	for i := range fs {
		if fs[i].Name == name {
			return &fs[i].Field, true
		}
	}
	return nil, false
}

// Has проверяет наличие поля с указанным именем.
func (fs Fields) Has(name string) bool {
	_, ok := fs.Get(name)
	return ok
}

// Names возвращает имена полей в порядке объявления.
func (fs Fields) Names() []string {
	names := make([]string, 0, len(fs))
	for _, f := range fs {
		names = append(names, f.Name)
	}
	return names
}

// Declared возвращает только поля с заданным типом источника.
func (fs Fields) Declared() Fields {
	out := make(Fields, 0, len(fs))
	for _, f := range fs {
		if f.Field.Declared() {
			out = append(out, f)
		}
	}
	return out
}

// UnmarshalJSON разбирает JSON-объект, сохраняя порядок ключей и дубликаты.
func (fs *Fields) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*fs = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("fields: expected object, got %v", tok)
	}

	out := Fields{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("fields: expected string key, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("fields: %s: %w", key, err)
		}

		var f Field
		if !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			if err := json.Unmarshal(raw, &f); err != nil {
				return fmt.Errorf("fields: %s: %w", key, err)
			}
		}
		out = append(out, NamedField{Name: key, Field: f})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*fs = out
	return nil
}

// MarshalJSON сериализует поля в JSON-объект в порядке объявления.
func (fs Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Field)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
