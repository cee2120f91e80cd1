package project

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// xmlRootKey — ключ, под которым в дереве лежит корневой элемент XML.
const xmlRootKey = "root"

// Ключи для атрибутов и текста элементов со сложным содержимым.
const (
	xmlAttrPrefix = "-"
	xmlTextKey    = "_text"
)

// parseXML превращает XML-документ в дерево map/[]any/string.
//
// Корневой элемент доступен по ключу "root" независимо от имени.
// Элемент без атрибутов и дочерних элементов становится строкой,
// повторяющиеся дочерние элементы собираются в массив.
func parseXML(body []byte) (map[string]any, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("xml document has no root element")
			}
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			content, err := decodeElement(dec, start)
			if err != nil {
				return nil, err
			}
			return map[string]any{xmlRootKey: content}, nil
		}
	}
}

func decodeElement(dec *xml.Decoder, start xml.StartElement) (any, error) {
	node := map[string]any{}
	for _, a := range start.Attr {
		node[xmlAttrPrefix+a.Name.Local] = a.Value
	}

	var text strings.Builder
	hasChildren := false

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			hasChildren = true
			child, err := decodeElement(dec, t)
			if err != nil {
				return nil, err
			}
			addChild(node, t.Name.Local, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			s := strings.TrimSpace(text.String())
			if !hasChildren && len(node) == 0 {
				return s, nil
			}
			if s != "" {
				node[xmlTextKey] = s
			}
			return node, nil
		}
	}
}

func addChild(node map[string]any, name string, child any) {
	existing, ok := node[name]
	if !ok {
		node[name] = child
		return
	}
	if list, ok := existing.([]any); ok {
		node[name] = append(list, child)
		return
	}
	node[name] = []any{existing, child}
}
