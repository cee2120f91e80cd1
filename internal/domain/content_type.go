package domain

import (
	"errors"
	"strings"
)

// ContentType — поддерживаемый тип тела запроса.
type ContentType int

const (
	ContentJSON ContentType = iota + 1
	ContentFormURLEncoded
	ContentMultipartForm
	ContentOctetStream
	ContentXML
	ContentPlainText
)

// ErrUnknownContentType — тип содержимого не поддерживается.
var ErrUnknownContentType = errors.New("unknown content type")

// Значения заголовка Content-Type.
const (
	MediaJSON           = "application/json"
	MediaFormURLEncoded = "application/x-www-form-urlencoded"
	MediaMultipartForm  = "multipart/form-data"
	MediaOctetStream    = "application/octet-stream"
	MediaXML            = "application/xml"
	MediaPlainText      = "text/plain"
	MediaNDJSON         = "application/x-ndjson"
)

// ParseContentType нормализует значение заголовка: параметры после ';'
// отбрасываются, '/' и '-' заменяются на '_', регистр повышается.
func ParseContentType(header string) (ContentType, error) {
	base, _, _ := strings.Cut(header, ";")
	key := strings.ToUpper(strings.NewReplacer("/", "_", "-", "_").Replace(strings.TrimSpace(base)))

	switch key {
	case "APPLICATION_JSON":
		return ContentJSON, nil
	case "APPLICATION_X_WWW_FORM_URLENCODED":
		return ContentFormURLEncoded, nil
	case "MULTIPART_FORM_DATA":
		return ContentMultipartForm, nil
	case "APPLICATION_OCTET_STREAM":
		return ContentOctetStream, nil
	case "APPLICATION_XML":
		return ContentXML, nil
	case "TEXT_PLAIN":
		return ContentPlainText, nil
	default:
		return 0, ErrUnknownContentType
	}
}

// IsForm возвращает true для тел, отправляемых как поля формы.
func (c ContentType) IsForm() bool {
	return c == ContentFormURLEncoded || c == ContentMultipartForm
}

// String возвращает MIME-тип.
func (c ContentType) String() string {
	switch c {
	case ContentJSON:
		return MediaJSON
	case ContentFormURLEncoded:
		return MediaFormURLEncoded
	case ContentMultipartForm:
		return MediaMultipartForm
	case ContentOctetStream:
		return MediaOctetStream
	case ContentXML:
		return MediaXML
	case ContentPlainText:
		return MediaPlainText
	default:
		return "unknown"
	}
}
