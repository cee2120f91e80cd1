package resolve

import "errors"

// Ошибки вычисления полей.
var (
	// ErrMissingField — обязательное поле не объявлено или вычислилось в пустое значение.
	ErrMissingField = errors.New("missing field")

	// ErrMissingSecret — секрет для поля не найден в хранилище.
	ErrMissingSecret = errors.New("missing secret")

	// ErrNotContainer — попытка записать значение внутрь скаляра.
	ErrNotContainer = errors.New("path collision")

	// ErrBadIndex — нечисловой индекс внутри массива.
	ErrBadIndex = errors.New("bad array index")

	// ErrUnexpectedType — поле вычислилось в значение неожиданного типа.
	ErrUnexpectedType = errors.New("unexpected value type")
)
