package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrInvalidAttempt — запись журнала без обязательных полей.
	ErrInvalidAttempt = errors.New("invalid attempt")
)
