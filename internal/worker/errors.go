package worker

import "errors"

// Ошибки воркера.
var (
	// ErrUnknownTopic — для топика не зарегистрирован обработчик.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrInvalidInput — входная модель активности не прошла проверку.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMissingField — в items нет обязательного поля.
	ErrMissingField = errors.New("mandatory field missing")

	// ErrStateLocked — remote state terraform занят другим прогоном.
	ErrStateLocked = errors.New("terraform state is locked")

	// ErrCommandFailed — удалённая команда завершилась с ненулевым кодом.
	ErrCommandFailed = errors.New("remote command failed")

	// ErrCommandTimeout — удалённая команда не дала вывода за таймаут.
	ErrCommandTimeout = errors.New("remote command timed out")
)
