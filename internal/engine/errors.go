package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedStatus — движок ответил не 2xx.
	ErrUnexpectedStatus = errors.New("engine responded with unexpected status")

	// ErrDecodeResponse — ответ движка не разобран.
	ErrDecodeResponse = errors.New("failed to decode engine response")

	// ErrEncodeVariable — переменную нельзя передать движку.
	ErrEncodeVariable = errors.New("failed to encode variable")
)

// StatusError — ответ движка с кодом не 2xx.
type StatusError struct {
	Operation string
	Status    int
	Type      string // тип исключения движка
	Message   string
}

// Error реализует интерфейс error.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %d %s: %s", e.Operation, e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %d", e.Operation, e.Status)
}

// Unwrap возвращает ErrUnexpectedStatus.
func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}
