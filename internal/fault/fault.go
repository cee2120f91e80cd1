package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Class — класс ошибки, определяющий реакцию движка.
type Class int

const (
	// Fatal — неклассифицированная ошибка. Обрабатывается как NonRetryable
	// с общим кодом, чтобы задача всегда дошла до финального состояния.
	Fatal Class = iota
	// Retryable — временный сбой: 5xx, обрыв соединения, таймаут команды.
	Retryable
	// NonRetryable — ошибка входных данных или ответа. Повтор не поможет.
	NonRetryable
)

// String возвращает имя класса.
func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case NonRetryable:
		return "non_retryable"
	default:
		return "fatal"
	}
}

// Коды ошибок, видимые в BPMN.
const (
	CodeGeneric    = "error"
	CodeTimeout    = "408"
	CodeValidation = "400"
	CodeConnection = "503"
)

// Fault — классифицированная ошибка обработки задачи.
type Fault struct {
	Class   Class
	Code    string
	Message string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil && f.Message == "" {
		return f.Err.Error()
	}
	return f.Message
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Retryable возвращает true для временных сбоев.
func (f *Fault) Retryable() bool {
	return f.Class == Retryable
}

// NewRetryable создаёт временную ошибку.
func NewRetryable(code, format string, args ...any) *Fault {
	return &Fault{Class: Retryable, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewNonRetryable создаёт ошибку без повтора с кодом 400.
func NewNonRetryable(format string, args ...any) *Fault {
	return &Fault{Class: NonRetryable, Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Wrap оборачивает err в Fault указанного класса.
func Wrap(class Class, code string, err error, format string, args ...any) *Fault {
	return &Fault{Class: class, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// WrapNonRetryable оборачивает err как NonRetryable. Если err уже Fault,
// его код сохраняется, а сообщение дополняется.
func WrapNonRetryable(err error, format string, args ...any) *Fault {
	code := CodeValidation
	if f, ok := As(err); ok {
		code = f.Code
	}
	return &Fault{Class: NonRetryable, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// As извлекает Fault из цепочки ошибок.
func As(err error) (*Fault, bool) {
	var target *Fault
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsRetryable проверяет, что err — временный сбой.
func IsRetryable(err error) bool {
	f, ok := As(err)
	return ok && f.Retryable()
}

// FromStatus классифицирует HTTP-статус ответа.
// 2xx и 3xx ошибкой не считаются и дают nil.
func FromStatus(status int, message string) *Fault {
	switch {
	case status >= 500:
		return &Fault{Class: Retryable, Code: strconv.Itoa(status), Message: message}
	case status >= 400:
		return &Fault{Class: NonRetryable, Code: strconv.Itoa(status), Message: message}
	default:
		return nil
	}
}

// Classify приводит произвольную ошибку к Fault.
//
// Сетевые ошибки и таймауты транспорта считаются временными,
// всё остальное без классификации получает класс Fatal.
func Classify(err error) *Fault {
	if err == nil {
		return nil
	}
	if f, ok := As(err); ok {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Fault{Class: Retryable, Code: CodeTimeout, Message: err.Error(), Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Fault{Class: Retryable, Code: CodeConnection, Message: err.Error(), Err: err}
	}
	return &Fault{Class: Fatal, Code: CodeGeneric, Message: err.Error(), Err: err}
}
