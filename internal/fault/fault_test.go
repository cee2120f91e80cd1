package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	// 5xx — временный сбой
	f := FromStatus(503, "service unavailable")
	require.NotNil(t, f)
	assert.Equal(t, Retryable, f.Class)
	assert.Equal(t, "503", f.Code)

	// 500 тоже повторяется
	assert.True(t, FromStatus(500, "").Retryable())

	// 4xx — без повтора
	f = FromStatus(404, "not found")
	require.NotNil(t, f)
	assert.Equal(t, NonRetryable, f.Class)
	assert.Equal(t, "404", f.Code)

	// 2xx — не ошибка
	assert.Nil(t, FromStatus(200, ""))
	assert.Nil(t, FromStatus(204, ""))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	// уже классифицированная ошибка проходит насквозь
	orig := NewNonRetryable("bad input %s", "x")
	wrapped := fmt.Errorf("resolve: %w", orig)
	assert.Same(t, orig, Classify(wrapped))

	// сетевые ошибки — временные
	dnsErr := &net.DNSError{Err: "no such host", Name: "api.example"}
	f := Classify(dnsErr)
	assert.Equal(t, Retryable, f.Class)
	assert.Equal(t, CodeConnection, f.Code)

	// таймаут контекста — временный, код 408
	f = Classify(context.DeadlineExceeded)
	assert.Equal(t, Retryable, f.Class)
	assert.Equal(t, CodeTimeout, f.Code)

	// всё остальное — Fatal с общим кодом
	f = Classify(errors.New("boom"))
	assert.Equal(t, Fatal, f.Class)
	assert.Equal(t, CodeGeneric, f.Code)
	assert.False(t, f.Retryable())
}

func TestWrapNonRetryable_KeepsCode(t *testing.T) {
	inner := FromStatus(422, "unprocessable")
	f := WrapNonRetryable(inner, "resolve failed: %s", inner.Message)

	assert.Equal(t, NonRetryable, f.Class)
	assert.Equal(t, "422", f.Code)
	assert.Equal(t, "resolve failed: unprocessable", f.Error())
	assert.ErrorIs(t, f, inner)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewRetryable(CodeTimeout, "timed out")))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", NewRetryable("503", "x"))))
	assert.False(t, IsRetryable(NewNonRetryable("x")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
