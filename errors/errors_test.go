package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestWrap_Format(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Writer", "Flush", "bulk insert")
	require.Error(t, err)
	assert.Equal(t, "Writer.Flush: bulk insert failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "a", "b", "c"))
	assert.NoError(t, WrapTransient(nil, "a", "b", "c"))
	assert.NoError(t, WrapInvalid(nil, "a", "b", "c"))
	assert.NoError(t, WrapFatal(nil, "a", "b", "c"))
}

func TestClassifiedError_Unwrap(t *testing.T) {
	err := WrapInvalid(ErrInvalidReading, "Engine", "Process", "validate reading")

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "Engine", ce.Component)
	assert.True(t, stderrors.Is(err, ErrInvalidReading))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"classified transient", WrapTransient(stderrors.New("x"), "w", "f", "a"), true},
		{"classified invalid", WrapInvalid(stderrors.New("x"), "w", "f", "a"), false},
		{"connection lost sentinel", ErrConnectionLost, true},
		{"storage unavailable sentinel", ErrStorageUnavailable, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"timeout pattern", fmt.Errorf("request timeout after 5s"), true},
		{"unrelated", stderrors.New("schema mismatch"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrInvalidReading))
	assert.True(t, IsInvalid(ErrMissingField))
	assert.True(t, IsInvalid(ErrNonFiniteValue))
	assert.True(t, IsInvalid(fmt.Errorf("reading rejected: %w", ErrQualityOutOfRange)))
	assert.False(t, IsInvalid(ErrConnectionLost))
	assert.False(t, IsInvalid(nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(WrapFatal(stderrors.New("x"), "p", "Start", "load config")))
	assert.False(t, IsFatal(ErrInvalidReading))
	assert.False(t, IsFatal(nil))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidReading))
	// Unknown errors default to transient so callers may retry
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
}
