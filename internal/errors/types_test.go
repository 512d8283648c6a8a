package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewSystemError(ErrCodeInternal, "something broke")
	assert.Equal(t, "something broke", err.Error())

	cause := errors.New("connection reset")
	err = err.WithCause(cause)
	assert.Equal(t, "something broke: connection reset", err.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewExternalError(ErrCodeVectorStoreError, "request failed").WithCause(cause)

	assert.True(t, errors.Is(err, cause))
}

func TestIsCode(t *testing.T) {
	err := NewInvalidInputError("limit", "must be positive")

	assert.True(t, IsCode(err, ErrCodeInvalidInput))
	assert.False(t, IsCode(err, ErrCodeInternal))
	assert.False(t, IsCode(nil, ErrCodeInvalidInput))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeInvalidInput))
}

func TestIsCode_Wrapped(t *testing.T) {
	// 经fmt.Errorf包装后仍能识别错误码
	inner := NewTimeoutError("search")
	wrapped := fmt.Errorf("query failed: %w", inner)

	assert.True(t, IsCode(wrapped, ErrCodeTimeout))
}

func TestGetAppError(t *testing.T) {
	inner := NewCollectionConflictError("docs", 1536, 3072)
	wrapped := fmt.Errorf("ensure failed: %w", inner)

	appErr := GetAppError(wrapped)
	require.NotNil(t, appErr)
	assert.Equal(t, ErrCodeCollectionConflict, appErr.Code)

	// 普通错误被包装为内部系统错误
	plain := errors.New("plain")
	appErr = GetAppError(plain)
	require.NotNil(t, appErr)
	assert.Equal(t, ErrCodeInternal, appErr.Code)
	assert.True(t, errors.Is(appErr, plain))
}

func TestNewCollectionConflictError(t *testing.T) {
	err := NewCollectionConflictError("docs", 1536, 3072)

	assert.Equal(t, ErrCodeCollectionConflict, err.Code)
	assert.Contains(t, err.Message, "docs")
	assert.Contains(t, err.Message, "1536")
	assert.Contains(t, err.Message, "3072")
}
