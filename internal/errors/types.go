package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// 分词器错误
	ErrCodeTokenizerUnavailable ErrorCode = "TOKENIZER_UNAVAILABLE"

	// 分块错误
	ErrCodeChunkOverflow ErrorCode = "CHUNK_OVERFLOW"

	// 向量存储错误
	ErrCodeCollectionConflict ErrorCode = "COLLECTION_CONFLICT"
	ErrCodeVectorStoreError   ErrorCode = "VECTOR_STORE_ERROR"

	// 外部服务错误
	ErrCodeEmbeddingProvider    ErrorCode = "EMBEDDING_PROVIDER_ERROR"
	ErrCodeTimeout              ErrorCode = "TIMEOUT"
	ErrCodeMalformedModelOutput ErrorCode = "MALFORMED_MODEL_OUTPUT"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeValidation
	ErrorTypeExternal
)

// AppError 应用错误结构体
type AppError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Type    ErrorType   `json:"type"`
	Details interface{} `json:"details,omitempty"`
	Cause   error       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// 错误构造函数

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Type:    ErrorTypeSystem,
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidInput,
		Message: message,
		Type:    ErrorTypeValidation,
	}
}

// NewInvalidInputError 创建输入无效错误
func NewInvalidInputError(field, reason string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidInput,
		Message: fmt.Sprintf("invalid input for field '%s': %s", field, reason),
		Type:    ErrorTypeValidation,
	}
}

// NewExternalError 创建外部服务错误
func NewExternalError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Type:    ErrorTypeExternal,
	}
}

// NewTimeoutError 创建超时错误
func NewTimeoutError(operation string) *AppError {
	return &AppError{
		Code:    ErrCodeTimeout,
		Message: fmt.Sprintf("operation '%s' exceeded deadline", operation),
		Type:    ErrorTypeExternal,
	}
}

// NewCollectionConflictError 创建集合配置冲突错误
func NewCollectionConflictError(collection string, want, got int) *AppError {
	return &AppError{
		Code:    ErrCodeCollectionConflict,
		Message: fmt.Sprintf("collection '%s' has vector size %d, expected %d", collection, got, want),
		Type:    ErrorTypeSystem,
	}
}

// NewMalformedOutputError 创建模型输出不可解析错误
func NewMalformedOutputError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeMalformedModelOutput,
		Message: message,
		Type:    ErrorTypeExternal,
	}
}

// IsAppError 检查是否为AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// IsCode 检查错误是否携带指定错误码
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewSystemError(ErrCodeInternal, "internal error").WithCause(err)
}
