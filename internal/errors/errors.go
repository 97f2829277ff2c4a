package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode 定义错误代码类型
type ErrorCode string

// 错误代码常量
const (
	// 通用错误
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeCancelled     ErrorCode = "CANCELLED"

	// 缓存错误
	ErrCodeCacheConnection ErrorCode = "CACHE_CONNECTION_ERROR"
	ErrCodeCacheOperation  ErrorCode = "CACHE_OPERATION_ERROR"
	ErrCodeCacheMiss       ErrorCode = "CACHE_MISS"

	// 策略错误
	ErrCodeStrategyNotFound ErrorCode = "STRATEGY_NOT_FOUND"
	ErrCodeParameterInvalid ErrorCode = "PARAMETER_INVALID"
	ErrCodeIndicatorFailed  ErrorCode = "INDICATOR_FAILED"
	ErrCodeNumeric          ErrorCode = "NUMERIC_ERROR"

	// 优化错误
	ErrCodeCombinationFailed   ErrorCode = "COMBINATION_FAILED"
	ErrCodeWorkerTimeout       ErrorCode = "WORKER_TIMEOUT"
	ErrCodeOptimizationTimeout ErrorCode = "OPTIMIZATION_TIMEOUT"
)

// ErrorSeverity 定义错误严重程度
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrDivisionByZero 数值计算中分母为零
var ErrDivisionByZero = stderrors.New("division by zero")

// AppError 应用错误结构
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Severity  ErrorSeverity          `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Details)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError 创建新的应用错误
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  getSeverityByCode(code),
		Timestamp: time.Now(),
		Cause:     cause,
		Context:   make(map[string]interface{}),
	}
}

// NewAppErrorWithDetails 创建带详细信息的应用错误
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	err := NewAppError(code, message, cause)
	err.Details = details
	return err
}

// InvalidInput 创建输入校验错误
func InvalidInput(format string, args ...interface{}) *AppError {
	return NewAppError(ErrCodeInvalidInput, fmt.Sprintf(format, args...), nil)
}

// InvalidParameter 创建参数错误
func InvalidParameter(format string, args ...interface{}) *AppError {
	return NewAppError(ErrCodeParameterInvalid, fmt.Sprintf(format, args...), nil)
}

// WithContext 添加上下文信息
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// getSeverityByCode 根据错误代码确定严重程度
func getSeverityByCode(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrCodeInternal:
		return SeverityCritical
	case ErrCodeOptimizationTimeout, ErrCodeInvalidConfig:
		return SeverityHigh
	case ErrCodeCacheConnection, ErrCodeCacheOperation, ErrCodeCombinationFailed,
		ErrCodeWorkerTimeout, ErrCodeCancelled:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IsRecoverable 判断错误是否只影响单个参数组合
func (e *AppError) IsRecoverable() bool {
	switch e.Code {
	case ErrCodeParameterInvalid, ErrCodeIndicatorFailed, ErrCodeNumeric,
		ErrCodeCombinationFailed, ErrCodeWorkerTimeout:
		return true
	default:
		return false
	}
}

// IsRetryable 判断错误是否可重试
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeCacheConnection, ErrCodeWorkerTimeout:
		return true
	default:
		return false
	}
}

// WrapError 包装标准错误为应用错误
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，直接返回
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	return NewAppError(code, message, err)
}

// IsAppError 检查是否为应用错误
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError 获取应用错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// Is 检查错误链中是否包含指定代码的应用错误
func Is(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}

// CodeOf 返回错误代码，非应用错误返回 INTERNAL_ERROR
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ErrCodeInternal
}
