package apperrors

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 用于统一管理业务错误，包含错误码和错误消息
type AppError struct {
	Code    int    // 错误码
	Message string // 对外可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 认证相关 10000-10999
	CodeCredentialMissing = 10001
	CodeCredentialInvalid = 10002
	CodeCredentialExpired = 10003
	CodeCredentialRevoked = 10004

	// 校验相关 11000-11999
	CodeInvalidParams      = 11001
	CodeUnknownMessageType = 11002
	CodeUnsupportedOp      = 11003
	CodeInvalidStatus      = 11004

	// 权限相关 12000-12999
	CodeNotFriends   = 12001
	CodeUserNotFound = 12002

	// 限流相关 42000-42999
	CodeRateLimited = 42901

	// 系统错误 50000-50999
	CodeServerError = 50001
	CodeStoreError  = 50002
)

// ============== 预定义错误 ==============

// 认证相关
var (
	ErrCredentialMissing = NewError(CodeCredentialMissing, "credential missing")
	ErrCredentialInvalid = NewError(CodeCredentialInvalid, "credential invalid")
	ErrCredentialExpired = NewError(CodeCredentialExpired, "credential expired")
	ErrCredentialRevoked = NewError(CodeCredentialRevoked, "credential revoked")
)

// 校验相关
var (
	ErrInvalidParams      = NewError(CodeInvalidParams, "invalid parameters")
	ErrUnknownMessageType = NewError(CodeUnknownMessageType, "unknown message type")
	ErrUnsupportedOp      = NewError(CodeUnsupportedOp, "operation not supported")
	ErrInvalidStatus      = NewError(CodeInvalidStatus, "invalid presence status")
)

// 权限相关
var (
	ErrNotFriends   = NewError(CodeNotFriends, "users are not friends")
	ErrUserNotFound = NewError(CodeUserNotFound, "user not found")
)

// 限流相关
var (
	ErrRateLimited = NewError(CodeRateLimited, "too many messages")
)

// 系统相关
var (
	ErrServerError = NewError(CodeServerError, "internal server error")
	ErrStoreError  = NewError(CodeStoreError, "store unavailable")
)
