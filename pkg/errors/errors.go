// Package errors 错误码与 HTTP 状态映射
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeUnauthorized       ErrorCode = "1002"
	CodeNotFound           ErrorCode = "1004"
	CodeConflict           ErrorCode = "1005"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"

	// 认证错误 (2xxx)
	CodeAuthMissing ErrorCode = "2003"

	// 模板错误 (3xxx)
	CodeTemplateNotFound ErrorCode = "3001"
	CodeTemplateInvalid  ErrorCode = "3002"

	// 生成错误 (4xxx)
	CodeTransportError     ErrorCode = "4001"
	CodeEmptyResult        ErrorCode = "4002"
	CodePersistenceFailure ErrorCode = "4003"
	CodeSessionNotFound    ErrorCode = "4004"

	// 外部服务错误 (5xxx)
	CodeDatabaseError ErrorCode = "5001"
	CodeCacheError    ErrorCode = "5002"
	CodeBackendError  ErrorCode = "5003"
)

// AppError 带错误码的应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

func (e *AppError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if e.Detail != "" {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *AppError) Unwrap() error { return e.Err }

// Is 同错误码即视为相同，预定义错误可直接用于 errors.Is
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && e.Code == t.Code
}

// WithDetail 返回副本，不修改预定义错误
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithError 返回附带底层错误的副本
func (e *AppError) WithError(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: StatusOf(code)}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: StatusOf(code), Err: err}
}

var statusByCode = map[ErrorCode]int{
	CodeSuccess:            http.StatusOK,
	CodeInvalidParam:       http.StatusBadRequest,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeAuthMissing:        http.StatusUnauthorized,
	CodeNotFound:           http.StatusNotFound,
	CodeTemplateNotFound:   http.StatusNotFound,
	CodeSessionNotFound:    http.StatusNotFound,
	CodeConflict:           http.StatusConflict,
	CodeTemplateInvalid:    http.StatusUnprocessableEntity,
	CodeEmptyResult:        http.StatusUnprocessableEntity,
	CodeTransportError:     http.StatusBadGateway,
	CodeBackendError:       http.StatusBadGateway,
	CodePersistenceFailure: http.StatusBadGateway,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
}

// StatusOf 错误码对应的 HTTP 状态，未登记的按 500 处理
func StatusOf(code ErrorCode) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// 预定义错误
var (
	ErrInvalidParam    = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound        = New(CodeNotFound, "resource not found")
	ErrConflict        = New(CodeConflict, "resource conflict")
	ErrSessionNotFound = New(CodeSessionNotFound, "generation session not found")

	ErrTemplateNotFound   = New(CodeTemplateNotFound, "template not found")
	ErrTemplateInvalid    = New(CodeTemplateInvalid, "template invalid")
	ErrAuthMissing        = New(CodeAuthMissing, "credential missing")
	ErrTransport          = New(CodeTransportError, "stream transport failed")
	ErrEmptyResult        = New(CodeEmptyResult, "generation completed without content")
	ErrPersistenceFailure = New(CodePersistenceFailure, "document persistence failed")
)

// AsAppError 取错误链上第一个 AppError；没有时包装为 CodeUnknown
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}

// CodeOf nil 返回 CodeSuccess
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeSuccess
	}
	return AsAppError(err).Code
}
