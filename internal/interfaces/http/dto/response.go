// Package dto HTTP 请求与响应结构
package dto

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"letter-stream-engine/internal/domain/repository"
	"letter-stream-engine/pkg/errors"
	"letter-stream-engine/pkg/logger"
)

// Response 成功响应
type Response[T any] struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Data    T         `json:"data,omitempty"`
	Meta    *PageMeta `json:"meta,omitempty"`
	TraceID string    `json:"trace_id,omitempty"`
}

// PageMeta 分页信息
type PageMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// ErrorDetail 业务错误码与细节
type ErrorDetail struct {
	ErrorCode string `json:"error_code,omitempty"`
	Details   string `json:"details,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Error   *ErrorDetail `json:"error,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

func traceID(c *gin.Context) string {
	return c.GetString(string(logger.TraceIDKey))
}

// Success 200 响应
func Success[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, Response[T]{Code: http.StatusOK, Message: "success", Data: data, TraceID: traceID(c)})
}

// SuccessWithPage 带分页信息的 200 响应
func SuccessWithPage[T any](c *gin.Context, data T, meta *PageMeta) {
	c.JSON(http.StatusOK, Response[T]{Code: http.StatusOK, Message: "success", Data: data, Meta: meta, TraceID: traceID(c)})
}

// NewPageMeta 由分页结果生成分页信息
func NewPageMeta[T any](r *repository.PagedResult[T]) *PageMeta {
	return &PageMeta{Page: r.Page, PageSize: r.PageSize, Total: r.Total, TotalPages: r.TotalPages()}
}

// NoContent 204
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func fail(c *gin.Context, status int, message string, detail *ErrorDetail) {
	c.JSON(status, ErrorResponse{Code: status, Message: message, Error: detail, TraceID: traceID(c)})
}

func BadRequest(c *gin.Context, message string) { fail(c, http.StatusBadRequest, message, nil) }

func InternalError(c *gin.Context, message string) {
	fail(c, http.StatusInternalServerError, message, nil)
}

func ServiceUnavailable(c *gin.Context, message string) {
	fail(c, http.StatusServiceUnavailable, message, nil)
}

// AppError 按应用错误码映射状态码；非应用错误按内部错误处理
func AppError(c *gin.Context, err error) {
	appErr := errors.AsAppError(err)
	fail(c, appErr.HTTPStatus, appErr.Message, &ErrorDetail{
		ErrorCode: string(appErr.Code),
		Details:   appErr.Detail,
	})
}
