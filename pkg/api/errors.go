package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/haolipeng/traffic_analyzer/pkg/types"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// 错误代码常量
const (
	// 通用错误
	ErrCodeInternalServerError = http.StatusInternalServerError // 服务器内部错误
	ErrCodeBadRequest          = http.StatusBadRequest          // 请求参数错误
	ErrCodeNotFound            = http.StatusNotFound            // 资源不存在
	ErrCodeConflict            = http.StatusConflict            // 资源冲突

	// 抓包相关错误
	ErrCodeAlreadyRunning    = http.StatusConflict           // 会话运行中
	ErrCodeSourceUnavailable = http.StatusServiceUnavailable // 网卡或文件无法打开
)

// APIError 接口错误类型
type APIError struct {
	Code    int         // HTTP 状态码
	Message string      // 错误消息
	Err     error       // 原始错误
	Data    interface{} // 附加数据（可选）
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func NewAPIError(code int, message string, err error) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError 请求参数错误
func NewBadRequestError(message string, err error) *APIError {
	return NewAPIError(ErrCodeBadRequest, message, err)
}

// NewFilterNotFoundError 命名过滤器不存在
func NewFilterNotFoundError(name string) *APIError {
	return &APIError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("filter %s not found", name),
	}
}

func NewInternalServerError(err error) *APIError {
	return NewAPIError(ErrCodeInternalServerError, "internal server error", err)
}

// FromCaptureError 将控制器返回的错误映射为HTTP错误
func FromCaptureError(err error) *APIError {
	switch {
	case errors.Is(err, types.ErrAlreadyRunning):
		return NewAPIError(ErrCodeAlreadyRunning, "capture already running", err)
	case errors.Is(err, types.ErrSourceUnavailable):
		return NewAPIError(ErrCodeSourceUnavailable, "capture source unavailable", err)
	case errors.Is(err, types.ErrInvalidArgument):
		return NewBadRequestError("invalid argument", err)
	default:
		return NewInternalServerError(err)
	}
}

// HandleError 统一错误处理函数
func HandleError(c echo.Context, err error) error {
	logrus.WithFields(logrus.Fields{
		"error":      err.Error(),
		"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
		"path":       c.Request().URL.Path,
		"method":     c.Request().Method,
	}).Warn("API error")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		apiErr = FromCaptureError(err)
	}

	resp := Response{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Data:    apiErr.Data,
	}
	// 4xx错误带上原因，5xx只在调试模式下返回细节
	if apiErr.Err != nil && (apiErr.Code < http.StatusInternalServerError || IsDebugMode()) {
		resp.Data = map[string]string{
			"error_detail": apiErr.Err.Error(),
		}
	}
	return c.JSON(apiErr.Code, resp)
}

// IsDebugMode 日志级别为DEBUG时返回详细错误
func IsDebugMode() bool {
	return logrus.IsLevelEnabled(logrus.DebugLevel)
}
