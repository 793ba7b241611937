package types

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning 会话运行中再次启动
	ErrAlreadyRunning = errors.New("capture already running")
	// ErrSourceUnavailable 无法打开网卡或抓包文件
	ErrSourceUnavailable = errors.New("capture source unavailable")
	// ErrInvalidArgument 请求参数非法
	ErrInvalidArgument = errors.New("invalid argument")
)

// CaptureError 携带出错的操作名称
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture error at %s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

func NewCaptureError(op string, err error) error {
	return &CaptureError{Op: op, Err: err}
}
