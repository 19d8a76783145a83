package gcp

import (
	"errors"
	"fmt"
)

// ErrUnavailable 表示没有已连接的凭据。调用方应将其视为软失败。
var ErrUnavailable = errors.New("[gcp] 没有可用的已连接凭据")

// ValidationError 请求参数无效，在发出任何网络请求之前返回。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("参数 %s 无效: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ProviderError 表示 Google Cloud 接口调用失败或返回了不可用的数据。
type ProviderError struct {
	Op         string // synthesize 或 voices
	StatusCode int    // HTTP 状态码，传输层错误时为 0
	Status     string // Google 错误状态，如 INVALID_ARGUMENT
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("[gcp] %s 失败", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d", e.StatusCode)
		if e.Status != "" {
			msg += " " + e.Status
		}
		msg += ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Retryable 报告错误是否可能在稍后重试时成功。
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}
