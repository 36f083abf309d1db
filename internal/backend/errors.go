package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError 预测服务返回的错误响应（FastAPI 风格 {"detail": ...}）
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Detail)
}

// IsUnauthorized 认证失效
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsRateLimited 被限流
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsServerError 服务端错误
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// TransportError 网络层错误（连接失败、读取响应失败）
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "http request: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsUnauthorized 错误链中是否包含 401
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsUnauthorized()
}

// Detail 返回面向用户的错误描述
func Detail(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Detail != "" {
			return apiErr.Detail
		}
		if text := http.StatusText(apiErr.StatusCode); text != "" {
			return text
		}
		return apiErr.Error()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "forecasting service timed out"
	}

	var tErr *TransportError
	if errors.As(err, &tErr) {
		return "forecasting service unavailable: " + tErr.Err.Error()
	}
	return err.Error()
}

func newAPIError(status int, body []byte) *APIError {
	return &APIError{StatusCode: status, Detail: decodeDetail(body)}
}

// decodeDetail 解析 {"detail": "..."} 或校验错误列表 {"detail": [{"msg": "..."}]}
func decodeDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return strings.TrimSpace(string(body))
	}

	if len(envelope.Detail) > 0 {
		var text string
		if err := json.Unmarshal(envelope.Detail, &text); err == nil {
			return text
		}

		var items []struct {
			Loc []any  `json:"loc"`
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(envelope.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg == "" {
					continue
				}
				if field := locField(it.Loc); field != "" {
					msgs = append(msgs, field+": "+it.Msg)
				} else {
					msgs = append(msgs, it.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
		return strings.TrimSpace(string(envelope.Detail))
	}
	return envelope.Error
}

// locField 取校验错误位置的最后一段
func locField(loc []any) string {
	if len(loc) == 0 {
		return ""
	}
	switch v := loc[len(loc)-1].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int(v))
	}
	return ""
}
