package errors

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
)

// ErrorInfo 存储服务返回的非 2xx 响应
type ErrorInfo struct {
	Code      int    `xml:"-"`
	ErrorCode string `xml:"Code"`
	Message   string `xml:"Message"`
	RequestID string `xml:"RequestId"`
}

func (err *ErrorInfo) Error() string {
	if err.ErrorCode != "" {
		return fmt.Sprintf("unexpected status code %d: %s: %s", err.Code, err.ErrorCode, err.Message)
	}
	return fmt.Sprintf("unexpected status code %d", err.Code)
}

// HTTPCode 响应状态码
func (err *ErrorInfo) HTTPCode() int {
	return err.Code
}

// ResponseError 将响应体解析为 ErrorInfo，响应体为 S3 风格的 XML 错误结构
func ResponseError(resp *http.Response) error {
	errInfo := ErrorInfo{Code: resp.StatusCode, RequestID: resp.Header.Get("X-Request-Id")}
	if resp.Body != nil {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err == nil && len(body) > 0 {
			xml.Unmarshal(body, &errInfo)
		}
	}
	return &errInfo
}
