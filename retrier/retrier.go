package retrier

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"

	"github.com/shuliangfu/upload/errors"
)

type (
	// RetryDecision 重试决策
	RetryDecision int

	// Retrier 重试器接口
	Retrier interface {
		// Retry 判断是否重试
		Retry(*http.Response, error) RetryDecision
	}

	neverRetrier      struct{}
	errorRetrier      struct{}
	customizedRetrier struct {
		retryFn func(*http.Response, error) RetryDecision
	}
)

const (
	// 不再重试
	DontRetry RetryDecision = iota

	// 重试请求
	RetryRequest
)

// NewRetrier 创建自定义重试器
func NewRetrier(fn func(*http.Response, error) RetryDecision) Retrier {
	return customizedRetrier{retryFn: fn}
}

func (retrier customizedRetrier) Retry(response *http.Response, err error) RetryDecision {
	return retrier.retryFn(response, err)
}

// NewNeverRetrier 创建从不重试的重试器
func NewNeverRetrier() Retrier {
	return neverRetrier{}
}

func (neverRetrier) Retry(*http.Response, error) RetryDecision {
	return DontRetry
}

// NewErrorRetrier 创建默认的错误重试器，对 5xx 响应与瞬时网络错误重试
func NewErrorRetrier() Retrier {
	return errorRetrier{}
}

func (errorRetrier) Retry(response *http.Response, err error) RetryDecision {
	if isResponseRetryable(response) {
		return RetryRequest
	} else if err == nil {
		return DontRetry
	}
	return getRetryDecisionForError(err)
}

func isResponseRetryable(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	return IsStatusCodeRetryable(resp.StatusCode)
}

// IsStatusCodeRetryable 5xx 状态码（501 除外）与 429 视为可重试
func IsStatusCodeRetryable(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	if statusCode < 500 {
		return false
	}
	if statusCode == http.StatusNotImplemented {
		return false
	}
	return true
}

// IsErrorRetryable 判断错误是否为可重试的瞬时错误
func IsErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	return getRetryDecisionForError(err) == RetryRequest
}

func getRetryDecisionForError(err error) RetryDecision {
	if err == nil {
		return DontRetry
	}

	tryToUnwrapUnderlyingError := func(err error) (error, bool) {
		switch err := err.(type) {
		case *os.PathError:
			return err.Err, true
		case *os.SyscallError:
			return err.Err, true
		case *url.Error:
			return err.Err, true
		case *net.OpError:
			return err.Err, true
		}
		return err, false
	}
	unwrapUnderlyingError := func(err error) error {
		ok := true
		for ok {
			err, ok = tryToUnwrapUnderlyingError(err)
		}
		return err
	}

	unwrappedErr := unwrapUnderlyingError(err)
	if unwrappedErr == context.DeadlineExceeded || unwrappedErr == context.Canceled {
		return DontRetry
	} else if os.IsTimeout(unwrappedErr) {
		return RetryRequest
	} else if _, ok := unwrappedErr.(*net.DNSError); ok {
		return RetryRequest
	} else if errno, ok := unwrappedErr.(syscall.Errno); ok {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNABORTED, syscall.ECONNRESET, syscall.ETIMEDOUT:
			return RetryRequest
		default:
			return DontRetry
		}
	} else if errInfo, ok := unwrappedErr.(*errors.ErrorInfo); ok {
		if IsStatusCodeRetryable(errInfo.HTTPCode()) {
			return RetryRequest
		}
		return DontRetry
	}
	desc := unwrappedErr.Error()
	if strings.Contains(desc, "use of closed network connection") ||
		strings.Contains(desc, "unexpected EOF reading trailer") ||
		strings.Contains(desc, "transport connection broken") ||
		strings.Contains(desc, "server closed idle connection") {
		return RetryRequest
	}
	return DontRetry
}
