package clientv2

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/shuliangfu/upload/backoff"
	"github.com/shuliangfu/upload/retrier"
)

type RetryConfig struct {
	// RetryMax 最大重试次数，0 表示不重试
	RetryMax int

	// Backoff 重试退避器，默认 50-100ms 固定区间
	Backoff backoff.Backoff

	// Retrier 重试决策，默认对 5xx 与瞬时网络错误重试
	Retrier retrier.Retrier
}

func (c *RetryConfig) init() {
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.Backoff == nil {
		c.Backoff = backoff.NewFixedBackoff(100 * time.Millisecond)
	}
	if c.Retrier == nil {
		c.Retrier = retrier.NewErrorRetrier()
	}
}

type retryInterceptor struct {
	config RetryConfig
}

func NewRetryInterceptor(config RetryConfig) Interceptor {
	config.init()
	return &retryInterceptor{config: config}
}

func (r *retryInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityRetry
}

func (r *retryInterceptor) Intercept(req *http.Request, handler Handler) (resp *http.Response, err error) {
	if r.config.RetryMax == 0 {
		return handler(req)
	}

	for attempt := 0; ; attempt++ {
		// Clone 防止后面的处理对 req 有污染
		reqBefore := req.Clone(req.Context())
		resp, err = handler(req)

		if r.config.Retrier.Retry(resp, err) == retrier.DontRetry {
			return resp, err
		}
		req = reqBefore

		if attempt >= r.config.RetryMax {
			return resp, err
		}
		if !rewindRequestBody(req) {
			return resp, err
		}
		if resp != nil && resp.Body != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		interval := r.config.Backoff.Time(req.Context(), &backoff.BackoffOptions{Attempts: attempt})
		if interval > time.Millisecond {
			if err := sleepWithContext(req.Context(), interval); err != nil {
				return resp, err
			}
		}
	}
}

// rewindRequestBody 重试必须能够复位请求体，同一分片编号下重复写入
func rewindRequestBody(req *http.Request) bool {
	if req.Body == nil || req.Body == http.NoBody {
		return true
	}
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return false
		}
		req.Body = body
		return true
	}
	seeker, ok := req.Body.(io.Seeker)
	if !ok {
		return false
	}
	_, err := seeker.Seek(0, io.SeekStart)
	return err == nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
