package clientv2

import (
	"net/http"
	"net/http/httputil"

	"go.uber.org/zap"
)

type debugInterceptor struct {
	logger *zap.Logger
}

// NewDebugInterceptor 在 Debug 级别记录请求与响应概要
func NewDebugInterceptor(logger *zap.Logger) Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &debugInterceptor{logger: logger}
}

func (interceptor *debugInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityDebug
}

func (interceptor *debugInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	logger := interceptor.logger
	if ce := logger.Check(zap.DebugLevel, "request"); ce != nil {
		if dump, err := httputil.DumpRequestOut(req, false); err == nil {
			ce.Write(zap.ByteString("dump", dump))
		}
	}

	resp, err := handler(req)

	if err != nil {
		logger.Debug("request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.Error(err))
		return resp, err
	}
	if ce := logger.Check(zap.DebugLevel, "response"); ce != nil {
		if dump, dumpErr := httputil.DumpResponse(resp, false); dumpErr == nil {
			ce.Write(zap.ByteString("dump", dump))
		}
	}
	return resp, err
}
