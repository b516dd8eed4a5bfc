package clientv2

import (
	"net/http"
	"time"

	"github.com/shuliangfu/upload/auth"
	"github.com/shuliangfu/upload/credentials"
)

type AuthConfig struct {
	// 签名器
	Signer auth.Signer

	// 鉴权参数
	Credentials credentials.CredentialsProvider

	// 时钟，测试时可固定时间戳
	Now func() time.Time
}

type authInterceptor struct {
	config AuthConfig
}

func NewAuthInterceptor(config AuthConfig) Interceptor {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &authInterceptor{
		config: config,
	}
}

func (interceptor *authInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityAuth
}

func (interceptor *authInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	if interceptor == nil || req == nil || interceptor.config.Signer == nil {
		return handler(req)
	}

	cred, err := interceptor.config.Credentials.Get(req.Context())
	if err != nil {
		return nil, err
	}
	// 每次尝试都重新签名，时间戳与随机量不跨请求复用
	if err = interceptor.config.Signer.Sign(req, cred, interceptor.config.Now()); err != nil {
		return nil, err
	}
	return handler(req)
}
