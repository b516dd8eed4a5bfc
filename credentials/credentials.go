package credentials

import (
	"context"
	"errors"

	"github.com/shuliangfu/upload/internal/configfile"
	"github.com/shuliangfu/upload/internal/env"
)

// Credentials 鉴权信息，适配器构造后不可变
type Credentials struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
	Region       string
}

// New 构建一个 Credentials 对象
func New(accessKey, secretKey string) *Credentials {
	return &Credentials{AccessKey: accessKey, SecretKey: secretKey}
}

// NewWithSessionToken 构建一个带临时令牌的 Credentials 对象
func NewWithSessionToken(accessKey, secretKey, sessionToken string) *Credentials {
	return &Credentials{AccessKey: accessKey, SecretKey: secretKey, SessionToken: sessionToken}
}

// WithRegion 返回绑定区域后的 Credentials 副本
func (cred Credentials) WithRegion(region string) *Credentials {
	cred.Region = region
	return &cred
}

// CredentialsProvider 获取 Credentials 对象的接口
type CredentialsProvider interface {
	Get(context.Context) (*Credentials, error)
}

type staticCredentialsProvider struct {
	credentials *Credentials
}

// NewStaticCredentialsProvider 使用固定的 Credentials 对象
func NewStaticCredentialsProvider(credentials *Credentials) CredentialsProvider {
	return staticCredentialsProvider{credentials}
}

func (provider staticCredentialsProvider) Get(context.Context) (*Credentials, error) {
	if provider.credentials == nil {
		return nil, errors.New("credentials are not set")
	}
	return provider.credentials, nil
}

// EnvironmentVariableCredentialsProvider 从环境变量中获取 Credentials
type EnvironmentVariableCredentialsProvider struct{}

func (provider EnvironmentVariableCredentialsProvider) Get(ctx context.Context) (*Credentials, error) {
	accessKey, secretKey := env.CredentialsFromEnvironment()
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("UPLOAD_ACCESS_KEY or UPLOAD_SECRET_KEY is not set")
	}
	credentials := New(accessKey, secretKey)
	credentials.SessionToken = env.SessionTokenFromEnvironment()
	credentials.Region = env.RegionFromEnvironment()
	return credentials, nil
}

var _ CredentialsProvider = EnvironmentVariableCredentialsProvider{}

// ConfigFileCredentialsProvider 从配置文件中获取 Credentials
type ConfigFileCredentialsProvider struct{}

func (provider ConfigFileCredentialsProvider) Get(ctx context.Context) (*Credentials, error) {
	accessKey, secretKey, err := configfile.CredentialsFromConfigFile()
	if err != nil {
		return nil, err
	}
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("credentials are not found in config file")
	}
	credentials := New(accessKey, secretKey)
	if region, err := configfile.RegionFromConfigFile(); err == nil {
		credentials.Region = region
	}
	return credentials, nil
}

var _ CredentialsProvider = ConfigFileCredentialsProvider{}

// ChainedCredentialsProvider 存储多个 CredentialsProvider，逐个尝试直到成功获取第一个 Credentials 为止
type ChainedCredentialsProvider struct {
	providers []CredentialsProvider
}

// NewChainedCredentialsProvider 构建 ChainedCredentialsProvider
func NewChainedCredentialsProvider(providers ...CredentialsProvider) *ChainedCredentialsProvider {
	return &ChainedCredentialsProvider{providers: providers}
}

func (provider *ChainedCredentialsProvider) Get(ctx context.Context) (credentials *Credentials, err error) {
	for _, p := range provider.providers {
		if credentials, err = p.Get(ctx); err == nil {
			return
		}
	}
	if err == nil {
		err = errors.New("no credentials provider is configured")
	}
	return
}

var _ CredentialsProvider = (*ChainedCredentialsProvider)(nil)

// Default 依次尝试环境变量与配置文件
func Default() CredentialsProvider {
	return NewChainedCredentialsProvider(
		EnvironmentVariableCredentialsProvider{},
		ConfigFileCredentialsProvider{},
	)
}
