package objectstorage

import (
	"context"

	"github.com/shuliangfu/upload/auth"
)

// S3Options S3 兼容服务的适配器选项
type S3Options struct {
	Options

	// Region 签名区域，缺省时从 Credentials 中获取
	Region string
}

// NewS3 创建 S3 兼容服务的适配器，使用 V4 签名
func NewS3(options *S3Options) (Adapter, error) {
	if options == nil {
		options = &S3Options{}
	}
	region := options.Region
	if region == "" && options.Credentials != nil {
		if cred, err := options.Credentials.Get(context.Background()); err == nil {
			region = cred.Region
		}
	}
	return newRestAdapter(&options.Options, auth.NewV4Signer(region, "s3"), "x-amz-meta-")
}
