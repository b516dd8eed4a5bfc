package objectstorage

import (
	"context"

	"github.com/shuliangfu/upload/auth"
)

// COSOptions COS 的适配器选项
type COSOptions struct {
	Options

	// CompatibilityMode 为 true 时改用 V4 签名走 S3 兼容网关
	CompatibilityMode bool

	// Region 兼容模式下的签名区域
	Region string
}

// NewCOS 创建 COS 适配器，默认使用原生两级 HMAC-SHA1 签名
func NewCOS(options *COSOptions) (Adapter, error) {
	if options == nil {
		options = &COSOptions{}
	}
	var signer auth.Signer
	if options.CompatibilityMode {
		region := options.Region
		if region == "" && options.Credentials != nil {
			if cred, err := options.Credentials.Get(context.Background()); err == nil {
				region = cred.Region
			}
		}
		signer = auth.NewV4Signer(region, "s3")
	} else {
		signer = auth.NewCOSSigner()
	}
	return newRestAdapter(&options.Options, signer, "x-cos-meta-")
}
