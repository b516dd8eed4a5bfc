package objectstorage

import (
	"context"

	"github.com/shuliangfu/upload/auth"
)

// OSSOptions OSS 的适配器选项
type OSSOptions struct {
	Options

	// CompatibilityMode 为 true 时改用 V4 签名走 S3 兼容网关
	CompatibilityMode bool

	// Region 兼容模式下的签名区域
	Region string
}

// NewOSS 创建 OSS 适配器，默认使用原生 HMAC-SHA1 签名。
// 适配器统一使用 path-style 地址，资源路径即 /bucket/key，
// 签名器内不再重复拼接 bucket。
func NewOSS(options *OSSOptions) (Adapter, error) {
	if options == nil {
		options = &OSSOptions{}
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
		signer = auth.NewOSSSigner("")
	}
	return newRestAdapter(&options.Options, signer, "x-oss-meta-")
}
