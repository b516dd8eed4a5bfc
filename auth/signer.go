// Package auth 实现对象存储请求签名。
//
// 共有三种互相独立的签名算法：S3 兼容服务使用的 V4 签名、OSS 原生签名与
// COS 原生签名。适配器在构造时选定一个签名器，之后不再切换。
// 签名器自身不读取系统时钟，时间戳由调用方传入，保证同样输入产生同样签名。
package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shuliangfu/upload/credentials"
)

type (
	// Signer 请求签名器接口
	Signer interface {
		// Sign 为请求附加 Authorization 等鉴权头
		Sign(req *http.Request, cred *credentials.Credentials, t time.Time) error

		// Presign 生成预签名请求，鉴权信息附加在查询参数中
		Presign(req *http.Request, cred *credentials.Credentials, t time.Time, expires time.Duration) error
	}
)

func hmacSHA1(key, data []byte) []byte {
	h := hmac.New(sha1.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// sha256FromBody 计算请求体的 SHA256，签名后将读取位置复位。
// 请求体不可回退时返回 false，调用方改用 UNSIGNED-PAYLOAD。
func sha256FromBody(req *http.Request) (string, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return sha256Hex(nil), true
	}
	seeker, ok := req.Body.(io.ReadSeeker)
	if !ok {
		return "", false
	}
	offset, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", false
	}
	hasher := sha256.New()
	if _, err = io.Copy(hasher, seeker); err != nil {
		return "", false
	}
	if _, err = seeker.Seek(offset, io.SeekStart); err != nil {
		return "", false
	}
	return hex.EncodeToString(hasher.Sum(nil)), true
}

// percentEncode 按 RFC 3986 编码，额外转义 !、'、(、)、* 五个字符。
// 头部与查询参数的规范化排序以编码后的字节为准，偏差会使签名失效。
func percentEncode(s string, encodeSlash bool) string {
	const hexDigits = "0123456789ABCDEF"
	var builder strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			builder.WriteByte(c)
		case c == '/' && !encodeSlash:
			builder.WriteByte(c)
		default:
			builder.WriteByte('%')
			builder.WriteByte(hexDigits[c>>4])
			builder.WriteByte(hexDigits[c&0xf])
		}
	}
	return builder.String()
}

func hostOf(req *http.Request) string {
	if req.Host != "" {
		return req.Host
	}
	return req.URL.Host
}
