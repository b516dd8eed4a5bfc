package auth

import (
	"encoding/base64"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shuliangfu/upload/credentials"
	"github.com/shuliangfu/upload/errors"
)

const ossHeaderPrefix = "x-oss-"

// ossSubResources 参与签名的子资源与响应重写参数，按字典序排好
var ossSubResources = []string{
	"acl", "append", "cors", "delete", "lifecycle", "location", "logging",
	"objectMeta", "partNumber", "position", "referer", "response-cache-control",
	"response-content-disposition", "response-content-encoding",
	"response-content-language", "response-content-type", "response-expires",
	"restore", "security-token", "symlink", "tagging", "uploadId", "uploads",
	"website",
}

type ossSigner struct {
	bucket string
}

// NewOSSSigner 创建 OSS 原生签名器，bucket 参与资源路径规范化
func NewOSSSigner(bucket string) Signer {
	return &ossSigner{bucket: bucket}
}

func (signer *ossSigner) Sign(req *http.Request, cred *credentials.Credentials, t time.Time) error {
	if cred == nil || cred.AccessKey == "" || cred.SecretKey == "" {
		return errors.MissingRequiredFieldError{Name: "Credentials"}
	}

	date := t.UTC().Format(http.TimeFormat)
	req.Header.Set("Date", date)
	if cred.SessionToken != "" {
		req.Header.Set("X-Oss-Security-Token", cred.SessionToken)
	}

	signature := signer.signature(req, cred.SecretKey, date)
	req.Header.Set("Authorization", "OSS "+cred.AccessKey+":"+signature)
	return nil
}

func (signer *ossSigner) Presign(req *http.Request, cred *credentials.Credentials, t time.Time, expires time.Duration) error {
	if cred == nil || cred.AccessKey == "" || cred.SecretKey == "" {
		return errors.MissingRequiredFieldError{Name: "Credentials"}
	}

	// 预签名用 Unix 过期时间取代 Date 参与签名
	expiresAt := strconv.FormatInt(t.Unix()+int64(expires/time.Second), 10)
	if cred.SessionToken != "" {
		req.Header.Set("X-Oss-Security-Token", cred.SessionToken)
	}
	signature := signer.signature(req, cred.SecretKey, expiresAt)

	query := req.URL.Query()
	query.Set("OSSAccessKeyId", cred.AccessKey)
	query.Set("Expires", expiresAt)
	query.Set("Signature", signature)
	if cred.SessionToken != "" {
		query.Set("security-token", cred.SessionToken)
	}
	req.URL.RawQuery = query.Encode()
	return nil
}

// signature 对 VERB\nContent-MD5\nContent-Type\nDate\nCanonicalizedOSSHeaders
// CanonicalizedResource 计算 HMAC-SHA1 并 base64 编码
func (signer *ossSigner) signature(req *http.Request, secretKey, date string) string {
	var stringToSign strings.Builder
	stringToSign.WriteString(req.Method)
	stringToSign.WriteString("\n")
	stringToSign.WriteString(req.Header.Get("Content-MD5"))
	stringToSign.WriteString("\n")
	stringToSign.WriteString(req.Header.Get("Content-Type"))
	stringToSign.WriteString("\n")
	stringToSign.WriteString(date)
	stringToSign.WriteString("\n")
	stringToSign.WriteString(ossCanonicalizedHeaders(req.Header))
	stringToSign.WriteString(signer.canonicalizedResource(req))

	sum := hmacSHA1([]byte(secretKey), []byte(stringToSign.String()))
	return base64.StdEncoding.EncodeToString(sum)
}

// ossCanonicalizedHeaders 提取 x-oss- 前缀头部，小写排序后逐行拼接
func ossCanonicalizedHeaders(header http.Header) string {
	var names []string
	values := make(map[string]string)
	for name, headerValues := range header {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, ossHeaderPrefix) {
			names = append(names, lower)
			values[lower] = strings.TrimSpace(strings.Join(headerValues, ","))
		}
	}
	sort.Strings(names)

	var builder strings.Builder
	for _, name := range names {
		builder.WriteString(name)
		builder.WriteString(":")
		builder.WriteString(values[name])
		builder.WriteString("\n")
	}
	return builder.String()
}

func (signer *ossSigner) canonicalizedResource(req *http.Request) string {
	var resource strings.Builder
	if signer.bucket != "" {
		resource.WriteString("/")
		resource.WriteString(signer.bucket)
	}
	if req.URL.Path == "" {
		resource.WriteString("/")
	} else {
		resource.WriteString(req.URL.Path)
	}

	query := req.URL.Query()
	var pairs []string
	for _, name := range ossSubResources {
		if values, ok := query[name]; ok {
			if len(values) > 0 && values[0] != "" {
				pairs = append(pairs, name+"="+values[0])
			} else {
				pairs = append(pairs, name)
			}
		}
	}
	if len(pairs) > 0 {
		resource.WriteString("?")
		resource.WriteString(strings.Join(pairs, "&"))
	}
	return resource.String()
}
