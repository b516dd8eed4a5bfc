package auth

import (
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shuliangfu/upload/credentials"
	"github.com/shuliangfu/upload/errors"
)

const (
	v4Algorithm       = "AWS4-HMAC-SHA256"
	v4UnsignedPayload = "UNSIGNED-PAYLOAD"

	v4AmzDateFormat = "20060102T150405Z"
	v4DateFormat    = "20060102"
)

type v4Signer struct {
	region, service string
}

// NewV4Signer 创建 V4 签名器，S3 兼容服务使用，OSS 与 COS 的兼容模式也可使用
func NewV4Signer(region, service string) Signer {
	if service == "" {
		service = "s3"
	}
	return &v4Signer{region: region, service: service}
}

func (signer *v4Signer) Sign(req *http.Request, cred *credentials.Credentials, t time.Time) error {
	if cred == nil || cred.AccessKey == "" || cred.SecretKey == "" {
		return errors.MissingRequiredFieldError{Name: "Credentials"}
	}

	t = t.UTC()
	amzDate := t.Format(v4AmzDateFormat)

	payloadHash, ok := sha256FromBody(req)
	if !ok {
		payloadHash = v4UnsignedPayload
	}
	req.Header.Set("Host", hostOf(req))
	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	if cred.SessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", cred.SessionToken)
	}

	canonicalHeaders, signedHeaders := v4CanonicalHeaders(req.Header)
	canonicalRequest := strings.Join([]string{
		req.Method,
		v4CanonicalURI(req.URL),
		v4CanonicalQuery(req.URL.Query()),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := signer.credentialScope(t)
	stringToSign := strings.Join([]string{
		v4Algorithm,
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signature := signer.signature(cred.SecretKey, t, stringToSign)
	req.Header.Set("Authorization",
		v4Algorithm+" Credential="+cred.AccessKey+"/"+scope+
			", SignedHeaders="+signedHeaders+
			", Signature="+signature)
	return nil
}

func (signer *v4Signer) Presign(req *http.Request, cred *credentials.Credentials, t time.Time, expires time.Duration) error {
	if cred == nil || cred.AccessKey == "" || cred.SecretKey == "" {
		return errors.MissingRequiredFieldError{Name: "Credentials"}
	}

	t = t.UTC()
	amzDate := t.Format(v4AmzDateFormat)
	scope := signer.credentialScope(t)

	req.Header.Set("Host", hostOf(req))
	canonicalHeaders, signedHeaders := v4CanonicalHeaders(req.Header)

	query := req.URL.Query()
	query.Set("X-Amz-Algorithm", v4Algorithm)
	query.Set("X-Amz-Credential", cred.AccessKey+"/"+scope)
	query.Set("X-Amz-Date", amzDate)
	query.Set("X-Amz-Expires", strconv.FormatInt(int64(expires/time.Second), 10))
	query.Set("X-Amz-SignedHeaders", signedHeaders)
	if cred.SessionToken != "" {
		query.Set("X-Amz-Security-Token", cred.SessionToken)
	}

	// 预签名不读取请求体
	canonicalRequest := strings.Join([]string{
		req.Method,
		v4CanonicalURI(req.URL),
		v4CanonicalQuery(query),
		canonicalHeaders,
		signedHeaders,
		v4UnsignedPayload,
	}, "\n")
	stringToSign := strings.Join([]string{
		v4Algorithm,
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	query.Set("X-Amz-Signature", signer.signature(cred.SecretKey, t, stringToSign))
	req.URL.RawQuery = v4CanonicalQuery(query)
	return nil
}

func (signer *v4Signer) credentialScope(t time.Time) string {
	return strings.Join([]string{t.Format(v4DateFormat), signer.region, signer.service, "aws4_request"}, "/")
}

// signature 四级 HMAC 链派生签名密钥后对 stringToSign 签名
func (signer *v4Signer) signature(secretKey string, t time.Time, stringToSign string) string {
	dateKey := hmacSHA256([]byte("AWS4"+secretKey), []byte(t.Format(v4DateFormat)))
	regionKey := hmacSHA256(dateKey, []byte(signer.region))
	serviceKey := hmacSHA256(regionKey, []byte(signer.service))
	signingKey := hmacSHA256(serviceKey, []byte("aws4_request"))
	return hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))
}

func v4CanonicalURI(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return percentEncode(u.Path, false)
}

func v4CanonicalQuery(query url.Values) string {
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(query))
	for _, key := range keys {
		values := append([]string(nil), query[key]...)
		sort.Strings(values)
		for _, value := range values {
			pairs = append(pairs, percentEncode(key, true)+"="+percentEncode(value, true))
		}
	}
	return strings.Join(pairs, "&")
}

// v4CanonicalHeaders 头部名小写并按字典序排列，返回规范化头部与已签名头部列表
func v4CanonicalHeaders(header http.Header) (string, string) {
	names := make([]string, 0, len(header))
	for name := range header {
		lower := strings.ToLower(name)
		if lower == "authorization" {
			continue
		}
		names = append(names, lower)
	}
	sort.Strings(names)

	var canonical strings.Builder
	for _, name := range names {
		values := header.Values(http.CanonicalHeaderKey(name))
		trimmed := make([]string, len(values))
		for i, value := range values {
			trimmed[i] = strings.TrimSpace(value)
		}
		canonical.WriteString(name)
		canonical.WriteString(":")
		canonical.WriteString(strings.Join(trimmed, ","))
		canonical.WriteString("\n")
	}
	return canonical.String(), strings.Join(names, ";")
}
