package auth

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shuliangfu/upload/credentials"
	"github.com/shuliangfu/upload/errors"
)

type cosSigner struct{}

// NewCOSSigner 创建 COS 原生签名器
func NewCOSSigner() Signer {
	return &cosSigner{}
}

func (signer *cosSigner) Sign(req *http.Request, cred *credentials.Credentials, t time.Time) error {
	authorization, err := signer.authorization(req, cred, t, time.Hour)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", authorization)
	if cred.SessionToken != "" {
		req.Header.Set("X-Cos-Security-Token", cred.SessionToken)
	}
	return nil
}

func (signer *cosSigner) Presign(req *http.Request, cred *credentials.Credentials, t time.Time, expires time.Duration) error {
	authorization, err := signer.authorization(req, cred, t, expires)
	if err != nil {
		return err
	}
	// 结构化授权串作为查询参数原样附加
	rawQuery := req.URL.RawQuery
	if rawQuery != "" {
		rawQuery += "&"
	}
	rawQuery += authorization
	if cred.SessionToken != "" {
		rawQuery += "&x-cos-security-token=" + url.QueryEscape(cred.SessionToken)
	}
	req.URL.RawQuery = rawQuery
	return nil
}

// authorization 两级 HMAC-SHA1：先用密钥对时间窗口签出 signKey，
// 再用 signKey 对规范化请求摘要签名，拼装成结构化授权串
func (signer *cosSigner) authorization(req *http.Request, cred *credentials.Credentials, t time.Time, expires time.Duration) (string, error) {
	if cred == nil || cred.AccessKey == "" || cred.SecretKey == "" {
		return "", errors.MissingRequiredFieldError{Name: "Credentials"}
	}

	start := t.Unix()
	end := t.Add(expires).Unix()
	keyTime := fmt.Sprintf("%d;%d", start, end)
	signKey := sha1HexHMAC([]byte(cred.SecretKey), keyTime)

	paramList, paramString := cosCanonicalValues(req.URL.Query())
	headerList, headerString := cosCanonicalHeaders(req.Header, hostOf(req))

	httpString := strings.Join([]string{
		strings.ToLower(req.Method),
		req.URL.Path,
		paramString,
		headerString,
		"",
	}, "\n")

	stringToSign := strings.Join([]string{
		"sha1",
		keyTime,
		sha1Hex([]byte(httpString)),
		"",
	}, "\n")

	signature := sha1HexHMAC([]byte(signKey), stringToSign)

	return strings.Join([]string{
		"q-sign-algorithm=sha1",
		"q-ak=" + cred.AccessKey,
		"q-sign-time=" + keyTime,
		"q-key-time=" + keyTime,
		"q-header-list=" + headerList,
		"q-url-param-list=" + paramList,
		"q-signature=" + signature,
	}, "&"), nil
}

func sha1HexHMAC(key []byte, data string) string {
	return hex.EncodeToString(hmacSHA1(key, []byte(data)))
}

// cosCanonicalValues 键小写排序，键值均编码，返回 ; 分隔的键列表与 & 分隔的键值串
func cosCanonicalValues(values url.Values) (string, string) {
	keys := make([]string, 0, len(values))
	lowered := make(url.Values, len(values))
	for key, keyValues := range values {
		lower := strings.ToLower(key)
		keys = append(keys, lower)
		lowered[lower] = keyValues
	}
	sort.Strings(keys)

	names := make([]string, 0, len(keys))
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		for _, value := range lowered[key] {
			names = append(names, percentEncode(key, true))
			pairs = append(pairs, percentEncode(key, true)+"="+percentEncode(value, true))
		}
	}
	return strings.Join(names, ";"), strings.Join(pairs, "&")
}

// cosCanonicalHeaders 仅挑选参与签名的头部：host、content-* 与 x-cos- 前缀
func cosCanonicalHeaders(header http.Header, host string) (string, string) {
	filtered := make(url.Values)
	for name, headerValues := range header {
		lower := strings.ToLower(name)
		if lower == "host" || lower == "content-type" || lower == "content-length" ||
			lower == "content-md5" || strings.HasPrefix(lower, "x-cos-") {
			filtered[lower] = headerValues
		}
	}
	if host != "" {
		filtered.Set("host", host)
	}
	return cosCanonicalValues(filtered)
}
