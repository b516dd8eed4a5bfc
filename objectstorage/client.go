package objectstorage

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/shuliangfu/upload/auth"
	"github.com/shuliangfu/upload/backoff"
	"github.com/shuliangfu/upload/credentials"
	uploaderrors "github.com/shuliangfu/upload/errors"
	"github.com/shuliangfu/upload/internal/clientv2"
	"github.com/shuliangfu/upload/internal/configfile"
	"github.com/shuliangfu/upload/internal/env"
)

// Options 适配器选项
type Options struct {
	// Endpoint 服务地址，如 https://s3.cn-north-1.amazonaws.com.cn
	Endpoint string `validate:"required,url"`

	// Bucket 空间名称
	Bucket string `validate:"required"`

	// Credentials 鉴权信息
	Credentials credentials.CredentialsProvider `validate:"required"`

	// HTTPClient 基础 HTTP 客户端，默认 http.DefaultClient
	HTTPClient *http.Client

	// Logger 结构化日志，默认丢弃
	Logger *zap.Logger

	// RetryMax HTTP 层的重试次数，默认 0（分片重试由上传器负责）
	RetryMax int

	// Backoff HTTP 层重试的退避器
	Backoff backoff.Backoff

	// Now 时钟，测试时可固定时间戳
	Now func() time.Time
}

var (
	optionsValidator     *validator.Validate
	optionsValidatorOnce sync.Once
)

func validateOptions(options *Options) error {
	optionsValidatorOnce.Do(func() {
		optionsValidator = validator.New()
	})
	return optionsValidator.Struct(options)
}

// defaultEndpoint 未显式指定服务地址时依次回退到环境变量与配置文件，
// 无协议前缀的地址按 disable_secure_protocol 决定 http 或 https
func defaultEndpoint() string {
	endpoint := env.EndpointFromEnvironment()
	if endpoint == "" {
		endpoint, _ = configfile.EndpointFromConfigFile()
	}
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	disabled, ok := env.DisableSecureProtocolFromEnvironment()
	if !ok {
		disabled, _ = configfile.DisableSecureProtocolFromConfigFile()
	}
	if disabled {
		return "http://" + endpoint
	}
	return "https://" + endpoint
}

// restAdapter 三家服务共用的协议实现，签名器与头部前缀由各自的构造函数注入
type restAdapter struct {
	baseURL    *url.URL
	bucket     string
	metaPrefix string
	signer     auth.Signer
	cred       credentials.CredentialsProvider
	now        func() time.Time
	client     clientv2.Client
	logger     *zap.Logger
}

func newRestAdapter(options *Options, signer auth.Signer, metaPrefix string) (*restAdapter, error) {
	if options == nil {
		options = &Options{}
	}
	if options.Endpoint == "" {
		resolved := *options
		resolved.Endpoint = defaultEndpoint()
		options = &resolved
	}
	if err := validateOptions(options); err != nil {
		return nil, err
	}
	baseURL, err := url.Parse(options.Endpoint)
	if err != nil {
		return nil, err
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}

	var coreClient clientv2.Client = http.DefaultClient
	if options.HTTPClient != nil {
		coreClient = options.HTTPClient
	}
	interceptors := []clientv2.Interceptor{
		clientv2.NewAuthInterceptor(clientv2.AuthConfig{
			Signer:      signer,
			Credentials: options.Credentials,
			Now:         now,
		}),
		clientv2.NewDebugInterceptor(logger),
	}
	if options.RetryMax > 0 {
		interceptors = append(interceptors, clientv2.NewRetryInterceptor(clientv2.RetryConfig{
			RetryMax: options.RetryMax,
			Backoff:  options.Backoff,
		}))
	}

	return &restAdapter{
		baseURL:    baseURL,
		bucket:     options.Bucket,
		metaPrefix: metaPrefix,
		signer:     signer,
		cred:       options.Credentials,
		now:        now,
		client:     clientv2.NewClient(coreClient, interceptors...),
		logger:     logger,
	}, nil
}

func (adapter *restAdapter) objectURL(key string, query url.Values) *url.URL {
	u := *adapter.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + adapter.bucket + "/" + strings.TrimPrefix(key, "/")
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return &u
}

func (adapter *restAdapter) newRequest(ctx context.Context, method string, u *url.URL, body io.ReadSeeker, size int64) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = body
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.ContentLength = size
		start, err := body.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		req.GetBody = func() (io.ReadCloser, error) {
			if _, err := body.Seek(start, io.SeekStart); err != nil {
				return nil, err
			}
			return io.NopCloser(body), nil
		}
	}
	return req, nil
}

func (adapter *restAdapter) do(req *http.Request, ret interface{}) (*http.Response, error) {
	resp, err := adapter.client.Do(req)
	if err != nil {
		return resp, err
	}
	if ret == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp, nil
	}
	defer resp.Body.Close()
	if err = xml.NewDecoder(resp.Body).Decode(ret); err != nil {
		return resp, err
	}
	return resp, nil
}

type (
	initiateMultipartUploadResult struct {
		XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
		Bucket   string   `xml:"Bucket"`
		Key      string   `xml:"Key"`
		UploadID string   `xml:"UploadId"`
	}

	completeMultipartUpload struct {
		XMLName xml.Name            `xml:"CompleteMultipartUpload"`
		Parts   []completedPartItem `xml:"Part"`
	}

	completedPartItem struct {
		PartNumber int64  `xml:"PartNumber"`
		ETag       string `xml:"ETag"`
	}

	completeMultipartUploadResult struct {
		XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
		Location string   `xml:"Location"`
		Bucket   string   `xml:"Bucket"`
		Key      string   `xml:"Key"`
		ETag     string   `xml:"ETag"`
	}

	listPartsResult struct {
		XMLName xml.Name       `xml:"ListPartsResult"`
		Parts   []listPartItem `xml:"Part"`
	}

	listPartItem struct {
		PartNumber int64  `xml:"PartNumber"`
		ETag       string `xml:"ETag"`
		Size       int64  `xml:"Size"`
	}
)

func (adapter *restAdapter) InitiateMultipartUpload(ctx context.Context, key string, options *InitiateOptions) (*MultipartInit, error) {
	query := url.Values{}
	query.Set("uploads", "")
	req, err := adapter.newRequest(ctx, http.MethodPost, adapter.objectURL(key, query), nil, 0)
	if err != nil {
		return nil, err
	}
	if options != nil {
		if options.ContentType != "" {
			req.Header.Set("Content-Type", options.ContentType)
		}
		for name, value := range options.Metadata {
			req.Header.Set(adapter.metaPrefix+name, value)
		}
	}

	var result initiateMultipartUploadResult
	if _, err = adapter.do(req, &result); err != nil {
		return nil, err
	}
	if result.UploadID == "" {
		return nil, uploaderrors.MissingRequiredFieldError{Name: "UploadId"}
	}
	return &MultipartInit{UploadID: result.UploadID, Key: key}, nil
}

func (adapter *restAdapter) UploadPart(ctx context.Context, key, uploadID string, partNumber int64, body io.ReadSeeker, size int64) (*UploadedPart, error) {
	query := url.Values{}
	query.Set("partNumber", strconv.FormatInt(partNumber, 10))
	query.Set("uploadId", uploadID)
	req, err := adapter.newRequest(ctx, http.MethodPut, adapter.objectURL(key, query), body, size)
	if err != nil {
		return nil, err
	}

	resp, err := adapter.do(req, nil)
	if err != nil {
		return nil, err
	}
	return &UploadedPart{
		PartNumber: partNumber,
		Etag:       strings.Trim(resp.Header.Get("ETag"), `"`),
		Size:       size,
	}, nil
}

func (adapter *restAdapter) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (*CompleteResult, error) {
	sorted := append([]CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	payload := completeMultipartUpload{}
	for _, part := range sorted {
		payload.Parts = append(payload.Parts, completedPartItem{PartNumber: part.PartNumber, ETag: part.Etag})
	}
	body, err := xml.Marshal(&payload)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("uploadId", uploadID)
	req, err := adapter.newRequest(ctx, http.MethodPost, adapter.objectURL(key, query), bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/xml")

	var result completeMultipartUploadResult
	if _, err = adapter.do(req, &result); err != nil {
		return nil, err
	}
	return &CompleteResult{
		Location: result.Location,
		Key:      key,
		Etag:     strings.Trim(result.ETag, `"`),
	}, nil
}

func (adapter *restAdapter) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	query := url.Values{}
	query.Set("uploadId", uploadID)
	req, err := adapter.newRequest(ctx, http.MethodDelete, adapter.objectURL(key, query), nil, 0)
	if err != nil {
		return err
	}
	_, err = adapter.do(req, nil)
	if errInfo, ok := err.(*uploaderrors.ErrorInfo); ok && errInfo.Code == http.StatusNotFound {
		// 会话可能已经完成或被清理
		return nil
	}
	return err
}

func (adapter *restAdapter) ListParts(ctx context.Context, key, uploadID string) ([]UploadedPart, error) {
	query := url.Values{}
	query.Set("uploadId", uploadID)
	req, err := adapter.newRequest(ctx, http.MethodGet, adapter.objectURL(key, query), nil, 0)
	if err != nil {
		return nil, err
	}

	var result listPartsResult
	if _, err = adapter.do(req, &result); err != nil {
		return nil, err
	}
	parts := make([]UploadedPart, 0, len(result.Parts))
	for _, part := range result.Parts {
		parts = append(parts, UploadedPart{
			PartNumber: part.PartNumber,
			Etag:       strings.Trim(part.ETag, `"`),
			Size:       part.Size,
		})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

func (adapter *restAdapter) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	req, err := adapter.newRequest(ctx, http.MethodHead, adapter.objectURL(key, nil), nil, 0)
	if err != nil {
		return nil, err
	}
	resp, err := adapter.do(req, nil)
	if err != nil {
		return nil, err
	}

	info := ObjectInfo{
		Key:         key,
		Etag:        strings.Trim(resp.Header.Get("ETag"), `"`),
		ContentType: resp.Header.Get("Content-Type"),
	}
	if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
		info.Size, _ = strconv.ParseInt(contentLength, 10, 64)
	}
	if lastModified := resp.Header.Get("Last-Modified"); lastModified != "" {
		info.LastModified, _ = http.ParseTime(lastModified)
	}
	return &info, nil
}

func (adapter *restAdapter) DeleteObject(ctx context.Context, key string) error {
	req, err := adapter.newRequest(ctx, http.MethodDelete, adapter.objectURL(key, nil), nil, 0)
	if err != nil {
		return err
	}
	_, err = adapter.do(req, nil)
	return err
}

func (adapter *restAdapter) PresignedURL(ctx context.Context, method, key string, expires time.Duration) (string, error) {
	cred, err := adapter.cred.Get(ctx)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(method, adapter.objectURL(key, nil).String(), nil)
	if err != nil {
		return "", err
	}
	if err = adapter.signer.Presign(req, cred, adapter.now(), expires); err != nil {
		return "", err
	}
	return req.URL.String(), nil
}

// ValidatePartSize 在任何网络调用之前校验分片配置，超界属于致命配置错误
func ValidatePartSize(partSize, fileSize int64) error {
	if partSize < MinPartSize || partSize > MaxPartSize {
		return uploaderrors.InvalidPartSizeError{PartSize: partSize, Min: MinPartSize, Max: MaxPartSize}
	}
	if parts := (fileSize + partSize - 1) / partSize; parts > MaxPartCount {
		return uploaderrors.TooManyPartsError{Parts: parts, Max: MaxPartCount}
	}
	return nil
}

var _ Adapter = (*restAdapter)(nil)
