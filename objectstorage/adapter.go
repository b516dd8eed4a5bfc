// Package objectstorage 按统一的能力接口封装各对象存储服务的分片上传原语。
//
// 三家服务均使用 S3 风格的 XML 分片协议（?uploads 初始化、partNumber+uploadId
// 上传分片、XML 合并、DELETE 丢弃），差别只在签名算法与元数据头部前缀。
package objectstorage

import (
	"context"
	"io"
	"time"
)

const (
	// MinPartSize 除最后一个分片外每个分片的最小大小
	MinPartSize int64 = 5 * 1024 * 1024

	// MaxPartSize 单个分片的最大大小
	MaxPartSize int64 = 5 * 1024 * 1024 * 1024

	// MaxPartCount 单次上传的分片数量上限
	MaxPartCount int64 = 10000
)

type (
	// Adapter 存储适配器接口，每家服务一个实现
	Adapter interface {
		// InitiateMultipartUpload 初始化分片上传，获得 uploadId
		InitiateMultipartUpload(ctx context.Context, key string, options *InitiateOptions) (*MultipartInit, error)

		// UploadPart 上传一个分片，重试必须复用同一 partNumber
		UploadPart(ctx context.Context, key, uploadID string, partNumber int64, body io.ReadSeeker, size int64) (*UploadedPart, error)

		// CompleteMultipartUpload 按 partNumber 升序提交分片列表，服务端合并对调用方原子
		CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (*CompleteResult, error)

		// AbortMultipartUpload 丢弃分片上传会话
		AbortMultipartUpload(ctx context.Context, key, uploadID string) error

		// ListParts 列出已上传的分片
		ListParts(ctx context.Context, key, uploadID string) ([]UploadedPart, error)

		// HeadObject 获取对象元信息
		HeadObject(ctx context.Context, key string) (*ObjectInfo, error)

		// DeleteObject 删除对象
		DeleteObject(ctx context.Context, key string) error

		// PresignedURL 生成预签名访问地址
		PresignedURL(ctx context.Context, method, key string, expires time.Duration) (string, error)
	}

	// InitiateOptions 初始化分片上传的可选参数
	InitiateOptions struct {
		ContentType string
		Metadata    map[string]string
	}

	// MultipartInit 初始化分片上传的结果
	MultipartInit struct {
		UploadID string
		Key      string
	}

	// UploadedPart 单个分片的上传结果
	UploadedPart struct {
		PartNumber int64
		Etag       string
		Size       int64
	}

	// CompletedPart 合并请求中的分片标识
	CompletedPart struct {
		PartNumber int64
		Etag       string
	}

	// CompleteResult 合并完成后的对象信息
	CompleteResult struct {
		Location string
		Key      string
		Etag     string
	}

	// ObjectInfo 对象元信息
	ObjectInfo struct {
		Key          string
		Size         int64
		Etag         string
		ContentType  string
		LastModified time.Time
	}
)
