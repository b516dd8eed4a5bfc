package uploader

import (
	"time"
)

type (
	// PartStatus 分片状态
	PartStatus int

	// PartState 单个分片的上传状态。上传期间每个分片槽位仅由
	// 负责该分片的协程写入，上传结束后由调用方读取。
	PartState struct {
		PartNumber int64      `json:"part_number"`
		Offset     int64      `json:"offset"`
		Size       int64      `json:"size"`
		Status     PartStatus `json:"status"`
		Etag       string     `json:"etag,omitempty"`
		Err        error      `json:"-"`
	}

	// MultipartSession 一次分片上传的会话信息,可序列化后用于断点续传
	MultipartSession struct {
		UploadID  string      `json:"upload_id"`
		Key       string      `json:"key"`
		FileSize  int64       `json:"file_size"`
		PartSize  int64       `json:"part_size"`
		Parts     []PartState `json:"parts"`
		StartTime time.Time   `json:"start_time"`
	}

	// Progress 上传进度。Percentage 单调不减，终态回调总是最后一次触发
	Progress struct {
		UploadedSize  int64
		TotalSize     int64
		Percentage    float64
		Speed         float64
		RemainingTime time.Duration
	}

	// UploadResult 上传成功后的结果
	UploadResult struct {
		Key      string
		Etag     string
		Location string
		Size     int64
	}

	// UploadOptions 单次上传的可选项
	UploadOptions struct {
		// ContentType 对象的 Content-Type
		ContentType string

		// Metadata 用户自定义元信息,由适配器添加平台前缀
		Metadata map[string]string

		// Resume 从已有会话继续上传,已完成的分片直接跳过
		Resume *MultipartSession

		// OnSessionCreated 新会话创建后回调,用于持久化会话信息
		OnSessionCreated func(session *MultipartSession)

		// OnProgress 进度回调
		OnProgress func(progress *Progress)

		// OnPartStateChange 分片状态变更回调,返回错误则终止上传
		OnPartStateChange func(part *PartState) error
	}
)

const (
	// PartPending 尚未开始上传
	PartPending PartStatus = iota

	// PartUploading 正在上传
	PartUploading

	// PartCompleted 上传完成
	PartCompleted

	// PartFailed 重试耗尽后仍然失败
	PartFailed
)

func (s PartStatus) String() string {
	switch s {
	case PartPending:
		return "pending"
	case PartUploading:
		return "uploading"
	case PartCompleted:
		return "completed"
	case PartFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText 序列化为状态名,断点续传记录中使用可读形式
func (s PartStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 从状态名反序列化
func (s *PartStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "uploading":
		*s = PartUploading
	case "completed":
		*s = PartCompleted
	case "failed":
		*s = PartFailed
	default:
		*s = PartPending
	}
	return nil
}

// CompletedSize 会话中已完成分片的总字节数
func (session *MultipartSession) CompletedSize() int64 {
	var total int64
	for i := range session.Parts {
		if session.Parts[i].Status == PartCompleted {
			total += session.Parts[i].Size
		}
	}
	return total
}
