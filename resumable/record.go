// Package resumable 在分片上传引擎之上提供断点续传能力。
// 上传记录以 (key, fileHash, fileSize) 的内容身份标识，
// 持久化到 Store 后可以跨进程恢复。
package resumable

import (
	"time"

	"github.com/google/uuid"

	"github.com/shuliangfu/upload/uploader"
)

type (
	// Status 上传记录状态
	Status string

	// Record 断点续传记录。续传身份是 (Key, FileHash, FileSize) 而非 ID，
	// 调用方不需要记住 ID 也能找回之前的上传。
	Record struct {
		ID        string                     `json:"id"`
		Key       string                     `json:"key"`
		Filename  string                     `json:"filename,omitempty"`
		FileSize  int64                      `json:"file_size"`
		FileHash  string                     `json:"file_hash"`
		Status    Status                     `json:"status"`
		Session   *uploader.MultipartSession `json:"session,omitempty"`
		Error     string                     `json:"error,omitempty"`
		CreatedAt time.Time                  `json:"created_at"`
		UpdatedAt time.Time                  `json:"updated_at"`
	}
)

const (
	// StatusPending 已创建尚未开始
	StatusPending Status = "pending"

	// StatusUploading 正在上传
	StatusUploading Status = "uploading"

	// StatusPaused 已暂停，可以续传
	StatusPaused Status = "paused"

	// StatusCompleted 上传成功，记录随即被删除
	StatusCompleted Status = "completed"

	// StatusFailed 上传失败，记录保留以便续传
	StatusFailed Status = "failed"

	// StatusCancelled 已取消，服务端会话已尽力终止
	StatusCancelled Status = "cancelled"
)

// NewRecord 创建新的上传记录，ID 由客户端生成
func NewRecord(key, filename string, fileSize int64, fileHash string) *Record {
	now := time.Now()
	return &Record{
		ID:        uuid.NewString(),
		Key:       key,
		Filename:  filename,
		FileSize:  fileSize,
		FileHash:  fileHash,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Matches 判断记录是否与给定内容身份一致
func (record *Record) Matches(key, fileHash string, fileSize int64) bool {
	return record.Key == key && record.FileHash == fileHash && record.FileSize == fileSize
}

// Pending 记录是否处于进行中状态
func (record *Record) Pending() bool {
	switch record.Status {
	case StatusPending, StatusUploading, StatusPaused:
		return true
	default:
		return false
	}
}

// Resumable 记录是否可以续传。失败的记录同样可以续传，
// 已取消的不再复用，服务端会话已被终止。
func (record *Record) Resumable() bool {
	return record.Pending() || record.Status == StatusFailed
}

func (record *Record) clone() *Record {
	clone := *record
	clone.Session = cloneSession(record.Session)
	return &clone
}

func cloneSession(session *uploader.MultipartSession) *uploader.MultipartSession {
	if session == nil {
		return nil
	}
	clone := *session
	clone.Parts = append([]uploader.PartState(nil), session.Parts...)
	return &clone
}

func (record *Record) setStatus(status Status) {
	record.Status = status
	record.UpdatedAt = time.Now()
}
