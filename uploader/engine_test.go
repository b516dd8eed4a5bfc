package uploader_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shuliangfu/upload/errors"
	"github.com/shuliangfu/upload/objectstorage"
	"github.com/shuliangfu/upload/uploader"
	"github.com/shuliangfu/upload/uploader/source"
)

// fakeAdapter 在内存中模拟多段上传的存储服务
type fakeAdapter struct {
	m         sync.Mutex
	uploadID  string
	parts     map[int64][]byte
	etags     map[int64]string
	attempts  map[int64]int
	completed [][]objectstorage.CompletedPart
	aborted   int
	failPart  func(partNumber int64, attempt int) error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		uploadID: "test-upload-id",
		parts:    make(map[int64][]byte),
		etags:    make(map[int64]string),
		attempts: make(map[int64]int),
	}
}

func (a *fakeAdapter) InitiateMultipartUpload(_ context.Context, key string, _ *objectstorage.InitiateOptions) (*objectstorage.MultipartInit, error) {
	return &objectstorage.MultipartInit{UploadID: a.uploadID, Key: key}, nil
}

func (a *fakeAdapter) UploadPart(_ context.Context, _, _ string, partNumber int64, body io.ReadSeeker, size int64) (*objectstorage.UploadedPart, error) {
	a.m.Lock()
	a.attempts[partNumber]++
	attempt := a.attempts[partNumber]
	a.m.Unlock()

	if a.failPart != nil {
		if err := a.failPart(partNumber, attempt); err != nil {
			return nil, err
		}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("read %d bytes, want %d", len(data), size)
	}
	etag := fmt.Sprintf("etag-%d", partNumber)

	a.m.Lock()
	a.parts[partNumber] = data
	a.etags[partNumber] = etag
	a.m.Unlock()
	return &objectstorage.UploadedPart{PartNumber: partNumber, Etag: etag, Size: size}, nil
}

func (a *fakeAdapter) CompleteMultipartUpload(_ context.Context, key, _ string, parts []objectstorage.CompletedPart) (*objectstorage.CompleteResult, error) {
	a.m.Lock()
	defer a.m.Unlock()
	a.completed = append(a.completed, parts)
	return &objectstorage.CompleteResult{Key: key, Etag: "final-etag", Location: "https://example.com/" + key}, nil
}

func (a *fakeAdapter) AbortMultipartUpload(context.Context, string, string) error {
	a.m.Lock()
	defer a.m.Unlock()
	a.aborted++
	return nil
}

func (a *fakeAdapter) ListParts(context.Context, string, string) ([]objectstorage.UploadedPart, error) {
	a.m.Lock()
	defer a.m.Unlock()
	parts := make([]objectstorage.UploadedPart, 0, len(a.parts))
	for partNumber, data := range a.parts {
		parts = append(parts, objectstorage.UploadedPart{PartNumber: partNumber, Etag: a.etags[partNumber], Size: int64(len(data))})
	}
	return parts, nil
}

func (a *fakeAdapter) HeadObject(context.Context, string) (*objectstorage.ObjectInfo, error) {
	return nil, &errors.ErrorInfo{Code: 404, Message: "not found"}
}

func (a *fakeAdapter) DeleteObject(context.Context, string) error { return nil }

func (a *fakeAdapter) PresignedURL(context.Context, string, string, time.Duration) (string, error) {
	return "", nil
}

func (a *fakeAdapter) assembled() []byte {
	a.m.Lock()
	defer a.m.Unlock()
	var buf bytes.Buffer
	for partNumber := int64(1); ; partNumber++ {
		data, ok := a.parts[partNumber]
		if !ok {
			break
		}
		buf.Write(data)
	}
	return buf.Bytes()
}

func randomBytes(n int64) []byte {
	data := make([]byte, n)
	r := rand.New(rand.NewSource(42))
	r.Read(data)
	return data
}

func TestEngineUpload(t *testing.T) {
	adapter := newFakeAdapter()
	engine, err := uploader.NewEngine(adapter, &uploader.EngineConfig{
		PartSize:    5 * mib,
		Concurrency: 2,
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, err)

	data := randomBytes(11 * mib)
	result, err := engine.Upload(context.Background(), source.NewBytesSource(data, "mem"), "videos/clip.mp4", nil)
	require.NoError(t, err)
	require.Equal(t, "videos/clip.mp4", result.Key)
	require.Equal(t, int64(11*mib), result.Size)
	require.Equal(t, "final-etag", result.Etag)

	require.Len(t, adapter.parts, 3)
	require.Equal(t, data, adapter.assembled())

	// 合并请求按 partNumber 升序
	require.Len(t, adapter.completed, 1)
	completed := adapter.completed[0]
	require.Len(t, completed, 3)
	for i, part := range completed {
		require.Equal(t, int64(i)+1, part.PartNumber)
		require.Equal(t, fmt.Sprintf("etag-%d", part.PartNumber), part.Etag)
	}
}

func TestEngineRetryExhaustion(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.failPart = func(partNumber int64, attempt int) error {
		if partNumber == 2 {
			return fmt.Errorf("part %d attempt %d: connection reset", partNumber, attempt)
		}
		return nil
	}

	engine, err := uploader.NewEngine(adapter, &uploader.EngineConfig{
		PartSize:    5 * mib,
		Concurrency: 2,
		Retries:     2,
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, err)

	var failedParts []int64
	_, err = engine.Upload(context.Background(), source.NewBytesSource(randomBytes(11*mib), "mem"), "key", &uploader.UploadOptions{
		OnPartStateChange: func(part *uploader.PartState) error {
			if part.Status == uploader.PartFailed {
				failedParts = append(failedParts, part.PartNumber)
			}
			return nil
		},
	})
	require.Error(t, err)
	require.Equal(t, errors.PartsFailedError{Failed: 1}, err)

	// 总尝试次数为 retries+1
	require.Equal(t, 3, adapter.attempts[2])
	require.Equal(t, []int64{2}, failedParts)
	require.Zero(t, adapter.aborted)
	require.Empty(t, adapter.completed)
}

func TestEngineProgressMonotonicity(t *testing.T) {
	adapter := newFakeAdapter()
	engine, err := uploader.NewEngine(adapter, &uploader.EngineConfig{
		PartSize:    5 * mib,
		Concurrency: 3,
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, err)

	var percentages []float64
	_, err = engine.Upload(context.Background(), source.NewBytesSource(randomBytes(15*mib), "mem"), "key", &uploader.UploadOptions{
		OnProgress: func(progress *uploader.Progress) {
			percentages = append(percentages, progress.Percentage)
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, percentages)
	for i := 1; i < len(percentages); i++ {
		require.GreaterOrEqual(t, percentages[i], percentages[i-1])
	}
	require.Equal(t, float64(100), percentages[len(percentages)-1])
}

func TestEngineResume(t *testing.T) {
	adapter := newFakeAdapter()
	engine, err := uploader.NewEngine(adapter, &uploader.EngineConfig{
		PartSize:    5 * mib,
		Concurrency: 2,
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, err)

	data := randomBytes(11 * mib)
	session := &uploader.MultipartSession{
		UploadID: adapter.uploadID,
		Key:      "key",
		FileSize: 11 * mib,
		PartSize: 5 * mib,
		Parts: []uploader.PartState{
			{PartNumber: 1, Offset: 0, Size: 5 * mib, Status: uploader.PartCompleted, Etag: "etag-1"},
			{PartNumber: 2, Offset: 5 * mib, Size: 5 * mib, Status: uploader.PartPending},
			{PartNumber: 3, Offset: 10 * mib, Size: 1 * mib, Status: uploader.PartFailed},
		},
		StartTime: time.Now(),
	}

	result, err := engine.Upload(context.Background(), source.NewBytesSource(data, "mem"), "key", &uploader.UploadOptions{
		Resume: session,
	})
	require.NoError(t, err)
	require.Equal(t, int64(11*mib), result.Size)

	// 已完成的分片不再上传
	require.Zero(t, adapter.attempts[1])
	require.Equal(t, 1, adapter.attempts[2])
	require.Equal(t, 1, adapter.attempts[3])

	completed := adapter.completed[0]
	require.Len(t, completed, 3)
	require.Equal(t, "etag-1", completed[0].Etag)
}

func TestEngineResumeReconcilesServerParts(t *testing.T) {
	adapter := newFakeAdapter()
	engine, err := uploader.NewEngine(adapter, &uploader.EngineConfig{
		PartSize:    5 * mib,
		Concurrency: 2,
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, err)

	data := randomBytes(11 * mib)
	// 本地记录落后：服务端已收到分片 1，本地状态仍是 pending
	adapter.parts[1] = data[:5*mib]
	adapter.etags[1] = "etag-1"

	session := &uploader.MultipartSession{
		UploadID: adapter.uploadID,
		Key:      "key",
		FileSize: 11 * mib,
		PartSize: 5 * mib,
		Parts: []uploader.PartState{
			{PartNumber: 1, Offset: 0, Size: 5 * mib, Status: uploader.PartPending},
			{PartNumber: 2, Offset: 5 * mib, Size: 5 * mib, Status: uploader.PartPending},
			{PartNumber: 3, Offset: 10 * mib, Size: 1 * mib, Status: uploader.PartPending},
		},
		StartTime: time.Now(),
	}

	_, err = engine.Upload(context.Background(), source.NewBytesSource(data, "mem"), "key", &uploader.UploadOptions{
		Resume: session,
	})
	require.NoError(t, err)

	require.Zero(t, adapter.attempts[1])
	require.Equal(t, 1, adapter.attempts[2])
	require.Equal(t, 1, adapter.attempts[3])
	require.Equal(t, "etag-1", adapter.completed[0][0].Etag)
}

func TestEngineResumeUsesSessionPartSize(t *testing.T) {
	adapter := newFakeAdapter()
	// 引擎配置的分片大小与会话记录的不一致，续传必须按会话切分
	engine, err := uploader.NewEngine(adapter, &uploader.EngineConfig{
		PartSize:    5 * mib,
		Concurrency: 2,
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, err)

	data := randomBytes(11 * mib)
	session := &uploader.MultipartSession{
		UploadID: adapter.uploadID,
		Key:      "key",
		FileSize: 11 * mib,
		PartSize: 8 * mib,
		Parts: []uploader.PartState{
			{PartNumber: 1, Offset: 0, Size: 8 * mib, Status: uploader.PartCompleted, Etag: "etag-1"},
			{PartNumber: 2, Offset: 8 * mib, Size: 3 * mib, Status: uploader.PartPending},
		},
		StartTime: time.Now(),
	}

	result, err := engine.Upload(context.Background(), source.NewBytesSource(data, "mem"), "key", &uploader.UploadOptions{
		Resume: session,
	})
	require.NoError(t, err)
	require.Equal(t, int64(11*mib), result.Size)

	require.Zero(t, adapter.attempts[1])
	require.Equal(t, 1, adapter.attempts[2])
	require.Equal(t, data[8*mib:], adapter.parts[2])
	require.Len(t, adapter.completed[0], 2)
}

func TestEngineResumeRejectsSessionWithoutPartSize(t *testing.T) {
	adapter := newFakeAdapter()
	engine, err := uploader.NewEngine(adapter, &uploader.EngineConfig{
		PartSize:   5 * mib,
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)

	session := &uploader.MultipartSession{
		UploadID:  adapter.uploadID,
		Key:       "key",
		FileSize:  6 * mib,
		Parts:     []uploader.PartState{{PartNumber: 1, Offset: 0, Size: 6 * mib, Status: uploader.PartPending}},
		StartTime: time.Now(),
	}
	_, err = engine.Upload(context.Background(), source.NewBytesSource(randomBytes(6*mib), "mem"), "key", &uploader.UploadOptions{
		Resume: session,
	})
	var invalid errors.InvalidPartSizeError
	require.ErrorAs(t, err, &invalid)
}

func TestEngineFailurePublishesTerminalProgress(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.failPart = func(partNumber int64, attempt int) error {
		if partNumber == 2 {
			return fmt.Errorf("part %d rejected", partNumber)
		}
		return nil
	}
	engine, err := uploader.NewEngine(adapter, &uploader.EngineConfig{
		PartSize:    5 * mib,
		Concurrency: 2,
		Retries:     1,
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, err)

	var progresses []uploader.Progress
	_, err = engine.Upload(context.Background(), source.NewBytesSource(randomBytes(11*mib), "mem"), "key", &uploader.UploadOptions{
		OnProgress: func(progress *uploader.Progress) {
			progresses = append(progresses, *progress)
		},
	})
	require.ErrorIs(t, err, errors.PartsFailedError{Failed: 1})

	// 失败后最后一次回调反映全部分片结算后的字节数
	require.NotEmpty(t, progresses)
	last := progresses[len(progresses)-1]
	require.Equal(t, int64(6*mib), last.UploadedSize)
}

func TestEngineRejectsEmptySource(t *testing.T) {
	adapter := newFakeAdapter()
	engine, err := uploader.NewEngine(adapter, &uploader.EngineConfig{
		PartSize:   5 * mib,
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)

	_, err = engine.Upload(context.Background(), source.NewBytesSource(nil, "mem"), "key", nil)
	require.ErrorIs(t, err, errors.EmptySourceError{})
	require.Empty(t, adapter.completed)
}

func TestEngineStateCallbackErrorFailsUpload(t *testing.T) {
	adapter := newFakeAdapter()
	engine, err := uploader.NewEngine(adapter, &uploader.EngineConfig{
		PartSize:   5 * mib,
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)

	callbackErr := fmt.Errorf("record store unavailable")
	_, err = engine.Upload(context.Background(), source.NewBytesSource(randomBytes(6*mib), "mem"), "key", &uploader.UploadOptions{
		OnPartStateChange: func(part *uploader.PartState) error {
			return callbackErr
		},
	})
	require.ErrorIs(t, err, callbackErr)
	require.Empty(t, adapter.completed)
}
