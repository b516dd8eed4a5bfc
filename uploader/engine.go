// Package uploader 提供分片上传引擎，将字节源切分为分片后以受限并发上传，
// 单个分片失败时按指数退避重试，并通过回调通知进度与分片状态变更。
package uploader

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shuliangfu/upload/backoff"
	"github.com/shuliangfu/upload/errors"
	"github.com/shuliangfu/upload/internal/configfile"
	"github.com/shuliangfu/upload/objectstorage"
	"github.com/shuliangfu/upload/uploader/source"
)

type (
	// EngineConfig 上传引擎配置
	EngineConfig struct {
		// PartSize 分片大小，受存储服务的上下界约束
		PartSize int64 `validate:"omitempty,min=1"`

		// Concurrency 同时上传的分片数量上限
		Concurrency int `validate:"omitempty,min=1"`

		// Retries 单个分片的重试次数，总尝试次数为 Retries+1
		Retries int `validate:"min=0"`

		// RetryDelay 重试退避基数，第 n 次重试前等待 RetryDelay × 2^n
		RetryDelay time.Duration `validate:"min=0"`

		// Logger 为空时使用 zap.NewNop()
		Logger *zap.Logger
	}

	// MultipartUploadEngine 分片上传引擎
	MultipartUploadEngine struct {
		adapter     objectstorage.Adapter
		partSize    int64
		concurrency int
		retries     int
		retryDelay  time.Duration
		logger      *zap.Logger
		stopped     atomic.Bool

		// callbackM 串行化状态回调，分片协程并发结算时回调依然逐个执行
		callbackM sync.Mutex
	}
)

const (
	// DefaultPartSize 默认分片大小
	DefaultPartSize int64 = 8 * 1024 * 1024

	// DefaultConcurrency 默认并发度
	DefaultConcurrency = 3

	// DefaultRetries 默认重试次数
	DefaultRetries = 3

	// DefaultRetryDelay 默认重试退避基数
	DefaultRetryDelay = 500 * time.Millisecond
)

var engineValidator = validator.New()

// NewEngine 创建分片上传引擎。config 为 nil 时全部使用默认值。
func NewEngine(adapter objectstorage.Adapter, config *EngineConfig) (*MultipartUploadEngine, error) {
	if config == nil {
		config = &EngineConfig{}
	}
	if err := engineValidator.Struct(config); err != nil {
		return nil, err
	}

	engine := MultipartUploadEngine{
		adapter:     adapter,
		partSize:    config.PartSize,
		concurrency: config.Concurrency,
		retries:     config.Retries,
		retryDelay:  config.RetryDelay,
		logger:      config.Logger,
	}
	if engine.partSize == 0 {
		engine.partSize = DefaultPartSize
		// 配置文件可以全局调整默认分片大小
		if configured, err := configfile.PartSizeFromConfigFile(); err == nil && configured > 0 {
			engine.partSize = configured
		}
	}
	if engine.concurrency == 0 {
		engine.concurrency = DefaultConcurrency
	}
	if engine.retries == 0 {
		engine.retries = DefaultRetries
	}
	if engine.retryDelay == 0 {
		engine.retryDelay = DefaultRetryDelay
	}
	if engine.logger == nil {
		engine.logger = zap.NewNop()
	}
	return &engine, nil
}

// Stop 请求停止上传。标志在分片调度点被轮询，已在传输中的分片不会被打断。
func (engine *MultipartUploadEngine) Stop() {
	engine.stopped.Store(true)
}

// Stopped 是否已请求停止
func (engine *MultipartUploadEngine) Stopped() bool {
	return engine.stopped.Load()
}

// Abort 终止服务端的分片上传会话。终止属于尽力而为的清理，
// 失败只记录日志不返回错误，会话可能已经完成或被服务端回收。
func (engine *MultipartUploadEngine) Abort(ctx context.Context, session *MultipartSession) {
	if session == nil || session.UploadID == "" {
		return
	}
	if err := engine.adapter.AbortMultipartUpload(ctx, session.Key, session.UploadID); err != nil {
		engine.logger.Warn("abort multipart upload failed",
			zap.String("key", session.Key),
			zap.String("uploadId", session.UploadID),
			zap.Error(err))
	}
}

// reconcileParts 续传前以服务端已收到的分片补齐会话状态，
// 本地记录落后于服务端时避免重复上传。拉取失败沿用本地记录。
func (engine *MultipartUploadEngine) reconcileParts(ctx context.Context, session *MultipartSession) {
	uploaded, err := engine.adapter.ListParts(ctx, session.Key, session.UploadID)
	if err != nil {
		engine.logger.Warn("list parts failed",
			zap.String("key", session.Key),
			zap.String("uploadId", session.UploadID),
			zap.Error(err))
		return
	}
	for _, part := range uploaded {
		index := part.PartNumber - 1
		if index < 0 || index >= int64(len(session.Parts)) {
			continue
		}
		state := &session.Parts[index]
		if state.Status != PartCompleted && part.Size == state.Size {
			state.Status = PartCompleted
			state.Etag = part.Etag
		}
	}
}

// Upload 上传字节源到 key。opts.Resume 不为空时跳过会话中已完成的分片，
// 任意分片重试耗尽后整体失败并返回 PartsFailedError，会话保留以便续传。
func (engine *MultipartUploadEngine) Upload(ctx context.Context, src source.Source, key string, opts *UploadOptions) (*UploadResult, error) {
	if opts == nil {
		opts = &UploadOptions{}
	}
	engine.stopped.Store(false)

	sized, ok := src.(source.SizedSource)
	if !ok {
		return nil, errors.MissingRequiredFieldError{Name: "TotalSize"}
	}
	fileSize, err := sized.TotalSize()
	if err != nil {
		return nil, err
	}
	// 零分片的合并请求会被存储服务拒绝
	if fileSize <= 0 {
		return nil, errors.EmptySourceError{}
	}

	partSize := engine.partSize
	session := opts.Resume
	if session == nil {
		plan, err := PlanParts(fileSize, engine.partSize)
		if err != nil {
			return nil, err
		}
		init, err := engine.adapter.InitiateMultipartUpload(ctx, key, &objectstorage.InitiateOptions{
			ContentType: opts.ContentType,
			Metadata:    opts.Metadata,
		})
		if err != nil {
			return nil, err
		}
		session = &MultipartSession{
			UploadID:  init.UploadID,
			Key:       init.Key,
			FileSize:  fileSize,
			PartSize:  engine.partSize,
			Parts:     make([]PartState, len(plan)),
			StartTime: time.Now(),
		}
		for i, spec := range plan {
			session.Parts[i] = PartState{
				PartNumber: spec.PartNumber,
				Offset:     spec.Offset,
				Size:       spec.Size,
				Status:     PartPending,
			}
		}
		if opts.OnSessionCreated != nil {
			opts.OnSessionCreated(session)
		}
	} else {
		// 续传按会话记录的分片大小切分，偏移才能对上已有的分片编号；
		// 引擎配置的分片大小只作用于新会话
		if session.PartSize <= 0 {
			return nil, errors.InvalidPartSizeError{
				PartSize: session.PartSize,
				Min:      objectstorage.MinPartSize,
				Max:      objectstorage.MaxPartSize,
			}
		}
		partSize = session.PartSize
		if resetable, ok := src.(source.ResetableSource); ok {
			if err := resetable.Reset(); err != nil {
				return nil, err
			}
		}
		engine.reconcileParts(ctx, session)
	}

	tracker := newProgressTracker(fileSize, session.CompletedSize(), opts.OnProgress)
	tracker.publish()

	var g errgroup.Group
	g.SetLimit(engine.concurrency)
	var callbackErr atomic.Value

	for {
		if ctx.Err() != nil || engine.stopped.Load() || callbackErr.Load() != nil {
			break
		}
		part, err := src.Slice(partSize)
		if err != nil {
			_ = g.Wait()
			return nil, err
		}
		if part == nil {
			break
		}
		state := &session.Parts[part.PartNumber()-1]
		if state.Status == PartCompleted {
			continue
		}
		g.Go(func() error {
			if err := engine.uploadPart(ctx, session, part, state, tracker, opts); err != nil {
				callbackErr.CompareAndSwap(nil, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err, ok := callbackErr.Load().(error); ok && err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if engine.stopped.Load() {
		return nil, context.Canceled
	}

	var failed int
	completedParts := make([]objectstorage.CompletedPart, 0, len(session.Parts))
	for i := range session.Parts {
		switch session.Parts[i].Status {
		case PartCompleted:
			completedParts = append(completedParts, objectstorage.CompletedPart{
				PartNumber: session.Parts[i].PartNumber,
				Etag:       session.Parts[i].Etag,
			})
		default:
			failed++
		}
	}
	if failed > 0 {
		// 失败也送出终态进度，回调方最后看到的不是中途的百分比
		tracker.publish()
		return nil, errors.PartsFailedError{Failed: failed}
	}

	result, err := engine.adapter.CompleteMultipartUpload(ctx, session.Key, session.UploadID, completedParts)
	if err != nil {
		return nil, err
	}
	tracker.finish()
	return &UploadResult{
		Key:      result.Key,
		Etag:     result.Etag,
		Location: result.Location,
		Size:     fileSize,
	}, nil
}

func (engine *MultipartUploadEngine) uploadPart(ctx context.Context, session *MultipartSession, part source.Part, state *PartState, tracker *progressTracker, opts *UploadOptions) error {
	if err := engine.setPartStatus(state, PartUploading, opts); err != nil {
		return err
	}

	wait := backoff.NewExponentialBackoff(engine.retryDelay, 2)
	var lastErr error
	for attempt := 0; attempt <= engine.retries; attempt++ {
		if attempt > 0 {
			delay := wait.Time(ctx, &backoff.BackoffOptions{Attempts: attempt - 1})
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				state.Err = ctx.Err()
				return engine.setPartStatus(state, PartFailed, opts)
			case <-timer.C:
			}
		}
		if _, err := part.Seek(0, io.SeekStart); err != nil {
			lastErr = err
			continue
		}
		uploaded, err := engine.adapter.UploadPart(ctx, session.Key, session.UploadID, part.PartNumber(), part, part.Size())
		if err != nil {
			lastErr = err
			engine.logger.Debug("upload part failed",
				zap.Int64("partNumber", part.PartNumber()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		state.Etag = uploaded.Etag
		if err = engine.setPartStatus(state, PartCompleted, opts); err != nil {
			return err
		}
		tracker.add(part.Size())
		return nil
	}

	state.Err = lastErr
	return engine.setPartStatus(state, PartFailed, opts)
}

func (engine *MultipartUploadEngine) setPartStatus(state *PartState, status PartStatus, opts *UploadOptions) error {
	state.Status = status
	if opts.OnPartStateChange != nil {
		engine.callbackM.Lock()
		defer engine.callbackM.Unlock()
		return opts.OnPartStateChange(state)
	}
	return nil
}
