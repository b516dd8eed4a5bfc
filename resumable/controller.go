package resumable

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shuliangfu/upload/errors"
	"github.com/shuliangfu/upload/objectstorage"
	"github.com/shuliangfu/upload/uploader"
	"github.com/shuliangfu/upload/uploader/source"
)

type (
	// ControllerOptions 控制器配置
	ControllerOptions struct {
		// Store 记录存储，为空时使用内存存储
		Store Store

		// Engine 上传引擎配置
		Engine uploader.EngineConfig

		// AutoSaveInterval 上传过程中持久化记录的最小间隔，
		// 限制进度回调密集时的存储写入频率
		AutoSaveInterval time.Duration

		// Logger 为空时使用 zap.NewNop()
		Logger *zap.Logger
	}

	// Controller 断点续传控制器，在引擎之上增加记录持久化与恢复。
	// 同一条记录上并发执行 Pause、Resume、Cancel 需要调用方自行串行。
	Controller struct {
		adapter          objectstorage.Adapter
		store            Store
		engineConfig     uploader.EngineConfig
		autoSaveInterval time.Duration
		logger           *zap.Logger

		m       sync.Mutex
		running map[string]*runState
	}

	// UploadOptions 单次上传的可选项
	UploadOptions struct {
		// Filename 原始文件名，仅记录用途，为空时取数据源标识
		Filename string

		// ContentType 对象的 Content-Type
		ContentType string

		// Metadata 用户自定义元信息
		Metadata map[string]string

		// OnProgress 进度回调
		OnProgress func(progress *uploader.Progress)
	}

	// Result 上传成功后的结果
	Result struct {
		ID       string
		Key      string
		Etag     string
		Location string
		Size     int64
	}

	runState struct {
		engine    *uploader.MultipartUploadEngine
		cancelled bool
	}
)

// DefaultAutoSaveInterval 默认的记录持久化最小间隔
const DefaultAutoSaveInterval = time.Second

// NewController 创建断点续传控制器
func NewController(adapter objectstorage.Adapter, options *ControllerOptions) (*Controller, error) {
	if adapter == nil {
		return nil, errors.MissingRequiredFieldError{Name: "Adapter"}
	}
	if options == nil {
		options = &ControllerOptions{}
	}

	controller := Controller{
		adapter:          adapter,
		store:            options.Store,
		engineConfig:     options.Engine,
		autoSaveInterval: options.AutoSaveInterval,
		logger:           options.Logger,
		running:          make(map[string]*runState),
	}
	if controller.store == nil {
		controller.store = NewMemoryStore()
	}
	if controller.autoSaveInterval == 0 {
		controller.autoSaveInterval = DefaultAutoSaveInterval
	}
	if controller.logger == nil {
		controller.logger = zap.NewNop()
	}
	controller.engineConfig.Logger = controller.logger
	return &controller, nil
}

// Upload 上传数据源到 key。存在内容身份一致的未完成记录时自动续传，
// 不会为同一份内容创建第二个会话。
func (controller *Controller) Upload(ctx context.Context, src source.Source, key string, opts *UploadOptions) (*Result, error) {
	if opts == nil {
		opts = &UploadOptions{}
	}
	fileHash, fileSize, err := fingerprint(src)
	if err != nil {
		return nil, err
	}

	records, err := controller.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.Resumable() && record.Matches(key, fileHash, fileSize) {
			record.setStatus(StatusUploading)
			if err = controller.store.Save(ctx, record); err != nil {
				return nil, err
			}
			return controller.run(ctx, record, src, opts)
		}
	}

	filename := opts.Filename
	if filename == "" {
		filename, _ = src.SourceKey()
	}
	record := NewRecord(key, filename, fileSize, fileHash)
	record.setStatus(StatusUploading)
	if err = controller.store.Save(ctx, record); err != nil {
		return nil, err
	}
	return controller.run(ctx, record, src, opts)
}

// Resume 按 ID 续传。数据源的指纹或大小与记录不一致时直接报错，
// 不发起任何网络请求，也不会退化为全新上传。
func (controller *Controller) Resume(ctx context.Context, id string, src source.Source, opts *UploadOptions) (*Result, error) {
	if opts == nil {
		opts = &UploadOptions{}
	}
	record, err := controller.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.RecordNotFoundError{ID: id}
	}

	fileHash, fileSize, err := fingerprint(src)
	if err != nil {
		return nil, err
	}
	if fileHash != record.FileHash || fileSize != record.FileSize {
		return nil, errors.ResumeMismatchError{ID: record.ID}
	}

	record.setStatus(StatusUploading)
	if err = controller.store.Save(ctx, record); err != nil {
		return nil, err
	}
	return controller.run(ctx, record, src, opts)
}

// Pause 请求暂停上传。调度在下一个分片边界停止，传输中的分片自然结束，
// 已完成的分片保留在记录中等待续传。
func (controller *Controller) Pause(ctx context.Context, id string) error {
	controller.m.Lock()
	state := controller.running[id]
	controller.m.Unlock()
	if state != nil {
		state.engine.Stop()
		return nil
	}

	record, err := controller.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return errors.RecordNotFoundError{ID: id}
	}
	if record.Pending() {
		record.setStatus(StatusPaused)
		return controller.store.Save(ctx, record)
	}
	return nil
}

// Cancel 取消上传并尽力终止服务端会话，记录被标记为 cancelled 后保留
func (controller *Controller) Cancel(ctx context.Context, id string) error {
	controller.m.Lock()
	state := controller.running[id]
	if state != nil {
		state.cancelled = true
	}
	controller.m.Unlock()
	if state != nil {
		state.engine.Stop()
		return nil
	}

	record, err := controller.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return errors.RecordNotFoundError{ID: id}
	}
	if record.Session != nil {
		engine, err := uploader.NewEngine(controller.adapter, &controller.engineConfig)
		if err != nil {
			return err
		}
		engine.Abort(ctx, record.Session)
	}
	record.setStatus(StatusCancelled)
	return controller.store.Save(ctx, record)
}

// ListPending 列出所有可续传的记录
func (controller *Controller) ListPending(ctx context.Context) ([]*Record, error) {
	records, err := controller.store.List(ctx)
	if err != nil {
		return nil, err
	}
	pending := records[:0]
	for _, record := range records {
		if record.Pending() {
			pending = append(pending, record)
		}
	}
	return pending, nil
}

// Cleanup 删除 UpdatedAt 早于 maxAge 的记录，不区分状态
func (controller *Controller) Cleanup(ctx context.Context, maxAge time.Duration) error {
	records, err := controller.store.List(ctx)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(-maxAge)
	for _, record := range records {
		if record.UpdatedAt.Before(deadline) {
			if err = controller.store.Delete(ctx, record.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (controller *Controller) run(ctx context.Context, record *Record, src source.Source, opts *UploadOptions) (*Result, error) {
	engineConfig := controller.engineConfig
	if record.Session != nil {
		engineConfig.PartSize = record.Session.PartSize
	}
	engine, err := uploader.NewEngine(controller.adapter, &engineConfig)
	if err != nil {
		return nil, err
	}

	state := &runState{engine: engine}
	controller.m.Lock()
	controller.running[record.ID] = state
	controller.m.Unlock()
	defer func() {
		controller.m.Lock()
		delete(controller.running, record.ID)
		controller.m.Unlock()
	}()

	// record.Session 是引擎会话的镜像，只在回调中更新，
	// 持久化按 autoSaveInterval 节流
	var (
		saveMutex sync.Mutex
		lastSave  time.Time
	)
	engineOpts := uploader.UploadOptions{
		ContentType: opts.ContentType,
		Metadata:    opts.Metadata,
		Resume:      cloneSession(record.Session),
		OnProgress:  opts.OnProgress,
		OnSessionCreated: func(session *uploader.MultipartSession) {
			saveMutex.Lock()
			defer saveMutex.Unlock()

			record.Session = cloneSession(session)
			record.UpdatedAt = time.Now()
			lastSave = record.UpdatedAt
			controller.save(ctx, record)
		},
		OnPartStateChange: func(part *uploader.PartState) error {
			saveMutex.Lock()
			defer saveMutex.Unlock()

			if record.Session != nil && part.PartNumber >= 1 && part.PartNumber <= int64(len(record.Session.Parts)) {
				record.Session.Parts[part.PartNumber-1] = *part
			}
			record.UpdatedAt = time.Now()
			if time.Since(lastSave) >= controller.autoSaveInterval {
				lastSave = time.Now()
				controller.save(ctx, record)
			}
			return nil
		},
	}

	result, err := engine.Upload(ctx, src, record.Key, &engineOpts)

	controller.m.Lock()
	cancelled := state.cancelled
	controller.m.Unlock()

	switch {
	case err == nil:
		record.setStatus(StatusCompleted)
		controller.save(ctx, record)
		if err = controller.store.Delete(ctx, record.ID); err != nil {
			controller.logger.Warn("delete completed upload record failed",
				zap.String("id", record.ID), zap.Error(err))
		}
		return &Result{
			ID:       record.ID,
			Key:      result.Key,
			Etag:     result.Etag,
			Location: result.Location,
			Size:     result.Size,
		}, nil
	case cancelled:
		engine.Abort(ctx, record.Session)
		record.setStatus(StatusCancelled)
		record.Error = err.Error()
		controller.save(ctx, record)
		return nil, err
	case engine.Stopped():
		record.setStatus(StatusPaused)
		controller.save(ctx, record)
		return nil, err
	default:
		record.setStatus(StatusFailed)
		record.Error = err.Error()
		controller.save(ctx, record)
		return nil, err
	}
}

func (controller *Controller) save(ctx context.Context, record *Record) {
	if err := controller.store.Save(ctx, record); err != nil {
		controller.logger.Warn("save upload record failed",
			zap.String("id", record.ID), zap.Error(err))
	}
}

func fingerprint(src source.Source) (string, int64, error) {
	fileHash, err := FileHash(src)
	if err != nil {
		return "", 0, err
	}
	sized, ok := src.(source.SizedSource)
	if !ok {
		return "", 0, errUnhashableSource
	}
	fileSize, err := sized.TotalSize()
	if err != nil {
		return "", 0, err
	}
	return fileHash, fileSize, nil
}
