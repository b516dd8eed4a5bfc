package uploader

import (
	"sync"
	"time"
)

// progressTracker 汇总各分片协程上报的完成字节数并触发进度回调。
// completed 只增不减，因此对外的百分比单调不减。
type progressTracker struct {
	m         sync.Mutex
	total     int64
	completed int64
	startTime time.Time
	onChange  func(*Progress)
}

func newProgressTracker(total, completed int64, onChange func(*Progress)) *progressTracker {
	return &progressTracker{
		total:     total,
		completed: completed,
		startTime: time.Now(),
		onChange:  onChange,
	}
}

// add 累加完成字节数并在同一临界区内回调，
// 保证并发上报时回调收到的百分比不回退。
func (t *progressTracker) add(n int64) {
	t.m.Lock()
	defer t.m.Unlock()

	t.completed += n
	if t.onChange != nil {
		t.onChange(t.snapshot())
	}
}

func (t *progressTracker) publish() {
	t.m.Lock()
	defer t.m.Unlock()

	if t.onChange != nil {
		t.onChange(t.snapshot())
	}
}

// finish 上传成功后触发终态回调，保证最后一次回调为 100%
func (t *progressTracker) finish() {
	t.m.Lock()
	defer t.m.Unlock()

	t.completed = t.total
	if t.onChange != nil {
		t.onChange(t.snapshot())
	}
}

func (t *progressTracker) snapshot() *Progress {
	progress := Progress{
		UploadedSize: t.completed,
		TotalSize:    t.total,
	}
	if t.total > 0 {
		progress.Percentage = float64(t.completed) / float64(t.total) * 100
	} else {
		progress.Percentage = 100
	}
	if elapsed := time.Since(t.startTime).Seconds(); elapsed > 0 && t.completed > 0 {
		progress.Speed = float64(t.completed) / elapsed
		progress.RemainingTime = time.Duration(float64(t.total-t.completed) / progress.Speed * float64(time.Second))
	}
	return &progress
}
