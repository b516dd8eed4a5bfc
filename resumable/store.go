package resumable

import (
	"context"
	"sync"
)

// Store 上传记录的持久化接口。实现不要求对同一条记录的并发调用做串行化，
// 在同一条记录上并发执行暂停、续传、取消的调用方需要自行串行。
type Store interface {
	// Save 保存或覆盖记录
	Save(ctx context.Context, record *Record) error

	// Get 按 ID 加载记录，不存在时返回 (nil, nil)
	Get(ctx context.Context, id string) (*Record, error)

	// Delete 删除记录，不存在时不报错
	Delete(ctx context.Context, id string) error

	// List 列出全部记录
	List(ctx context.Context) ([]*Record, error)
}

type memoryStore struct {
	m       sync.Mutex
	records map[string]*Record
}

// NewMemoryStore 创建内存记录存储，进程退出后丢失
func NewMemoryStore() Store {
	return &memoryStore{records: make(map[string]*Record)}
}

func (store *memoryStore) Save(_ context.Context, record *Record) error {
	store.m.Lock()
	defer store.m.Unlock()

	store.records[record.ID] = record.clone()
	return nil
}

func (store *memoryStore) Get(_ context.Context, id string) (*Record, error) {
	store.m.Lock()
	defer store.m.Unlock()

	record, ok := store.records[id]
	if !ok {
		return nil, nil
	}
	return record.clone(), nil
}

func (store *memoryStore) Delete(_ context.Context, id string) error {
	store.m.Lock()
	defer store.m.Unlock()

	delete(store.records, id)
	return nil
}

func (store *memoryStore) List(_ context.Context) ([]*Record, error) {
	store.m.Lock()
	defer store.m.Unlock()

	records := make([]*Record, 0, len(store.records))
	for _, record := range store.records {
		records = append(records, record.clone())
	}
	return records, nil
}
