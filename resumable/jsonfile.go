package resumable

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"
)

// jsonFileStore 把全部记录以 JSON 行的形式保存在单个文件中，
// 同一条 ID 的多行以 UpdatedAt 较新者为准，写入时整体重写并压缩历史行。
// 文件访问通过旁路 .lock 文件加文件锁，可以被多个进程共享。
type jsonFileStore struct {
	filePath string
	group    singleflight.Group
}

// NewJSONFileStore 创建基于 JSON 文件的记录存储，目录不存在时自动创建
func NewJSONFileStore(filePath string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return nil, err
	}
	return &jsonFileStore{filePath: filePath}, nil
}

func (store *jsonFileStore) Save(_ context.Context, record *Record) error {
	return store.update(func(records map[string]*Record) {
		records[record.ID] = record.clone()
	})
}

func (store *jsonFileStore) Get(_ context.Context, id string) (*Record, error) {
	records, err := store.load()
	if err != nil {
		return nil, err
	}
	return records[id], nil
}

func (store *jsonFileStore) Delete(_ context.Context, id string) error {
	return store.update(func(records map[string]*Record) {
		delete(records, id)
	})
}

func (store *jsonFileStore) List(_ context.Context) ([]*Record, error) {
	records, err := store.load()
	if err != nil {
		return nil, err
	}
	list := make([]*Record, 0, len(records))
	for _, record := range records {
		list = append(list, record)
	}
	return list, nil
}

// load 在共享锁下读出全部记录，并发调用合并为一次读取
func (store *jsonFileStore) load() (map[string]*Record, error) {
	result, err, _ := store.group.Do("load", func() (interface{}, error) {
		unlock, err := store.lockFile(false)
		if err != nil {
			return nil, err
		}
		defer unlock()
		return store.readLocked()
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]*Record), nil
}

// update 在独占锁下读出、修改并整体重写记录文件
func (store *jsonFileStore) update(fn func(map[string]*Record)) error {
	unlock, err := store.lockFile(true)
	if err != nil {
		return err
	}
	defer unlock()

	records, err := store.readLocked()
	if err != nil {
		return err
	}
	fn(records)

	file, err := os.OpenFile(store.filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	for _, record := range records {
		if err = encoder.Encode(record); err != nil {
			return err
		}
	}
	return nil
}

func (store *jsonFileStore) readLocked() (map[string]*Record, error) {
	records := make(map[string]*Record)

	file, err := os.Open(store.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return records, nil
		}
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	for {
		var record Record
		if err = decoder.Decode(&record); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if prev, ok := records[record.ID]; ok && prev.UpdatedAt.After(record.UpdatedAt) {
			continue
		}
		clone := record
		records[record.ID] = &clone
	}
	return records, nil
}

func (store *jsonFileStore) lockFile(ex bool) (func(), error) {
	lockFile := flock.New(store.filePath + ".lock")

	var err error
	if ex {
		err = lockFile.Lock()
	} else {
		err = lockFile.RLock()
	}
	if err != nil {
		return nil, err
	}
	return func() {
		_ = lockFile.Unlock()
	}, nil
}
