package resumable_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shuliangfu/upload/resumable"
	"github.com/shuliangfu/upload/uploader"
)

func testStore(t *testing.T, store resumable.Store) {
	ctx := context.Background()

	record := resumable.NewRecord("videos/clip.mp4", "clip.mp4", 1024, "hash-1")
	record.Session = &uploader.MultipartSession{
		UploadID: "upload-1",
		Key:      record.Key,
		FileSize: record.FileSize,
		PartSize: 512,
		Parts: []uploader.PartState{
			{PartNumber: 1, Size: 512, Status: uploader.PartCompleted, Etag: "etag-1"},
			{PartNumber: 2, Offset: 512, Size: 512, Status: uploader.PartPending},
		},
	}
	require.NoError(t, store.Save(ctx, record))

	loaded, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, record.ID, loaded.ID)
	require.Equal(t, resumable.StatusPending, loaded.Status)
	require.NotNil(t, loaded.Session)
	require.Len(t, loaded.Session.Parts, 2)
	require.Equal(t, "etag-1", loaded.Session.Parts[0].Etag)
	require.Equal(t, uploader.PartCompleted, loaded.Session.Parts[0].Status)

	// 覆盖保存
	record.Status = resumable.StatusPaused
	record.UpdatedAt = record.UpdatedAt.Add(time.Second)
	require.NoError(t, store.Save(ctx, record))
	loaded, err = store.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, resumable.StatusPaused, loaded.Status)

	// 保存后修改原记录不影响已保存的副本
	record.Session.Parts[1].Etag = "mutated"
	loaded, err = store.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Empty(t, loaded.Session.Parts[1].Etag)

	other := resumable.NewRecord("other", "other.bin", 2048, "hash-2")
	require.NoError(t, store.Save(ctx, other))
	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.NoError(t, store.Delete(ctx, record.ID))
	loaded, err = store.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Nil(t, loaded)

	// 删除不存在的记录不报错
	require.NoError(t, store.Delete(ctx, "missing"))
}

func TestMemoryStore(t *testing.T) {
	testStore(t, resumable.NewMemoryStore())
}

func TestJSONFileStore(t *testing.T) {
	store, err := resumable.NewJSONFileStore(filepath.Join(t.TempDir(), "uploads", "records.jsonl"))
	require.NoError(t, err)
	testStore(t, store)
}

func TestJSONFileStorePersistsAcrossInstances(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "records.jsonl")
	ctx := context.Background()

	store, err := resumable.NewJSONFileStore(filePath)
	require.NoError(t, err)
	record := resumable.NewRecord("key", "file.bin", 4096, "hash")
	record.Status = resumable.StatusPaused
	require.NoError(t, store.Save(ctx, record))

	reopened, err := resumable.NewJSONFileStore(filePath)
	require.NoError(t, err)
	loaded, err := reopened.Get(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, resumable.StatusPaused, loaded.Status)
	require.Equal(t, "hash", loaded.FileHash)
}
