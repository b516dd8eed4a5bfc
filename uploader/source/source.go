// Package source 抽象上传数据源，将其切成可独立重试的分片。
package source

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"

	"modernc.org/fileutil"
)

type (
	// Source 数据源接口
	Source interface {
		io.Closer

		// Slice 切出下一个分片，数据耗尽时返回 nil
		Slice(int64) (Part, error)

		// SourceKey 数据源标识，文件源为绝对路径
		SourceKey() (string, error)
	}

	// SizedSource 大小已知的数据源
	SizedSource interface {
		Source
		TotalSize() (int64, error)
	}

	// ResetableSource 可以重新从头切片的数据源
	ResetableSource interface {
		Source
		Reset() error
	}

	// Part 一个分片，分片编号从 1 开始
	Part interface {
		io.ReadSeeker
		Offset() int64
		Size() int64
		PartNumber() int64
	}

	part struct {
		*io.SectionReader
		partNumber int64
		offset     int64
	}

	readAtCloser interface {
		io.ReaderAt
		io.Closer
	}

	readAtCloseSource struct {
		r          readAtCloser
		totalSize  int64
		off        int64
		sourceKey  string
		partNumber int64
		m          sync.Mutex
	}
)

// NewReadAtCloserSource 基于 io.ReaderAt 构建数据源，分片之间可以并发读取
func NewReadAtCloserSource(r readAtCloser, totalSize int64, sourceKey string) Source {
	return &readAtCloseSource{r: r, totalSize: totalSize, sourceKey: sourceKey}
}

// NewFileSource 打开文件构建数据源
func NewFileSource(filePath string) (Source, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	fileInfo, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	absFilePath, err := filepath.Abs(filePath)
	if err != nil {
		file.Close()
		return nil, err
	}
	_ = fileutil.Fadvise(file, 0, 0, fileutil.POSIX_FADV_SEQUENTIAL)
	return NewReadAtCloserSource(file, fileInfo.Size(), absFilePath), nil
}

func (racs *readAtCloseSource) Slice(n int64) (Part, error) {
	racs.m.Lock()
	defer racs.m.Unlock()

	if racs.off >= racs.totalSize {
		return nil, nil
	}
	size := n
	if racs.off+size > racs.totalSize {
		size = racs.totalSize - racs.off
	}
	offset := racs.off
	racs.off += size
	racs.partNumber++
	return &part{
		io.NewSectionReader(racs.r, offset, size),
		racs.partNumber,
		offset,
	}, nil
}

func (racs *readAtCloseSource) TotalSize() (int64, error) {
	return racs.totalSize, nil
}

// ReadAt 随机读取底层数据，与 Slice 互不影响
func (racs *readAtCloseSource) ReadAt(p []byte, off int64) (int, error) {
	return racs.r.ReadAt(p, off)
}

func (racs *readAtCloseSource) SourceKey() (string, error) {
	return racs.sourceKey, nil
}

func (racs *readAtCloseSource) Close() error {
	return racs.r.Close()
}

func (racs *readAtCloseSource) Reset() error {
	racs.m.Lock()
	defer racs.m.Unlock()

	racs.off = 0
	racs.partNumber = 0
	return nil
}

func (p *part) PartNumber() int64 {
	return p.partNumber
}

func (p *part) Offset() int64 {
	return p.offset
}

func (p *part) Size() int64 {
	return p.SectionReader.Size()
}

type nopReadAtCloser struct {
	io.ReaderAt
}

func (nopReadAtCloser) Close() error { return nil }

// NewBytesSource 基于内存数据构建数据源
func NewBytesSource(data []byte, sourceKey string) Source {
	return NewReadAtCloserSource(nopReadAtCloser{bytes.NewReader(data)}, int64(len(data)), sourceKey)
}

var (
	_ SizedSource     = (*readAtCloseSource)(nil)
	_ ResetableSource = (*readAtCloseSource)(nil)
)
