package resumable

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	stderrors "errors"
	"io"

	"github.com/shuliangfu/upload/uploader/source"
)

const (
	// fileHashSampleSize 头尾采样的字节数
	fileHashSampleSize = 1 << 20

	// fileHashFullThreshold 不超过该大小时哈希全部内容
	fileHashFullThreshold = 4 << 20
)

type hashableSource interface {
	source.SizedSource
	io.ReaderAt
}

// FileHash 计算数据源的内容指纹。小文件哈希全部内容，
// 大文件只哈希头尾各 1 MiB 加上编码后的文件大小，以限制超大文件的哈希开销。
// 相同内容与相同大小的数据源总是得到相同指纹。
func FileHash(src source.Source) (string, error) {
	hashable, ok := src.(hashableSource)
	if !ok {
		return "", errUnhashableSource
	}
	totalSize, err := hashable.TotalSize()
	if err != nil {
		return "", err
	}
	readerAt := io.ReaderAt(hashable)

	hasher := sha1.New()
	if totalSize <= fileHashFullThreshold {
		if _, err = io.Copy(hasher, io.NewSectionReader(readerAt, 0, totalSize)); err != nil {
			return "", err
		}
	} else {
		if _, err = io.Copy(hasher, io.NewSectionReader(readerAt, 0, fileHashSampleSize)); err != nil {
			return "", err
		}
		if _, err = io.Copy(hasher, io.NewSectionReader(readerAt, totalSize-fileHashSampleSize, fileHashSampleSize)); err != nil {
			return "", err
		}
		var sizeBuf [8]byte
		binary.BigEndian.PutUint64(sizeBuf[:], uint64(totalSize))
		hasher.Write(sizeBuf[:])
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

var errUnhashableSource = stderrors.New("source does not support content fingerprinting")
