package uploader

import (
	"github.com/shuliangfu/upload/errors"
	"github.com/shuliangfu/upload/objectstorage"
)

type (
	// PartSpec 分片计划中的一项，编号从 1 开始
	PartSpec struct {
		PartNumber int64
		Offset     int64
		Size       int64
	}

	// PartPlan 覆盖 [0, fileSize) 的有序分片序列，无空洞无重叠
	PartPlan []PartSpec
)

// PlanParts 计算分片计划。除最后一个分片外每个分片大小均为 partSize，
// 分片大小与数量在此处校验，超界属于配置错误而非可重试错误。
func PlanParts(fileSize, partSize int64) (PartPlan, error) {
	if fileSize <= 0 {
		return nil, errors.EmptySourceError{}
	}
	if err := objectstorage.ValidatePartSize(partSize, fileSize); err != nil {
		return nil, err
	}

	count := (fileSize + partSize - 1) / partSize
	plan := make(PartPlan, 0, count)
	for offset := int64(0); offset < fileSize; offset += partSize {
		size := partSize
		if offset+size > fileSize {
			size = fileSize - offset
		}
		plan = append(plan, PartSpec{
			PartNumber: int64(len(plan)) + 1,
			Offset:     offset,
			Size:       size,
		})
	}
	return plan, nil
}

// TotalSize 分片计划覆盖的总字节数
func (plan PartPlan) TotalSize() int64 {
	var total int64
	for _, part := range plan {
		total += part.Size
	}
	return total
}
