package errors

import "fmt"

type (
	// MissingRequiredFieldError 缺少必填字段
	MissingRequiredFieldError struct {
		Name string
	}

	// InvalidPartSizeError 分片大小超出存储服务限制
	InvalidPartSizeError struct {
		PartSize, Min, Max int64
	}

	// TooManyPartsError 分片数量超出存储服务限制
	TooManyPartsError struct {
		Parts, Max int64
	}

	// EmptySourceError 数据源没有任何字节，分片协议不接受空的合并请求
	EmptySourceError struct{}

	// PartsFailedError 一个或多个分片重试耗尽后仍然失败，会话可续传
	PartsFailedError struct {
		Failed int
	}

	// ResumeMismatchError 续传时数据源与记录不一致
	ResumeMismatchError struct {
		ID string
	}

	// RecordNotFoundError 指定的上传记录不存在
	RecordNotFoundError struct {
		ID string
	}
)

func (err MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("missing required field `%s`", err.Name)
}

func (err InvalidPartSizeError) Error() string {
	return fmt.Sprintf("invalid part size %d, must be in [%d, %d]", err.PartSize, err.Min, err.Max)
}

func (err TooManyPartsError) Error() string {
	return fmt.Sprintf("too many parts %d, must be no more than %d", err.Parts, err.Max)
}

func (err EmptySourceError) Error() string {
	return "cannot upload an empty source"
}

func (err PartsFailedError) Error() string {
	return fmt.Sprintf("upload failed: %d part(s) not completed", err.Failed)
}

func (err ResumeMismatchError) Error() string {
	return fmt.Sprintf("cannot resume upload `%s`: file does not match", err.ID)
}

func (err RecordNotFoundError) Error() string {
	return fmt.Sprintf("upload record `%s` not found", err.ID)
}
