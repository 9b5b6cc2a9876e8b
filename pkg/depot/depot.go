package depot

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotFound = errors.New("archive not found")
)

// Store defines the interface for an archive depot backend.
// Implementations can be local disk or S3-compatible object storage.
type Store interface {
	// Put 将一个批次归档持久化
	// name 是归档文件名 (例如 "b2f1...-uuid.tar.gz")，size 用于 S3 流式上传
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Get 根据归档名读取原始数据
	// 注意：这里返回的是 io.ReadCloser 而不是 []byte
	// 原因：归档可能很大，必须支持流式读取
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Has 检查归档是否存在 (用于重发前的幂等检查)
	Has(ctx context.Context, name string) (bool, error)
}
