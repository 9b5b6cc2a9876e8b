package disk

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ndsb/pkg/depot"
)

// Adapter 实现了 depot.Store 接口
type Adapter struct {
	rootPath string // 比如: /home/user/.ndsb/archives
}

// NewAdapter 创建一个新的磁盘归档适配器
func NewAdapter(root string) (*Adapter, error) {
	// 确保根目录存在
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create depot root dir: %w", err)
	}
	return &Adapter{rootPath: root}, nil
}

func (s *Adapter) layout(name string) string {
	// 归档名就是 "<batch-id>.tar.gz"，扁平存放即可
	return filepath.Join(s.rootPath, filepath.Base(name))
}

func (s *Adapter) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	targetPath := s.layout(name)

	// 1. 检查是否存在 (归档名是 UUID，重名即重复上传，跳过)
	if _, err := os.Stat(targetPath); err == nil {
		return nil
	}

	// 2. 原子写入 (Atomic Write)
	// 技巧：先写到一个临时文件，然后 Rename。
	// 这样保证要么文件不存在，要么文件是完整的。
	tempFile, err := os.CreateTemp(s.rootPath, "temp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tempFile.Name())

	if _, err := io.Copy(tempFile, r); err != nil {
		tempFile.Close()
		return err
	}
	tempFile.Close() // 必须先关闭才能 Rename

	// 3. 移动到最终位置
	if err := os.Rename(tempFile.Name(), targetPath); err != nil {
		return err
	}

	return nil
}

func (s *Adapter) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	targetPath := s.layout(name)

	f, err := os.Open(targetPath)
	if os.IsNotExist(err) {
		return nil, depot.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Adapter) Has(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(s.layout(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
