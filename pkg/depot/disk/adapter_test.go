package disk

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"ndsb/pkg/depot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskAdapter(t *testing.T) {
	// 1. 创建临时测试目录
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)

	ctx := context.Background()
	name := "0c94e584-7f5c-4bfa-b5a8-3a90e3f5d1c2.tar.gz"
	payload := []byte("not really gzip but good enough")

	// 2. 测试 Put
	err = store.Put(ctx, name, bytes.NewReader(payload), int64(len(payload)))
	assert.NoError(t, err)

	// 验证文件是否真的存在于物理磁盘
	_, err = os.Stat(filepath.Join(tmpDir, name))
	assert.NoError(t, err, "归档应该存在于 depot 根目录")

	// 3. 测试 Has
	exists, err := store.Has(ctx, name)
	assert.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Has(ctx, "missing.tar.gz")
	assert.NoError(t, err)
	assert.False(t, exists)

	// 4. 测试 Get
	reader, err := store.Get(ctx, name)
	assert.NoError(t, err)
	defer reader.Close()

	content, err := io.ReadAll(reader)
	assert.NoError(t, err)
	assert.Equal(t, payload, content)

	// 5. Get 不存在的归档返回 ErrNotFound
	_, err = store.Get(ctx, "missing.tar.gz")
	assert.ErrorIs(t, err, depot.ErrNotFound)
}

func TestDiskAdapter_PutIsIdempotent(t *testing.T) {
	store, err := NewAdapter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	name := "batch.tar.gz"
	require.NoError(t, store.Put(ctx, name, bytes.NewReader([]byte("first")), 5))

	// 重复 Put 同名归档：跳过，不覆盖已有内容
	require.NoError(t, store.Put(ctx, name, bytes.NewReader([]byte("second!")), 7))

	reader, err := store.Get(ctx, name)
	require.NoError(t, err)
	defer reader.Close()

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), content)
}

func TestDiskAdapter_StripsDirectoryFromName(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)
	ctx := context.Background()

	// 调用方传完整路径也没问题，落盘时只取文件名
	require.NoError(t, store.Put(ctx, "/some/where/deep/b.tar.gz", bytes.NewReader([]byte("x")), 1))

	exists, err := store.Has(ctx, "b.tar.gz")
	require.NoError(t, err)
	assert.True(t, exists)
}
