package packager

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"ndsb/pkg/artifact"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stampData 是测试用生产者：写一份元数据 + 一个内容文件
type stampData struct {
	Base
	label string
}

func (s *stampData) Pack(a *artifact.Artifact) error {
	a.MergeMeta(map[string]any{"label": s.label})

	f, err := a.Create("payload.txt", 5*time.Second)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString("payload of " + s.label)
	return err
}

// lazyData 故意不覆写 Pack，走 Base 的软失败路径
type lazyData struct {
	Base
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestPack_Workflow(t *testing.T) {
	// 1. 三个生产者：两个正常，一个没覆写 Pack
	dest := t.TempDir()
	producers := []Data{
		&stampData{label: "alpha"},
		&lazyData{},
		&stampData{label: "gamma"},
	}

	result, err := Pack(producers, dest, map[string]any{"experiment": "e-42"})
	require.NoError(t, err)
	require.True(t, result.BatchID.IsValid())

	// 2. 归档必须存在，暂存目录必须已删除
	_, err = os.Stat(result.Archive)
	require.NoError(t, err, "archive should exist")
	_, err = os.Stat(filepath.Join(dest, result.BatchID.String()))
	assert.True(t, os.IsNotExist(err), "staging dir should be gone after archiving")

	// 3. 解压归档，验证树结构完整还原
	extracted := t.TempDir()
	require.NoError(t, Extract(result.Archive, extracted))

	root := filepath.Join(extracted, result.BatchID.String())

	// 3.1 顶层清单
	toplevel := readJSON(t, filepath.Join(root, ToplevelName))
	assert.Equal(t, "e-42", toplevel["experiment"])

	// 3.2 artifact 目录严格按输入顺序编号 0..n-1
	for i := range producers {
		_, err := os.Stat(filepath.Join(root, strconv.Itoa(i), artifact.ManifestName))
		assert.NoError(t, err, "artifact %d manifest missing", i)
	}

	// 3.3 正常生产者的内容逐字节还原
	payload, err := os.ReadFile(filepath.Join(root, "0", "payload.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload of alpha", string(payload))

	manifest0 := readJSON(t, filepath.Join(root, "0", artifact.ManifestName))
	assert.Equal(t, "alpha", manifest0["label"])
	assert.Equal(t, true, manifest0["public_access"])

	// 3.4 软失败生产者：批次照样完成，留下 not_implemented 标记和说明文件
	manifest1 := readJSON(t, filepath.Join(root, "1", artifact.ManifestName))
	assert.Equal(t, true, manifest1["not_implemented"])
	notice, err := os.ReadFile(filepath.Join(root, "1", "err.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(notice), "did not override")

	t.Log("✅ Pack -> Archive -> Extract roundtrip verified")
}

func TestPack_ArchiveIsSidecarFree(t *testing.T) {
	// 归档会被远端原样解开，里面绝不能有文件锁的 .lock sidecar
	dest := t.TempDir()
	result, err := Pack([]Data{
		&stampData{label: "alpha"},
		&lazyData{},
	}, dest, nil)
	require.NoError(t, err)

	extracted := t.TempDir()
	require.NoError(t, Extract(result.Archive, extracted))

	var stray []string
	err = filepath.Walk(extracted, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if matched, _ := filepath.Match("*.lock", info.Name()); matched {
			rel, _ := filepath.Rel(extracted, path)
			stray = append(stray, rel)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, stray, "extracted batch must not contain lock sidecars")
}

func TestPack_BindPreservesOrder(t *testing.T) {
	dest := t.TempDir()
	producers := []Data{
		&stampData{label: "a"},
		&stampData{label: "b"},
		&stampData{label: "c"},
	}

	_, err := Pack(producers, dest, nil)
	require.NoError(t, err)

	// index 是生产者和磁盘产物之间唯一的 join key
	for i, p := range producers {
		art := p.Artifact()
		require.NotNil(t, art, "producer %d should be bound", i)
		assert.Equal(t, strconv.Itoa(i), art.ID())
	}
}

func TestPack_NilMetaWritesEmptyMapping(t *testing.T) {
	dest := t.TempDir()

	result, err := Pack([]Data{&stampData{label: "x"}}, dest, nil)
	require.NoError(t, err)

	extracted := t.TempDir()
	require.NoError(t, Extract(result.Archive, extracted))

	toplevel := readJSON(t, filepath.Join(extracted, result.BatchID.String(), ToplevelName))
	assert.Empty(t, toplevel)
}

func TestPack_ChannelBoundToArchive(t *testing.T) {
	dest := t.TempDir()

	result, err := Pack([]Data{&stampData{label: "x"}}, dest, nil)
	require.NoError(t, err)
	require.NotNil(t, result.Channel)
	assert.Equal(t, result.Archive, result.Channel.ArchivePath)

	// 顺手验证台账用的摘要接口
	sha, size, err := result.Channel.ArchiveDigest()
	require.NoError(t, err)
	assert.Len(t, sha, 64)
	assert.Greater(t, size, int64(0))
}
