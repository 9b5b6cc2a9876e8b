package payload

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ndsb/pkg/artifact"
	"ndsb/pkg/freezer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArtifact(t *testing.T) *artifact.Artifact {
	t.Helper()
	a, err := artifact.New(filepath.Join(t.TempDir(), "0"))
	require.NoError(t, err)
	return a
}

func TestDir_PackCopiesTreeWithHashes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.bin"), []byte{1, 2, 3}, 0o644))

	a := newArtifact(t)
	d := NewDir(root)
	require.NoError(t, d.Pack(a))

	// 文件原样落盘
	got, err := os.ReadFile(filepath.Join(a.Path(), "files", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	got, err = os.ReadFile(filepath.Join(a.Path(), "files", "sub", "b.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	// 元数据清单
	meta := a.Meta()
	assert.Equal(t, 2, meta["file_count"])
	assert.Equal(t, int64(8), meta["total_bytes"])

	files, ok := meta["files"].(map[string]any)
	require.True(t, ok)
	entry, ok := files["a.txt"].(map[string]any)
	require.True(t, ok)
	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", entry["sha256"])
	assert.Equal(t, int64(5), entry["size"])

	t.Logf("✅ 目录打包完成: %d 个文件", len(files))
}

func TestDir_RespectsIgnoreRules(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.txt"), []byte("keep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skip.log"), []byte("skip"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data.freeze"), []byte("frozen"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".ndsbignore"), []byte("*.log\n"), 0o644))

	a := newArtifact(t)
	require.NoError(t, NewDir(root).Pack(a))

	assert.FileExists(t, filepath.Join(a.Path(), "files", "keep.txt"))
	// 用户规则排除 *.log，默认规则排除 *.freeze 和 .ndsbignore 本身
	assert.NoFileExists(t, filepath.Join(a.Path(), "files", "skip.log"))
	assert.NoFileExists(t, filepath.Join(a.Path(), "files", "data.freeze"))

	meta := a.Meta()
	assert.Equal(t, 1, meta["file_count"])
}

func TestRaw_PackWritesBytesAndMeta(t *testing.T) {
	a := newArtifact(t)

	r := NewRaw("report.json", []byte(`{"ok":true}`))
	r.Meta = map[string]any{"content_type": "application/json"}
	require.NoError(t, r.Pack(a))

	got, err := os.ReadFile(filepath.Join(a.Path(), "report.json"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"ok":true}`), got)

	meta := a.Meta()
	assert.Equal(t, "report.json", meta["payload"])
	assert.Equal(t, 11, meta["size"])
	assert.Equal(t, "application/json", meta["content_type"])
}

func TestRaw_RequiresName(t *testing.T) {
	a := newArtifact(t)
	err := (&Raw{Bytes: []byte("x")}).Pack(a)
	assert.Error(t, err)
}

func TestFrozen_DrainsQueueIntoRecords(t *testing.T) {
	queue := filepath.Join(t.TempDir(), "events.freeze")
	for i := 0; i < 3; i++ {
		rec, err := freezer.NewRecord("event", map[string]any{"seq": i})
		require.NoError(t, err)
		require.NoError(t, freezer.Append(queue, rec, 5*time.Second))
	}

	a := newArtifact(t)
	require.NoError(t, NewFrozen(queue).Pack(a))

	// 冻结文件已被排空
	assert.NoFileExists(t, queue)

	data, err := os.ReadFile(filepath.Join(a.Path(), "records.jsonl"))
	require.NoError(t, err)

	var seen int
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var line map[string]any
		require.NoError(t, dec.Decode(&line))
		assert.Equal(t, "event", line["kind"])
		seen++
	}
	assert.Equal(t, 3, seen)

	meta := a.Meta()
	assert.Equal(t, 3, meta["record_count"])
}
