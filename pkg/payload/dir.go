// Package payload 提供开箱即用的数据生产者 (packager.Data 实现)
package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"ndsb/pkg/artifact"
	"ndsb/pkg/ignore"
	"ndsb/pkg/packager"

	"golang.org/x/sync/errgroup"
)

const fileTimeout = 10 * time.Second

// Dir 把一个目录树打包进 Artifact：
//   - 遵守根目录下的 .ndsbignore 规则
//   - 文件原样拷贝到 Artifact 的 files/ 下 (保持相对路径)
//   - 每个文件的 sha256 和大小记入元数据 (拷贝时顺路计算)
type Dir struct {
	packager.Base

	Root string // 待打包的目录
}

// NewDir 创建目录生产者
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

// fileEntry 是元数据里单个文件的描述
type fileEntry struct {
	rel    string
	sha256 string
	size   int64
}

func (d *Dir) Pack(a *artifact.Artifact) error {
	matcher, err := ignore.NewMatcher(d.Root)
	if err != nil {
		return fmt.Errorf("failed to load ignore rules for %s: %w", d.Root, err)
	}

	// 1. 收集文件清单 (Walk 保证确定性顺序)
	var files []string
	err = filepath.Walk(d.Root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(d.Root, path)
		if err != nil {
			return err
		}
		if matcher.Matches(filepath.ToSlash(rel)) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", d.Root, err)
	}

	// 2. 并发拷贝 + 哈希
	// 目标文件互不相同，worker 之间零共享；只有结果表需要上锁
	var mu sync.Mutex
	entries := make([]fileEntry, 0, len(files))

	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())

	for _, rel := range files {
		g.Go(func() error {
			entry, err := d.copyOne(a, rel)
			if err != nil {
				return err
			}
			mu.Lock()
			entries = append(entries, entry)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// 3. 汇总元数据 (按路径排序，清单内容确定性输出)
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	manifest := make(map[string]any, len(entries))
	var totalBytes int64
	for _, e := range entries {
		manifest[filepath.ToSlash(e.rel)] = map[string]any{
			"sha256": e.sha256,
			"size":   e.size,
		}
		totalBytes += e.size
	}

	a.MergeMeta(map[string]any{
		"source":      filepath.Base(d.Root),
		"file_count":  len(entries),
		"total_bytes": totalBytes,
		"files":       manifest,
	})
	return nil
}

// copyOne 把单个文件拷进 Artifact，TeeReader 顺路算哈希
func (d *Dir) copyOne(a *artifact.Artifact, rel string) (fileEntry, error) {
	src, err := os.Open(filepath.Join(d.Root, rel))
	if err != nil {
		return fileEntry{}, fmt.Errorf("failed to open %s: %w", rel, err)
	}
	defer src.Close()

	dst, err := a.Create(filepath.Join("files", rel), fileTimeout)
	if err != nil {
		return fileEntry{}, err
	}
	defer dst.Close()

	h := sha256.New()
	size, err := io.Copy(dst, io.TeeReader(src, h))
	if err != nil {
		return fileEntry{}, fmt.Errorf("failed to copy %s: %w", rel, err)
	}

	return fileEntry{
		rel:    rel,
		sha256: hex.EncodeToString(h.Sum(nil)),
		size:   size,
	}, nil
}
