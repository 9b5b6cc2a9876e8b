package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ndsb/pkg/types"

	"github.com/gofrs/flock"
)

var (
	// ErrExists: 目标目录已被占用。Artifact 绝不合并进已有目录 —
	// 目录创建本身就是跨进程互斥装置，撞上就是致命错误。
	ErrExists = errors.New("artifact path already exists")

	// ErrFinalized: Finalize 只许执行一次
	ErrFinalized = errors.New("artifact already finalized")

	// ErrFileLockTimeout: Open/Create 在超时时间内没抢到文件锁
	ErrFileLockTimeout = errors.New("artifact file lock timeout")
)

// ManifestName 是每个 Artifact 目录下的清单文件名
const ManifestName = "artifact.json"

// Artifact 代表一个正在构建的打包单元：一个独占目录 + 可合并的
// JSON 元数据 + 访问策略。目录在归档后会被删除，但内存里的
// Artifact 对象比目录活得久 —— 传送完成后 Remote 会被回填。
type Artifact struct {
	Policy

	path      string
	meta      map[string]any
	finalized bool

	// Remote 在传送成功后由 beam.Channel 写入
	Remote *types.RemoteLocator
}

// New 在 path 处创建一个全新的 Artifact 目录。
// 父目录会按需创建，但 path 本身必须不存在 (exist_ok=false 语义)。
func New(path string) (*Artifact, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact parent dirs: %w", err)
	}
	// Mkdir 是原子的：进程间、协程间都靠它互斥
	if err := os.Mkdir(path, 0755); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrExists, path)
		}
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}

	return &Artifact{
		path: path,
		meta: make(map[string]any),
	}, nil
}

// ID 返回 Artifact 的标识：目录路径的最后一段
// (builder 不另发 id，目录名就是身份)
func (a *Artifact) ID() string { return filepath.Base(a.path) }

// Path 返回 Artifact 目录的物理路径
func (a *Artifact) Path() string { return a.path }

// MergeMeta 把 m 深拷贝后合并进元数据 (同 key 后写者胜)。
// 深拷贝很关键：调用方事后改自己的 map 不能影响已合并的内容。
// 除了要求 JSON 可序列化，不做任何形状校验。
func (a *Artifact) MergeMeta(m map[string]any) {
	for k, v := range m {
		a.meta[k] = deepCopyValue(v)
	}
}

// Meta 返回当前元数据的深拷贝快照
func (a *Artifact) Meta() map[string]any {
	snap := make(map[string]any, len(a.meta))
	for k, v := range a.meta {
		snap[k] = deepCopyValue(v)
	}
	return snap
}

// Create 在 Artifact 目录下新建文件并返回锁保护的句柄。
// 默认语义是排他创建 (O_EXCL)：同一 Artifact 里两个并发写者
// 撞同名文件时，后来者直接报错，不会静默互相覆盖。
// name 可以带子目录 (如 "data/weights.bin")。
func (a *Artifact) Create(name string, timeout time.Duration) (*LockedFile, error) {
	return a.open(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, timeout)
}

// Open 以调用方指定的 flag 打开 Artifact 目录下的文件。
// 只有明确知道自己在干什么 (比如追加日志) 才应该绕开 Create。
func (a *Artifact) Open(name string, flag int, timeout time.Duration) (*LockedFile, error) {
	return a.open(name, flag, timeout)
}

func (a *Artifact) open(name string, flag int, timeout time.Duration) (*LockedFile, error) {
	target := filepath.Join(a.path, name)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, fmt.Errorf("failed to create dirs for %s: %w", target, err)
	}

	// 锁走 sidecar 文件：flock 抢锁会创建目标文件，
	// 直接锁 target 会让 O_EXCL 永远失败
	lock := flock.New(target + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrFileLockTimeout, target, timeout)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", target, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s after %s", ErrFileLockTimeout, target, timeout)
	}

	f, err := os.OpenFile(target, flag, 0644)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to open artifact file %s: %w", target, err)
	}

	return &LockedFile{File: f, lock: lock}, nil
}

// Finalize 把合并后的元数据 + 策略字段写成清单文件。
// 只许执行一次：清单是 Artifact 的身份文书，打包器归档之后
// 再悄悄改写会让归档和目录两个视图脱节。
func (a *Artifact) Finalize() error {
	if a.finalized {
		return fmt.Errorf("%w: %s", ErrFinalized, a.path)
	}

	// 1. 元数据快照 + 策略派生字段
	doc := a.Meta()
	doc["public_access"] = !a.Private()
	// access_list 只在 私有 且 非空 时出现
	if a.Private() && len(a.AccessList()) > 0 {
		doc["access_list"] = a.AccessList()
	}

	// 2. 写入清单 (Indented，方便人肉查看)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(a.path, ManifestName), data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	a.finalized = true
	return nil
}

// LockedFile 是一个带跨进程锁的文件句柄
// Close 会先放锁再关文件
type LockedFile struct {
	*os.File
	lock *flock.Flock
}

func (lf *LockedFile) Close() error {
	lf.lock.Unlock()
	// sidecar 只在持锁期间有意义；留在目录里会被一起归档，
	// 污染远端解出来的批次布局
	os.Remove(lf.lock.Path())
	return lf.File.Close()
}

// deepCopyValue 递归拷贝 JSON 兼容的值
// (map / slice 之外的类型按值语义直接透传)
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}
