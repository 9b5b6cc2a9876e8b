package freezer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofrs/flock"
)

var (
	// ErrCorrupt: 冻结文件存在但无法反序列化。
	// 注意：遇到这种情况绝不能静默覆盖，否则会丢数据。
	ErrCorrupt = errors.New("corrupt freeze file")

	// ErrNoData: Thaw 时文件根本不存在 (或从未写入过任何记录)
	ErrNoData = errors.New("no frozen data")

	// ErrLockTimeout: 在超时时间内没抢到跨进程文件锁
	ErrLockTimeout = errors.New("freeze lock timeout")
)

const (
	// lockRetryInterval 是抢锁的轮询间隔
	// flock 是 advisory lock，拿不到时只能轮询重试
	lockRetryInterval = 50 * time.Millisecond

	// thawGraceDelay 是 Thaw 删除文件前的宽限期 (锁已释放)
	// 给那些“先 stat 后 open”的迟到读者一个窗口去撞上哨兵数据
	thawGraceDelay = 100 * time.Millisecond
)

// sentinel 是 Thaw 写回文件的哨兵字节
// 它保证无法被解码为记录序列：任何绕过锁的迟到读者都会
// 大声报 ErrCorrupt，而不是把并发写者新建的文件当成旧文件静默吞掉
var sentinel = []byte("all your frozen data melted, move along.")

// Append 在跨进程排他锁的保护下，把一条记录追加到冻结文件末尾。
// 锁的作用域覆盖整个 读取-修改-重写 过程 (绝不能读完就放锁)。
//
// 写入策略是“整文件重写”：
//  1. 读出现有序列并解码 (解码失败 => ErrCorrupt，绝不覆盖)
//  2. 追加新记录
//  3. Truncate 后重写整个序列，flush + fsync
//
// 对调用者来说文件要么是旧序列、要么是新序列，不存在半截状态。
func Append(path string, rec Record, timeout time.Duration) error {
	return withLock(path, timeout, func(f *os.File) error {
		data, err := io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("failed to read freeze file '%s': %w", path, err)
		}

		// 1. 解码现有序列
		var records []Record
		if len(data) > 0 {
			if err := dm.Unmarshal(data, &records); err != nil {
				return fmt.Errorf("%w '%s': %v", ErrCorrupt, path, err)
			}
		}

		// 2. 追加
		records = append(records, rec)

		// 3. 整文件重写
		out, err := em.Marshal(records)
		if err != nil {
			return fmt.Errorf("failed to encode freeze records: %w", err)
		}
		if err := rewrite(f, out); err != nil {
			return fmt.Errorf("failed to rewrite freeze file '%s': %w", path, err)
		}

		// 4. 落盘 (fsync) 之后才能放锁
		// 否则崩溃时下一个持锁者可能读到半截数据
		return f.Sync()
	})
}

// Thaw 在同一把排他锁下读出全部记录序列并返回 (FIFO 顺序)。
//
// 返回前的清理协议是 哨兵 -> 宽限 -> 删除 三步：
//  1. 持锁时把文件内容改写为哨兵字节 (保证解码必败)
//  2. 放锁后等待一个短宽限期
//  3. 删除文件
//
// 这个协议专门封堵一个竞态：某个不持锁的读者在 stat 和 open 之间，
// 恰好撞上持锁写者刚刚新建的文件。先乱写再删，能让这种迟到读者
// 报错退场，而不是静默地丢失数据。代价只是一次固定的小延迟，
// 换来的是删除时不需要第二次抢锁。
func Thaw(path string, timeout time.Duration) ([]Record, error) {
	// 文件不存在 => 没有任何冻结数据
	// (stat 在锁外做：flock 抢锁会顺手创建文件，必须在那之前判断)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: '%s' does not exist", ErrNoData, path)
	}

	var records []Record
	err := withLock(path, timeout, func(f *os.File) error {
		data, err := io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("failed to read freeze file '%s': %w", path, err)
		}

		// 空文件：要么有写者崩在了 open 和 write 之间，要么是锁外
		// stat 之后文件被别人删掉、又被我们自己的 flock 重建出来。
		// 两种情况里空文件都没有存在的意义，持锁顺手删掉
		if len(data) == 0 {
			os.Remove(path)
			return fmt.Errorf("%w: '%s' is empty", ErrNoData, path)
		}

		if err := dm.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("%w '%s': %v", ErrCorrupt, path, err)
		}

		// 持锁改写哨兵，flush 到磁盘
		if err := rewrite(f, sentinel); err != nil {
			return fmt.Errorf("failed to scramble freeze file '%s': %w", path, err)
		}
		return f.Sync()
	})
	if err != nil {
		return nil, err
	}

	// 宽限期在锁外：不惩罚正在排队的写者
	time.Sleep(thawGraceDelay)

	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("failed to remove freeze file '%s': %w", path, err)
	}

	return records, nil
}

// withLock 抢占 path 上的跨进程排他锁 (acquisition 受 timeout 约束)，
// 打开文件并执行 fn。锁在 fn 返回后才释放。
func withLock(path string, timeout time.Duration, fn func(f *os.File) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	lock := flock.New(path)
	locked, err := lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		// ctx 超时会从这里冒出来，映射为我们自己的错误
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: '%s' after %s", ErrLockTimeout, path, timeout)
		}
		return fmt.Errorf("failed to lock freeze file '%s': %w", path, err)
	}
	if !locked {
		return fmt.Errorf("%w: '%s' after %s", ErrLockTimeout, path, timeout)
	}
	defer lock.Unlock()

	// flock 自己持有的句柄是只读的，读写走独立句柄
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open freeze file '%s': %w", path, err)
	}
	defer f.Close()

	return fn(f)
}

// rewrite 把文件内容整体替换为 data (truncate 后从头写)
func rewrite(f *os.File, data []byte) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := f.Write(data)
	return err
}
