package packager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"ndsb/pkg/artifact"
	"ndsb/pkg/beam"
	"ndsb/pkg/types"

	"github.com/google/uuid"
)

// ToplevelName 是批次根目录下的顶层清单文件名
const ToplevelName = "toplevel.json"

// Result 描述一次打包的产出
type Result struct {
	BatchID types.BatchID
	Archive string // <dest>/<batch-id>.tar.gz
	Channel *beam.Channel
}

// Pack 把一组生产者按输入顺序打成一个批次：
//
//  1. 铸造随机批次 id，创建独占暂存目录 <dest>/<id>
//     (目录已存在 => 致命错误：两个进程绝不能静默合并进同一个批次)
//  2. 写入顶层清单 toplevel.json (meta 为 nil 时写空映射)
//  3. 按输入顺序为第 i 个生产者在 <staging>/<i> 构建 Artifact：
//     调用它的 Pack 钩子 -> Finalize -> Bind 回生产者。
//     这个 index 是生产者和磁盘产物之间唯一的 join key。
//  4. 全部打包完成后，把暂存目录压成 <dest>/<id>.tar.gz
//     (归档内唯一的顶层条目就是批次 id 目录)
//  5. 归档确认存在之后，才递归删除暂存目录。
//     归档失败时暂存目录原样保留，可以人工恢复。
//
// 返回绑定了生产者列表和归档路径的传送通道。
func Pack(producers []Data, dest string, meta map[string]any) (*Result, error) {
	// 1. 批次 id + 暂存目录
	id := types.BatchID(uuid.NewString())
	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination %s: %w", dest, err)
	}

	staging := filepath.Join(dest, id.String())
	if err := os.Mkdir(staging, 0755); err != nil {
		// uuid 碰撞概率可以忽略；真撞上说明有严重的环境问题，直接炸
		return nil, fmt.Errorf("failed to create staging dir %s: %w", staging, err)
	}

	// 2. 顶层清单
	if meta == nil {
		meta = map[string]any{}
	}
	toplevel, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode toplevel manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, ToplevelName), toplevel, 0644); err != nil {
		return nil, fmt.Errorf("failed to write toplevel manifest: %w", err)
	}

	// 3. 按序打包每个生产者 (顺序就是 index，必须严格保持)
	carriers := make([]beam.Carrier, 0, len(producers))
	for i, producer := range producers {
		art, err := artifact.New(filepath.Join(staging, strconv.Itoa(i)))
		if err != nil {
			return nil, fmt.Errorf("failed to create artifact %d: %w", i, err)
		}

		if err := producer.Pack(art); err != nil {
			return nil, fmt.Errorf("producer %d pack failed: %w", i, err)
		}

		if err := art.Finalize(); err != nil {
			return nil, fmt.Errorf("failed to finalize artifact %d: %w", i, err)
		}

		producer.Bind(art)
		carriers = append(carriers, producer)
	}

	// 4. 压缩归档 (失败时暂存目录必须原样保留)
	archivePath := filepath.Join(dest, id.String()+".tar.gz")
	if err := createArchive(archivePath, staging, id.String()); err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	// 5. 归档已落地，现在才能删暂存目录
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("archived but failed to remove staging dir: %w", err)
	}

	return &Result{
		BatchID: id,
		Archive: archivePath,
		Channel: beam.NewChannel(carriers, archivePath),
	}, nil
}
