package payload

import (
	"encoding/json"
	"fmt"
	"time"

	"ndsb/pkg/artifact"
	"ndsb/pkg/freezer"
	"ndsb/pkg/packager"
)

// Frozen 排空一个冻结文件，把全部记录放进 Artifact。
// 排空发生在 Pack 阶段：打包失败时冻结文件已经被消费，
// 调用方若需要重试语义应先拷贝冻结文件。
type Frozen struct {
	packager.Base

	Path    string        // 冻结文件路径
	Timeout time.Duration // 取锁超时，零值用默认
}

// NewFrozen 创建冻结队列生产者
func NewFrozen(path string) *Frozen {
	return &Frozen{Path: path, Timeout: 10 * time.Second}
}

func (p *Frozen) Pack(a *artifact.Artifact) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	records, err := freezer.Thaw(p.Path, timeout)
	if err != nil {
		return fmt.Errorf("failed to thaw %s: %w", p.Path, err)
	}

	// 每条记录解成 JSON 行，records.jsonl 对下游工具最友好
	f, err := a.Create("records.jsonl", timeout)
	if err != nil {
		return err
	}
	defer f.Close()

	kinds := make(map[string]int)
	enc := json.NewEncoder(f)
	for _, rec := range records {
		var payload any
		if err := rec.DecodePayload(&payload); err != nil {
			return fmt.Errorf("failed to decode frozen record: %w", err)
		}
		line := map[string]any{
			"kind":      rec.Kind,
			"frozen_at": rec.FrozenAt,
			"payload":   payload,
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("failed to write records.jsonl: %w", err)
		}
		kinds[rec.Kind]++
	}

	kindMeta := make(map[string]any, len(kinds))
	for k, n := range kinds {
		kindMeta[k] = n
	}
	a.MergeMeta(map[string]any{
		"record_count": len(records),
		"record_kinds": kindMeta,
		"source_queue": p.Path,
	})
	return nil
}
