package freezer

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record 是冻结队列中的一条记录
// Payload 是不透明的：冻结层只负责按序存取，不理解内容
type Record struct {
	Kind     string          `cbor:"kind"`      // 载荷类型标签 (由生产者约定，如 "json")
	Payload  cbor.RawMessage `cbor:"payload"`   // 序列化后的载荷本体
	FrozenAt int64           `cbor:"frozen_at"` // 冻结时刻 (Unix 秒)
}

// 冻结文件的编码选项
// 强制确定性编码：同一序列永远产生同样的字节，方便排查问题
var encOptions = cbor.EncOptions{
	// 1. 强制 Map Key 排序 (Canonical)
	Sort: cbor.SortCanonical,

	// 2. 时间格式化为 Unix 整数，禁止自动生成 Tag 0/1
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 3. 禁止不定长编码 (Indefinite Length)
	// 序列长度必须在头部声明，迟到读者才能一眼看出文件被截断
	IndefLength: cbor.IndefLengthForbidden,
}

var em, _ = encOptions.EncMode()

// 冻结文件的解码选项
var decOptions = cbor.DecOptions{
	// --- 安全性配置 (防 DoS) ---
	// 冻结文件可能被多进程长期积累，上限放宽一些
	MaxArrayElements: 131072,
	MaxMapPairs:      131072,
	MaxNestedLevels:  100,

	// --- 规范性配置 ---
	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
	TimeTag:     cbor.DecTagIgnored,
}

var dm, _ = decOptions.DecMode()

// NewRecord 把任意可序列化的值打包成一条 Record
func NewRecord(kind string, v any) (Record, error) {
	payload, err := EncodePayload(v)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Kind:     kind,
		Payload:  payload,
		FrozenAt: time.Now().Unix(),
	}, nil
}

// EncodePayload 序列化载荷 (与冻结文件同一套编码规则)
func EncodePayload(v any) (cbor.RawMessage, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode freeze payload: %w", err)
	}
	return cbor.RawMessage(data), nil
}

// DecodePayload 把 Record 的载荷还原到 v
func (r Record) DecodePayload(v any) error {
	if err := dm.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("failed to decode freeze payload (kind=%s): %w", r.Kind, err)
	}
	return nil
}
