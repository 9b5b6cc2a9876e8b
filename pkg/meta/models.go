package meta

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// 批次在账本里的生命周期状态
const (
	StatusPacked      = "packed"      // 归档已生成，尚未发射
	StatusTransmitted = "transmitted" // 发射成功，RemoteID 已回填
	StatusFailed      = "failed"      // 发射被拒或网络失败
)

// BeamModel 是一次批次传输在关系型数据库中的投影 (账本)
// 用于快速查询历史 (ndsb log)，支持按接收方、发送者、时间搜索
type BeamModel struct {
	// BatchID 是主键 (uuid 文本格式)
	BatchID string `gorm:"primaryKey;type:char(36)"`

	// 接收方信息 (B-Tree 索引，适合精确查找)
	Host     string `gorm:"index;type:varchar(255)"`
	RemoteID string `gorm:"index;type:varchar(100)"`

	// 发送者与时间
	TransmittedBy string `gorm:"index;type:varchar(100)"`
	TransmittedAt int64  `gorm:"index"` // 使用 int64 存时间戳，方便范围查询

	// 归档指纹 (重发前核对用)
	ArchiveSHA256 string `gorm:"type:char(64)"`
	ArchiveSize   int64

	// 生命周期状态: packed / transmitted / failed
	Status string `gorm:"index;type:varchar(20)"`

	// 访问策略。打包时定下的策略必须跟着批次走：
	// 之后从 depot 重发时要靠这两列还原，不能退回默认的 public
	Private    bool           `gorm:"default:false"`
	AccessList datatypes.JSON // 身份列表，仅私有批次有内容

	// Meta: 批次的顶层元数据 (toplevel.json 的内容)
	// 非结构化，用 JSON 列存
	Meta datatypes.JSON

	CreatedAt time.Time
}

// TableName 强制指定表名
func (BeamModel) TableName() string {
	return "beams"
}

// Identities 把 JSON 列解回身份列表
func (b *BeamModel) Identities() ([]string, error) {
	if len(b.AccessList) == 0 {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(b.AccessList, &list); err != nil {
		return nil, err
	}
	return list, nil
}
