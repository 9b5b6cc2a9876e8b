// pkg/types/common.go
package types

// BatchID 代表一次打包批次的唯一标识符 (UUIDv4 String)
// 这是一个“值对象”，应当是不可变的。
type BatchID string

func (b BatchID) String() string { return string(b) }

// 验证 BatchID 合法性
func (b BatchID) IsZero() bool  { return b == "" }
func (b BatchID) IsValid() bool { return len(b) == 36 } // 简单的长度检查 (UUID 文本格式)

// RemoteLocator 记录一个 Artifact 被传送到远端之后的落点
// 传送成功后由 beam.Channel 按打包顺序回填到每个 Artifact 上
type RemoteLocator struct {
	Host     string `json:"host"`      // 远端主机 (例如 "https://beam.example.org")
	Endpoint string `json:"endpoint"`  // 接收端点 (固定为 /beam/receive/)
	RemoteID string `json:"remote_id"` // 远端分配的批次 ID
	Index    int    `json:"index"`     // 本 Artifact 在批次中的序号 (= 打包顺序)
}
