package packager

import (
	"fmt"
	"time"

	"ndsb/pkg/artifact"
)

// packTimeout 是默认打包钩子里文件操作的锁超时
const packTimeout = 10 * time.Second

// Data 是数据生产者的能力接口：打包器按输入顺序逐个调用 Pack，
// 让生产者把元数据和文件写进自己的 Artifact；打包完成后通过 Bind
// 把定稿的 Artifact 回挂到生产者身上 (后续代码靠它读 id / 远端落点)。
//
// 嵌入 Base 即可免费获得 Bind / Artifact 和默认的 Pack 行为 ——
// 这是显式多态，不做任何运行时方法探测。
type Data interface {
	// Pack 把本生产者的数据写入 a (元数据合并 + 文件写入)
	Pack(a *artifact.Artifact) error

	// Bind 在 Artifact 定稿后由打包器调用
	Bind(a *artifact.Artifact)

	// Artifact 返回打包后回挂的 Artifact (打包前为 nil)
	Artifact() *artifact.Artifact
}

// Base 提供 Data 的缺省实现，供具体生产者嵌入。
//
// 默认的 Pack 是一次“刻意的软失败”：生产者忘了覆写 Pack 不应该
// 拖垮整个批次，所以这里往元数据里写 not_implemented 标记、
// 在 Artifact 里留一个说明文件，然后让批次继续走完。
type Base struct {
	bound *artifact.Artifact
}

func (b *Base) Pack(a *artifact.Artifact) error {
	a.MergeMeta(map[string]any{
		"not_implemented": true,
	})

	f, err := a.Create("err.txt", packTimeout)
	if err != nil {
		return fmt.Errorf("failed to write pack notice: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintln(f, "This data producer did not override the `pack` hook; nothing was packaged.")
	return err
}

func (b *Base) Bind(a *artifact.Artifact)    { b.bound = a }
func (b *Base) Artifact() *artifact.Artifact { return b.bound }
