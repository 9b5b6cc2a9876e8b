package payload

import (
	"fmt"
	"time"

	"ndsb/pkg/artifact"
	"ndsb/pkg/packager"
)

// Raw 把一段内存字节作为单文件放进 Artifact
type Raw struct {
	packager.Base

	Name  string         // Artifact 内的文件名
	Bytes []byte         // 文件内容
	Meta  map[string]any // 附加元数据 (可选)
}

// NewRaw 创建内存字节生产者
func NewRaw(name string, data []byte) *Raw {
	return &Raw{Name: name, Bytes: data}
}

func (r *Raw) Pack(a *artifact.Artifact) error {
	if r.Name == "" {
		return fmt.Errorf("raw payload requires a file name")
	}

	f, err := a.Create(r.Name, 10*time.Second)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(r.Bytes); err != nil {
		return fmt.Errorf("failed to write %s: %w", r.Name, err)
	}

	a.MergeMeta(map[string]any{
		"payload": r.Name,
		"size":    len(r.Bytes),
	})
	if r.Meta != nil {
		a.MergeMeta(r.Meta)
	}
	return nil
}
