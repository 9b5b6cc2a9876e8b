package artifact

import (
	"errors"
	"slices"
)

// ErrPolicyMisuse: 还没 MakePrivate 就开始 Grant
// 禁止意外构造出“公开但又带白名单”的暧昧状态
var ErrPolicyMisuse = errors.New("policy misuse: grant access requires private mode first")

// Policy 是访问控制策略：默认公开；显式转私有后才能加白名单。
// Artifact 和 beam.Channel 共用同一套语义。
type Policy struct {
	private    bool
	accessList []string // 保持授权顺序 (manifest 里是有序序列)
}

// MakePrivate 把策略切换为私有模式
func (p *Policy) MakePrivate() {
	p.private = true
}

// Grant 把身份加入白名单 (去重，保持首次授权顺序)。
// 公开状态下调用是使用错误，直接报 ErrPolicyMisuse。
func (p *Policy) Grant(identities ...string) error {
	if !p.private {
		return ErrPolicyMisuse
	}
	for _, id := range identities {
		if !slices.Contains(p.accessList, id) {
			p.accessList = append(p.accessList, id)
		}
	}
	return nil
}

// Private 返回是否处于私有模式
func (p *Policy) Private() bool { return p.private }

// AccessList 返回白名单副本 (防止调用方绕过 Grant 偷改)
func (p *Policy) AccessList() []string {
	return slices.Clone(p.accessList)
}
