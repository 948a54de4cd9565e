package auth

import (
	"context"
	"strings"

	"github.com/mautops/moderation-gin/internal/moderation"
)

// RolePolicy 按用户组静态授权,用于未部署 OpenFGA 的环境
type RolePolicy struct {
	grants map[string]map[string]bool
}

// NewRolePolicy 从 组 -> ["workflow:create", ...] 映射创建策略
// "*" 表示全部能力
func NewRolePolicy(roles map[string][]string) *RolePolicy {
	grants := make(map[string]map[string]bool, len(roles))
	for group, capabilities := range roles {
		set := make(map[string]bool, len(capabilities))
		for _, capability := range capabilities {
			set[strings.ToLower(strings.TrimSpace(capability))] = true
		}
		// viper 读取的键已转为小写
		grants[strings.ToLower(group)] = set
	}
	return &RolePolicy{grants: grants}
}

// HasCapability 实现 moderation.PermissionPolicy
func (p *RolePolicy) HasCapability(_ context.Context, actor moderation.Actor, resource moderation.Resource, capability moderation.Capability) (bool, error) {
	want := string(resource) + ":" + string(capability)
	for _, group := range actor.Groups {
		set, ok := p.grants[strings.ToLower(group)]
		if !ok {
			continue
		}
		if set["*"] || set[want] || set[string(resource)+":*"] {
			return true, nil
		}
	}
	return false, nil
}
