package moderation

import "context"

// Actor 执行操作的用户
type Actor struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Groups   []string `json:"groups"`
}

// InGroup 判断用户是否属于任一给定组
func (a Actor) InGroup(groups ...string) bool {
	for _, g := range a.Groups {
		for _, want := range groups {
			if g == want {
				return true
			}
		}
	}
	return false
}

// DisplayName 返回用于展示的用户名
func (a Actor) DisplayName() string {
	if a.Username != "" {
		return a.Username
	}
	return a.ID
}

type actorKey struct{}

// WithActor 将用户写入 context
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext 从 context 读取用户
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || actor.ID == "" {
		return Actor{}, false
	}
	return actor, true
}

// Resource 权限资源类别
type Resource string

// Capability 资源上的操作能力
type Capability string

const (
	ResourceWorkflow Resource = "workflow"
	ResourceTask     Resource = "task"

	CapabilityCreate         Capability = "create"
	CapabilityDelete         Capability = "delete"
	CapabilityAddToPage      Capability = "add_to_page"
	CapabilityRemoveFromPage Capability = "remove_from_page"
)

// PermissionPolicy 权限判定接口,由外部实现
type PermissionPolicy interface {
	HasCapability(ctx context.Context, actor Actor, resource Resource, capability Capability) (bool, error)
}

// PermissionPolicyFunc 函数形式的 PermissionPolicy
type PermissionPolicyFunc func(ctx context.Context, actor Actor, resource Resource, capability Capability) (bool, error)

// HasCapability 实现 PermissionPolicy
func (f PermissionPolicyFunc) HasCapability(ctx context.Context, actor Actor, resource Resource, capability Capability) (bool, error) {
	return f(ctx, actor, resource, capability)
}
