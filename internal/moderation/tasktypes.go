package moderation

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
)

const (
	TaskTypeGroupApproval = "group_approval"
	TaskTypeUserApproval  = "user_approval"
)

// GroupApprovalTask 指定用户组成员审批
type GroupApprovalTask struct {
	Groups            []string `json:"groups" validate:"required,min=1,dive,required"`
	RequiredApprovals int      `json:"required_approvals,omitempty" validate:"gte=0"`
	Skippable         bool     `json:"skippable,omitempty"`
}

// Evaluate 实现 TaskType
func (t *GroupApprovalTask) Evaluate(_ *ContentItem, state *TaskState, sub Submission) (Decision, error) {
	if !sub.Actor.InGroup(t.Groups...) {
		return "", fmt.Errorf("user %s is not in an approving group: %w", sub.Actor.ID, ErrPermissionDenied)
	}
	return decide(state, sub, t.RequiredApprovals, t.Skippable)
}

// TaskStateKind 实现 TaskType
func (t *GroupApprovalTask) TaskStateKind() string {
	return "group_approval_task_state"
}

// UserApprovalTask 指定用户审批
type UserApprovalTask struct {
	Users             []string `json:"users" validate:"required,min=1,dive,required"`
	RequiredApprovals int      `json:"required_approvals,omitempty" validate:"gte=0"`
	Skippable         bool     `json:"skippable,omitempty"`
}

// Evaluate 实现 TaskType
func (t *UserApprovalTask) Evaluate(_ *ContentItem, state *TaskState, sub Submission) (Decision, error) {
	if !containsString(t.Users, sub.Actor.ID) {
		return "", fmt.Errorf("user %s is not an assigned approver: %w", sub.Actor.ID, ErrPermissionDenied)
	}
	return decide(state, sub, t.RequiredApprovals, t.Skippable)
}

// TaskStateKind 实现 TaskType
func (t *UserApprovalTask) TaskStateKind() string {
	return "user_approval_task_state"
}

// decide 审批类任务的公共判定逻辑
func decide(state *TaskState, sub Submission, required int, skippable bool) (Decision, error) {
	switch sub.Action {
	case ActionApprove:
		// 同一审批人重复提交只计一次
		if !containsString(state.Approvals, sub.Actor.ID) {
			state.Approvals = append(state.Approvals, sub.Actor.ID)
		}
		if len(state.Approvals) < required {
			return DecisionNeedsInput, nil
		}
		return DecisionApprove, nil
	case ActionReject:
		return DecisionReject, nil
	case ActionSkip:
		if !skippable {
			return "", fmt.Errorf("task cannot be skipped: %w", ErrInvalidAction)
		}
		return DecisionSkip, nil
	}
	return "", fmt.Errorf("unknown action %q: %w", sub.Action, ErrInvalidAction)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// TaskTypeInfo 已注册的任务子类型
type TaskTypeInfo struct {
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name"`
	New         func() TaskType `json:"-"`
}

// TaskTypeSelection 选择任务类型的结果
// 只有一个类型时 Direct 非空,调用方直接进入创建
type TaskTypeSelection struct {
	Direct     *TaskTypeInfo  `json:"direct,omitempty"`
	Candidates []TaskTypeInfo `json:"candidates,omitempty"`
}

// Registry 任务子类型注册表
type Registry struct {
	mu       sync.RWMutex
	types    map[string]TaskTypeInfo
	validate *validator.Validate
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		types:    make(map[string]TaskTypeInfo),
		validate: validator.New(),
	}
}

// DefaultRegistry 注册内置的审批任务类型
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(TaskTypeInfo{
		Name:        TaskTypeGroupApproval,
		DisplayName: "Group approval task",
		New:         func() TaskType { return &GroupApprovalTask{} },
	})
	_ = r.Register(TaskTypeInfo{
		Name:        TaskTypeUserApproval,
		DisplayName: "User approval task",
		New:         func() TaskType { return &UserApprovalTask{} },
	})
	return r
}

// Register 注册任务子类型
func (r *Registry) Register(info TaskTypeInfo) error {
	if info.Name == "" || info.New == nil {
		return fmt.Errorf("task type name and constructor are required")
	}
	if info.DisplayName == "" {
		info.DisplayName = info.Name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[info.Name]; exists {
		return fmt.Errorf("task type %s already registered", info.Name)
	}
	r.types[info.Name] = info
	return nil
}

// Lookup 查找任务子类型
func (r *Registry) Lookup(name string) (TaskTypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.types[name]
	return info, ok
}

// Types 按显示名(不区分大小写)排序的子类型列表
func (r *Registry) Types() []TaskTypeInfo {
	r.mu.RLock()
	list := make([]TaskTypeInfo, 0, len(r.types))
	for _, info := range r.types {
		list = append(list, info)
	}
	r.mu.RUnlock()

	fold := cases.Fold()
	sort.SliceStable(list, func(i, j int) bool {
		a, b := fold.String(list[i].DisplayName), fold.String(list[j].DisplayName)
		if a == b {
			return list[i].Name < list[j].Name
		}
		return a < b
	})
	return list
}

// Select 只有一个子类型时直接返回,否则返回排序后的候选列表
func (r *Registry) Select() TaskTypeSelection {
	types := r.Types()
	if len(types) == 1 {
		return TaskTypeSelection{Direct: &types[0]}
	}
	return TaskTypeSelection{Candidates: types}
}

// Decode 将 JSON 配置解码为任务子类型并校验
func (r *Registry) Decode(name string, config []byte) (TaskType, error) {
	info, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown task type %q", ErrValidation, name)
	}
	spec := info.New()
	if len(config) > 0 {
		if err := json.Unmarshal(config, spec); err != nil {
			return nil, fmt.Errorf("%w: failed to decode %s config: %v", ErrValidation, name, err)
		}
	}
	if err := r.validate.Struct(spec); err != nil {
		return nil, fmt.Errorf("%w: invalid %s config: %v", ErrValidation, name, err)
	}
	return spec, nil
}
