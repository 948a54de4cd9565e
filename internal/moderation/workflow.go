package moderation

import (
	"fmt"
	"sort"
)

// RejectionPolicy 工作流的驳回聚合策略
type RejectionPolicy string

const (
	// RejectAnyFails 任一任务驳回即整个工作流驳回(默认)
	RejectAnyFails RejectionPolicy = "any_reject_fails"
	// RejectCollectAll 驳回后继续后续任务,全部完成后只要有驳回即整体驳回
	RejectCollectAll RejectionPolicy = "collect_all"
)

// ParseRejectionPolicy 解析驳回策略,空值为默认策略
func ParseRejectionPolicy(s string) (RejectionPolicy, error) {
	switch RejectionPolicy(s) {
	case "":
		return RejectAnyFails, nil
	case RejectAnyFails, RejectCollectAll:
		return RejectionPolicy(s), nil
	}
	return "", fmt.Errorf("%w: unknown rejection policy %q", ErrValidation, s)
}

// TaskBinding 工作流中某个位置上的任务
type TaskBinding struct {
	Position int
	Task     *Task
}

// Workflow 有序任务列表
type Workflow struct {
	ID              string
	Name            string
	Active          bool
	RejectionPolicy RejectionPolicy
	Tasks           []TaskBinding
}

// HasTask 任务是否绑定在该工作流中
func (w *Workflow) HasTask(taskID string) bool {
	_, ok := w.Binding(taskID)
	return ok
}

// ActiveTasks 按位置排序的可用任务
func (w *Workflow) ActiveTasks() []TaskBinding {
	active := make([]TaskBinding, 0, len(w.Tasks))
	for _, b := range w.Tasks {
		if b.Task.IsActiveFor(w) {
			active = append(active, b)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Position < active[j].Position
	})
	return active
}

// Binding 查找任务在工作流中的当前位置,包括已禁用的任务
func (w *Workflow) Binding(taskID string) (TaskBinding, bool) {
	for _, b := range w.Tasks {
		if b.Task != nil && b.Task.ID == taskID {
			return b, true
		}
	}
	return TaskBinding{}, false
}

// NextTask 返回位置在 after 之后的第一个可用任务
func (w *Workflow) NextTask(after int) (TaskBinding, bool) {
	for _, b := range w.ActiveTasks() {
		if b.Position > after {
			return b, true
		}
	}
	return TaskBinding{}, false
}

// policy 未设置时按默认策略处理
func (w *Workflow) policy() RejectionPolicy {
	if w.RejectionPolicy == "" {
		return RejectAnyFails
	}
	return w.RejectionPolicy
}
