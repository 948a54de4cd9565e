package moderation

import "time"

// Status 工作流状态与任务状态共用的状态值
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusSkipped    Status = "skipped"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal 是否为终态
func (s Status) IsTerminal() bool {
	return s != StatusInProgress
}

// Decision 任务对一次提交的判定结果
type Decision string

const (
	DecisionApprove    Decision = "approve"
	DecisionReject     Decision = "reject"
	DecisionNeedsInput Decision = "needs_input"
	DecisionSkip       Decision = "skip"
)

// Status 判定对应的任务终态,NEEDS_INPUT 没有终态
func (d Decision) Status() (Status, bool) {
	switch d {
	case DecisionApprove:
		return StatusApproved, true
	case DecisionReject:
		return StatusRejected, true
	case DecisionSkip:
		return StatusSkipped, true
	}
	return "", false
}

// Action 审核人提交的动作
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionSkip    Action = "skip"
)

// Submission 一次审核提交
type Submission struct {
	Actor   Actor
	Action  Action
	Comment string
	At      time.Time
}

// ContentItem 被审核的内容(页面)
type ContentItem struct {
	ID               string
	Title            string
	ContentType      string
	LatestRevisionID string
	LiveRevisionID   string
	Live             bool
	LastPublishedAt  *time.Time
}

// TaskType 任务子类型的固定能力集合
type TaskType interface {
	// Evaluate 判定一次提交,可在 state 上记录部分审批
	Evaluate(item *ContentItem, state *TaskState, sub Submission) (Decision, error)
	// TaskStateKind 该类型创建的任务状态种类
	TaskStateKind() string
}

// Task 审核任务定义
type Task struct {
	ID     string
	Name   string
	Type   string
	Active bool
	Spec   TaskType
}

// IsActiveFor 任务在给定工作流中是否可创建新的任务状态
func (t *Task) IsActiveFor(wf *Workflow) bool {
	if t == nil || !t.Active || wf == nil {
		return false
	}
	return wf.HasTask(t.ID)
}

// Evaluate 委托给任务子类型
func (t *Task) Evaluate(item *ContentItem, state *TaskState, sub Submission) (Decision, error) {
	if t.Spec == nil {
		return "", ErrInvalidAction
	}
	return t.Spec.Evaluate(item, state, sub)
}

// TaskStateKind 任务状态种类
func (t *Task) TaskStateKind() string {
	if t.Spec == nil {
		return "task_state"
	}
	return t.Spec.TaskStateKind()
}

// TaskState 一个任务在一次工作流运行中的执行记录
type TaskState struct {
	ID              string
	WorkflowStateID string
	TaskID          string
	Position        int
	Status          Status
	Kind            string
	RevisionID      string
	Approvals       []string
	FinishedBy      string
	Comment         string
	StartedAt       time.Time
	FinishedAt      *time.Time
}

// finish 写入终态,离开 IN_PROGRESS 后不再修改
func (ts *TaskState) finish(status Status, by string, comment string, at time.Time) {
	ts.Status = status
	ts.FinishedBy = by
	ts.Comment = comment
	ts.FinishedAt = &at
}
