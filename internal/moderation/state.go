package moderation

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// WorkflowState 一次工作流运行
type WorkflowState struct {
	ID                 string
	WorkflowID         string
	PageID             string
	RevisionID         string
	Status             Status
	CurrentTaskStateID string
	RequestedBy        string
	CreatedAt          time.Time
	FinishedAt         *time.Time
	TaskStates         []*TaskState
}

// Current 当前进行中的任务状态,没有则返回 nil
func (s *WorkflowState) Current() *TaskState {
	if s.CurrentTaskStateID == "" {
		return nil
	}
	return s.TaskState(s.CurrentTaskStateID)
}

// TaskState 按 ID 查找任务状态
func (s *WorkflowState) TaskState(id string) *TaskState {
	for _, ts := range s.TaskStates {
		if ts.ID == id {
			return ts
		}
	}
	return nil
}

// Transition 一次状态变更的结果
type Transition struct {
	Decision Decision
	From     Status
	To       Status
	// Finished 本次结束的任务状态
	Finished *TaskState
	// Started 本次新建的任务状态
	Started *TaskState
	// Updated 仅记录了部分审批的任务状态
	Updated *TaskState
}

// Terminal 本次变更是否使工作流进入终态
func (t *Transition) Terminal() bool {
	return t.From == StatusInProgress && t.To.IsTerminal()
}

// StartWorkflow 在内容的最新修订上创建一次工作流运行
// 没有可用任务时直接进入 APPROVED
func StartWorkflow(wf *Workflow, item *ContentItem, requestedBy string, now time.Time) (*WorkflowState, *Transition, error) {
	if wf == nil || item == nil {
		return nil, nil, ErrNotFound
	}
	if !wf.Active {
		return nil, nil, fmt.Errorf("workflow %s is disabled: %w", wf.ID, ErrConflict)
	}

	state := &WorkflowState{
		ID:          uuid.NewString(),
		WorkflowID:  wf.ID,
		PageID:      item.ID,
		RevisionID:  item.LatestRevisionID,
		Status:      StatusInProgress,
		RequestedBy: requestedBy,
		CreatedAt:   now,
	}
	tr := &Transition{From: StatusInProgress, To: StatusInProgress}

	first, ok := wf.NextTask(math.MinInt)
	if !ok {
		state.Status = StatusApproved
		state.FinishedAt = &now
		tr.Decision = DecisionApprove
		tr.To = StatusApproved
		return state, tr, nil
	}
	tr.Started = state.startTask(first, now)
	return state, tr, nil
}

// ApplyDecision 对当前任务状态执行一次提交
func (s *WorkflowState) ApplyDecision(wf *Workflow, task *Task, item *ContentItem, taskStateID string, sub Submission) (*Transition, error) {
	if s.Status.IsTerminal() {
		return nil, fmt.Errorf("workflow state %s is %s: %w", s.ID, s.Status, ErrInvalidTransition)
	}
	cur := s.Current()
	if cur == nil {
		return nil, fmt.Errorf("workflow state %s has no current task: %w", s.ID, ErrInvalidTransition)
	}
	if taskStateID != "" && taskStateID != cur.ID {
		named := s.TaskState(taskStateID)
		if named == nil {
			return nil, fmt.Errorf("task state %s: %w", taskStateID, ErrNotFound)
		}
		if named.Status.IsTerminal() {
			return nil, fmt.Errorf("task state %s is %s: %w", named.ID, named.Status, ErrInvalidTransition)
		}
		return nil, fmt.Errorf("task state %s is no longer current: %w", taskStateID, ErrConflict)
	}
	if task == nil || task.ID != cur.TaskID {
		return nil, fmt.Errorf("task %s: %w", cur.TaskID, ErrNotFound)
	}

	decision, err := task.Evaluate(item, cur, sub)
	if err != nil {
		return nil, err
	}

	tr := &Transition{Decision: decision, From: s.Status, To: s.Status}
	status, final := decision.Status()
	if !final {
		tr.Updated = cur
		return tr, nil
	}

	cur.finish(status, sub.Actor.ID, sub.Comment, sub.At)
	tr.Finished = cur

	if decision == DecisionReject && wf.policy() == RejectAnyFails {
		s.finish(StatusRejected, sub.At)
		tr.To = s.Status
		return tr, nil
	}

	// 工作流可能在运行中被重新排序,按任务当前的位置推进
	after := cur.Position
	if b, ok := wf.Binding(cur.TaskID); ok {
		after = b.Position
	}
	next, ok := wf.NextTask(after)
	if !ok {
		if s.hasRejection() {
			s.finish(StatusRejected, sub.At)
		} else {
			s.finish(StatusApproved, sub.At)
		}
		tr.To = s.Status
		return tr, nil
	}
	tr.Started = s.startTask(next, sub.At)
	return tr, nil
}

// Cancel 取消进行中的运行,已是终态时返回 false 且不做任何修改
func (s *WorkflowState) Cancel(actor Actor, reason string, now time.Time) (*Transition, bool) {
	if s.Status.IsTerminal() {
		return nil, false
	}
	tr := &Transition{From: s.Status}
	if cur := s.Current(); cur != nil {
		cur.finish(StatusCancelled, actor.ID, reason, now)
		tr.Finished = cur
	}
	s.finish(StatusCancelled, now)
	tr.To = s.Status
	return tr, true
}

// startTask 为绑定的任务创建进行中的任务状态并设为当前
func (s *WorkflowState) startTask(b TaskBinding, now time.Time) *TaskState {
	ts := &TaskState{
		ID:              uuid.NewString(),
		WorkflowStateID: s.ID,
		TaskID:          b.Task.ID,
		Position:        b.Position,
		Status:          StatusInProgress,
		Kind:            b.Task.TaskStateKind(),
		RevisionID:      s.RevisionID,
		StartedAt:       now,
	}
	s.TaskStates = append(s.TaskStates, ts)
	s.CurrentTaskStateID = ts.ID
	return ts
}

func (s *WorkflowState) finish(status Status, now time.Time) {
	s.Status = status
	s.CurrentTaskStateID = ""
	s.FinishedAt = &now
}

func (s *WorkflowState) hasRejection() bool {
	for _, ts := range s.TaskStates {
		if ts.Status == StatusRejected {
			return true
		}
	}
	return false
}
