package moderation_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var editor = moderation.Actor{ID: "u-editor", Username: "editor", Groups: []string{"editors"}}

func groupTask(id string) *moderation.Task {
	return &moderation.Task{
		ID:     id,
		Name:   "Review " + id,
		Type:   moderation.TaskTypeGroupApproval,
		Active: true,
		Spec:   &moderation.GroupApprovalTask{Groups: []string{"editors"}},
	}
}

func newWorkflow(tasks ...*moderation.Task) *moderation.Workflow {
	wf := &moderation.Workflow{ID: "wf-1", Name: "Moderation", Active: true}
	for i, t := range tasks {
		wf.Tasks = append(wf.Tasks, moderation.TaskBinding{Position: i, Task: t})
	}
	return wf
}

func page() *moderation.ContentItem {
	return &moderation.ContentItem{ID: "page-1", Title: "Home", LatestRevisionID: "rev-1"}
}

func submit(action moderation.Action) moderation.Submission {
	return moderation.Submission{Actor: editor, Action: action, At: time.Now()}
}

func taskByID(wf *moderation.Workflow, id string) *moderation.Task {
	for _, b := range wf.Tasks {
		if b.Task.ID == id {
			return b.Task
		}
	}
	return nil
}

func decideCurrent(t *testing.T, wf *moderation.Workflow, s *moderation.WorkflowState, action moderation.Action) *moderation.Transition {
	t.Helper()
	cur := s.Current()
	require.NotNil(t, cur)
	tr, err := s.ApplyDecision(wf, taskByID(wf, cur.TaskID), page(), cur.ID, submit(action))
	require.NoError(t, err)
	return tr
}

// TestWorkflowState_ApproveAll 测试所有任务通过后工作流通过
func TestWorkflowState_ApproveAll(t *testing.T) {
	for n := 1; n <= 4; n++ {
		var tasks []*moderation.Task
		for i := 0; i < n; i++ {
			tasks = append(tasks, groupTask(string(rune('a'+i))))
		}
		wf := newWorkflow(tasks...)

		s, _, err := moderation.StartWorkflow(wf, page(), editor.ID, time.Now())
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			decideCurrent(t, wf, s, moderation.ActionApprove)
		}

		assert.Equal(t, moderation.StatusApproved, s.Status)
		assert.Nil(t, s.Current())
		assert.NotNil(t, s.FinishedAt)
		require.Len(t, s.TaskStates, n)
		for i, ts := range s.TaskStates {
			assert.Equal(t, moderation.StatusApproved, ts.Status)
			assert.Equal(t, i, ts.Position)
			assert.Equal(t, "rev-1", ts.RevisionID)
		}
	}
}

// TestWorkflowState_RejectStops 测试默认策略下驳回立即结束
func TestWorkflowState_RejectStops(t *testing.T) {
	for k := 0; k < 3; k++ {
		wf := newWorkflow(groupTask("a"), groupTask("b"), groupTask("c"))
		s, _, err := moderation.StartWorkflow(wf, page(), editor.ID, time.Now())
		require.NoError(t, err)

		for i := 0; i < k; i++ {
			decideCurrent(t, wf, s, moderation.ActionApprove)
		}
		tr := decideCurrent(t, wf, s, moderation.ActionReject)

		assert.True(t, tr.Terminal())
		assert.Nil(t, tr.Started)
		assert.Equal(t, moderation.StatusRejected, s.Status)
		require.Len(t, s.TaskStates, k+1)
		for i := 0; i < k; i++ {
			assert.Equal(t, moderation.StatusApproved, s.TaskStates[i].Status)
		}
		assert.Equal(t, moderation.StatusRejected, s.TaskStates[k].Status)
	}
}

// TestWorkflowState_TwoTaskScenario 测试两个任务的完整流转
func TestWorkflowState_TwoTaskScenario(t *testing.T) {
	wf := newWorkflow(groupTask("A"), groupTask("B"))
	s, tr, err := moderation.StartWorkflow(wf, page(), editor.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, moderation.StatusInProgress, s.Status)
	assert.Equal(t, "A", s.Current().TaskID)
	assert.Equal(t, tr.Started, s.Current())

	tr = decideCurrent(t, wf, s, moderation.ActionApprove)
	assert.Equal(t, moderation.StatusInProgress, s.Status)
	assert.Equal(t, "B", s.Current().TaskID)
	assert.Nil(t, s.FinishedAt)
	assert.Equal(t, "A", tr.Finished.TaskID)

	decideCurrent(t, wf, s, moderation.ActionApprove)
	assert.Equal(t, moderation.StatusApproved, s.Status)
	assert.Empty(t, s.CurrentTaskStateID)
}

// TestWorkflowState_RejectOnFirstTask 测试第一个任务驳回后不创建后续任务状态
func TestWorkflowState_RejectOnFirstTask(t *testing.T) {
	wf := newWorkflow(groupTask("A"), groupTask("B"))
	s, _, err := moderation.StartWorkflow(wf, page(), editor.ID, time.Now())
	require.NoError(t, err)

	decideCurrent(t, wf, s, moderation.ActionReject)
	assert.Equal(t, moderation.StatusRejected, s.Status)
	for _, ts := range s.TaskStates {
		assert.NotEqual(t, "B", ts.TaskID)
	}
}

// TestWorkflowState_CollectAllPolicy 测试继续执行的驳回策略
func TestWorkflowState_CollectAllPolicy(t *testing.T) {
	wf := newWorkflow(groupTask("A"), groupTask("B"))
	wf.RejectionPolicy = moderation.RejectCollectAll
	s, _, err := moderation.StartWorkflow(wf, page(), editor.ID, time.Now())
	require.NoError(t, err)

	tr := decideCurrent(t, wf, s, moderation.ActionReject)
	assert.Equal(t, moderation.StatusInProgress, s.Status)
	require.NotNil(t, tr.Started)
	assert.Equal(t, "B", tr.Started.TaskID)

	decideCurrent(t, wf, s, moderation.ActionApprove)
	assert.Equal(t, moderation.StatusRejected, s.Status)
	assert.Len(t, s.TaskStates, 2)
}

// TestWorkflowState_SkipsInactiveTasks 测试跳过已禁用的任务
func TestWorkflowState_SkipsInactiveTasks(t *testing.T) {
	b := groupTask("B")
	b.Active = false
	wf := newWorkflow(groupTask("A"), b, groupTask("C"))
	s, _, err := moderation.StartWorkflow(wf, page(), editor.ID, time.Now())
	require.NoError(t, err)

	decideCurrent(t, wf, s, moderation.ActionApprove)
	assert.Equal(t, "C", s.Current().TaskID)
}

// TestWorkflowState_TaskDisabledWhileInProgress 测试任务状态创建后禁用任务仍可正常完成
func TestWorkflowState_TaskDisabledWhileInProgress(t *testing.T) {
	wf := newWorkflow(groupTask("A"), groupTask("B"))
	s, _, err := moderation.StartWorkflow(wf, page(), editor.ID, time.Now())
	require.NoError(t, err)

	taskByID(wf, "A").Active = false
	decideCurrent(t, wf, s, moderation.ActionApprove)
	assert.Equal(t, moderation.StatusApproved, s.TaskStates[0].Status)
	assert.Equal(t, "B", s.Current().TaskID)
}

// TestStartWorkflow_NoActiveTasks 测试没有可用任务时直接通过
func TestStartWorkflow_NoActiveTasks(t *testing.T) {
	a := groupTask("A")
	a.Active = false
	wf := newWorkflow(a)

	s, tr, err := moderation.StartWorkflow(wf, page(), editor.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, moderation.StatusApproved, s.Status)
	assert.True(t, tr.Terminal())
	assert.Empty(t, s.TaskStates)
}

// TestStartWorkflow_InactiveWorkflow 测试禁用的工作流不能启动
func TestStartWorkflow_InactiveWorkflow(t *testing.T) {
	wf := newWorkflow(groupTask("A"))
	wf.Active = false

	_, _, err := moderation.StartWorkflow(wf, page(), editor.ID, time.Now())
	assert.ErrorIs(t, err, moderation.ErrConflict)
}

// TestWorkflowState_CancelTerminalIsNoOp 测试取消终态工作流为空操作
func TestWorkflowState_CancelTerminalIsNoOp(t *testing.T) {
	for _, action := range []moderation.Action{moderation.ActionApprove, moderation.ActionReject} {
		wf := newWorkflow(groupTask("A"))
		s, _, err := moderation.StartWorkflow(wf, page(), editor.ID, time.Now())
		require.NoError(t, err)
		decideCurrent(t, wf, s, action)

		before := *s
		beforeTasks := make([]moderation.TaskState, len(s.TaskStates))
		for i, ts := range s.TaskStates {
			beforeTasks[i] = *ts
		}

		tr, changed := s.Cancel(editor, "late", time.Now())
		assert.False(t, changed)
		assert.Nil(t, tr)
		assert.Equal(t, before.Status, s.Status)
		assert.Equal(t, before.FinishedAt, s.FinishedAt)
		for i, ts := range s.TaskStates {
			assert.Equal(t, beforeTasks[i], *ts)
		}
	}
}

// TestWorkflowState_Cancel 测试取消进行中的工作流
func TestWorkflowState_Cancel(t *testing.T) {
	wf := newWorkflow(groupTask("A"), groupTask("B"))
	s, _, err := moderation.StartWorkflow(wf, page(), editor.ID, time.Now())
	require.NoError(t, err)

	tr, changed := s.Cancel(editor, "withdrawn", time.Now())
	require.True(t, changed)
	assert.Equal(t, moderation.StatusCancelled, s.Status)
	assert.Equal(t, moderation.StatusCancelled, tr.Finished.Status)
	assert.Equal(t, "withdrawn", tr.Finished.Comment)
	assert.Nil(t, s.Current())
}

// TestWorkflowState_DecisionOnTerminal 测试终态上的提交返回 InvalidTransition
func TestWorkflowState_DecisionOnTerminal(t *testing.T) {
	wf := newWorkflow(groupTask("A"))
	s, _, err := moderation.StartWorkflow(wf, page(), editor.ID, time.Now())
	require.NoError(t, err)
	first := s.Current().ID
	decideCurrent(t, wf, s, moderation.ActionApprove)

	_, err = s.ApplyDecision(wf, taskByID(wf, "A"), page(), first, submit(moderation.ActionApprove))
	assert.True(t, moderation.IsNoOp(err))
	assert.Len(t, s.TaskStates, 1)
}

// TestWorkflowState_StaleTaskState 测试已结束的任务状态 ID 作为空操作处理
func TestWorkflowState_StaleTaskState(t *testing.T) {
	wf := newWorkflow(groupTask("A"), groupTask("B"))
	s, _, err := moderation.StartWorkflow(wf, page(), editor.ID, time.Now())
	require.NoError(t, err)
	first := s.Current().ID
	decideCurrent(t, wf, s, moderation.ActionApprove)
	second := s.Current().ID

	_, err = s.ApplyDecision(wf, taskByID(wf, "A"), page(), first, submit(moderation.ActionApprove))
	assert.ErrorIs(t, err, moderation.ErrInvalidTransition)
	assert.True(t, moderation.IsNoOp(err))
	assert.Equal(t, second, s.CurrentTaskStateID)
	assert.Equal(t, moderation.StatusInProgress, s.Current().Status)

	_, err = s.ApplyDecision(wf, taskByID(wf, "B"), page(), "missing", submit(moderation.ActionApprove))
	assert.ErrorIs(t, err, moderation.ErrNotFound)
}

// TestWorkflowState_PermissionDenied 测试非审批组成员不能审批且状态不变
func TestWorkflowState_PermissionDenied(t *testing.T) {
	wf := newWorkflow(groupTask("A"))
	s, _, err := moderation.StartWorkflow(wf, page(), editor.ID, time.Now())
	require.NoError(t, err)
	cur := s.Current()

	outsider := moderation.Submission{Actor: moderation.Actor{ID: "u-2", Groups: []string{"moderators"}}, Action: moderation.ActionApprove, At: time.Now()}
	_, err = s.ApplyDecision(wf, taskByID(wf, "A"), page(), cur.ID, outsider)
	assert.True(t, errors.Is(err, moderation.ErrPermissionDenied))
	assert.Equal(t, moderation.StatusInProgress, cur.Status)
	assert.Empty(t, cur.Approvals)
}

// TestWorkflowState_ReorderedWhileRunning 测试运行中调整顺序后按新位置推进
func TestWorkflowState_ReorderedWhileRunning(t *testing.T) {
	a, b, c := groupTask("A"), groupTask("B"), groupTask("C")
	wf := newWorkflow(a, b, c)
	s, _, err := moderation.StartWorkflow(wf, page(), editor.ID, time.Now())
	require.NoError(t, err)
	require.Equal(t, "A", s.Current().TaskID)

	// 新顺序 C, A, B
	reordered := newWorkflow(c, a, b)
	decideCurrent(t, reordered, s, moderation.ActionApprove)
	require.NotNil(t, s.Current())
	assert.Equal(t, "B", s.Current().TaskID)

	decideCurrent(t, reordered, s, moderation.ActionApprove)
	assert.Equal(t, moderation.StatusApproved, s.Status)
	require.Len(t, s.TaskStates, 2)
	assert.Equal(t, "A", s.TaskStates[0].TaskID)
	assert.Equal(t, "B", s.TaskStates[1].TaskID)
}
