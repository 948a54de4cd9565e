package moderation_test

import (
	"testing"
	"time"

	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegistry_SelectSingleType 测试只注册一个类型时直接创建
func TestRegistry_SelectSingleType(t *testing.T) {
	r := moderation.NewRegistry()
	require.NoError(t, r.Register(moderation.TaskTypeInfo{
		Name:        "GroupApprovalTask",
		DisplayName: "Group approval task",
		New:         func() moderation.TaskType { return &moderation.GroupApprovalTask{} },
	}))

	sel := r.Select()
	require.NotNil(t, sel.Direct)
	assert.Equal(t, "GroupApprovalTask", sel.Direct.Name)
	assert.Empty(t, sel.Candidates)
}

// TestRegistry_SelectSortsCaseInsensitively 测试多个类型按显示名不区分大小写排序
func TestRegistry_SelectSortsCaseInsensitively(t *testing.T) {
	r := moderation.NewRegistry()
	for _, info := range []moderation.TaskTypeInfo{
		{Name: "zeta", DisplayName: "zeta review"},
		{Name: "alpha", DisplayName: "Alpha review"},
		{Name: "beta", DisplayName: "BETA review"},
	} {
		info.New = func() moderation.TaskType { return &moderation.UserApprovalTask{} }
		require.NoError(t, r.Register(info))
	}

	sel := r.Select()
	assert.Nil(t, sel.Direct)
	require.Len(t, sel.Candidates, 3)
	assert.Equal(t, "alpha", sel.Candidates[0].Name)
	assert.Equal(t, "beta", sel.Candidates[1].Name)
	assert.Equal(t, "zeta", sel.Candidates[2].Name)
}

// TestRegistry_DefaultTypes 测试默认注册表包含两种审批任务
func TestRegistry_DefaultTypes(t *testing.T) {
	sel := moderation.DefaultRegistry().Select()
	require.Len(t, sel.Candidates, 2)
	assert.Equal(t, moderation.TaskTypeGroupApproval, sel.Candidates[0].Name)
	assert.Equal(t, moderation.TaskTypeUserApproval, sel.Candidates[1].Name)
}

// TestRegistry_RegisterDuplicate 测试重复注册失败
func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := moderation.DefaultRegistry()
	err := r.Register(moderation.TaskTypeInfo{
		Name: moderation.TaskTypeGroupApproval,
		New:  func() moderation.TaskType { return &moderation.GroupApprovalTask{} },
	})
	assert.Error(t, err)
}

// TestRegistry_Decode 测试解码并校验任务配置
func TestRegistry_Decode(t *testing.T) {
	r := moderation.DefaultRegistry()

	spec, err := r.Decode(moderation.TaskTypeGroupApproval, []byte(`{"groups":["editors"],"required_approvals":2}`))
	require.NoError(t, err)
	group, ok := spec.(*moderation.GroupApprovalTask)
	require.True(t, ok)
	assert.Equal(t, []string{"editors"}, group.Groups)
	assert.Equal(t, 2, group.RequiredApprovals)

	_, err = r.Decode(moderation.TaskTypeGroupApproval, []byte(`{"groups":[]}`))
	assert.ErrorIs(t, err, moderation.ErrValidation)

	_, err = r.Decode("unknown", nil)
	assert.ErrorIs(t, err, moderation.ErrValidation)
}

// TestGroupApprovalTask_Quorum 测试审批人数未达到要求时返回 NEEDS_INPUT
func TestGroupApprovalTask_Quorum(t *testing.T) {
	task := &moderation.GroupApprovalTask{Groups: []string{"editors"}, RequiredApprovals: 2}
	state := &moderation.TaskState{Status: moderation.StatusInProgress}
	first := moderation.Actor{ID: "u-1", Groups: []string{"editors"}}
	second := moderation.Actor{ID: "u-2", Groups: []string{"editors"}}

	d, err := task.Evaluate(nil, state, moderation.Submission{Actor: first, Action: moderation.ActionApprove, At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, moderation.DecisionNeedsInput, d)

	// 同一用户重复审批不计数
	d, err = task.Evaluate(nil, state, moderation.Submission{Actor: first, Action: moderation.ActionApprove, At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, moderation.DecisionNeedsInput, d)
	assert.Len(t, state.Approvals, 1)

	d, err = task.Evaluate(nil, state, moderation.Submission{Actor: second, Action: moderation.ActionApprove, At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, moderation.DecisionApprove, d)
}

// TestGroupApprovalTask_Skip 测试跳过动作
func TestGroupApprovalTask_Skip(t *testing.T) {
	state := &moderation.TaskState{}
	sub := moderation.Submission{Actor: editor, Action: moderation.ActionSkip}

	_, err := (&moderation.GroupApprovalTask{Groups: []string{"editors"}}).Evaluate(nil, state, sub)
	assert.ErrorIs(t, err, moderation.ErrInvalidAction)

	d, err := (&moderation.GroupApprovalTask{Groups: []string{"editors"}, Skippable: true}).Evaluate(nil, state, sub)
	require.NoError(t, err)
	assert.Equal(t, moderation.DecisionSkip, d)
}

// TestUserApprovalTask_Evaluate 测试指定用户审批
func TestUserApprovalTask_Evaluate(t *testing.T) {
	task := &moderation.UserApprovalTask{Users: []string{"u-editor"}}
	state := &moderation.TaskState{}

	d, err := task.Evaluate(nil, state, moderation.Submission{Actor: editor, Action: moderation.ActionReject})
	require.NoError(t, err)
	assert.Equal(t, moderation.DecisionReject, d)

	_, err = task.Evaluate(nil, state, moderation.Submission{Actor: moderation.Actor{ID: "other"}, Action: moderation.ActionApprove})
	assert.ErrorIs(t, err, moderation.ErrPermissionDenied)
	assert.Equal(t, "user_approval_task_state", task.TaskStateKind())
}

// TestNeedsConfirmationError_IsConflict 测试确认错误可按冲突识别
func TestNeedsConfirmationError_IsConflict(t *testing.T) {
	var err error = &moderation.NeedsConfirmationError{PageID: "p", ConflictingWorkflowID: "wf-2"}
	assert.ErrorIs(t, err, moderation.ErrConflict)
	assert.Contains(t, err.Error(), "wf-2")
}
