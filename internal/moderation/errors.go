package moderation

import (
	"errors"
	"fmt"
)

// 审核流程错误类型
var (
	// ErrPermissionDenied 权限校验失败,不重试
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound 引用的工作流、任务或页面不存在
	ErrNotFound = errors.New("not found")
	// ErrAlreadyInProgress 页面已有进行中的工作流
	ErrAlreadyInProgress = errors.New("workflow already in progress")
	// ErrConflict 并发或过期状态上的修改,调用方需要重新获取或显式确认
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition 对终态执行操作,按空操作处理并返回警告
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidAction 任务不支持的审核动作
	ErrInvalidAction = errors.New("invalid action")
	// ErrValidation 请求参数或任务配置不合法
	ErrValidation = errors.New("validation failed")
)

// NeedsConfirmationError 覆盖已有工作流绑定前需要调用方确认
type NeedsConfirmationError struct {
	PageID                string
	ConflictingWorkflowID string
}

// Error 实现 error 接口
func (e *NeedsConfirmationError) Error() string {
	return fmt.Sprintf("page %s is bound to workflow %s, confirmation required", e.PageID, e.ConflictingWorkflowID)
}

// Is 使 errors.Is(err, ErrConflict) 成立
func (e *NeedsConfirmationError) Is(target error) bool {
	return target == ErrConflict
}

// IsNoOp 判断错误是否应当作为空操作警告处理
func IsNoOp(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
