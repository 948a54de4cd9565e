package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mautops/moderation-gin/internal/events"
	"github.com/mautops/moderation-gin/internal/metrics"
	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/mautops/moderation-gin/internal/repository"
	"github.com/mautops/moderation-gin/internal/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ModerationService 工作流运行服务
type ModerationService interface {
	StartWorkflow(ctx context.Context, pageID string) (*WorkflowStateDetail, error)
	SubmitDecision(ctx context.Context, req *SubmitDecisionRequest) (*DecisionResult, error)
	CancelWorkflow(ctx context.Context, stateID string, reason string) (*DecisionResult, error)
	GetWorkflowState(ctx context.Context, stateID string) (*WorkflowStateDetail, error)
	CurrentState(ctx context.Context, pageID string) (*WorkflowStateDetail, error)
	ListTaskStates(ctx context.Context, stateID string) ([]*TaskStateDetail, error)
}

// SubmitDecisionRequest 提交审核决定请求
type SubmitDecisionRequest struct {
	WorkflowStateID string            `json:"workflow_state_id" binding:"required"`
	TaskStateID     string            `json:"task_state_id"` // 提交时看到的当前任务状态,可选
	Action          moderation.Action `json:"action" binding:"required,oneof=approve reject skip"`
	Comment         string            `json:"comment" binding:"max=2000"`
}

// CancelWorkflowRequest 取消工作流请求
type CancelWorkflowRequest struct {
	Reason string `json:"reason" binding:"max=2000"` // 取消原因
}

// DecisionResult 提交或取消的结果,对终态的重复操作返回 NoOp 与警告
type DecisionResult struct {
	State    *WorkflowStateDetail `json:"state"`
	Decision moderation.Decision  `json:"decision,omitempty"`
	NoOp     bool                 `json:"no_op"`
	Warning  string               `json:"warning,omitempty"`
}

type moderationService struct {
	*engine
}

// NewModerationService 创建工作流运行服务
func NewModerationService(deps Dependencies) ModerationService {
	return &moderationService{engine: newEngine(deps)}
}

// StartWorkflow 在页面最新修订上启动页面绑定的工作流
func (s *moderationService) StartWorkflow(ctx context.Context, pageID string) (*WorkflowStateDetail, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lockPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result       *WorkflowStateDetail
		workflowName string
		tr           *moderation.Transition
		evts         []*events.Event
	)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		page, err := repository.NewPageRepository(tx).FindByIDForUpdate(pageID)
		if err != nil {
			return notFound(err, "page", pageID)
		}
		if page.LatestRevisionID == "" {
			return fmt.Errorf("%w: page %s has no revision", moderation.ErrValidation, pageID)
		}

		existing, err := repository.NewWorkflowStateRepository(tx).FindInProgressByPage(pageID)
		if err == nil {
			return fmt.Errorf("page %s has workflow state %s: %w", pageID, existing.ID, moderation.ErrAlreadyInProgress)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to get workflow state: %w", err)
		}

		workflows := repository.NewWorkflowRepository(tx)
		binding, err := workflows.FindBinding(pageID)
		if err != nil {
			return notFound(err, "workflow for page", pageID)
		}
		// 锁定工作流行,与并发的禁用操作串行
		if _, err := workflows.FindByIDForUpdate(binding.WorkflowID); err != nil {
			return notFound(err, "workflow", binding.WorkflowID)
		}
		wf, wm, err := loadWorkflow(tx, s.registry, binding.WorkflowID)
		if err != nil {
			return err
		}
		if !wm.Active {
			return fmt.Errorf("workflow %s of page %s is disabled: %w", wm.ID, pageID, moderation.ErrNotFound)
		}
		workflowName = wm.Name

		var state *moderation.WorkflowState
		state, tr, err = moderation.StartWorkflow(wf, toContentItem(page), actor.ID, s.now())
		if err != nil {
			return err
		}
		evts, err = s.persistTransition(tx, state, tr, "", true, actor, "")
		if err != nil {
			return err
		}

		details := map[string]interface{}{
			"workflow_id":       wf.ID,
			"workflow_state_id": state.ID,
			"revision_id":       state.RevisionID,
		}
		if err := s.recordAudit(ctx, tx, actor, AuditActionSubmitModeration, resourcePage, pageID, details); err != nil {
			return err
		}

		// 没有可用任务时直接通过并发布
		if tr.To == moderation.StatusApproved {
			evt, err := s.publishRevision(ctx, tx, state, actor)
			if err != nil {
				return err
			}
			evts = append(evts, evt)
		}
		result = toWorkflowStateDetail(state)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordWorkflowStarted(workflowName)
	if tr.Terminal() {
		metrics.RecordTransition(string(tr.From), string(tr.To))
	}
	s.logger.WithFields(logrus.Fields{
		"page_id":           pageID,
		"workflow_id":       result.WorkflowID,
		"workflow_state_id": result.ID,
		"status":            result.Status,
		"user_id":           actor.ID,
	}).Info("workflow started")
	s.emit(ctx, evts)
	return result, nil
}

// SubmitDecision 对当前任务状态提交审核决定
func (s *moderationService) SubmitDecision(ctx context.Context, req *SubmitDecisionRequest) (*DecisionResult, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	comment := utils.CleanText(req.Comment)

	wsm, err := repository.NewWorkflowStateRepository(s.db).FindByID(req.WorkflowStateID)
	if err != nil {
		return nil, notFound(err, "workflow state", req.WorkflowStateID)
	}
	unlock, err := s.lockPage(ctx, wsm.PageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result *WorkflowStateDetail
		tr     *moderation.Transition
		evts   []*events.Event
	)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		state, err := loadState(tx, req.WorkflowStateID)
		if err != nil {
			return err
		}
		if state.Status.IsTerminal() {
			return fmt.Errorf("workflow state %s is already %s: %w", state.ID, state.Status, moderation.ErrInvalidTransition)
		}

		wf, _, err := loadWorkflow(tx, s.registry, state.WorkflowID)
		if err != nil {
			return err
		}
		// 任务即使已被禁用或移出工作流,已创建的任务状态仍按原任务完成
		var task *moderation.Task
		if cur := state.Current(); cur != nil {
			tm, err := repository.NewTaskRepository(tx).FindByID(cur.TaskID)
			if err != nil {
				return notFound(err, "task", cur.TaskID)
			}
			if task, err = toTask(s.registry, tm); err != nil {
				return err
			}
		}
		page, err := repository.NewPageRepository(tx).FindByIDForUpdate(state.PageID)
		if err != nil {
			return notFound(err, "page", state.PageID)
		}

		expected := state.CurrentTaskStateID
		tr, err = state.ApplyDecision(wf, task, toContentItem(page), req.TaskStateID, moderation.Submission{
			Actor:   actor,
			Action:  req.Action,
			Comment: comment,
			At:      s.now(),
		})
		if err != nil {
			return err
		}
		evts, err = s.persistTransition(tx, state, tr, expected, false, actor, comment)
		if err != nil {
			return err
		}

		details := map[string]interface{}{
			"task_state_id": expected,
			"decision":      tr.Decision,
			"comment":       comment,
		}
		if err := s.recordAudit(ctx, tx, actor, string(req.Action), resourceWorkflowState, state.ID, details); err != nil {
			return err
		}

		if tr.Terminal() && tr.To == moderation.StatusApproved {
			evt, err := s.publishRevision(ctx, tx, state, actor)
			if err != nil {
				return err
			}
			evts = append(evts, evt)
		}
		result = toWorkflowStateDetail(state)
		return nil
	})
	if err != nil {
		if moderation.IsNoOp(err) {
			return s.noOp(req.WorkflowStateID, err)
		}
		return nil, err
	}

	metrics.RecordDecision(string(tr.Decision))
	if tr.Terminal() {
		metrics.RecordTransition(string(tr.From), string(tr.To))
	}
	s.logger.WithFields(logrus.Fields{
		"page_id":           result.PageID,
		"workflow_state_id": result.ID,
		"decision":          tr.Decision,
		"status":            result.Status,
		"user_id":           actor.ID,
	}).Info("task decision applied")
	s.emit(ctx, evts)
	return &DecisionResult{State: result, Decision: tr.Decision}, nil
}

// CancelWorkflow 取消进行中的工作流运行,已是终态时为空操作
// 发起人可以取消自己的运行,其他人需要 workflow:delete 能力
func (s *moderationService) CancelWorkflow(ctx context.Context, stateID string, reason string) (*DecisionResult, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	reason = utils.CleanText(reason)
	wsm, err := repository.NewWorkflowStateRepository(s.db).FindByID(stateID)
	if err != nil {
		return nil, notFound(err, "workflow state", stateID)
	}
	if wsm.RequestedBy != actor.ID {
		if _, err := s.authorize(ctx, moderation.ResourceWorkflow, moderation.CapabilityDelete); err != nil {
			return nil, err
		}
	}

	unlock, err := s.lockPage(ctx, wsm.PageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result *WorkflowStateDetail
		tr     *moderation.Transition
		evts   []*events.Event
	)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		state, err := loadState(tx, stateID)
		if err != nil {
			return err
		}
		expected := state.CurrentTaskStateID
		var ok bool
		tr, ok = state.Cancel(actor, reason, s.now())
		if !ok {
			return fmt.Errorf("workflow state %s is already %s: %w", state.ID, state.Status, moderation.ErrInvalidTransition)
		}
		if evts, err = s.persistTransition(tx, state, tr, expected, false, actor, reason); err != nil {
			return err
		}
		if err := s.recordAudit(ctx, tx, actor, AuditActionCancel, resourceWorkflowState, state.ID, map[string]string{"reason": reason}); err != nil {
			return err
		}
		result = toWorkflowStateDetail(state)
		return nil
	})
	if err != nil {
		if moderation.IsNoOp(err) {
			return s.noOp(stateID, err)
		}
		return nil, err
	}

	metrics.RecordTransition(string(tr.From), string(tr.To))
	s.logger.WithFields(logrus.Fields{
		"page_id":           result.PageID,
		"workflow_state_id": result.ID,
		"user_id":           actor.ID,
	}).Info("workflow cancelled")
	s.emit(ctx, evts)
	return &DecisionResult{State: result}, nil
}

// noOp 对终态的重复提交返回当前状态与警告
func (s *moderationService) noOp(stateID string, cause error) (*DecisionResult, error) {
	state, err := loadState(s.db, stateID)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("workflow_state_id", stateID).WithError(cause).Warn("ignored transition on finished workflow state")
	return &DecisionResult{
		State:   toWorkflowStateDetail(state),
		NoOp:    true,
		Warning: cause.Error(),
	}, nil
}

// GetWorkflowState 获取工作流运行详情
func (s *moderationService) GetWorkflowState(ctx context.Context, stateID string) (*WorkflowStateDetail, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	state, err := loadState(s.db, stateID)
	if err != nil {
		return nil, err
	}
	return toWorkflowStateDetail(state), nil
}

// CurrentState 获取页面进行中的工作流运行
func (s *moderationService) CurrentState(ctx context.Context, pageID string) (*WorkflowStateDetail, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	wsm, err := repository.NewWorkflowStateRepository(s.db).FindInProgressByPage(pageID)
	if err != nil {
		return nil, notFound(err, "workflow state in progress for page", pageID)
	}
	return s.GetWorkflowState(ctx, wsm.ID)
}

// ListTaskStates 按位置列出运行的任务状态
func (s *moderationService) ListTaskStates(ctx context.Context, stateID string) ([]*TaskStateDetail, error) {
	detail, err := s.GetWorkflowState(ctx, stateID)
	if err != nil {
		return nil, err
	}
	return detail.TaskStates, nil
}
