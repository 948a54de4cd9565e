package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mautops/moderation-gin/internal/events"
	"github.com/mautops/moderation-gin/internal/model"
	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/mautops/moderation-gin/internal/repository"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// maxCancelAttempts 禁用工作流时单个运行并发冲突的重试次数
const maxCancelAttempts = 3

// WorkflowService 工作流管理服务
type WorkflowService interface {
	Create(ctx context.Context, req *SaveWorkflowRequest) (*WorkflowDetail, error)
	Update(ctx context.Context, id string, req *SaveWorkflowRequest) (*WorkflowDetail, error)
	Get(ctx context.Context, id string) (*WorkflowDetail, error)
	List(ctx context.Context, showDisabled bool) ([]*WorkflowDetail, error)
	Pages(ctx context.Context, id string, page int) (*PageList, error)
	Enable(ctx context.Context, id string) (*WorkflowDetail, error)
	Disable(ctx context.Context, id string, confirm bool) (*DisableReport, error)
	AssignToPage(ctx context.Context, pageID string, workflowID string, overwrite bool) (*AssignResult, error)
	RemoveFromPage(ctx context.Context, pageID string, workflowID string) (*AssignResult, error)
}

// SaveWorkflowRequest 创建或编辑工作流请求
// RejectionPolicy 为 any_reject_fails 或 collect_all,TaskIDs 按执行顺序排列
type SaveWorkflowRequest struct {
	Name            string   `json:"name" binding:"required,max=255"`
	RejectionPolicy string   `json:"rejection_policy"`
	TaskIDs         []string `json:"task_ids" binding:"dive,required"`
}

// DisableReport 禁用前的影响统计
type DisableReport struct {
	InProgress int64 `json:"in_progress"` // 受影响的进行中记录数量
	Applied    bool  `json:"applied"`     // 是否已执行禁用
}

// AssignResult 页面绑定变更结果
type AssignResult struct {
	PageID     string `json:"page_id"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Changed    bool   `json:"changed"`
}

// PageList 分页的页面列表
type PageList struct {
	Pages    []*PageDetail `json:"pages"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

type workflowService struct {
	*engine
}

// NewWorkflowService 创建工作流管理服务
func NewWorkflowService(deps Dependencies) WorkflowService {
	return &workflowService{engine: newEngine(deps)}
}

// Create 创建工作流
func (s *workflowService) Create(ctx context.Context, req *SaveWorkflowRequest) (*WorkflowDetail, error) {
	actor, err := s.authorize(ctx, moderation.ResourceWorkflow, moderation.CapabilityCreate)
	if err != nil {
		return nil, err
	}
	policy, err := s.rejectionPolicy(req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	wm := &model.WorkflowModel{
		ID:              uuid.New().String(),
		Name:            req.Name,
		Active:          true,
		RejectionPolicy: string(policy),
		CreatedAt:       now,
		UpdatedAt:       now,
		CreatedBy:       actor.ID,
		UpdatedBy:       actor.ID,
	}
	if err := s.save(ctx, actor, wm, req.TaskIDs, AuditActionCreate); err != nil {
		return nil, err
	}
	return s.Get(ctx, wm.ID)
}

// Update 编辑工作流名称、驳回策略与任务顺序
func (s *workflowService) Update(ctx context.Context, id string, req *SaveWorkflowRequest) (*WorkflowDetail, error) {
	actor, err := s.authorize(ctx, moderation.ResourceWorkflow, moderation.CapabilityCreate)
	if err != nil {
		return nil, err
	}
	policy, err := s.rejectionPolicy(req)
	if err != nil {
		return nil, err
	}

	wm, err := repository.NewWorkflowRepository(s.db).FindByID(id)
	if err != nil {
		return nil, notFound(err, "workflow", id)
	}
	wm.Name = req.Name
	wm.RejectionPolicy = string(policy)
	wm.UpdatedAt = s.now()
	wm.UpdatedBy = actor.ID
	if err := s.save(ctx, actor, wm, req.TaskIDs, AuditActionEdit); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *workflowService) rejectionPolicy(req *SaveWorkflowRequest) (moderation.RejectionPolicy, error) {
	if err := s.validateRequest(req); err != nil {
		return "", err
	}
	if req.RejectionPolicy == "" {
		return s.opts.DefaultRejectionPolicy, nil
	}
	return moderation.ParseRejectionPolicy(req.RejectionPolicy)
}

// save 在一个事务中保存工作流与任务顺序
// 新加入的任务必须是启用状态,已绑定的禁用任务可以保留
func (s *workflowService) save(ctx context.Context, actor moderation.Actor, wm *model.WorkflowModel, taskIDs []string, action string) error {
	seen := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		if seen[id] {
			return fmt.Errorf("%w: task %s is listed twice", moderation.ErrValidation, id)
		}
		seen[id] = true
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		workflows := repository.NewWorkflowRepository(tx)
		bound := make(map[string]bool)
		existing, err := workflows.FindTasks(wm.ID)
		if err != nil {
			return fmt.Errorf("failed to get workflow tasks: %w", err)
		}
		for _, b := range existing {
			bound[b.TaskID] = true
		}

		tasks, err := repository.NewTaskRepository(tx).FindByIDs(taskIDs)
		if err != nil {
			return fmt.Errorf("failed to get tasks: %w", err)
		}
		if len(tasks) != len(taskIDs) {
			return fmt.Errorf("%w: unknown task in task_ids", moderation.ErrValidation)
		}
		for _, tm := range tasks {
			if !tm.Active && !bound[tm.ID] {
				return fmt.Errorf("%w: task %s is disabled", moderation.ErrValidation, tm.ID)
			}
		}

		if err := wm.Validate(); err != nil {
			return fmt.Errorf("%w: %v", moderation.ErrValidation, err)
		}
		if err := workflows.Save(wm); err != nil {
			return fmt.Errorf("failed to save workflow: %w", err)
		}
		if err := workflows.ReplaceTasks(wm.ID, taskIDs); err != nil {
			return fmt.Errorf("failed to save workflow tasks: %w", err)
		}

		details := map[string]interface{}{
			"name":             wm.Name,
			"rejection_policy": wm.RejectionPolicy,
			"task_ids":         taskIDs,
		}
		return s.recordAudit(ctx, tx, actor, action, resourceWorkflow, wm.ID, details)
	})
}

// Get 获取工作流详情
func (s *workflowService) Get(ctx context.Context, id string) (*WorkflowDetail, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	wm, err := repository.NewWorkflowRepository(s.db).FindByID(id)
	if err != nil {
		return nil, notFound(err, "workflow", id)
	}
	tasks, err := orderedTasks(s.db, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow tasks: %w", err)
	}
	return toWorkflowDetail(wm, tasks), nil
}

// List 列出工作流,默认隐藏已禁用的工作流
func (s *workflowService) List(ctx context.Context, showDisabled bool) ([]*WorkflowDetail, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	workflows, err := repository.NewWorkflowRepository(s.db).FindAll(showDisabled)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	result := make([]*WorkflowDetail, 0, len(workflows))
	for _, wm := range workflows {
		tasks, err := orderedTasks(s.db, wm.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get workflow tasks: %w", err)
		}
		result = append(result, toWorkflowDetail(wm, tasks))
	}
	return result, nil
}

// Pages 分页列出使用该工作流的页面,page 从 1 开始
func (s *workflowService) Pages(ctx context.Context, id string, page int) (*PageList, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	workflows := repository.NewWorkflowRepository(s.db)
	if _, err := workflows.FindByID(id); err != nil {
		return nil, notFound(err, "workflow", id)
	}
	if page < 1 {
		page = 1
	}
	size := s.opts.PagesPerWorkflow
	pages, total, err := workflows.FindPages(id, (page-1)*size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow pages: %w", err)
	}

	list := &PageList{Pages: make([]*PageDetail, 0, len(pages)), Total: total, Page: page, PageSize: size}
	for _, pm := range pages {
		list.Pages = append(list.Pages, toPageDetail(pm, id))
	}
	return list, nil
}

// Enable 启用工作流,已启用时为空操作
func (s *workflowService) Enable(ctx context.Context, id string) (*WorkflowDetail, error) {
	actor, err := s.authorize(ctx, moderation.ResourceWorkflow, moderation.CapabilityCreate)
	if err != nil {
		return nil, err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		workflows := repository.NewWorkflowRepository(tx)
		wm, err := workflows.FindByID(id)
		if err != nil {
			return notFound(err, "workflow", id)
		}
		if wm.Active {
			return nil
		}
		wm.Active = true
		wm.UpdatedAt = s.now()
		wm.UpdatedBy = actor.ID
		if err := workflows.Save(wm); err != nil {
			return fmt.Errorf("failed to enable workflow: %w", err)
		}
		return s.recordAudit(ctx, tx, actor, AuditActionEnable, resourceWorkflow, id, nil)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Disable 禁用工作流
// confirm 为 false 时只统计进行中的运行数量;确认后在同一事务中禁用并取消所有进行中的运行
func (s *workflowService) Disable(ctx context.Context, id string, confirm bool) (*DisableReport, error) {
	actor, err := s.authorize(ctx, moderation.ResourceWorkflow, moderation.CapabilityDelete)
	if err != nil {
		return nil, err
	}
	if _, err := repository.NewWorkflowRepository(s.db).FindByID(id); err != nil {
		return nil, notFound(err, "workflow", id)
	}
	count, err := repository.NewWorkflowStateRepository(s.db).CountInProgressByWorkflow(id)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflow states: %w", err)
	}
	report := &DisableReport{InProgress: count}
	if !confirm {
		return report, nil
	}

	var evts []*events.Event
	err = s.db.Transaction(func(tx *gorm.DB) error {
		workflows := repository.NewWorkflowRepository(tx)
		wm, err := workflows.FindByIDForUpdate(id)
		if err != nil {
			return notFound(err, "workflow", id)
		}
		wm.Active = false
		wm.UpdatedAt = s.now()
		wm.UpdatedBy = actor.ID
		if err := workflows.Save(wm); err != nil {
			return fmt.Errorf("failed to disable workflow: %w", err)
		}

		inProgress, err := repository.NewWorkflowStateRepository(tx).FindInProgressByWorkflow(id)
		if err != nil {
			return fmt.Errorf("failed to get workflow states: %w", err)
		}
		for _, wsm := range inProgress {
			cancelled, err := s.cancelState(tx, wsm.ID, actor)
			if err != nil {
				return err
			}
			evts = append(evts, cancelled...)
		}
		report.InProgress = int64(len(inProgress))

		details := map[string]interface{}{"cancelled_states": len(inProgress)}
		return s.recordAudit(ctx, tx, actor, AuditActionDisable, resourceWorkflow, id, details)
	})
	if err != nil {
		return nil, err
	}
	report.Applied = true

	s.logger.WithFields(logrus.Fields{
		"workflow_id":      id,
		"cancelled_states": report.InProgress,
		"user_id":          actor.ID,
	}).Info("workflow disabled")
	s.emit(ctx, evts)
	return report, nil
}

// cancelState 取消一个运行,并发推进时重新读取后重试
func (s *workflowService) cancelState(tx *gorm.DB, stateID string, actor moderation.Actor) ([]*events.Event, error) {
	const reason = "workflow disabled"
	for attempt := 0; attempt < maxCancelAttempts; attempt++ {
		state, err := loadState(tx, stateID)
		if err != nil {
			return nil, err
		}
		expected := state.CurrentTaskStateID
		tr, ok := state.Cancel(actor, reason, s.now())
		if !ok {
			return nil, nil
		}
		evts, err := s.persistTransition(tx, state, tr, expected, false, actor, reason)
		if errors.Is(err, moderation.ErrConflict) {
			continue
		}
		return evts, err
	}
	return nil, fmt.Errorf("workflow state %s kept changing while cancelling: %w", stateID, moderation.ErrConflict)
}

// AssignToPage 将工作流绑定到页面
// 页面已绑定其他工作流或有其他工作流的进行中运行时,需要 overwrite 确认
func (s *workflowService) AssignToPage(ctx context.Context, pageID string, workflowID string, overwrite bool) (*AssignResult, error) {
	actor, err := s.authorize(ctx, moderation.ResourceWorkflow, moderation.CapabilityAddToPage)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lockPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &AssignResult{PageID: pageID, WorkflowID: workflowID}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := repository.NewPageRepository(tx).FindByIDForUpdate(pageID); err != nil {
			return notFound(err, "page", pageID)
		}
		workflows := repository.NewWorkflowRepository(tx)
		wm, err := workflows.FindByID(workflowID)
		if err != nil {
			return notFound(err, "workflow", workflowID)
		}
		if !wm.Active {
			return fmt.Errorf("%w: workflow %s is disabled", moderation.ErrValidation, workflowID)
		}

		conflicting := ""
		binding, err := workflows.FindBinding(pageID)
		switch {
		case err == nil && binding.WorkflowID == workflowID:
			return nil
		case err == nil:
			conflicting = binding.WorkflowID
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("failed to get page workflow: %w", err)
		}
		if conflicting == "" {
			running, err := repository.NewWorkflowStateRepository(tx).FindInProgressByPage(pageID)
			if err == nil && running.WorkflowID != workflowID {
				conflicting = running.WorkflowID
			} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to get workflow state: %w", err)
			}
		}
		if conflicting != "" && !overwrite {
			return &moderation.NeedsConfirmationError{PageID: pageID, ConflictingWorkflowID: conflicting}
		}

		if err := workflows.SaveBinding(&model.WorkflowPageModel{
			PageID:     pageID,
			WorkflowID: workflowID,
			CreatedAt:  s.now(),
			CreatedBy:  actor.ID,
		}); err != nil {
			return fmt.Errorf("failed to assign workflow: %w", err)
		}
		result.Changed = true

		details := map[string]interface{}{"workflow_id": workflowID, "replaced_workflow_id": conflicting}
		return s.recordAudit(ctx, tx, actor, AuditActionAddToPage, resourcePage, pageID, details)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RemoveFromPage 解除页面的工作流绑定
// workflowID 非空且与当前绑定不一致时为空操作
func (s *workflowService) RemoveFromPage(ctx context.Context, pageID string, workflowID string) (*AssignResult, error) {
	actor, err := s.authorize(ctx, moderation.ResourceWorkflow, moderation.CapabilityRemoveFromPage)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lockPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &AssignResult{PageID: pageID}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := repository.NewPageRepository(tx).FindByIDForUpdate(pageID); err != nil {
			return notFound(err, "page", pageID)
		}
		workflows := repository.NewWorkflowRepository(tx)
		binding, err := workflows.FindBinding(pageID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get page workflow: %w", err)
		}
		if workflowID != "" && binding.WorkflowID != workflowID {
			return nil
		}
		if err := workflows.DeleteBinding(pageID); err != nil {
			return fmt.Errorf("failed to remove workflow: %w", err)
		}
		result.WorkflowID = binding.WorkflowID
		result.Changed = true
		return s.recordAudit(ctx, tx, actor, AuditActionRemoveFromPage, resourcePage, pageID, map[string]string{"workflow_id": binding.WorkflowID})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
