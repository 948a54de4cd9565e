package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mautops/moderation-gin/internal/model"
	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/mautops/moderation-gin/internal/repository"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TaskService 审核任务管理服务
type TaskService interface {
	Create(ctx context.Context, req *CreateTaskRequest) (*TaskDetail, error)
	Update(ctx context.Context, id string, req *UpdateTaskRequest) (*TaskDetail, error)
	Get(ctx context.Context, id string) (*TaskDetail, error)
	List(ctx context.Context, showDisabled bool) ([]*TaskDetail, error)
	Enable(ctx context.Context, id string) (*TaskDetail, error)
	Disable(ctx context.Context, id string, confirm bool) (*DisableReport, error)
	SelectType(ctx context.Context) (*moderation.TaskTypeSelection, error)
}

// CreateTaskRequest 创建任务请求
type CreateTaskRequest struct {
	Name   string          `json:"name" binding:"required,max=255"` // 任务名称
	Type   string          `json:"type" binding:"required"`         // 任务子类型,如 group_approval
	Config json.RawMessage `json:"config"`                          // 子类型配置
}

// UpdateTaskRequest 编辑任务请求,任务子类型创建后不可修改
type UpdateTaskRequest struct {
	Name   string          `json:"name" binding:"required,max=255"`
	Config json.RawMessage `json:"config"`
}

type taskService struct {
	*engine
}

// NewTaskService 创建审核任务管理服务
func NewTaskService(deps Dependencies) TaskService {
	return &taskService{engine: newEngine(deps)}
}

// Create 创建任务
func (s *taskService) Create(ctx context.Context, req *CreateTaskRequest) (*TaskDetail, error) {
	actor, err := s.authorize(ctx, moderation.ResourceTask, moderation.CapabilityCreate)
	if err != nil {
		return nil, err
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	config, err := s.normalizeConfig(req.Type, req.Config)
	if err != nil {
		return nil, err
	}

	now := s.now()
	tm := &model.TaskModel{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Type:      req.Type,
		Active:    true,
		Config:    config,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: actor.ID,
	}
	if err := s.saveTask(ctx, actor, tm, AuditActionCreate); err != nil {
		return nil, err
	}
	return toTaskDetail(tm), nil
}

// Update 编辑任务名称与配置
func (s *taskService) Update(ctx context.Context, id string, req *UpdateTaskRequest) (*TaskDetail, error) {
	actor, err := s.authorize(ctx, moderation.ResourceTask, moderation.CapabilityCreate)
	if err != nil {
		return nil, err
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	tm, err := repository.NewTaskRepository(s.db).FindByID(id)
	if err != nil {
		return nil, notFound(err, "task", id)
	}
	config, err := s.normalizeConfig(tm.Type, req.Config)
	if err != nil {
		return nil, err
	}

	tm.Name = req.Name
	tm.Config = config
	tm.UpdatedAt = s.now()
	if err := s.saveTask(ctx, actor, tm, AuditActionEdit); err != nil {
		return nil, err
	}
	return toTaskDetail(tm), nil
}

// normalizeConfig 按子类型解码校验配置并重新编码
func (s *taskService) normalizeConfig(taskType string, raw json.RawMessage) ([]byte, error) {
	spec, err := s.registry.Decode(taskType, raw)
	if err != nil {
		return nil, err
	}
	config, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task config: %w", err)
	}
	return config, nil
}

func (s *taskService) saveTask(ctx context.Context, actor moderation.Actor, tm *model.TaskModel, action string) error {
	if err := tm.Validate(); err != nil {
		return fmt.Errorf("%w: %v", moderation.ErrValidation, err)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := repository.NewTaskRepository(tx).Save(tm); err != nil {
			return fmt.Errorf("failed to save task: %w", err)
		}
		details := map[string]interface{}{"name": tm.Name, "type": tm.Type}
		return s.recordAudit(ctx, tx, actor, action, resourceTask, tm.ID, details)
	})
}

// Get 获取任务详情
func (s *taskService) Get(ctx context.Context, id string) (*TaskDetail, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	tm, err := repository.NewTaskRepository(s.db).FindByID(id)
	if err != nil {
		return nil, notFound(err, "task", id)
	}
	return toTaskDetail(tm), nil
}

// List 列出任务,默认隐藏已禁用的任务
func (s *taskService) List(ctx context.Context, showDisabled bool) ([]*TaskDetail, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	tasks, err := repository.NewTaskRepository(s.db).FindAll(showDisabled)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	result := make([]*TaskDetail, 0, len(tasks))
	for _, tm := range tasks {
		result = append(result, toTaskDetail(tm))
	}
	return result, nil
}

// Enable 启用任务,已启用时为空操作
func (s *taskService) Enable(ctx context.Context, id string) (*TaskDetail, error) {
	actor, err := s.authorize(ctx, moderation.ResourceTask, moderation.CapabilityCreate)
	if err != nil {
		return nil, err
	}
	tm, err := repository.NewTaskRepository(s.db).FindByID(id)
	if err != nil {
		return nil, notFound(err, "task", id)
	}
	if tm.Active {
		return toTaskDetail(tm), nil
	}
	tm.Active = true
	tm.UpdatedAt = s.now()
	if err := s.saveTask(ctx, actor, tm, AuditActionEnable); err != nil {
		return nil, err
	}
	return toTaskDetail(tm), nil
}

// Disable 禁用任务
// 返回引用该任务的进行中任务状态数量,这些任务状态不受影响,仍可正常完成
func (s *taskService) Disable(ctx context.Context, id string, confirm bool) (*DisableReport, error) {
	actor, err := s.authorize(ctx, moderation.ResourceTask, moderation.CapabilityDelete)
	if err != nil {
		return nil, err
	}
	tasks := repository.NewTaskRepository(s.db)
	tm, err := tasks.FindByID(id)
	if err != nil {
		return nil, notFound(err, "task", id)
	}
	count, err := tasks.CountInProgressStates(id)
	if err != nil {
		return nil, fmt.Errorf("failed to count task states: %w", err)
	}
	report := &DisableReport{InProgress: count}
	if !confirm {
		return report, nil
	}

	if tm.Active {
		tm.Active = false
		tm.UpdatedAt = s.now()
		if err := s.saveTask(ctx, actor, tm, AuditActionDisable); err != nil {
			return nil, err
		}
		s.logger.WithFields(logrus.Fields{
			"task_id":     id,
			"in_progress": count,
			"user_id":     actor.ID,
		}).Info("task disabled")
	}
	report.Applied = true
	return report, nil
}

// SelectType 选择任务子类型,只有一个子类型时直接返回该类型
func (s *taskService) SelectType(ctx context.Context) (*moderation.TaskTypeSelection, error) {
	if _, err := s.authorize(ctx, moderation.ResourceTask, moderation.CapabilityCreate); err != nil {
		return nil, err
	}
	selection := s.registry.Select()
	return &selection, nil
}
