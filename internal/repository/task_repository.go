package repository

import (
	"github.com/mautops/moderation-gin/internal/model"
	"gorm.io/gorm"
)

// TaskRepository 审核任务仓储接口
type TaskRepository interface {
	Save(task *model.TaskModel) error
	FindByID(id string) (*model.TaskModel, error)
	FindByIDs(ids []string) ([]*model.TaskModel, error)
	FindAll(showDisabled bool) ([]*model.TaskModel, error)
	CountInProgressStates(taskID string) (int64, error)
}

// taskRepository 审核任务仓储实现
type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository 创建审核任务仓储
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

// Save 保存任务
func (r *taskRepository) Save(task *model.TaskModel) error {
	return r.db.Save(task).Error
}

// FindByID 根据 ID 查找任务
func (r *taskRepository) FindByID(id string) (*model.TaskModel, error) {
	var task model.TaskModel
	if err := r.db.Where("id = ?", id).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// FindByIDs 批量查找任务
func (r *taskRepository) FindByIDs(ids []string) ([]*model.TaskModel, error) {
	var tasks []*model.TaskModel
	if len(ids) == 0 {
		return tasks, nil
	}
	err := r.db.Where("id IN ?", ids).Find(&tasks).Error
	return tasks, err
}

// FindAll 查找任务,默认隐藏已禁用的任务
func (r *taskRepository) FindAll(showDisabled bool) ([]*model.TaskModel, error) {
	var tasks []*model.TaskModel
	query := r.db.Model(&model.TaskModel{})
	if !showDisabled {
		query = query.Where("active = ?", true)
	}
	err := query.Order("name ASC").Find(&tasks).Error
	return tasks, err
}

// CountInProgressStates 统计引用该任务的进行中任务状态数量
func (r *taskRepository) CountInProgressStates(taskID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.TaskStateModel{}).
		Where("task_id = ? AND status = ?", taskID, "in_progress").
		Count(&count).Error
	return count, err
}
