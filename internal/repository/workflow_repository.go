package repository

import (
	"github.com/google/uuid"
	"github.com/mautops/moderation-gin/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkflowRepository 工作流仓储接口
type WorkflowRepository interface {
	Save(workflow *model.WorkflowModel) error
	FindByID(id string) (*model.WorkflowModel, error)
	FindByIDForUpdate(id string) (*model.WorkflowModel, error)
	FindAll(showDisabled bool) ([]*model.WorkflowModel, error)
	FindTasks(workflowID string) ([]*model.WorkflowTaskModel, error)
	ReplaceTasks(workflowID string, taskIDs []string) error
	FindBinding(pageID string) (*model.WorkflowPageModel, error)
	SaveBinding(binding *model.WorkflowPageModel) error
	DeleteBinding(pageID string) error
	FindPages(workflowID string, offset, limit int) ([]*model.PageModel, int64, error)
}

// workflowRepository 工作流仓储实现
type workflowRepository struct {
	db *gorm.DB
}

// NewWorkflowRepository 创建工作流仓储
func NewWorkflowRepository(db *gorm.DB) WorkflowRepository {
	return &workflowRepository{db: db}
}

// Save 保存工作流
func (r *workflowRepository) Save(workflow *model.WorkflowModel) error {
	return r.db.Save(workflow).Error
}

// FindByID 根据 ID 查找工作流
func (r *workflowRepository) FindByID(id string) (*model.WorkflowModel, error) {
	var workflow model.WorkflowModel
	if err := r.db.Where("id = ?", id).First(&workflow).Error; err != nil {
		return nil, err
	}
	return &workflow, nil
}

// FindByIDForUpdate 在事务中锁定工作流行,启动与禁用因此互斥
func (r *workflowRepository) FindByIDForUpdate(id string) (*model.WorkflowModel, error) {
	query := r.db
	if name := r.db.Dialector.Name(); name != "sqlite" && name != "sqlite3" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var workflow model.WorkflowModel
	if err := query.Where("id = ?", id).First(&workflow).Error; err != nil {
		return nil, err
	}
	return &workflow, nil
}

// FindAll 查找工作流,默认隐藏已禁用的工作流
func (r *workflowRepository) FindAll(showDisabled bool) ([]*model.WorkflowModel, error) {
	var workflows []*model.WorkflowModel
	query := r.db.Model(&model.WorkflowModel{})
	if !showDisabled {
		query = query.Where("active = ?", true)
	}
	err := query.Order("name ASC").Find(&workflows).Error
	return workflows, err
}

// FindTasks 按顺序查找工作流的任务绑定
func (r *workflowRepository) FindTasks(workflowID string) ([]*model.WorkflowTaskModel, error) {
	var bindings []*model.WorkflowTaskModel
	err := r.db.Where("workflow_id = ?", workflowID).Order("sort_order ASC").Find(&bindings).Error
	return bindings, err
}

// ReplaceTasks 用给定顺序替换工作流的任务列表
func (r *workflowRepository) ReplaceTasks(workflowID string, taskIDs []string) error {
	if err := r.db.Where("workflow_id = ?", workflowID).Delete(&model.WorkflowTaskModel{}).Error; err != nil {
		return err
	}
	for i, taskID := range taskIDs {
		binding := &model.WorkflowTaskModel{
			ID:         uuid.New().String(),
			WorkflowID: workflowID,
			TaskID:     taskID,
			SortOrder:  i,
		}
		if err := r.db.Create(binding).Error; err != nil {
			return err
		}
	}
	return nil
}

// FindBinding 查找页面绑定的工作流
func (r *workflowRepository) FindBinding(pageID string) (*model.WorkflowPageModel, error) {
	var binding model.WorkflowPageModel
	if err := r.db.Where("page_id = ?", pageID).First(&binding).Error; err != nil {
		return nil, err
	}
	return &binding, nil
}

// SaveBinding 保存页面绑定,同一页面的旧绑定被替换
func (r *workflowRepository) SaveBinding(binding *model.WorkflowPageModel) error {
	return r.db.Save(binding).Error
}

// DeleteBinding 删除页面绑定
func (r *workflowRepository) DeleteBinding(pageID string) error {
	return r.db.Where("page_id = ?", pageID).Delete(&model.WorkflowPageModel{}).Error
}

// FindPages 分页查找使用该工作流的页面
func (r *workflowRepository) FindPages(workflowID string, offset, limit int) ([]*model.PageModel, int64, error) {
	var total int64
	bound := r.db.Model(&model.WorkflowPageModel{}).Select("page_id").Where("workflow_id = ?", workflowID)
	query := r.db.Model(&model.PageModel{}).Where("id IN (?)", bound)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var pages []*model.PageModel
	err := query.Order("title ASC").Offset(offset).Limit(limit).Find(&pages).Error
	return pages, total, err
}
