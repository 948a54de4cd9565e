package repository

import (
	"time"

	"github.com/mautops/moderation-gin/internal/model"
	"gorm.io/gorm"
)

const statusInProgress = "in_progress"

// WorkflowStateRepository 工作流运行仓储接口
type WorkflowStateRepository interface {
	Create(state *model.WorkflowStateModel) error
	UpdateIfCurrent(state *model.WorkflowStateModel, expectedTaskStateID string) (bool, error)
	FindByID(id string) (*model.WorkflowStateModel, error)
	FindInProgressByPage(pageID string) (*model.WorkflowStateModel, error)
	FindInProgressByWorkflow(workflowID string) ([]*model.WorkflowStateModel, error)
	CountInProgressByWorkflow(workflowID string) (int64, error)
	FindByFilter(filter *WorkflowStateFilter) ([]*model.WorkflowStateModel, int64, error)
	CountByStatus() (map[string]int64, error)

	SaveTaskState(state *model.TaskStateModel) error
	FindTaskStates(workflowStateID string) ([]*model.TaskStateModel, error)
	FindInProgressPageIDs() (map[string]bool, error)
	CountTaskStatesByStatus() (map[string]int64, error)
}

// WorkflowStateFilter 工作流运行查询过滤器
type WorkflowStateFilter struct {
	Status      *string
	WorkflowID  *string
	PageID      *string
	RequestedBy *string
	StartTime   *time.Time
	EndTime     *time.Time
	Offset      int
	Limit       int
	OrderBy     string
}

// workflowStateRepository 工作流运行仓储实现
type workflowStateRepository struct {
	db *gorm.DB
}

// NewWorkflowStateRepository 创建工作流运行仓储
func NewWorkflowStateRepository(db *gorm.DB) WorkflowStateRepository {
	return &workflowStateRepository{db: db}
}

// Create 创建工作流运行
func (r *workflowStateRepository) Create(state *model.WorkflowStateModel) error {
	return r.db.Create(state).Error
}

// UpdateIfCurrent 仅当当前任务状态未被并发修改时更新
func (r *workflowStateRepository) UpdateIfCurrent(state *model.WorkflowStateModel, expectedTaskStateID string) (bool, error) {
	result := r.db.Model(&model.WorkflowStateModel{}).
		Where("id = ? AND status = ? AND current_task_state_id = ?", state.ID, statusInProgress, expectedTaskStateID).
		Updates(map[string]interface{}{
			"status":                state.Status,
			"current_task_state_id": state.CurrentTaskStateID,
			"finished_at":           state.FinishedAt,
			"updated_at":            state.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FindByID 根据 ID 查找工作流运行
func (r *workflowStateRepository) FindByID(id string) (*model.WorkflowStateModel, error) {
	var state model.WorkflowStateModel
	if err := r.db.Where("id = ?", id).First(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

// FindInProgressByPage 查找页面进行中的工作流运行
func (r *workflowStateRepository) FindInProgressByPage(pageID string) (*model.WorkflowStateModel, error) {
	var state model.WorkflowStateModel
	if err := r.db.Where("page_id = ? AND status = ?", pageID, statusInProgress).First(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

// FindInProgressByWorkflow 查找工作流所有进行中的运行
func (r *workflowStateRepository) FindInProgressByWorkflow(workflowID string) ([]*model.WorkflowStateModel, error) {
	var states []*model.WorkflowStateModel
	err := r.db.Where("workflow_id = ? AND status = ?", workflowID, statusInProgress).
		Order("created_at ASC").
		Find(&states).Error
	return states, err
}

// CountInProgressByWorkflow 统计工作流进行中的运行数量
func (r *workflowStateRepository) CountInProgressByWorkflow(workflowID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.WorkflowStateModel{}).
		Where("workflow_id = ? AND status = ?", workflowID, statusInProgress).
		Count(&count).Error
	return count, err
}

// FindByFilter 按条件分页查询工作流运行
func (r *workflowStateRepository) FindByFilter(filter *WorkflowStateFilter) ([]*model.WorkflowStateModel, int64, error) {
	query := r.db.Model(&model.WorkflowStateModel{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.WorkflowID != nil {
		query = query.Where("workflow_id = ?", *filter.WorkflowID)
	}
	if filter.PageID != nil {
		query = query.Where("page_id = ?", *filter.PageID)
	}
	if filter.RequestedBy != nil {
		query = query.Where("requested_by = ?", *filter.RequestedBy)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", *filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", *filter.EndTime)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.OrderBy != "" {
		query = query.Order(filter.OrderBy)
	}
	if filter.Limit > 0 {
		query = query.Offset(filter.Offset).Limit(filter.Limit)
	}

	var states []*model.WorkflowStateModel
	err := query.Find(&states).Error
	return states, total, err
}

// CountByStatus 按状态统计工作流运行
func (r *workflowStateRepository) CountByStatus() (map[string]int64, error) {
	return countByStatus(r.db.Model(&model.WorkflowStateModel{}))
}

// SaveTaskState 保存任务状态
func (r *workflowStateRepository) SaveTaskState(state *model.TaskStateModel) error {
	return r.db.Save(state).Error
}

// FindTaskStates 按位置查找运行的任务状态
func (r *workflowStateRepository) FindTaskStates(workflowStateID string) ([]*model.TaskStateModel, error) {
	var states []*model.TaskStateModel
	err := r.db.Where("workflow_state_id = ?", workflowStateID).
		Order("position ASC, started_at ASC").
		Find(&states).Error
	return states, err
}

// FindInProgressPageIDs 返回有进行中工作流的页面集合
func (r *workflowStateRepository) FindInProgressPageIDs() (map[string]bool, error) {
	var pageIDs []string
	if err := r.db.Model(&model.WorkflowStateModel{}).
		Where("status = ?", statusInProgress).
		Pluck("page_id", &pageIDs).Error; err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(pageIDs))
	for _, id := range pageIDs {
		result[id] = true
	}
	return result, nil
}

// CountTaskStatesByStatus 按状态统计任务状态
func (r *workflowStateRepository) CountTaskStatesByStatus() (map[string]int64, error) {
	return countByStatus(r.db.Model(&model.TaskStateModel{}))
}

type statusCount struct {
	Status string
	Count  int64
}

func countByStatus(query *gorm.DB) (map[string]int64, error) {
	var rows []statusCount
	if err := query.Select("status, COUNT(*) as count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
