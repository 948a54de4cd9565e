package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/mautops/moderation-gin/internal/model"
	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/mautops/moderation-gin/internal/repository"
	"github.com/mautops/moderation-gin/internal/utils"
	"gorm.io/gorm"
)

var workflowStateSortFields = []string{"created_at", "updated_at", "finished_at", "status", "page_id", "workflow_id"}

// QueryService 查询服务接口
type QueryService interface {
	ListWorkflowStates(filter *ListWorkflowStatesFilter) ([]*WorkflowStateDetail, int64, error)
	GetHistory(entityID string) ([]*StateHistory, error)
	GetPageHistory(pageID string) ([]*StateHistory, error)
}

// ListWorkflowStatesFilter 工作流运行列表查询过滤器
type ListWorkflowStatesFilter struct {
	Status      *string
	WorkflowID  *string
	PageID      *string
	RequestedBy *string
	StartTime   *time.Time
	EndTime     *time.Time
	Page        int
	PageSize    int
	SortBy      string
	Order       string
}

// StateHistory 状态历史
type StateHistory struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	PageID     string    `json:"page_id"`
	FromState  string    `json:"from_state,omitempty"`
	ToState    string    `json:"to_state"`
	Reason     string    `json:"reason,omitempty"`
	Operator   string    `json:"operator"`
	CreatedAt  time.Time `json:"created_at"`
}

// queryService 查询服务实现
type queryService struct {
	stateRepo   repository.WorkflowStateRepository
	historyRepo repository.StateHistoryRepository
}

// NewQueryService 创建查询服务
func NewQueryService(db *gorm.DB) QueryService {
	return &queryService{
		stateRepo:   repository.NewWorkflowStateRepository(db),
		historyRepo: repository.NewStateHistoryRepository(db),
	}
}

// ListWorkflowStates 列出工作流运行
func (s *queryService) ListWorkflowStates(filter *ListWorkflowStatesFilter) ([]*WorkflowStateDetail, int64, error) {
	if filter.Status != nil {
		switch moderation.Status(*filter.Status) {
		case moderation.StatusInProgress, moderation.StatusApproved, moderation.StatusRejected, moderation.StatusCancelled:
		default:
			return nil, 0, fmt.Errorf("%w: unknown status %q", moderation.ErrValidation, *filter.Status)
		}
	}

	// 排序字段拼接进 SQL,只允许白名单列
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	if err := utils.ValidateSortField(sortBy, workflowStateSortFields...); err != nil {
		return nil, 0, fmt.Errorf("%w: invalid sort field: %v", moderation.ErrValidation, err)
	}
	order := filter.Order
	if order == "" {
		order = "desc"
	}
	if err := utils.ValidateSortOrder(order); err != nil {
		return nil, 0, fmt.Errorf("%w: invalid sort order: %v", moderation.ErrValidation, err)
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	models, total, err := s.stateRepo.FindByFilter(&repository.WorkflowStateFilter{
		Status:      filter.Status,
		WorkflowID:  filter.WorkflowID,
		PageID:      filter.PageID,
		RequestedBy: filter.RequestedBy,
		StartTime:   filter.StartTime,
		EndTime:     filter.EndTime,
		Offset:      (page - 1) * pageSize,
		Limit:       pageSize,
		OrderBy:     fmt.Sprintf("%s %s", sortBy, strings.ToUpper(order)),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query workflow states: %w", err)
	}

	// 列表不加载任务状态,避免 N+1 查询
	states := make([]*WorkflowStateDetail, 0, len(models))
	for _, m := range models {
		state, err := toWorkflowState(m, nil)
		if err != nil {
			return nil, 0, err
		}
		states = append(states, toWorkflowStateDetail(state))
	}
	return states, total, nil
}

// GetHistory 获取工作流运行或任务状态的变更历史
func (s *queryService) GetHistory(entityID string) ([]*StateHistory, error) {
	models, err := s.historyRepo.FindByEntityID(entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return toStateHistories(models), nil
}

// GetPageHistory 获取页面上所有工作流运行的变更历史
func (s *queryService) GetPageHistory(pageID string) ([]*StateHistory, error) {
	models, err := s.historyRepo.FindByPageID(pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get page history: %w", err)
	}
	return toStateHistories(models), nil
}

func toStateHistories(models []*model.StateHistoryModel) []*StateHistory {
	histories := make([]*StateHistory, 0, len(models))
	for _, m := range models {
		histories = append(histories, &StateHistory{
			ID:         m.ID,
			EntityType: m.EntityType,
			EntityID:   m.EntityID,
			PageID:     m.PageID,
			FromState:  m.FromState,
			ToState:    m.ToState,
			Reason:     m.Reason,
			Operator:   m.Operator,
			CreatedAt:  m.CreatedAt,
		})
	}
	return histories
}
