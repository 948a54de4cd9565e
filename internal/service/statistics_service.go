package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/mautops/moderation-gin/internal/model"
	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/mautops/moderation-gin/internal/repository"
	"gorm.io/gorm"
)

// StatisticsService 统计服务接口
type StatisticsService interface {
	GetWorkflowStatesByStatus() ([]*StatusCount, error)
	GetTaskStatesByStatus() ([]*StatusCount, error)
	GetWorkflowStatesByWorkflow() ([]*WorkflowStatistics, error)
	GetWorkflowStatesByDay() ([]*DailyStatistics, error)
	GetModerationStatistics() (*ModerationStatistics, error)
}

// StatusCount 按状态统计
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// WorkflowStatistics 按工作流统计
type WorkflowStatistics struct {
	WorkflowID   string `json:"workflow_id"`
	WorkflowName string `json:"workflow_name"`
	Count        int64  `json:"count"`
}

// DailyStatistics 按天统计
type DailyStatistics struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// ModerationStatistics 审核结果统计
type ModerationStatistics struct {
	Finished        int64   `json:"finished"`
	ApprovedCount   int64   `json:"approved_count"`
	RejectedCount   int64   `json:"rejected_count"`
	CancelledCount  int64   `json:"cancelled_count"`
	ApprovalRate    float64 `json:"approval_rate"`
	AverageDuration float64 `json:"average_duration"` // 单位:秒
}

// statisticsService 统计服务实现
type statisticsService struct {
	db        *gorm.DB
	stateRepo repository.WorkflowStateRepository
}

// NewStatisticsService 创建统计服务
func NewStatisticsService(db *gorm.DB) StatisticsService {
	return &statisticsService{db: db, stateRepo: repository.NewWorkflowStateRepository(db)}
}

// GetWorkflowStatesByStatus 按状态统计工作流运行
func (s *statisticsService) GetWorkflowStatesByStatus() ([]*StatusCount, error) {
	counts, err := s.stateRepo.CountByStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow state statistics: %w", err)
	}
	return toStatusCounts(counts), nil
}

// GetTaskStatesByStatus 按状态统计任务状态
func (s *statisticsService) GetTaskStatesByStatus() ([]*StatusCount, error) {
	counts, err := s.stateRepo.CountTaskStatesByStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to get task state statistics: %w", err)
	}
	return toStatusCounts(counts), nil
}

// GetWorkflowStatesByWorkflow 按工作流统计运行数量
func (s *statisticsService) GetWorkflowStatesByWorkflow() ([]*WorkflowStatistics, error) {
	var results []struct {
		WorkflowID string
		Count      int64
	}
	err := s.db.Model(&model.WorkflowStateModel{}).
		Select("workflow_id, COUNT(*) as count").
		Group("workflow_id").
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow statistics: %w", err)
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.WorkflowID)
	}
	var workflows []*model.WorkflowModel
	if len(ids) > 0 {
		if err := s.db.Where("id IN ?", ids).Find(&workflows).Error; err != nil {
			return nil, fmt.Errorf("failed to get workflows: %w", err)
		}
	}
	names := make(map[string]string, len(workflows))
	for _, wm := range workflows {
		names[wm.ID] = wm.Name
	}

	stats := make([]*WorkflowStatistics, 0, len(results))
	for _, r := range results {
		stats = append(stats, &WorkflowStatistics{
			WorkflowID:   r.WorkflowID,
			WorkflowName: names[r.WorkflowID],
			Count:        r.Count,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Count > stats[j].Count })
	return stats, nil
}

// GetWorkflowStatesByDay 按启动日期统计运行数量
func (s *statisticsService) GetWorkflowStatesByDay() ([]*DailyStatistics, error) {
	var results []*DailyStatistics
	err := s.db.Model(&model.WorkflowStateModel{}).
		Select("DATE(created_at) as date, COUNT(*) as count").
		Group("DATE(created_at)").
		Order("date DESC").
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow statistics by day: %w", err)
	}
	return results, nil
}

// GetModerationStatistics 统计已结束运行的结果与平均耗时
func (s *statisticsService) GetModerationStatistics() (*ModerationStatistics, error) {
	var finished []struct {
		Status     string
		CreatedAt  time.Time
		FinishedAt time.Time
	}
	err := s.db.Model(&model.WorkflowStateModel{}).
		Select("status, created_at, finished_at").
		Where("finished_at IS NOT NULL").
		Scan(&finished).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get finished workflow states: %w", err)
	}

	stats := &ModerationStatistics{Finished: int64(len(finished))}
	var total time.Duration
	for _, f := range finished {
		switch moderation.Status(f.Status) {
		case moderation.StatusApproved:
			stats.ApprovedCount++
		case moderation.StatusRejected:
			stats.RejectedCount++
		case moderation.StatusCancelled:
			stats.CancelledCount++
		}
		total += f.FinishedAt.Sub(f.CreatedAt)
	}
	if decided := stats.ApprovedCount + stats.RejectedCount; decided > 0 {
		stats.ApprovalRate = float64(stats.ApprovedCount) / float64(decided) * 100
	}
	if stats.Finished > 0 {
		stats.AverageDuration = total.Seconds() / float64(stats.Finished)
	}
	return stats, nil
}

func toStatusCounts(counts map[string]int64) []*StatusCount {
	result := make([]*StatusCount, 0, len(counts))
	for status, count := range counts {
		result = append(result, &StatusCount{Status: status, Count: count})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Status < result[j].Status })
	return result
}
