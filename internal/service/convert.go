package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mautops/moderation-gin/internal/model"
	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/mautops/moderation-gin/internal/repository"
	"gorm.io/gorm"
)

// WorkflowDetail 工作流详情
type WorkflowDetail struct {
	ID              string                     `json:"id"`
	Name            string                     `json:"name"`
	Active          bool                       `json:"active"`
	RejectionPolicy moderation.RejectionPolicy `json:"rejection_policy"`
	Tasks           []*TaskDetail              `json:"tasks"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
	CreatedBy       string                     `json:"created_by"`
}

// TaskDetail 任务详情
type TaskDetail struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Active    bool            `json:"active"`
	Config    json.RawMessage `json:"config,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WorkflowStateDetail 工作流运行详情
type WorkflowStateDetail struct {
	ID                 string             `json:"id"`
	WorkflowID         string             `json:"workflow_id"`
	PageID             string             `json:"page_id"`
	RevisionID         string             `json:"revision_id"`
	Status             moderation.Status  `json:"status"`
	CurrentTaskStateID string             `json:"current_task_state_id,omitempty"`
	RequestedBy        string             `json:"requested_by"`
	CreatedAt          time.Time          `json:"created_at"`
	FinishedAt         *time.Time         `json:"finished_at,omitempty"`
	TaskStates         []*TaskStateDetail `json:"task_states,omitempty"`
}

// TaskStateDetail 任务状态详情
type TaskStateDetail struct {
	ID         string            `json:"id"`
	TaskID     string            `json:"task_id"`
	Position   int               `json:"position"`
	Status     moderation.Status `json:"status"`
	Kind       string            `json:"kind"`
	RevisionID string            `json:"revision_id"`
	Approvals  []string          `json:"approvals,omitempty"`
	FinishedBy string            `json:"finished_by,omitempty"`
	Comment    string            `json:"comment,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// PageDetail 页面详情
type PageDetail struct {
	ID                    string     `json:"id"`
	Title                 string     `json:"title"`
	ContentType           string     `json:"content_type"`
	URLPath               string     `json:"url_path"`
	Live                  bool       `json:"live"`
	HasUnpublishedChanges bool       `json:"has_unpublished_changes"`
	LatestRevisionID      string     `json:"latest_revision_id"`
	LiveRevisionID        string     `json:"live_revision_id,omitempty"`
	LastPublishedAt       *time.Time `json:"last_published_at,omitempty"`
	WorkflowID            string     `json:"workflow_id,omitempty"`
}

// notFound 将 gorm 的未找到错误映射为 ErrNotFound
func notFound(err error, what string, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, moderation.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func toWorkflowDetail(wm *model.WorkflowModel, tasks []*model.TaskModel) *WorkflowDetail {
	detail := &WorkflowDetail{
		ID:              wm.ID,
		Name:            wm.Name,
		Active:          wm.Active,
		RejectionPolicy: moderation.RejectionPolicy(wm.RejectionPolicy),
		Tasks:           make([]*TaskDetail, 0, len(tasks)),
		CreatedAt:       wm.CreatedAt,
		UpdatedAt:       wm.UpdatedAt,
		CreatedBy:       wm.CreatedBy,
	}
	for _, tm := range tasks {
		detail.Tasks = append(detail.Tasks, toTaskDetail(tm))
	}
	return detail
}

func toTaskDetail(tm *model.TaskModel) *TaskDetail {
	detail := &TaskDetail{
		ID:        tm.ID,
		Name:      tm.Name,
		Type:      tm.Type,
		Active:    tm.Active,
		CreatedAt: tm.CreatedAt,
		UpdatedAt: tm.UpdatedAt,
	}
	if len(tm.Config) > 0 {
		detail.Config = json.RawMessage(tm.Config)
	}
	return detail
}

func toPageDetail(pm *model.PageModel, workflowID string) *PageDetail {
	return &PageDetail{
		ID:                    pm.ID,
		Title:                 pm.Title,
		ContentType:           pm.ContentType,
		URLPath:               pm.URLPath,
		Live:                  pm.Live,
		HasUnpublishedChanges: pm.HasUnpublishedChanges,
		LatestRevisionID:      pm.LatestRevisionID,
		LiveRevisionID:        pm.LiveRevisionID,
		LastPublishedAt:       pm.LastPublishedAt,
		WorkflowID:            workflowID,
	}
}

func toContentItem(pm *model.PageModel) *moderation.ContentItem {
	return &moderation.ContentItem{
		ID:               pm.ID,
		Title:            pm.Title,
		ContentType:      pm.ContentType,
		LatestRevisionID: pm.LatestRevisionID,
		LiveRevisionID:   pm.LiveRevisionID,
		Live:             pm.Live,
		LastPublishedAt:  pm.LastPublishedAt,
	}
}

// toTask 将任务记录解码为领域任务
func toTask(registry *moderation.Registry, tm *model.TaskModel) (*moderation.Task, error) {
	spec, err := registry.Decode(tm.Type, tm.Config)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", tm.ID, err)
	}
	return &moderation.Task{
		ID:     tm.ID,
		Name:   tm.Name,
		Type:   tm.Type,
		Active: tm.Active,
		Spec:   spec,
	}, nil
}

// taskBindings 读取工作流的任务绑定及对应的任务记录
func taskBindings(tx *gorm.DB, workflowID string) ([]*model.WorkflowTaskModel, map[string]*model.TaskModel, error) {
	bindings, err := repository.NewWorkflowRepository(tx).FindTasks(workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get workflow tasks: %w", err)
	}
	ids := make([]string, 0, len(bindings))
	for _, b := range bindings {
		ids = append(ids, b.TaskID)
	}
	taskModels, err := repository.NewTaskRepository(tx).FindByIDs(ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get tasks: %w", err)
	}
	byID := make(map[string]*model.TaskModel, len(taskModels))
	for _, tm := range taskModels {
		byID[tm.ID] = tm
	}
	return bindings, byID, nil
}

// loadWorkflow 读取工作流及其有序任务
func loadWorkflow(tx *gorm.DB, registry *moderation.Registry, id string) (*moderation.Workflow, *model.WorkflowModel, error) {
	wm, err := repository.NewWorkflowRepository(tx).FindByID(id)
	if err != nil {
		return nil, nil, notFound(err, "workflow", id)
	}
	bindings, byID, err := taskBindings(tx, id)
	if err != nil {
		return nil, nil, err
	}

	wf := &moderation.Workflow{
		ID:              wm.ID,
		Name:            wm.Name,
		Active:          wm.Active,
		RejectionPolicy: moderation.RejectionPolicy(wm.RejectionPolicy),
		Tasks:           make([]moderation.TaskBinding, 0, len(bindings)),
	}
	for _, b := range bindings {
		tm, ok := byID[b.TaskID]
		if !ok {
			continue
		}
		task, err := toTask(registry, tm)
		if err != nil {
			return nil, nil, err
		}
		wf.Tasks = append(wf.Tasks, moderation.TaskBinding{Position: b.SortOrder, Task: task})
	}
	return wf, wm, nil
}

// orderedTasks 按绑定顺序返回工作流的任务记录
func orderedTasks(tx *gorm.DB, workflowID string) ([]*model.TaskModel, error) {
	bindings, byID, err := taskBindings(tx, workflowID)
	if err != nil {
		return nil, err
	}
	ordered := make([]*model.TaskModel, 0, len(bindings))
	for _, b := range bindings {
		if tm, ok := byID[b.TaskID]; ok {
			ordered = append(ordered, tm)
		}
	}
	return ordered, nil
}

func toWorkflowState(wm *model.WorkflowStateModel, taskStates []*model.TaskStateModel) (*moderation.WorkflowState, error) {
	state := &moderation.WorkflowState{
		ID:                 wm.ID,
		WorkflowID:         wm.WorkflowID,
		PageID:             wm.PageID,
		RevisionID:         wm.RevisionID,
		Status:             moderation.Status(wm.Status),
		CurrentTaskStateID: wm.CurrentTaskStateID,
		RequestedBy:        wm.RequestedBy,
		CreatedAt:          wm.CreatedAt,
		FinishedAt:         wm.FinishedAt,
		TaskStates:         make([]*moderation.TaskState, 0, len(taskStates)),
	}
	for _, tsm := range taskStates {
		ts, err := toTaskState(tsm)
		if err != nil {
			return nil, err
		}
		state.TaskStates = append(state.TaskStates, ts)
	}
	return state, nil
}

func toTaskState(m *model.TaskStateModel) (*moderation.TaskState, error) {
	ts := &moderation.TaskState{
		ID:              m.ID,
		WorkflowStateID: m.WorkflowStateID,
		TaskID:          m.TaskID,
		Position:        m.Position,
		Status:          moderation.Status(m.Status),
		Kind:            m.Kind,
		RevisionID:      m.RevisionID,
		FinishedBy:      m.FinishedBy,
		Comment:         m.Comment,
		StartedAt:       m.StartedAt,
		FinishedAt:      m.FinishedAt,
	}
	if len(m.Approvals) > 0 {
		if err := json.Unmarshal(m.Approvals, &ts.Approvals); err != nil {
			return nil, fmt.Errorf("failed to decode approvals of task state %s: %w", m.ID, err)
		}
	}
	return ts, nil
}

func fromWorkflowState(s *moderation.WorkflowState, updatedAt time.Time) *model.WorkflowStateModel {
	return &model.WorkflowStateModel{
		ID:                 s.ID,
		WorkflowID:         s.WorkflowID,
		PageID:             s.PageID,
		RevisionID:         s.RevisionID,
		Status:             string(s.Status),
		CurrentTaskStateID: s.CurrentTaskStateID,
		RequestedBy:        s.RequestedBy,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          updatedAt,
		FinishedAt:         s.FinishedAt,
	}
}

func fromTaskState(ts *moderation.TaskState) (*model.TaskStateModel, error) {
	m := &model.TaskStateModel{
		ID:              ts.ID,
		WorkflowStateID: ts.WorkflowStateID,
		TaskID:          ts.TaskID,
		Position:        ts.Position,
		Status:          string(ts.Status),
		Kind:            ts.Kind,
		RevisionID:      ts.RevisionID,
		FinishedBy:      ts.FinishedBy,
		Comment:         ts.Comment,
		StartedAt:       ts.StartedAt,
		FinishedAt:      ts.FinishedAt,
	}
	if len(ts.Approvals) > 0 {
		approvals, err := json.Marshal(ts.Approvals)
		if err != nil {
			return nil, err
		}
		m.Approvals = approvals
	}
	return m, nil
}

func toWorkflowStateDetail(s *moderation.WorkflowState) *WorkflowStateDetail {
	detail := &WorkflowStateDetail{
		ID:                 s.ID,
		WorkflowID:         s.WorkflowID,
		PageID:             s.PageID,
		RevisionID:         s.RevisionID,
		Status:             s.Status,
		CurrentTaskStateID: s.CurrentTaskStateID,
		RequestedBy:        s.RequestedBy,
		CreatedAt:          s.CreatedAt,
		FinishedAt:         s.FinishedAt,
		TaskStates:         make([]*TaskStateDetail, 0, len(s.TaskStates)),
	}
	for _, ts := range s.TaskStates {
		detail.TaskStates = append(detail.TaskStates, toTaskStateDetail(ts))
	}
	return detail
}

func toTaskStateDetail(ts *moderation.TaskState) *TaskStateDetail {
	return &TaskStateDetail{
		ID:         ts.ID,
		TaskID:     ts.TaskID,
		Position:   ts.Position,
		Status:     ts.Status,
		Kind:       ts.Kind,
		RevisionID: ts.RevisionID,
		Approvals:  ts.Approvals,
		FinishedBy: ts.FinishedBy,
		Comment:    ts.Comment,
		StartedAt:  ts.StartedAt,
		FinishedAt: ts.FinishedAt,
	}
}
