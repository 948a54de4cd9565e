package model

import (
	"errors"
	"time"
)

// WorkflowStateModel 工作流运行数据模型
type WorkflowStateModel struct {
	ID                 string     `gorm:"primaryKey;type:varchar(64)"`
	WorkflowID         string     `gorm:"type:varchar(64);not null;index"`
	PageID             string     `gorm:"type:varchar(64);not null;index"`
	RevisionID         string     `gorm:"type:varchar(64);not null"`
	Status             string     `gorm:"type:varchar(32);not null;index"`
	CurrentTaskStateID string     `gorm:"type:varchar(64)"`
	RequestedBy        string     `gorm:"type:varchar(64);not null"`
	CreatedAt          time.Time  `gorm:"not null;index"`
	UpdatedAt          time.Time  `gorm:"not null"`
	FinishedAt         *time.Time `gorm:"index"`
}

// TableName 指定表名
func (WorkflowStateModel) TableName() string {
	return "workflow_states"
}

// Validate 验证工作流运行模型
func (m *WorkflowStateModel) Validate() error {
	if m.ID == "" {
		return errors.New("workflow state ID is required")
	}
	if m.WorkflowID == "" {
		return errors.New("workflow ID is required")
	}
	if m.PageID == "" {
		return errors.New("page ID is required")
	}
	if m.Status == "" {
		return errors.New("status is required")
	}
	return nil
}

// TaskStateModel 任务执行记录数据模型
type TaskStateModel struct {
	ID              string     `gorm:"primaryKey;type:varchar(64)"`
	WorkflowStateID string     `gorm:"type:varchar(64);not null;index"`
	TaskID          string     `gorm:"type:varchar(64);not null;index"`
	Position        int        `gorm:"type:int;not null"`
	Status          string     `gorm:"type:varchar(32);not null;index"`
	Kind            string     `gorm:"type:varchar(64);not null"`
	RevisionID      string     `gorm:"type:varchar(64);not null"`
	Approvals       []byte     `gorm:"type:jsonb"` // 已记录的部分审批人
	FinishedBy      string     `gorm:"type:varchar(64)"`
	Comment         string     `gorm:"type:text"`
	StartedAt       time.Time  `gorm:"not null"`
	FinishedAt      *time.Time
}

// TableName 指定表名
func (TaskStateModel) TableName() string {
	return "task_states"
}

// Validate 验证任务执行记录模型
func (m *TaskStateModel) Validate() error {
	if m.ID == "" {
		return errors.New("task state ID is required")
	}
	if m.WorkflowStateID == "" {
		return errors.New("workflow state ID is required")
	}
	if m.TaskID == "" {
		return errors.New("task ID is required")
	}
	if m.Status == "" {
		return errors.New("status is required")
	}
	return nil
}
