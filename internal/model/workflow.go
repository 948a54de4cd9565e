package model

import (
	"errors"
	"time"
)

// WorkflowModel 工作流数据模型
type WorkflowModel struct {
	ID              string    `gorm:"primaryKey;type:varchar(64)"`
	Name            string    `gorm:"type:varchar(255);not null;index"`
	Active          bool      `gorm:"not null;index"`
	RejectionPolicy string    `gorm:"type:varchar(32);not null"`
	CreatedAt       time.Time `gorm:"not null;index"`
	UpdatedAt       time.Time `gorm:"not null"`
	CreatedBy       string    `gorm:"type:varchar(64)"`
	UpdatedBy       string    `gorm:"type:varchar(64)"`
}

// TableName 指定表名
func (WorkflowModel) TableName() string {
	return "workflows"
}

// Validate 验证工作流模型
func (wm *WorkflowModel) Validate() error {
	if wm.ID == "" {
		return errors.New("workflow ID is required")
	}
	if wm.Name == "" {
		return errors.New("workflow name is required")
	}
	if wm.RejectionPolicy == "" {
		return errors.New("rejection policy is required")
	}
	return nil
}

// WorkflowTaskModel 工作流与任务的有序绑定
type WorkflowTaskModel struct {
	ID         string `gorm:"primaryKey;type:varchar(64)"`
	WorkflowID string `gorm:"type:varchar(64);not null;index"`
	TaskID     string `gorm:"type:varchar(64);not null;index"`
	SortOrder  int    `gorm:"type:int;not null"`
}

// TableName 指定表名
func (WorkflowTaskModel) TableName() string {
	return "workflow_tasks"
}

// WorkflowPageModel 页面与工作流的绑定,每个页面至多一条
type WorkflowPageModel struct {
	PageID     string    `gorm:"primaryKey;type:varchar(64)"`
	WorkflowID string    `gorm:"type:varchar(64);not null;index"`
	CreatedAt  time.Time `gorm:"not null"`
	CreatedBy  string    `gorm:"type:varchar(64)"`
}

// TableName 指定表名
func (WorkflowPageModel) TableName() string {
	return "workflow_pages"
}
