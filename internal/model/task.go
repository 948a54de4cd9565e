package model

import (
	"errors"
	"time"
)

// TaskModel 审核任务定义数据模型
type TaskModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)"`
	Name      string    `gorm:"type:varchar(255);not null;index"`
	Type      string    `gorm:"type:varchar(64);not null"`            // 任务子类型
	Active    bool      `gorm:"not null;index"`                      // 软禁用标记
	Config    []byte    `gorm:"type:jsonb"`                          // 子类型配置
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
	CreatedBy string    `gorm:"type:varchar(64);index"` // 创建人 ID
}

// TableName 指定表名
func (TaskModel) TableName() string {
	return "tasks"
}

// Validate 验证任务模型
func (tm *TaskModel) Validate() error {
	if tm.ID == "" {
		return errors.New("task ID is required")
	}
	if tm.Name == "" {
		return errors.New("task name is required")
	}
	if tm.Type == "" {
		return errors.New("task type is required")
	}
	return nil
}
