package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AuditLogModel 审计日志数据模型
type AuditLogModel struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)"`
	UserID       string    `gorm:"type:varchar(64);not null;index"`
	Username     string    `gorm:"type:varchar(255)"`
	Action       string    `gorm:"type:varchar(64);not null;index"` // publish/approve/reject/cancel/...
	ResourceType string    `gorm:"type:varchar(32);not null"`       // page/workflow/task/workflow_state
	ResourceID   string    `gorm:"type:varchar(64);not null;index"`
	RequestID    string    `gorm:"type:varchar(64);index"`
	IP           string    `gorm:"type:varchar(45)"` // IPv4 或 IPv6
	UserAgent    string    `gorm:"type:text"`
	Details      []byte    `gorm:"type:jsonb"` // 操作详情
	CreatedAt    time.Time `gorm:"not null;index"`
}

// TableName 指定表名
func (AuditLogModel) TableName() string {
	return "audit_logs"
}

// auditResourceTypes 审计日志覆盖的资源类别
var auditResourceTypes = map[string]bool{
	"page":           true,
	"workflow":       true,
	"task":           true,
	"workflow_state": true,
}

// Validate 验证审计日志模型
func (alm *AuditLogModel) Validate() error {
	switch {
	case alm.ID == "":
		return errors.New("audit log ID is required")
	case alm.UserID == "":
		return errors.New("user ID is required")
	case alm.Action == "":
		return errors.New("action is required")
	case alm.ResourceID == "":
		return errors.New("resource ID is required")
	}
	if !auditResourceTypes[alm.ResourceType] {
		return fmt.Errorf("unknown audit resource type %q", alm.ResourceType)
	}
	if len(alm.Details) > 0 && !json.Valid(alm.Details) {
		return errors.New("audit details must be valid JSON")
	}
	return nil
}
