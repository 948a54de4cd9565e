package model

import (
	"errors"
	"time"
)

// EventModel 审核事件推送记录
type EventModel struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)"`
	PageID     string    `gorm:"type:varchar(64);not null;index"`
	Type       string    `gorm:"type:varchar(64);not null;index"`
	Data       []byte    `gorm:"type:jsonb;not null"`                        // 序列化后的事件数据
	Status     string    `gorm:"type:varchar(32);not null;default:'pending'"` // pending/success/failed
	RetryCount int       `gorm:"type:int;default:0"`
	CreatedAt  time.Time `gorm:"not null;index"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// TableName 指定表名
func (EventModel) TableName() string {
	return "events"
}

// Validate 验证事件模型
func (em *EventModel) Validate() error {
	if em.ID == "" {
		return errors.New("event ID is required")
	}
	if em.PageID == "" {
		return errors.New("page ID is required")
	}
	if em.Type == "" {
		return errors.New("event type is required")
	}
	if len(em.Data) == 0 {
		return errors.New("event data is required")
	}
	if em.Status == "" {
		em.Status = "pending"
	}
	return nil
}
