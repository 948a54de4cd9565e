package model

import (
	"errors"
	"time"
)

// PageModel 内容页面数据模型
type PageModel struct {
	ID                    string     `gorm:"primaryKey;type:varchar(64)"`
	Title                 string     `gorm:"type:varchar(255);not null"`
	ContentType           string     `gorm:"type:varchar(128);not null;index"`
	URLPath               string     `gorm:"type:varchar(512)"`
	Live                  bool       `gorm:"not null"`
	HasUnpublishedChanges bool       `gorm:"not null"`
	LatestRevisionID      string     `gorm:"type:varchar(64)"`
	LiveRevisionID        string     `gorm:"type:varchar(64)"`
	LastPublishedAt       *time.Time `gorm:"index"`
	CreatedAt             time.Time  `gorm:"not null"`
	UpdatedAt             time.Time  `gorm:"not null"`
	CreatedBy             string     `gorm:"type:varchar(64)"`
}

// TableName 指定表名
func (PageModel) TableName() string {
	return "pages"
}

// Validate 验证页面模型
func (pm *PageModel) Validate() error {
	if pm.ID == "" {
		return errors.New("page ID is required")
	}
	if pm.Title == "" {
		return errors.New("page title is required")
	}
	if pm.ContentType == "" {
		return errors.New("content type is required")
	}
	return nil
}

// PageRevisionModel 页面修订数据模型
type PageRevisionModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)"`
	PageID    string    `gorm:"type:varchar(64);not null;index"`
	Title     string    `gorm:"type:varchar(255);not null"`
	Content   []byte    `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"not null;index"`
	CreatedBy string    `gorm:"type:varchar(64)"`
}

// TableName 指定表名
func (PageRevisionModel) TableName() string {
	return "page_revisions"
}
