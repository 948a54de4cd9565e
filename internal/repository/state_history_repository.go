package repository

import (
	"github.com/mautops/moderation-gin/internal/model"
	"gorm.io/gorm"
)

// StateHistoryRepository 状态历史仓储接口
type StateHistoryRepository interface {
	Save(history *model.StateHistoryModel) error
	FindByEntityID(entityID string) ([]*model.StateHistoryModel, error)
	FindByPageID(pageID string) ([]*model.StateHistoryModel, error)
}

// stateHistoryRepository 状态历史仓储实现
type stateHistoryRepository struct {
	db *gorm.DB
}

// NewStateHistoryRepository 创建状态历史仓储
func NewStateHistoryRepository(db *gorm.DB) StateHistoryRepository {
	return &stateHistoryRepository{db: db}
}

// Save 保存状态历史
func (r *stateHistoryRepository) Save(history *model.StateHistoryModel) error {
	return r.db.Create(history).Error
}

// FindByEntityID 根据实体 ID 查找状态历史
func (r *stateHistoryRepository) FindByEntityID(entityID string) ([]*model.StateHistoryModel, error) {
	var histories []*model.StateHistoryModel
	err := r.db.Where("entity_id = ?", entityID).Order("created_at ASC").Find(&histories).Error
	return histories, err
}

// FindByPageID 查找页面上所有运行的状态历史
func (r *stateHistoryRepository) FindByPageID(pageID string) ([]*model.StateHistoryModel, error) {
	var histories []*model.StateHistoryModel
	err := r.db.Where("page_id = ?", pageID).Order("created_at ASC").Find(&histories).Error
	return histories, err
}
