package repository

import (
	"github.com/mautops/moderation-gin/internal/model"
	"gorm.io/gorm"
)

// AuditLogRepository 审计日志仓储接口
type AuditLogRepository interface {
	Save(log *model.AuditLogModel) error
	FindByUserID(userID string) ([]*model.AuditLogModel, error)
	FindByResource(resourceType string, resourceID string) ([]*model.AuditLogModel, error)
	FindLatestByAction(action string, resourceType string, resourceIDs []string) (map[string]*model.AuditLogModel, error)
}

// auditLogRepository 审计日志仓储实现
type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository 创建审计日志仓储
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

// Save 保存审计日志
func (r *auditLogRepository) Save(log *model.AuditLogModel) error {
	return r.db.Create(log).Error
}

// FindByUserID 根据用户 ID 查找审计日志
func (r *auditLogRepository) FindByUserID(userID string) ([]*model.AuditLogModel, error) {
	var logs []*model.AuditLogModel
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&logs).Error
	return logs, err
}

// FindByResource 根据资源查找审计日志
func (r *auditLogRepository) FindByResource(resourceType string, resourceID string) ([]*model.AuditLogModel, error) {
	var logs []*model.AuditLogModel
	err := r.db.Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("created_at DESC").
		Find(&logs).Error
	return logs, err
}

// FindLatestByAction 每个资源取该动作最近的一条日志
func (r *auditLogRepository) FindLatestByAction(action string, resourceType string, resourceIDs []string) (map[string]*model.AuditLogModel, error) {
	result := make(map[string]*model.AuditLogModel, len(resourceIDs))
	if len(resourceIDs) == 0 {
		return result, nil
	}

	var logs []*model.AuditLogModel
	if err := r.db.Where("action = ? AND resource_type = ? AND resource_id IN ?", action, resourceType, resourceIDs).
		Order("created_at DESC").
		Find(&logs).Error; err != nil {
		return nil, err
	}
	for _, log := range logs {
		if _, seen := result[log.ResourceID]; !seen {
			result[log.ResourceID] = log
		}
	}
	return result, nil
}
