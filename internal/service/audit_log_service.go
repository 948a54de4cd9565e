package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/moderation-gin/internal/model"
	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/mautops/moderation-gin/internal/repository"
	"gorm.io/gorm"
)

// 审计动作
const (
	AuditActionPublish          = "publish"
	AuditActionUnpublish        = "unpublish"
	AuditActionSubmitModeration = "submit_for_moderation"
	AuditActionApprove          = "approve"
	AuditActionReject           = "reject"
	AuditActionSkip             = "skip"
	AuditActionCancel           = "cancel"
	AuditActionCreate           = "create"
	AuditActionEdit             = "edit"
	AuditActionEnable           = "enable"
	AuditActionDisable          = "disable"
	AuditActionAddToPage        = "add_to_page"
	AuditActionRemoveFromPage   = "remove_from_page"
	AuditActionRevisionSave     = "revision_save"
	resourcePage                = "page"
	resourceWorkflow            = "workflow"
	resourceTask                = "task"
	resourceWorkflowState       = "workflow_state"
)

// AuditLogService 审计日志服务
type AuditLogService interface {
	RecordAction(ctx context.Context, userID string, action string, resourceType string, resourceID string, details interface{}) error
	// WithDB 返回在给定事务中写入的审计服务
	WithDB(tx *gorm.DB) AuditLogService
	// LastPublisher 每个页面最近一次发布的操作人
	LastPublisher(pageIDs []string) (map[string]string, error)
	ListByResource(resourceType string, resourceID string) ([]*model.AuditLogModel, error)
}

// auditLogService 审计日志服务实现
type auditLogService struct {
	auditRepo repository.AuditLogRepository
}

// NewAuditLogService 创建审计日志服务
func NewAuditLogService(auditRepo repository.AuditLogRepository) AuditLogService {
	return &auditLogService{
		auditRepo: auditRepo,
	}
}

// WithDB 使用事务创建审计服务
func (s *auditLogService) WithDB(tx *gorm.DB) AuditLogService {
	return &auditLogService{auditRepo: repository.NewAuditLogRepository(tx)}
}

// RecordAction 记录操作审计日志
func (s *auditLogService) RecordAction(
	ctx context.Context,
	userID string,
	action string,
	resourceType string,
	resourceID string,
	details interface{},
) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}

	username := ""
	if actor, ok := moderation.ActorFromContext(ctx); ok && actor.ID == userID {
		username = actor.DisplayName()
	}

	auditLog := &model.AuditLogModel{
		ID:           uuid.New().String(),
		UserID:       userID,
		Username:     username,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    GetRequestID(ctx),
		IP:           GetClientIP(ctx),
		UserAgent:    GetUserAgent(ctx),
		Details:      detailsJSON,
		CreatedAt:    time.Now(),
	}
	if err := auditLog.Validate(); err != nil {
		return fmt.Errorf("invalid audit log: %w", err)
	}

	return s.auditRepo.Save(auditLog)
}

// LastPublisher 查询页面最近的发布人,优先返回用户名
func (s *auditLogService) LastPublisher(pageIDs []string) (map[string]string, error) {
	latest, err := s.auditRepo.FindLatestByAction(AuditActionPublish, resourcePage, pageIDs)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string, len(latest))
	for pageID, log := range latest {
		if log.Username != "" {
			result[pageID] = log.Username
		} else {
			result[pageID] = log.UserID
		}
	}
	return result, nil
}

// ListByResource 查询资源的审计日志
func (s *auditLogService) ListByResource(resourceType string, resourceID string) ([]*model.AuditLogModel, error) {
	return s.auditRepo.FindByResource(resourceType, resourceID)
}

// GetRequestID 从 context 获取请求 ID
func GetRequestID(ctx context.Context) string {
	if req, ok := ctx.Value("request_id").(string); ok {
		return req
	}
	return ""
}

// GetClientIP 从 context 获取客户端 IP
func GetClientIP(ctx context.Context) string {
	if req, ok := ctx.Value("ip").(string); ok {
		return req
	}
	return ""
}

// GetUserAgent 从 context 获取 User Agent
func GetUserAgent(ctx context.Context) string {
	if req, ok := ctx.Value("user_agent").(string); ok {
		return req
	}
	return ""
}
