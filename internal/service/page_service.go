package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/moderation-gin/internal/events"
	"github.com/mautops/moderation-gin/internal/model"
	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/mautops/moderation-gin/internal/repository"
	"gorm.io/gorm"
)

// PageService 内容页面服务
type PageService interface {
	Create(ctx context.Context, req *CreatePageRequest) (*PageDetail, error)
	Get(ctx context.Context, id string) (*PageDetail, error)
	SaveRevision(ctx context.Context, pageID string, req *SaveRevisionRequest) (*RevisionDetail, error)
	Revisions(ctx context.Context, pageID string) ([]*RevisionDetail, error)
	Unpublish(ctx context.Context, pageID string) (*PageDetail, error)
}

// CreatePageRequest 创建页面请求,同时保存第一个修订
type CreatePageRequest struct {
	Title       string          `json:"title" binding:"required,max=255"`
	ContentType string          `json:"content_type" binding:"required,max=128"`
	URLPath     string          `json:"url_path" binding:"max=512"`
	Content     json.RawMessage `json:"content"`
}

// SaveRevisionRequest 保存修订请求
type SaveRevisionRequest struct {
	Title   string          `json:"title" binding:"required,max=255"`
	Content json.RawMessage `json:"content"`
}

// RevisionDetail 修订详情
type RevisionDetail struct {
	ID        string          `json:"id"`
	PageID    string          `json:"page_id"`
	Title     string          `json:"title"`
	Content   json.RawMessage `json:"content,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	CreatedBy string          `json:"created_by"`
}

type pageService struct {
	*engine
}

// NewPageService 创建内容页面服务
func NewPageService(deps Dependencies) PageService {
	return &pageService{engine: newEngine(deps)}
}

// Create 创建草稿页面
func (s *pageService) Create(ctx context.Context, req *CreatePageRequest) (*PageDetail, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	now := s.now()
	page := &model.PageModel{
		ID:                    uuid.New().String(),
		Title:                 req.Title,
		ContentType:           req.ContentType,
		URLPath:               req.URLPath,
		HasUnpublishedChanges: true,
		CreatedAt:             now,
		UpdatedAt:             now,
		CreatedBy:             actor.ID,
	}
	revision := newRevision(page.ID, req.Title, req.Content, actor.ID, now)
	page.LatestRevisionID = revision.ID

	err = s.db.Transaction(func(tx *gorm.DB) error {
		pages := repository.NewPageRepository(tx)
		if err := page.Validate(); err != nil {
			return fmt.Errorf("%w: %v", moderation.ErrValidation, err)
		}
		if err := pages.Save(page); err != nil {
			return fmt.Errorf("failed to create page: %w", err)
		}
		if err := pages.SaveRevision(revision); err != nil {
			return fmt.Errorf("failed to save revision: %w", err)
		}
		return s.recordAudit(ctx, tx, actor, AuditActionCreate, resourcePage, page.ID, map[string]string{"revision_id": revision.ID})
	})
	if err != nil {
		return nil, err
	}
	return toPageDetail(page, ""), nil
}

// Get 获取页面详情及绑定的工作流
func (s *pageService) Get(ctx context.Context, id string) (*PageDetail, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	page, err := repository.NewPageRepository(s.db).FindByID(id)
	if err != nil {
		return nil, notFound(err, "page", id)
	}
	workflowID := ""
	binding, err := repository.NewWorkflowRepository(s.db).FindBinding(id)
	if err == nil {
		workflowID = binding.WorkflowID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to get page workflow: %w", err)
	}
	return toPageDetail(page, workflowID), nil
}

// SaveRevision 保存新修订,进行中的审核仍针对启动时的修订
func (s *pageService) SaveRevision(ctx context.Context, pageID string, req *SaveRevisionRequest) (*RevisionDetail, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	unlock, err := s.lockPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var revision *model.PageRevisionModel
	err = s.db.Transaction(func(tx *gorm.DB) error {
		pages := repository.NewPageRepository(tx)
		page, err := pages.FindByIDForUpdate(pageID)
		if err != nil {
			return notFound(err, "page", pageID)
		}
		now := s.now()
		revision = newRevision(pageID, req.Title, req.Content, actor.ID, now)
		if err := pages.SaveRevision(revision); err != nil {
			return fmt.Errorf("failed to save revision: %w", err)
		}
		page.LatestRevisionID = revision.ID
		page.HasUnpublishedChanges = true
		page.UpdatedAt = now
		if err := pages.Save(page); err != nil {
			return fmt.Errorf("failed to update page: %w", err)
		}
		return s.recordAudit(ctx, tx, actor, AuditActionRevisionSave, resourcePage, pageID, map[string]string{"revision_id": revision.ID})
	})
	if err != nil {
		return nil, err
	}
	return toRevisionDetail(revision), nil
}

// Revisions 列出页面修订,最新的在前
func (s *pageService) Revisions(ctx context.Context, pageID string) ([]*RevisionDetail, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	pages := repository.NewPageRepository(s.db)
	if _, err := pages.FindByID(pageID); err != nil {
		return nil, notFound(err, "page", pageID)
	}
	revisions, err := pages.FindRevisions(pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	result := make([]*RevisionDetail, 0, len(revisions))
	for _, r := range revisions {
		result = append(result, toRevisionDetail(r))
	}
	return result, nil
}

// Unpublish 下线页面,未发布时为空操作
func (s *pageService) Unpublish(ctx context.Context, pageID string) (*PageDetail, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lockPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var evt *events.Event
	err = s.db.Transaction(func(tx *gorm.DB) error {
		pages := repository.NewPageRepository(tx)
		page, err := pages.FindByIDForUpdate(pageID)
		if err != nil {
			return notFound(err, "page", pageID)
		}
		if !page.Live {
			return nil
		}
		page.Live = false
		page.LiveRevisionID = ""
		page.HasUnpublishedChanges = true
		page.UpdatedAt = s.now()
		if err := pages.Save(page); err != nil {
			return fmt.Errorf("failed to unpublish page: %w", err)
		}
		evt = &events.Event{Type: events.PageUnpublished, PageID: pageID, URLPath: page.URLPath, Actor: actor.ID}
		return s.recordAudit(ctx, tx, actor, AuditActionUnpublish, resourcePage, pageID, nil)
	})
	if err != nil {
		return nil, err
	}
	if evt != nil {
		s.emit(ctx, []*events.Event{evt})
	}
	return s.Get(ctx, pageID)
}

func newRevision(pageID, title string, content json.RawMessage, userID string, at time.Time) *model.PageRevisionModel {
	revision := &model.PageRevisionModel{
		ID:        uuid.New().String(),
		PageID:    pageID,
		Title:     title,
		CreatedAt: at,
		CreatedBy: userID,
	}
	if len(content) > 0 {
		revision.Content = []byte(content)
	}
	return revision
}

func toRevisionDetail(r *model.PageRevisionModel) *RevisionDetail {
	detail := &RevisionDetail{
		ID:        r.ID,
		PageID:    r.PageID,
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
		CreatedBy: r.CreatedBy,
	}
	if len(r.Content) > 0 {
		detail.Content = json.RawMessage(r.Content)
	}
	return detail
}
