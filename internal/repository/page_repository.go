package repository

import (
	"time"

	"github.com/mautops/moderation-gin/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PageRepository 页面仓储接口
type PageRepository interface {
	Save(page *model.PageModel) error
	FindByID(id string) (*model.PageModel, error)
	FindByIDForUpdate(id string) (*model.PageModel, error)
	SaveRevision(revision *model.PageRevisionModel) error
	FindRevision(id string) (*model.PageRevisionModel, error)
	FindRevisions(pageID string) ([]*model.PageRevisionModel, error)
	FindPublished(filter *AgingPagesFilter) ([]*model.PageModel, error)
}

// AgingPagesFilter 老化页面查询过滤器
type AgingPagesFilter struct {
	PublishedBefore *time.Time
	ContentType     *string
	Live            *bool
}

// pageRepository 页面仓储实现
type pageRepository struct {
	db *gorm.DB
}

// NewPageRepository 创建页面仓储
func NewPageRepository(db *gorm.DB) PageRepository {
	return &pageRepository{db: db}
}

// Save 保存页面
func (r *pageRepository) Save(page *model.PageModel) error {
	return r.db.Save(page).Error
}

// FindByID 根据 ID 查找页面
func (r *pageRepository) FindByID(id string) (*model.PageModel, error) {
	var page model.PageModel
	if err := r.db.Where("id = ?", id).First(&page).Error; err != nil {
		return nil, err
	}
	return &page, nil
}

// FindByIDForUpdate 在事务中锁定页面行
// SQLite 不支持 FOR UPDATE,事务本身已串行
func (r *pageRepository) FindByIDForUpdate(id string) (*model.PageModel, error) {
	query := r.db
	if name := r.db.Dialector.Name(); name != "sqlite" && name != "sqlite3" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var page model.PageModel
	if err := query.Where("id = ?", id).First(&page).Error; err != nil {
		return nil, err
	}
	return &page, nil
}

// SaveRevision 保存页面修订
func (r *pageRepository) SaveRevision(revision *model.PageRevisionModel) error {
	return r.db.Save(revision).Error
}

// FindRevision 根据 ID 查找修订
func (r *pageRepository) FindRevision(id string) (*model.PageRevisionModel, error) {
	var revision model.PageRevisionModel
	if err := r.db.Where("id = ?", id).First(&revision).Error; err != nil {
		return nil, err
	}
	return &revision, nil
}

// FindRevisions 查找页面的全部修订
func (r *pageRepository) FindRevisions(pageID string) ([]*model.PageRevisionModel, error) {
	var revisions []*model.PageRevisionModel
	err := r.db.Where("page_id = ?", pageID).Order("created_at DESC").Find(&revisions).Error
	return revisions, err
}

// FindPublished 查找有发布时间的页面,按发布时间升序
func (r *pageRepository) FindPublished(filter *AgingPagesFilter) ([]*model.PageModel, error) {
	query := r.db.Model(&model.PageModel{}).Where("last_published_at IS NOT NULL")
	if filter != nil {
		if filter.PublishedBefore != nil {
			query = query.Where("last_published_at <= ?", *filter.PublishedBefore)
		}
		if filter.ContentType != nil {
			query = query.Where("content_type = ?", *filter.ContentType)
		}
		if filter.Live != nil {
			query = query.Where("live = ?", *filter.Live)
		}
	}

	var pages []*model.PageModel
	err := query.Order("last_published_at ASC").Find(&pages).Error
	return pages, err
}
