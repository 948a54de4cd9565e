package service

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/mautops/moderation-gin/internal/model"
	"github.com/mautops/moderation-gin/internal/repository"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// ReportService 只读报表服务
type ReportService interface {
	AgingPages(filter *AgingPagesFilter) ([]*AgingPage, error)
}

// AgingPagesFilter 老化页面报表过滤器
type AgingPagesFilter struct {
	PublishedBefore *time.Time `form:"last_published_before" time_format:"2006-01-02"`
	ContentType     *string    `form:"content_type"`
	Live            *bool      `form:"live"`
}

// AgingPage 老化页面报表的一行
type AgingPage struct {
	PageID           string    `json:"page_id"`
	Title            string    `json:"title"`
	Status           string    `json:"status"`
	LastPublishedAt  time.Time `json:"last_published_at"`
	LastPublishedAgo string    `json:"last_published_ago"`
	LastPublishedBy  string    `json:"last_published_by,omitempty"`
	ContentType      string    `json:"content_type"`
	ContentTypeLabel string    `json:"content_type_label"`
}

type reportService struct {
	pageRepo    repository.PageRepository
	stateRepo   repository.WorkflowStateRepository
	auditLogSvc AuditLogService
	now         func() time.Time
}

// NewReportService 创建报表服务
func NewReportService(db *gorm.DB, auditLogSvc AuditLogService) ReportService {
	if auditLogSvc == nil {
		auditLogSvc = NewAuditLogService(repository.NewAuditLogRepository(db))
	}
	return &reportService{
		pageRepo:    repository.NewPageRepository(db),
		stateRepo:   repository.NewWorkflowStateRepository(db),
		auditLogSvc: auditLogSvc,
		now:         time.Now,
	}
}

// AgingPages 列出有发布时间的页面,最久未发布的在前
func (s *reportService) AgingPages(filter *AgingPagesFilter) ([]*AgingPage, error) {
	var repoFilter *repository.AgingPagesFilter
	if filter != nil {
		repoFilter = &repository.AgingPagesFilter{
			PublishedBefore: filter.PublishedBefore,
			ContentType:     filter.ContentType,
			Live:            filter.Live,
		}
	}
	pages, err := s.pageRepo.FindPublished(repoFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to query published pages: %w", err)
	}

	ids := make([]string, 0, len(pages))
	for _, p := range pages {
		ids = append(ids, p.ID)
	}
	publishers, err := s.auditLogSvc.LastPublisher(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query publishers: %w", err)
	}
	inModeration, err := s.stateRepo.FindInProgressPageIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow states: %w", err)
	}

	now := s.now()
	rows := make([]*AgingPage, 0, len(pages))
	for _, p := range pages {
		rows = append(rows, &AgingPage{
			PageID:           p.ID,
			Title:            p.Title,
			Status:           StatusString(p, inModeration[p.ID]),
			LastPublishedAt:  *p.LastPublishedAt,
			LastPublishedAgo: humanize.RelTime(*p.LastPublishedAt, now, "ago", "from now"),
			LastPublishedBy:  publishers[p.ID],
			ContentType:      p.ContentType,
			ContentTypeLabel: ContentTypeLabel(p.ContentType),
		})
	}
	return rows, nil
}

// StatusString 页面状态的展示文本
func StatusString(p *model.PageModel, inModeration bool) string {
	if !p.Live {
		if inModeration {
			return "in moderation"
		}
		return "draft"
	}
	switch {
	case inModeration:
		return "live + in moderation"
	case p.HasUnpublishedChanges:
		return "live + draft"
	default:
		return "live"
	}
}

// ContentTypeLabel 将 "blog.BlogPage" 转为 "Blog page"
func ContentTypeLabel(contentType string) string {
	name := contentType
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	var words []string
	start := 0
	runes := []rune(name)
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) && !unicode.IsUpper(runes[i-1]) {
			words = append(words, string(runes[start:i]))
			start = i
		}
	}
	words = append(words, string(runes[start:]))

	label := strings.ToLower(strings.Join(words, " "))
	if label == "" {
		return ""
	}
	first := []rune(label)[0]
	return cases.Upper(language.Und).String(string(first)) + string([]rune(label)[1:])
}
