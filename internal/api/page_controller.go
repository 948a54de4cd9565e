package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moderation-gin/internal/service"
)

// PageController 内容页面控制器
type PageController struct {
	pageService       service.PageService
	moderationService service.ModerationService
	queryService      service.QueryService
}

// NewPageController 创建内容页面控制器
func NewPageController(pageService service.PageService, moderationService service.ModerationService, queryService service.QueryService) *PageController {
	return &PageController{
		pageService:       pageService,
		moderationService: moderationService,
		queryService:      queryService,
	}
}

// Create 创建草稿页面
func (c *PageController) Create(ctx *gin.Context) {
	var req service.CreatePageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	page, err := c.pageService.Create(ctx.Request.Context(), &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Created(ctx, page)
}

// Get 获取页面
func (c *PageController) Get(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	page, err := c.pageService.Get(ctx.Request.Context(), id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, page)
}

// SaveRevision 保存新修订
func (c *PageController) SaveRevision(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.SaveRevisionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	revision, err := c.pageService.SaveRevision(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Created(ctx, revision)
}

// Revisions 页面修订列表
func (c *PageController) Revisions(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	revisions, err := c.pageService.Revisions(ctx.Request.Context(), id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, revisions)
}

// Unpublish 取消发布
func (c *PageController) Unpublish(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	page, err := c.pageService.Unpublish(ctx.Request.Context(), id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, page)
}

// StartWorkflow 提交审核
func (c *PageController) StartWorkflow(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	state, err := c.moderationService.StartWorkflow(ctx.Request.Context(), id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Created(ctx, state)
}

// CurrentState 页面当前进行中的工作流运行
func (c *PageController) CurrentState(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	state, err := c.moderationService.CurrentState(ctx.Request.Context(), id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, state)
}

// History 页面上所有审核的状态变更
func (c *PageController) History(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	history, err := c.queryService.GetPageHistory(id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, history)
}
