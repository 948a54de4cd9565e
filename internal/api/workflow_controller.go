package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moderation-gin/internal/service"
)

// WorkflowController 工作流管理控制器
type WorkflowController struct {
	workflowService service.WorkflowService
}

// NewWorkflowController 创建工作流管理控制器
func NewWorkflowController(workflowService service.WorkflowService) *WorkflowController {
	return &WorkflowController{
		workflowService: workflowService,
	}
}

// AssignWorkflowRequest 页面绑定工作流请求
type AssignWorkflowRequest struct {
	WorkflowID string `json:"workflow_id" binding:"required"`
	Overwrite  bool   `json:"overwrite"` // 页面已绑定其他工作流时是否覆盖
}

// Create 创建工作流
func (c *WorkflowController) Create(ctx *gin.Context) {
	var req service.SaveWorkflowRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	workflow, err := c.workflowService.Create(ctx.Request.Context(), &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Created(ctx, workflow)
}

// List 列出工作流
func (c *WorkflowController) List(ctx *gin.Context) {
	workflows, err := c.workflowService.List(ctx.Request.Context(), queryBool(ctx, "show_disabled"))
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, workflows)
}

// Get 获取工作流
func (c *WorkflowController) Get(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	workflow, err := c.workflowService.Get(ctx.Request.Context(), id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, workflow)
}

// Update 编辑工作流
func (c *WorkflowController) Update(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.SaveWorkflowRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	workflow, err := c.workflowService.Update(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, workflow)
}

// Pages 工作流绑定的页面
func (c *WorkflowController) Pages(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	list, err := c.workflowService.Pages(ctx.Request.Context(), id, queryInt(ctx, "page", 1))
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Paginated(ctx, list.Pages, NewPaginationInfo(list.Page, list.PageSize, list.Total))
}

// Enable 启用工作流
func (c *WorkflowController) Enable(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	workflow, err := c.workflowService.Enable(ctx.Request.Context(), id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, workflow)
}

// Disable 禁用工作流
func (c *WorkflowController) Disable(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	report, err := c.workflowService.Disable(ctx.Request.Context(), id, queryBool(ctx, "confirm"))
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	if !report.Applied && report.InProgress > 0 {
		SuccessWithWarning(ctx, report, T(ctx, MsgWorkflowDisableWarning, int(report.InProgress)))
		return
	}
	Success(ctx, report)
}

// AssignToPage 为页面绑定工作流
func (c *WorkflowController) AssignToPage(ctx *gin.Context) {
	pageID, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req AssignWorkflowRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	result, err := c.workflowService.AssignToPage(ctx.Request.Context(), pageID, req.WorkflowID, req.Overwrite)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, result)
}

// RemoveFromPage 解除页面与工作流的绑定
func (c *WorkflowController) RemoveFromPage(ctx *gin.Context) {
	pageID, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	workflowID, ok := pathID(ctx, "workflow_id")
	if !ok {
		return
	}

	result, err := c.workflowService.RemoveFromPage(ctx.Request.Context(), pageID, workflowID)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, result)
}
