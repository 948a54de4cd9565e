package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/mautops/moderation-gin/internal/service"
)

// WorkflowStateController 工作流运行控制器
type WorkflowStateController struct {
	moderationService service.ModerationService
	queryService      service.QueryService
}

// NewWorkflowStateController 创建工作流运行控制器
func NewWorkflowStateController(moderationService service.ModerationService, queryService service.QueryService) *WorkflowStateController {
	return &WorkflowStateController{
		moderationService: moderationService,
		queryService:      queryService,
	}
}

// DecisionRequest 审核决定请求
type DecisionRequest struct {
	TaskStateID string            `json:"task_state_id"` // 提交时看到的当前任务状态
	Action      moderation.Action `json:"action" binding:"required,oneof=approve reject skip"`
	Comment     string            `json:"comment" binding:"max=2000"`
}

// listWorkflowStatesQuery 列表查询参数
type listWorkflowStatesQuery struct {
	Status      string     `form:"status"`
	WorkflowID  string     `form:"workflow_id"`
	PageID      string     `form:"page_id"`
	RequestedBy string     `form:"requested_by"`
	StartTime   *time.Time `form:"created_at_start" time_format:"2006-01-02"`
	EndTime     *time.Time `form:"created_at_end" time_format:"2006-01-02"`
	Page        int        `form:"page"`
	PageSize    int        `form:"page_size" binding:"omitempty,max=100"`
	SortBy      string     `form:"sort_by"`
	Order       string     `form:"order"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// List 列出工作流运行
func (c *WorkflowStateController) List(ctx *gin.Context) {
	var query listWorkflowStatesQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid query parameters", err.Error())
		return
	}
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.PageSize <= 0 {
		query.PageSize = 20
	}

	states, total, err := c.queryService.ListWorkflowStates(&service.ListWorkflowStatesFilter{
		Status:      optional(query.Status),
		WorkflowID:  optional(query.WorkflowID),
		PageID:      optional(query.PageID),
		RequestedBy: optional(query.RequestedBy),
		StartTime:   query.StartTime,
		EndTime:     query.EndTime,
		Page:        query.Page,
		PageSize:    query.PageSize,
		SortBy:      query.SortBy,
		Order:       query.Order,
	})
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Paginated(ctx, states, NewPaginationInfo(query.Page, query.PageSize, total))
}

// Get 获取工作流运行及其任务状态
func (c *WorkflowStateController) Get(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	state, err := c.moderationService.GetWorkflowState(ctx.Request.Context(), id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, state)
}

// TaskStates 按位置列出任务状态
func (c *WorkflowStateController) TaskStates(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	taskStates, err := c.moderationService.ListTaskStates(ctx.Request.Context(), id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, taskStates)
}

// Decide 提交审核决定
func (c *WorkflowStateController) Decide(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req DecisionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	result, err := c.moderationService.SubmitDecision(ctx.Request.Context(), &service.SubmitDecisionRequest{
		WorkflowStateID: id,
		TaskStateID:     req.TaskStateID,
		Action:          req.Action,
		Comment:         req.Comment,
	})
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	writeDecisionResult(ctx, result)
}

// Cancel 取消工作流运行
func (c *WorkflowStateController) Cancel(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.CancelWorkflowRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
			return
		}
	}

	result, err := c.moderationService.CancelWorkflow(ctx.Request.Context(), id, req.Reason)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	writeDecisionResult(ctx, result)
}

// History 运行或任务状态的变更历史
func (c *WorkflowStateController) History(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	history, err := c.queryService.GetHistory(id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, history)
}

func writeDecisionResult(ctx *gin.Context, result *service.DecisionResult) {
	if result.NoOp {
		SuccessWithWarning(ctx, result, result.Warning)
		return
	}
	Success(ctx, result)
}
