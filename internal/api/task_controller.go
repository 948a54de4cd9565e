package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moderation-gin/internal/service"
)

// TaskController 审核任务控制器
type TaskController struct {
	taskService service.TaskService
}

// NewTaskController 创建审核任务控制器
func NewTaskController(taskService service.TaskService) *TaskController {
	return &TaskController{
		taskService: taskService,
	}
}

// Create 创建审核任务
func (c *TaskController) Create(ctx *gin.Context) {
	var req service.CreateTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	task, err := c.taskService.Create(ctx.Request.Context(), &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Created(ctx, task)
}

// SelectType 创建任务前选择子类型,只有一种子类型时直接返回
func (c *TaskController) SelectType(ctx *gin.Context) {
	selection, err := c.taskService.SelectType(ctx.Request.Context())
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, selection)
}

// List 列出审核任务
func (c *TaskController) List(ctx *gin.Context) {
	tasks, err := c.taskService.List(ctx.Request.Context(), queryBool(ctx, "show_disabled"))
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, tasks)
}

// Get 获取审核任务
func (c *TaskController) Get(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	task, err := c.taskService.Get(ctx.Request.Context(), id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, task)
}

// Update 编辑审核任务,子类型不可修改
func (c *TaskController) Update(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}
	var req service.UpdateTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	task, err := c.taskService.Update(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, task)
}

// Enable 启用审核任务
func (c *TaskController) Enable(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	task, err := c.taskService.Enable(ctx.Request.Context(), id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, task)
}

// Disable 禁用审核任务
// 已创建的任务状态不受影响,之后启动的运行会跳过该任务
func (c *TaskController) Disable(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	report, err := c.taskService.Disable(ctx.Request.Context(), id, queryBool(ctx, "confirm"))
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	if !report.Applied && report.InProgress > 0 {
		SuccessWithWarning(ctx, report, T(ctx, MsgTaskDisableWarning, int(report.InProgress)))
		return
	}
	Success(ctx, report)
}
