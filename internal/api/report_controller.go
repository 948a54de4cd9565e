package api

import (
	"encoding/csv"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moderation-gin/internal/service"
)

// ReportController 报表与统计控制器
type ReportController struct {
	reportService     service.ReportService
	statisticsService service.StatisticsService
}

// NewReportController 创建报表与统计控制器
func NewReportController(reportService service.ReportService, statisticsService service.StatisticsService) *ReportController {
	return &ReportController{
		reportService:     reportService,
		statisticsService: statisticsService,
	}
}

// AgingPagesHeader 老化页面报表导出的列
var AgingPagesHeader = []string{"Title", "Status", "Last published at", "Last published by", "Type"}

// AgingPages 老化页面报表
func (c *ReportController) AgingPages(ctx *gin.Context) {
	var filter service.AgingPagesFilter
	if err := ctx.ShouldBindQuery(&filter); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid query parameters", err.Error())
		return
	}

	rows, err := c.reportService.AgingPages(&filter)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	if ctx.Query("format") == "csv" {
		writeAgingPagesCSV(ctx, rows)
		return
	}
	Success(ctx, rows)
}

func writeAgingPagesCSV(ctx *gin.Context, rows []*service.AgingPage) {
	ctx.Header("Content-Type", "text/csv; charset=utf-8")
	ctx.Header("Content-Disposition", `attachment; filename="aging-pages.csv"`)
	ctx.Status(http.StatusOK)

	w := csv.NewWriter(ctx.Writer)
	_ = w.Write(AgingPagesHeader)
	for _, row := range rows {
		_ = w.Write(AgingPageRecord(row))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		GetLogger().WithError(err).Warn("failed to write aging pages csv")
	}
}

// AgingPageRecord 报表一行的导出字段
func AgingPageRecord(row *service.AgingPage) []string {
	return []string{
		row.Title,
		row.Status,
		row.LastPublishedAt.Format(time.RFC3339),
		row.LastPublishedBy,
		row.ContentTypeLabel,
	}
}

// WorkflowStatesByStatus 按状态统计工作流运行
func (c *ReportController) WorkflowStatesByStatus(ctx *gin.Context) {
	counts, err := c.statisticsService.GetWorkflowStatesByStatus()
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	Success(ctx, counts)
}

// TaskStatesByStatus 按状态统计任务状态
func (c *ReportController) TaskStatesByStatus(ctx *gin.Context) {
	counts, err := c.statisticsService.GetTaskStatesByStatus()
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	Success(ctx, counts)
}

// WorkflowStatesByWorkflow 按工作流统计运行数量
func (c *ReportController) WorkflowStatesByWorkflow(ctx *gin.Context) {
	stats, err := c.statisticsService.GetWorkflowStatesByWorkflow()
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	Success(ctx, stats)
}

// WorkflowStatesByDay 按天统计运行数量
func (c *ReportController) WorkflowStatesByDay(ctx *gin.Context) {
	stats, err := c.statisticsService.GetWorkflowStatesByDay()
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	Success(ctx, stats)
}

// ModerationSummary 审核结果汇总
func (c *ReportController) ModerationSummary(ctx *gin.Context) {
	summary, err := c.statisticsService.GetModerationStatistics()
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	Success(ctx, summary)
}
