package api

import (
	"github.com/gin-gonic/gin"
	"github.com/mautops/moderation-gin/internal/auth"
	"github.com/mautops/moderation-gin/internal/config"
	"github.com/mautops/moderation-gin/internal/metrics"
	"github.com/mautops/moderation-gin/internal/service"
	"github.com/mautops/moderation-gin/internal/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Services 路由使用的服务集合
type Services struct {
	Workflows  service.WorkflowService
	Tasks      service.TaskService
	Pages      service.PageService
	Moderation service.ModerationService
	Query      service.QueryService
	Reports    service.ReportService
	Statistics service.StatisticsService
}

// RouterOptions 路由依赖
type RouterOptions struct {
	Config   *config.Config
	DB       *gorm.DB
	Logger   *logrus.Logger
	Services Services
	Hub      *websocket.Hub
	// Validator 为空时从 X-User-* 请求头读取用户,只用于开发环境
	Validator    *auth.KeycloakTokenValidator
	HealthChecks map[string]HealthChecker
	Tracing      bool
}

// SetupRoutes 配置路由
func SetupRoutes(opts RouterOptions) *gin.Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if config.IsProduction(cfg) {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if opts.Tracing {
		router.Use(TracingMiddleware(cfg.Tracing.ServiceName))
	}
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogMiddleware(opts.Logger))
	router.Use(SecurityHeadersMiddleware(config.IsProduction(cfg)))
	router.Use(CORSMiddleware(cfg.CORS))
	router.Use(I18nMiddleware())
	router.Use(ErrorHandlerMiddleware())
	if cfg.Server.RateLimit > 0 {
		router.Use(RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}

	health := NewHealthController(opts.DB, opts.HealthChecks)
	router.GET("/health", health.Check)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	authMiddleware := auth.HeaderAuthMiddleware()
	if opts.Validator != nil {
		authMiddleware = auth.KeycloakAuthMiddleware(opts.Validator)
	}

	// 浏览器无法为 WebSocket 设置请求头,配置了 Keycloak 时通过 token 查询参数认证
	if opts.Hub != nil {
		ws := websocket.WebSocketHandler(opts.Hub, opts.Validator, websocket.NewUpgrader(cfg.CORS.AllowedOrigins))
		if opts.Validator != nil {
			router.GET("/ws/moderation", ws)
		} else {
			router.GET("/ws/moderation", authMiddleware, ws)
		}
	}

	v1 := router.Group("/api/v1", authMiddleware)
	svc := opts.Services

	workflowController := NewWorkflowController(svc.Workflows)
	workflows := v1.Group("/workflows")
	{
		workflows.POST("", workflowController.Create)
		workflows.GET("", workflowController.List)
		workflows.GET("/:id", workflowController.Get)
		workflows.PUT("/:id", workflowController.Update)
		workflows.GET("/:id/pages", workflowController.Pages)
		workflows.POST("/:id/enable", workflowController.Enable)
		workflows.POST("/:id/disable", workflowController.Disable)
	}

	taskController := NewTaskController(svc.Tasks)
	tasks := v1.Group("/tasks")
	{
		tasks.POST("", taskController.Create)
		tasks.GET("", taskController.List)
		tasks.GET("/types", taskController.SelectType)
		tasks.GET("/:id", taskController.Get)
		tasks.PUT("/:id", taskController.Update)
		tasks.POST("/:id/enable", taskController.Enable)
		tasks.POST("/:id/disable", taskController.Disable)
	}

	pageController := NewPageController(svc.Pages, svc.Moderation, svc.Query)
	pages := v1.Group("/pages")
	{
		pages.POST("", pageController.Create)
		pages.GET("/:id", pageController.Get)
		pages.POST("/:id/revisions", pageController.SaveRevision)
		pages.GET("/:id/revisions", pageController.Revisions)
		pages.POST("/:id/unpublish", pageController.Unpublish)
		pages.PUT("/:id/workflow", workflowController.AssignToPage)
		pages.DELETE("/:id/workflow/:workflow_id", workflowController.RemoveFromPage)
		pages.POST("/:id/moderation", pageController.StartWorkflow)
		pages.GET("/:id/moderation", pageController.CurrentState)
		pages.GET("/:id/history", pageController.History)
	}

	stateController := NewWorkflowStateController(svc.Moderation, svc.Query)
	states := v1.Group("/workflow-states")
	{
		states.GET("", stateController.List)
		states.GET("/:id", stateController.Get)
		states.GET("/:id/task-states", stateController.TaskStates)
		states.POST("/:id/decision", stateController.Decide)
		states.POST("/:id/cancel", stateController.Cancel)
		states.GET("/:id/history", stateController.History)
	}

	reportController := NewReportController(svc.Reports, svc.Statistics)
	v1.GET("/reports/aging-pages", reportController.AgingPages)
	statistics := v1.Group("/statistics")
	{
		statistics.GET("/workflow-states", reportController.WorkflowStatesByStatus)
		statistics.GET("/task-states", reportController.TaskStatesByStatus)
		statistics.GET("/workflows", reportController.WorkflowStatesByWorkflow)
		statistics.GET("/daily", reportController.WorkflowStatesByDay)
		statistics.GET("/summary", reportController.ModerationSummary)
	}

	return router
}
