package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mautops/moderation-gin/internal/auth"
	"github.com/mautops/moderation-gin/internal/config"
	"github.com/mautops/moderation-gin/internal/database"
	"github.com/mautops/moderation-gin/internal/events"
	"github.com/mautops/moderation-gin/internal/integration"
	"github.com/mautops/moderation-gin/internal/lock"
	"github.com/mautops/moderation-gin/internal/metrics"
	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/mautops/moderation-gin/internal/service"
	"github.com/mautops/moderation-gin/internal/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// permissionCacheTTL 权限判断结果的缓存时间
const permissionCacheTTL = 30 * time.Second

// Container 依赖注入容器
// 管理数据库、权限、锁、事件总线与各服务的生命周期
type Container struct {
	cfg       *config.Config
	logger    *logrus.Logger
	db        *gorm.DB
	fgaClient *auth.OpenFGAClient
	policy    *auth.CachedPolicy
	validator *auth.KeycloakTokenValidator
	redis     *redis.Client
	locker    lock.Locker
	bus       *events.Bus
	hub       *websocket.Hub
	collector *metrics.Collector

	workflows  service.WorkflowService
	tasks      service.TaskService
	pages      service.PageService
	moderation service.ModerationService
	query      service.QueryService
	reports    service.ReportService
	statistics service.StatisticsService

	cancel context.CancelFunc
}

// NewContainer 创建依赖注入容器
// 根据配置初始化所有依赖组件
func NewContainer(cfg *config.Config, logger *logrus.Logger) (*Container, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Container{cfg: cfg, logger: logger}

	// 1. 数据库(带重试,指数退避)
	db, err := database.ConnectWithRetry(cfg.Database, config.IsProduction(cfg), 3, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	c.db = db
	if err := database.Migrate(db); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// 2. 权限策略:配置了 OpenFGA store 时使用 OpenFGA,否则按角色静态授权
	var policy moderation.PermissionPolicy
	if cfg.OpenFGA.StoreID != "" {
		fgaClient, err := auth.NewOpenFGAClientWithRetry(cfg.OpenFGA.APIURL, cfg.OpenFGA.StoreID, cfg.OpenFGA.ModelID, 3, time.Second)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize OpenFGA client: %w", err)
		}
		c.fgaClient = fgaClient
		policy = fgaClient
	} else {
		policy = auth.NewRolePolicy(cfg.Permissions.Roles)
	}
	c.policy = auth.NewCachedPolicy(policy, auth.NewPermissionCache(permissionCacheTTL))

	// 3. 认证:未配置 Keycloak 时路由回退到请求头认证
	if cfg.Keycloak.Issuer != "" {
		c.validator = auth.NewKeycloakTokenValidator(cfg.Keycloak.Issuer, cfg.Keycloak.JWKSURL)
	}

	// 4. 页面锁:多实例部署需要 Redis
	if cfg.Redis.Enabled {
		client, err := lock.NewRedisClient(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		c.redis = client
		c.locker = lock.NewRedisLocker(client, time.Duration(cfg.Redis.LockTTL)*time.Second)
	} else {
		c.locker = lock.NewLocalLocker()
	}

	// 5. 事件总线与订阅者
	c.bus = events.NewBus(logger)
	c.hub = websocket.NewHub()

	// 6. 服务
	deps := service.Dependencies{
		DB:        db,
		Registry:  moderation.DefaultRegistry(),
		Policy:    c.policy,
		Locker:    c.locker,
		Publisher: c.bus,
		Logger:    logger,
		Options: service.Options{
			DefaultRejectionPolicy: moderation.RejectionPolicy(cfg.Moderation.DefaultRejectionPolicy),
			PagesPerWorkflow:       cfg.Moderation.PagesPerWorkflow,
			LockTimeout:            time.Duration(cfg.Moderation.LockTimeout) * time.Second,
		},
	}
	c.workflows = service.NewWorkflowService(deps)
	c.tasks = service.NewTaskService(deps)
	c.pages = service.NewPageService(deps)
	c.moderation = service.NewModerationService(deps)
	c.query = service.NewQueryService(db)
	c.reports = service.NewReportService(db, nil)
	c.statistics = service.NewStatisticsService(db)

	c.collector = metrics.NewCollector(db, cfg.Metrics.CollectSchedule, logger)

	return c, nil
}

// Start 启动后台组件:事件订阅、WebSocket hub 与指标收集
func (c *Container) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	go c.hub.Run(ctx)
	if err := c.bus.Subscribe(ctx, "websocket", c.hub.Handle); err != nil {
		return err
	}

	webhook := integration.NewWebhookDispatcher(c.db, integration.WebhookOptions{
		URLs:       c.cfg.Webhooks.URLs,
		MaxRetries: c.cfg.Webhooks.MaxRetries,
		Timeout:    time.Duration(c.cfg.Webhooks.Timeout) * time.Second,
	}, c.logger)
	if err := c.bus.Subscribe(ctx, "webhook", webhook.Handle); err != nil {
		return err
	}

	if c.cfg.FrontendCache.Enabled {
		purger, err := integration.NewCachePurger(c.cfg.FrontendCache, c.logger)
		if err != nil {
			return err
		}
		if err := c.bus.Subscribe(ctx, "frontend-cache", purger.Handle); err != nil {
			return err
		}
	}

	return c.collector.Start()
}

// ApplyConfig 配置热更新时调整运行时可变的设置
func (c *Container) ApplyConfig(cfg *config.Config) {
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		c.logger.SetLevel(level)
	}
	// 角色授权可能变化,清空缓存的判断结果
	c.policy.Invalidate()
}

// DB 获取数据库连接
func (c *Container) DB() *gorm.DB {
	return c.db
}

// Logger 获取日志记录器
func (c *Container) Logger() *logrus.Logger {
	return c.logger
}

// OpenFGAClient 获取 OpenFGA 客户端,未配置时为 nil
func (c *Container) OpenFGAClient() *auth.OpenFGAClient {
	return c.fgaClient
}

// KeycloakValidator 获取 Keycloak Token 验证器,未配置时为 nil
func (c *Container) KeycloakValidator() *auth.KeycloakTokenValidator {
	return c.validator
}

// Hub 获取 WebSocket hub
func (c *Container) Hub() *websocket.Hub {
	return c.hub
}

// WorkflowService 获取工作流管理服务
func (c *Container) WorkflowService() service.WorkflowService { return c.workflows }

// TaskService 获取审核任务服务
func (c *Container) TaskService() service.TaskService { return c.tasks }

// PageService 获取页面服务
func (c *Container) PageService() service.PageService { return c.pages }

// ModerationService 获取工作流运行服务
func (c *Container) ModerationService() service.ModerationService { return c.moderation }

// QueryService 获取查询服务
func (c *Container) QueryService() service.QueryService { return c.query }

// ReportService 获取报表服务
func (c *Container) ReportService() service.ReportService { return c.reports }

// StatisticsService 获取统计服务
func (c *Container) StatisticsService() service.StatisticsService { return c.statistics }

// Close 关闭容器,清理资源
func (c *Container) Close() error {
	var errs []error
	if c.cancel != nil {
		c.cancel()
	}
	if c.collector != nil {
		c.collector.Stop()
	}
	if c.bus != nil {
		errs = append(errs, c.bus.Close())
	}
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if c.db != nil {
		if sqlDB, err := c.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
