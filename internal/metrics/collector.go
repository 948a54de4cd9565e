package metrics

import (
	"fmt"

	"github.com/mautops/moderation-gin/internal/repository"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Collector 按 cron 表达式定期收集数据库与工作流指标
type Collector struct {
	db       *gorm.DB
	states   repository.WorkflowStateRepository
	schedule string
	cron     *cron.Cron
	logger   *logrus.Logger
}

// NewCollector 创建指标收集器,schedule 支持 "@every 1m" 等写法
func NewCollector(db *gorm.DB, schedule string, logger *logrus.Logger) *Collector {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Collector{
		db:       db,
		states:   repository.NewWorkflowStateRepository(db),
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start 启动指标收集器
func (c *Collector) Start() error {
	if _, err := c.cron.AddFunc(c.schedule, c.Collect); err != nil {
		return fmt.Errorf("invalid metrics schedule %q: %w", c.schedule, err)
	}
	c.cron.Start()
	c.Collect()
	return nil
}

// Stop 停止指标收集器并等待正在运行的收集结束
func (c *Collector) Stop() {
	<-c.cron.Stop().Done()
}

// Collect 收集一次指标
func (c *Collector) Collect() {
	if err := UpdateDatabaseConnections(c.db); err != nil {
		c.logger.WithError(err).Warn("failed to collect database metrics")
		return
	}

	workflowCounts, err := c.states.CountByStatus()
	if err != nil {
		c.logger.WithError(err).Warn("failed to count workflow states")
		return
	}
	UpdateWorkflowStates(workflowCounts)

	taskCounts, err := c.states.CountTaskStatesByStatus()
	if err != nil {
		c.logger.WithError(err).Warn("failed to count task states")
		return
	}
	UpdateTaskStates(taskCounts)
}
