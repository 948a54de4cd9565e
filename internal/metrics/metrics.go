package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var (
	// API 请求计数器
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	// API 请求响应时间
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 工作流启动数
	workflowsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_workflows_started_total",
			Help: "Total number of workflow runs started",
		},
		[]string{"workflow"},
	)

	// 审核决定数
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_decisions_total",
			Help: "Total number of task decisions",
		},
		[]string{"decision"}, // approve, reject, needs_input, skip
	)

	// 工作流终态转换
	workflowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_workflow_transitions_total",
			Help: "Total number of workflow state transitions into a terminal status",
		},
		[]string{"from", "to"},
	)

	// 页面发布数
	pagesPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moderation_pages_published_total",
			Help: "Total number of pages published by approved workflows",
		},
	)

	// 锁等待时间
	lockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moderation_page_lock_wait_seconds",
			Help:    "Time spent waiting for the per-page lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	// 数据库连接数
	databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	databaseConnectionsMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_max",
			Help: "Maximum number of database connections",
		},
	)

	// 工作流运行状态分布
	workflowStatesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moderation_workflow_states",
			Help: "Number of workflow runs by status",
		},
		[]string{"status"},
	)

	// 任务状态分布
	taskStatesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moderation_task_states",
			Help: "Number of task states by status",
		},
		[]string{"status"},
	)
)

var (
	once sync.Once
)

func init() {
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(workflowsStartedTotal)
	prometheus.MustRegister(decisionsTotal)
	prometheus.MustRegister(workflowTransitionsTotal)
	prometheus.MustRegister(pagesPublishedTotal)
	prometheus.MustRegister(lockWaitDuration)
	prometheus.MustRegister(databaseConnectionsActive)
	prometheus.MustRegister(databaseConnectionsIdle)
	prometheus.MustRegister(databaseConnectionsMax)
	prometheus.MustRegister(workflowStatesByStatus)
	prometheus.MustRegister(taskStatesByStatus)

	// Go 运行时指标只注册一次,已注册时忽略错误
	once.Do(func() {
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler 返回 Prometheus 指标处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest 记录 API 请求
func RecordAPIRequest(method, path string, status int, duration float64) {
	statusText := http.StatusText(status)
	if statusText == "" {
		statusText = fmt.Sprintf("%d", status)
	}
	apiRequestsTotal.WithLabelValues(method, path, statusText).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordWorkflowStarted 记录工作流启动
func RecordWorkflowStarted(workflowName string) {
	workflowsStartedTotal.WithLabelValues(workflowName).Inc()
}

// RecordDecision 记录审核决定
func RecordDecision(decision string) {
	decisionsTotal.WithLabelValues(decision).Inc()
}

// RecordTransition 记录工作流进入终态
func RecordTransition(from, to string) {
	workflowTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordPagePublished 记录页面发布
func RecordPagePublished() {
	pagesPublishedTotal.Inc()
}

// ObserveLockWait 记录页面锁等待时间
func ObserveLockWait(seconds float64) {
	lockWaitDuration.Observe(seconds)
}

// UpdateDatabaseConnections 更新数据库连接数指标
func UpdateDatabaseConnections(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	databaseConnectionsActive.Set(float64(stats.OpenConnections - stats.Idle))
	databaseConnectionsIdle.Set(float64(stats.Idle))
	databaseConnectionsMax.Set(float64(stats.MaxOpenConnections))

	return nil
}

// UpdateWorkflowStates 更新工作流运行状态分布
func UpdateWorkflowStates(counts map[string]int64) {
	workflowStatesByStatus.Reset()
	for status, count := range counts {
		workflowStatesByStatus.WithLabelValues(status).Set(float64(count))
	}
}

// UpdateTaskStates 更新任务状态分布
func UpdateTaskStates(counts map[string]int64) {
	taskStatesByStatus.Reset()
	for status, count := range counts {
		taskStatesByStatus.WithLabelValues(status).Set(float64(count))
	}
}
