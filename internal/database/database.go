package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/moderation-gin/internal/config"
	"github.com/mautops/moderation-gin/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime int // 秒
	ConnMaxIdleTime int // 秒
}

// BuildDSN 构建 PostgreSQL DSN
func BuildDSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
}

// GetPoolConfig 获取连接池配置
func GetPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: 3600, // 1 小时
		ConnMaxIdleTime: 600,  // 10 分钟
	}
}

// GetProductionPoolConfig 获取生产环境连接池配置
func GetProductionPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxIdleConns:    20,
		MaxOpenConns:    200,
		ConnMaxLifetime: 3600,
		ConnMaxIdleTime: 300, // 生产环境缩短空闲时间
	}
}

// IsSQLite 判断驱动是否为 SQLite
// GORM SQLite dialector 的名称可能是 "sqlite" 或 "sqlite3"
func IsSQLite(db *gorm.DB) bool {
	name := db.Dialector.Name()
	return name == "sqlite" || name == "sqlite3"
}

// Connect 按配置的驱动连接数据库
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	return connect(cfg, GetPoolConfig())
}

// ConnectProduction 连接数据库(生产环境连接池默认值)
func ConnectProduction(cfg config.DatabaseConfig) (*gorm.DB, error) {
	return connect(cfg, GetProductionPoolConfig())
}

func connect(cfg config.DatabaseConfig, defaults *PoolConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "sqlite3":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		dialector = sqlite.Open(path)
	case "", "postgres":
		dialector = postgres.Open(BuildDSN(cfg))
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// SQLite 只使用单连接: 内存库在每个连接上相互独立,写操作本身也是串行的
	if IsSQLite(db) {
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}

	poolConfig := resolvePool(cfg, defaults)
	sqlDB.SetMaxIdleConns(poolConfig.MaxIdleConns)
	sqlDB.SetMaxOpenConns(poolConfig.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(poolConfig.ConnMaxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(poolConfig.ConnMaxIdleTime) * time.Second)

	return db, nil
}

// resolvePool 配置中未设置的连接池参数使用默认值
func resolvePool(cfg config.DatabaseConfig, defaults *PoolConfig) *PoolConfig {
	if cfg.MaxIdleConns <= 0 && cfg.MaxOpenConns <= 0 {
		return defaults
	}
	pool := &PoolConfig{
		MaxIdleConns:    cfg.MaxIdleConns,
		MaxOpenConns:    cfg.MaxOpenConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
	if pool.MaxIdleConns == 0 {
		pool.MaxIdleConns = defaults.MaxIdleConns
	}
	if pool.MaxOpenConns == 0 {
		pool.MaxOpenConns = defaults.MaxOpenConns
	}
	if pool.ConnMaxLifetime == 0 {
		pool.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if pool.ConnMaxIdleTime == 0 {
		pool.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	return pool
}

// Migrate 执行数据库迁移
func Migrate(db *gorm.DB) error {
	if IsSQLite(db) {
		// SQLite 不支持 jsonb,手动建表并用 TEXT 代替
		if err := createSQLiteTables(db); err != nil {
			return fmt.Errorf("failed to create SQLite tables: %w", err)
		}
	} else {
		if err := db.AutoMigrate(
			&model.PageModel{},
			&model.PageRevisionModel{},
			&model.TaskModel{},
			&model.WorkflowModel{},
			&model.WorkflowTaskModel{},
			&model.WorkflowPageModel{},
			&model.WorkflowStateModel{},
			&model.TaskStateModel{},
			&model.StateHistoryModel{},
			&model.EventModel{},
			&model.AuditLogModel{},
		); err != nil {
			return fmt.Errorf("failed to auto migrate: %w", err)
		}
	}

	if err := CreateIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

var sqliteTables = []struct {
	name string
	ddl  string
}{
	{"pages", `
		CREATE TABLE IF NOT EXISTS pages (
			id VARCHAR(64) PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			content_type VARCHAR(128) NOT NULL,
			url_path VARCHAR(512),
			live BOOLEAN NOT NULL DEFAULT 0,
			has_unpublished_changes BOOLEAN NOT NULL DEFAULT 0,
			latest_revision_id VARCHAR(64),
			live_revision_id VARCHAR(64),
			last_published_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			created_by VARCHAR(64)
		)`},
	{"page_revisions", `
		CREATE TABLE IF NOT EXISTS page_revisions (
			id VARCHAR(64) PRIMARY KEY,
			page_id VARCHAR(64) NOT NULL,
			title VARCHAR(255) NOT NULL,
			content TEXT,
			created_at DATETIME NOT NULL,
			created_by VARCHAR(64)
		)`},
	{"tasks", `
		CREATE TABLE IF NOT EXISTS tasks (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			type VARCHAR(64) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT 1,
			config TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			created_by VARCHAR(64)
		)`},
	{"workflows", `
		CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT 1,
			rejection_policy VARCHAR(32) NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			created_by VARCHAR(64),
			updated_by VARCHAR(64)
		)`},
	{"workflow_tasks", `
		CREATE TABLE IF NOT EXISTS workflow_tasks (
			id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(64) NOT NULL,
			task_id VARCHAR(64) NOT NULL,
			sort_order INTEGER NOT NULL
		)`},
	{"workflow_pages", `
		CREATE TABLE IF NOT EXISTS workflow_pages (
			page_id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(64) NOT NULL,
			created_at DATETIME NOT NULL,
			created_by VARCHAR(64)
		)`},
	{"workflow_states", `
		CREATE TABLE IF NOT EXISTS workflow_states (
			id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(64) NOT NULL,
			page_id VARCHAR(64) NOT NULL,
			revision_id VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			current_task_state_id VARCHAR(64),
			requested_by VARCHAR(64) NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			finished_at DATETIME
		)`},
	{"task_states", `
		CREATE TABLE IF NOT EXISTS task_states (
			id VARCHAR(64) PRIMARY KEY,
			workflow_state_id VARCHAR(64) NOT NULL,
			task_id VARCHAR(64) NOT NULL,
			position INTEGER NOT NULL,
			status VARCHAR(32) NOT NULL,
			kind VARCHAR(64) NOT NULL,
			revision_id VARCHAR(64) NOT NULL,
			approvals TEXT,
			finished_by VARCHAR(64),
			comment TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`},
	{"state_history", `
		CREATE TABLE IF NOT EXISTS state_history (
			id VARCHAR(64) PRIMARY KEY,
			entity_type VARCHAR(32) NOT NULL,
			entity_id VARCHAR(64) NOT NULL,
			page_id VARCHAR(64) NOT NULL,
			from_state VARCHAR(32),
			to_state VARCHAR(32) NOT NULL,
			reason TEXT,
			operator VARCHAR(64) NOT NULL,
			created_at DATETIME NOT NULL
		)`},
	{"events", `
		CREATE TABLE IF NOT EXISTS events (
			id VARCHAR(64) PRIMARY KEY,
			page_id VARCHAR(64) NOT NULL,
			type VARCHAR(64) NOT NULL,
			data TEXT NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT 'pending',
			retry_count INTEGER DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`},
	{"audit_logs", `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			username VARCHAR(255),
			action VARCHAR(64) NOT NULL,
			resource_type VARCHAR(32) NOT NULL,
			resource_id VARCHAR(64) NOT NULL,
			request_id VARCHAR(64),
			ip VARCHAR(45),
			user_agent TEXT,
			details TEXT,
			created_at DATETIME NOT NULL
		)`},
}

// createSQLiteTables 为 SQLite 手动创建表(使用 TEXT 替代 jsonb)
func createSQLiteTables(db *gorm.DB) error {
	for _, table := range sqliteTables {
		if err := db.Exec(table.ddl).Error; err != nil {
			return fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}
	return nil
}

var indexes = []struct {
	name string
	ddl  string
}{
	{"idx_pages_content_type", "CREATE INDEX IF NOT EXISTS idx_pages_content_type ON pages(content_type)"},
	{"idx_pages_last_published_at", "CREATE INDEX IF NOT EXISTS idx_pages_last_published_at ON pages(last_published_at)"},
	{"idx_page_revisions_page_id", "CREATE INDEX IF NOT EXISTS idx_page_revisions_page_id ON page_revisions(page_id, created_at)"},
	{"idx_tasks_active", "CREATE INDEX IF NOT EXISTS idx_tasks_active ON tasks(active)"},
	{"idx_workflows_active", "CREATE INDEX IF NOT EXISTS idx_workflows_active ON workflows(active)"},
	{"idx_workflow_tasks_workflow", "CREATE UNIQUE INDEX IF NOT EXISTS idx_workflow_tasks_workflow ON workflow_tasks(workflow_id, sort_order)"},
	{"idx_workflow_tasks_task_id", "CREATE INDEX IF NOT EXISTS idx_workflow_tasks_task_id ON workflow_tasks(task_id)"},
	{"idx_workflow_pages_workflow_id", "CREATE INDEX IF NOT EXISTS idx_workflow_pages_workflow_id ON workflow_pages(workflow_id)"},
	{"idx_workflow_states_workflow_status", "CREATE INDEX IF NOT EXISTS idx_workflow_states_workflow_status ON workflow_states(workflow_id, status)"},
	{"idx_workflow_states_page_id", "CREATE INDEX IF NOT EXISTS idx_workflow_states_page_id ON workflow_states(page_id)"},
	// 每个页面最多一个进行中的工作流
	{"idx_workflow_states_page_in_progress", "CREATE UNIQUE INDEX IF NOT EXISTS idx_workflow_states_page_in_progress ON workflow_states(page_id) WHERE status = 'in_progress'"},
	{"idx_task_states_workflow_state", "CREATE INDEX IF NOT EXISTS idx_task_states_workflow_state ON task_states(workflow_state_id, position)"},
	{"idx_task_states_task_status", "CREATE INDEX IF NOT EXISTS idx_task_states_task_status ON task_states(task_id, status)"},
	{"idx_history_entity", "CREATE INDEX IF NOT EXISTS idx_history_entity ON state_history(entity_id)"},
	{"idx_history_page_id", "CREATE INDEX IF NOT EXISTS idx_history_page_id ON state_history(page_id, created_at)"},
	{"idx_events_status", "CREATE INDEX IF NOT EXISTS idx_events_status ON events(status)"},
	{"idx_events_page_id", "CREATE INDEX IF NOT EXISTS idx_events_page_id ON events(page_id)"},
	{"idx_events_created_at", "CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at)"},
	{"idx_audit_resource", "CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_logs(resource_type, resource_id)"},
	{"idx_audit_action", "CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_logs(action, resource_id, created_at)"},
	{"idx_audit_user_id", "CREATE INDEX IF NOT EXISTS idx_audit_user_id ON audit_logs(user_id)"},
	{"idx_audit_created_at", "CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_logs(created_at)"},
}

// CreateIndexes 创建数据库索引
func CreateIndexes(db *gorm.DB) error {
	for _, idx := range indexes {
		if err := db.Exec(idx.ddl).Error; err != nil {
			return fmt.Errorf("failed to create %s: %w", idx.name, err)
		}
	}

	// PostgreSQL 特定的 GIN 索引
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_audit_details_gin ON audit_logs USING GIN (details)").Error; err != nil {
			return fmt.Errorf("failed to create idx_audit_details_gin: %w", err)
		}
	}

	return nil
}

// ConnectWithRetry 带重试的数据库连接
// production 为 true 时使用生产环境连接池默认值
func ConnectWithRetry(cfg config.DatabaseConfig, production bool, maxRetries int, retryInterval time.Duration) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	connectFn := Connect
	if production {
		connectFn = ConnectProduction
	}
	for i := 0; i < maxRetries; i++ {
		db, err = connectFn(cfg)
		if err == nil {
			return db, nil
		}

		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2 // 指数退避
		}
	}

	return nil, fmt.Errorf("failed to connect database after %d retries: %w", maxRetries, err)
}

// CheckHealth 检查数据库连接健康状态
func CheckHealth(db *gorm.DB) bool {
	if db == nil {
		return false
	}

	sqlDB, err := db.DB()
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return sqlDB.PingContext(ctx) == nil
}
