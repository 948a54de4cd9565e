package database_test

import (
	"testing"
	"time"

	"github.com/mautops/moderation-gin/internal/config"
	"github.com/mautops/moderation-gin/internal/database"
	"github.com/mautops/moderation-gin/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

// TestBuildDSN 测试构建 PostgreSQL DSN
func TestBuildDSN(t *testing.T) {
	dsn := database.BuildDSN(config.DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", DBName: "moderation", SSLMode: "disable",
	})
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=moderation sslmode=disable", dsn)
}

// TestConnect_UnsupportedDriver 测试不支持的驱动
func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := database.Connect(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

// TestMigrate_CreatesTables 测试迁移创建所有表
func TestMigrate_CreatesTables(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{
		"pages", "page_revisions", "tasks", "workflows", "workflow_tasks", "workflow_pages",
		"workflow_states", "task_states", "state_history", "events", "audit_logs",
	} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	// 重复迁移不报错
	assert.NoError(t, database.Migrate(db))
	assert.True(t, database.CheckHealth(db))
}

// TestMigrate_SingleInProgressPerPage 测试同一页面只能有一个进行中的工作流
func TestMigrate_SingleInProgressPerPage(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()

	state := func(id, status string) *model.WorkflowStateModel {
		return &model.WorkflowStateModel{
			ID: id, WorkflowID: "wf-1", PageID: "page-1", RevisionID: "rev-1",
			Status: status, RequestedBy: "u-1", CreatedAt: now, UpdatedAt: now,
		}
	}

	require.NoError(t, db.Create(state("ws-1", "in_progress")).Error)
	assert.Error(t, db.Create(state("ws-2", "in_progress")).Error)

	// 终态的运行不受限制
	require.NoError(t, db.Create(state("ws-3", "approved")).Error)
	require.NoError(t, db.Create(state("ws-4", "cancelled")).Error)
}

// TestCheckHealth_Nil 测试空连接健康检查
func TestCheckHealth_Nil(t *testing.T) {
	assert.False(t, database.CheckHealth(nil))
}
