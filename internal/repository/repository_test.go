package repository_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/mautops/moderation-gin/internal/config"
	"github.com/mautops/moderation-gin/internal/database"
	"github.com/mautops/moderation-gin/internal/model"
	"github.com/mautops/moderation-gin/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupTestDBForRepository 创建测试数据库
func setupTestDBForRepository(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func newPage(id string, publishedAt *time.Time) *model.PageModel {
	now := time.Now()
	return &model.PageModel{
		ID: id, Title: "Page " + id, ContentType: "blog.BlogPage",
		Live: publishedAt != nil, LastPublishedAt: publishedAt,
		CreatedAt: now, UpdatedAt: now,
	}
}

// TestWorkflowRepository_Binding 测试页面绑定替换而非追加
func TestWorkflowRepository_Binding(t *testing.T) {
	db := setupTestDBForRepository(t)
	repo := repository.NewWorkflowRepository(db)

	require.NoError(t, repo.SaveBinding(&model.WorkflowPageModel{PageID: "p1", WorkflowID: "wf-1", CreatedAt: time.Now()}))
	require.NoError(t, repo.SaveBinding(&model.WorkflowPageModel{PageID: "p1", WorkflowID: "wf-2", CreatedAt: time.Now()}))

	binding, err := repo.FindBinding("p1")
	require.NoError(t, err)
	assert.Equal(t, "wf-2", binding.WorkflowID)

	var count int64
	db.Model(&model.WorkflowPageModel{}).Where("page_id = ?", "p1").Count(&count)
	assert.Equal(t, int64(1), count)

	require.NoError(t, repo.DeleteBinding("p1"))
	_, err = repo.FindBinding("p1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

// TestWorkflowRepository_FindByIDForUpdate 测试事务内锁定读取工作流
func TestWorkflowRepository_FindByIDForUpdate(t *testing.T) {
	db := setupTestDBForRepository(t)
	now := time.Now()
	require.NoError(t, repository.NewWorkflowRepository(db).Save(&model.WorkflowModel{
		ID: "wf-1", Name: "Moderation", Active: true, RejectionPolicy: "any_reject_fails",
		CreatedAt: now, UpdatedAt: now,
	}))

	err := db.Transaction(func(tx *gorm.DB) error {
		repo := repository.NewWorkflowRepository(tx)
		wm, err := repo.FindByIDForUpdate("wf-1")
		if err != nil {
			return err
		}
		assert.True(t, wm.Active)
		wm.Active = false
		return repo.Save(wm)
	})
	require.NoError(t, err)

	wm, err := repository.NewWorkflowRepository(db).FindByID("wf-1")
	require.NoError(t, err)
	assert.False(t, wm.Active)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := repository.NewWorkflowRepository(tx).FindByIDForUpdate("missing")
		return err
	})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

// TestWorkflowRepository_ReplaceTasks 测试替换任务顺序
func TestWorkflowRepository_ReplaceTasks(t *testing.T) {
	db := setupTestDBForRepository(t)
	repo := repository.NewWorkflowRepository(db)

	require.NoError(t, repo.ReplaceTasks("wf-1", []string{"a", "b", "c"}))
	require.NoError(t, repo.ReplaceTasks("wf-1", []string{"c", "a"}))

	bindings, err := repo.FindTasks("wf-1")
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	assert.Equal(t, "c", bindings[0].TaskID)
	assert.Equal(t, "a", bindings[1].TaskID)
}

// TestWorkflowRepository_FindPages 测试分页查找使用工作流的页面
func TestWorkflowRepository_FindPages(t *testing.T) {
	db := setupTestDBForRepository(t)
	repo := repository.NewWorkflowRepository(db)
	pages := repository.NewPageRepository(db)

	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("p%d", i)
		require.NoError(t, pages.Save(newPage(id, nil)))
		require.NoError(t, repo.SaveBinding(&model.WorkflowPageModel{PageID: id, WorkflowID: "wf-1", CreatedAt: time.Now()}))
	}
	require.NoError(t, pages.Save(newPage("other", nil)))
	require.NoError(t, repo.SaveBinding(&model.WorkflowPageModel{PageID: "other", WorkflowID: "wf-2", CreatedAt: time.Now()}))

	first, total, err := repo.FindPages("wf-1", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	assert.Len(t, first, 5)

	second, _, err := repo.FindPages("wf-1", 5, 5)
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

// TestWorkflowStateRepository_UpdateIfCurrent 测试按当前任务状态条件更新
func TestWorkflowStateRepository_UpdateIfCurrent(t *testing.T) {
	db := setupTestDBForRepository(t)
	repo := repository.NewWorkflowStateRepository(db)
	now := time.Now()

	state := &model.WorkflowStateModel{
		ID: "ws-1", WorkflowID: "wf-1", PageID: "p1", RevisionID: "r1",
		Status: "in_progress", CurrentTaskStateID: "ts-1", RequestedBy: "u1",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.Create(state))

	state.CurrentTaskStateID = "ts-2"
	ok, err := repo.UpdateIfCurrent(state, "ts-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// 基于过期的当前任务状态更新失败
	state.CurrentTaskStateID = "ts-3"
	ok, err = repo.UpdateIfCurrent(state, "ts-1")
	require.NoError(t, err)
	assert.False(t, ok)

	saved, err := repo.FindByID("ws-1")
	require.NoError(t, err)
	assert.Equal(t, "ts-2", saved.CurrentTaskStateID)

	count, err := repo.CountInProgressByWorkflow("wf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// TestWorkflowStateRepository_CountByStatus 测试按状态统计
func TestWorkflowStateRepository_CountByStatus(t *testing.T) {
	db := setupTestDBForRepository(t)
	repo := repository.NewWorkflowStateRepository(db)
	now := time.Now()

	for i, status := range []string{"approved", "approved", "rejected", "in_progress"} {
		require.NoError(t, repo.Create(&model.WorkflowStateModel{
			ID: fmt.Sprintf("ws-%d", i), WorkflowID: "wf-1", PageID: fmt.Sprintf("p%d", i), RevisionID: "r",
			Status: status, RequestedBy: "u1", CreatedAt: now, UpdatedAt: now,
		}))
	}

	counts, err := repo.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["approved"])
	assert.Equal(t, int64(1), counts["rejected"])
	assert.Equal(t, int64(1), counts["in_progress"])

	inProgress, err := repo.FindInProgressPageIDs()
	require.NoError(t, err)
	assert.True(t, inProgress["p3"])
	assert.False(t, inProgress["p0"])
}

// TestAuditLogRepository_FindLatestByAction 测试每个资源取最近一条日志
func TestAuditLogRepository_FindLatestByAction(t *testing.T) {
	db := setupTestDBForRepository(t)
	repo := repository.NewAuditLogRepository(db)
	base := time.Now().Add(-time.Hour)

	save := func(id, resourceID, user, action string, offset time.Duration) {
		require.NoError(t, repo.Save(&model.AuditLogModel{
			ID: id, UserID: user, Action: action, ResourceType: "page", ResourceID: resourceID,
			CreatedAt: base.Add(offset),
		}))
	}
	save("a1", "p1", "alice", "publish", 0)
	save("a2", "p1", "bob", "publish", time.Minute)
	save("a3", "p1", "carol", "unpublish", 2*time.Minute)
	save("a4", "p2", "dave", "publish", 0)

	latest, err := repo.FindLatestByAction("publish", "page", []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	assert.Equal(t, "bob", latest["p1"].UserID)
	assert.Equal(t, "dave", latest["p2"].UserID)
	assert.Nil(t, latest["p3"])
}

// TestPageRepository_FindPublished 测试按发布时间过滤页面
func TestPageRepository_FindPublished(t *testing.T) {
	db := setupTestDBForRepository(t)
	repo := repository.NewPageRepository(db)

	old := time.Now().Add(-90 * 24 * time.Hour)
	recent := time.Now().Add(-24 * time.Hour)
	require.NoError(t, repo.Save(newPage("recent", &recent)))
	require.NoError(t, repo.Save(newPage("old", &old)))
	require.NoError(t, repo.Save(newPage("never", nil)))

	pages, err := repo.FindPublished(nil)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "old", pages[0].ID)

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	pages, err = repo.FindPublished(&repository.AgingPagesFilter{PublishedBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "old", pages[0].ID)
}

// TestTaskRepository_FindAll 测试默认隐藏禁用的任务
func TestTaskRepository_FindAll(t *testing.T) {
	db := setupTestDBForRepository(t)
	repo := repository.NewTaskRepository(db)
	now := time.Now()

	require.NoError(t, repo.Save(&model.TaskModel{ID: "t1", Name: "Legal", Type: "group_approval", Active: true, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, repo.Save(&model.TaskModel{ID: "t2", Name: "Archive", Type: "group_approval", Active: false, CreatedAt: now, UpdatedAt: now}))

	active, err := repo.FindAll(false)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := repo.FindAll(true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
