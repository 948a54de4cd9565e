package container

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/mautops/moderation-gin/internal/config"
	"github.com/mautops/moderation-gin/internal/model"
	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/mautops/moderation-gin/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}
	cfg.Permissions.Roles = map[string][]string{"moderators": {"*"}}
	cfg.Metrics.CollectSchedule = "@every 1h"
	return cfg
}

func TestContainer_WiresServicesAndSubscribers(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c, err := NewContainer(testConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Start(context.Background()))

	assert.Nil(t, c.OpenFGAClient())
	assert.Nil(t, c.KeycloakValidator())
	assert.NotNil(t, c.Hub())

	admin := moderation.WithActor(context.Background(), moderation.Actor{ID: "admin", Groups: []string{"moderators"}})
	wf, err := c.WorkflowService().Create(admin, &service.SaveWorkflowRequest{Name: "Instant"})
	require.NoError(t, err)
	page, err := c.PageService().Create(admin, &service.CreatePageRequest{
		Title:       "wired",
		ContentType: "blog.BlogPage",
		URLPath:     "/blog/wired/",
		Content:     json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	_, err = c.WorkflowService().AssignToPage(admin, page.ID, wf.ID, false)
	require.NoError(t, err)

	// 没有任务的工作流立即通过并发布
	state, err := c.ModerationService().StartWorkflow(admin, page.ID)
	require.NoError(t, err)
	assert.Equal(t, moderation.StatusApproved, state.Status)

	// Webhook 订阅者异步落库事件
	require.Eventually(t, func() bool {
		var count int64
		c.DB().Model(&model.EventModel{}).Where("page_id = ? AND type = ?", page.ID, "page.published").Count(&count)
		return count == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestContainer_ApplyConfig(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c, err := NewContainer(testConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	cfg := testConfig()
	cfg.Log.Level = "error"
	c.ApplyConfig(cfg)
	assert.Equal(t, logrus.ErrorLevel, c.Logger().GetLevel())
}
