package service_test

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/mautops/moderation-gin/internal/config"
	"github.com/mautops/moderation-gin/internal/database"
	"github.com/mautops/moderation-gin/internal/events"
	"github.com/mautops/moderation-gin/internal/lock"
	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/mautops/moderation-gin/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	admin    = moderation.Actor{ID: "admin", Username: "Admin", Groups: []string{"moderators"}}
	editor   = moderation.Actor{ID: "u-editor", Groups: []string{"editors"}}
	reviewer = moderation.Actor{ID: "u-reviewer", Username: "Reviewer", Groups: []string{"reviewers"}}
	outsider = moderation.Actor{ID: "u-outsider"}
)

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evts ...*events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return nil
}

func (p *recordingPublisher) count(t events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// fixture 测试用的服务集合
type fixture struct {
	db         *gorm.DB
	events     *recordingPublisher
	workflows  service.WorkflowService
	tasks      service.TaskService
	moderation service.ModerationService
	pages      service.PageService
}

// moderatorsOnly 只有 moderators 组拥有全部能力
var moderatorsOnly = moderation.PermissionPolicyFunc(func(_ context.Context, actor moderation.Actor, _ moderation.Resource, _ moderation.Capability) (bool, error) {
	return actor.InGroup("moderators"), nil
})

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	publisher := &recordingPublisher{}
	deps := service.Dependencies{
		DB:        db,
		Registry:  moderation.DefaultRegistry(),
		Policy:    moderatorsOnly,
		Locker:    lock.NewLocalLocker(),
		Publisher: publisher,
		Logger:    logger,
	}
	return &fixture{
		db:         db,
		events:     publisher,
		workflows:  service.NewWorkflowService(deps),
		tasks:      service.NewTaskService(deps),
		moderation: service.NewModerationService(deps),
		pages:      service.NewPageService(deps),
	}
}

func as(actor moderation.Actor) context.Context {
	return moderation.WithActor(context.Background(), actor)
}

func (f *fixture) groupTask(t *testing.T, name string, groups ...string) *service.TaskDetail {
	t.Helper()
	config, err := json.Marshal(map[string]interface{}{"groups": groups})
	require.NoError(t, err)
	task, err := f.tasks.Create(as(admin), &service.CreateTaskRequest{
		Name:   name,
		Type:   moderation.TaskTypeGroupApproval,
		Config: config,
	})
	require.NoError(t, err)
	return task
}

func (f *fixture) workflow(t *testing.T, name string, tasks ...*service.TaskDetail) *service.WorkflowDetail {
	t.Helper()
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	wf, err := f.workflows.Create(as(admin), &service.SaveWorkflowRequest{Name: name, TaskIDs: ids})
	require.NoError(t, err)
	return wf
}

func (f *fixture) page(t *testing.T, title string) *service.PageDetail {
	t.Helper()
	page, err := f.pages.Create(as(editor), &service.CreatePageRequest{
		Title:       title,
		ContentType: "blog.BlogPage",
		URLPath:     "/blog/" + title + "/",
		Content:     json.RawMessage(`{"body":"hello"}`),
	})
	require.NoError(t, err)
	return page
}

// boundPage 创建绑定了工作流的页面
func (f *fixture) boundPage(t *testing.T, title string, wf *service.WorkflowDetail) *service.PageDetail {
	t.Helper()
	page := f.page(t, title)
	_, err := f.workflows.AssignToPage(as(admin), page.ID, wf.ID, false)
	require.NoError(t, err)
	return page
}

func (f *fixture) decide(t *testing.T, actor moderation.Actor, state *service.WorkflowStateDetail, action moderation.Action) *service.DecisionResult {
	t.Helper()
	result, err := f.moderation.SubmitDecision(as(actor), &service.SubmitDecisionRequest{
		WorkflowStateID: state.ID,
		TaskStateID:     state.CurrentTaskStateID,
		Action:          action,
	})
	require.NoError(t, err)
	return result
}
