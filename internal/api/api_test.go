package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moderation-gin/internal/api"
	"github.com/mautops/moderation-gin/internal/auth"
	"github.com/mautops/moderation-gin/internal/config"
	"github.com/mautops/moderation-gin/internal/database"
	"github.com/mautops/moderation-gin/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// user 通过 X-User-* 请求头模拟的用户
type user struct {
	id     string
	name   string
	groups string
}

var (
	admin    = user{id: "admin", name: "Admin", groups: "moderators"}
	editor   = user{id: "u-editor", groups: "editors"}
	reviewer = user{id: "u-reviewer", name: "Reviewer", groups: "reviewers"}
)

// envelope 统一响应的解码结构
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Warning string          `json:"warning"`
	Detail  string          `json:"detail"`
	Data    json.RawMessage `json:"data"`
}

type apiFixture struct {
	router *gin.Engine
}

func newAPIFixture(t *testing.T, mutate func(*config.Config, *api.RouterOptions)) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	deps := service.Dependencies{
		DB:     db,
		Policy: auth.NewRolePolicy(map[string][]string{"moderators": {"*"}}),
		Logger: logger,
	}
	cfg := config.Default()
	cfg.Server.RateLimit = 0

	opts := api.RouterOptions{
		Config: cfg,
		DB:     db,
		Logger: logger,
		Services: api.Services{
			Workflows:  service.NewWorkflowService(deps),
			Tasks:      service.NewTaskService(deps),
			Pages:      service.NewPageService(deps),
			Moderation: service.NewModerationService(deps),
			Query:      service.NewQueryService(db),
			Reports:    service.NewReportService(db, nil),
			Statistics: service.NewStatisticsService(db),
		},
	}
	if mutate != nil {
		mutate(cfg, &opts)
	}
	return &apiFixture{router: api.SetupRoutes(opts)}
}

func (f *apiFixture) request(t *testing.T, method, path string, as *user, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		req.Header.Set("X-User-ID", as.id)
		req.Header.Set("X-User-Name", as.name)
		req.Header.Set("X-User-Groups", as.groups)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

// created 请求并返回新资源的 ID
func (f *apiFixture) created(t *testing.T, path string, as *user, body interface{}) string {
	t.Helper()
	w := f.request(t, http.MethodPost, path, as, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resource struct {
		ID string `json:"id"`
	}
	decode(t, w, &resource)
	require.NotEmpty(t, resource.ID)
	return resource.ID
}

func (f *apiFixture) reviewWorkflow(t *testing.T, name string) string {
	t.Helper()
	taskID := f.created(t, "/api/v1/tasks", &admin, map[string]interface{}{
		"name":   name + " review",
		"type":   "group_approval",
		"config": map[string]interface{}{"groups": []string{"reviewers"}},
	})
	return f.created(t, "/api/v1/workflows", &admin, map[string]interface{}{
		"name":     name,
		"task_ids": []string{taskID},
	})
}

func (f *apiFixture) page(t *testing.T, title, workflowID string) string {
	t.Helper()
	pageID := f.created(t, "/api/v1/pages", &editor, map[string]interface{}{
		"title":        title,
		"content_type": "blog.BlogPage",
		"url_path":     "/blog/" + title + "/",
		"content":      map[string]string{"body": "hello"},
	})
	if workflowID != "" {
		w := f.request(t, http.MethodPut, "/api/v1/pages/"+pageID+"/workflow", &admin, map[string]interface{}{"workflow_id": workflowID})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	return pageID
}

func TestModerationFlow(t *testing.T) {
	f := newAPIFixture(t, nil)
	workflowID := f.reviewWorkflow(t, "Blog")
	pageID := f.page(t, "hello", workflowID)

	w := f.request(t, http.MethodPost, "/api/v1/pages/"+pageID+"/moderation", &editor, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var state service.WorkflowStateDetail
	decode(t, w, &state)
	assert.Equal(t, "in_progress", string(state.Status))
	require.NotEmpty(t, state.CurrentTaskStateID)

	w = f.request(t, http.MethodPost, "/api/v1/pages/"+pageID+"/moderation", &editor, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.request(t, http.MethodGet, "/api/v1/pages/"+pageID+"/moderation", &editor, nil)
	require.Equal(t, http.StatusOK, w.Code)

	decision := map[string]string{"task_state_id": state.CurrentTaskStateID, "action": "approve"}
	w = f.request(t, http.MethodPost, "/api/v1/workflow-states/"+state.ID+"/decision", &editor, decision)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.request(t, http.MethodPost, "/api/v1/workflow-states/"+state.ID+"/decision", &reviewer, map[string]string{"action": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.request(t, http.MethodPost, "/api/v1/workflow-states/"+state.ID+"/decision", &reviewer, decision)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result service.DecisionResult
	env := decode(t, w, &result)
	assert.Empty(t, env.Warning)
	assert.Equal(t, "approved", string(result.State.Status))

	// 对已结束的运行重复提交返回警告而不是错误
	w = f.request(t, http.MethodPost, "/api/v1/workflow-states/"+state.ID+"/decision", &reviewer, decision)
	require.Equal(t, http.StatusOK, w.Code)
	env = decode(t, w, &result)
	assert.True(t, result.NoOp)
	assert.NotEmpty(t, env.Warning)

	w = f.request(t, http.MethodGet, "/api/v1/pages/"+pageID, &editor, nil)
	var page service.PageDetail
	decode(t, w, &page)
	assert.True(t, page.Live)

	w = f.request(t, http.MethodGet, "/api/v1/workflow-states/"+state.ID+"/task-states", &editor, nil)
	var taskStates []service.TaskStateDetail
	decode(t, w, &taskStates)
	require.Len(t, taskStates, 1)
	assert.Equal(t, "approved", string(taskStates[0].Status))

	w = f.request(t, http.MethodGet, "/api/v1/pages/"+pageID+"/history", &editor, nil)
	var history []service.StateHistory
	decode(t, w, &history)
	assert.NotEmpty(t, history)
}

func TestErrorMapping(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.request(t, http.MethodGet, "/api/v1/workflows", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.request(t, http.MethodPost, "/api/v1/workflows", &editor, map[string]interface{}{"name": "Nope"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.request(t, http.MethodGet, "/api/v1/workflows/missing", &editor, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	env := decode(t, w, nil)
	assert.Equal(t, "Resource not found", env.Message)

	w = f.request(t, http.MethodGet, "/api/v1/workflows/missing", &editor, nil, "Accept-Language", "zh-CN,zh;q=0.9")
	env = decode(t, w, nil)
	assert.Equal(t, "资源未找到", env.Message)

	w = f.request(t, http.MethodGet, "/api/v1/workflows/bad%20id", &editor, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.request(t, http.MethodPost, "/api/v1/workflows", &admin, map[string]interface{}{"name": "Bad", "rejection_policy": "majority"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.request(t, http.MethodGet, "/api/v1/workflow-states?sort_by=password", &editor, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAssignNeedsConfirmation(t *testing.T) {
	f := newAPIFixture(t, nil)
	first := f.created(t, "/api/v1/workflows", &admin, map[string]interface{}{"name": "First"})
	second := f.created(t, "/api/v1/workflows", &admin, map[string]interface{}{"name": "Second"})
	pageID := f.page(t, "assign", first)

	w := f.request(t, http.MethodPut, "/api/v1/pages/"+pageID+"/workflow", &admin, map[string]interface{}{"workflow_id": second})
	require.Equal(t, http.StatusConflict, w.Code)
	var conflict map[string]string
	decode(t, w, &conflict)
	assert.Equal(t, first, conflict["conflicting_workflow_id"])

	w = f.request(t, http.MethodPut, "/api/v1/pages/"+pageID+"/workflow", &admin, map[string]interface{}{"workflow_id": second, "overwrite": true})
	require.Equal(t, http.StatusOK, w.Code)
	var result service.AssignResult
	decode(t, w, &result)
	assert.True(t, result.Changed)

	w = f.request(t, http.MethodDelete, "/api/v1/pages/"+pageID+"/workflow/"+second, &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &result)
	assert.True(t, result.Changed)
}

func TestDisableWorkflowWarning(t *testing.T) {
	f := newAPIFixture(t, nil)
	workflowID := f.reviewWorkflow(t, "Busy")
	for _, title := range []string{"one", "two"} {
		pageID := f.page(t, title, workflowID)
		w := f.request(t, http.MethodPost, "/api/v1/pages/"+pageID+"/moderation", &editor, nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := f.request(t, http.MethodPost, "/api/v1/workflows/"+workflowID+"/disable", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report service.DisableReport
	env := decode(t, w, &report)
	assert.False(t, report.Applied)
	assert.Equal(t, int64(2), report.InProgress)
	assert.Contains(t, env.Warning, "in progress on 2 pages")

	w = f.request(t, http.MethodPost, "/api/v1/workflows/"+workflowID+"/disable", &admin, nil, "Accept-Language", "zh-CN")
	env = decode(t, w, nil)
	assert.Contains(t, env.Warning, "2 个页面")

	w = f.request(t, http.MethodPost, "/api/v1/workflows/"+workflowID+"/disable?confirm=true", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	env = decode(t, w, &report)
	assert.True(t, report.Applied)
	assert.Empty(t, env.Warning)

	w = f.request(t, http.MethodGet, "/api/v1/workflow-states?status=cancelled", &editor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var paged struct {
		Pagination api.PaginationInfo `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &paged))
	assert.Equal(t, int64(2), paged.Pagination.Total)
}

func TestTaskEndpoints(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.request(t, http.MethodGet, "/api/v1/tasks/types", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var selection struct {
		Candidates []map[string]interface{} `json:"candidates"`
	}
	decode(t, w, &selection)
	assert.Len(t, selection.Candidates, 2)

	w = f.request(t, http.MethodPost, "/api/v1/tasks", &admin, map[string]interface{}{"name": "Empty", "type": "group_approval", "config": map[string]interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	taskID := f.created(t, "/api/v1/tasks", &admin, map[string]interface{}{
		"name":   "Users",
		"type":   "user_approval",
		"config": map[string]interface{}{"users": []string{"u-reviewer"}},
	})
	w = f.request(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/disable?confirm=true", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.request(t, http.MethodGet, "/api/v1/tasks", &editor, nil)
	var tasks []service.TaskDetail
	decode(t, w, &tasks)
	assert.Empty(t, tasks)

	w = f.request(t, http.MethodGet, "/api/v1/tasks?show_disabled=true", &editor, nil)
	decode(t, w, &tasks)
	assert.Len(t, tasks, 1)
}

func TestAgingPagesCSV(t *testing.T) {
	f := newAPIFixture(t, nil)
	workflowID := f.reviewWorkflow(t, "Report")
	pageID := f.page(t, "aging", workflowID)

	w := f.request(t, http.MethodPost, "/api/v1/pages/"+pageID+"/moderation", &editor, nil)
	var state service.WorkflowStateDetail
	decode(t, w, &state)
	w = f.request(t, http.MethodPost, "/api/v1/workflow-states/"+state.ID+"/decision", &reviewer, map[string]string{"action": "approve"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.request(t, http.MethodGet, "/api/v1/reports/aging-pages?format=csv", &editor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(api.AgingPagesHeader, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "aging,live,"), lines[1])
	assert.Contains(t, lines[1], "Reviewer")

	w = f.request(t, http.MethodGet, "/api/v1/reports/aging-pages?content_type=news.NewsPage", &editor, nil)
	var rows []service.AgingPage
	decode(t, w, &rows)
	assert.Empty(t, rows)

	w = f.request(t, http.MethodGet, "/api/v1/statistics/summary", &editor, nil)
	var summary service.ModerationStatistics
	decode(t, w, &summary)
	assert.Equal(t, int64(1), summary.ApprovedCount)
}

type staticChecker bool

func (c staticChecker) CheckHealth(context.Context) bool { return bool(c) }

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, nil)
	w := f.request(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(api.RequestIDHeader))

	f = newAPIFixture(t, func(_ *config.Config, opts *api.RouterOptions) {
		opts.HealthChecks = map[string]api.HealthChecker{"openfga": staticChecker(false)}
	})
	w = f.request(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"openfga":"unhealthy"`)
}

func TestMiddlewares(t *testing.T) {
	f := newAPIFixture(t, func(cfg *config.Config, _ *api.RouterOptions) {
		cfg.Server.RateLimit = 1
		cfg.Server.RateBurst = 1
	})

	w := f.request(t, http.MethodOptions, "/api/v1/workflows", nil, nil, "Origin", "https://cms.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	// 预检请求在限流之前返回,不消耗令牌
	w = f.request(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.request(t, http.MethodGet, "/health", nil, nil, api.RequestIDHeader, "req-1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(api.RequestIDHeader))
}
