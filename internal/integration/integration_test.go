package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mautops/moderation-gin/internal/config"
	"github.com/mautops/moderation-gin/internal/database"
	"github.com/mautops/moderation-gin/internal/events"
	"github.com/mautops/moderation-gin/internal/repository"
	"github.com/sirupsen/logrus"
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

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestWebhookDispatcher_Delivers(t *testing.T) {
	db := setupTestDB(t)
	var received []events.Event
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt events.Event
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&evt)) {
			mu.Lock()
			received = append(received, evt)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	dispatcher := NewWebhookDispatcher(db, WebhookOptions{URLs: []string{server.URL, server.URL}}, quietLogger())
	err := dispatcher.Handle(context.Background(), &events.Event{ID: "evt-1", Type: events.WorkflowApproved, PageID: "page-1"})
	require.NoError(t, err)

	assert.Len(t, received, 2)
	assert.Equal(t, events.WorkflowApproved, received[0].Type)

	stored, err := repository.NewEventRepository(db).FindByPageID("page-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, EventStatusSuccess, stored[0].Status)
	assert.Equal(t, 0, stored[0].RetryCount)
}

func TestWebhookDispatcher_RetriesThenFails(t *testing.T) {
	db := setupTestDB(t)
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	dispatcher := NewWebhookDispatcher(db, WebhookOptions{
		URLs:       []string{server.URL},
		MaxRetries: 3,
		Backoff:    time.Millisecond,
	}, quietLogger())
	err := dispatcher.Handle(context.Background(), &events.Event{ID: "evt-2", Type: events.TaskRejected, PageID: "page-2"})
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	stored, err := repository.NewEventRepository(db).FindByPageID("page-2")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, EventStatusFailed, stored[0].Status)
	assert.Equal(t, 3, stored[0].RetryCount)
}

func TestWebhookDispatcher_RetriesOnlyFailedURLs(t *testing.T) {
	db := setupTestDB(t)
	var healthy, flaky int32
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&healthy, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()
	// 第一次返回 502,之后成功
	unstable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&flaky, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer unstable.Close()

	dispatcher := NewWebhookDispatcher(db, WebhookOptions{
		URLs:       []string{ok.URL, unstable.URL},
		MaxRetries: 3,
		Backoff:    time.Millisecond,
	}, quietLogger())
	err := dispatcher.Handle(context.Background(), &events.Event{ID: "evt-3", Type: events.WorkflowApproved, PageID: "page-3"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&healthy))
	assert.Equal(t, int32(2), atomic.LoadInt32(&flaky))

	stored, err := repository.NewEventRepository(db).FindByPageID("page-3")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, EventStatusSuccess, stored[0].Status)
	assert.Equal(t, 1, stored[0].RetryCount)
}

func TestCachePurger_URLs(t *testing.T) {
	purger, err := NewCachePurger(config.FrontendCacheConfig{BaseURL: "https://www.example.com"}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.example.com/blog/launch/"}, purger.URLs("/blog/launch/"))

	purger, err = NewCachePurger(config.FrontendCacheConfig{
		BaseURL:   "https://www.example.com/",
		Languages: []string{"en", "fr"},
	}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.example.com/en/blog/",
		"https://www.example.com/fr/blog/",
	}, purger.URLs("blog/"))

	_, err = NewCachePurger(config.FrontendCacheConfig{BaseURL: "not a url"}, nil)
	assert.Error(t, err)
}

func TestCachePurger_Handle(t *testing.T) {
	var mu sync.Mutex
	var purged []string
	var batches [][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case "PURGE":
			purged = append(purged, r.Host+r.URL.Path)
		case http.MethodPost:
			var body map[string][]string
			if assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
				batches = append(batches, body["files"])
			}
		}
	}))
	defer server.Close()

	purger, err := NewCachePurger(config.FrontendCacheConfig{
		BaseURL:   "https://www.example.com",
		Languages: []string{"en", "de"},
		Backends: []config.FrontendCacheBackend{
			{Name: "varnish", URL: server.URL, Method: "PURGE"},
			{Name: "cdn", URL: server.URL + "/purge", Method: "POST"},
		},
	}, quietLogger())
	require.NoError(t, err)

	require.NoError(t, purger.Handle(context.Background(), &events.Event{Type: events.TaskApproved, URLPath: "/blog/"}))
	assert.Empty(t, purged)

	require.NoError(t, purger.Handle(context.Background(), &events.Event{Type: events.PagePublished, URLPath: "/blog/"}))
	assert.ElementsMatch(t, []string{"www.example.com/en/blog/", "www.example.com/de/blog/"}, purged)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
}
