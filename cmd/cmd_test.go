package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mautops/moderation-gin/internal/config"
	"github.com/mautops/moderation-gin/internal/database"
	"github.com/mautops/moderation-gin/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	t.Cleanup(func() {
		root.SetOut(nil)
		root.SetErr(nil)
		root.SetArgs(nil)
	})
	err := root.Execute()
	return out.String(), err
}

// writeConfig 写入使用 sqlite 文件库的配置
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "moderation.db")
	configPath := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("database:\n  driver: sqlite\n  path: %s\n", dbPath)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))
	return configPath, dbPath
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range GetRootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"server", "migrate", "report", "permissions"} {
		assert.True(t, names[name], name)
	}
}

func TestMigrateAndAgingReport(t *testing.T) {
	configPath, dbPath := writeConfig(t)

	_, err := runRoot(t, "migrate", "--config", configPath)
	require.NoError(t, err)

	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: dbPath})
	require.NoError(t, err)
	published := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	now := time.Now()
	require.NoError(t, db.Create(&model.PageModel{
		ID: "page-1", Title: "Old news", ContentType: "blog.BlogPage", Live: true,
		LastPublishedAt: &published, CreatedAt: now, UpdatedAt: now,
	}).Error)
	sqlDB, _ := db.DB()
	require.NoError(t, sqlDB.Close())

	out, err := runRoot(t, "report", "aging", "--config", configPath, "--format", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "Title,Status,Last published at,Last published by,Type")
	assert.Contains(t, out, "Old news")
	assert.Contains(t, out, "2024-01-02")

	out, err = runRoot(t, "report", "aging", "--config", configPath, "--format", "csv", "--before", "2023-12-31")
	require.NoError(t, err)
	assert.NotContains(t, out, "Old news")

	_, err = runRoot(t, "report", "aging", "--config", configPath, "--format", "xml")
	assert.Error(t, err)
}

func TestPermissionsCommands(t *testing.T) {
	out, err := runRoot(t, "permissions", "model")
	require.NoError(t, err)
	assert.Contains(t, out, "type workflow")

	_, _, err = parseCapability("task", "add_to_page")
	assert.Error(t, err)
	_, _, err = parseCapability("page", "create")
	assert.Error(t, err)
	resource, capability, err := parseCapability("workflow", "add_to_page")
	require.NoError(t, err)
	assert.Equal(t, "workflow", string(resource))
	assert.Equal(t, "add_to_page", string(capability))

	// 未配置 OpenFGA store 时拒绝写入
	configPath, _ := writeConfig(t)
	_, err = runRoot(t, "permissions", "grant", "editors", "workflow", "create", "--config", configPath)
	assert.Error(t, err)
}
