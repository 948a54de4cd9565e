package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mautops/moderation-gin/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad_FromFile 测试从配置文件加载配置
func TestLoad_FromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
database:
  driver: sqlite
  path: ":memory:"
moderation:
  default_rejection_policy: collect_all
permissions:
  roles:
    moderators: ["workflow:create", "workflow:delete", "task:create"]
frontend_cache:
  enabled: true
  base_url: "https://www.example.com"
  languages: ["en", "zh"]
  backends:
    - name: varnish
      url: "http://varnish:6081"
      method: PURGE
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := config.Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "collect_all", cfg.Moderation.DefaultRejectionPolicy)
	assert.Equal(t, 5, cfg.Moderation.PagesPerWorkflow)
	assert.ElementsMatch(t, []string{"workflow:create", "workflow:delete", "task:create"}, cfg.Permissions.Roles["moderators"])
	require.Len(t, cfg.FrontendCache.Backends, 1)
	assert.Equal(t, "PURGE", cfg.FrontendCache.Backends[0].Method)
	assert.Equal(t, []string{"en", "zh"}, cfg.FrontendCache.Languages)
}

// TestLoad_FromEnv 测试环境变量覆盖配置
func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_SERVER_HOST", "127.0.0.1")
	t.Setenv("APP_REDIS_ADDR", "redis:6379")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

// TestDefault_Values 测试默认配置
func TestDefault_Values(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "any_reject_fails", cfg.Moderation.DefaultRejectionPolicy)
	assert.Equal(t, 5, cfg.Moderation.PagesPerWorkflow)
	assert.Equal(t, "@every 1m", cfg.Metrics.CollectSchedule)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 3, cfg.Webhooks.MaxRetries)
	assert.False(t, config.IsProduction(cfg))
}

// TestIsProduction 测试生产环境判断
func TestIsProduction(t *testing.T) {
	assert.False(t, config.IsProduction(nil))
	assert.True(t, config.IsProduction(&config.Config{Env: "production"}))
}

// TestValidate 测试配置校验
func TestValidate(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	cfg.Moderation.DefaultRejectionPolicy = "majority"
	assert.Error(t, cfg.Validate())

	cfg = config.Default()
	cfg.Metrics.CollectSchedule = "not a schedule"
	assert.Error(t, cfg.Validate())

	cfg = config.Default()
	cfg.Log.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = config.Default()
	cfg.Database.Driver = "oracle"
	assert.Error(t, cfg.Validate())
}

// TestRestartRequired 测试连接类配置变更检测
func TestRestartRequired(t *testing.T) {
	prev := config.Default()
	next := config.Default()
	assert.Empty(t, config.RestartRequired(prev, next))

	next.Log.Level = "error"
	next.Permissions.Roles = map[string][]string{"moderators": {"*"}}
	assert.Empty(t, config.RestartRequired(prev, next))

	next.Database.Host = "db.internal"
	next.Redis.Enabled = true
	assert.Equal(t, []string{"database", "redis"}, config.RestartRequired(prev, next))
	assert.Nil(t, config.RestartRequired(nil, next))
}

// TestConfigWatcher_Start 测试监听器读取配置文件
func TestConfigWatcher_Start(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log:\n  level: info\n"), 0644))

	cfg := config.Default()
	w := config.NewConfigWatcher(cfg, configPath)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)
	assert.Same(t, cfg, w.GetConfig())

	missing := config.NewConfigWatcher(cfg, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, missing.Start())
}
