package config

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// restartSections 连接类配置,修改后需要重启进程才能生效
var restartSections = []string{"server", "database", "redis", "openfga", "keycloak", "tracing"}

// ConfigWatcher 监听配置文件,重新加载并校验后通知订阅者
// 校验失败时保留上一份配置
type ConfigWatcher struct {
	path     string
	v        *viper.Viper
	mu       sync.RWMutex
	current  *Config
	handlers []func(*Config)
	stopped  atomic.Bool
}

// NewConfigWatcher 创建配置监听器
func NewConfigWatcher(cfg *Config, configPath string) *ConfigWatcher {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &ConfigWatcher{
		path:    configPath,
		v:       v,
		current: cfg,
	}
}

// OnConfigChange 注册配置变更回调
func (w *ConfigWatcher) OnConfigChange(handler func(*Config)) {
	w.mu.Lock()
	w.handlers = append(w.handlers, handler)
	w.mu.Unlock()
}

// Start 读取配置文件并开始监听
func (w *ConfigWatcher) Start() error {
	if err := w.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	w.v.OnConfigChange(func(e fsnotify.Event) {
		if w.stopped.Load() {
			return
		}
		if err := w.reload(); err != nil {
			logrus.WithError(err).WithField("file", e.Name).Error("config reload rejected")
		}
	})
	w.v.WatchConfig()
	return nil
}

// reload 从 viper 解析当前文件内容,校验通过后替换配置并通知订阅者
func (w *ConfigWatcher) reload() error {
	var next Config
	if err := w.v.Unmarshal(&next); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := next.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	prev := w.current
	w.current = &next
	handlers := append([]func(*Config){}, w.handlers...)
	w.mu.Unlock()

	entry := logrus.WithField("file", w.path)
	if changed := RestartRequired(prev, &next); len(changed) > 0 {
		entry.WithField("sections", changed).Warn("config sections changed that only apply after restart")
	}
	// 回调在锁外执行,回调内可以调用 GetConfig
	for _, handler := range handlers {
		handler(&next)
	}
	entry.Info("config reloaded")
	return nil
}

// Stop 停止通知,之后的文件变更被忽略
func (w *ConfigWatcher) Stop() {
	w.stopped.Store(true)
}

// GetConfig 获取当前生效的配置
func (w *ConfigWatcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// RestartRequired 返回两份配置之间发生变化的连接类配置段
func RestartRequired(prev, next *Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	a := reflect.ValueOf(*prev)
	b := reflect.ValueOf(*next)
	t := a.Type()

	var changed []string
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("mapstructure")
		if !contains(restartSections, tag) {
			continue
		}
		if !reflect.DeepEqual(a.Field(i).Interface(), b.Field(i).Interface()) {
			changed = append(changed, tag)
		}
	}
	return changed
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
