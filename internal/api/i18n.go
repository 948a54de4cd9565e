package api

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// 带参数的消息键
const (
	MsgWorkflowDisableWarning = "warning.workflow_disable"
	MsgTaskDisableWarning     = "warning.task_disable"
)

// supportedLanguages 第一个为默认语言
var supportedLanguages = []language.Tag{language.English, language.Chinese}

var languageMatcher = language.NewMatcher(supportedLanguages)

// I18nManager 国际化管理器
type I18nManager struct {
	builder *catalog.Builder
}

var defaultI18nManager = newDefaultI18nManager()

// NewI18nManager 创建国际化管理器,找不到翻译时回退到英文
func NewI18nManager() *I18nManager {
	return &I18nManager{builder: catalog.NewBuilder(catalog.Fallback(language.English))}
}

func newDefaultI18nManager() *I18nManager {
	m := NewI18nManager()
	m.mustLoad(language.English, map[string]string{
		"error.not_found":          "Resource not found",
		"error.unauthorized":       "Unauthorized",
		"error.forbidden":          "Forbidden",
		"error.bad_request":        "Bad request",
		"error.conflict":           "The resource was changed by another request, reload and try again",
		"error.needs_confirmation": "Confirmation required",
		"error.invalid_transition": "The workflow has already finished",
		"error.internal_error":     "Internal server error",
		"success.created":          "Created successfully",
		"success.updated":          "Updated successfully",
	})
	m.mustLoad(language.Chinese, map[string]string{
		"error.not_found":          "资源未找到",
		"error.unauthorized":       "未授权",
		"error.forbidden":          "禁止访问",
		"error.bad_request":        "请求错误",
		"error.conflict":           "资源已被其他请求修改,请刷新后重试",
		"error.needs_confirmation": "需要确认",
		"error.invalid_transition": "工作流已结束",
		"error.internal_error":     "服务器内部错误",
		"success.created":          "创建成功",
		"success.updated":          "更新成功",
		MsgWorkflowDisableWarning:  "该工作流正在 %d 个页面上进行审核,禁用后这些页面的审核将被取消。",
		MsgTaskDisableWarning:      "该任务正在 %d 个页面上进行审核,禁用后它将在审核流程中被跳过。",
	})

	must(m.Set(language.English, MsgWorkflowDisableWarning, plural.Selectf(1, "%d",
		plural.One, "This workflow is in progress on %d page. Disabling this workflow will cancel moderation on this page.",
		plural.Other, "This workflow is in progress on %d pages. Disabling this workflow will cancel moderation on these pages.",
	)))
	must(m.Set(language.English, MsgTaskDisableWarning, plural.Selectf(1, "%d",
		plural.One, "This task is in progress on %d page. Disabling this task will cause it to be skipped in the moderation workflow.",
		plural.Other, "This task is in progress on %d pages. Disabling this task will cause it to be skipped in the moderation workflow.",
	)))
	return m
}

func (m *I18nManager) mustLoad(tag language.Tag, messages map[string]string) {
	must(m.LoadMessages(tag, messages))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// LoadMessages 加载语言消息
func (m *I18nManager) LoadMessages(tag language.Tag, messages map[string]string) error {
	for key, msg := range messages {
		if err := m.builder.SetString(tag, key, msg); err != nil {
			return err
		}
	}
	return nil
}

// Set 设置带复数形式的消息
func (m *I18nManager) Set(tag language.Tag, key string, msg ...catalog.Message) error {
	return m.builder.Set(tag, key, msg...)
}

// Translate 翻译消息,找不到时返回 key
func (m *I18nManager) Translate(tag language.Tag, key string, args ...interface{}) string {
	return message.NewPrinter(tag, message.Catalog(m.builder)).Sprintf(key, args...)
}

// I18nMiddleware 国际化中间件,优先使用 lang 查询参数,其次 Accept-Language
func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("language", MatchLanguage(c.Query("lang"), c.GetHeader("Accept-Language")))
		c.Next()
	}
}

// MatchLanguage 从候选语言中选出支持的语言
func MatchLanguage(candidates ...string) language.Tag {
	_, index := language.MatchStrings(languageMatcher, candidates...)
	return supportedLanguages[index]
}

// GetLanguage 从上下文获取语言
func GetLanguage(c *gin.Context) language.Tag {
	if lang, exists := c.Get("language"); exists {
		if tag, ok := lang.(language.Tag); ok {
			return tag
		}
	}
	return supportedLanguages[0]
}

// T 翻译消息(使用默认管理器)
func T(c *gin.Context, key string, args ...interface{}) string {
	return defaultI18nManager.Translate(GetLanguage(c), key, args...)
}
