package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mautops/moderation-gin/internal/config"
	"github.com/mautops/moderation-gin/internal/events"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// CachePurger 页面发布或下线后清理前端缓存
type CachePurger struct {
	baseURL    *url.URL
	languages  []string
	backends   []config.FrontendCacheBackend
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewCachePurger 创建前端缓存清理器
func NewCachePurger(cfg config.FrontendCacheConfig, logger *logrus.Logger) (*CachePurger, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid frontend cache base url %q", cfg.BaseURL)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CachePurger{
		baseURL:    base,
		languages:  cfg.Languages,
		backends:   cfg.Backends,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}, nil
}

// Handle 实现 events.Handler,只处理页面发布与下线事件
func (p *CachePurger) Handle(ctx context.Context, evt *events.Event) error {
	if evt.Type != events.PagePublished && evt.Type != events.PageUnpublished {
		return nil
	}
	if evt.URLPath == "" {
		return nil
	}
	return p.Purge(ctx, p.URLs(evt.URLPath))
}

// URLs 页面路径对应的全部缓存地址,配置了语言时每种语言一个前缀
func (p *CachePurger) URLs(path string) []string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(p.languages) == 0 {
		return []string{p.absolute(path)}
	}
	urls := make([]string, 0, len(p.languages))
	for _, lang := range p.languages {
		urls = append(urls, p.absolute("/"+lang+path))
	}
	return urls
}

func (p *CachePurger) absolute(path string) string {
	u := *p.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

// Purge 每个后端一批,后端之间并发执行
func (p *CachePurger) Purge(ctx context.Context, urls []string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, backend := range p.backends {
		backend := backend
		g.Go(func() error {
			if err := p.purgeBackend(ctx, backend, urls); err != nil {
				return fmt.Errorf("backend %s: %w", backend.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	p.logger.WithField("urls", urls).Debug("frontend cache purged")
	return nil
}

// purgeBackend POST 后端一次提交全部地址,PURGE 后端逐个地址发送
func (p *CachePurger) purgeBackend(ctx context.Context, backend config.FrontendCacheBackend, urls []string) error {
	if strings.EqualFold(backend.Method, http.MethodPost) {
		body, err := json.Marshal(map[string][]string{"files": urls})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, backend.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		return p.do(req)
	}

	for _, raw := range urls {
		target, err := url.Parse(raw)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, "PURGE", strings.TrimSuffix(backend.URL, "/")+target.RequestURI(), nil)
		if err != nil {
			return err
		}
		req.Host = target.Host
		if err := p.do(req); err != nil {
			return err
		}
	}
	return nil
}

func (p *CachePurger) do(req *http.Request) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s returned status code: %d", req.Method, req.URL, resp.StatusCode)
	}
	return nil
}
