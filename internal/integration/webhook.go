package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/moderation-gin/internal/events"
	"github.com/mautops/moderation-gin/internal/model"
	"github.com/mautops/moderation-gin/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// 事件推送状态
const (
	EventStatusPending = "pending"
	EventStatusSuccess = "success"
	EventStatusFailed  = "failed"
)

// WebhookOptions Webhook 推送配置
type WebhookOptions struct {
	URLs       []string
	MaxRetries int
	Timeout    time.Duration
	Backoff    time.Duration // 首次重试等待时间,之后指数增长
}

// WebhookDispatcher 持久化审核事件并推送到配置的 Webhook
type WebhookDispatcher struct {
	eventRepo  repository.EventRepository
	opts       WebhookOptions
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewWebhookDispatcher 创建 Webhook 推送器
func NewWebhookDispatcher(db *gorm.DB, opts WebhookOptions, logger *logrus.Logger) *WebhookDispatcher {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WebhookDispatcher{
		eventRepo:  repository.NewEventRepository(db),
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger,
	}
}

// Handle 实现 events.Handler
// 事件先落库为 pending,全部 Webhook 成功后标记 success,重试耗尽后标记 failed
func (d *WebhookDispatcher) Handle(ctx context.Context, evt *events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	now := time.Now()
	record := &model.EventModel{
		ID:        uuid.New().String(),
		PageID:    evt.PageID,
		Type:      string(evt.Type),
		Data:      payload,
		Status:    EventStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	if err := d.eventRepo.Save(record); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	if len(d.opts.URLs) == 0 {
		return d.finish(record, EventStatusSuccess)
	}

	backoff := d.opts.Backoff
	pending := append([]string(nil), d.opts.URLs...)
	for attempt := 0; attempt < d.opts.MaxRetries; attempt++ {
		pending, err = d.deliver(ctx, pending, payload)
		if err == nil {
			return d.finish(record, EventStatusSuccess)
		}
		record.RetryCount++
		d.logger.WithError(err).WithFields(logrus.Fields{
			"event_id": evt.ID,
			"type":     evt.Type,
			"attempt":  attempt + 1,
			"pending":  len(pending),
		}).Warn("webhook delivery failed")

		if attempt == d.opts.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			_ = d.finish(record, EventStatusFailed)
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	if ferr := d.finish(record, EventStatusFailed); ferr != nil {
		return ferr
	}
	return fmt.Errorf("webhook delivery of %s failed after %d attempts: %w", evt.ID, record.RetryCount, err)
}

// deliver 并发推送到尚未成功的 Webhook,返回仍需重试的地址
// 已成功的地址不会在重试中再次收到同一事件
func (d *WebhookDispatcher) deliver(ctx context.Context, urls []string, payload []byte) ([]string, error) {
	var (
		g      errgroup.Group
		failed = make([]bool, len(urls))
	)
	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			if err := d.send(ctx, url, payload); err != nil {
				failed[i] = true
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	var pending []string
	for i, url := range urls {
		if failed[i] {
			pending = append(pending, url)
		}
	}
	return pending, err
}

func (d *WebhookDispatcher) send(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status code: %d", url, resp.StatusCode)
	}
	return nil
}

func (d *WebhookDispatcher) finish(record *model.EventModel, status string) error {
	record.Status = status
	record.UpdatedAt = time.Now()
	if err := d.eventRepo.Save(record); err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	return nil
}
