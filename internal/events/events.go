package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/sirupsen/logrus"
)

// Topic 审核事件主题
const Topic = "moderation.events"

// Type 事件类型
type Type string

const (
	WorkflowStarted   Type = "workflow.started"
	WorkflowApproved  Type = "workflow.approved"
	WorkflowRejected  Type = "workflow.rejected"
	WorkflowCancelled Type = "workflow.cancelled"
	TaskStarted       Type = "task.started"
	TaskApproved      Type = "task.approved"
	TaskRejected      Type = "task.rejected"
	TaskSkipped       Type = "task.skipped"
	TaskCancelled     Type = "task.cancelled"
	TaskNeedsInput    Type = "task.needs_input"
	PagePublished     Type = "page.published"
	PageUnpublished   Type = "page.unpublished"
)

// Event 审核状态变更事件
type Event struct {
	ID              string    `json:"id"`
	Type            Type      `json:"type"`
	PageID          string    `json:"page_id"`
	URLPath         string    `json:"url_path,omitempty"`
	WorkflowID      string    `json:"workflow_id,omitempty"`
	WorkflowStateID string    `json:"workflow_state_id,omitempty"`
	TaskID          string    `json:"task_id,omitempty"`
	TaskStateID     string    `json:"task_state_id,omitempty"`
	Status          string    `json:"status,omitempty"`
	Actor           string    `json:"actor,omitempty"`
	Comment         string    `json:"comment,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Handler 事件处理函数
type Handler func(ctx context.Context, event *Event) error

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, events ...*Event) error
}

// Bus 基于 watermill gochannel 的进程内事件总线
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *logrus.Logger
}

// NewBus 创建事件总线
func NewBus(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            1000,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		NewLogrusAdapter(logger),
	)
	return &Bus{pubSub: pubSub, logger: logger}
}

// Publish 发布事件,ID 与时间为空时自动填充
func (b *Bus) Publish(ctx context.Context, events ...*Event) error {
	msgs := make([]*message.Message, 0, len(events))
	for _, event := range events {
		if event.ID == "" {
			event.ID = watermill.NewULID()
		}
		if event.OccurredAt.IsZero() {
			event.OccurredAt = time.Now()
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		msg := message.NewMessage(event.ID, payload)
		msg.SetContext(ctx)
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}
	return b.pubSub.Publish(Topic, msgs...)
}

// Subscribe 注册订阅者,处理失败只记录日志,不重新投递
func (b *Bus) Subscribe(ctx context.Context, name string, handler Handler) error {
	messages, err := b.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", name, err)
	}

	go func() {
		for msg := range messages {
			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				b.logger.WithError(err).WithField("subscriber", name).Warn("dropping malformed event")
				msg.Ack()
				continue
			}
			if err := handler(ctx, &event); err != nil {
				b.logger.WithError(err).WithFields(logrus.Fields{
					"subscriber": name,
					"event_id":   event.ID,
					"event_type": event.Type,
					"page_id":    event.PageID,
				}).Error("event handler failed")
			}
			msg.Ack()
		}
	}()

	return nil
}

// Close 关闭事件总线
func (b *Bus) Close() error {
	return b.pubSub.Close()
}

// logrusAdapter 将 watermill 日志输出到 logrus
type logrusAdapter struct {
	entry *logrus.Entry
}

// NewLogrusAdapter 创建 watermill 日志适配器
func NewLogrusAdapter(logger *logrus.Logger) watermill.LoggerAdapter {
	return &logrusAdapter{entry: logrus.NewEntry(logger).WithField("component", "event_bus")}
}

func (a *logrusAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.entry.WithFields(logrus.Fields(fields)).WithError(err).Error(msg)
}

func (a *logrusAdapter) Info(msg string, fields watermill.LogFields) {
	a.entry.WithFields(logrus.Fields(fields)).Info(msg)
}

func (a *logrusAdapter) Debug(msg string, fields watermill.LogFields) {
	a.entry.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (a *logrusAdapter) Trace(msg string, fields watermill.LogFields) {
	a.entry.WithFields(logrus.Fields(fields)).Trace(msg)
}

func (a *logrusAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &logrusAdapter{entry: a.entry.WithFields(logrus.Fields(fields))}
}
