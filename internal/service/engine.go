package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mautops/moderation-gin/internal/events"
	"github.com/mautops/moderation-gin/internal/lock"
	"github.com/mautops/moderation-gin/internal/metrics"
	"github.com/mautops/moderation-gin/internal/model"
	"github.com/mautops/moderation-gin/internal/moderation"
	"github.com/mautops/moderation-gin/internal/repository"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Options 审核引擎选项
type Options struct {
	// DefaultRejectionPolicy 新建工作流未指定策略时使用
	DefaultRejectionPolicy moderation.RejectionPolicy
	// PagesPerWorkflow 工作流页面列表的分页大小
	PagesPerWorkflow int
	// LockTimeout 等待页面锁的最长时间
	LockTimeout time.Duration
}

// Dependencies 各服务共享的依赖
type Dependencies struct {
	DB          *gorm.DB
	Registry    *moderation.Registry
	Policy      moderation.PermissionPolicy
	Locker      lock.Locker
	Publisher   events.Publisher
	AuditLogSvc AuditLogService
	Logger      *logrus.Logger
	Options     Options
}

// engine 工作流、任务与页面服务共用的核心
type engine struct {
	db          *gorm.DB
	registry    *moderation.Registry
	policy      moderation.PermissionPolicy
	locker      lock.Locker
	publisher   events.Publisher
	auditLogSvc AuditLogService
	logger      *logrus.Logger
	validate    *validator.Validate
	opts        Options
	now         func() time.Time
}

func newEngine(deps Dependencies) *engine {
	e := &engine{
		db:          deps.DB,
		registry:    deps.Registry,
		policy:      deps.Policy,
		locker:      deps.Locker,
		publisher:   deps.Publisher,
		auditLogSvc: deps.AuditLogSvc,
		logger:      deps.Logger,
		opts:        deps.Options,
		now:         time.Now,
	}
	if e.registry == nil {
		e.registry = moderation.DefaultRegistry()
	}
	if e.locker == nil {
		e.locker = lock.NewLocalLocker()
	}
	if e.auditLogSvc == nil {
		e.auditLogSvc = NewAuditLogService(repository.NewAuditLogRepository(deps.DB))
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	if e.opts.DefaultRejectionPolicy == "" {
		e.opts.DefaultRejectionPolicy = moderation.RejectAnyFails
	}
	if e.opts.PagesPerWorkflow <= 0 {
		e.opts.PagesPerWorkflow = 5
	}
	if e.opts.LockTimeout <= 0 {
		e.opts.LockTimeout = 10 * time.Second
	}
	// 与 gin 的 binding 标签保持一致
	e.validate = validator.New()
	e.validate.SetTagName("binding")
	return e
}

// actor 获取当前操作人,未认证时返回 ErrPermissionDenied
func (e *engine) actor(ctx context.Context) (moderation.Actor, error) {
	actor, ok := moderation.ActorFromContext(ctx)
	if !ok {
		return moderation.Actor{}, fmt.Errorf("unauthenticated: %w", moderation.ErrPermissionDenied)
	}
	return actor, nil
}

// authorize 在修改前校验操作人的能力
func (e *engine) authorize(ctx context.Context, resource moderation.Resource, capability moderation.Capability) (moderation.Actor, error) {
	actor, err := e.actor(ctx)
	if err != nil {
		return actor, err
	}
	if e.policy == nil {
		return actor, fmt.Errorf("no permission policy configured: %w", moderation.ErrPermissionDenied)
	}
	allowed, err := e.policy.HasCapability(ctx, actor, resource, capability)
	if err != nil {
		return actor, fmt.Errorf("failed to check permission: %w", err)
	}
	if !allowed {
		return actor, fmt.Errorf("%s lacks %s:%s: %w", actor.ID, resource, capability, moderation.ErrPermissionDenied)
	}
	return actor, nil
}

// lockPage 获取页面级互斥锁
func (e *engine) lockPage(ctx context.Context, pageID string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.LockTimeout)
	defer cancel()

	start := time.Now()
	unlock, err := e.locker.Lock(ctx, "page:"+pageID)
	metrics.ObserveLockWait(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to lock page %s: %w", pageID, moderation.ErrConflict)
	}
	return unlock, nil
}

func (e *engine) validateRequest(req interface{}) error {
	if err := e.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", moderation.ErrValidation, err)
	}
	return nil
}

// emit 在事务提交后发布事件,发布失败只记录日志
func (e *engine) emit(ctx context.Context, evts []*events.Event) {
	if e.publisher == nil || len(evts) == 0 {
		return
	}
	if err := e.publisher.Publish(ctx, evts...); err != nil {
		e.logger.WithError(err).WithField("count", len(evts)).Warn("failed to publish moderation events")
	}
}

// recordAudit 在事务中写入审计日志
func (e *engine) recordAudit(ctx context.Context, tx *gorm.DB, actor moderation.Actor, action, resourceType, resourceID string, details interface{}) error {
	if err := e.auditLogSvc.WithDB(tx).RecordAction(ctx, actor.ID, action, resourceType, resourceID, details); err != nil {
		return fmt.Errorf("failed to record audit log: %w", err)
	}
	return nil
}

func recordHistory(tx *gorm.DB, entityType, entityID, pageID, from, to, reason, operator string, at time.Time) error {
	entry := &model.StateHistoryModel{
		ID:         uuid.New().String(),
		EntityType: entityType,
		EntityID:   entityID,
		PageID:     pageID,
		FromState:  from,
		ToState:    to,
		Reason:     reason,
		Operator:   operator,
		CreatedAt:  at,
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid state history: %w", err)
	}
	return repository.NewStateHistoryRepository(tx).Save(entry)
}

// persistTransition 持久化一次状态变更,返回提交后需要发布的事件
// created 为 true 时插入新运行,否则按 expected 当前任务状态做条件更新
func (e *engine) persistTransition(
	tx *gorm.DB,
	state *moderation.WorkflowState,
	tr *moderation.Transition,
	expected string,
	created bool,
	actor moderation.Actor,
	comment string,
) ([]*events.Event, error) {
	now := e.now()
	states := repository.NewWorkflowStateRepository(tx)
	wsm := fromWorkflowState(state, now)

	if created {
		if err := states.Create(wsm); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, fmt.Errorf("page %s: %w", state.PageID, moderation.ErrAlreadyInProgress)
			}
			return nil, fmt.Errorf("failed to create workflow state: %w", err)
		}
	} else {
		ok, err := states.UpdateIfCurrent(wsm, expected)
		if err != nil {
			return nil, fmt.Errorf("failed to update workflow state: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("workflow state %s changed concurrently: %w", state.ID, moderation.ErrConflict)
		}
	}

	var evts []*events.Event
	base := events.Event{
		PageID:          state.PageID,
		WorkflowID:      state.WorkflowID,
		WorkflowStateID: state.ID,
		Actor:           actor.ID,
		Comment:         comment,
	}

	for _, ts := range []*moderation.TaskState{tr.Finished, tr.Updated, tr.Started} {
		if ts == nil {
			continue
		}
		tsm, err := fromTaskState(ts)
		if err != nil {
			return nil, err
		}
		if err := states.SaveTaskState(tsm); err != nil {
			return nil, fmt.Errorf("failed to save task state: %w", err)
		}
	}

	if created {
		if err := recordHistory(tx, resourceWorkflowState, state.ID, state.PageID, "", string(moderation.StatusInProgress), "", actor.ID, now); err != nil {
			return nil, err
		}
		evt := base
		evt.Type = events.WorkflowStarted
		evt.Status = string(moderation.StatusInProgress)
		evts = append(evts, &evt)
	}
	if ts := tr.Finished; ts != nil {
		if err := recordHistory(tx, "task_state", ts.ID, state.PageID, string(moderation.StatusInProgress), string(ts.Status), ts.Comment, actor.ID, now); err != nil {
			return nil, err
		}
		evt := base
		evt.Type = taskEventType(ts.Status)
		evt.TaskID, evt.TaskStateID, evt.Status = ts.TaskID, ts.ID, string(ts.Status)
		evts = append(evts, &evt)
	}
	if ts := tr.Updated; ts != nil {
		evt := base
		evt.Type = events.TaskNeedsInput
		evt.TaskID, evt.TaskStateID, evt.Status = ts.TaskID, ts.ID, string(ts.Status)
		evts = append(evts, &evt)
	}
	if ts := tr.Started; ts != nil {
		if err := recordHistory(tx, "task_state", ts.ID, state.PageID, "", string(ts.Status), "", actor.ID, now); err != nil {
			return nil, err
		}
		evt := base
		evt.Type = events.TaskStarted
		evt.TaskID, evt.TaskStateID, evt.Status = ts.TaskID, ts.ID, string(ts.Status)
		evt.Comment = ""
		evts = append(evts, &evt)
	}
	if tr.Terminal() {
		if err := recordHistory(tx, resourceWorkflowState, state.ID, state.PageID, string(tr.From), string(tr.To), comment, actor.ID, now); err != nil {
			return nil, err
		}
		evt := base
		evt.Type = workflowEventType(tr.To)
		evt.Status = string(tr.To)
		evts = append(evts, &evt)
	}
	return evts, nil
}

// publishRevision 审核通过后发布运行快照的修订
func (e *engine) publishRevision(ctx context.Context, tx *gorm.DB, state *moderation.WorkflowState, actor moderation.Actor) (*events.Event, error) {
	pages := repository.NewPageRepository(tx)
	page, err := pages.FindByIDForUpdate(state.PageID)
	if err != nil {
		return nil, notFound(err, "page", state.PageID)
	}

	now := e.now()
	page.Live = true
	page.LiveRevisionID = state.RevisionID
	page.LastPublishedAt = &now
	page.HasUnpublishedChanges = page.LatestRevisionID != state.RevisionID
	page.UpdatedAt = now
	if err := pages.Save(page); err != nil {
		return nil, fmt.Errorf("failed to publish page: %w", err)
	}

	details := map[string]interface{}{
		"revision_id":       state.RevisionID,
		"workflow_state_id": state.ID,
	}
	if err := e.recordAudit(ctx, tx, actor, AuditActionPublish, resourcePage, page.ID, details); err != nil {
		return nil, err
	}
	metrics.RecordPagePublished()

	return &events.Event{
		Type:            events.PagePublished,
		PageID:          page.ID,
		URLPath:         page.URLPath,
		WorkflowID:      state.WorkflowID,
		WorkflowStateID: state.ID,
		Actor:           actor.ID,
	}, nil
}

func taskEventType(status moderation.Status) events.Type {
	switch status {
	case moderation.StatusApproved:
		return events.TaskApproved
	case moderation.StatusRejected:
		return events.TaskRejected
	case moderation.StatusSkipped:
		return events.TaskSkipped
	default:
		return events.TaskCancelled
	}
}

func workflowEventType(status moderation.Status) events.Type {
	switch status {
	case moderation.StatusApproved:
		return events.WorkflowApproved
	case moderation.StatusRejected:
		return events.WorkflowRejected
	default:
		return events.WorkflowCancelled
	}
}

// loadState 读取工作流运行及其任务状态
func loadState(tx *gorm.DB, id string) (*moderation.WorkflowState, error) {
	states := repository.NewWorkflowStateRepository(tx)
	wsm, err := states.FindByID(id)
	if err != nil {
		return nil, notFound(err, "workflow state", id)
	}
	taskStates, err := states.FindTaskStates(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get task states: %w", err)
	}
	return toWorkflowState(wsm, taskStates)
}
