package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/shaiso/Operon/internal/domain"
	"github.com/shaiso/Operon/internal/engine"
	"github.com/shaiso/Operon/internal/fault"
	"github.com/shaiso/Operon/internal/metering"
	"github.com/shaiso/Operon/internal/mq"
	"github.com/shaiso/Operon/internal/retry"
	"github.com/shaiso/Operon/internal/telemetry"
)

// bookkeepingTimeout ограничивает запись журнала и публикацию события.
const bookkeepingTimeout = 10 * time.Second

// Engine — часть протокола движка, через которую lifecycle
// сообщает итог обработки задачи.
type Engine interface {
	Complete(ctx context.Context, task *domain.ExternalTask, vars map[string]any) error
	HandleFailure(ctx context.Context, task *domain.ExternalTask, f engine.Failure) error
	HandleBpmnError(ctx context.Context, task *domain.ExternalTask, code, message string, vars map[string]any) error
}

// Journal — журнал обработок задач.
type Journal interface {
	Record(ctx context.Context, a *domain.Attempt) error
}

// Events — публикация событий обработки задач.
type Events interface {
	PublishTaskEvent(ctx context.Context, payload mq.TaskEventPayload) error
}

// LifecycleConfig — зависимости Lifecycle. Metering, Journal и Events
// необязательны.
type LifecycleConfig struct {
	Engine   Engine
	Policy   retry.Policy
	Metering *metering.Dispatcher
	Journal  Journal
	Events   Events
}

// Lifecycle проводит одну задачу через этапы обработки и сообщает
// итог движку.
//
// Успех:
//
//	LOCKED → VALIDATING → RESOLVING → EXECUTING → PROJECTING → COMPLETING
//
// Ошибка на любом этапе переводит задачу в FAILING, после чего
// RetryPolicy выбирает RETRY_SCHEDULED или BPMN_ERROR_RAISED.
type Lifecycle struct {
	engine   Engine
	policy   retry.Policy
	validate *validator.Validate
	metering *metering.Dispatcher
	journal  Journal
	events   Events
	now      func() time.Time

	wg sync.WaitGroup
}

// NewLifecycle создаёт Lifecycle.
func NewLifecycle(cfg LifecycleConfig) *Lifecycle {
	return &Lifecycle{
		engine:   cfg.Engine,
		policy:   cfg.Policy,
		validate: NewValidator(),
		metering: cfg.Metering,
		journal:  cfg.Journal,
		events:   cfg.Events,
		now:      time.Now,
	}
}

// Handle обрабатывает задачу обработчиком h. Ошибки обработки
// не возвращаются: они уходят движку как failure или BPMN-ошибка.
func (l *Lifecycle) Handle(ctx context.Context, task *domain.ExternalTask, h Handler) {
	start := l.now()

	logger := telemetry.WithTaskID(telemetry.FromContext(ctx), task.ID)
	logger = telemetry.WithTopic(logger, task.TopicName)
	logger = telemetry.WithActivity(logger, task.ActivityID, task.ProcessInstanceID)
	ctx = telemetry.WithLogger(ctx, logger)

	defer func() {
		telemetry.HandlerDuration.WithLabelValues(task.TopicName).Observe(l.now().Sub(start).Seconds())
	}()

	op := domain.NewOperation(task)
	op.StartedAt = start

	stage, err := l.run(ctx, op, h)
	if err != nil {
		l.fail(ctx, op, h, stage, err)
		return
	}
	l.complete(ctx, op)
}

// run выполняет этапы до COMPLETING. Возвращает этап, на котором
// произошла ошибка. Паника обработчика становится ошибкой класса Fatal.
func (l *Lifecycle) run(ctx context.Context, op *domain.Operation, h Handler) (stage domain.Stage, err error) {
	logger := telemetry.FromContext(ctx)
	stage = domain.StageLocked

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling task",
				"stage", stage,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fault.Wrap(fault.Fatal, fault.CodeGeneric, fmt.Errorf("panic: %v", r), "Unexpected error: %v", r)
		}
	}()

	enter := func(next domain.Stage) {
		stage = next
		logger.Debug("task stage", "stage", stage)
	}

	enter(domain.StageValidating)
	if err := parseInput(op, l.validate, h.Component(), h.Mandatory()); err != nil {
		return stage, err
	}

	enter(domain.StageResolving)
	action, err := h.Prepare(ctx, op)
	if err != nil {
		return stage, err
	}

	enter(domain.StageExecuting)
	resp, err := action(ctx)
	if err != nil {
		return stage, err
	}

	enter(domain.StageProjecting)
	if err := h.Project(ctx, op, resp); err != nil {
		return stage, err
	}

	enter(domain.StageCompleting)
	return stage, nil
}

func (l *Lifecycle) complete(ctx context.Context, op *domain.Operation) {
	logger := telemetry.FromContext(ctx)
	task := op.Task

	if err := l.engine.Complete(ctx, task, op.Variables); err != nil {
		// блокировка истечёт, и движок выдаст задачу снова
		logger.Error("failed to complete task", "error", err)
		return
	}
	telemetry.TasksCompleted.WithLabelValues(task.TopicName).Inc()
	logger.Info("task completed", "duration", l.now().Sub(op.StartedAt))

	l.metering.JobStatus(ctx, task, string(domain.JobStateCompleted), "Task completed successfully")
	l.bookkeep(ctx, op, &domain.Attempt{Stage: domain.StageCompleting})
}

func (l *Lifecycle) fail(ctx context.Context, op *domain.Operation, h Handler, stage domain.Stage, err error) {
	logger := telemetry.FromContext(ctx)
	task := op.Task

	f := fault.Classify(err)
	logger.Error("task failed",
		"stage", stage,
		"class", f.Class.String(),
		"code", f.Code,
		"error", err,
	)

	component := op.Input.ComponentName
	if component == "" {
		component = h.Component()
	}
	op.SetVariable(domain.ErrorKey(component, task.ActivityID), f.Error())
	op.SetVariable(domain.ResponseCodeKey(task.ActivityID), f.Code)

	telemetry.TasksFailed.WithLabelValues(task.TopicName, f.Class.String()).Inc()
	l.metering.JobStatus(ctx, task, string(domain.JobStateError), f.Error())

	attempt := &domain.Attempt{
		Class:   f.Class.String(),
		Code:    f.Code,
		Message: f.Error(),
	}

	decision := l.policy.Decide(f.Class, task.Retries)
	if decision.Escalate {
		attempt.Stage = domain.StageBpmnErrorRaised
		if err := l.engine.HandleBpmnError(ctx, task, f.Code, f.Error(), op.Variables); err != nil {
			logger.Error("failed to raise bpmn error", "error", err)
			return
		}
		telemetry.Escalations.WithLabelValues(task.TopicName).Inc()
		logger.Info("bpmn error raised", "code", f.Code)
	} else {
		attempt.Stage = domain.StageRetryScheduled
		attempt.RetriesLeft = &decision.RetriesLeft
		report := engine.Failure{
			ErrorMessage: f.Error(),
			ErrorDetails: details(f),
			Retries:      decision.RetriesLeft,
			RetryTimeout: decision.Delay,
			Variables:    op.Variables,
		}
		if err := l.engine.HandleFailure(ctx, task, report); err != nil {
			logger.Error("failed to report task failure", "error", err)
			return
		}
		telemetry.RetriesScheduled.WithLabelValues(task.TopicName).Inc()
		logger.Info("retry scheduled",
			"retries_left", decision.RetriesLeft,
			"delay", decision.Delay,
		)
	}

	l.bookkeep(ctx, op, attempt)
}

// bookkeep пишет журнал и публикует событие в фоне. Ошибки только
// логируются.
func (l *Lifecycle) bookkeep(ctx context.Context, op *domain.Operation, attempt *domain.Attempt) {
	if l.journal == nil && l.events == nil {
		return
	}

	task := op.Task
	attempt.TaskID = task.ID
	attempt.Topic = task.TopicName
	attempt.ActivityID = task.ActivityID
	attempt.ProcessInstanceID = task.ProcessInstanceID
	attempt.ComponentID = op.Input.ComponentID
	attempt.StartedAt = op.StartedAt
	attempt.FinishedAt = l.now()

	payload := mq.TaskEventPayload{
		TaskID:            task.ID,
		Topic:             task.TopicName,
		ActivityID:        task.ActivityID,
		ProcessInstanceID: task.ProcessInstanceID,
		WorkflowID:        task.WorkflowID(),
		TenantID:          op.TenantID,
		ComponentID:       op.Input.ComponentID,
		Stage:             attempt.Stage.String(),
		Class:             attempt.Class,
		Code:              attempt.Code,
		Message:           attempt.Message,
		RetriesLeft:       attempt.RetriesLeft,
		DurationMs:        attempt.Duration().Milliseconds(),
	}

	ctx = context.WithoutCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, bookkeepingTimeout)
		defer cancel()
		logger := telemetry.FromContext(ctx)

		if l.journal != nil {
			if err := l.journal.Record(ctx, attempt); err != nil {
				logger.Warn("failed to record task attempt", "error", err)
			}
		}
		if l.events != nil {
			if err := l.events.PublishTaskEvent(ctx, payload); err != nil {
				logger.Warn("failed to publish task event", slog.String("stage", payload.Stage), "error", err)
			}
		}
	}()
}

// Wait ждёт фоновой записи журнала, событий и метрик.
func (l *Lifecycle) Wait() {
	l.wg.Wait()
	l.metering.Wait()
}

func details(f *fault.Fault) string {
	if f.Err == nil || f.Err.Error() == f.Message {
		return ""
	}
	return f.Err.Error()
}
