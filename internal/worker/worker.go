package worker

import (
	"context"
	"sync"
	"time"

	"github.com/shaiso/Operon/internal/domain"
	"github.com/shaiso/Operon/internal/engine"
	"github.com/shaiso/Operon/internal/retry"
	"github.com/shaiso/Operon/internal/telemetry"
)

// Значения по умолчанию для пула.
const (
	defaultWorkerCount          = 4
	defaultAsyncResponseTimeout = 20 * time.Second
	defaultLockDuration         = 60 * time.Second
)

// TaskSource выдаёт заблокированные задачи.
type TaskSource interface {
	FetchAndLock(ctx context.Context, req engine.FetchRequest) ([]*domain.ExternalTask, error)
}

// PoolConfig — настройки пула одного топика.
type PoolConfig struct {
	Topic    string
	WorkerID string

	// WorkerCount — сколько задач обрабатывается одновременно.
	WorkerCount int
	// MaxTasks — сколько задач запрашивать за один опрос. Не больше WorkerCount.
	MaxTasks int

	AsyncResponseTimeout time.Duration
	LockDuration         time.Duration

	// Backoff — пауза после пустого опроса или ошибки. nil — по умолчанию.
	Backoff *retry.Backoff

	// Variables — ограничение набора переменных задачи. Пусто — все.
	Variables []string
}

// Pool опрашивает движок по одному топику и раздаёт задачи горутинам.
//
// Число одновременно обрабатываемых задач ограничено WorkerCount.
// Каждая задача от блокировки до отчёта движку принадлежит одной
// горутине. После пустого опроса пул ждёт по экспоненциальной паузе,
// непустой опрос её сбрасывает.
type Pool struct {
	source    TaskSource
	lifecycle *Lifecycle
	handler   Handler
	cfg       PoolConfig
	backoff   *retry.Backoff

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewPool создаёт пул.
func NewPool(source TaskSource, lifecycle *Lifecycle, handler Handler, cfg PoolConfig) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = defaultWorkerCount
	}
	if cfg.MaxTasks <= 0 || cfg.MaxTasks > cfg.WorkerCount {
		cfg.MaxTasks = cfg.WorkerCount
	}
	if cfg.AsyncResponseTimeout <= 0 {
		cfg.AsyncResponseTimeout = defaultAsyncResponseTimeout
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = defaultLockDuration
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = retry.NewBackoff(0, 0, 0)
	}

	return &Pool{
		source:    source,
		lifecycle: lifecycle,
		handler:   handler,
		cfg:       cfg,
		backoff:   backoff,
		slots:     make(chan struct{}, cfg.WorkerCount),
	}
}

// Topic возвращает топик пула.
func (p *Pool) Topic() string { return p.cfg.Topic }

// Run опрашивает движок до отмены ctx. Задачи, взятые до отмены,
// дорабатываются: Run возвращается после их завершения.
func (p *Pool) Run(ctx context.Context) error {
	logger := telemetry.WithTopic(telemetry.FromContext(ctx), p.cfg.Topic)
	ctx = telemetry.WithLogger(ctx, logger)

	logger.Info("starting pool",
		"worker_id", p.cfg.WorkerID,
		"workers", p.cfg.WorkerCount,
		"max_tasks", p.cfg.MaxTasks,
		"lock_duration", p.cfg.LockDuration,
	)
	defer func() {
		p.wg.Wait()
		logger.Info("pool stopped")
	}()

	for {
		free, ok := p.acquire(ctx)
		if !ok {
			return nil
		}

		tasks, err := p.source.FetchAndLock(ctx, engine.FetchRequest{
			WorkerID:             p.cfg.WorkerID,
			MaxTasks:             free,
			AsyncResponseTimeout: p.cfg.AsyncResponseTimeout,
			Topics: []engine.Topic{{
				TopicName:    p.cfg.Topic,
				LockDuration: p.cfg.LockDuration,
				Variables:    p.cfg.Variables,
			}},
		})
		if err != nil {
			p.release(free)
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("failed to fetch tasks", "error", err)
			if !sleep(ctx, p.backoff.Observe(0)) {
				return nil
			}
			continue
		}

		if len(tasks) > 0 {
			telemetry.TasksFetched.WithLabelValues(p.cfg.Topic).Add(float64(len(tasks)))
			logger.Debug("fetched tasks", "count", len(tasks))
		}

		for i, task := range tasks {
			if i >= free {
				// движок вернул больше, чем просили: задачи уже заблокированы
				p.slots <- struct{}{}
			}
			p.dispatch(ctx, task)
		}
		if len(tasks) < free {
			p.release(free - len(tasks))
		}

		if !sleep(ctx, p.backoff.Observe(len(tasks))) {
			return nil
		}
	}
}

// acquire ждёт один свободный слот и забирает ещё сколько есть,
// но не больше MaxTasks.
func (p *Pool) acquire(ctx context.Context) (int, bool) {
	select {
	case <-ctx.Done():
		return 0, false
	case p.slots <- struct{}{}:
	}

	free := 1
	for free < p.cfg.MaxTasks {
		select {
		case p.slots <- struct{}{}:
			free++
		default:
			return free, true
		}
	}
	return free, true
}

func (p *Pool) release(n int) {
	for i := 0; i < n; i++ {
		<-p.slots
	}
}

// dispatch обрабатывает задачу в отдельной горутине. Отмена ctx
// не прерывает обработку: задача уже заблокирована и должна получить
// итоговый отчёт.
func (p *Pool) dispatch(ctx context.Context, task *domain.ExternalTask) {
	ctx = context.WithoutCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.slots }()
		defer func() {
			if r := recover(); r != nil {
				telemetry.FromContext(ctx).Error("panic while handling task",
					"task_id", task.ID,
					"panic", r,
				)
			}
		}()

		p.lifecycle.Handle(ctx, task, p.handler)
	}()
}

// sleep ждёт d или отмены ctx. Возвращает false при отмене.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
