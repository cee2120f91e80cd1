package metering

import (
	"context"
	"strings"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/shaiso/Operon/internal/domain"
	"github.com/shaiso/Operon/internal/telemetry"
)

// RecordSender — REST-канал записей.
type RecordSender interface {
	Send(ctx context.Context, schemaID, auth string, record any) error
}

// MeteringSender — gRPC-канал записей вызовов API.
type MeteringSender interface {
	Send(ctx context.Context, record *APIMetering) (*structpb.Struct, error)
}

// DispatcherConfig — параметры диспетчера.
type DispatcherConfig struct {
	APISchemaID       string
	JobStatusSchemaID string
	// ServiceDomain — вызовы с URL внутри домена в gRPC не уходят.
	ServiceDomain string
	// Timeout ограничивает одну отправку.
	Timeout time.Duration
}

// Dispatcher отправляет записи в фоне. Ошибки только логируются
// и считаются в метрике operon_metering_dropped_total.
type Dispatcher struct {
	rest RecordSender
	grpc MeteringSender
	cfg  DispatcherConfig
	now  func() time.Time
	wg   sync.WaitGroup
}

// NewDispatcher создаёт диспетчер. grpc может быть nil.
func NewDispatcher(rest RecordSender, grpc MeteringSender, cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Dispatcher{rest: rest, grpc: grpc, cfg: cfg, now: time.Now}
}

// APICall отправляет запись о вызове API. Только для PROD.
func (d *Dispatcher) APICall(ctx context.Context, op *domain.Operation, call APICall) {
	if d == nil || op.Environment != domain.EnvironmentProd {
		return
	}
	rec := NewAPIMetering(op, call, d.now())
	auth := op.Task.StringVariable(domain.GlobalAuthorization)

	d.goSend(ctx, "rest", func(ctx context.Context) error {
		return d.rest.Send(ctx, d.cfg.APISchemaID, auth, rec)
	})

	if d.grpc != nil && !strings.Contains(call.URL, d.cfg.ServiceDomain) {
		d.goSend(ctx, "grpc", func(ctx context.Context) error {
			resp, err := d.grpc.Send(ctx, rec)
			if err == nil {
				telemetry.FromContext(ctx).Debug("grpc metering response", "response", resp.AsMap())
			}
			return err
		})
	}
}

// JobStatus отправляет запись о состоянии задачи.
func (d *Dispatcher) JobStatus(ctx context.Context, task *domain.ExternalTask, state, message string) {
	if d == nil {
		return
	}
	rec := NewJobStatus(task, state, message, d.now())
	auth := task.StringVariable(domain.GlobalAuthorization)

	d.goSend(ctx, "rest", func(ctx context.Context) error {
		return d.rest.Send(ctx, d.cfg.JobStatusSchemaID, auth, rec)
	})
}

// Wait ждёт завершения фоновых отправок.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}

// goSend выполняет send в отдельной горутине. Отмена ctx задачи
// не прерывает отправку, значения контекста (логгер) сохраняются.
func (d *Dispatcher) goSend(ctx context.Context, sink string, send func(context.Context) error) {
	if sink == "rest" && d.rest == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()

		if err := send(ctx); err != nil {
			telemetry.MeteringDropped.WithLabelValues(sink).Inc()
			telemetry.FromContext(ctx).Warn("failed to deliver metering record",
				"sink", sink,
				"error", err,
			)
		}
	}()
}
