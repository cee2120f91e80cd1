package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Operon/internal/domain"
)

// MessageType — тип сообщения.
type MessageType string

// Типы сообщений.
const (
	MessageTypeTaskCompleted MessageType = "task.completed"
	MessageTypeTaskFailed    MessageType = "task.failed"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// TaskEventPayload — событие обработки внешней задачи.
type TaskEventPayload struct {
	TaskID            string `json:"task_id"`
	Topic             string `json:"topic"`
	ActivityID        string `json:"activity_id"`
	ProcessInstanceID string `json:"process_instance_id"`
	WorkflowID        string `json:"workflow_id,omitempty"`
	TenantID          string `json:"tenant_id,omitempty"`
	ComponentID       string `json:"component_id,omitempty"`

	// Stage — финальный этап: COMPLETING, RETRY_SCHEDULED или BPMN_ERROR_RAISED.
	Stage string `json:"stage"`

	Class       string `json:"class,omitempty"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	RetriesLeft *int   `json:"retries_left,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

// NewMessage оборачивает payload в конверт с новым ID.
func NewMessage(msgType MessageType, payload any, now time.Time) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: now,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Type:         string(msg.Type),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishTaskEvent публикует событие задачи. Тип и routing key
// выбираются по этапу: COMPLETING — task.completed, иначе task.failed.
func (p *Publisher) PublishTaskEvent(ctx context.Context, payload TaskEventPayload) error {
	msgType, key := EventRoute(payload.Stage)
	return p.Publish(ctx, ExchangeEvents, key, NewMessage(msgType, payload, time.Now()))
}

// EventRoute возвращает тип сообщения и routing key для этапа.
func EventRoute(stage string) (MessageType, RoutingKey) {
	if stage == domain.StageCompleting.String() {
		return MessageTypeTaskCompleted, RoutingKeyCompleted
	}
	return MessageTypeTaskFailed, RoutingKeyFailed
}
