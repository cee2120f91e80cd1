package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeEvents Exchange = "operon.events"
	ExchangeDLQ    Exchange = "operon.dlq"
)

// Queues — имена очередей.
const (
	QueueTaskStatus Queue = "operon.task.status"
	QueueDLQStatus  Queue = "dlq.task.status"
)

// Routing keys.
const (
	RoutingKeyCompleted RoutingKey = "task.completed"
	RoutingKeyFailed    RoutingKey = "task.failed"
	// RoutingKeyAllTasks — шаблон для всех событий задач.
	RoutingKeyAllTasks RoutingKey = "task.#"
	RoutingKeyDLQ      RoutingKey = "status"
)

// SetupTopology объявляет обменники, очереди и привязки.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeEvents, amqp.ExchangeTopic},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQ),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		{QueueTaskStatus, dlqArgs},
		{QueueDLQStatus, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueTaskStatus, RoutingKeyAllTasks, ExchangeEvents},
		{QueueDLQStatus, RoutingKeyDLQ, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}

// DeclareWatchQueue создаёт временную эксклюзивную очередь, привязанную
// к событиям задач по шаблону pattern. Очередь удаляется при отключении.
func DeclareWatchQueue(ctx context.Context, conn *Connection, pattern RoutingKey) (string, error) {
	if pattern == "" {
		pattern = RoutingKeyAllTasks
	}

	var name string
	err := conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		q, err := ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return fmt.Errorf("declare watch queue: %w", err)
		}
		if err := ch.QueueBind(q.Name, string(pattern), string(ExchangeEvents), false, nil); err != nil {
			return fmt.Errorf("bind watch queue: %w", err)
		}
		name = q.Name
		return nil
	})
	return name, err
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Operon RabbitMQ Topology:

    operon.events (topic)
    └── operon.task.status [routing: task.#]
            Consumers: status dashboards, operon-cli events watch (own exclusive queue)
            DLQ: dlq.task.status

    operon.dlq (direct)
    └── dlq.task.status [routing: status]
            Manual processing
  `
}
