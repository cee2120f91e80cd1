// Package mq публикует события обработки задач в RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchange, очередей и привязок
//   - publisher.go  — публикация событий задач
//   - consumer.go   — чтение событий (operon-cli events watch)
//
// Типы сообщений:
//   - task.completed — задача завершена, переменные переданы движку
//   - task.failed    — ошибка задачи: повтор запланирован или поднята BPMN-ошибка
//
// Exchanges:
//   - operon.events — topic, routing key совпадает с типом сообщения
//   - operon.dlq    — dead letter для очереди статусов
package mq
