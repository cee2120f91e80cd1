// Package telemetry обеспечивает наблюдаемость воркеров.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики обработки задач
//
// Все бинарники используют единый формат логирования
// и экспортируют метрики на /metrics endpoint.
package telemetry
