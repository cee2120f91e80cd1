// Package worker обрабатывает внешние задачи движка.
//
// # Обзор
//
// Для каждого топика запускается Pool: он long-poll опрашивает движок
// через fetchAndLock, раздаёт задачи горутинам и ждёт по
// экспоненциальной паузе после пустых опросов. Каждую задачу от
// блокировки до отчёта ведёт Lifecycle.
//
//	lc := worker.NewLifecycle(worker.LifecycleConfig{
//	    Engine:   engineClient,
//	    Policy:   retry.Policy{Count: 3, Delay: time.Second},
//	    Metering: dispatcher,
//	    Journal:  attempts,
//	    Events:   publisher,
//	})
//	pool := worker.NewPool(engineClient, lc, handler, worker.PoolConfig{
//	    Topic:       worker.TopicAPIOperation,
//	    WorkerID:    "operon-1",
//	    WorkerCount: 8,
//	})
//	err := pool.Run(ctx)
//
// # Этапы
//
//	LOCKED → VALIDATING → RESOLVING → EXECUTING → PROJECTING → COMPLETING
//
// Ошибка любого этапа классифицируется пакетом fault, пишется в
// $_ERROR_[<component>][<activity>] и передаётся retry.Policy:
// движок получает либо failure с новым счётчиком и задержкой, либо
// BPMN-ошибку с кодом.
//
// # Обработчики
//
// Handler описывает вид операции. Реестр Registry собирается при старте:
//   - RESTHandler — ApiOperationHandler, вызов нижестоящего REST API
//   - ShellHandler — ShellScriptHandler, AnsibleHandler, PythonHandler
//   - TerraformHandler — TerraformHandler
//
// Журнал попыток, события RabbitMQ и записи метрик пишутся в фоне и
// не влияют на итог задачи.
package worker
