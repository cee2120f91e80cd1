// Package cli реализует инструмент командной строки Operon.
//
// # Обзор
//
// CLI нужен оператору воркеров: посмотреть внешние задачи движка,
// снять зависшую блокировку, вернуть попытки упавшей задаче, проверить
// сборку REST-запроса по входу задачи и следить за событиями задач.
//
// # Ключевые компоненты
//
// ## Client
//
// Клиент административной части REST API движка (/external-task).
// Ошибки движка ({"type","message"}) превращаются в error.
//
//	client := cli.NewClient("http://localhost:8080/engine-rest")
//	tasks, err := client.ListTasks(ctx, cli.ListTasksOpts{Topic: "ApiOperationHandler"})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) по умолчанию
//   - JSON (json.Encoder с отступами) с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) в stderr,
// поэтому вывод можно передавать в pipe: operon task list --json | jq .
//
// ## Commands
//
//   - task: list, show, unlock, retries
//   - resolve: сборка REST-запроса задачи ApiOperationHandler без отправки
//   - events watch: поток событий из operon.events
//
// Группы команд создаются фабриками (NewTaskCmd и т.д.), которые
// принимают clientFn и outputFn. Client и Output создаются лениво,
// после разбора PersistentFlags.
package cli
