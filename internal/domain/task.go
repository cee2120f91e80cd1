package domain

import (
	"fmt"
	"time"
)

// ExternalTask — задача движка, заблокированная воркером.
//
// Задача создаётся движком при достижении service task с типом external
// и выдаётся воркеру через fetchAndLock. Пока блокировка действует,
// никакой другой воркер эту задачу не получит.
type ExternalTask struct {
	// ID — идентификатор задачи в движке.
	ID string `json:"id"`

	// WorkerID — воркер, который держит блокировку.
	WorkerID string `json:"workerId"`

	// TopicName — топик, по которому задача была выбрана.
	TopicName string `json:"topicName"`

	// ActivityID — идентификатор активности в BPMN-модели.
	ActivityID string `json:"activityId"`

	// ActivityInstanceID — экземпляр активности.
	ActivityInstanceID string `json:"activityInstanceId"`

	// ProcessInstanceID — экземпляр процесса.
	ProcessInstanceID string `json:"processInstanceId"`

	// ProcessDefinitionID — версия определения процесса.
	ProcessDefinitionID string `json:"processDefinitionId"`

	// ProcessDefinitionKey — ключ определения процесса.
	ProcessDefinitionKey string `json:"processDefinitionKey"`

	// TenantID — тенант движка (может быть пустым).
	TenantID string `json:"tenantId,omitempty"`

	// BusinessKey — бизнес-ключ экземпляра процесса.
	BusinessKey string `json:"businessKey,omitempty"`

	// Retries — оставшиеся попытки. nil означает, что движок
	// ещё ни разу не получал отчёт об ошибке по этой задаче.
	Retries *int `json:"retries"`

	// LockExpirationTime — момент истечения блокировки.
	LockExpirationTime time.Time `json:"lockExpirationTime"`

	// Priority — приоритет задачи.
	Priority int64 `json:"priority"`

	// Variables — переменные процесса, запрошенные при fetchAndLock.
	Variables map[string]any `json:"variables,omitempty"`
}

// Variable возвращает переменную процесса или nil.
func (t *ExternalTask) Variable(name string) any {
	if t.Variables == nil {
		return nil
	}
	return t.Variables[name]
}

// StringVariable возвращает переменную в строковом виде.
// Отсутствующая переменная даёт пустую строку.
func (t *ExternalTask) StringVariable(name string) string {
	switch v := t.Variable(name).(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// HasRetries возвращает true, если движок уже хранит счётчик попыток.
func (t *ExternalTask) HasRetries() bool {
	return t.Retries != nil
}

// RemainingLock возвращает оставшееся время блокировки относительно now.
// Истёкшая блокировка даёт ноль.
func (t *ExternalTask) RemainingLock(now time.Time) time.Duration {
	if t.LockExpirationTime.IsZero() {
		return 0
	}
	d := t.LockExpirationTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// WorkflowID возвращает идентификатор workflow из глобальной переменной.
func (t *ExternalTask) WorkflowID() string {
	return t.StringVariable(GlobalWorkflowID)
}
