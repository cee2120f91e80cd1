package domain

import (
	"time"

	"github.com/google/uuid"
)

// Attempt — одна обработка внешней задачи воркером, запись журнала.
type Attempt struct {
	ID                uuid.UUID
	TaskID            string
	Topic             string
	ActivityID        string
	ProcessInstanceID string
	ComponentID       string

	// Stage — финальный этап обработки.
	Stage Stage

	// Class, Code и Message заполняются только для ошибок.
	Class   string
	Code    string
	Message string

	// RetriesLeft — значение счётчика, отправленное движку. nil для успеха и BPMN-ошибки.
	RetriesLeft *int

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration возвращает длительность обработки.
func (a *Attempt) Duration() time.Duration {
	return a.FinishedAt.Sub(a.StartedAt)
}
