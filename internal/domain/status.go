package domain

// Stage — этап обработки задачи воркером.
//
// Жизненный цикл:
//
//	LOCKED → VALIDATING → RESOLVING → EXECUTING → PROJECTING → COMPLETING
//	                    ↘           ↘           ↘
//	                      FAILING → RETRY_SCHEDULED | BPMN_ERROR_RAISED
type Stage string

const (
	// StageLocked — задача получена и заблокирована.
	StageLocked Stage = "LOCKED"

	// StageValidating — проверка формы входных данных.
	StageValidating Stage = "VALIDATING"

	// StageResolving — вычисление полей запроса.
	StageResolving Stage = "RESOLVING"

	// StageExecuting — выполнение внешнего действия.
	StageExecuting Stage = "EXECUTING"

	// StageProjecting — запись результатов в переменные.
	StageProjecting Stage = "PROJECTING"

	// StageCompleting — отчёт движку об успехе.
	StageCompleting Stage = "COMPLETING"

	// StageFailing — классификация ошибки.
	StageFailing Stage = "FAILING"

	// StageRetryScheduled — движку отправлен failure с новым счётчиком.
	StageRetryScheduled Stage = "RETRY_SCHEDULED"

	// StageBpmnErrorRaised — движку отправлена BPMN-ошибка.
	StageBpmnErrorRaised Stage = "BPMN_ERROR_RAISED"
)

// IsTerminal возвращает true, если этап финальный.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageCompleting, StageRetryScheduled, StageBpmnErrorRaised:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление Stage.
func (s Stage) String() string {
	return string(s)
}

// JobState — состояние задачи в записях job status.
type JobState string

const (
	JobStateCompleted JobState = "COMPLETED"
	JobStateError     JobState = "ERROR"
)
