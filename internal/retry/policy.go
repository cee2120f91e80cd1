// Package retry содержит две независимые политики повторов:
//
//   - Policy — линейная политика для ошибок обработки задачи. Счётчик
//     попыток и задержка отдаются движку, повтор выполняет движок.
//   - Backoff — экспоненциальная пауза между пустыми опросами движка.
//
// Экспоненциальные повторы канала метрик живут в пакете metering.
package retry

import (
	"time"

	"github.com/shaiso/Operon/internal/fault"
)

// Policy — линейная политика повторов задачи.
type Policy struct {
	// Count — число попыток, которое получает задача при первой ошибке.
	Count int
	// Delay — шаг линейной задержки.
	Delay time.Duration
}

// Decision — решение по одной ошибке задачи.
type Decision struct {
	// RetriesLeft — новое значение счётчика попыток для движка.
	RetriesLeft int
	// Delay — через сколько движок снова выдаст задачу.
	Delay time.Duration
	// Escalate — нужно поднять BPMN-ошибку.
	Escalate bool
}

// Decide вычисляет решение для ошибки класса class.
//
// remaining — счётчик попыток, который движок хранит для задачи; nil,
// если ошибок ещё не было, тогда счётчик берётся из Count.
// Для Retryable: RetriesLeft = max(remaining-1, 0),
// Delay = Delay * (Count - RetriesLeft), эскалация при RetriesLeft == 0.
// NonRetryable и Fatal эскалируются сразу без задержки.
func (p Policy) Decide(class fault.Class, remaining *int) Decision {
	if class != fault.Retryable || p.Count <= 0 {
		return Decision{Escalate: true}
	}

	left := p.Count
	if remaining != nil {
		left = *remaining
	}
	left--
	if left < 0 {
		left = 0
	}

	steps := p.Count - left
	if steps < 0 {
		steps = 0
	}

	return Decision{
		RetriesLeft: left,
		Delay:       p.Delay * time.Duration(steps),
		Escalate:    left == 0,
	}
}
