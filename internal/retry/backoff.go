package retry

import (
	"sync"
	"time"
)

// Backoff — экспоненциальная пауза между пустыми опросами.
//
// Первый пустой опрос даёт Initial, каждый следующий умножает паузу
// на Multiplier, пауза ограничена Max. Непустой опрос сбрасывает уровень.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration

	mu    sync.Mutex
	level int
}

// NewBackoff создаёт Backoff с подстановкой значений по умолчанию.
func NewBackoff(initial time.Duration, multiplier float64, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	if multiplier < 1 {
		multiplier = 2
	}
	if max <= 0 {
		max = 60 * time.Second
	}
	return &Backoff{Initial: initial, Multiplier: multiplier, Max: max}
}

// Observe учитывает результат опроса и возвращает паузу перед следующим.
func (b *Backoff) Observe(fetched int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if fetched > 0 {
		b.level = 0
		return 0
	}
	b.level++
	return b.delay(b.level)
}

// Reset сбрасывает уровень.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.level = 0
	b.mu.Unlock()
}

// delay = Initial * Multiplier^(level-1), не больше Max.
func (b *Backoff) delay(level int) time.Duration {
	if level <= 0 {
		return 0
	}
	d := float64(b.Initial)
	for i := 1; i < level; i++ {
		d *= b.Multiplier
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	if time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}
