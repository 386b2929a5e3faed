package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// deliveryTimeout ограничивает время одной доставки истечения из таймера
const deliveryTimeout = 10 * time.Second

// ErrNotStarted возвращается из Schedule, если обработчик ещё не установлен
var ErrNotStarted = errors.New("scheduler is not started")

// MemoryScheduler реализует service.ExpiryScheduler на time.AfterFunc
// Используется для разработки и тестирования: таймеры живут в памяти
// процесса и не переживают рестарт. Durable вариант - RedisScheduler.
// Потерянный таймер не нарушает корректность: ленивое истечение в
// Complete остаётся авторитетным
type MemoryScheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	expire  ExpireFunc
	timers  map[string]*time.Timer
	stopped bool
}

// NewMemoryScheduler создаёт новый in-memory планировщик
func NewMemoryScheduler(logger *zap.Logger) *MemoryScheduler {
	return &MemoryScheduler{
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// Start устанавливает обработчик истечений
// Вызывается при сборке приложения, до начала приёма запросов
func (s *MemoryScheduler) Start(expire ExpireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire = expire
}

// Schedule регистрирует one-shot истечение резервации в момент fireAt
// Задержка в прошлом срабатывает немедленно (clamp к нулю)
func (s *MemoryScheduler) Schedule(ctx context.Context, reservationID string, fireAt time.Time) error {
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expire == nil {
		return ErrNotStarted
	}
	if s.stopped {
		return nil
	}

	s.timers[reservationID] = time.AfterFunc(delay, func() {
		s.fire(reservationID)
	})

	s.logger.Debug("reservation expiry timer armed",
		zap.String("reservation_id", reservationID),
		zap.Duration("delay", delay),
	)
	return nil
}

// Stop останавливает все невыстрелившие таймеры
func (s *MemoryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// fire доставляет истечение в engine из горутины таймера
func (s *MemoryScheduler) fire(reservationID string) {
	s.mu.Lock()
	expire := s.expire
	delete(s.timers, reservationID)
	stopped := s.stopped
	s.mu.Unlock()

	if stopped || expire == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	if err := expire(ctx, reservationID); err != nil {
		// Таймер одноразовый; повторной попытки не будет, но ленивое
		// истечение внутри Complete закроет этот случай
		s.logger.Error("expiry timer delivery failed",
			zap.Error(err),
			zap.String("reservation_id", reservationID),
		)
	}
}
