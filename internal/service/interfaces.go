package service

import (
	"context"
	"time"

	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/repository"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=ExpiryScheduler --dir=. --output=./mocks --outpkg=mocks

// ExpiryScheduler определяет интерфейс отложенного планирования истечения резервации
// Schedule регистрирует one-shot доставку: не раньше fireAt планировщик вызовет
// Expire этого сервиса. Доставка at-least-once - engine обязан переживать
// повторные и опоздавшие срабатывания (Expire идемпотентен)
type ExpiryScheduler interface {
	Schedule(ctx context.Context, reservationID string, fireAt time.Time) error
}

// Типы событий жизненного цикла резервации
const (
	EventReservationCreated   = "reservation.created"
	EventReservationCompleted = "reservation.completed"
	EventReservationExpired   = "reservation.expired"
	EventReservationCancelled = "reservation.cancelled"
)

// ReservationEvent - событие жизненного цикла резервации
// Публикуется после commit транзакции, best-effort
type ReservationEvent struct {
	Type        string
	Reservation repository.Reservation
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=EventPublisher --dir=. --output=./mocks --outpkg=mocks

// EventPublisher определяет интерфейс публикации событий резервации
// Использует доменные типы вместо kafka.Message - это делает service независимым от брокера
type EventPublisher interface {
	PublishReservationEvent(ctx context.Context, event ReservationEvent) error
}

// NopEventPublisher - заглушка publisher-а, когда брокер не сконфигурирован
type NopEventPublisher struct{}

// PublishReservationEvent ничего не делает
func (NopEventPublisher) PublishReservationEvent(ctx context.Context, event ReservationEvent) error {
	return nil
}
