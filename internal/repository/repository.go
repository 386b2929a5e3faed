package repository

import (
	"context"
	"errors"
	"time"
)

// ReservationStatus представляет статус резервации
type ReservationStatus string

const (
	// StatusActive - резервация активна, stock удерживается до expires_at
	StatusActive ReservationStatus = "active"
	// StatusCompleted - покупка подтверждена, удержанный stock продан
	StatusCompleted ReservationStatus = "completed"
	// StatusExpired - окно резервации истекло, stock возвращён
	StatusExpired ReservationStatus = "expired"
	// StatusCancelled - резервация отменена пользователем, stock возвращён
	StatusCancelled ReservationStatus = "cancelled"
)

// Valid проверяет, что статус является одним из известных значений
func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Terminal возвращает true для конечных статусов
// Из конечного статуса переходов нет
func (s ReservationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusCancelled
}

// Product представляет доменную модель товара
// Цена хранится в копейках (int64), чтобы избежать ошибок округления float
type Product struct {
	ID             string
	Name           string
	PriceCents     int64
	AvailableStock int
	ReservedStock  int
}

// Reservation представляет временное удержание quantity единиц товара
// Запись никогда не удаляется - остаётся как audit trail
type Reservation struct {
	ID          string
	ProductID   string
	Quantity    int
	Status      ReservationStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	CompletedAt *time.Time
}

var (
	// ErrProductNotFound возвращается, когда товар не найден в хранилище
	ErrProductNotFound = errors.New("product not found")
	// ErrReservationNotFound возвращается, когда резервация не найдена в хранилище
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrInsufficientStock возвращается, когда available_stock меньше запрошенного количества
	ErrInsufficientStock = errors.New("insufficient stock available")
	// ErrStaleStatus возвращается при conditional update, если текущий статус
	// не совпадает с ожидаемым - это защита от двойной обработки
	ErrStaleStatus = errors.New("reservation status changed concurrently")
)

// TxFunc выполняется внутри одной транзакции хранилища
type TxFunc func(ctx context.Context, tx Tx) error

// Tx - unit of work над одной транзакцией
// Методы *ForUpdate берут эксклюзивную блокировку строки (SELECT ... FOR UPDATE);
// мутации stock и статуса применяются только к заблокированным строкам.
// Порядок блокировок фиксирован во всём сервисе: сначала резервация, потом товар
// (Create блокирует только товар и резерваций не держит - цикл невозможен).
type Tx interface {
	// GetProductForUpdate блокирует и возвращает товар
	// Возвращает ErrProductNotFound, если товар не найден
	GetProductForUpdate(ctx context.Context, productID string) (Product, error)

	// ReserveStock переносит qty единиц из available в reserved
	// Возвращает ErrInsufficientStock, если available_stock < qty
	ReserveStock(ctx context.Context, productID string, qty int) error

	// ReleaseStock возвращает qty единиц из reserved в available (expire/cancel)
	ReleaseStock(ctx context.Context, productID string, qty int) error

	// ConsumeStock списывает qty единиц из reserved без возврата в available (complete)
	ConsumeStock(ctx context.Context, productID string, qty int) error

	// InsertReservation сохраняет новую резервацию
	InsertReservation(ctx context.Context, r Reservation) error

	// GetReservationForUpdate блокирует и возвращает резервацию
	// Возвращает ErrReservationNotFound, если резервация не найдена
	GetReservationForUpdate(ctx context.Context, reservationID string) (Reservation, error)

	// TransitionReservation выполняет conditional update статуса:
	// успех только если текущий статус равен from, иначе ErrStaleStatus без мутации.
	// completedAt устанавливается только при переходе в completed
	TransitionReservation(ctx context.Context, reservationID string, from, to ReservationStatus, completedAt *time.Time) error
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=Store --dir=. --output=./mocks --outpkg=mocks

// Store определяет интерфейс хранилища товаров и резерваций
// Service слой зависит от этого интерфейса, а не от конкретной реализации
type Store interface {
	// WithinTx выполняет fn внутри одной транзакции
	// Если fn возвращает ошибку, все изменения откатываются (all-or-nothing)
	WithinTx(ctx context.Context, fn TxFunc) error

	// GetProduct возвращает товар по ID без блокировки
	GetProduct(ctx context.Context, productID string) (Product, error)

	// ListProducts возвращает все товары, отсортированные по имени
	ListProducts(ctx context.Context) ([]Product, error)

	// GetReservation возвращает резервацию по ID без блокировки
	GetReservation(ctx context.Context, reservationID string) (Reservation, error)

	// ListReservations возвращает резервации, опционально фильтруя по статусу
	// status == nil означает "все"
	ListReservations(ctx context.Context, status *ReservationStatus) ([]Reservation, error)

	// ListActiveByProduct возвращает активные резервации товара
	ListActiveByProduct(ctx context.Context, productID string) ([]Reservation, error)
}
