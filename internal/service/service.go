package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/repository"
)

// Границы количества в одной резервации
const (
	MinQuantity = 1
	MaxQuantity = 100
)

// DefaultTTL - время жизни активной резервации по умолчанию
const DefaultTTL = 2 * time.Minute

var (
	// ErrInvalidQuantity возвращается, когда quantity вне границ [MinQuantity, MaxQuantity]
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 100")
	// ErrReservationNotActive возвращается при попытке завершить/отменить
	// резервацию в конечном статусе
	ErrReservationNotActive = errors.New("reservation is not active")
	// ErrReservationExpired возвращается при попытке завершить резервацию,
	// окно которой уже истекло
	ErrReservationExpired = errors.New("reservation has expired")
	// ErrInvalidStatusFilter возвращается при неизвестном значении фильтра статуса
	ErrInvalidStatusFilter = errors.New("unknown reservation status filter")
)

// ReservationService содержит бизнес-логику резервирования stock
// Каждая операция (Create/Complete/Expire/Cancel) - одна транзакция хранилища:
// захват блокировок строк, валидация, мутация, commit. Stock и статус
// резервации мутируются только внутри этих транзакций.
//
// Порядок блокировок фиксирован: сначала строка резервации, потом строка
// товара. Create блокирует только товар и не держит блокировку резервации,
// поэтому цикл взаимной блокировки невозможен.
type ReservationService struct {
	logger    *zap.Logger
	store     repository.Store
	scheduler ExpiryScheduler
	publisher EventPublisher
	ttl       time.Duration
	now       func() time.Time
}

// NewReservationService создаёт новый экземпляр ReservationService
// Принимает интерфейсы как зависимости - это позволяет легко подменять их в тестах
func NewReservationService(
	logger *zap.Logger,
	store repository.Store,
	scheduler ExpiryScheduler,
	publisher EventPublisher,
	ttl time.Duration,
) *ReservationService {
	return NewReservationServiceWithClock(logger, store, scheduler, publisher, ttl, time.Now)
}

// NewReservationServiceWithClock создаёт ReservationService с кастомным источником времени (для тестов)
// Один и тот же clock используется engine-ом и планировщиком
func NewReservationServiceWithClock(
	logger *zap.Logger,
	store repository.Store,
	scheduler ExpiryScheduler,
	publisher EventPublisher,
	ttl time.Duration,
	now func() time.Time,
) *ReservationService {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ReservationService{
		logger:    logger,
		store:     store,
		scheduler: scheduler,
		publisher: publisher,
		ttl:       ttl,
		now:       now,
	}
}

// CreateReservation резервирует quantity единиц товара на время TTL
// Внутри одной транзакции: блокировка строки товара, проверка stock,
// перенос available -> reserved, вставка активной резервации.
// После commit регистрирует истечение в планировщике и публикует событие
func (s *ReservationService) CreateReservation(ctx context.Context, productID string, quantity int) (repository.Reservation, error) {
	if quantity < MinQuantity || quantity > MaxQuantity {
		return repository.Reservation{}, ErrInvalidQuantity
	}

	now := s.now().UTC()
	res := repository.Reservation{
		ID:        uuid.NewString(),
		ProductID: productID,
		Quantity:  quantity,
		Status:    repository.StatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetProductForUpdate(ctx, productID); err != nil {
			return err
		}
		if err := tx.ReserveStock(ctx, productID, quantity); err != nil {
			return err
		}
		return tx.InsertReservation(ctx, res)
	})
	if err != nil {
		s.logger.Warn("failed to create reservation",
			zap.Error(err),
			zap.String("product_id", productID),
			zap.Int("quantity", quantity),
		)
		return repository.Reservation{}, err
	}

	// Планировщик - best-effort wake-up: если регистрация не удалась,
	// ленивое истечение внутри Complete всё равно не даст подтвердить
	// просроченную резервацию
	if err := s.scheduler.Schedule(ctx, res.ID, res.ExpiresAt); err != nil {
		s.logger.Error("failed to schedule reservation expiry",
			zap.Error(err),
			zap.String("reservation_id", res.ID),
			zap.Time("expires_at", res.ExpiresAt),
		)
	}

	s.logger.Info("reservation created",
		zap.String("reservation_id", res.ID),
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
		zap.Time("expires_at", res.ExpiresAt),
	)

	s.publish(ctx, EventReservationCreated, res)
	return res, nil
}

// CompleteReservation подтверждает покупку по активной резервации
// Блокирует строку резервации, затем строку товара. Если окно истекло,
// применяет ленивое истечение (возврат stock + переход в expired) в той же
// транзакции и возвращает ErrReservationExpired - подтверждение просроченной
// резервации невозможно, даже если запланированное срабатывание ещё не пришло
func (s *ReservationService) CompleteReservation(ctx context.Context, reservationID string) (repository.Reservation, error) {
	var (
		completed   repository.Reservation
		lazyExpired repository.Reservation
		expired     bool
	)

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res, err := tx.GetReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if res.Status != repository.StatusActive {
			return ErrReservationNotActive
		}

		if _, err := tx.GetProductForUpdate(ctx, res.ProductID); err != nil {
			return err
		}

		if s.now().After(res.ExpiresAt) {
			// Ленивое истечение: возвращаем stock и фиксируем expired,
			// транзакция коммитится, а вызывающий получает конфликт
			if err := tx.ReleaseStock(ctx, res.ProductID, res.Quantity); err != nil {
				return err
			}
			if err := tx.TransitionReservation(ctx, res.ID, repository.StatusActive, repository.StatusExpired, nil); err != nil {
				return err
			}
			res.Status = repository.StatusExpired
			lazyExpired = res
			expired = true
			return nil
		}

		if err := tx.ConsumeStock(ctx, res.ProductID, res.Quantity); err != nil {
			return err
		}
		completedAt := s.now().UTC()
		if err := tx.TransitionReservation(ctx, res.ID, repository.StatusActive, repository.StatusCompleted, &completedAt); err != nil {
			return err
		}
		res.Status = repository.StatusCompleted
		res.CompletedAt = &completedAt
		completed = res
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			// Конкурентная терминальная мутация - для вызывающего это тот же конфликт
			err = ErrReservationNotActive
		}
		s.logger.Warn("failed to complete reservation",
			zap.Error(err),
			zap.String("reservation_id", reservationID),
		)
		return repository.Reservation{}, err
	}

	if expired {
		s.logger.Info("reservation lazily expired on completion attempt",
			zap.String("reservation_id", reservationID),
		)
		s.publish(ctx, EventReservationExpired, lazyExpired)
		return repository.Reservation{}, ErrReservationExpired
	}

	s.logger.Info("reservation completed",
		zap.String("reservation_id", completed.ID),
		zap.String("product_id", completed.ProductID),
		zap.Int("quantity", completed.Quantity),
	)

	s.publish(ctx, EventReservationCompleted, completed)
	return completed, nil
}

// ExpireReservation переводит просроченную активную резервацию в expired
// и возвращает удержанный stock. Идемпотентна: отсутствующая резервация,
// неактивный статус или ещё не истёкшее окно - no-op без ошибки, поэтому
// её безопасно вызывать повторно, рано или поздно (at-least-once доставка).
// Единственная точка входа истечения - планировщик и внешние вызовы идут сюда же
func (s *ReservationService) ExpireReservation(ctx context.Context, reservationID string) error {
	var (
		res     repository.Reservation
		expired bool
	)

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.GetReservationForUpdate(ctx, reservationID)
		if err != nil {
			if errors.Is(err, repository.ErrReservationNotFound) {
				return nil
			}
			return err
		}
		if r.Status != repository.StatusActive {
			return nil
		}
		if !s.now().After(r.ExpiresAt) {
			// Раннее срабатывание - окно ещё не истекло
			return nil
		}

		if _, err := tx.GetProductForUpdate(ctx, r.ProductID); err != nil {
			return err
		}
		if err := tx.ReleaseStock(ctx, r.ProductID, r.Quantity); err != nil {
			return err
		}
		if err := tx.TransitionReservation(ctx, r.ID, repository.StatusActive, repository.StatusExpired, nil); err != nil {
			return err
		}
		r.Status = repository.StatusExpired
		res = r
		expired = true
		return nil
	})
	if err != nil {
		s.logger.Error("failed to expire reservation",
			zap.Error(err),
			zap.String("reservation_id", reservationID),
		)
		return err
	}

	if !expired {
		s.logger.Debug("nothing to expire",
			zap.String("reservation_id", reservationID),
		)
		return nil
	}

	s.logger.Info("reservation expired, stock released",
		zap.String("reservation_id", res.ID),
		zap.String("product_id", res.ProductID),
		zap.Int("quantity", res.Quantity),
	)

	s.publish(ctx, EventReservationExpired, res)
	return nil
}

// CancelReservation отменяет активную резервацию по запросу пользователя
// Та же схема, что у ExpireReservation, но вызывающий получает явные ошибки:
// NotFound для неизвестного ID, конфликт для неактивного статуса
func (s *ReservationService) CancelReservation(ctx context.Context, reservationID string) (repository.Reservation, error) {
	var cancelled repository.Reservation

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res, err := tx.GetReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if res.Status != repository.StatusActive {
			return ErrReservationNotActive
		}

		if _, err := tx.GetProductForUpdate(ctx, res.ProductID); err != nil {
			return err
		}
		if err := tx.ReleaseStock(ctx, res.ProductID, res.Quantity); err != nil {
			return err
		}
		if err := tx.TransitionReservation(ctx, res.ID, repository.StatusActive, repository.StatusCancelled, nil); err != nil {
			return err
		}
		res.Status = repository.StatusCancelled
		cancelled = res
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			err = ErrReservationNotActive
		}
		s.logger.Warn("failed to cancel reservation",
			zap.Error(err),
			zap.String("reservation_id", reservationID),
		)
		return repository.Reservation{}, err
	}

	s.logger.Info("reservation cancelled, stock released",
		zap.String("reservation_id", cancelled.ID),
		zap.String("product_id", cancelled.ProductID),
		zap.Int("quantity", cancelled.Quantity),
	)

	s.publish(ctx, EventReservationCancelled, cancelled)
	return cancelled, nil
}

// GetReservation возвращает резервацию по ID
func (s *ReservationService) GetReservation(ctx context.Context, reservationID string) (repository.Reservation, error) {
	return s.store.GetReservation(ctx, reservationID)
}

// ListReservations возвращает резервации, опционально фильтруя по статусу
// statusFilter == "" означает "все"
func (s *ReservationService) ListReservations(ctx context.Context, statusFilter string) ([]repository.Reservation, error) {
	if statusFilter == "" {
		return s.store.ListReservations(ctx, nil)
	}

	status := repository.ReservationStatus(statusFilter)
	if !status.Valid() {
		return nil, ErrInvalidStatusFilter
	}
	return s.store.ListReservations(ctx, &status)
}

// ListProducts возвращает каталог товаров с текущими счётчиками stock
func (s *ReservationService) ListProducts(ctx context.Context) ([]repository.Product, error) {
	return s.store.ListProducts(ctx)
}

// publish отправляет событие жизненного цикла после commit
// Ошибка публикации логируется и не влияет на результат операции:
// инварианты stock не зависят от брокера
func (s *ReservationService) publish(ctx context.Context, eventType string, res repository.Reservation) {
	if err := s.publisher.PublishReservationEvent(ctx, ReservationEvent{Type: eventType, Reservation: res}); err != nil {
		s.logger.Error("failed to publish reservation event",
			zap.Error(err),
			zap.String("event_type", eventType),
			zap.String("reservation_id", res.ID),
		)
	}
}
