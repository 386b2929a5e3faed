package scheduler

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// defaultQueueKey - ключ ZSET с отложенными истечениями
	defaultQueueKey = "flashsale:reservation_expiry"
	// defaultBatchSize - сколько просроченных элементов забираем за один проход
	defaultBatchSize = 100
)

// ExpireFunc - точка входа истечения в engine
// Планировщик не имеет прямого доступа к stock и резервациям: он только
// доставляет reservation_id в ту же операцию, которую может вызвать любой клиент
type ExpireFunc func(ctx context.Context, reservationID string) error

// RedisScheduler реализует service.ExpiryScheduler поверх Redis ZSET
// Член множества - reservation_id, score - время срабатывания (unix millis).
// ZSET переживает рестарт процесса: poller после старта просто продолжает
// выбирать просроченные элементы, отдельного re-arm не требуется.
//
// Гарантия at-least-once: элемент удаляется из очереди только после того,
// как ExpireFunc вернула nil. Упавший процесс или ошибка доставки означают
// повторное срабатывание - engine обязан быть к этому готов (Expire идемпотентен)
type RedisScheduler struct {
	logger       *zap.Logger
	client       *redis.Client
	key          string
	pollInterval time.Duration
	batchSize    int64
}

// NewRedisScheduler создаёт новый Redis планировщик истечений
func NewRedisScheduler(logger *zap.Logger, client *redis.Client, pollInterval time.Duration) *RedisScheduler {
	return &RedisScheduler{
		logger:       logger,
		client:       client,
		key:          defaultQueueKey,
		pollInterval: pollInterval,
		batchSize:    defaultBatchSize,
	}
}

// queueScore возвращает score элемента очереди: первая целая миллисекунда
// строго позже fireAt. Poller выбирает элементы со score <= now, поэтому
// элемент становится выбираемым только после того, как окно резервации
// действительно истекло. Округление вниз (UnixMilli без +1) позволяло бы
// выбрать элемент до fireAt: Expire сделал бы ранний no-op, а ZRem после
// nil навсегда снял бы one-shot расписание
func queueScore(fireAt time.Time) int64 {
	return fireAt.UnixMilli() + 1
}

// Schedule регистрирует one-shot истечение резервации в момент fireAt
func (s *RedisScheduler) Schedule(ctx context.Context, reservationID string, fireAt time.Time) error {
	err := s.client.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(queueScore(fireAt)),
		Member: reservationID,
	}).Err()
	if err != nil {
		s.logger.Error("failed to enqueue reservation expiry",
			zap.Error(err),
			zap.String("reservation_id", reservationID),
			zap.Time("fire_at", fireAt),
		)
		return err
	}

	s.logger.Debug("reservation expiry scheduled",
		zap.String("reservation_id", reservationID),
		zap.Time("fire_at", fireAt),
	)
	return nil
}

// Run запускает poller и блокируется до отмены контекста
// Каждый интервал выбирает просроченные элементы и доставляет их в expire
func (s *RedisScheduler) Run(ctx context.Context, expire ExpireFunc) error {
	s.logger.Info("starting expiry scheduler poller",
		zap.String("queue_key", s.key),
		zap.Duration("poll_interval", s.pollInterval),
	)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// Обрабатываем сразу при старте: в очереди могли накопиться
	// истечения за время, пока процесс не работал
	s.drainDue(ctx, expire)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry scheduler poller stopping")
			return nil
		case <-ticker.C:
			s.drainDue(ctx, expire)
		}
	}
}

// drainDue выбирает элементы со score <= now и доставляет их в engine
func (s *RedisScheduler) drainDue(ctx context.Context, expire ExpireFunc) {
	if ctx.Err() != nil {
		return
	}

	now := time.Now().UTC().UnixMilli()
	due, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: s.batchSize,
	}).Result()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("failed to read due expirations", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.Debug("processing due expirations", zap.Int("count", len(due)))

	for _, reservationID := range due {
		if ctx.Err() != nil {
			return
		}

		if err := expire(ctx, reservationID); err != nil {
			// Элемент остаётся в очереди и будет доставлен повторно
			s.logger.Error("expiry delivery failed, will retry",
				zap.Error(err),
				zap.String("reservation_id", reservationID),
			)
			continue
		}

		if err := s.client.ZRem(ctx, s.key, reservationID).Err(); err != nil {
			// Повторная доставка безопасна: Expire идемпотентен
			s.logger.Error("failed to remove delivered expiry from queue",
				zap.Error(err),
				zap.String("reservation_id", reservationID),
			)
		}
	}
}
