package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	httpapi "github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/api/http"
	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/config"
	kafkaevent "github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/event/kafka"
	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/logging"
	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/repository"
	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/repository/memory"
	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/repository/postgres"
	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/scheduler"
	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/service"
	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/shutdown"
)

// App содержит все зависимости для запуска и корректного shutdown сервиса резервации
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	shutdownMgr *shutdown.Manager
	readiness   func() bool

	// workerCtx отменяется при shutdown, останавливая фоновые воркеры
	workerCtx context.Context
	workers   []func(ctx context.Context)
	wg        sync.WaitGroup
}

// Build создаёт и настраивает все зависимости сервиса резервации
func Build(cfg config.Config) (*App, error) {
	const op = "app.Build"

	// Создаём logger
	logger, err := logging.New(logging.Config{
		ServiceName: "flashsale",
		Env:         string(cfg.AppEnv),
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      os.Getenv("LOG_FORMAT"),
	})
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("op", op))
	logger.Info("Building flash sale service",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("storage", string(cfg.Storage)))

	// Создаём shutdown manager
	shutdownMgr := shutdown.New(cfg.ShutdownTimeout, logger)

	// Контекст фоновых воркеров, отменяется первым при shutdown
	workerCtx, cancelWorkers := context.WithCancel(context.Background())

	app := &App{
		logger:      logger,
		shutdownMgr: shutdownMgr,
		workerCtx:   workerCtx,
	}

	var (
		store     repository.Store
		expirySch service.ExpiryScheduler
	)

	// Планировщик истечения запускается после создания service слоя
	// (ему нужна функция ExpireReservation)
	var startScheduler func(svc *service.ReservationService)

	switch cfg.Storage {
	case config.StoragePostgres:
		// Подключаемся к PostgreSQL
		logger.Info("Connecting to PostgreSQL")
		pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
		if err != nil {
			cancelWorkers()
			return nil, err
		}

		if err := pool.Ping(context.Background()); err != nil {
			pool.Close()
			cancelWorkers()
			return nil, err
		}
		logger.Info("PostgreSQL connection established")

		// Применяем миграции
		if err := runMigrations(cfg.PostgresDSN); err != nil {
			pool.Close()
			cancelWorkers()
			return nil, err
		}
		logger.Info("Database migrations applied successfully")

		// Подключаемся к Redis
		logger.Info("Connecting to Redis", zap.String("addr", cfg.RedisAddr))
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			pool.Close()
			cancelWorkers()
			return nil, err
		}
		logger.Info("Redis connection established")

		store = postgres.NewStore(pool)
		redisSch := scheduler.NewRedisScheduler(logger, redisClient, cfg.ExpiryPollInterval)
		expirySch = redisSch

		startScheduler = func(svc *service.ReservationService) {
			app.workers = append(app.workers, func(ctx context.Context) {
				if err := redisSch.Run(ctx, svc.ExpireReservation); err != nil && ctx.Err() == nil {
					logger.Error("expiry scheduler stopped", zap.Error(err))
				}
			})
		}

		app.readiness = func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(ctx) == nil
		}

		shutdownMgr.Add("postgres_pool", shutdown.ClosePool(pool))
		shutdownMgr.Add("redis_client", shutdown.CloseWithError(redisClient))

	case config.StorageMemory:
		// In-memory хранилище с предзаполненным каталогом
		memStore := memory.NewStore()
		memStore.SeedProducts(defaultCatalog()...)
		logger.Info("In-memory store seeded", zap.Int("products", len(defaultCatalog())))

		memSch := scheduler.NewMemoryScheduler(logger)
		store = memStore
		expirySch = memSch

		startScheduler = func(svc *service.ReservationService) {
			memSch.Start(svc.ExpireReservation)
		}

		app.readiness = func() bool { return true }

		shutdownMgr.Add("memory_scheduler", func(ctx context.Context) error {
			memSch.Stop()
			return nil
		})

	default:
		cancelWorkers()
		return nil, fmt.Errorf("unsupported storage: %s", cfg.Storage)
	}

	// Публикация событий жизненного цикла в Kafka (опционально)
	var publisher service.EventPublisher = service.NopEventPublisher{}
	if cfg.Kafka.Enabled() {
		logger.Info("Kafka event publishing enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
		kafkaPublisher := kafkaevent.NewReservationEventPublisher(logger, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publisher = kafkaPublisher
		shutdownMgr.Add("kafka_publisher", shutdown.CloseWithError(kafkaPublisher))
	}

	// Создаём service слой
	reservationService := service.NewReservationService(logger, store, expirySch, publisher, cfg.ReservationTTL)
	startScheduler(reservationService)

	// Создаём HTTP handler и роутер
	handler := httpapi.NewHandler(logger, reservationService)
	router := httpapi.NewRouter(handler, app.readiness, logger)

	// Создаём HTTP сервер
	app.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Воркеры останавливаются до закрытия соединений, сервер - первым
	shutdownMgr.Add("workers_cancel", shutdown.Cancel(cancelWorkers))
	shutdownMgr.Add("http_server", shutdown.ShutdownHTTPServer(app.httpServer))

	return app, nil
}

// runMigrations применяет goose миграции из каталога migrations
func runMigrations(dsn string) error {
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	return goose.Up(db, filepath.Join(wd, "migrations"))
}

// Run запускает сервис и блокируется до получения сигнала shutdown
func (a *App) Run() error {
	defer logging.Sync(a.logger)

	a.logger.Info("Starting flash sale service", zap.String("addr", a.httpServer.Addr))
	a.logger.Info("Health check available", zap.String("url", "http://"+a.httpServer.Addr+"/health"))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	for _, worker := range a.workers {
		worker := worker
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			worker(a.workerCtx)
		}()
	}

	// Ожидаем сигнал и выполняем shutdown
	a.shutdownMgr.Wait()

	a.wg.Wait()
	a.logger.Info("Flash sale service stopped")
	return nil
}
