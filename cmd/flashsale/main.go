package main

import (
	"log"

	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/app"
	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/config"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Log()

	// Собираем граф зависимостей и инициализируем все компоненты
	application, err := app.Build(cfg)
	if err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}

	// Run блокируется до graceful shutdown
	if err := application.Run(); err != nil {
		log.Fatalf("Service error: %v", err)
	}
}
