package app

import (
	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/repository"
)

// defaultCatalog возвращает стартовый каталог товаров для in-memory режима.
// Те же товары и идентификаторы, что и в seed миграции для PostgreSQL,
// поэтому запросы к API работают одинаково в обоих режимах
func defaultCatalog() []repository.Product {
	return []repository.Product{
		{ID: "a1b9ef2c-5c2a-4f4e-9d3b-8e1f2a6c0d11", Name: "iPhone 15 Pro", PriceCents: 99999, AvailableStock: 10},
		{ID: "b2c8dd3e-6d3b-4a5f-8c4c-9f2a3b7d1e22", Name: "MacBook Air M3", PriceCents: 129999, AvailableStock: 5},
		{ID: "c3d7cc4f-7e4c-4b6a-9d5d-0a3b4c8e2f33", Name: "AirPods Pro", PriceCents: 24999, AvailableStock: 20},
		{ID: "d4e6bb5a-8f5d-4c7b-8e6e-1b4c5d9f3a44", Name: "Apple Watch Series 9", PriceCents: 39999, AvailableStock: 8},
		{ID: "e5f5aa6b-9a6e-4d8c-9f7f-2c5d6e0a4b55", Name: "iPad Air", PriceCents: 59999, AvailableStock: 12},
		{ID: "f6a499c7-0b7f-4e9d-8a80-3d6e7f1b5c66", Name: "PlayStation 5", PriceCents: 49999, AvailableStock: 15},
		{ID: "a7b588d8-1c80-4fae-9b91-4e7f802c6d77", Name: "Nintendo Switch OLED", PriceCents: 34999, AvailableStock: 7},
		{ID: "b8c677e9-2d91-40bf-8ca2-5f80913d7e88", Name: "Sony WH-1000XM5", PriceCents: 39999, AvailableStock: 9},
	}
}
