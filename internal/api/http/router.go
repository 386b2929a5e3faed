package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/api/http/middleware"
	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/health"
)

// NewRouter создаёт и настраивает HTTP роутер сервиса резервации
// readiness - функция для проверки готовности сервиса (например, проверка БД).
// Если readiness возвращает false, health endpoint вернёт 503 Service Unavailable.
func NewRouter(handler *Handler, readiness func() bool, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if logger != nil {
		router.Use(middleware.RequestLogging(logger))
	}

	router.Route("/reservations", func(r chi.Router) {
		r.Post("/", handler.PostReservations)
		r.Get("/", handler.GetReservations)
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			handler.GetReservationsId(w, r, chi.URLParam(r, "id"))
		})
		r.Post("/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
			handler.PostReservationsIdComplete(w, r, chi.URLParam(r, "id"))
		})
		r.Post("/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
			handler.PostReservationsIdCancel(w, r, chi.URLParam(r, "id"))
		})
	})

	router.Get("/products", handler.GetProducts)

	router.Get("/health", health.Handler(readiness))

	return router
}
