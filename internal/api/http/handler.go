package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/repository"
	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/service"
)

// Handler содержит HTTP-обработчики сервиса резервации
// Зависит от service слоя, но не знает о деталях реализации (БД, планировщик)
type Handler struct {
	logger             *zap.Logger
	reservationService *service.ReservationService
}

// NewHandler создаёт новый HTTP handler
func NewHandler(logger *zap.Logger, reservationService *service.ReservationService) *Handler {
	return &Handler{
		logger:             logger,
		reservationService: reservationService,
	}
}

// ReservationRequest представляет HTTP запрос на создание резервации
type ReservationRequest struct {
	ProductID *string `json:"product_id"`
	Quantity  *int    `json:"quantity"`
}

// ReservationResponse представляет HTTP ответ с информацией о резервации
type ReservationResponse struct {
	ID          string  `json:"id"`
	ProductID   string  `json:"product_id"`
	Quantity    int     `json:"quantity"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	ExpiresAt   string  `json:"expires_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// ProductResponse представляет товар каталога с текущими счётчиками stock
type ProductResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	PriceCents     int64  `json:"price_cents"`
	AvailableStock int    `json:"available_stock"`
	ReservedStock  int    `json:"reserved_stock"`
}

// PostReservations обрабатывает POST /reservations - создание резервации
func (h *Handler) PostReservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqBody ReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		h.logger.Warn("JSON decode error", zap.Error(err))
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	// Валидация входных данных
	if reqBody.ProductID == nil || *reqBody.ProductID == "" {
		http.Error(w, "Invalid payload: product_id is required", http.StatusBadRequest)
		return
	}
	if reqBody.Quantity == nil || *reqBody.Quantity <= 0 {
		http.Error(w, "Invalid payload: quantity must be > 0", http.StatusBadRequest)
		return
	}

	res, err := h.reservationService.CreateReservation(ctx, *reqBody.ProductID, *reqBody.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toReservationResponse(res))
}

// PostReservationsIdComplete обрабатывает POST /reservations/{id}/complete
func (h *Handler) PostReservationsIdComplete(w http.ResponseWriter, r *http.Request, id string) {
	res, err := h.reservationService.CompleteReservation(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toReservationResponse(res))
}

// PostReservationsIdCancel обрабатывает POST /reservations/{id}/cancel
func (h *Handler) PostReservationsIdCancel(w http.ResponseWriter, r *http.Request, id string) {
	res, err := h.reservationService.CancelReservation(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toReservationResponse(res))
}

// GetReservations обрабатывает GET /reservations?status= - список резерваций
func (h *Handler) GetReservations(w http.ResponseWriter, r *http.Request) {
	reservations, err := h.reservationService.ListReservations(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]ReservationResponse, 0, len(reservations))
	for _, res := range reservations {
		resp = append(resp, toReservationResponse(res))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetReservationsId обрабатывает GET /reservations/{id}
func (h *Handler) GetReservationsId(w http.ResponseWriter, r *http.Request, id string) {
	res, err := h.reservationService.GetReservation(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toReservationResponse(res))
}

// GetProducts обрабатывает GET /products - каталог товаров
func (h *Handler) GetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.reservationService.ListProducts(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, ProductResponse{
			ID:             p.ID,
			Name:           p.Name,
			PriceCents:     p.PriceCents,
			AvailableStock: p.AvailableStock,
			ReservedStock:  p.ReservedStock,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// writeError мапит ошибки service слоя на HTTP статусы
// Клиент различает "товар закончился" (409 insufficient stock)
// и "окно резервации истекло" (409 expired)
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, repository.ErrProductNotFound),
		errors.Is(err, repository.ErrReservationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrInsufficientStock),
		errors.Is(err, service.ErrReservationNotActive),
		errors.Is(err, service.ErrReservationExpired):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidStatusFilter):
		status = http.StatusBadRequest
	default:
		h.logger.Error("internal error", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Error(w, err.Error(), status)
}

// writeJSON сериализует ответ
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// toReservationResponse преобразует доменную модель в HTTP DTO
func toReservationResponse(res repository.Reservation) ReservationResponse {
	resp := ReservationResponse{
		ID:        res.ID,
		ProductID: res.ProductID,
		Quantity:  res.Quantity,
		Status:    string(res.Status),
		CreatedAt: res.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt: res.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if res.CompletedAt != nil {
		completedAt := res.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &completedAt
	}
	return resp
}
