package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/repository"
	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/repository/memory"
	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/scheduler"
	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/service"
)

// newTestRouter собирает полный HTTP стек поверх in-memory хранилища
func newTestRouter(t *testing.T, products ...repository.Product) chi.Router {
	t.Helper()

	store := memory.NewStore()
	store.SeedProducts(products...)

	sch := scheduler.NewMemoryScheduler(zap.NewNop())
	svc := service.NewReservationService(zap.NewNop(), store, sch, service.NopEventPublisher{}, time.Minute)
	sch.Start(svc.ExpireReservation)
	t.Cleanup(sch.Stop)

	handler := NewHandler(zap.NewNop(), svc)
	return NewRouter(handler, func() bool { return true }, nil)
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req := httptest.NewRequest(method, path, &reqBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeReservation(t *testing.T, rec *httptest.ResponseRecorder) ReservationResponse {
	t.Helper()
	var resp ReservationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func testProduct() repository.Product {
	return repository.Product{ID: "c3d7cc4f-7e4c-4b6a-9d5d-0a3b4c8e2f33", Name: "AirPods Pro", PriceCents: 24999, AvailableStock: 20}
}

func TestHandler_PostReservations(t *testing.T) {
	t.Run("creates reservation and returns 201", func(t *testing.T) {
		router := newTestRouter(t, testProduct())

		rec := doJSON(t, router, http.MethodPost, "/reservations", map[string]any{
			"product_id": testProduct().ID,
			"quantity":   2,
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		resp := decodeReservation(t, rec)
		require.NotEmpty(t, resp.ID)
		require.Equal(t, testProduct().ID, resp.ProductID)
		require.Equal(t, 2, resp.Quantity)
		require.Equal(t, "active", resp.Status)
		require.NotEmpty(t, resp.ExpiresAt)
		require.Nil(t, resp.CompletedAt)
	})

	t.Run("invalid JSON returns 400", func(t *testing.T) {
		router := newTestRouter(t, testProduct())

		req := httptest.NewRequest(http.MethodPost, "/reservations", bytes.NewBufferString("{broken"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing product_id returns 400", func(t *testing.T) {
		router := newTestRouter(t, testProduct())

		rec := doJSON(t, router, http.MethodPost, "/reservations", map[string]any{"quantity": 1})

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("quantity above limit returns 400", func(t *testing.T) {
		router := newTestRouter(t, testProduct())

		rec := doJSON(t, router, http.MethodPost, "/reservations", map[string]any{
			"product_id": testProduct().ID,
			"quantity":   101,
		})

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown product returns 404", func(t *testing.T) {
		router := newTestRouter(t, testProduct())

		rec := doJSON(t, router, http.MethodPost, "/reservations", map[string]any{
			"product_id": "00000000-0000-0000-0000-000000000000",
			"quantity":   1,
		})

		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("insufficient stock returns 409", func(t *testing.T) {
		router := newTestRouter(t, repository.Product{ID: "p1", Name: "MacBook Air M3", PriceCents: 129999, AvailableStock: 1})

		rec := doJSON(t, router, http.MethodPost, "/reservations", map[string]any{
			"product_id": "p1",
			"quantity":   2,
		})

		require.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHandler_CompleteAndCancel(t *testing.T) {
	t.Run("complete returns 200 with completed_at", func(t *testing.T) {
		router := newTestRouter(t, testProduct())
		created := decodeReservation(t, doJSON(t, router, http.MethodPost, "/reservations", map[string]any{
			"product_id": testProduct().ID,
			"quantity":   1,
		}))

		rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/reservations/%s/complete", created.ID), nil)

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeReservation(t, rec)
		require.Equal(t, "completed", resp.Status)
		require.NotNil(t, resp.CompletedAt)
	})

	t.Run("complete of unknown reservation returns 404", func(t *testing.T) {
		router := newTestRouter(t, testProduct())

		rec := doJSON(t, router, http.MethodPost, "/reservations/missing/complete", nil)

		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("double complete returns 409", func(t *testing.T) {
		router := newTestRouter(t, testProduct())
		created := decodeReservation(t, doJSON(t, router, http.MethodPost, "/reservations", map[string]any{
			"product_id": testProduct().ID,
			"quantity":   1,
		}))

		first := doJSON(t, router, http.MethodPost, fmt.Sprintf("/reservations/%s/complete", created.ID), nil)
		require.Equal(t, http.StatusOK, first.Code)

		second := doJSON(t, router, http.MethodPost, fmt.Sprintf("/reservations/%s/complete", created.ID), nil)
		require.Equal(t, http.StatusConflict, second.Code)
	})

	t.Run("cancel returns 200 and releases the hold", func(t *testing.T) {
		router := newTestRouter(t, testProduct())
		created := decodeReservation(t, doJSON(t, router, http.MethodPost, "/reservations", map[string]any{
			"product_id": testProduct().ID,
			"quantity":   3,
		}))

		rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/reservations/%s/cancel", created.ID), nil)

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeReservation(t, rec)
		require.Equal(t, "cancelled", resp.Status)

		// Stock вернулся в available
		productsRec := doJSON(t, router, http.MethodGet, "/products", nil)
		require.Equal(t, http.StatusOK, productsRec.Code)
		var products []ProductResponse
		require.NoError(t, json.NewDecoder(productsRec.Body).Decode(&products))
		require.Len(t, products, 1)
		require.Equal(t, 20, products[0].AvailableStock)
		require.Equal(t, 0, products[0].ReservedStock)
	})
}

func TestHandler_GetReservations(t *testing.T) {
	t.Run("filters by status", func(t *testing.T) {
		router := newTestRouter(t, testProduct())
		created := decodeReservation(t, doJSON(t, router, http.MethodPost, "/reservations", map[string]any{
			"product_id": testProduct().ID,
			"quantity":   1,
		}))
		other := decodeReservation(t, doJSON(t, router, http.MethodPost, "/reservations", map[string]any{
			"product_id": testProduct().ID,
			"quantity":   1,
		}))
		doJSON(t, router, http.MethodPost, fmt.Sprintf("/reservations/%s/complete", other.ID), nil)

		rec := doJSON(t, router, http.MethodGet, "/reservations?status=active", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var list []ReservationResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
		require.Len(t, list, 1)
		require.Equal(t, created.ID, list[0].ID)
	})

	t.Run("unknown status filter returns 400", func(t *testing.T) {
		router := newTestRouter(t, testProduct())

		rec := doJSON(t, router, http.MethodGet, "/reservations?status=pending", nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get by id returns 200 or 404", func(t *testing.T) {
		router := newTestRouter(t, testProduct())
		created := decodeReservation(t, doJSON(t, router, http.MethodPost, "/reservations", map[string]any{
			"product_id": testProduct().ID,
			"quantity":   1,
		}))

		found := doJSON(t, router, http.MethodGet, "/reservations/"+created.ID, nil)
		require.Equal(t, http.StatusOK, found.Code)

		missing := doJSON(t, router, http.MethodGet, "/reservations/missing", nil)
		require.Equal(t, http.StatusNotFound, missing.Code)
	})
}

func TestHandler_Health(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
