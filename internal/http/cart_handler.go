package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopcart/cart-service/internal/auth"
	"github.com/shopcart/cart-service/internal/domain"
	"github.com/shopcart/cart-service/internal/service"
	"github.com/shopcart/cart-service/pkg/logger"
	"go.uber.org/zap"
)

type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error)
	AddProduct(ctx context.Context, userID string, productID int64, quantity int, variant domain.Variant) (*domain.Cart, error)
	UpdateQuantity(ctx context.Context, userID, itemID string, newQuantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID, itemID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

type CartHandler struct {
	carts       CartService
	timeout     time.Duration
	maxBodySize int64
}

func NewCartHandler(carts CartService, timeout time.Duration, maxBodySize int64) *CartHandler {
	return &CartHandler{
		carts:       carts,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.GetOrCreateCart(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *CartHandler) AddProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddProductRequestDTO
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "productId must be positive")
		return
	}

	variant := domain.Variant{Size: req.Size, Color: req.Color}
	cart, err := h.carts.AddProduct(ctx, auth.UserIDFromContext(ctx), req.ProductID, req.Quantity, variant)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	itemID := chi.URLParam(r, "itemId")
	quantity, err := h.quantityFromRequest(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
		return
	}

	cart, err := h.carts.UpdateQuantity(ctx, auth.UserIDFromContext(ctx), itemID, quantity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.RemoveItem(ctx, auth.UserIDFromContext(ctx), chi.URLParam(r, "itemId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.carts.ClearCart(ctx, auth.UserIDFromContext(ctx)); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// quantityFromRequest accepts ?quantity=, ?newQuantity= or a {"quantity": n} body.
func (h *CartHandler) quantityFromRequest(w http.ResponseWriter, r *http.Request) (int, error) {
	for _, key := range []string{"quantity", "newQuantity"} {
		if raw := r.URL.Query().Get(key); raw != "" {
			q, err := strconv.Atoi(raw)
			if err != nil {
				return 0, errors.New(key + " must be an integer")
			}
			return q, nil
		}
	}

	var req UpdateQuantityRequestDTO
	if err := h.decode(w, r, &req); err != nil || req.Quantity == nil {
		return 0, errors.New("quantity is required")
	}
	return *req.Quantity, nil
}

func (h *CartHandler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := io.Reader(r.Body)
	if h.maxBodySize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
	return json.NewDecoder(body).Decode(dst)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, service.ErrStockInsufficient):
		respondError(w, http.StatusConflict, "stock_insufficient", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	case errors.Is(err, context.Canceled):
		respondError(w, http.StatusInternalServerError, "request_cancelled", "request cancelled")
	default:
		logger.FromContext(r.Context()).Error("unhandled service error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
