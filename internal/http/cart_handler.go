package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/Bartolojed11/enm-api/internal/domain"
	"github.com/Bartolojed11/enm-api/internal/service"
)

// CartEngine is the slice of the cart service the handlers consume.
type CartEngine interface {
	AddItem(ctx context.Context, in service.AddItemInput) (*domain.LineItem, error)
	GetCart(ctx context.Context, userID string) (*domain.CartView, error)
	RemoveItems(ctx context.Context, userID string, itemIDs []string) ([]service.RemovalResult, error)
}

type CartHandler struct {
	engine  CartEngine
	timeout time.Duration
}

func NewCartHandler(engine CartEngine, timeout time.Duration) *CartHandler {
	return &CartHandler{
		engine:  engine,
		timeout: timeout,
	}
}

type addItemDTO struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	CartItems struct {
		ProductID   string  `json:"product_id"`
		Quantity    int64   `json:"quantity"`
		Amount      float64 `json:"amount"`
		TotalAmount float64 `json:"total_amount"`
		Image       string  `json:"image"`
	} `json:"cart_items"`
}

type getCartDTO struct {
	UserID string `json:"user_id"`
}

type removeItemsDTO struct {
	UserID    string `json:"user_id"`
	CartItems []struct {
		ID string `json:"_id"`
	} `json:"cart_items"`
}

type envelope struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Results *int        `json:"results,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req addItemDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	item, err := h.engine.AddItem(ctx, service.AddItemInput{
		UserID:      req.UserID,
		Email:       req.Email,
		ProductID:   req.CartItems.ProductID,
		Quantity:    req.CartItems.Quantity,
		Amount:      req.CartItems.Amount,
		TotalAmount: req.CartItems.TotalAmount,
		Image:       req.CartItems.Image,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, envelope{
		Status:  "success",
		Message: "Product successfully added to cart",
		Data:    map[string]interface{}{"cart_item": item},
	})
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req getCartDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	view, err := h.engine.GetCart(ctx, req.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := 0
	if view != nil {
		results = len(view.Items)
	}

	respondJSON(w, http.StatusOK, envelope{
		Status:  "success",
		Results: &results,
		Data:    map[string]interface{}{"user_cart": view},
	})
}

func (h *CartHandler) RemoveItems(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req removeItemsDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ids := make([]string, 0, len(req.CartItems))
	for _, ref := range req.CartItems {
		ids = append(ids, ref.ID)
	}

	removed, err := h.engine.RemoveItems(ctx, req.UserID, ids)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, envelope{
		Status:  "success",
		Message: "Removed from cart successfully",
		Data:    map[string]interface{}{"removed": removed},
	})
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	tag := "error"
	if status < http.StatusInternalServerError {
		tag = "fail"
	}
	respondJSON(w, status, envelope{Status: tag, Message: message})
}

// handleServiceError is the single place engine errors become HTTP statuses.
// Persistence details never reach the response body.
func handleServiceError(w http.ResponseWriter, err error) {
	var vErr *service.ValidationError

	switch {
	case errors.As(err, &vErr):
		respondError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, service.ErrCartNotFound):
		respondError(w, http.StatusNotFound, "No cart found for this user")
	case errors.Is(err, service.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "Empty cart")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		log.Printf("cart handler error: %v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
