package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tair/roomsync/internal/inventory"
	"github.com/tair/roomsync/internal/inventory/domain"
	"github.com/tair/roomsync/pkg/logger"
)

// InventoryHandler handles HTTP requests for the inventory engine
type InventoryHandler struct {
	engine *inventory.Engine
}

// NewInventoryHandler creates a new inventory handler
func NewInventoryHandler(engine *inventory.Engine) *InventoryHandler {
	return &InventoryHandler{engine: engine}
}

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Book handles POST /api/inventory/book
func (h *InventoryHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req inventory.BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	result, err := h.engine.Book(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, Response{
		Success: true,
		Message: "Booking committed",
		Data:    result,
	})
}

// Release handles POST /api/inventory/release
func (h *InventoryHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req inventory.ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	result, err := h.engine.Release(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Release committed",
		Data:    result,
	})
}

// ReadForChannel handles GET /api/inventory/{hotel_id}/{room_type_id}
func (h *InventoryHandler) ReadForChannel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid or missing date, expected YYYY-MM-DD",
		})
		return
	}
	channel := r.URL.Query().Get("channel")

	eff, err := h.engine.ReadForChannel(r.Context(), vars["hotel_id"], vars["room_type_id"], date, channel)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    eff,
	})
}

// BatchCheck handles POST /api/inventory/batch-check
func (h *InventoryHandler) BatchCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Requests []inventory.BookRequest `json:"requests"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	results := h.engine.BatchCheck(r.Context(), req.Requests)
	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    results,
	})
}

// RegisterRoutes registers all inventory routes
func (h *InventoryHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/inventory/book", h.Book).Methods("POST")
	router.HandleFunc("/api/inventory/release", h.Release).Methods("POST")
	router.HandleFunc("/api/inventory/batch-check", h.BatchCheck).Methods("POST")
	router.HandleFunc("/api/inventory/{hotel_id}/{room_type_id}", h.ReadForChannel).Methods("GET")
}

// respondError maps the error taxonomy onto HTTP statuses.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNoInventoryRecord), errors.Is(err, domain.ErrBookingNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrGateClosed),
		errors.Is(err, domain.ErrInsufficientAvailability),
		errors.Is(err, domain.ErrConstraintViolation):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrLockBusy), errors.Is(err, domain.ErrTransactionAborted):
		status = http.StatusTooManyRequests
	}

	if status == http.StatusInternalServerError {
		logger.Error(r.Context()).Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}

	respondJSON(w, status, Response{
		Success: false,
		Error:   err.Error(),
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
