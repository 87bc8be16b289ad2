package bulkops

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tair/roomsync/internal/inventory/domain"
	"github.com/tair/roomsync/pkg/logger"
)

// Handler exposes the bulk operation coordinator over HTTP
type Handler struct {
	coordinator *Coordinator
}

// NewHandler creates a new bulk operations handler
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

type response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// BulkStatusUpdate handles POST /api/rooms/bulk-status
func (h *Handler) BulkStatusUpdate(w http.ResponseWriter, r *http.Request) {
	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, response{Success: false, Error: "Invalid request body"})
		return
	}

	result, batch, err := h.coordinator.BulkStatusUpdate(r.Context(), req)
	h.respondBatch(w, r, result, batch, err)
}

// BulkRoomAssignment handles POST /api/rooms/bulk-assign
func (h *Handler) BulkRoomAssignment(w http.ResponseWriter, r *http.Request) {
	var req AssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, response{Success: false, Error: "Invalid request body"})
		return
	}

	result, batch, err := h.coordinator.BulkRoomAssignment(r.Context(), req)
	h.respondBatch(w, r, result, batch, err)
}

// BulkRoomBlock handles POST /api/rooms/bulk-block
func (h *Handler) BulkRoomBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomIDs   []string  `json:"room_ids"`
		BlockName string    `json:"block_name"`
		StartDate time.Time `json:"start_date"`
		EndDate   time.Time `json:"end_date"`
		Reason    string    `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, response{Success: false, Error: "Invalid request body"})
		return
	}

	result, err := h.coordinator.BulkRoomBlock(r.Context(), req.RoomIDs, BlockData{
		BlockName: req.BlockName,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Reason:    req.Reason,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, response{Success: true, Data: result})
}

// BulkRoomRelease handles POST /api/rooms/bulk-release
func (h *Handler) BulkRoomRelease(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomIDs []string `json:"room_ids"`
		Reason  string   `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, response{Success: false, Error: "Invalid request body"})
		return
	}

	result, err := h.coordinator.BulkRoomRelease(r.Context(), req.RoomIDs, req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, response{Success: true, Data: result})
}

// BatchProgress handles GET /api/rooms/batches/{batch_id}
func (h *Handler) BatchProgress(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batch_id"]

	batch := h.coordinator.Progress(batchID)
	if batch == nil {
		respond(w, http.StatusNotFound, response{Success: false, Error: "Batch not found"})
		return
	}
	respond(w, http.StatusOK, response{Success: true, Data: batch})
}

// ActiveBatches handles GET /api/rooms/batches
func (h *Handler) ActiveBatches(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, response{Success: true, Data: h.coordinator.ActiveBatches()})
}

// RegisterRoutes registers all bulk operation routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/rooms/bulk-status", h.BulkStatusUpdate).Methods("POST")
	router.HandleFunc("/api/rooms/bulk-assign", h.BulkRoomAssignment).Methods("POST")
	router.HandleFunc("/api/rooms/bulk-block", h.BulkRoomBlock).Methods("POST")
	router.HandleFunc("/api/rooms/bulk-release", h.BulkRoomRelease).Methods("POST")
	router.HandleFunc("/api/rooms/batches/{batch_id}", h.BatchProgress).Methods("GET")
	router.HandleFunc("/api/rooms/batches", h.ActiveBatches).Methods("GET")
}

func (h *Handler) respondBatch(w http.ResponseWriter, r *http.Request, result *Result, batch *Batch, err error) {
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if result == nil {
		// Async; processing continues on a worker goroutine.
		respond(w, http.StatusAccepted, response{
			Success: true,
			Data: map[string]interface{}{
				"batch_id": batch.BatchID,
				"status":   batch.Status,
				"total":    batch.Total,
			},
		})
		return
	}

	respond(w, http.StatusOK, response{Success: true, Data: result})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrValidation) {
		respond(w, http.StatusBadRequest, response{Success: false, Error: err.Error()})
		return
	}
	logger.Error(r.Context()).Err(err).Msg("Bulk operation failed")
	respond(w, http.StatusInternalServerError, response{Success: false, Error: "Bulk operation failed"})
}

func respond(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
