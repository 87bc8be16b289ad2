package roomlock

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tair/roomsync/pkg/logger"
)

// Handler exposes the room-edit lock service over HTTP
type Handler struct {
	service *Service
}

// NewHandler creates a new room lock handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// AcquireLock handles POST /api/rooms/{room_id}/lock
func (h *Handler) AcquireLock(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]

	var req struct {
		UserID          string `json:"user_id"`
		Action          string `json:"action"`
		DurationSeconds int    `json:"duration_seconds,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		respond(w, http.StatusBadRequest, response{Success: false, Error: "user_id and action are required"})
		return
	}

	lease, err := h.service.Acquire(r.Context(), roomID, req.UserID, req.Action, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		var locked *LockedError
		if errors.As(err, &locked) {
			respond(w, http.StatusConflict, response{
				Success: false,
				Error:   "room locked",
				Data: map[string]interface{}{
					"locked_by":  locked.LockedBy,
					"action":     locked.Action,
					"expires_at": locked.ExpiresAt,
				},
			})
			return
		}
		respond(w, http.StatusBadRequest, response{Success: false, Error: err.Error()})
		return
	}

	respond(w, http.StatusOK, response{Success: true, Data: lease})
}

// ReleaseLock handles DELETE /api/rooms/{room_id}/lock
func (h *Handler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]

	var req struct {
		UserID string `json:"user_id"`
		Force  bool   `json:"force,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		respond(w, http.StatusBadRequest, response{Success: false, Error: "user_id is required"})
		return
	}

	if err := h.service.Release(r.Context(), roomID, req.UserID, req.Force); err != nil {
		if errors.Is(err, ErrNotOwner) {
			respond(w, http.StatusForbidden, response{Success: false, Error: err.Error()})
			return
		}
		logger.Error(r.Context()).Err(err).Str("room_id", roomID).Msg("Failed to release room lock")
		respond(w, http.StatusInternalServerError, response{Success: false, Error: "Failed to release lock"})
		return
	}

	respond(w, http.StatusOK, response{Success: true, Message: "Lock released"})
}

// ExtendLock handles PUT /api/rooms/{room_id}/lock
func (h *Handler) ExtendLock(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]

	var req struct {
		UserID          string `json:"user_id"`
		DurationSeconds int    `json:"duration_seconds,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		respond(w, http.StatusBadRequest, response{Success: false, Error: "user_id is required"})
		return
	}

	lease, err := h.service.Extend(r.Context(), roomID, req.UserID, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrNoLease) {
			status = http.StatusNotFound
		} else if errors.Is(err, ErrNotOwner) {
			status = http.StatusForbidden
		}
		respond(w, status, response{Success: false, Error: err.Error()})
		return
	}

	respond(w, http.StatusOK, response{Success: true, Data: lease})
}

// LockStatus handles GET /api/rooms/{room_id}/lock
func (h *Handler) LockStatus(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]

	lease, err := h.service.IsLocked(r.Context(), roomID)
	if err != nil {
		logger.Error(r.Context()).Err(err).Str("room_id", roomID).Msg("Failed to read room lock")
		respond(w, http.StatusInternalServerError, response{Success: false, Error: "Failed to read lock"})
		return
	}

	respond(w, http.StatusOK, response{
		Success: true,
		Data: map[string]interface{}{
			"locked": lease != nil,
			"lease":  lease,
		},
	})
}

// RegisterRoutes registers all room lock routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/rooms/{room_id}/lock", h.AcquireLock).Methods("POST")
	router.HandleFunc("/api/rooms/{room_id}/lock", h.ReleaseLock).Methods("DELETE")
	router.HandleFunc("/api/rooms/{room_id}/lock", h.ExtendLock).Methods("PUT")
	router.HandleFunc("/api/rooms/{room_id}/lock", h.LockStatus).Methods("GET")
}

func respond(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
