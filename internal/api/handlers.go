package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/queue"
	"github.com/prudhvinik1/offlinesync/internal/services"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

type EnqueueRequest struct {
	Type       models.OperationType `json:"type" validate:"required,oneof=create update delete"`
	EntityType string               `json:"entity_type" validate:"required,max=64"`
	EntityID   string               `json:"entity_id" validate:"required,max=128"`
	Payload    models.Payload       `json:"payload" validate:"required_unless=Type delete"`
}

type EnqueueResponse struct {
	ID string `json:"id"`
}

type RetryResponse struct {
	IDs []string `json:"ids"`
}

type DiscardResponse struct {
	Discarded int `json:"discarded"`
}

type OperationsResponse struct {
	Operations []*models.SyncOperation `json:"operations"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	engine Engine
	logger *slog.Logger
}

func (h *handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.engine.Enqueue(r.Context(), req.Type, req.EntityType, req.EntityID, req.Payload)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, EnqueueResponse{ID: id})
}

func (h *handler) listPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, OperationsResponse{Operations: h.engine.GetPendingOperations()})
}

func (h *handler) listFailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, OperationsResponse{Operations: h.engine.GetFailedOperations()})
}

func (h *handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Clear(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Sync(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) retryFailed(w http.ResponseWriter, r *http.Request) {
	ids, err := h.engine.RetryFailedOperations(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, RetryResponse{IDs: ids})
}

func (h *handler) discardFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.DiscardFailedOperations(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DiscardResponse{Discarded: n})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetStatus())
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrInvalidOperation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrEngineStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
