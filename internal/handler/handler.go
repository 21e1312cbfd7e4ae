// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/gateway"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/model"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/repository"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// EventHandler serves registration against an event's roster.
type EventHandler struct {
	svc *service.RegistrationService
	log *zap.Logger
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.RegistrationService, log *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, log: log.Named("handler")}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

// writeServiceError maps domain errors to status codes. Anything unmapped
// is logged and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, service.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, gateway.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrPaymentRequired):
		writeError(w, http.StatusForbidden, "payment required for this event")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAlreadyPaid):
		writeError(w, http.StatusConflict, "registration fee already paid")
	case errors.Is(err, service.ErrNotPaid):
		writeError(w, http.StatusConflict, "payment is not completed")
	case errors.Is(err, repository.ErrSettlementConflict):
		writeError(w, http.StatusConflict, "payment outcome conflicts with recorded status")
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		writeError(w, http.StatusBadGateway, "payment gateway unavailable, try again")
	default:
		log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// Toggle handles POST /events/{id}/register
// Registers the caller, or unregisters them when already on the roster.
func (h *EventHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Toggle(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Unregister handles DELETE /events/{id}/register
func (h *EventHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Unregister(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetEvent handles GET /events/{id}
// Returns capacity, fee, participants and waitlist.
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Event(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListRegistrations handles GET /events/{id}/registrations
func (h *EventHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Event(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	// Return empty arrays rather than null for better client compatibility.
	list := model.RegistrationList{
		EventID:      view.EventID,
		Participants: view.Participants,
		Waitlist:     view.Waitlist,
	}
	if list.Participants == nil {
		list.Participants = []string{}
	}
	if list.Waitlist == nil {
		list.Waitlist = []string{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
