package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/negotiation-scheduler/internal/broadcast"
	"github.com/example/negotiation-scheduler/internal/events"
	"github.com/example/negotiation-scheduler/internal/negotiation"
	"github.com/example/negotiation-scheduler/internal/persistence"
	"github.com/example/negotiation-scheduler/internal/scheduler"
)

type negotiationService interface {
	Negotiate(ctx context.Context, req negotiation.Request) (negotiation.Result, error)
	Schedule(ctx context.Context, req negotiation.ScheduleRequest) (negotiation.ScheduleResult, error)
	Session(ctx context.Context, id string) (negotiation.Session, error)
	Policy() scheduler.Policy
}

// NegotiationHandler serves the negotiate and schedule protocol plus session lookups.
type NegotiationHandler struct {
	service   negotiationService
	events    persistence.EventRepository
	responder responder
	logger    *slog.Logger
}

// NewNegotiationHandler wires the handler. eventLog may be nil, in which case
// the session event listing responds with an empty list.
func NewNegotiationHandler(service negotiationService, eventLog persistence.EventRepository, logger *slog.Logger) *NegotiationHandler {
	base := defaultLogger(logger)
	return &NegotiationHandler{service: service, events: eventLog, responder: newResponder(base), logger: base}
}

func (h *NegotiationHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "NegotiationHandler", operation, attrs...)
}

// Negotiate ranks candidate slots without writing anything.
func (h *NegotiationHandler) Negotiate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var body negotiateRequest
	if err := decodeBody(r, &body); err != nil {
		h.log(r.Context(), "Negotiate", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode negotiate request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	req, err := negotiation.ParseRequest(body.RequestInput, h.service.Policy().Location)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	result, err := h.service.Negotiate(r.Context(), req)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Negotiate", "session_id", result.SessionID).InfoContext(r.Context(), "negotiation completed",
		"candidates", len(result.Candidates),
		"outcome", result.Outcome,
	)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, result)
}

// Schedule commits the slot at slot_index of the request's ranked list.
func (h *NegotiationHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var body scheduleRequest
	if err := decodeBody(r, &body); err != nil {
		h.log(r.Context(), "Schedule", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode schedule request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	if body.SlotIndex == nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingSlotIndex)
		return
	}

	req, err := negotiation.ParseRequest(body.RequestInput, h.service.Policy().Location)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	result, err := h.service.Schedule(r.Context(), negotiation.ScheduleRequest{
		Request:   req,
		SlotIndex: *body.SlotIndex,
		SessionID: strings.TrimSpace(body.SessionID),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Schedule", "session_id", result.SessionID).InfoContext(r.Context(), "schedule completed", "outcome", result.Outcome)
	h.responder.writeJSON(r.Context(), w, scheduleStatus(result.Outcome), result)
}

// Session returns a negotiation session snapshot.
func (h *NegotiationHandler) Session(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessionID, ok := SessionIDFromContext(r.Context())
	if !ok || strings.TrimSpace(sessionID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	session, err := h.service.Session(r.Context(), sessionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, session)
}

// Events lists the recorded events of a session in sequence order.
func (h *NegotiationHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sessionID, ok := SessionIDFromContext(r.Context())
	if !ok || strings.TrimSpace(sessionID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidSessionID)
		return
	}

	response := listEventsResponse{SessionID: sessionID, Events: []events.Event{}}
	if h.events == nil {
		h.responder.writeJSON(r.Context(), w, http.StatusOK, response)
		return
	}

	records, err := h.events.ListEvents(r.Context(), sessionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	for _, record := range records {
		event, err := broadcast.DecodeRecord(record)
		if err != nil {
			h.log(r.Context(), "Events", "session_id", sessionID).WarnContext(r.Context(), "skipping undecodable event", "sequence", record.Sequence, "error", err)
			continue
		}
		response.Events = append(response.Events, event)
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, response)
}

func scheduleStatus(outcome negotiation.Outcome) int {
	switch outcome {
	case negotiation.OutcomeScheduled:
		return http.StatusCreated
	case negotiation.OutcomeInvalidSlotIndex:
		return http.StatusBadRequest
	case negotiation.OutcomeSlotConflict:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

func decodeBody(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

type negotiateRequest struct {
	negotiation.RequestInput
}

type scheduleRequest struct {
	negotiation.RequestInput
	SlotIndex *int   `json:"slot_index"`
	SessionID string `json:"session_id"`
}

type listEventsResponse struct {
	SessionID string         `json:"session_id"`
	Events    []events.Event `json:"events"`
}
