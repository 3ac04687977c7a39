package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/negotiation-scheduler/internal/persistence"
)

const defaultCalendarWindow = 14 * 24 * time.Hour

type calendarStore interface {
	persistence.ParticipantRepository
	persistence.CalendarRepository
}

// CalendarHandler exposes participants and their calendar blocks.
type CalendarHandler struct {
	store     calendarStore
	responder responder
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

func NewCalendarHandler(store calendarStore, logger *slog.Logger) *CalendarHandler {
	base := defaultLogger(logger)
	return &CalendarHandler{
		store:     store,
		responder: newResponder(base),
		logger:    base,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (h *CalendarHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "CalendarHandler", operation, attrs...)
}

func (h *CalendarHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.store == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	participants, err := h.store.ListParticipants(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listParticipantsResponse{Participants: toParticipantDTOs(participants)})
}

func (h *CalendarHandler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.store == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	participantID, ok := ParticipantIDFromContext(r.Context())
	if !ok || strings.TrimSpace(participantID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidParticipant)
		return
	}

	from, to, err := calendarWindow(r.URL.Query(), h.now())
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidTimeRange)
		return
	}

	if _, err := h.store.GetParticipant(r.Context(), participantID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	blocks, err := h.store.GetBlocks(r.Context(), participantID, from, to)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listBlocksResponse{
		ParticipantID: participantID,
		From:          formatTime(from),
		To:            formatTime(to),
		Blocks:        toBlockDTOs(blocks),
	})
}

func (h *CalendarHandler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.store == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	participantID, ok := ParticipantIDFromContext(r.Context())
	if !ok || strings.TrimSpace(participantID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidParticipant)
		return
	}

	var req blockRequest
	if err := decodeBody(r, &req); err != nil {
		h.log(r.Context(), "CreateBlock", "participant_id", participantID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode block request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	if _, err := h.store.GetParticipant(r.Context(), participantID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	block, err := req.toBlock(h.newID(), participantID, h.now())
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidTimeRange)
		return
	}
	if err := h.store.CreateBlock(r.Context(), block); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "CreateBlock", "participant_id", participantID).InfoContext(r.Context(), "calendar block created", "block_id", block.ID, "kind", block.Kind)
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toBlockDTO(block))
}

// calendarWindow reads from/to as RFC 3339 instants or YYYY-MM-DD dates.
// A missing bound defaults to now and two weeks after from.
func calendarWindow(values url.Values, now time.Time) (time.Time, time.Time, error) {
	from := now
	if raw := strings.TrimSpace(values.Get("from")); raw != "" {
		parsed, err := parseQueryTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	to := from.Add(defaultCalendarWindow)
	if raw := strings.TrimSpace(values.Get("to")); raw != "" {
		parsed, err := parseQueryTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errInvalidTimeRange
	}
	return from, to, nil
}

func parseQueryTime(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse("2006-01-02", value); err == nil {
		return ts, nil
	}
	return time.Time{}, errInvalidTimeRange
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

type blockRequest struct {
	Title      string `json:"title"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Kind       string `json:"kind"`
	Priority   *int   `json:"priority"`
	IsFlexible bool   `json:"is_flexible"`
}

func (r blockRequest) toBlock(id, ownerID string, now time.Time) (persistence.CalendarBlock, error) {
	start, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(r.Start))
	if err != nil {
		return persistence.CalendarBlock{}, err
	}
	end, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(r.End))
	if err != nil {
		return persistence.CalendarBlock{}, err
	}
	if !start.Before(end) {
		return persistence.CalendarBlock{}, errInvalidTimeRange
	}

	kind := persistence.BlockKind(strings.ToUpper(strings.TrimSpace(r.Kind)))
	if kind == "" {
		kind = persistence.BlockKindBusy
	}
	priority := 5
	if r.Priority != nil {
		priority = *r.Priority
	}
	title := strings.TrimSpace(r.Title)
	if title == "" {
		title = "Busy"
	}

	block := persistence.CalendarBlock{
		ID:         id,
		OwnerID:    ownerID,
		Title:      title,
		Start:      start.UTC(),
		End:        end.UTC(),
		Kind:       kind,
		Priority:   priority,
		IsFlexible: r.IsFlexible || kind == persistence.BlockKindFlexible,
		CreatedAt:  now.UTC(),
	}
	return block, nil
}

type listParticipantsResponse struct {
	Participants []participantDTO `json:"participants"`
}

type participantDTO struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Active      bool   `json:"active"`
}

func toParticipantDTOs(participants []persistence.Participant) []participantDTO {
	out := make([]participantDTO, 0, len(participants))
	for _, p := range participants {
		out = append(out, participantDTO{ID: p.ID, DisplayName: p.DisplayName, Email: p.Email, Active: p.Active})
	}
	return out
}

type listBlocksResponse struct {
	ParticipantID string     `json:"participant_id"`
	From          string     `json:"from"`
	To            string     `json:"to"`
	Blocks        []blockDTO `json:"blocks"`
}

type blockDTO struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	Title      string `json:"title"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Kind       string `json:"kind"`
	Priority   int    `json:"priority"`
	IsFlexible bool   `json:"is_flexible"`
	MeetingID  string `json:"meeting_id,omitempty"`
}

func toBlockDTO(block persistence.CalendarBlock) blockDTO {
	return blockDTO{
		ID:         block.ID,
		OwnerID:    block.OwnerID,
		Title:      block.Title,
		Start:      formatTime(block.Start),
		End:        formatTime(block.End),
		Kind:       string(block.Kind),
		Priority:   block.Priority,
		IsFlexible: block.IsFlexible,
		MeetingID:  block.MeetingID,
	}
}

func toBlockDTOs(blocks []persistence.CalendarBlock) []blockDTO {
	out := make([]blockDTO, 0, len(blocks))
	for _, block := range blocks {
		out = append(out, toBlockDTO(block))
	}
	return out
}
