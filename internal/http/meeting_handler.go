package http

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/example/negotiation-scheduler/internal/persistence"
)

type meetingStore interface {
	GetMeeting(ctx context.Context, id string) (persistence.Meeting, error)
	ListMeetings(ctx context.Context) ([]persistence.Meeting, error)
}

// MeetingHandler lists committed meetings.
type MeetingHandler struct {
	store     meetingStore
	responder responder
}

func NewMeetingHandler(store meetingStore, logger *slog.Logger) *MeetingHandler {
	return &MeetingHandler{store: store, responder: newResponder(defaultLogger(logger))}
}

// List returns meetings ordered by start. The status query parameter filters by status.
func (h *MeetingHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.store == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	meetings, err := h.store.ListMeetings(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	status := persistence.MeetingStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	out := make([]meetingDTO, 0, len(meetings))
	for _, meeting := range meetings {
		if status != "" && meeting.Status != status {
			continue
		}
		out = append(out, toMeetingDTO(meeting))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listMeetingsResponse{Meetings: out})
}

func (h *MeetingHandler) Get(w http.ResponseWriter, r *http.Request, id string) {
	if h == nil || h.store == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	meeting, err := h.store.GetMeeting(r.Context(), id)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toMeetingDTO(meeting))
}

type listMeetingsResponse struct {
	Meetings []meetingDTO `json:"meetings"`
}

type meetingDTO struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	DurationMinutes int      `json:"duration_minutes"`
	Start           string   `json:"start"`
	End             string   `json:"end"`
	Status          string   `json:"status"`
	Participants    []string `json:"participants"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

func toMeetingDTO(meeting persistence.Meeting) meetingDTO {
	start, end := meeting.RequestedStart, meeting.RequestedEnd
	if meeting.CommittedStart != nil && meeting.CommittedEnd != nil {
		start, end = *meeting.CommittedStart, *meeting.CommittedEnd
	}
	return meetingDTO{
		ID:              meeting.ID,
		Title:           meeting.Title,
		DurationMinutes: meeting.DurationMinutes,
		Start:           formatTime(start),
		End:             formatTime(end),
		Status:          string(meeting.Status),
		Participants:    append([]string{}, meeting.Participants...),
		CreatedAt:       formatTime(meeting.CreatedAt),
		UpdatedAt:       formatTime(meeting.UpdatedAt),
	}
}
