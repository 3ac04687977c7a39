// Package negotiation runs the two-phase negotiate and schedule protocol on
// top of the scheduler search engine.
package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/negotiation-scheduler/internal/events"
	"github.com/example/negotiation-scheduler/internal/persistence"
	"github.com/example/negotiation-scheduler/internal/scheduler"
)

// Store is the persistence surface the coordinator depends on. Stores that
// also implement persistence.Transactor commit in one transaction; others are
// rolled back with compensating deletes.
type Store interface {
	persistence.ParticipantRepository
	persistence.CalendarRepository
	persistence.MeetingRepository
	persistence.SessionRepository
}

// Config tunes a Coordinator. Zero values select defaults.
type Config struct {
	Policy scheduler.Policy
	// Explainer narrates the top NarrateTop candidates. Others always use
	// the template explanation.
	Explainer   Explainer
	NarrateTop  int
	LockTimeout time.Duration
	SessionTTL  time.Duration
	MaxSessions int
	Logger      *slog.Logger
	Now         func() time.Time
	NewID       func() string
	// OnSessionEvicted is called when a session leaves the in-memory registry.
	OnSessionEvicted func(sessionID string)
}

const (
	defaultNarrateTop  = 3
	defaultLockTimeout = 2 * time.Second
	committedPriority  = 8
)

// Coordinator owns negotiation sessions and commits chosen slots.
type Coordinator struct {
	store       Store
	calendar    calendarReader
	engine      *scheduler.Engine
	hooks       Hooks
	explainer   Explainer
	narrateTop  int
	locks       *participantLocks
	lockTimeout time.Duration
	sessions    *sessionRegistry
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

// NewCoordinator wires the coordinator's collaborators.
func NewCoordinator(store Store, hooks Hooks, cfg Config) *Coordinator {
	if hooks == nil {
		hooks = NopHooks{}
	}
	if cfg.Policy == (scheduler.Policy{}) {
		cfg.Policy = scheduler.DefaultPolicy()
	}
	if cfg.Explainer == nil {
		cfg.Explainer = TemplateExplainer{}
	}
	if cfg.NarrateTop <= 0 {
		cfg.NarrateTop = defaultNarrateTop
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	calendar := calendarReader{repo: store}
	return &Coordinator{
		store:       store,
		calendar:    calendar,
		engine:      scheduler.NewEngine(calendar, cfg.Policy),
		hooks:       hooks,
		explainer:   cfg.Explainer,
		narrateTop:  cfg.NarrateTop,
		locks:       newParticipantLocks(),
		lockTimeout: cfg.LockTimeout,
		sessions:    newSessionRegistry(cfg.SessionTTL, cfg.MaxSessions, cfg.Now, cfg.OnSessionEvicted),
		logger:      defaultLogger(cfg.Logger),
		now:         cfg.Now,
		newID:       cfg.NewID,
	}
}

// Policy returns the search policy, including the location requests are parsed in.
func (c *Coordinator) Policy() scheduler.Policy {
	return c.engine.Policy()
}

// Negotiate ranks candidate slots for the request. It never writes calendar
// blocks or meetings. Zero candidates is a normal outcome with Success false.
func (c *Coordinator) Negotiate(ctx context.Context, req Request) (Result, error) {
	if c == nil {
		return Result{}, fmt.Errorf("Coordinator is nil")
	}
	if vErr := validateRequest(req); vErr.HasErrors() {
		return Result{}, vErr
	}
	session, err := c.negotiate(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return cloneResult(session.Result), nil
}

// Session returns a snapshot of a negotiation session.
func (c *Coordinator) Session(ctx context.Context, id string) (Session, error) {
	return c.loadSession(ctx, id)
}

func (c *Coordinator) negotiate(ctx context.Context, req Request) (Session, error) {
	now := c.now()
	session := Session{
		ID:          c.newID(),
		Fingerprint: Fingerprint(req),
		State:       SessionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	session.Result = Result{SessionID: session.ID, Request: req}
	logger := serviceLogger(ctx, c.logger, "Negotiate", "session_id", session.ID)

	c.sessions.Store(session)
	c.hooks.OnStatus(session.ID, events.StageSessionStarted, fmt.Sprintf("Starting negotiation for %q", req.Title))

	participants, err := c.resolveParticipants(ctx, req.Participants)
	if err != nil {
		return session, c.failNegotiation(ctx, session, err, logger)
	}
	session.State = SessionNegotiating
	session.Result.Participants = participants

	policy := c.engine.Policy()
	c.hooks.OnStatus(session.ID, events.StageSearching,
		fmt.Sprintf("Searching %d days for a %d minute slot across %d participants", policy.SearchDays, req.DurationMinutes, len(participants)))

	search, err := c.engine.Search(ctx, scheduler.Query{
		Preferred:    req.Preferred,
		Duration:     req.Duration(),
		Participants: participants,
	})
	if err != nil {
		return session, c.failNegotiation(ctx, session, unavailable("search", err), logger)
	}

	session.Result = c.rank(ctx, session.ID, req, participants, search, logger)
	if !session.Result.Success {
		session.State = SessionFailed
	}
	session.UpdatedAt = c.now()
	c.saveSession(ctx, session, logger)

	c.hooks.OnResult(session.ID, Summary{
		Stage:   events.StageNegotiationResult,
		Title:   req.Title,
		Success: session.Result.Success,
		Outcome: session.Result.Outcome,
		Message: session.Result.Message,
		Slots:   session.Result.Candidates,
	})
	logger.Info("negotiation completed",
		"candidates", len(session.Result.Candidates),
		"outcome", session.Result.Outcome,
		"directly_bookable", session.Result.DirectlyBookable,
		"requires_confirmation", session.Result.RequiresConfirmation,
	)
	return session, nil
}

func (c *Coordinator) failNegotiation(ctx context.Context, session Session, err error, logger *slog.Logger) error {
	session.State = SessionFailed
	session.UpdatedAt = c.now()
	c.saveSession(ctx, session, logger)
	c.hooks.OnResult(session.ID, Summary{
		Stage:   events.StageNegotiationResult,
		Title:   session.Result.Request.Title,
		Message: "Negotiation failed",
		Err:     err,
	})
	logger.Warn("negotiation failed", "error", err, "error_kind", ErrorKind(err))
	return err
}

func (c *Coordinator) rank(ctx context.Context, sessionID string, req Request, participants []string, search scheduler.Result, logger *slog.Logger) Result {
	requested := req.RequestedInterval()
	inHours := c.engine.Policy().WithinWorkingHours(requested)

	candidates := search.Candidates
	if inHours && search.Preferred != nil && len(candidates) > 0 && search.Preferred.Score >= candidates[0].Score {
		candidates = promote(candidates, *search.Preferred)
	}

	slots := make([]Slot, len(candidates))
	for i, candidate := range candidates {
		slots[i] = Slot{
			Start:         candidate.Start,
			End:           candidate.End,
			Score:         candidate.Score,
			ExactMatch:    inHours && candidate.ExactMatch,
			SoftConflicts: candidate.SoftConflicts,
			Breakdown:     candidate.Breakdown,
		}
	}
	c.explain(ctx, sessionID, req, slots, logger)

	result := Result{
		SessionID:    sessionID,
		Request:      req,
		Participants: participants,
		Candidates:   slots,
		Window:       search.Window,
	}
	if len(slots) == 0 {
		result.Outcome = OutcomeNoAvailability
		result.Message = fmt.Sprintf("No common %d minute slot is free within the search window.", req.DurationMinutes)
	} else {
		result.Success = true
		result.Outcome = OutcomeAvailable
		result.DirectlyBookable = slots[0].ExactMatch
		if result.DirectlyBookable {
			result.Message = "The requested time is available."
		} else {
			result.Message = fmt.Sprintf("Found %d alternative slots.", len(slots))
		}
	}
	if !inHours {
		result.RequiresConfirmation = true
		result.Message = "The requested time is outside working hours. Please confirm one of the offered slots. " + result.Message
	}
	return result
}

// promote moves preferred to the front, keeping the list length.
func promote(candidates []scheduler.Candidate, preferred scheduler.Candidate) []scheduler.Candidate {
	out := make([]scheduler.Candidate, 0, len(candidates)+1)
	out = append(out, preferred)
	for _, candidate := range candidates {
		if !candidate.Start.Equal(preferred.Start) {
			out = append(out, candidate)
		}
	}
	if len(out) > len(candidates) {
		out = out[:len(candidates)]
	}
	return out
}

func (c *Coordinator) explain(ctx context.Context, sessionID string, req Request, slots []Slot, logger *slog.Logger) {
	for i := range slots {
		input := ExplainInput{
			Rank:            i + 1,
			Title:           req.Title,
			Slot:            slots[i],
			Preferred:       req.Preferred,
			DurationMinutes: req.DurationMinutes,
		}
		text := TemplateExplanation(input)
		if i < c.narrateTop {
			narrated, err := c.explainer.Explain(ctx, input)
			switch {
			case err != nil:
				logger.Debug("explainer failed, using template", "rank", i+1, "error", err)
			case strings.TrimSpace(narrated) != "":
				text = strings.TrimSpace(narrated)
			}
		}
		slots[i].Explanation = text
		if i < c.narrateTop {
			c.hooks.OnReasoning(sessionID, i+1, slots[i])
		}
	}
}

func (c *Coordinator) resolveParticipants(ctx context.Context, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		var missing []string
		for _, id := range explicit {
			if _, err := c.store.GetParticipant(ctx, id); err != nil {
				if errors.Is(err, persistence.ErrNotFound) {
					missing = append(missing, id)
					continue
				}
				return nil, unavailable("get participant", err)
			}
		}
		if len(missing) > 0 {
			vErr := &ValidationError{}
			vErr.add("participants", "unknown participants: "+strings.Join(missing, ", "))
			return nil, vErr
		}
		return append([]string(nil), explicit...), nil
	}

	all, err := c.store.ListParticipants(ctx)
	if err != nil {
		return nil, unavailable("list participants", err)
	}
	var active []string
	for _, p := range all {
		if p.Active {
			active = append(active, p.ID)
		}
	}
	if len(active) == 0 {
		vErr := &ValidationError{}
		vErr.add("participants", "no active participants to schedule")
		return nil, vErr
	}
	return active, nil
}

// Schedule commits one ranked slot. It reuses the session's ranking so the
// same index always refers to the same interval, and collapses repeated
// commits of the same slot into the original meeting.
func (c *Coordinator) Schedule(ctx context.Context, req ScheduleRequest) (ScheduleResult, error) {
	if c == nil {
		return ScheduleResult{}, fmt.Errorf("Coordinator is nil")
	}
	if vErr := validateRequest(req.Request); vErr.HasErrors() {
		return ScheduleResult{}, vErr
	}

	session, err := c.sessionFor(ctx, req)
	if err != nil {
		return ScheduleResult{}, err
	}
	logger := serviceLogger(ctx, c.logger, "Schedule", "session_id", session.ID, "slot_index", req.SlotIndex)

	candidates := session.Result.Candidates
	result := ScheduleResult{
		SessionID:      session.ID,
		SlotIndex:      req.SlotIndex,
		CandidateCount: len(candidates),
	}
	title := session.Result.Request.Title
	c.hooks.OnStatus(session.ID, events.StageSchedulingStarted, fmt.Sprintf("Scheduling slot %d of %q", req.SlotIndex, title))

	if req.SlotIndex < 0 || req.SlotIndex >= len(candidates) {
		result.Outcome = OutcomeInvalidSlotIndex
		result.Message = fmt.Sprintf("Slot index %d is out of range; %d candidates are available.", req.SlotIndex, len(candidates))
		c.hooks.OnResult(session.ID, Summary{Stage: events.StageSchedulingFailed, Title: title, Outcome: result.Outcome, Message: result.Message})
		logger.Info("schedule rejected", "error_kind", OutcomeKind(result.Outcome), "candidates", len(candidates))
		return result, nil
	}

	slot := candidates[req.SlotIndex]
	result.Slot = &slot
	participants := session.Result.Participants
	token := IdempotencyToken(title, slot.Interval(), participants)

	existing, found, err := c.findByToken(ctx, token)
	if err != nil {
		return c.failSchedule(session, result, err, logger)
	}
	// A PENDING meeting belongs to a commit still in flight; it is settled
	// again under the participant locks.
	if found && existing.Status == persistence.MeetingStatusScheduled {
		return c.replay(ctx, session, result, existing, logger), nil
	}
	if session.State != SessionNegotiating {
		return c.failSchedule(session, result, fmt.Errorf("%w: session is %s", ErrSessionClosed, session.State), logger)
	}

	release, err := c.locks.acquire(ctx, participants, c.lockTimeout)
	if err != nil {
		return c.failSchedule(session, result, err, logger)
	}
	defer release()

	outcome, err := c.commit(ctx, c.newPlan(session, slot, token), logger)
	if err != nil {
		return c.failSchedule(session, result, err, logger)
	}
	if outcome.replayed {
		return c.replay(ctx, session, result, outcome.meeting, logger), nil
	}
	if len(outcome.conflicts) > 0 {
		session.State = SessionFailed
		session.UpdatedAt = c.now()
		c.saveSession(ctx, session, logger)

		result.Outcome = OutcomeSlotConflict
		result.Conflicts = outcome.conflicts
		result.Message = "The slot was taken by another commit. Negotiate again for fresh candidates."
		c.hooks.OnResult(session.ID, Summary{Stage: events.StageSchedulingFailed, Title: title, Outcome: result.Outcome, Message: result.Message})
		logger.Info("schedule lost slot", "error_kind", OutcomeKind(result.Outcome), "conflicts", len(outcome.conflicts))
		return result, nil
	}

	session.State = SessionScheduled
	session.MeetingID = outcome.meeting.ID
	session.UpdatedAt = c.now()
	c.saveSession(ctx, session, logger)

	result.Success = true
	result.Outcome = OutcomeScheduled
	result.Meeting = meetingFromRecord(outcome.meeting)
	result.Message = fmt.Sprintf("Scheduled %q for %d participants.", title, len(participants))
	c.hooks.OnResult(session.ID, Summary{
		Stage:     events.StageMeetingScheduled,
		Title:     title,
		Success:   true,
		Outcome:   result.Outcome,
		Message:   result.Message,
		Slots:     []Slot{slot},
		MeetingID: outcome.meeting.ID,
	})
	logger.Info("meeting scheduled", "meeting_id", outcome.meeting.ID, "participants", len(participants))
	return result, nil
}

func (c *Coordinator) replay(ctx context.Context, session Session, result ScheduleResult, meeting persistence.Meeting, logger *slog.Logger) ScheduleResult {
	if session.State != SessionScheduled || session.MeetingID != meeting.ID {
		session.State = SessionScheduled
		session.MeetingID = meeting.ID
		session.UpdatedAt = c.now()
		c.saveSession(ctx, session, logger)
	}

	result.Success = true
	result.Outcome = OutcomeAlreadyScheduled
	result.Meeting = meetingFromRecord(meeting)
	result.Message = "This slot was already scheduled; returning the existing meeting."
	c.hooks.OnResult(session.ID, Summary{
		Stage:     events.StageMeetingScheduled,
		Title:     meeting.Title,
		Success:   true,
		Outcome:   result.Outcome,
		Message:   result.Message,
		MeetingID: meeting.ID,
	})
	logger.Info("schedule replayed", "meeting_id", meeting.ID)
	return result
}

func (c *Coordinator) failSchedule(session Session, result ScheduleResult, err error, logger *slog.Logger) (ScheduleResult, error) {
	result.Message = "Scheduling failed"
	c.hooks.OnResult(session.ID, Summary{
		Stage:   events.StageSchedulingFailed,
		Title:   session.Result.Request.Title,
		Message: result.Message,
		Err:     err,
	})
	logger.Error("schedule failed", "error", err, "error_kind", ErrorKind(err), "retryable", IsRetryable(err))
	return result, err
}

func (c *Coordinator) sessionFor(ctx context.Context, req ScheduleRequest) (Session, error) {
	fingerprint := Fingerprint(req.Request)
	if req.SessionID != "" {
		session, err := c.loadSession(ctx, req.SessionID)
		if err != nil {
			return Session{}, err
		}
		if session.Fingerprint != fingerprint {
			vErr := &ValidationError{}
			vErr.add("session_id", "session was negotiated for a different request")
			return Session{}, vErr
		}
		return session, nil
	}

	session, found, err := c.latestSession(ctx, fingerprint)
	if err != nil {
		return Session{}, err
	}
	if found && (session.State == SessionNegotiating || session.State == SessionScheduled) {
		return session, nil
	}
	return c.negotiate(ctx, req.Request)
}

func (c *Coordinator) loadSession(ctx context.Context, id string) (Session, error) {
	if session, ok := c.sessions.Get(id); ok {
		return session, nil
	}
	record, err := c.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return Session{}, unavailable("get session", err)
	}
	session, err := sessionFromRecord(record)
	if err != nil {
		return Session{}, err
	}
	c.sessions.Store(session)
	return session, nil
}

func (c *Coordinator) latestSession(ctx context.Context, fingerprint string) (Session, bool, error) {
	if session, ok := c.sessions.Latest(fingerprint); ok {
		return session, true, nil
	}
	record, err := c.store.FindLatestSession(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Session{}, false, nil
		}
		return Session{}, false, unavailable("find session", err)
	}
	session, err := sessionFromRecord(record)
	if err != nil {
		return Session{}, false, err
	}
	c.sessions.Store(session)
	return session, true, nil
}

// saveSession records the session in memory and in the store. Store failures
// are logged; the in-memory copy still serves this process.
func (c *Coordinator) saveSession(ctx context.Context, session Session, logger *slog.Logger) {
	c.sessions.Store(session)

	record, err := sessionToRecord(session)
	if err != nil {
		logger.Error("failed to encode session", "error", err)
		return
	}
	if err := c.store.SaveSession(context.WithoutCancel(ctx), record); err != nil {
		logger.Warn("failed to persist session", "error", err)
	}
}

func (c *Coordinator) findByToken(ctx context.Context, token string) (persistence.Meeting, bool, error) {
	meeting, err := c.store.FindMeetingByToken(ctx, token)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Meeting{}, false, nil
		}
		return persistence.Meeting{}, false, unavailable("find meeting", err)
	}
	return meeting, true, nil
}

func sessionToRecord(session Session) (persistence.NegotiationSession, error) {
	body, err := json.Marshal(session.Result)
	if err != nil {
		return persistence.NegotiationSession{}, err
	}
	return persistence.NegotiationSession{
		ID:          session.ID,
		Fingerprint: session.Fingerprint,
		State:       string(session.State),
		Title:       session.Result.Request.Title,
		Candidates:  body,
		MeetingID:   session.MeetingID,
		CreatedAt:   session.CreatedAt,
		UpdatedAt:   session.UpdatedAt,
	}, nil
}

func sessionFromRecord(record persistence.NegotiationSession) (Session, error) {
	session := Session{
		ID:          record.ID,
		Fingerprint: record.Fingerprint,
		State:       SessionState(record.State),
		MeetingID:   record.MeetingID,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
	if len(record.Candidates) > 0 {
		if err := json.Unmarshal(record.Candidates, &session.Result); err != nil {
			return Session{}, fmt.Errorf("decode session %s: %w", record.ID, err)
		}
	}
	session.Result.SessionID = record.ID
	return session, nil
}
