package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/negotiation-scheduler/internal/persistence"
	"github.com/example/negotiation-scheduler/internal/scheduler"
)

type commitPlan struct {
	token        string
	interval     scheduler.Interval
	participants []string
	meeting      persistence.Meeting
	blocks       []persistence.CalendarBlock
}

type commitOutcome struct {
	meeting   persistence.Meeting
	replayed  bool
	conflicts []scheduler.Conflict
}

func (c *Coordinator) newPlan(session Session, slot Slot, token string) commitPlan {
	now := c.now()
	req := session.Result.Request
	start, end := slot.Start, slot.End
	participants := append([]string(nil), session.Result.Participants...)

	meeting := persistence.Meeting{
		ID:               c.newID(),
		Title:            req.Title,
		DurationMinutes:  req.DurationMinutes,
		RequestedStart:   req.Preferred,
		RequestedEnd:     req.Preferred.Add(req.Duration()),
		CommittedStart:   &start,
		CommittedEnd:     &end,
		Status:           persistence.MeetingStatusPending,
		IdempotencyToken: token,
		Participants:     participants,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	blocks := make([]persistence.CalendarBlock, 0, len(participants))
	for _, participant := range participants {
		blocks = append(blocks, persistence.CalendarBlock{
			ID:         c.newID(),
			OwnerID:    participant,
			Title:      req.Title,
			Start:      start,
			End:        end,
			Kind:       persistence.BlockKindBusy,
			Priority:   committedPriority,
			IsFlexible: false,
			MeetingID:  meeting.ID,
			CreatedAt:  now,
		})
	}

	return commitPlan{
		token:        token,
		interval:     slot.Interval(),
		participants: participants,
		meeting:      meeting,
		blocks:       blocks,
	}
}

// commit writes the meeting and one BUSY block per participant as a unit.
func (c *Coordinator) commit(ctx context.Context, plan commitPlan, logger *slog.Logger) (commitOutcome, error) {
	if tx, ok := c.store.(persistence.Transactor); ok {
		return c.commitInTx(ctx, tx, plan)
	}
	return c.commitWithCompensation(ctx, plan, logger)
}

func (c *Coordinator) commitInTx(ctx context.Context, tx persistence.Transactor, plan commitPlan) (commitOutcome, error) {
	var out commitOutcome
	err := tx.WithTx(ctx, func(ctx context.Context) error {
		out = commitOutcome{}
		if locker, ok := c.store.(persistence.ParticipantLocker); ok {
			if err := locker.LockParticipants(ctx, plan.participants); err != nil {
				return fmt.Errorf("%w: %w", ErrLockUnavailable, err)
			}
		}

		existing, found, err := c.findByToken(ctx, plan.token)
		if err != nil {
			return err
		}
		if found {
			out, err = settled(existing)
			return err
		}

		conflicts, err := c.checkConflicts(ctx, plan)
		if err != nil {
			return err
		}
		if scheduler.HasHardConflict(conflicts) {
			out.conflicts = conflicts
			return nil
		}

		meeting, written, created, err := c.write(ctx, plan)
		if err != nil {
			if !created {
				return err
			}
			return &CommitError{MeetingID: plan.meeting.ID, RolledBack: written, Err: err}
		}
		out.meeting = meeting
		return nil
	})
	if err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			return c.replayAfterRace(ctx, plan, err)
		}
		if errors.Is(err, ErrPartialCommit) || errors.Is(err, ErrLockUnavailable) {
			return commitOutcome{}, err
		}
		return commitOutcome{}, unavailable("commit", err)
	}
	return out, nil
}

func (c *Coordinator) commitWithCompensation(ctx context.Context, plan commitPlan, logger *slog.Logger) (commitOutcome, error) {
	existing, found, err := c.findByToken(ctx, plan.token)
	if err != nil {
		return commitOutcome{}, err
	}
	if found {
		return settled(existing)
	}

	conflicts, err := c.checkConflicts(ctx, plan)
	if err != nil {
		return commitOutcome{}, err
	}
	if scheduler.HasHardConflict(conflicts) {
		return commitOutcome{conflicts: conflicts}, nil
	}

	meeting, written, created, err := c.write(ctx, plan)
	if err != nil {
		if !created {
			if errors.Is(err, persistence.ErrDuplicate) {
				return c.replayAfterRace(ctx, plan, err)
			}
			return commitOutcome{}, unavailable("commit", err)
		}
		compensationErr := c.compensate(ctx, plan.meeting.ID, written, logger)
		return commitOutcome{}, &CommitError{
			MeetingID:  plan.meeting.ID,
			RolledBack: written,
			Err:        errors.Join(err, compensationErr),
		}
	}
	return commitOutcome{meeting: meeting}, nil
}

// write creates the PENDING meeting, then the blocks, then marks the meeting
// SCHEDULED. created reports whether the meeting row exists.
func (c *Coordinator) write(ctx context.Context, plan commitPlan) (meeting persistence.Meeting, written []string, created bool, err error) {
	meeting = plan.meeting
	if err := c.store.CreateMeeting(ctx, meeting); err != nil {
		return meeting, nil, false, fmt.Errorf("create meeting: %w", err)
	}

	for _, block := range plan.blocks {
		if err := c.store.CreateBlock(ctx, block); err != nil {
			return meeting, written, true, fmt.Errorf("create block for %s: %w", block.OwnerID, err)
		}
		written = append(written, block.ID)
	}

	now := c.now()
	if err := c.store.UpdateMeetingStatus(ctx, meeting.ID, persistence.MeetingStatusScheduled, now); err != nil {
		return meeting, written, true, fmt.Errorf("mark meeting scheduled: %w", err)
	}
	meeting.Status = persistence.MeetingStatusScheduled
	meeting.UpdatedAt = now
	return meeting, written, true, nil
}

// compensate removes written blocks and marks the meeting FAILED, which also
// releases its idempotency token. It runs even if ctx was cancelled.
func (c *Coordinator) compensate(ctx context.Context, meetingID string, written []string, logger *slog.Logger) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(written) - 1; i >= 0; i-- {
		if err := c.store.DeleteBlock(ctx, written[i]); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			logger.Error("compensating delete failed", "block_id", written[i], "meeting_id", meetingID, "error", err)
			errs = append(errs, fmt.Errorf("delete block %s: %w", written[i], err))
		}
	}
	if err := c.store.UpdateMeetingStatus(ctx, meetingID, persistence.MeetingStatusFailed, c.now()); err != nil {
		logger.Error("failed to mark meeting failed", "meeting_id", meetingID, "error", err)
		errs = append(errs, fmt.Errorf("mark meeting failed: %w", err))
	}
	if len(errs) == 0 {
		logger.Warn("partial commit rolled back", "meeting_id", meetingID, "blocks", len(written))
	}
	return errors.Join(errs...)
}

// replayAfterRace resolves a lost race on the idempotency token to the winner.
func (c *Coordinator) replayAfterRace(ctx context.Context, plan commitPlan, cause error) (commitOutcome, error) {
	existing, found, err := c.findByToken(ctx, plan.token)
	if err != nil {
		return commitOutcome{}, err
	}
	if !found {
		return commitOutcome{}, unavailable("commit", cause)
	}
	return settled(existing)
}

// settled replays a meeting found by its token. Only SCHEDULED meetings are
// replayed; a PENDING one may still be rolled back by its writer.
func settled(meeting persistence.Meeting) (commitOutcome, error) {
	if meeting.Status != persistence.MeetingStatusScheduled {
		return commitOutcome{}, fmt.Errorf("%w: meeting %s is %s", ErrLockUnavailable, meeting.ID, meeting.Status)
	}
	return commitOutcome{meeting: meeting, replayed: true}, nil
}

func (c *Coordinator) checkConflicts(ctx context.Context, plan commitPlan) ([]scheduler.Conflict, error) {
	policy := c.engine.Policy()
	var conflicts []scheduler.Conflict
	for _, participant := range plan.participants {
		blocks, err := c.calendar.GetBlocks(ctx, participant, plan.interval.Start, plan.interval.End)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, scheduler.DetectConflicts(plan.interval, blocks, policy.Conflicts)...)
	}
	return conflicts, nil
}
