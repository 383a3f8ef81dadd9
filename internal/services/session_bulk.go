package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/repository"
	"github.com/saeid-a/StudioScheduleBack/pkg/apperrors"
)

// MaxBulkSessions caps the ids accepted by one bulk command.
const MaxBulkSessions = 200

// mutateMany applies one transition to every id in a single transaction. The
// first failing id aborts the batch and is reported through BatchError.
func (s *SessionService) mutateMany(
	ctx context.Context,
	actor models.Actor,
	sessionIDs []int64,
	eventType models.EventType,
	apply func(tx repository.SessionTx, session *models.Session) error,
	g guard,
) ([]models.Session, error) {
	updated := make([]models.Session, 0, len(sessionIDs))
	previous := make([]models.Session, 0, len(sessionIDs))
	err := s.store.InTx(ctx, func(tx repository.SessionTx) error {
		for i, id := range sessionIDs {
			after, before, err := transition(ctx, tx, actor, id, apply, g)
			if err != nil {
				return &apperrors.BatchError{Index: i, Err: err}
			}
			updated = append(updated, after)
			previous = append(previous, before)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range updated {
		s.committed(ctx, actor, eventType, updated[i], previous[i])
	}
	return redactAll(actor, updated), nil
}

func checkSessionIDs(ids []int64) error {
	if len(ids) == 0 {
		return ValidationErrors{{Field: "session_ids", Message: "at least one session id is required"}}
	}
	if len(ids) > MaxBulkSessions {
		return ValidationErrors{{Field: "session_ids", Message: fmt.Sprintf("at most %d session ids are allowed", MaxBulkSessions)}}
	}
	seen := make(map[int64]struct{}, len(ids))
	for i, id := range ids {
		if id <= 0 {
			return &apperrors.BatchError{Index: i, Err: ValidationErrors{{Field: "session_ids", Message: "must be greater than 0"}}}
		}
		if _, dup := seen[id]; dup {
			return &apperrors.BatchError{Index: i, Err: ValidationErrors{{Field: "session_ids", Message: fmt.Sprintf("session %d is listed twice", id)}}}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// UnassignTrainer clears the trainer on each session. A confirmed session
// falls back to scheduled, since confirmation needs a trainer.
func (s *SessionService) UnassignTrainer(ctx context.Context, actor models.Actor, sessionIDs []int64) ([]models.Session, error) {
	if err := checkSessionIDs(sessionIDs); err != nil {
		return nil, err
	}
	return s.mutateMany(ctx, actor, sessionIDs, models.EventUpdated, func(_ repository.SessionTx, session *models.Session) error {
		if session.Status == models.StatusConfirmed {
			session.Status = models.StatusScheduled
			session.Confirmed = false
			session.ConfirmedBy = nil
		}
		session.TrainerID = nil
		return nil
	}, adminOnly)
}

// BulkAssignTrainer assigns trainerID to every session or to none.
func (s *SessionService) BulkAssignTrainer(ctx context.Context, actor models.Actor, sessionIDs []int64, trainerID int64) ([]models.Session, error) {
	if trainerID <= 0 {
		return nil, ValidationErrors{{Field: "trainer_id", Message: "must be greater than 0"}}
	}
	if err := checkSessionIDs(sessionIDs); err != nil {
		return nil, err
	}
	return s.mutateMany(ctx, actor, sessionIDs, models.EventUpdated, s.assignTo(ctx, trainerID), adminOnly)
}

// BulkCancel withdraws open slots. Sessions that hold a client are refused
// so bookings are only ever cancelled one at a time.
func (s *SessionService) BulkCancel(ctx context.Context, actor models.Actor, sessionIDs []int64, reason string) ([]models.Session, error) {
	if err := checkSessionIDs(sessionIDs); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultCancellationReason
	}

	cancel := s.cancelWith(actor, reason)
	return s.mutateMany(ctx, actor, sessionIDs, models.EventCancelled, func(tx repository.SessionTx, session *models.Session) error {
		if session.ClientID != nil {
			return fmt.Errorf("%w: session %d is booked by client %d", apperrors.ErrConflict, session.ID, *session.ClientID)
		}
		return cancel(tx, session)
	}, adminOnly)
}
