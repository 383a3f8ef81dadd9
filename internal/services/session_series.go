package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/repository"
	"github.com/saeid-a/StudioScheduleBack/pkg/apperrors"
)

const defaultSeriesCancellationReason = "Recurring series cancelled"

// SeriesUpdate changes every remaining session of a recurring series. Nil
// fields are left alone.
type SeriesUpdate struct {
	Location *string `json:"location,omitempty" validate:"omitempty,min=1,max=120"`
	Notes    *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// RecurringGroup summarizes one series as seen by the caller.
type RecurringGroup struct {
	GroupID   string           `json:"recurring_group_id"`
	TrainerID *int64           `json:"trainer_id,omitempty"`
	Location  string           `json:"location"`
	Sessions  []models.Session `json:"sessions"`
	Upcoming  int              `json:"upcoming_count"`
	Completed int              `json:"completed_count"`
	Cancelled int              `json:"cancelled_count"`
}

// CancelSeries cancels the remaining sessions of a series. Admins cancel the
// whole series; trainers and clients only their own sessions in it.
func (s *SessionService) CancelSeries(ctx context.Context, actor models.Actor, groupID, reason string) ([]models.Session, error) {
	ids, err := s.seriesMembers(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultSeriesCancellationReason
	}
	return s.mutateMany(ctx, actor, ids, models.EventCancelled, s.cancelWith(actor, reason), guard{authorize: mayCancel})
}

func (s *SessionService) UpdateSeries(ctx context.Context, actor models.Actor, groupID string, update SeriesUpdate) ([]models.Session, error) {
	if actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: only admins edit a series", apperrors.ErrForbidden)
	}
	if err := s.validator.ValidateSeriesUpdate(&update); err != nil {
		return nil, err
	}
	ids, err := s.seriesMembers(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}

	return s.mutateMany(ctx, actor, ids, models.EventUpdated, func(_ repository.SessionTx, session *models.Session) error {
		if update.Location != nil {
			session.Location = strings.TrimSpace(*update.Location)
		}
		if update.Notes != nil {
			session.Notes = strings.TrimSpace(*update.Notes)
		}
		return nil
	}, adminOnly)
}

// ListRecurring groups the caller's recurring sessions by series, ordered by
// each series' first session.
func (s *SessionService) ListRecurring(ctx context.Context, actor models.Actor) ([]RecurringGroup, error) {
	if actor.Role == models.RoleAnonymous {
		return nil, fmt.Errorf("%w: sign in to see recurring sessions", apperrors.ErrForbidden)
	}
	sessions, err := s.store.List(ctx, s.seriesFilter(actor, nil))
	if err != nil {
		return nil, err
	}

	now := s.now()
	groups := make([]RecurringGroup, 0)
	index := make(map[string]int)
	for _, session := range sessions {
		groupID := *session.RecurringGroupID
		i, ok := index[groupID]
		if !ok {
			i = len(groups)
			index[groupID] = i
			groups = append(groups, RecurringGroup{
				GroupID:   groupID,
				TrainerID: session.TrainerID,
				Location:  session.Location,
				Sessions:  make([]models.Session, 0),
			})
		}
		group := &groups[i]
		group.Sessions = append(group.Sessions, Redact(actor, session))
		switch {
		case session.Status == models.StatusCompleted:
			group.Completed++
		case session.Status == models.StatusCancelled:
			group.Cancelled++
		case session.Start.After(now):
			group.Upcoming++
		}
	}
	return groups, nil
}

func (s *SessionService) seriesFilter(actor models.Actor, groupID *string) repository.SessionListFilter {
	filter := repository.SessionListFilter{
		Scope:            RowScopeFor(actor, ScopeGlobal),
		RecurringGroupID: groupID,
		RecurringOnly:    true,
	}
	if actor.Role == models.RoleClient {
		// Open slots of a series are visible to clients but are not theirs.
		id := actor.ID
		filter.ClientID = &id
	}
	return filter
}

// seriesMembers returns the ids of the series' sessions that are still
// ahead and not terminal, limited to the caller's own rows.
func (s *SessionService) seriesMembers(ctx context.Context, actor models.Actor, groupID string) ([]int64, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, ValidationErrors{{Field: "group_id", Message: "is required"}}
	}
	if actor.Role == models.RoleAnonymous {
		return nil, fmt.Errorf("%w: sign in to change a series", apperrors.ErrForbidden)
	}

	sessions, err := s.store.List(ctx, s.seriesFilter(actor, &groupID))
	if err != nil {
		return nil, err
	}
	now := s.now()
	ids := make([]int64, 0, len(sessions))
	for _, session := range sessions {
		if session.Status.Terminal() || !session.Start.After(now) {
			continue
		}
		ids = append(ids, session.ID)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("series %s has no sessions left to change: %w", groupID, apperrors.ErrNotFound)
	}
	return ids, nil
}
