package services

import (
	"context"
	"fmt"
	"time"

	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/repository"
	"github.com/saeid-a/StudioScheduleBack/pkg/apperrors"
)

type SessionQuery struct {
	StartDate *time.Time
	EndDate   *time.Time
	Status    *models.SessionStatus
	TrainerID *int64
	ClientID  *int64
	Location  string
	Confirmed *bool
	Scope     AdminScope
}

// ListSessions applies the role's row scope first; the query fields can only
// narrow it further.
func (s *SessionService) ListSessions(ctx context.Context, actor models.Actor, query SessionQuery) ([]models.Session, error) {
	if query.StartDate != nil && query.EndDate != nil && query.EndDate.Before(*query.StartDate) {
		return nil, ValidationErrors{{Field: "end_date", Message: "end_date must not be before start_date"}}
	}

	sessions, err := s.store.List(ctx, repository.SessionListFilter{
		Scope:     RowScopeFor(actor, query.Scope),
		StartDate: query.StartDate,
		EndDate:   query.EndDate,
		Status:    query.Status,
		TrainerID: query.TrainerID,
		ClientID:  query.ClientID,
		Location:  query.Location,
		Confirmed: query.Confirmed,
	})
	if err != nil {
		return nil, err
	}
	return redactAll(actor, sessions), nil
}

// GetSession hides sessions outside the actor's scope behind NotFound.
func (s *SessionService) GetSession(ctx context.Context, actor models.Actor, sessionID int64) (*models.Session, error) {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !Visible(actor, session) {
		return nil, fmt.Errorf("session %d: %w", sessionID, apperrors.ErrNotFound)
	}
	out := Redact(actor, *session)
	return &out, nil
}

func (s *SessionService) Stats(ctx context.Context, actor models.Actor, scope AdminScope) (*models.SessionStats, error) {
	sessions, err := s.store.List(ctx, repository.SessionListFilter{Scope: RowScopeFor(actor, scope)})
	if err != nil {
		return nil, err
	}

	stats := models.TallySessions(sessions, s.now())
	return &stats, nil
}

func (s *SessionService) ListTrainers(ctx context.Context, actor models.Actor) ([]models.User, error) {
	switch actor.Role {
	case models.RoleAdmin, models.RoleTrainer, models.RoleClient:
	case models.RoleAnonymous:
		return nil, fmt.Errorf("%w: sign in to browse trainers", apperrors.ErrForbidden)
	}
	return s.listUsers(ctx, models.RoleTrainer)
}

func (s *SessionService) ListClients(ctx context.Context, actor models.Actor) ([]models.User, error) {
	switch actor.Role {
	case models.RoleAdmin, models.RoleTrainer:
	case models.RoleClient, models.RoleAnonymous:
		return nil, fmt.Errorf("%w: only staff can list clients", apperrors.ErrForbidden)
	}
	return s.listUsers(ctx, models.RoleClient)
}

func (s *SessionService) listUsers(ctx context.Context, role models.Role) ([]models.User, error) {
	if s.users == nil {
		return []models.User{}, nil
	}
	return s.users.ListByRole(ctx, role.String())
}
