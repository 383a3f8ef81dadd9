package repository

import (
	"context"
	"time"

	"github.com/saeid-a/StudioScheduleBack/internal/models"
)

// SessionStore is the single mutable source of truth for sessions. Writes only
// happen inside InTx; the whole callback either commits or leaves no trace.
type SessionStore interface {
	GetByID(ctx context.Context, sessionID int64) (*models.Session, error)
	List(ctx context.Context, filter SessionListFilter) ([]models.Session, error)
	InTx(ctx context.Context, fn func(tx SessionTx) error) error
}

type SessionTx interface {
	GetByIDForUpdate(ctx context.Context, sessionID int64) (*models.Session, error)
	Insert(ctx context.Context, session *models.Session) error
	// UpdateIfCurrent persists every mutable field of session when the stored
	// status still equals expected, refreshing session with the stored row.
	UpdateIfCurrent(ctx context.Context, session *models.Session, expected models.SessionStatus) error
	LockParticipant(ctx context.Context, kind ParticipantKind, participantID int64) error
	HasOverlap(ctx context.Context, kind ParticipantKind, participantID int64, start, end time.Time, excludedSessionID int64) (bool, error)
}

type UserDirectory interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	ListByRole(ctx context.Context, role string) ([]models.User, error)
}

type ParticipantKind string

const (
	ParticipantTrainer ParticipantKind = "trainer"
	ParticipantClient  ParticipantKind = "client"
)

// RowScope is the row-level authorization baseline for a list query. A row is
// visible when AllRows is set, or when any of the populated clauses matches.
type RowScope struct {
	AllRows          bool
	TrainerID        *int64
	ClientID         *int64
	IncludeAvailable bool
}

func (s RowScope) Allows(session *models.Session) bool {
	if s.AllRows {
		return true
	}
	if s.TrainerID != nil && session.HasTrainer(*s.TrainerID) {
		return true
	}
	if s.ClientID != nil && session.HasClient(*s.ClientID) {
		return true
	}
	return s.IncludeAvailable && session.Status == models.StatusAvailable
}

type SessionListFilter struct {
	Scope     RowScope
	StartDate *time.Time
	EndDate   *time.Time
	Status    *models.SessionStatus
	TrainerID *int64
	ClientID  *int64
	Location  string
	Confirmed *bool

	RecurringGroupID *string
	// RecurringOnly keeps rows that belong to any recurring series.
	RecurringOnly bool
}

// Matches applies the field-level filters; Scope is checked separately.
func (f SessionListFilter) Matches(session *models.Session) bool {
	if f.StartDate != nil && session.Start.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && session.Start.After(*f.EndDate) {
		return false
	}
	if f.Status != nil && session.Status != *f.Status {
		return false
	}
	if f.TrainerID != nil && !session.HasTrainer(*f.TrainerID) {
		return false
	}
	if f.ClientID != nil && !session.HasClient(*f.ClientID) {
		return false
	}
	if f.Location != "" && session.Location != f.Location {
		return false
	}
	if f.Confirmed != nil && session.Confirmed != *f.Confirmed {
		return false
	}
	if f.RecurringGroupID != nil && (session.RecurringGroupID == nil || *session.RecurringGroupID != *f.RecurringGroupID) {
		return false
	}
	if f.RecurringOnly && session.RecurringGroupID == nil {
		return false
	}
	return true
}
