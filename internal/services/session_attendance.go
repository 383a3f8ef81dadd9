package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/saeid-a/StudioScheduleBack/internal/gamification"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/repository"
	"github.com/saeid-a/StudioScheduleBack/pkg/apperrors"
)

// DefaultCancellationNotice is the notice a cancellation needs to count as on time.
const DefaultCancellationNotice = 24 * time.Hour

const maxNotesLength = 2000

// CancellationNotice tells a caller what cancelling a session now would mean.
type CancellationNotice struct {
	SessionID   int64     `json:"session_id"`
	Start       time.Time `json:"start"`
	CanCancel   bool      `json:"can_cancel"`
	Late        bool      `json:"late_cancellation"`
	HoursUntil  float64   `json:"hours_until_session"`
	NoticeHours float64   `json:"required_notice_hours"`
	Message     string    `json:"message"`
}

type AttendanceInput struct {
	Status    string     `json:"attendance_status"`
	CheckInAt *time.Time `json:"check_in_at,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// UpdateNotes replaces the trainer-only notes. Closed sessions stay editable.
func (s *SessionService) UpdateNotes(ctx context.Context, actor models.Actor, sessionID int64, notes string) (*models.Session, error) {
	notes = strings.TrimSpace(notes)
	if len(notes) > maxNotesLength {
		return nil, ValidationErrors{{Field: "notes", Message: fmt.Sprintf("must be at most %d characters", maxNotesLength)}}
	}
	return s.mutate(ctx, actor, sessionID, models.EventUpdated, func(_ repository.SessionTx, session *models.Session) error {
		session.PrivateNotes = notes
		return nil
	}, guard{allowTerminal: true, authorize: adminOrAssignedTrainer})
}

// CancelWarning reports whether cancelling now falls inside the notice window.
func (s *SessionService) CancelWarning(ctx context.Context, actor models.Actor, sessionID int64) (*CancellationNotice, error) {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !Visible(actor, session) {
		return nil, fmt.Errorf("session %d: %w", sessionID, apperrors.ErrNotFound)
	}
	if !mayCancel(actor, session) {
		return nil, fmt.Errorf("%w: %s may not cancel session %d", apperrors.ErrForbidden, actor.Role, sessionID)
	}
	switch session.Status {
	case models.StatusRequested, models.StatusScheduled, models.StatusConfirmed:
	default:
		return nil, fmt.Errorf("%w: cannot cancel a %s session", apperrors.ErrInvalidTransition, session.Status)
	}

	until := session.Start.Sub(s.now())
	notice := &CancellationNotice{
		SessionID:   session.ID,
		Start:       session.Start,
		CanCancel:   true,
		Late:        until < s.notice,
		HoursUntil:  math.Max(0, math.Round(until.Hours()*10)/10),
		NoticeHours: s.notice.Hours(),
	}
	if notice.Late {
		notice.Message = fmt.Sprintf("This session starts in less than %g hours, so cancelling now is a late cancellation.", notice.NoticeHours)
	} else {
		notice.Message = "This session can be cancelled without penalty."
	}
	return notice, nil
}

// RecordAttendance marks a booked session present, late or no_show. Present
// and late complete the session; no_show leaves it open for the admin to
// cancel or complete.
func (s *SessionService) RecordAttendance(ctx context.Context, actor models.Actor, sessionID int64, input AttendanceInput) (*models.Session, error) {
	status, ok := models.ParseAttendanceStatus(strings.TrimSpace(input.Status))
	if !ok {
		return nil, ValidationErrors{{Field: "attendance_status", Message: "must be one of present, late, no_show"}}
	}
	notes := strings.TrimSpace(input.Notes)

	eventType := models.EventUpdated
	if status.Attended() {
		eventType = models.EventCompleted
	}

	session, err := s.mutate(ctx, actor, sessionID, eventType, func(_ repository.SessionTx, session *models.Session) error {
		if session.ClientID == nil {
			return fmt.Errorf("%w: session %d has no client", apperrors.ErrPreconditionFailed, session.ID)
		}
		if session.Attendance != nil {
			return fmt.Errorf("%w: attendance already recorded as %s", apperrors.ErrConflict, *session.Attendance)
		}
		switch session.Status {
		case models.StatusScheduled, models.StatusConfirmed:
		default:
			return fmt.Errorf("%w: cannot record attendance for a %s session", apperrors.ErrInvalidTransition, session.Status)
		}

		recordedBy := actor.ID
		session.Attendance = &status
		session.AttendanceBy = &recordedBy
		if !status.Attended() {
			appendNote(session, notes)
			return nil
		}
		checkIn := s.now().UTC()
		if input.CheckInAt != nil {
			checkIn = input.CheckInAt.UTC()
		}
		session.CheckInAt = &checkIn
		return s.complete(actor, session, notes)
	}, guard{authorize: adminOrAssignedTrainer})
	if err != nil {
		return nil, err
	}
	if status.Attended() {
		s.accrue(session.ClientID, session.ID, gamification.ActivitySessionCompleted)
	}
	return session, nil
}
