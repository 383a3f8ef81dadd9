package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/saeid-a/StudioScheduleBack/internal/gamification"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/repository"
	"github.com/saeid-a/StudioScheduleBack/pkg/apperrors"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
)

const defaultCancellationReason = "No reason provided"

// EventPublisher receives one event per committed transition.
type EventPublisher interface {
	Publish(ctx context.Context, event models.SessionEvent)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, models.SessionEvent) {}

type SessionService struct {
	store     repository.SessionStore
	users     repository.UserDirectory
	publisher EventPublisher
	accrual   gamification.Recorder
	validator *SlotValidator
	log       *logger.Logger
	now       func() time.Time
	location  *time.Location
	notice    time.Duration
}

func NewSessionService(
	store repository.SessionStore,
	users repository.UserDirectory,
	publisher EventPublisher,
	accrual gamification.Recorder,
	log *logger.Logger,
) *SessionService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if accrual == nil {
		accrual = gamification.NoopRecorder{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &SessionService{
		store:     store,
		users:     users,
		publisher: publisher,
		accrual:   accrual,
		validator: NewSlotValidator(log),
		log:       log,
		now:       time.Now,
		location:  time.UTC,
		notice:    DefaultCancellationNotice,
	}
}

func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

// WithCancellationNotice sets how long before the start a cancellation
// still counts as on time.
func (s *SessionService) WithCancellationNotice(notice time.Duration) *SessionService {
	if notice > 0 {
		s.notice = notice
	}
	return s
}

// WithLocation sets the studio time zone used to expand recurring patterns.
func (s *SessionService) WithLocation(loc *time.Location) *SessionService {
	if loc != nil {
		s.location = loc
	}
	return s
}

func (s *SessionService) CreateSessions(ctx context.Context, actor models.Actor, slots []SlotInput) ([]models.Session, error) {
	return s.createSessions(ctx, actor, slots, nil)
}

// CreateRecurring expands pattern in the studio time zone and creates the
// resulting slots atomically as one series. Occurrences already in the past
// are skipped.
func (s *SessionService) CreateRecurring(ctx context.Context, actor models.Actor, pattern RecurringPattern) ([]models.Session, error) {
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleTrainer {
		return nil, fmt.Errorf("%w: only admins and trainers create sessions", apperrors.ErrForbidden)
	}
	if err := s.validator.ValidatePattern(&pattern); err != nil {
		return nil, err
	}

	slots := ExpandRecurring(pattern, s.location, s.now())
	if len(slots) == 0 {
		return []models.Session{}, nil
	}
	groupID := uuid.NewString()
	return s.createSessions(ctx, actor, slots, &groupID)
}

func (s *SessionService) createSessions(ctx context.Context, actor models.Actor, slots []SlotInput, groupID *string) ([]models.Session, error) {
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleTrainer {
		return nil, fmt.Errorf("%w: only admins and trainers create sessions", apperrors.ErrForbidden)
	}
	if len(slots) == 0 {
		return nil, ValidationErrors{{Field: "sessions", Message: "at least one session is required"}}
	}

	now := s.now().UTC()
	pending := make([]models.Session, 0, len(slots))
	for i := range slots {
		session, err := s.buildSession(actor, &slots[i], now)
		if err != nil {
			return nil, &apperrors.BatchError{Index: i, Err: err}
		}
		if groupID != nil {
			group := *groupID
			session.RecurringGroupID = &group
		}
		pending = append(pending, session)
	}

	return s.insertSessions(ctx, actor, pending)
}

func (s *SessionService) buildSession(actor models.Actor, slot *SlotInput, now time.Time) (models.Session, error) {
	if err := s.validator.ValidateSlot(slot, now); err != nil {
		return models.Session{}, err
	}

	trainerID := slot.TrainerID
	if actor.Role == models.RoleTrainer {
		if trainerID == nil {
			id := actor.ID
			trainerID = &id
		} else if *trainerID != actor.ID {
			return models.Session{}, fmt.Errorf("%w: trainers only create their own sessions", apperrors.ErrForbidden)
		}
	}

	start := slot.Start.UTC()
	duration := slot.DurationMinutes
	var end time.Time
	switch {
	case slot.End != nil:
		end = slot.End.UTC()
		duration = int(end.Sub(start) / time.Minute)
	default:
		if duration == 0 {
			duration = models.DefaultDurationMinutes
		}
		end = start.Add(time.Duration(duration) * time.Minute)
	}

	location := strings.TrimSpace(slot.Location)
	if location == "" {
		location = models.DefaultLocation
	}

	session := models.Session{
		Start:           start,
		End:             end,
		DurationMinutes: duration,
		Status:          models.StatusAvailable,
		TrainerID:       trainerID,
		ClientID:        slot.ClientID,
		Location:        location,
		Notes:           strings.TrimSpace(slot.Notes),
	}
	if slot.ClientID != nil {
		bookedAt := now
		session.Status = models.StatusScheduled
		session.BookedAt = &bookedAt
	}
	return session, nil
}

func (s *SessionService) insertSessions(ctx context.Context, actor models.Actor, pending []models.Session) ([]models.Session, error) {
	created := make([]models.Session, 0, len(pending))
	err := s.store.InTx(ctx, func(tx repository.SessionTx) error {
		if err := lockParticipants(ctx, tx, pending...); err != nil {
			return err
		}
		for i := range pending {
			session := pending[i]
			if err := s.ensureUsers(ctx, session.TrainerID, session.ClientID); err != nil {
				return &apperrors.BatchError{Index: i, Err: err}
			}
			if err := checkOverlap(ctx, tx, &session); err != nil {
				return &apperrors.BatchError{Index: i, Err: err}
			}
			if err := tx.Insert(ctx, &session); err != nil {
				return &apperrors.BatchError{Index: i, Err: err}
			}
			created = append(created, session)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, session := range created {
		s.emit(ctx, models.EventCreated, session, nil)
	}
	s.log.Info("sessions created", "count", len(created), "actor_id", actor.ID, "role", actor.Role.String())
	return redactAll(actor, created), nil
}

// RequestSession records a client's interest in an open slot.
func (s *SessionService) RequestSession(ctx context.Context, actor models.Actor, sessionID, clientID int64) (*models.Session, error) {
	clientID, err := resolveClient(actor, clientID)
	if err != nil {
		return nil, err
	}

	return s.claimSlot(ctx, actor, sessionID, clientID, models.StatusRequested, models.EventUpdated)
}

// BookSession moves an available slot to scheduled for clientID. Among
// concurrent bookers of one slot exactly one commits; the rest see Conflict.
func (s *SessionService) BookSession(ctx context.Context, actor models.Actor, sessionID, clientID int64) (*models.Session, error) {
	clientID, err := resolveClient(actor, clientID)
	if err != nil {
		return nil, err
	}

	session, err := s.claimSlot(ctx, actor, sessionID, clientID, models.StatusScheduled, models.EventBooked)
	if err != nil {
		return nil, err
	}
	s.accrue(session.ClientID, session.ID, gamification.ActivitySessionBooked)
	return session, nil
}

func (s *SessionService) claimSlot(
	ctx context.Context,
	actor models.Actor,
	sessionID, clientID int64,
	next models.SessionStatus,
	eventType models.EventType,
) (*models.Session, error) {
	if err := s.ensureUsers(ctx, nil, &clientID); err != nil {
		return nil, err
	}

	return s.mutate(ctx, actor, sessionID, eventType, func(tx repository.SessionTx, session *models.Session) error {
		if session.Status != models.StatusAvailable {
			return fmt.Errorf("%w: session is no longer available", apperrors.ErrConflict)
		}
		if session.HasTrainer(clientID) {
			return ValidationErrors{{Field: "user_id", Message: "trainer cannot book their own session"}}
		}

		if err := tx.LockParticipant(ctx, repository.ParticipantClient, clientID); err != nil {
			return err
		}
		overlap, err := tx.HasOverlap(ctx, repository.ParticipantClient, clientID, session.Start, session.End, session.ID)
		if err != nil {
			return err
		}
		if overlap {
			return fmt.Errorf("%w: client %d already has a session in this window", apperrors.ErrConflict, clientID)
		}

		bookedAt := s.now().UTC()
		session.Status = next
		session.ClientID = &clientID
		session.BookedAt = &bookedAt
		return nil
	}, guard{
		// Booking competes for a slot the loser can no longer see; report the race, not a missing row.
		skipVisibility: true,
		authorize: func(actor models.Actor, _ *models.Session) bool {
			return actor.Role == models.RoleAdmin || actor.Role == models.RoleClient
		},
	})
}

func (s *SessionService) AssignTrainer(ctx context.Context, actor models.Actor, sessionID, trainerID int64) (*models.Session, error) {
	if trainerID <= 0 {
		return nil, ValidationErrors{{Field: "trainer_id", Message: "must be greater than 0"}}
	}
	return s.mutate(ctx, actor, sessionID, models.EventUpdated, s.assignTo(ctx, trainerID), adminOnly)
}

func (s *SessionService) assignTo(ctx context.Context, trainerID int64) func(repository.SessionTx, *models.Session) error {
	return func(tx repository.SessionTx, session *models.Session) error {
		if err := s.ensureUsers(ctx, &trainerID, nil); err != nil {
			return err
		}

		switch session.Status {
		case models.StatusAvailable, models.StatusScheduled:
		case models.StatusRequested:
			session.Status = models.StatusScheduled
		default:
			return fmt.Errorf("%w: cannot assign a trainer to a %s session", apperrors.ErrInvalidTransition, session.Status)
		}
		if session.HasClient(trainerID) {
			return ValidationErrors{{Field: "trainer_id", Message: "trainer and client must differ"}}
		}

		if err := tx.LockParticipant(ctx, repository.ParticipantTrainer, trainerID); err != nil {
			return err
		}
		overlap, err := tx.HasOverlap(ctx, repository.ParticipantTrainer, trainerID, session.Start, session.End, session.ID)
		if err != nil {
			return err
		}
		if overlap {
			return fmt.Errorf("%w: trainer %d already has a session in this window", apperrors.ErrConflict, trainerID)
		}

		session.TrainerID = &trainerID
		return nil
	}
}

func (s *SessionService) ConfirmSession(ctx context.Context, actor models.Actor, sessionID int64) (*models.Session, error) {
	session, err := s.mutate(ctx, actor, sessionID, models.EventConfirmed, func(_ repository.SessionTx, session *models.Session) error {
		if session.TrainerID == nil {
			return fmt.Errorf("%w: a trainer must be assigned before confirming", apperrors.ErrPreconditionFailed)
		}
		switch session.Status {
		case models.StatusRequested, models.StatusScheduled:
		default:
			return fmt.Errorf("%w: cannot confirm a %s session", apperrors.ErrInvalidTransition, session.Status)
		}

		confirmedBy := actor.ID
		session.Status = models.StatusConfirmed
		session.Confirmed = true
		session.ConfirmedBy = &confirmedBy
		return nil
	}, guard{authorize: adminOrAssignedTrainer})
	if err != nil {
		return nil, err
	}
	s.accrue(session.ClientID, session.ID, gamification.ActivitySessionConfirmed)
	return session, nil
}

// CompleteSession closes a session and records the credit deduction. A second
// call fails on the terminal state, so the deduction happens once.
func (s *SessionService) CompleteSession(ctx context.Context, actor models.Actor, sessionID int64, notes string) (*models.Session, error) {
	notes = strings.TrimSpace(notes)
	session, err := s.mutate(ctx, actor, sessionID, models.EventCompleted, func(_ repository.SessionTx, session *models.Session) error {
		return s.complete(actor, session, notes)
	}, guard{authorize: adminOrAssignedTrainer})
	if err != nil {
		return nil, err
	}
	s.accrue(session.ClientID, session.ID, gamification.ActivitySessionCompleted)
	return session, nil
}

func (s *SessionService) complete(actor models.Actor, session *models.Session, notes string) error {
	switch session.Status {
	case models.StatusConfirmed, models.StatusScheduled:
	default:
		return fmt.Errorf("%w: cannot complete a %s session", apperrors.ErrInvalidTransition, session.Status)
	}

	now := s.now().UTC()
	completedBy := actor.ID
	session.Status = models.StatusCompleted
	session.CompletedBy = &completedBy
	if !session.SessionDeducted {
		session.SessionDeducted = true
		session.DeductionDate = &now
	}
	appendNote(session, notes)
	return nil
}

func appendNote(session *models.Session, notes string) {
	if notes == "" {
		return
	}
	if session.PrivateNotes != "" {
		session.PrivateNotes += "\n"
	}
	session.PrivateNotes += notes
}

// CancelSession is also what a delete request does; rows are never removed.
func (s *SessionService) CancelSession(ctx context.Context, actor models.Actor, sessionID int64, reason string) (*models.Session, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultCancellationReason
	}

	return s.mutate(ctx, actor, sessionID, models.EventCancelled, s.cancelWith(actor, reason), guard{authorize: mayCancel})
}

func (s *SessionService) cancelWith(actor models.Actor, reason string) func(repository.SessionTx, *models.Session) error {
	return func(_ repository.SessionTx, session *models.Session) error {
		now := s.now().UTC()
		cancelledBy := actor.ID
		session.Status = models.StatusCancelled
		session.CancelledBy = &cancelledBy
		session.CancellationReason = &reason
		session.CancelledAt = &now
		return nil
	}
}

func mayCancel(actor models.Actor, session *models.Session) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleTrainer:
		return session.HasTrainer(actor.ID)
	case models.RoleClient:
		return session.HasClient(actor.ID)
	default:
		return false
	}
}

type guard struct {
	skipVisibility bool
	allowTerminal  bool
	authorize      func(actor models.Actor, session *models.Session) bool
}

// mutate runs one transition in a single transaction and publishes it.
func (s *SessionService) mutate(
	ctx context.Context,
	actor models.Actor,
	sessionID int64,
	eventType models.EventType,
	apply func(tx repository.SessionTx, session *models.Session) error,
	g guard,
) (*models.Session, error) {
	var updated, previous models.Session
	err := s.store.InTx(ctx, func(tx repository.SessionTx) error {
		var err error
		updated, previous, err = transition(ctx, tx, actor, sessionID, apply, g)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, actor, eventType, updated, previous)
	out := Redact(actor, updated)
	return &out, nil
}

// transition is one row's step inside a transaction: row lock, visibility,
// authorization, terminal check, then apply and compare-and-set. It returns
// the stored row and the row as it was before apply.
func transition(
	ctx context.Context,
	tx repository.SessionTx,
	actor models.Actor,
	sessionID int64,
	apply func(tx repository.SessionTx, session *models.Session) error,
	g guard,
) (models.Session, models.Session, error) {
	session, err := tx.GetByIDForUpdate(ctx, sessionID)
	if err != nil {
		return models.Session{}, models.Session{}, err
	}
	if !g.skipVisibility && !Visible(actor, session) {
		return models.Session{}, models.Session{}, fmt.Errorf("session %d: %w", sessionID, apperrors.ErrNotFound)
	}
	if !g.authorize(actor, session) {
		return models.Session{}, models.Session{}, fmt.Errorf("%w: %s may not change session %d", apperrors.ErrForbidden, actor.Role, sessionID)
	}
	if !g.allowTerminal && session.Status.Terminal() {
		return models.Session{}, models.Session{}, fmt.Errorf("%w: session is already %s", apperrors.ErrInvalidTransition, session.Status)
	}

	expected := session.Status
	previous := session.Clone()
	if err := apply(tx, session); err != nil {
		return models.Session{}, models.Session{}, err
	}
	if err := tx.UpdateIfCurrent(ctx, session, expected); err != nil {
		return models.Session{}, models.Session{}, err
	}
	return *session, previous, nil
}

func (s *SessionService) committed(ctx context.Context, actor models.Actor, eventType models.EventType, updated, previous models.Session) {
	s.emit(ctx, eventType, updated, &previous)
	s.log.Info("session transition",
		"session_id", updated.ID,
		"event", string(eventType),
		"status", string(updated.Status),
		"actor_id", actor.ID,
		"role", actor.Role.String(),
	)
}

func (s *SessionService) emit(ctx context.Context, eventType models.EventType, session models.Session, previous *models.Session) {
	event := models.SessionEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Session:   session.Clone(),
		Timestamp: session.UpdatedAt,
	}
	if previous != nil {
		before := previous.Clone()
		event.Previous = &before
	}
	s.publisher.Publish(context.WithoutCancel(ctx), event)
}

// accrue reports a milestone in the background; failures never reach the caller.
func (s *SessionService) accrue(clientID *int64, sessionID int64, activity string) {
	if clientID == nil {
		return
	}
	accrual := gamification.Accrual{UserID: *clientID, ActivityType: activity, SessionID: sessionID}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.accrual.Record(ctx, accrual); err != nil {
			s.log.Warn("gamification accrual failed",
				"error", err,
				"session_id", accrual.SessionID,
				"activity", accrual.ActivityType,
			)
		}
	}()
}

// ensureUsers verifies referenced participants against the directory when one is wired.
func (s *SessionService) ensureUsers(ctx context.Context, trainerID, clientID *int64) error {
	if s.users == nil {
		return nil
	}
	check := func(id *int64, role string, field string) error {
		if id == nil {
			return nil
		}
		user, err := s.users.GetByID(ctx, *id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return ValidationErrors{{Field: field, Message: fmt.Sprintf("%s %d does not exist", role, *id)}}
			}
			return err
		}
		if user.Role != role {
			return ValidationErrors{{Field: field, Message: fmt.Sprintf("user %d is not a %s", *id, role)}}
		}
		return nil
	}
	if err := check(trainerID, models.RoleTrainer.String(), "trainer_id"); err != nil {
		return err
	}
	return check(clientID, models.RoleClient.String(), "user_id")
}

func resolveClient(actor models.Actor, clientID int64) (int64, error) {
	switch actor.Role {
	case models.RoleClient:
		if clientID != 0 && clientID != actor.ID {
			return 0, fmt.Errorf("%w: clients only book for themselves", apperrors.ErrForbidden)
		}
		return actor.ID, nil
	case models.RoleAdmin:
		if clientID <= 0 {
			return 0, ValidationErrors{{Field: "user_id", Message: "is required"}}
		}
		return clientID, nil
	case models.RoleTrainer, models.RoleAnonymous:
		return 0, fmt.Errorf("%w: %s may not book sessions", apperrors.ErrForbidden, actor.Role)
	default:
		return 0, apperrors.ErrForbidden
	}
}

var adminOnly = guard{
	authorize: func(actor models.Actor, _ *models.Session) bool {
		return actor.Role == models.RoleAdmin
	},
}

func adminOrAssignedTrainer(actor models.Actor, session *models.Session) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleTrainer:
		return session.HasTrainer(actor.ID)
	default:
		return false
	}
}

func checkOverlap(ctx context.Context, tx repository.SessionTx, session *models.Session) error {
	if session.TrainerID != nil {
		overlap, err := tx.HasOverlap(ctx, repository.ParticipantTrainer, *session.TrainerID, session.Start, session.End, session.ID)
		if err != nil {
			return err
		}
		if overlap {
			return fmt.Errorf("%w: trainer %d already has a session in this window", apperrors.ErrConflict, *session.TrainerID)
		}
	}
	if session.ClientID != nil {
		overlap, err := tx.HasOverlap(ctx, repository.ParticipantClient, *session.ClientID, session.Start, session.End, session.ID)
		if err != nil {
			return err
		}
		if overlap {
			return fmt.Errorf("%w: client %d already has a session in this window", apperrors.ErrConflict, *session.ClientID)
		}
	}
	return nil
}

// lockParticipants takes the advisory keys in a fixed order so concurrent
// batches touching the same people cannot deadlock.
func lockParticipants(ctx context.Context, tx repository.SessionTx, sessions ...models.Session) error {
	type key struct {
		kind repository.ParticipantKind
		id   int64
	}
	seen := make(map[key]struct{})
	keys := make([]key, 0)
	add := func(kind repository.ParticipantKind, id *int64) {
		if id == nil {
			return
		}
		k := key{kind: kind, id: *id}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for i := range sessions {
		add(repository.ParticipantTrainer, sessions[i].TrainerID)
		add(repository.ParticipantClient, sessions[i].ClientID)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].kind != keys[j].kind {
			return keys[i].kind < keys[j].kind
		}
		return keys[i].id < keys[j].id
	})
	for _, k := range keys {
		if err := tx.LockParticipant(ctx, k.kind, k.id); err != nil {
			return err
		}
	}
	return nil
}
