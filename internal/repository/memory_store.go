package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/pkg/apperrors"
)

// MemorySessionStore keeps sessions in process. One mutex serializes
// transactions; writes are staged and only applied when the callback succeeds.
type MemorySessionStore struct {
	mu     sync.Mutex
	rows   map[int64]models.Session
	nextID int64
	now    func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		rows: make(map[int64]models.Session),
		now:  time.Now,
	}
}

// WithClock overrides the timestamp source.
func (s *MemorySessionStore) WithClock(now func() time.Time) *MemorySessionStore {
	s.now = now
	return s
}

func (s *MemorySessionStore) GetByID(_ context.Context, sessionID int64) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %d: %w", sessionID, apperrors.ErrNotFound)
	}
	out := row.Clone()
	return &out, nil
}

func (s *MemorySessionStore) List(_ context.Context, filter SessionListFilter) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]models.Session, 0)
	for _, row := range s.rows {
		if !filter.Scope.Allows(&row) || !filter.Matches(&row) {
			continue
		}
		sessions = append(sessions, row.Clone())
	}
	sortSessions(sessions)
	return sessions, nil
}

func (s *MemorySessionStore) InTx(ctx context.Context, fn func(tx SessionTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{store: s, staged: make(map[int64]models.Session), nextID: s.nextID}
	if err := fn(tx); err != nil {
		return err
	}
	for id, row := range tx.staged {
		s.rows[id] = row
	}
	s.nextID = tx.nextID
	return nil
}

type memoryTx struct {
	store  *MemorySessionStore
	staged map[int64]models.Session
	nextID int64
}

func (tx *memoryTx) lookup(sessionID int64) (models.Session, bool) {
	if row, ok := tx.staged[sessionID]; ok {
		return row, true
	}
	row, ok := tx.store.rows[sessionID]
	return row, ok
}

func (tx *memoryTx) GetByIDForUpdate(_ context.Context, sessionID int64) (*models.Session, error) {
	row, ok := tx.lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %d: %w", sessionID, apperrors.ErrNotFound)
	}
	out := row.Clone()
	return &out, nil
}

func (tx *memoryTx) Insert(_ context.Context, session *models.Session) error {
	tx.nextID++
	now := tx.store.now().UTC()
	session.ID = tx.nextID
	session.CreatedAt = now
	session.UpdatedAt = now
	tx.staged[session.ID] = session.Clone()
	return nil
}

func (tx *memoryTx) UpdateIfCurrent(_ context.Context, session *models.Session, expected models.SessionStatus) error {
	current, ok := tx.lookup(session.ID)
	if !ok {
		return fmt.Errorf("session %d: %w", session.ID, apperrors.ErrNotFound)
	}
	if current.Status != expected {
		return fmt.Errorf("%w: session %d is no longer %s", apperrors.ErrConflict, session.ID, expected)
	}

	updatedAt := tx.store.now().UTC()
	if floor := current.UpdatedAt.Add(time.Microsecond); updatedAt.Before(floor) {
		updatedAt = floor
	}

	next := session.Clone()
	next.Start = current.Start
	next.End = current.End
	next.DurationMinutes = current.DurationMinutes
	next.RecurringGroupID = current.Clone().RecurringGroupID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = updatedAt
	tx.staged[session.ID] = next
	*session = next.Clone()
	return nil
}

func (tx *memoryTx) LockParticipant(context.Context, ParticipantKind, int64) error {
	return nil
}

func (tx *memoryTx) HasOverlap(
	_ context.Context,
	kind ParticipantKind,
	participantID int64,
	start, end time.Time,
	excludedSessionID int64,
) (bool, error) {
	if _, err := participantColumn(kind); err != nil {
		return false, err
	}

	check := func(row models.Session) bool {
		if row.ID == excludedSessionID || row.Status == models.StatusCancelled {
			return false
		}
		matches := row.HasTrainer(participantID)
		if kind == ParticipantClient {
			matches = row.HasClient(participantID)
		}
		return matches && row.Overlaps(start, end)
	}

	for _, row := range tx.staged {
		if check(row) {
			return true, nil
		}
	}
	for id, row := range tx.store.rows {
		if _, shadowed := tx.staged[id]; shadowed {
			continue
		}
		if check(row) {
			return true, nil
		}
	}
	return false, nil
}

func sortSessions(sessions []models.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Start.Equal(sessions[j].Start) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].Start.Before(sessions[j].Start)
	})
}

// MemoryUserDirectory backs the trainer/client directory when no database is configured.
type MemoryUserDirectory struct {
	mu    sync.RWMutex
	users map[int64]models.User
}

func NewMemoryUserDirectory(users ...models.User) *MemoryUserDirectory {
	d := &MemoryUserDirectory{users: make(map[int64]models.User)}
	for _, user := range users {
		d.users[user.ID] = user
	}
	return d
}

func (d *MemoryUserDirectory) Add(user models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
}

func (d *MemoryUserDirectory) GetByID(_ context.Context, id int64) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, apperrors.ErrNotFound)
	}
	return &user, nil
}

func (d *MemoryUserDirectory) ListByRole(_ context.Context, role string) ([]models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	users := make([]models.User, 0)
	for _, user := range d.users {
		if user.Role == role {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}
