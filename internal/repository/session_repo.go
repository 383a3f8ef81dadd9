package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/pkg/apperrors"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const sessionColumns = `id, start_at, end_at, duration_min, status, trainer_id, client_id,
	location, notes, private_notes, confirmed, session_deducted, deduction_date, booked_at,
	confirmed_by, completed_by, cancellation_reason, cancelled_by, cancelled_at,
	recurring_group_id, attendance, check_in_at, attendance_by,
	created_at, updated_at`

type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// PostgresSessionStore runs every transition in one transaction against the pool.
type PostgresSessionStore struct {
	*SessionRepository
	pool *pgxpool.Pool
}

func NewPostgresSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{
		SessionRepository: NewSessionRepository(pool),
		pool:              pool,
	}
}

func (s *PostgresSessionStore) InTx(ctx context.Context, fn func(tx SessionTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(NewSessionRepository(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *SessionRepository) Insert(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO training_sessions (
			start_at, end_at, duration_min, status, trainer_id, client_id,
			location, notes, private_notes, confirmed, booked_at, recurring_group_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + sessionColumns

	created, err := scanSession(r.db.QueryRow(
		ctx,
		query,
		session.Start.UTC(),
		session.End.UTC(),
		session.DurationMinutes,
		string(session.Status),
		session.TrainerID,
		session.ClientID,
		session.Location,
		session.Notes,
		session.PrivateNotes,
		session.Confirmed,
		session.BookedAt,
		session.RecurringGroupID,
	))
	if err != nil {
		return err
	}
	*session = *created
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM training_sessions WHERE id = $1`
	session, err := scanSession(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		return nil, notFound(sessionID, err)
	}
	return session, nil
}

func (r *SessionRepository) GetByIDForUpdate(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM training_sessions WHERE id = $1 FOR UPDATE`
	session, err := scanSession(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		return nil, notFound(sessionID, err)
	}
	return session, nil
}

func (r *SessionRepository) UpdateIfCurrent(
	ctx context.Context,
	session *models.Session,
	expected models.SessionStatus,
) error {
	query := `
		UPDATE training_sessions
		SET status = $3,
			trainer_id = $4,
			client_id = $5,
			location = $6,
			notes = $7,
			private_notes = $8,
			confirmed = $9,
			session_deducted = $10,
			deduction_date = $11,
			booked_at = $12,
			confirmed_by = $13,
			completed_by = $14,
			cancellation_reason = $15,
			cancelled_by = $16,
			cancelled_at = $17,
			attendance = $18,
			check_in_at = $19,
			attendance_by = $20,
			updated_at = GREATEST(NOW(), updated_at + INTERVAL '1 microsecond')
		WHERE id = $1 AND status = $2
		RETURNING ` + sessionColumns

	updated, err := scanSession(r.db.QueryRow(
		ctx,
		query,
		session.ID,
		string(expected),
		string(session.Status),
		session.TrainerID,
		session.ClientID,
		session.Location,
		session.Notes,
		session.PrivateNotes,
		session.Confirmed,
		session.SessionDeducted,
		session.DeductionDate,
		session.BookedAt,
		session.ConfirmedBy,
		session.CompletedBy,
		session.CancellationReason,
		session.CancelledBy,
		session.CancelledAt,
		attendanceValue(session.Attendance),
		session.CheckInAt,
		session.AttendanceBy,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: session %d is no longer %s", apperrors.ErrConflict, session.ID, expected)
		}
		return err
	}
	*session = *updated
	return nil
}

func (r *SessionRepository) LockParticipant(ctx context.Context, kind ParticipantKind, participantID int64) error {
	key := fmt.Sprintf("training_sessions:%s:%d", kind, participantID)
	_, err := r.db.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key)
	return err
}

func (r *SessionRepository) HasOverlap(
	ctx context.Context,
	kind ParticipantKind,
	participantID int64,
	start, end time.Time,
	excludedSessionID int64,
) (bool, error) {
	column, err := participantColumn(kind)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1
			FROM training_sessions
			WHERE %s = $1
			  AND id <> $4
			  AND status <> 'cancelled'
			  AND start_at < $3
			  AND end_at > $2
		)
	`, column)

	var hasOverlap bool
	if err := r.db.QueryRow(ctx, query, participantID, start.UTC(), end.UTC(), excludedSessionID).Scan(&hasOverlap); err != nil {
		return false, err
	}
	return hasOverlap, nil
}

func (r *SessionRepository) List(ctx context.Context, filter SessionListFilter) ([]models.Session, error) {
	var args []any
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	// Row scope always comes first so field filters only ever narrow it.
	whereParts := []string{}
	if !filter.Scope.AllRows {
		scopeParts := []string{}
		if filter.Scope.TrainerID != nil {
			scopeParts = append(scopeParts, "trainer_id = "+arg(*filter.Scope.TrainerID))
		}
		if filter.Scope.ClientID != nil {
			scopeParts = append(scopeParts, "client_id = "+arg(*filter.Scope.ClientID))
		}
		if filter.Scope.IncludeAvailable {
			scopeParts = append(scopeParts, "status = 'available'")
		}
		if len(scopeParts) == 0 {
			return []models.Session{}, nil
		}
		whereParts = append(whereParts, "("+strings.Join(scopeParts, " OR ")+")")
	}

	if filter.StartDate != nil {
		whereParts = append(whereParts, "start_at >= "+arg(filter.StartDate.UTC()))
	}
	if filter.EndDate != nil {
		whereParts = append(whereParts, "start_at <= "+arg(filter.EndDate.UTC()))
	}
	if filter.Status != nil {
		whereParts = append(whereParts, "status = "+arg(string(*filter.Status)))
	}
	if filter.TrainerID != nil {
		whereParts = append(whereParts, "trainer_id = "+arg(*filter.TrainerID))
	}
	if filter.ClientID != nil {
		whereParts = append(whereParts, "client_id = "+arg(*filter.ClientID))
	}
	if location := strings.TrimSpace(filter.Location); location != "" {
		whereParts = append(whereParts, "location = "+arg(location))
	}
	if filter.Confirmed != nil {
		whereParts = append(whereParts, "confirmed = "+arg(*filter.Confirmed))
	}
	if filter.RecurringGroupID != nil {
		whereParts = append(whereParts, "recurring_group_id = "+arg(*filter.RecurringGroupID))
	}
	if filter.RecurringOnly {
		whereParts = append(whereParts, "recurring_group_id IS NOT NULL")
	}

	where := ""
	if len(whereParts) > 0 {
		where = "WHERE " + strings.Join(whereParts, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM training_sessions
		%s
		ORDER BY start_at ASC, id ASC
	`, sessionColumns, where)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var (
		session    models.Session
		status     string
		attendance *string
	)
	err := row.Scan(
		&session.ID,
		&session.Start,
		&session.End,
		&session.DurationMinutes,
		&status,
		&session.TrainerID,
		&session.ClientID,
		&session.Location,
		&session.Notes,
		&session.PrivateNotes,
		&session.Confirmed,
		&session.SessionDeducted,
		&session.DeductionDate,
		&session.BookedAt,
		&session.ConfirmedBy,
		&session.CompletedBy,
		&session.CancellationReason,
		&session.CancelledBy,
		&session.CancelledAt,
		&session.RecurringGroupID,
		&attendance,
		&session.CheckInAt,
		&session.AttendanceBy,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	session.Status = models.SessionStatus(status)
	if attendance != nil {
		value := models.AttendanceStatus(*attendance)
		session.Attendance = &value
	}
	return &session, nil
}

func attendanceValue(attendance *models.AttendanceStatus) *string {
	if attendance == nil {
		return nil
	}
	value := string(*attendance)
	return &value
}

func notFound(sessionID int64, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("session %d: %w", sessionID, apperrors.ErrNotFound)
	}
	return err
}

func participantColumn(kind ParticipantKind) (string, error) {
	switch kind {
	case ParticipantTrainer:
		return "trainer_id", nil
	case ParticipantClient:
		return "client_id", nil
	default:
		return "", fmt.Errorf("unknown participant kind %q", kind)
	}
}
