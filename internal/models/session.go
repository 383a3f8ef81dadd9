package models

import "time"

type SessionStatus string

const (
	StatusAvailable SessionStatus = "available"
	StatusRequested SessionStatus = "requested"
	StatusScheduled SessionStatus = "scheduled"
	StatusConfirmed SessionStatus = "confirmed"
	StatusCompleted SessionStatus = "completed"
	StatusCancelled SessionStatus = "cancelled"
)

const (
	DefaultDurationMinutes = 60
	DefaultLocation        = "Main Studio"
)

func ParseSessionStatus(value string) (SessionStatus, bool) {
	switch status := SessionStatus(value); status {
	case StatusAvailable, StatusRequested, StatusScheduled,
		StatusConfirmed, StatusCompleted, StatusCancelled:
		return status, true
	default:
		return "", false
	}
}

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceLate    AttendanceStatus = "late"
	AttendanceNoShow  AttendanceStatus = "no_show"
)

func ParseAttendanceStatus(value string) (AttendanceStatus, bool) {
	switch status := AttendanceStatus(value); status {
	case AttendancePresent, AttendanceLate, AttendanceNoShow:
		return status, true
	default:
		return "", false
	}
}

// Attended reports whether the client showed up, which completes the session.
func (a AttendanceStatus) Attended() bool {
	return a == AttendancePresent || a == AttendanceLate
}

// Terminal reports whether no further transition may leave this status.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Session struct {
	ID                 int64         `json:"id"`
	Start              time.Time     `json:"start"`
	End                time.Time     `json:"end"`
	DurationMinutes    int           `json:"duration_minutes"`
	Status             SessionStatus `json:"status"`
	TrainerID          *int64        `json:"trainer_id,omitempty"`
	ClientID           *int64        `json:"user_id,omitempty"`
	Location           string        `json:"location"`
	Notes              string        `json:"notes,omitempty"`
	PrivateNotes       string        `json:"private_notes,omitempty"`
	Confirmed          bool          `json:"confirmed"`
	SessionDeducted    bool          `json:"session_deducted"`
	DeductionDate      *time.Time    `json:"deduction_date,omitempty"`
	BookedAt           *time.Time    `json:"booked_at,omitempty"`
	ConfirmedBy        *int64        `json:"confirmed_by,omitempty"`
	CompletedBy        *int64        `json:"completed_by,omitempty"`
	CancellationReason *string       `json:"cancellation_reason,omitempty"`
	CancelledBy        *int64        `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	RecurringGroupID   *string       `json:"recurring_group_id,omitempty"`

	Attendance   *AttendanceStatus `json:"attendance,omitempty"`
	CheckInAt    *time.Time        `json:"check_in_at,omitempty"`
	AttendanceBy *int64            `json:"attendance_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Overlaps reports whether the half-open intervals [Start, End) intersect.
func (s *Session) Overlaps(start, end time.Time) bool {
	return s.Start.Before(end) && start.Before(s.End)
}

func (s *Session) HasTrainer(trainerID int64) bool {
	return s.TrainerID != nil && *s.TrainerID == trainerID
}

func (s *Session) HasClient(clientID int64) bool {
	return s.ClientID != nil && *s.ClientID == clientID
}

// Clone returns a deep copy so cached snapshots never alias store rows.
func (s Session) Clone() Session {
	out := s
	out.TrainerID = cloneInt64(s.TrainerID)
	out.ClientID = cloneInt64(s.ClientID)
	out.ConfirmedBy = cloneInt64(s.ConfirmedBy)
	out.CompletedBy = cloneInt64(s.CompletedBy)
	out.CancelledBy = cloneInt64(s.CancelledBy)
	out.DeductionDate = cloneTime(s.DeductionDate)
	out.BookedAt = cloneTime(s.BookedAt)
	out.CancelledAt = cloneTime(s.CancelledAt)
	out.CheckInAt = cloneTime(s.CheckInAt)
	out.AttendanceBy = cloneInt64(s.AttendanceBy)
	if s.CancellationReason != nil {
		reason := *s.CancellationReason
		out.CancellationReason = &reason
	}
	if s.RecurringGroupID != nil {
		group := *s.RecurringGroupID
		out.RecurringGroupID = &group
	}
	if s.Attendance != nil {
		attendance := *s.Attendance
		out.Attendance = &attendance
	}
	return out
}

type SessionStats struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Booked    int `json:"booked"`
	Confirmed int `json:"confirmed"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Upcoming  int `json:"upcoming"`
}

// TallySessions counts sessions by status. Available only counts future
// slots; Booked and Upcoming ignore terminal sessions.
func TallySessions(sessions []Session, now time.Time) SessionStats {
	stats := SessionStats{Total: len(sessions)}
	for i := range sessions {
		session := &sessions[i]
		upcoming := session.Start.After(now)
		switch session.Status {
		case StatusAvailable:
			if upcoming {
				stats.Available++
			}
		case StatusConfirmed:
			stats.Confirmed++
		case StatusCompleted:
			stats.Completed++
		case StatusCancelled:
			stats.Cancelled++
		}
		if session.Status.Terminal() {
			continue
		}
		if session.ClientID != nil {
			stats.Booked++
		}
		if upcoming {
			stats.Upcoming++
		}
	}
	return stats
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
