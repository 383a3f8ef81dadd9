package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/pkg/apperrors"
)

func TestUnassignTrainerRevertsConfirmation(t *testing.T) {
	f := newServiceFixture(t)
	open := f.createSlot(t, trainerA, slotAt(1, 9))
	booked := f.createSlot(t, trainerA, slotAt(1, 11))
	if _, err := f.service.BookSession(context.Background(), clientA, booked.ID, 0); err != nil {
		t.Fatalf("BookSession: %v", err)
	}
	if _, err := f.service.ConfirmSession(context.Background(), trainerA, booked.ID); err != nil {
		t.Fatalf("ConfirmSession: %v", err)
	}

	updated, err := f.service.UnassignTrainer(context.Background(), adminActor, []int64{open.ID, booked.ID})
	if err != nil {
		t.Fatalf("UnassignTrainer: %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(updated))
	}
	for _, session := range updated {
		if session.TrainerID != nil {
			t.Fatalf("expected trainer cleared on session %d", session.ID)
		}
	}
	if updated[1].Status != models.StatusScheduled || updated[1].Confirmed || updated[1].ConfirmedBy != nil {
		t.Fatalf("expected confirmation reverted, got %+v", updated[1])
	}
	if updated[0].Status != models.StatusAvailable {
		t.Fatalf("expected open slot to stay available, got %q", updated[0].Status)
	}

	_, err = f.service.UnassignTrainer(context.Background(), trainerA, []int64{open.ID})
	assertErrorIs(t, err, apperrors.ErrForbidden)
}

func TestBulkAssignTrainerIsAllOrNothing(t *testing.T) {
	f := newServiceFixture(t)
	first := f.createSlot(t, adminActor, slotAt(1, 9))
	second := f.createSlot(t, adminActor, slotAt(1, 11))
	f.createSlot(t, trainerB, slotAt(1, 11))

	_, err := f.service.BulkAssignTrainer(context.Background(), adminActor, []int64{first.ID, second.ID}, trainerB.ID)
	assertErrorIs(t, err, apperrors.ErrConflict)
	var batchErr *apperrors.BatchError
	if !errors.As(err, &batchErr) || batchErr.Index != 1 {
		t.Fatalf("expected failure at index 1, got %v", err)
	}

	stored, _ := f.store.GetByID(context.Background(), first.ID)
	if stored.TrainerID != nil {
		t.Fatalf("expected first assignment rolled back, got trainer %d", *stored.TrainerID)
	}

	updated, err := f.service.BulkAssignTrainer(context.Background(), adminActor, []int64{first.ID, second.ID}, trainerA.ID)
	if err != nil {
		t.Fatalf("BulkAssignTrainer: %v", err)
	}
	for _, session := range updated {
		if !session.HasTrainer(trainerA.ID) {
			t.Fatalf("expected trainer %d on session %d", trainerA.ID, session.ID)
		}
	}
}

func TestBulkCommandsCheckIDs(t *testing.T) {
	f := newServiceFixture(t)
	slot := f.createSlot(t, trainerA, slotAt(1, 9))

	tooMany := make([]int64, MaxBulkSessions+1)
	for i := range tooMany {
		tooMany[i] = int64(i + 1)
	}

	cases := map[string][]int64{
		"empty":     nil,
		"duplicate": {slot.ID, slot.ID},
		"zero":      {0},
		"too many":  tooMany,
	}
	for name, ids := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.BulkCancel(context.Background(), adminActor, ids, "")
			assertErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestBulkCancelRefusesBookedSessions(t *testing.T) {
	f := newServiceFixture(t)
	open := f.createSlot(t, trainerA, slotAt(1, 9))
	booked := f.createSlot(t, trainerA, slotAt(1, 11))
	if _, err := f.service.BookSession(context.Background(), clientA, booked.ID, 0); err != nil {
		t.Fatalf("BookSession: %v", err)
	}

	_, err := f.service.BulkCancel(context.Background(), adminActor, []int64{open.ID, booked.ID}, "")
	assertErrorIs(t, err, apperrors.ErrConflict)
	stored, _ := f.store.GetByID(context.Background(), open.ID)
	if stored.Status != models.StatusAvailable {
		t.Fatalf("expected open slot untouched, got %q", stored.Status)
	}

	cancelled, err := f.service.BulkCancel(context.Background(), adminActor, []int64{open.ID}, "  ")
	if err != nil {
		t.Fatalf("BulkCancel: %v", err)
	}
	if cancelled[0].Status != models.StatusCancelled || *cancelled[0].CancellationReason != defaultCancellationReason {
		t.Fatalf("unexpected cancelled session %+v", cancelled[0])
	}
}

func createClientSeries(t *testing.T, f *serviceFixture) []models.Session {
	t.Helper()
	created, err := f.service.CreateRecurring(context.Background(), adminActor, RecurringPattern{
		StartDate:  "2030-01-07",
		EndDate:    "2030-01-20",
		DaysOfWeek: []int{1, 3},
		Times:      []string{"09:00"},
		TrainerID:  int64Ptr(trainerA.ID),
		ClientID:   int64Ptr(clientA.ID),
	})
	if err != nil {
		t.Fatalf("CreateRecurring: %v", err)
	}
	if len(created) != 4 {
		t.Fatalf("expected 4 sessions, got %d", len(created))
	}
	return created
}

func TestCreateRecurringSharesGroupID(t *testing.T) {
	f := newServiceFixture(t)
	created := createClientSeries(t, f)

	groupID := created[0].RecurringGroupID
	if groupID == nil || *groupID == "" {
		t.Fatal("expected a series id")
	}
	for _, session := range created {
		if session.RecurringGroupID == nil || *session.RecurringGroupID != *groupID {
			t.Fatalf("expected session %d in series %s", session.ID, *groupID)
		}
		if !session.HasClient(clientA.ID) || session.Status != models.StatusScheduled {
			t.Fatalf("expected scheduled session for client, got %+v", session)
		}
	}

	single := f.createSlot(t, trainerA, slotAt(1, 14))
	if single.RecurringGroupID != nil {
		t.Fatalf("expected one-off slot outside any series, got %s", *single.RecurringGroupID)
	}
}

func TestCancelSeriesSkipsClosedSessions(t *testing.T) {
	f := newServiceFixture(t)
	created := createClientSeries(t, f)
	groupID := *created[0].RecurringGroupID
	if _, err := f.service.CompleteSession(context.Background(), trainerA, created[0].ID, ""); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	cancelled, err := f.service.CancelSeries(context.Background(), clientA, groupID, "")
	if err != nil {
		t.Fatalf("CancelSeries: %v", err)
	}
	if len(cancelled) != 3 {
		t.Fatalf("expected 3 cancelled sessions, got %d", len(cancelled))
	}
	for _, session := range cancelled {
		if session.Status != models.StatusCancelled || *session.CancellationReason != defaultSeriesCancellationReason {
			t.Fatalf("unexpected session %+v", session)
		}
	}
	stored, _ := f.store.GetByID(context.Background(), created[0].ID)
	if stored.Status != models.StatusCompleted {
		t.Fatalf("expected completed session untouched, got %q", stored.Status)
	}

	_, err = f.service.CancelSeries(context.Background(), clientA, groupID, "")
	assertErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCancelSeriesOnlyReachesOwnSessions(t *testing.T) {
	f := newServiceFixture(t)
	created := createClientSeries(t, f)
	groupID := *created[0].RecurringGroupID

	_, err := f.service.CancelSeries(context.Background(), clientB, groupID, "")
	assertErrorIs(t, err, apperrors.ErrNotFound)
	_, err = f.service.CancelSeries(context.Background(), trainerB, groupID, "")
	assertErrorIs(t, err, apperrors.ErrNotFound)
	_, err = f.service.CancelSeries(context.Background(), anonymousUser, groupID, "")
	assertErrorIs(t, err, apperrors.ErrForbidden)
}

func TestUpdateSeriesChangesRemainingSessions(t *testing.T) {
	f := newServiceFixture(t)
	created := createClientSeries(t, f)
	groupID := *created[0].RecurringGroupID
	location := "Studio B"

	_, err := f.service.UpdateSeries(context.Background(), trainerA, groupID, SeriesUpdate{Location: &location})
	assertErrorIs(t, err, apperrors.ErrForbidden)
	_, err = f.service.UpdateSeries(context.Background(), adminActor, groupID, SeriesUpdate{})
	assertErrorIs(t, err, apperrors.ErrValidation)

	updated, err := f.service.UpdateSeries(context.Background(), adminActor, groupID, SeriesUpdate{Location: &location})
	if err != nil {
		t.Fatalf("UpdateSeries: %v", err)
	}
	if len(updated) != 4 {
		t.Fatalf("expected 4 sessions, got %d", len(updated))
	}
	for _, session := range updated {
		if session.Location != location || session.RecurringGroupID == nil || *session.RecurringGroupID != groupID {
			t.Fatalf("unexpected session %+v", session)
		}
	}
}

func TestListRecurringGroupsBySeries(t *testing.T) {
	f := newServiceFixture(t)
	created := createClientSeries(t, f)
	if _, err := f.service.CancelSession(context.Background(), clientA, created[3].ID, ""); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	_, err := f.service.CreateRecurring(context.Background(), trainerB, RecurringPattern{
		StartDate:  "2030-01-08",
		EndDate:    "2030-01-08",
		DaysOfWeek: []int{2},
		Times:      []string{"10:00"},
	})
	if err != nil {
		t.Fatalf("CreateRecurring: %v", err)
	}
	f.createSlot(t, trainerA, slotAt(1, 14))

	groups, err := f.service.ListRecurring(context.Background(), clientA)
	if err != nil {
		t.Fatalf("ListRecurring: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected only the client's series, got %d", len(groups))
	}
	group := groups[0]
	if group.GroupID != *created[0].RecurringGroupID || len(group.Sessions) != 4 {
		t.Fatalf("unexpected group %+v", group)
	}
	if group.Upcoming != 3 || group.Cancelled != 1 || group.Completed != 0 {
		t.Fatalf("unexpected counts %+v", group)
	}

	all, err := f.service.ListRecurring(context.Background(), adminActor)
	if err != nil {
		t.Fatalf("ListRecurring: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 series for admin, got %d", len(all))
	}
}

func TestUpdateNotesReplacesPrivateNotes(t *testing.T) {
	f := newServiceFixture(t)
	slot := f.createSlot(t, trainerA, slotAt(1, 9))
	if _, err := f.service.BookSession(context.Background(), clientA, slot.ID, 0); err != nil {
		t.Fatalf("BookSession: %v", err)
	}
	if _, err := f.service.CompleteSession(context.Background(), trainerA, slot.ID, "first"); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	updated, err := f.service.UpdateNotes(context.Background(), trainerA, slot.ID, "rewritten")
	if err != nil {
		t.Fatalf("UpdateNotes: %v", err)
	}
	if updated.PrivateNotes != "rewritten" || updated.Status != models.StatusCompleted {
		t.Fatalf("unexpected session %+v", updated)
	}

	_, err = f.service.UpdateNotes(context.Background(), trainerB, slot.ID, "no")
	assertErrorIs(t, err, apperrors.ErrNotFound)
	_, err = f.service.UpdateNotes(context.Background(), clientA, slot.ID, "no")
	assertErrorIs(t, err, apperrors.ErrForbidden)
}

func TestCancelWarningUsesNoticeWindow(t *testing.T) {
	f := newServiceFixture(t)
	soon := f.createSlot(t, trainerA, slotAt(0, 9))
	later := f.createSlot(t, trainerA, slotAt(2, 9))
	for _, id := range []int64{soon.ID, later.ID} {
		if _, err := f.service.BookSession(context.Background(), clientA, id, 0); err != nil {
			t.Fatalf("BookSession: %v", err)
		}
	}

	notice, err := f.service.CancelWarning(context.Background(), clientA, soon.ID)
	if err != nil {
		t.Fatalf("CancelWarning: %v", err)
	}
	if !notice.CanCancel || !notice.Late || notice.HoursUntil != 1 || notice.NoticeHours != 24 {
		t.Fatalf("unexpected notice %+v", notice)
	}

	notice, err = f.service.CancelWarning(context.Background(), clientA, later.ID)
	if err != nil {
		t.Fatalf("CancelWarning: %v", err)
	}
	if notice.Late || notice.HoursUntil != 49 {
		t.Fatalf("unexpected notice %+v", notice)
	}

	f.service.WithCancellationNotice(72 * time.Hour)
	notice, err = f.service.CancelWarning(context.Background(), clientA, later.ID)
	if err != nil {
		t.Fatalf("CancelWarning: %v", err)
	}
	if !notice.Late {
		t.Fatalf("expected late under a 72h window, got %+v", notice)
	}

	_, err = f.service.CancelWarning(context.Background(), clientB, later.ID)
	assertErrorIs(t, err, apperrors.ErrNotFound)

	if _, err := f.service.CancelSession(context.Background(), clientA, later.ID, ""); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	_, err = f.service.CancelWarning(context.Background(), clientA, later.ID)
	assertErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestRecordAttendancePresentCompletes(t *testing.T) {
	f := newServiceFixture(t)
	slot := f.createSlot(t, trainerA, slotAt(0, 9))
	if _, err := f.service.BookSession(context.Background(), clientA, slot.ID, 0); err != nil {
		t.Fatalf("BookSession: %v", err)
	}
	<-f.accrual.calls

	checkIn := testNow.Add(55 * time.Minute)
	session, err := f.service.RecordAttendance(context.Background(), trainerA, slot.ID, AttendanceInput{
		Status:    "late",
		CheckInAt: &checkIn,
		Notes:     "arrived after warmup",
	})
	if err != nil {
		t.Fatalf("RecordAttendance: %v", err)
	}
	if session.Status != models.StatusCompleted || !session.SessionDeducted {
		t.Fatalf("expected completed and deducted, got %+v", session)
	}
	if session.Attendance == nil || *session.Attendance != models.AttendanceLate {
		t.Fatalf("expected late attendance, got %v", session.Attendance)
	}
	if session.CheckInAt == nil || !session.CheckInAt.Equal(checkIn) || session.AttendanceBy == nil || *session.AttendanceBy != trainerA.ID {
		t.Fatalf("unexpected attendance audit %+v", session)
	}

	accrual := <-f.accrual.calls
	if accrual.UserID != clientA.ID {
		t.Fatalf("expected completion accrual for client, got %+v", accrual)
	}
	events := f.publisher.snapshot()
	if last := events[len(events)-1]; last.Type != models.EventCompleted {
		t.Fatalf("expected completed event, got %s", last.Type)
	}

	_, err = f.service.RecordAttendance(context.Background(), trainerA, slot.ID, AttendanceInput{Status: "present"})
	assertErrorIs(t, err, apperrors.ErrConflict)
}

func TestRecordAttendanceNoShowKeepsSessionOpen(t *testing.T) {
	f := newServiceFixture(t)
	slot := f.createSlot(t, trainerA, slotAt(0, 9))
	if _, err := f.service.BookSession(context.Background(), clientA, slot.ID, 0); err != nil {
		t.Fatalf("BookSession: %v", err)
	}

	session, err := f.service.RecordAttendance(context.Background(), adminActor, slot.ID, AttendanceInput{Status: "no_show", Notes: "no call"})
	if err != nil {
		t.Fatalf("RecordAttendance: %v", err)
	}
	if session.Status != models.StatusScheduled || session.SessionDeducted || session.CheckInAt != nil {
		t.Fatalf("expected open session without deduction, got %+v", session)
	}
	if session.PrivateNotes != "no call" {
		t.Fatalf("expected note stored privately, got %q", session.PrivateNotes)
	}
	events := f.publisher.snapshot()
	if last := events[len(events)-1]; last.Type != models.EventUpdated {
		t.Fatalf("expected updated event, got %s", last.Type)
	}
}

func TestRecordAttendanceChecks(t *testing.T) {
	f := newServiceFixture(t)
	open := f.createSlot(t, trainerA, slotAt(0, 9))
	booked := f.createSlot(t, trainerA, slotAt(0, 11))
	if _, err := f.service.BookSession(context.Background(), clientA, booked.ID, 0); err != nil {
		t.Fatalf("BookSession: %v", err)
	}

	_, err := f.service.RecordAttendance(context.Background(), trainerA, booked.ID, AttendanceInput{Status: "absent"})
	assertErrorIs(t, err, apperrors.ErrValidation)
	_, err = f.service.RecordAttendance(context.Background(), trainerA, open.ID, AttendanceInput{Status: "present"})
	assertErrorIs(t, err, apperrors.ErrPreconditionFailed)
	_, err = f.service.RecordAttendance(context.Background(), clientA, booked.ID, AttendanceInput{Status: "present"})
	assertErrorIs(t, err, apperrors.ErrForbidden)
	_, err = f.service.RecordAttendance(context.Background(), trainerB, booked.ID, AttendanceInput{Status: "present"})
	assertErrorIs(t, err, apperrors.ErrNotFound)
}
