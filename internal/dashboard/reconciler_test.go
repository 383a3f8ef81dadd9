package dashboard

import (
	"sync"
	"testing"
	"time"

	"github.com/saeid-a/StudioScheduleBack/internal/models"
)

var t0 = time.Date(2030, 3, 4, 9, 0, 0, 0, time.UTC)

func int64Ptr(v int64) *int64 { return &v }

func event(eventType models.EventType, id int64, status models.SessionStatus, ts time.Time) models.SessionEvent {
	return models.SessionEvent{
		ID:   "evt",
		Type: eventType,
		Session: models.Session{
			ID:        id,
			Start:     t0.Add(24 * time.Hour),
			End:       t0.Add(25 * time.Hour),
			Status:    status,
			UpdatedAt: ts,
		},
		Timestamp: ts,
	}
}

// steppingClock returns a strictly increasing time on every call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	current := t0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func TestReconcilerKeepsNewestSnapshot(t *testing.T) {
	r := NewReconciler(WithClock(steppingClock()))
	t1 := t0.Add(time.Minute)

	if !r.Apply(event(models.EventBooked, 1, models.StatusScheduled, t1)) {
		t.Fatal("expected booked event to apply")
	}
	if r.Apply(event(models.EventUpdated, 1, models.StatusAvailable, t0)) {
		t.Fatal("expected older event to be discarded")
	}

	snapshot, ok := r.Snapshot(1)
	if !ok || snapshot.Status != models.StatusScheduled {
		t.Fatalf("expected the T1 snapshot to remain, got %+v", snapshot)
	}
}

func TestReconcilerIsIdempotent(t *testing.T) {
	r := NewReconciler(WithClock(steppingClock()))
	booked := event(models.EventBooked, 1, models.StatusScheduled, t0)

	r.Apply(booked)
	first := r.Sessions()
	syncAfterFirst := r.LastSync()

	if r.Apply(booked) {
		t.Fatal("expected duplicate event to be discarded")
	}
	second := r.Sessions()
	if len(first) != 1 || len(second) != 1 || first[0].Status != second[0].Status {
		t.Fatalf("expected identical state, got %+v and %+v", first, second)
	}
	if !r.LastSync().Equal(syncAfterFirst) {
		t.Fatal("expected discarded event to leave last sync untouched")
	}
}

func TestReconcilerUpsertsCancelledSessions(t *testing.T) {
	r := NewReconciler()
	reason := "injury"

	r.Apply(event(models.EventBooked, 1, models.StatusScheduled, t0))
	cancelled := event(models.EventCancelled, 1, models.StatusCancelled, t0.Add(time.Minute))
	cancelled.Session.CancellationReason = &reason
	r.Apply(cancelled)

	snapshot, ok := r.Snapshot(1)
	if !ok {
		t.Fatal("expected cancelled session to stay in the cache")
	}
	if snapshot.Status != models.StatusCancelled || *snapshot.CancellationReason != "injury" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	<-r.Notifications() // booked
	n := <-r.Notifications()
	if n.Type != models.EventCancelled || n.Message != "Session 1 cancelled: injury" {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestReconcilerLastSyncIsMonotonic(t *testing.T) {
	times := []time.Time{t0.Add(time.Hour), t0, t0.Add(2 * time.Hour)}
	var i int
	r := NewReconciler(WithClock(func() time.Time {
		now := times[i%len(times)]
		i++
		return now
	}))

	r.Apply(event(models.EventCreated, 1, models.StatusAvailable, t0))
	r.Apply(event(models.EventCreated, 2, models.StatusAvailable, t0))
	if !r.LastSync().Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected last sync to hold at the later time, got %s", r.LastSync())
	}
	r.Apply(event(models.EventCreated, 3, models.StatusAvailable, t0))
	if !r.LastSync().Equal(t0.Add(2 * time.Hour)) {
		t.Fatalf("expected last sync to advance, got %s", r.LastSync())
	}
}

func TestReconcilerDropsNotificationsWhenFull(t *testing.T) {
	r := NewReconciler(WithNotificationBuffer(1))

	r.Apply(event(models.EventCreated, 1, models.StatusAvailable, t0))
	r.Apply(event(models.EventCreated, 2, models.StatusAvailable, t0))

	if len(r.Sessions()) != 2 {
		t.Fatal("expected both events in the cache")
	}
	if n := <-r.Notifications(); n.SessionID != 1 {
		t.Fatalf("expected first notification to survive, got %+v", n)
	}
	select {
	case n := <-r.Notifications():
		t.Fatalf("expected overflow to be dropped, got %+v", n)
	default:
	}
}

func TestReconcilerChangedClosesOnApply(t *testing.T) {
	r := NewReconciler()
	changed := r.Changed()

	r.Apply(event(models.EventBooked, 1, models.StatusScheduled, t0))
	select {
	case <-changed:
	default:
		t.Fatal("expected sync point to fire")
	}

	next := r.Changed()
	r.Apply(event(models.EventBooked, 1, models.StatusScheduled, t0))
	select {
	case <-next:
		t.Fatal("expected stale event not to fire the sync point")
	default:
	}
}

func TestReconcilerSeedIsSilent(t *testing.T) {
	r := NewReconciler()
	seeded := event(models.EventBooked, 1, models.StatusConfirmed, t0.Add(time.Minute)).Session
	seeded.ClientID = int64Ptr(20)

	if n := r.Seed([]models.Session{seeded}, r.Mark()); n != 1 {
		t.Fatalf("expected one seeded session, got %d", n)
	}
	if r.LastSync().IsZero() {
		t.Fatal("expected seeding to mark a sync")
	}
	select {
	case n := <-r.Notifications():
		t.Fatalf("expected no notification from seeding, got %+v", n)
	default:
	}

	// A late event older than the seed must not roll it back.
	r.Apply(event(models.EventBooked, 1, models.StatusScheduled, t0))
	if snapshot, _ := r.Snapshot(1); snapshot.Status != models.StatusConfirmed {
		t.Fatalf("expected seeded snapshot to win, got %s", snapshot.Status)
	}

	stats := r.Stats()
	if stats.Total != 1 || stats.Confirmed != 1 || stats.Booked != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestReconcilerConnectionWatchers(t *testing.T) {
	r := NewReconciler()
	watch, cancel := r.WatchConnection()

	if connected := <-watch; connected {
		t.Fatal("expected initial status to be disconnected")
	}

	r.SetConnected(true)
	r.SetConnected(true)
	if connected := <-watch; !connected || !r.Connected() {
		t.Fatal("expected connected status")
	}
	select {
	case v := <-watch:
		t.Fatalf("expected repeated status to be suppressed, got %v", v)
	default:
	}

	// A slow watcher only sees the latest value.
	r.SetConnected(false)
	r.SetConnected(true)
	if connected := <-watch; !connected {
		t.Fatal("expected the latest status")
	}

	cancel()
	cancel()
	if _, ok := <-watch; ok {
		t.Fatal("expected watcher to be closed")
	}
	r.SetConnected(false)
}

func TestReconcilerSeedDropsRowsMissingFromList(t *testing.T) {
	r := NewReconciler(WithClock(steppingClock()))
	r.Apply(event(models.EventCreated, 1, models.StatusAvailable, t0))
	r.Apply(event(models.EventCreated, 2, models.StatusAvailable, t0))

	mark := r.Mark()
	// Arrives while the list query is in flight.
	r.Apply(event(models.EventCreated, 3, models.StatusAvailable, t0.Add(time.Minute)))

	kept := event(models.EventCreated, 2, models.StatusAvailable, t0).Session
	if n := r.Seed([]models.Session{kept}, mark); n != 1 {
		t.Fatalf("expected one dropped row, got %d", n)
	}
	if _, ok := r.Snapshot(1); ok {
		t.Fatal("expected session 1 to be dropped after a seed that omits it")
	}
	if _, ok := r.Snapshot(2); !ok {
		t.Fatal("expected listed session 2 to remain")
	}
	if _, ok := r.Snapshot(3); !ok {
		t.Fatal("expected session 3 written after the mark to survive")
	}

	if n := r.Seed(nil, r.Mark()); n != 2 {
		t.Fatalf("expected an empty list to clear the cache, got %d", n)
	}
	if len(r.Sessions()) != 0 {
		t.Fatalf("expected empty cache, got %+v", r.Sessions())
	}
}

func TestReconcilerRevokedEventRemovesRow(t *testing.T) {
	r := NewReconciler(WithClock(steppingClock()))
	r.Apply(event(models.EventCreated, 5, models.StatusAvailable, t0))

	revoked := event(models.EventUpdated, 5, models.StatusScheduled, t0.Add(time.Minute))
	revoked.Revoked = true
	if !r.Apply(revoked) {
		t.Fatal("expected revoked event to apply")
	}
	if _, ok := r.Snapshot(5); ok {
		t.Fatal("expected revoked session to leave the cache")
	}
	select {
	case n := <-r.Notifications():
		if n.SessionID != 5 {
			t.Fatalf("unexpected notification %+v", n)
		}
	default:
	}

	// A delayed snapshot from before the revocation must not bring it back.
	if r.Apply(event(models.EventUpdated, 5, models.StatusAvailable, t0.Add(30*time.Second))) {
		t.Fatal("expected stale upsert after revocation to be discarded")
	}
	if r.Apply(revoked) {
		t.Fatal("expected duplicate revocation to be discarded")
	}

	// The slot can come back into view later, e.g. after a cancellation.
	if !r.Apply(event(models.EventCancelled, 5, models.StatusCancelled, t0.Add(2*time.Minute))) {
		t.Fatal("expected newer snapshot to restore the row")
	}
}
