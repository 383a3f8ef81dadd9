// Package dashboard keeps a dashboard's local view of sessions in step with
// the server's event stream.
package dashboard

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/saeid-a/StudioScheduleBack/internal/models"
)

const defaultNotificationBuffer = 32

// Notification describes one applied change for banner or toast output.
type Notification struct {
	Type      models.EventType
	SessionID int64
	Status    models.SessionStatus
	Message   string
	Timestamp time.Time
}

type entry struct {
	session models.Session
	at      time.Time
	version uint64
}

// Reconciler is a keyed cache of session snapshots. Every event is a full
// upsert; an event is applied only when it is newer than the cached one.
type Reconciler struct {
	mu        sync.RWMutex
	sessions  map[int64]entry
	version   uint64
	removed   map[int64]time.Time
	lastSync  time.Time
	changed   chan struct{}
	connected bool
	watchers  map[int]chan bool
	nextWatch int

	notifications chan Notification
	now           func() time.Time
}

type Option func(*Reconciler)

// WithClock replaces the wall clock used for the last-sync time.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithNotificationBuffer sets how many notifications may queue before new
// ones are dropped.
func WithNotificationBuffer(size int) Option {
	return func(r *Reconciler) {
		if size > 0 {
			r.notifications = make(chan Notification, size)
		}
	}
}

func NewReconciler(opts ...Option) *Reconciler {
	r := &Reconciler{
		sessions:      make(map[int64]entry),
		removed:       make(map[int64]time.Time),
		changed:       make(chan struct{}),
		watchers:      make(map[int]chan bool),
		notifications: make(chan Notification, defaultNotificationBuffer),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply merges event into the cache and reports whether it changed anything.
// Stale and duplicate events are discarded silently. A revoked event removes
// the row: the session left this viewer's scope.
func (r *Reconciler) Apply(event models.SessionEvent) bool {
	if event.Session.ID == 0 {
		return false
	}
	at := eventTime(event)

	r.mu.Lock()
	var applied bool
	if event.Revoked {
		applied = r.removeLocked(event.Session.ID, at)
	} else {
		applied = r.upsertLocked(event.Session, at)
	}
	if applied {
		r.markSyncedLocked()
	}
	r.mu.Unlock()

	if applied {
		r.notify(Notification{
			Type:      event.Type,
			SessionID: event.Session.ID,
			Status:    event.Session.Status,
			Message:   describe(event),
			Timestamp: at,
		})
	}
	return applied
}

// Mark returns the cache version. Pass it to Seed to keep rows that events
// wrote after the list query was issued.
func (r *Reconciler) Mark() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Seed replaces the cache with a list query's result, typically after every
// (re)connect. Listed rows follow the newer-wins rule; cached rows missing
// from the list are dropped unless an event wrote them after mark. Seeding
// emits no notifications. It returns the number of rows taken or dropped.
func (r *Reconciler) Seed(sessions []models.Session, mark uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	listed := make(map[int64]struct{}, len(sessions))
	applied := 0
	for _, session := range sessions {
		if session.ID == 0 {
			continue
		}
		listed[session.ID] = struct{}{}
		delete(r.removed, session.ID)
		if r.upsertLocked(session, session.UpdatedAt) {
			applied++
		}
	}
	for id, current := range r.sessions {
		if _, ok := listed[id]; ok || current.version > mark {
			continue
		}
		delete(r.sessions, id)
		applied++
	}
	if applied > 0 {
		r.markSyncedLocked()
	}
	return applied
}

func (r *Reconciler) upsertLocked(session models.Session, at time.Time) bool {
	if current, ok := r.sessions[session.ID]; ok && !at.After(current.at) {
		return false
	}
	if gone, ok := r.removed[session.ID]; ok {
		if !at.After(gone) {
			return false
		}
		delete(r.removed, session.ID)
	}
	r.version++
	r.sessions[session.ID] = entry{session: session.Clone(), at: at, version: r.version}
	return true
}

// removeLocked drops the row unless the cache already holds a newer one. The
// removal time is kept so a late upsert from before it cannot resurrect the row.
func (r *Reconciler) removeLocked(id int64, at time.Time) bool {
	if current, ok := r.sessions[id]; ok && at.Before(current.at) {
		return false
	}
	if gone, ok := r.removed[id]; ok && !at.After(gone) {
		return false
	}
	r.removed[id] = at
	r.version++
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// markSyncedLocked advances the last-sync time and wakes sync-point waiters.
func (r *Reconciler) markSyncedLocked() {
	now := r.now()
	if now.After(r.lastSync) {
		r.lastSync = now
	}
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *Reconciler) notify(n Notification) {
	select {
	case r.notifications <- n:
	default:
	}
}

// Snapshot returns the cached session, if any.
func (r *Reconciler) Snapshot(id int64) (models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	current, ok := r.sessions[id]
	if !ok {
		return models.Session{}, false
	}
	return current.session.Clone(), true
}

// Sessions returns every cached snapshot ordered by start time.
func (r *Reconciler) Sessions() []models.Session {
	r.mu.RLock()
	out := make([]models.Session, 0, len(r.sessions))
	for _, current := range r.sessions {
		out = append(out, current.session.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

func (r *Reconciler) Stats() models.SessionStats {
	return models.TallySessions(r.Sessions(), r.now())
}

// LastSync is the wall time of the most recent applied change. It never
// moves backwards.
func (r *Reconciler) LastSync() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSync
}

// Changed returns a channel that is closed on the next applied change.
// Callers re-read it after each wake-up.
func (r *Reconciler) Changed() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.changed
}

// Notifications delivers change descriptions. When the reader falls behind
// new notifications are dropped; the cache itself is never affected.
func (r *Reconciler) Notifications() <-chan Notification {
	return r.notifications
}

// SetConnected records the sync channel's liveness and informs watchers.
func (r *Reconciler) SetConnected(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected == connected {
		return
	}
	r.connected = connected
	for _, watcher := range r.watchers {
		// Keep only the latest value for slow watchers.
		select {
		case <-watcher:
		default:
		}
		watcher <- connected
	}
}

func (r *Reconciler) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// WatchConnection returns a channel carrying the current status followed by
// every change, and a cancel func that stops and closes it.
func (r *Reconciler) WatchConnection() (<-chan bool, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextWatch
	r.nextWatch++
	watcher := make(chan bool, 1)
	watcher <- r.connected
	r.watchers[id] = watcher

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers, id)
			r.mu.Unlock()
			close(watcher)
		})
	}
	return watcher, cancel
}

func eventTime(event models.SessionEvent) time.Time {
	if !event.Timestamp.IsZero() {
		return event.Timestamp
	}
	return event.Session.UpdatedAt
}

func describe(event models.SessionEvent) string {
	session := event.Session
	if event.Revoked {
		return fmt.Sprintf("Session %d is no longer available", session.ID)
	}
	when := session.Start.Format("Mon Jan 2 15:04")
	switch event.Type {
	case models.EventCreated:
		return fmt.Sprintf("New session available %s", when)
	case models.EventBooked:
		return fmt.Sprintf("Session %d booked for %s", session.ID, when)
	case models.EventConfirmed:
		return fmt.Sprintf("Session %d confirmed for %s", session.ID, when)
	case models.EventCompleted:
		return fmt.Sprintf("Session %d completed", session.ID)
	case models.EventCancelled:
		if session.CancellationReason != nil && *session.CancellationReason != "" {
			return fmt.Sprintf("Session %d cancelled: %s", session.ID, *session.CancellationReason)
		}
		return fmt.Sprintf("Session %d cancelled", session.ID)
	default:
		return fmt.Sprintf("Session %d updated (%s)", session.ID, session.Status)
	}
}
