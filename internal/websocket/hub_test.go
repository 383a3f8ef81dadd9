package syncws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
)

func int64Ptr(v int64) *int64 { return &v }

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(logger.Discard())
	go hub.Run()
	t.Cleanup(hub.Close)
	return hub
}

func bookedEvent(id, trainerID, clientID int64) models.SessionEvent {
	ts := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)
	return models.SessionEvent{
		ID:   "evt-1",
		Type: models.EventBooked,
		Session: models.Session{
			ID:           id,
			Status:       models.StatusScheduled,
			TrainerID:    int64Ptr(trainerID),
			ClientID:     int64Ptr(clientID),
			PrivateNotes: "left shoulder",
			UpdatedAt:    ts,
		},
		Timestamp: ts,
	}
}

func receive(t *testing.T, client *Client) (models.SessionEvent, bool) {
	t.Helper()
	select {
	case payload, ok := <-client.send:
		if !ok {
			return models.SessionEvent{}, false
		}
		var event models.SessionEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return event, true
	case <-time.After(200 * time.Millisecond):
		return models.SessionEvent{}, false
	}
}

func TestHubDeliversOnlyVisibleSessions(t *testing.T) {
	hub := startHub(t)

	admin := NewClient(hub, nil, models.Actor{ID: 1, Role: models.RoleAdmin})
	trainer := NewClient(hub, nil, models.Actor{ID: 10, Role: models.RoleTrainer})
	otherTrainer := NewClient(hub, nil, models.Actor{ID: 11, Role: models.RoleTrainer})
	client := NewClient(hub, nil, models.Actor{ID: 20, Role: models.RoleClient})
	otherClient := NewClient(hub, nil, models.Actor{ID: 21, Role: models.RoleClient})
	for _, c := range []*Client{admin, trainer, otherTrainer, client, otherClient} {
		hub.Register(c)
	}

	hub.Publish(context.Background(), bookedEvent(5, 10, 20))

	for _, c := range []*Client{admin, trainer, client} {
		event, ok := receive(t, c)
		if !ok {
			t.Fatalf("expected actor %+v to receive the event", c.actor)
		}
		if event.Session.ID != 5 || event.Type != models.EventBooked {
			t.Fatalf("unexpected event %+v", event)
		}
	}
	for _, c := range []*Client{otherTrainer, otherClient} {
		if _, ok := receive(t, c); ok {
			t.Fatalf("actor %+v must not receive the event", c.actor)
		}
	}
}

func TestHubRedactsPrivateNotesForClients(t *testing.T) {
	hub := startHub(t)

	trainer := NewClient(hub, nil, models.Actor{ID: 10, Role: models.RoleTrainer})
	client := NewClient(hub, nil, models.Actor{ID: 20, Role: models.RoleClient})
	hub.Register(trainer)
	hub.Register(client)

	hub.Publish(context.Background(), bookedEvent(5, 10, 20))

	trainerEvent, ok := receive(t, trainer)
	if !ok || trainerEvent.Session.PrivateNotes != "left shoulder" {
		t.Fatalf("expected trainer to see private notes, got %+v", trainerEvent)
	}
	clientEvent, ok := receive(t, client)
	if !ok || clientEvent.Session.PrivateNotes != "" {
		t.Fatalf("expected client copy to be redacted, got %+v", clientEvent)
	}
}

func TestHubHonorsSubscriptionHint(t *testing.T) {
	hub := startHub(t)

	admin := NewClient(hub, nil, models.Actor{ID: 1, Role: models.RoleAdmin})
	hub.Register(admin)
	admin.handleInbound([]byte(`{"type":"subscribe","trainer_id":11}`))

	hub.Publish(context.Background(), bookedEvent(5, 10, 20))
	if _, ok := receive(t, admin); ok {
		t.Fatal("expected event for trainer 10 to be filtered out")
	}

	admin.handleInbound([]byte(`{"type":"unsubscribe"}`))
	hub.Publish(context.Background(), bookedEvent(6, 10, 20))
	if event, ok := receive(t, admin); !ok || event.Session.ID != 6 {
		t.Fatalf("expected event after unsubscribe, got %+v", event)
	}
}

func TestHubDropsSlowClients(t *testing.T) {
	hub := startHub(t)

	slow := NewClient(hub, nil, models.Actor{ID: 1, Role: models.RoleAdmin})
	hub.Register(slow)

	total := cap(slow.send) + 1
	for i := 0; i < total; i++ {
		hub.Publish(context.Background(), bookedEvent(int64(i+1), 10, 20))
	}

	// A late fast client sees the marker only after the hub worked through the backlog.
	fast := NewClient(hub, nil, models.Actor{ID: 2, Role: models.RoleAdmin})
	fast.send = make(chan []byte, 4*total)
	hub.Register(fast)
	hub.Publish(context.Background(), bookedEvent(999, 10, 20))
	for {
		event, ok := receive(t, fast)
		if !ok {
			t.Fatal("expected fast client to receive the marker event")
		}
		if event.Session.ID == 999 {
			break
		}
	}

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-slow.send:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("expected slow client to be disconnected")
		}
	}
}

func TestClientRejectsUnknownMessages(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, models.Actor{ID: 20, Role: models.RoleClient})
	hub.Register(client)

	client.handleInbound([]byte(`{"type":"book"}`))

	select {
	case payload := <-client.send:
		var msg outboundError
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Type != "error" {
			t.Fatalf("expected error reply, got %s", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an error reply")
	}
}

func TestClientErrorAfterDisconnectIsDiscarded(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, models.Actor{ID: 20, Role: models.RoleClient})
	hub.Register(client)
	hub.Unregister(client)

	client.handleInbound([]byte(`not json`))

	// A frame routed through Run after the round trip proves the error was handled.
	other := NewClient(hub, nil, models.Actor{ID: 1, Role: models.RoleAdmin})
	hub.Register(other)
	other.handleInbound([]byte(`{"type":"book"}`))
	if payload := <-other.send; len(payload) == 0 {
		t.Fatal("expected an error reply for the live client")
	}

	if _, ok := <-client.send; ok {
		t.Fatal("expected the unregistered client to receive nothing")
	}
}

func TestClientErrorAfterHubCloseDoesNotBlock(t *testing.T) {
	hub := NewHub(logger.Discard())
	client := NewClient(hub, nil, models.Actor{ID: 20, Role: models.RoleClient})
	hub.Close()

	done := make(chan struct{})
	go func() {
		// Fill the direct queue so only the done case can unblock writeError.
		for i := 0; i < cap(hub.direct)+1; i++ {
			client.writeError("late")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected writeError to return once the hub is closed")
	}
}

func TestHubRevokesSessionsThatLeaveScope(t *testing.T) {
	hub := startHub(t)

	booker := NewClient(hub, nil, models.Actor{ID: 20, Role: models.RoleClient})
	other := NewClient(hub, nil, models.Actor{ID: 21, Role: models.RoleClient})
	guest := NewClient(hub, nil, models.Actor{Role: models.RoleAnonymous})
	otherTrainer := NewClient(hub, nil, models.Actor{ID: 11, Role: models.RoleTrainer})
	for _, c := range []*Client{booker, other, guest, otherTrainer} {
		hub.Register(c)
	}

	booked := bookedEvent(5, 10, 20)
	previous := booked.Session.Clone()
	previous.Status = models.StatusAvailable
	previous.ClientID = nil
	booked.Previous = &previous
	hub.Publish(context.Background(), booked)

	event, ok := receive(t, booker)
	if !ok || event.Revoked || event.Session.ClientID == nil || event.Previous != nil {
		t.Fatalf("expected booker to receive the full snapshot, got %+v", event)
	}

	for _, c := range []*Client{other, guest} {
		event, ok := receive(t, c)
		if !ok {
			t.Fatalf("expected actor %+v to be told the slot left its view", c.actor)
		}
		if !event.Revoked || event.Session.ID != 5 || event.Type != models.EventUpdated {
			t.Fatalf("expected a revoked update, got %+v", event)
		}
		if event.Session.ClientID != nil || event.Session.TrainerID != nil || event.Session.PrivateNotes != "" {
			t.Fatalf("expected revoked snapshot without participants, got %+v", event.Session)
		}
	}

	if _, ok := receive(t, otherTrainer); ok {
		t.Fatal("a trainer that never saw the session must not be told about it")
	}
}

