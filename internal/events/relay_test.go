package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/pkg/kafka"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
)

type recordingSink struct {
	events []models.SessionEvent
}

func (s *recordingSink) Publish(_ context.Context, event models.SessionEvent) {
	s.events = append(s.events, event)
}

type stubProducer struct {
	err      error
	messages []kafka.Message
}

func (p *stubProducer) Publish(_ context.Context, msg kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *stubProducer) Close() error { return nil }

func sampleEvent() models.SessionEvent {
	trainerID := int64(10)
	ts := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)
	return models.SessionEvent{
		ID:   "evt-7",
		Type: models.EventConfirmed,
		Session: models.Session{
			ID:        7,
			Status:    models.StatusConfirmed,
			TrainerID: &trainerID,
			Confirmed: true,
			UpdatedAt: ts,
		},
		Timestamp: ts,
	}
}

func TestRelayPublishesKeyedMessage(t *testing.T) {
	producer := &stubProducer{}
	sink := &recordingSink{}
	relay := &Relay{producer: producer, sink: sink, log: logger.Discard()}

	relay.Publish(context.Background(), sampleEvent())

	if len(producer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(producer.messages))
	}
	msg := producer.messages[0]
	if msg.Key != "7" || msg.EventID() != "evt-7" || msg.EventType() != "confirmed" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if len(sink.events) != 0 {
		t.Fatal("local sink must be fed by the consumer, not the publisher")
	}
}

func TestRelayFallsBackToLocalSinkWhenBrokerFails(t *testing.T) {
	producer := &stubProducer{err: errors.New("connection refused")}
	sink := &recordingSink{}
	relay := &Relay{producer: producer, sink: sink, log: logger.Discard()}

	relay.Publish(context.Background(), sampleEvent())

	if len(sink.events) != 1 || sink.events[0].ID != "evt-7" {
		t.Fatalf("expected local delivery, got %+v", sink.events)
	}
}

func TestRelayHandleRoundTrip(t *testing.T) {
	sink := &recordingSink{}
	relay := &Relay{sink: sink, log: logger.Discard()}

	msg, err := encode(sampleEvent())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := relay.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	got := sink.events[0]
	if got.Session.ID != 7 || !got.Session.Confirmed || !got.Timestamp.Equal(sampleEvent().Timestamp) {
		t.Fatalf("unexpected decoded event %+v", got)
	}
}

func TestRelayHandleRejectsGarbage(t *testing.T) {
	sink := &recordingSink{}
	relay := &Relay{sink: sink, log: logger.Discard()}

	tests := []kafka.Message{
		{Key: "1", Value: []byte("not json")},
		{Key: "1", Value: []byte(`{"event_id":"x","type":"booked"}`)},
	}
	for _, msg := range tests {
		err := relay.Handle(context.Background(), msg)
		if !errors.Is(err, kafka.ErrPermanent) {
			t.Fatalf("expected permanent error, got %v", err)
		}
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected nothing delivered, got %+v", sink.events)
	}
}
