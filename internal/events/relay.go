// Package events relays committed session events between server instances
// over Kafka so every instance's sync hub sees every transition.
package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/pkg/kafka"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
)

const (
	schemaVersion = "1"
	source        = "studio-schedule"
)

// Sink receives events decoded from the topic, usually the local sync hub.
type Sink interface {
	Publish(ctx context.Context, event models.SessionEvent)
}

type producer interface {
	Publish(ctx context.Context, msg kafka.Message) error
	Close() error
}

type consumer interface {
	Start(ctx context.Context) error
	Close() error
}

// Relay publishes to the session topic and feeds consumed events to the local
// sink. Each instance consumes with its own group so every instance sees all
// events, its own included.
type Relay struct {
	producer producer
	consumer consumer
	sink     Sink
	log      *logger.Logger
}

func NewRelay(brokers []string, topic, groupPrefix string, sink Sink, log *logger.Logger) (*Relay, error) {
	if log == nil {
		log = logger.Discard()
	}
	cfg := kafka.NewConfig(brokers)

	p, err := kafka.NewProducer(cfg, topic, log)
	if err != nil {
		return nil, fmt.Errorf("create session event producer: %w", err)
	}

	r := &Relay{producer: p, sink: sink, log: log}

	groupID := groupPrefix + "-" + uuid.NewString()
	c, err := kafka.NewConsumer(cfg, topic, groupID, r.Handle, log)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("create session event consumer: %w", err)
	}
	r.consumer = c

	log.Info("session event relay configured", "topic", topic, "group_id", groupID)
	return r, nil
}

// Publish writes event to the topic. When the broker rejects it the event is
// still handed to the local sink so this instance's dashboards stay current.
func (r *Relay) Publish(ctx context.Context, event models.SessionEvent) {
	msg, err := encode(event)
	if err == nil {
		err = r.producer.Publish(ctx, msg)
	}
	if err != nil {
		r.log.Error("publish session event",
			"event_id", event.ID,
			"session_id", event.Session.ID,
			"error", err,
		)
		r.sink.Publish(ctx, event)
	}
}

// Handle is the consumer's message handler.
func (r *Relay) Handle(ctx context.Context, msg kafka.Message) error {
	event, err := decode(msg)
	if err != nil {
		return err
	}
	r.sink.Publish(ctx, event)
	return nil
}

// Run consumes until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	err := r.consumer.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Relay) Close() error {
	return errors.Join(r.consumer.Close(), r.producer.Close())
}

func encode(event models.SessionEvent) (kafka.Message, error) {
	return kafka.NewMessage().
		WithKey(strconv.FormatInt(event.Session.ID, 10)).
		WithValue(event).
		WithEventID(event.ID).
		WithEventType(string(event.Type)).
		WithHeader(kafka.HeaderSchemaVersion, schemaVersion).
		WithSource(source).
		WithTimestamp(event.Timestamp).
		Build()
}

func decode(msg kafka.Message) (models.SessionEvent, error) {
	var event models.SessionEvent
	if err := msg.DecodeValue(&event); err != nil {
		return event, fmt.Errorf("%w: decode session event: %v", kafka.ErrPermanent, err)
	}
	if event.Session.ID == 0 {
		return event, fmt.Errorf("%w: session event %q has no session", kafka.ErrPermanent, event.ID)
	}
	return event, nil
}
