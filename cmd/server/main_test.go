package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saeid-a/StudioScheduleBack/internal/config"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/repository"
	"github.com/saeid-a/StudioScheduleBack/internal/services"
	"github.com/saeid-a/StudioScheduleBack/pkg/apperrors"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
)

func TestMemoryDirectoryBacksParticipantChecks(t *testing.T) {
	directory := memoryDirectory([]config.UserSeed{
		{ID: 1, Role: "admin"},
		{ID: 10, Role: "trainer", Email: "trainer@studio.test"},
		{ID: 20, Role: "client"},
	})

	trainers, err := directory.ListByRole(context.Background(), "trainer")
	if err != nil || len(trainers) != 1 || trainers[0].Email != "trainer@studio.test" {
		t.Fatalf("unexpected trainers %+v (%v)", trainers, err)
	}

	service := services.NewSessionService(repository.NewMemorySessionStore(), directory, nil, nil, logger.Discard())
	admin := models.Actor{ID: 1, Role: models.RoleAdmin}

	slot := services.SlotInput{Start: time.Now().Add(48 * time.Hour), TrainerID: int64Ptr(10), ClientID: int64Ptr(99)}
	_, err = service.CreateSessions(context.Background(), admin, []services.SlotInput{slot})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected unknown client to be rejected, got %v", err)
	}

	slot.ClientID = int64Ptr(20)
	if _, err := service.CreateSessions(context.Background(), admin, []services.SlotInput{slot}); err != nil {
		t.Fatalf("expected seeded participants to be accepted, got %v", err)
	}

	listed, err := service.ListTrainers(context.Background(), admin)
	if err != nil || len(listed) != 1 || listed[0].ID != 10 {
		t.Fatalf("expected seeded trainer from the service, got %+v (%v)", listed, err)
	}
}

func int64Ptr(v int64) *int64 { return &v }
