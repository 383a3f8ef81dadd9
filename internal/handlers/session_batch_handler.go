package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/services"
	"github.com/saeid-a/StudioScheduleBack/pkg/apperrors"
)

type sessionIDsRequest struct {
	SessionIDs []int64 `json:"session_ids"`
	TrainerID  int64   `json:"trainer_id,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (h *SessionHandler) UnassignTrainer(c *fiber.Ctx) error {
	return h.batch(c, func(c *fiber.Ctx, actor models.Actor, req sessionIDsRequest) ([]models.Session, error) {
		ctx, cancel := h.requestContext(c)
		defer cancel()
		return h.service.UnassignTrainer(ctx, actor, req.SessionIDs)
	})
}

func (h *SessionHandler) BulkAssignTrainer(c *fiber.Ctx) error {
	return h.batch(c, func(c *fiber.Ctx, actor models.Actor, req sessionIDsRequest) ([]models.Session, error) {
		ctx, cancel := h.requestContext(c)
		defer cancel()
		return h.service.BulkAssignTrainer(ctx, actor, req.SessionIDs, req.TrainerID)
	})
}

func (h *SessionHandler) BulkCancel(c *fiber.Ctx) error {
	return h.batch(c, func(c *fiber.Ctx, actor models.Actor, req sessionIDsRequest) ([]models.Session, error) {
		ctx, cancel := h.requestContext(c)
		defer cancel()
		return h.service.BulkCancel(ctx, actor, req.SessionIDs, strings.TrimSpace(req.Reason))
	})
}

func (h *SessionHandler) batch(c *fiber.Ctx, run func(*fiber.Ctx, models.Actor, sessionIDsRequest) ([]models.Session, error)) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	var req sessionIDsRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	sessions, err := run(c, actor, req)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"sessions": sessions, "count": len(sessions)})
}

func (h *SessionHandler) ListRecurring(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	groups, err := h.service.ListRecurring(ctx, actor)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"series": groups, "count": len(groups)})
}

func (h *SessionHandler) UpdateSeries(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	var update services.SeriesUpdate
	if err := c.BodyParser(&update); err != nil {
		return invalidBody(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	sessions, err := h.service.UpdateSeries(ctx, actor, c.Params("groupId"), update)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"sessions": sessions, "count": len(sessions)})
}

func (h *SessionHandler) CancelSeries(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	var req cancelSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return invalidBody(c)
		}
	}
	if req.Reason == "" {
		req.Reason = c.Query("reason")
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	sessions, err := h.service.CancelSeries(ctx, actor, c.Params("groupId"), strings.TrimSpace(req.Reason))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"sessions": sessions, "count": len(sessions)})
}

func (h *SessionHandler) UpdateNotes(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	sessionID, err := parseSessionID(c)
	if err != nil {
		return invalidSessionID(c)
	}

	var req notesRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	session, err := h.service.UpdateNotes(ctx, actor, sessionID, req.Notes)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) CancelWarning(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	sessionID, err := parseSessionID(c)
	if err != nil {
		return invalidSessionID(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	notice, err := h.service.CancelWarning(ctx, actor, sessionID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"warning": notice})
}

func (h *SessionHandler) RecordAttendance(c *fiber.Ctx) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	sessionID, err := parseSessionID(c)
	if err != nil {
		return invalidSessionID(c)
	}

	var input services.AttendanceInput
	if err := c.BodyParser(&input); err != nil {
		return invalidBody(c)
	}
	if strings.TrimSpace(input.Status) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "attendance_status is required",
			"code":  apperrors.CodeValidation,
		})
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	session, err := h.service.RecordAttendance(ctx, actor, sessionID, input)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}
